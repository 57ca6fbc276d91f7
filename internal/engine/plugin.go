package engine

import (
	"github.com/go-playground/validator/v10"

	"github.com/nocturneauth/authengine/internal/domain"
)

// RootHooks run before and after every step of the plugin that sets them.
// The engine's own audit record and metrics are written in finish, not
// through these hooks.
type RootHooks struct {
	Before func(ctx ExecContext) error
	After  func(ctx ExecContext, output *Output) error
}

// ExecContext describes one in-flight step execution to root hooks.
type ExecContext struct {
	Plugin string
	Step   string
	Input  Input
}

// Plugin bundles one authentication method's configuration, lifecycle hook
// and step library (register, login, verify-email, ...) under one named,
// independently configurable unit instead of one fixed wiring.
type Plugin struct {
	Name string
	// Config is validated with go-playground/validator struct tags at
	// engine construction, before any step can run.
	Config     any
	Initialize func(e *Engine) error
	Steps      []Step
	// GetProfile returns the profile fields for a subject this plugin
	// manages, used by the Session Service's resolver registry.
	GetProfile func(ctx ExecContext, subjectID string) (map[string]string, error)
	RootHooks  *RootHooks

	stepsByName map[string]Step
}

func (p *Plugin) index() {
	p.stepsByName = make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		p.stepsByName[s.Name] = s
	}
}

func (p *Plugin) step(name string) (Step, bool) {
	s, ok := p.stepsByName[name]
	return s, ok
}

var configValidator = validator.New()

// validateConfig runs struct-tag validation over p.Config, returning every
// violation rather than stopping at the first, so engine construction can
// report a complete picture of what's misconfigured across every plugin
// at once.
func validateConfig(pluginName string, cfg any) []*domain.Error {
	if cfg == nil {
		return nil
	}
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []*domain.Error{domain.ErrConfig(err.Error())}
	}
	out := make([]*domain.Error, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, domain.ErrInvalidField(fe.Field(), fe.Tag()))
	}
	_ = pluginName
	return out
}
