// Package engine is the Plugin Runtime: the facade plugin steps execute
// through to reach the Data-Access Port, the Session Service and the
// Cleanup Scheduler. It is a single composition root that hands every
// plugin its dependencies, built around a registry of independently
// pluggable authentication methods rather than a fixed set of services.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nocturneauth/authengine/internal/audit"
	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/domain"
	appCtx "github.com/nocturneauth/authengine/internal/pkg/context"
	"github.com/nocturneauth/authengine/internal/ratelimit"
	"github.com/nocturneauth/authengine/internal/security"
	"github.com/nocturneauth/authengine/internal/session"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

// Production gates whether step output gets validated against its
// OutputSchema on every call — an expense only worth paying outside
// production.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Engine is the single runtime object a host process builds once and
// hands to every transport-level caller (HTTP handler, RPC server, test
// harness, ...). It owns no transport concerns itself.
type Engine struct {
	env Environment

	db       store.Port
	hasher   *security.Hasher
	breach   security.BreachChecker
	jwt      *token.JWTCodec
	sessions *session.Service
	cleanup  *cleanup.Scheduler
	audit    *audit.Logger
	log      zerolog.Logger
	metrics  *Metrics
	notify   *ratelimit.Limiter

	plugins map[string]*Plugin
}

// Options bundles the Engine's constructor dependencies. DB is required.
// New defaults Env to EnvProduction, Breach to NoopBreachChecker and
// NotifyLimiter to ratelimit.New(20, 40); a nil Registerer leaves the
// metrics unregistered and a nil Audit skips the per-step audit record.
// Hasher, JWT, Sessions and Cleanup have no fallback.
type Options struct {
	Env           Environment
	DB            store.Port
	Hasher        *security.Hasher
	Breach        security.BreachChecker
	JWT           *token.JWTCodec
	Sessions      *session.Service
	Cleanup       *cleanup.Scheduler
	Audit         *audit.Logger
	Log           zerolog.Logger
	Registerer    prometheus.Registerer
	NotifyLimiter *ratelimit.Limiter
}

// New builds an Engine and validates every plugin's configuration before
// returning, aggregating violations across all plugins into one error
// rather than failing on the first bad plugin found.
func New(opts Options, plugins ...*Plugin) (*Engine, error) {
	if opts.DB == nil {
		return nil, domain.ErrConfig("engine requires a Data-Access Port")
	}
	if opts.Breach == nil {
		opts.Breach = security.NoopBreachChecker{}
	}
	if opts.Env == "" {
		opts.Env = EnvProduction
	}
	if opts.NotifyLimiter == nil {
		opts.NotifyLimiter = ratelimit.New(20, 40)
	}

	e := &Engine{
		env:      opts.Env,
		db:       opts.DB,
		hasher:   opts.Hasher,
		breach:   opts.Breach,
		jwt:      opts.JWT,
		sessions: opts.Sessions,
		cleanup:  opts.Cleanup,
		audit:    opts.Audit,
		log:      opts.Log,
		metrics:  NewMetrics(opts.Registerer),
		notify:   opts.NotifyLimiter,
		plugins:  make(map[string]*Plugin, len(plugins)),
	}

	var allErrs []*domain.Error
	for _, p := range plugins {
		if _, dup := e.plugins[p.Name]; dup {
			allErrs = append(allErrs, domain.ErrConfig(fmt.Sprintf("duplicate plugin name %q", p.Name)))
			continue
		}
		if errs := validateConfig(p.Name, p.Config); len(errs) > 0 {
			allErrs = append(allErrs, errs...)
			continue
		}
		p.index()
		e.plugins[p.Name] = p
	}
	if len(allErrs) > 0 {
		return nil, &domain.ConfigErrors{Plugin: "*", Errors: allErrs}
	}

	for _, p := range e.plugins {
		if p.Initialize == nil {
			continue
		}
		if err := p.Initialize(e); err != nil {
			return nil, domain.ErrConfig(fmt.Sprintf("plugin %q initialize: %v", p.Name, err))
		}
		if p.GetProfile != nil && e.sessions != nil {
			plugin := p
			e.sessions.RegisterResolver(plugin.Name, func(ctx context.Context, subjectID string) (map[string]string, error) {
				return plugin.GetProfile(ExecContext{Plugin: plugin.Name}, subjectID)
			})
		}
	}

	return e, nil
}

// DB exposes the Data-Access Port to plugin step bodies.
func (e *Engine) DB() store.Port { return e.db }

// Hasher exposes the Credential Hasher to plugin step bodies.
func (e *Engine) Hasher() *security.Hasher { return e.hasher }

// BreachChecker exposes the password-safety lookup to plugin step bodies.
func (e *Engine) BreachChecker() security.BreachChecker { return e.breach }

// JWT exposes the Token Codec to plugin step bodies.
func (e *Engine) JWT() *token.JWTCodec { return e.jwt }

// Sessions exposes the Session Service to plugin step bodies.
func (e *Engine) Sessions() *session.Service { return e.sessions }

// CleanupScheduler exposes the Cleanup Scheduler so plugins can register
// maintenance tasks during Initialize.
func (e *Engine) CleanupScheduler() *cleanup.Scheduler { return e.cleanup }

// Audit exposes the step-centric audit logger to plugin step bodies.
func (e *Engine) Audit() *audit.Logger { return e.audit }

// NotifyLimiter returns the process-wide token bucket guarding outbound
// notification sends (magic links, codes, reset emails) across every
// identifier, independent of each plugin's own per-identifier attempt
// counters.
func (e *Engine) NotifyLimiter() *ratelimit.Limiter { return e.notify }

// Metrics exposes the engine's Prometheus instrumentation so a host
// transport can scrape it; the engine never registers an HTTP endpoint
// for it itself.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// IsProduction reports whether the engine runs in production, where
// output-schema validation is skipped.
func (e *Engine) IsProduction() bool { return e.env == EnvProduction }

// Plugin looks up a registered plugin by name.
func (e *Engine) Plugin(name string) (*Plugin, bool) {
	p, ok := e.plugins[name]
	return p, ok
}

// Plugins lists every registered plugin name.
func (e *Engine) Plugins() []string {
	out := make([]string, 0, len(e.plugins))
	for name := range e.plugins {
		out = append(out, name)
	}
	return out
}

// ExecuteStep runs pluginName/stepName through the full pipeline: lookup
// plugin, lookup step, before hook, validate input, run, validate output
// (non-production only), after hook. Each stage's error short-circuits
// the rest and is mapped into the step output envelope rather than
// returned as a bare Go error, so callers never have to type-switch.
func (e *Engine) ExecuteStep(ctx context.Context, pluginName, stepName string, input Input) Output {
	start := time.Now()
	if appCtx.GetRequestID(ctx) == "" {
		ctx = appCtx.WithRequestID(ctx, uuid.NewString())
	}
	plugin, ok := e.Plugin(pluginName)
	if !ok {
		return e.finish(pluginName, stepName, start, fail(domain.ErrUnknownPlugin(pluginName)))
	}
	step, ok := plugin.step(stepName)
	if !ok {
		return e.finish(pluginName, stepName, start, fail(domain.ErrUnknownStep(pluginName, stepName)))
	}

	execCtx := ExecContext{Plugin: pluginName, Step: stepName, Input: input}

	if plugin.RootHooks != nil && plugin.RootHooks.Before != nil {
		if err := plugin.RootHooks.Before(execCtx); err != nil {
			return e.finish(pluginName, stepName, start, fail(err))
		}
	}
	if step.Before != nil {
		if err := step.Before(ctx, e, input); err != nil {
			return e.finish(pluginName, stepName, start, fail(err))
		}
	}

	if err := step.validateInput(input); err != nil {
		return e.finish(pluginName, stepName, start, fail(err))
	}

	output, err := step.Run(ctx, e, input)
	if err != nil {
		output = fail(err)
	}
	if output.Error != nil && output.Error.Kind == domain.KindInternal {
		e.log.Error().Str("request_id", appCtx.GetRequestID(ctx)).Str("plugin", pluginName).Str("step", stepName).Err(output.Error.Cause).Msg(output.Error.Message)
	}

	if !e.IsProduction() {
		if err := step.validateOutput(output); err != nil {
			e.log.Warn().Str("plugin", pluginName).Str("step", stepName).Err(err).Msg("step output failed schema validation")
		}
	}

	if step.After != nil {
		if err := step.After(ctx, e, &output); err != nil {
			output = fail(err)
		}
	}
	if plugin.RootHooks != nil && plugin.RootHooks.After != nil {
		if err := plugin.RootHooks.After(execCtx, &output); err != nil {
			output = fail(err)
		}
	}

	return e.finish(pluginName, stepName, start, output)
}

func (e *Engine) finish(pluginName, stepName string, start time.Time, output Output) Output {
	if e.metrics != nil {
		result := "success"
		if !output.Success {
			result = "failure"
		}
		e.metrics.StepExecutions.WithLabelValues(pluginName, stepName, result).Inc()
		e.metrics.StepDuration.WithLabelValues(pluginName, stepName).Observe(time.Since(start).Seconds())
	}
	if e.audit != nil {
		code := ""
		if output.Error != nil {
			code = output.Error.Code
		}
		result := "success"
		if !output.Success {
			result = "failure"
		}
		e.audit.Record(context.Background(), audit.Event{
			Plugin: pluginName,
			Step:   stepName,
			Result: result,
			Code:   code,
		})
	}
	return output
}

// CreateSessionFor is a thin pass-through to the Session Service, kept on
// the Engine so plugin steps depend only on the facade.
func (e *Engine) CreateSessionFor(ctx context.Context, subjectKind, subjectID string) (domain.Session, error) {
	if e.sessions == nil {
		return domain.Session{}, domain.ErrConfig("engine has no session service configured")
	}
	return e.sessions.CreateSessionFor(ctx, subjectKind, subjectID)
}

// CheckSession is a thin pass-through to the Session Service.
func (e *Engine) CheckSession(ctx context.Context, tok string) (domain.Session, string, error) {
	if e.sessions == nil {
		return domain.Session{}, "", domain.ErrConfig("engine has no session service configured")
	}
	return e.sessions.CheckSession(ctx, tok)
}

// DestroySession is a thin pass-through to the Session Service.
func (e *Engine) DestroySession(ctx context.Context, tok string, revokeAll bool) error {
	if e.sessions == nil {
		return domain.ErrConfig("engine has no session service configured")
	}
	return e.sessions.DestroySession(ctx, tok, revokeAll)
}

// RegisterCleanupTask is a thin pass-through plugins call from Initialize.
func (e *Engine) RegisterCleanupTask(plugin, name string, interval time.Duration, config map[string]any, runner cleanup.Runner) error {
	if e.cleanup == nil {
		return nil
	}
	return e.cleanup.RegisterTask(plugin, name, interval, config, runner)
}
