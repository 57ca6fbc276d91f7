package engine

import (
	"context"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nocturneauth/authengine/internal/domain"
)

// Input is a step invocation's parameters, JSON-shaped so it can be
// validated against a step's declared InputSchema.
type Input map[string]any

// Output is the envelope every step returns, per the fixed shape plugin
// callers depend on regardless of which plugin or step produced it.
type Output struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Status  string            `json:"status,omitempty"`
	Token   string            `json:"token,omitempty"`
	Subject *domain.Subject   `json:"subject,omitempty"`
	Error   *domain.Error     `json:"error,omitempty"`
	Others  map[string]any    `json:"others,omitempty"`
}

func ok(status, message string) Output {
	return Output{Success: true, Status: status, Message: message}
}

func fail(err error) Output {
	var derr *domain.Error
	if de, isDomain := err.(*domain.Error); isDomain {
		derr = de
	} else {
		derr = domain.ErrInternal(err)
	}
	return Output{Success: false, Status: string(derr.Kind), Message: derr.Message, Error: derr}
}

// Step is one named unit of plugin behavior (e.g. emailpassword's "login").
// Run does the actual work; Before/After are optional hooks a plugin can
// use for cross-cutting concerns local to that one step.
type Step struct {
	Name         string
	InputSchema  *gojsonschema.Schema
	OutputSchema *gojsonschema.Schema
	Before       func(ctx context.Context, e *Engine, input Input) error
	Run          func(ctx context.Context, e *Engine, input Input) (Output, error)
	After        func(ctx context.Context, e *Engine, output *Output) error
}

func (s Step) validateInput(input Input) error {
	if s.InputSchema == nil {
		return nil
	}
	return validateAgainst(s.InputSchema, input)
}

func (s Step) validateOutput(output Output) error {
	if s.OutputSchema == nil {
		return nil
	}
	return validateAgainst(s.OutputSchema, output)
}

func validateAgainst(schema *gojsonschema.Schema, doc any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return domain.ErrInternal(err)
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	return domain.ErrInvalidField(first.Field(), first.Description())
}
