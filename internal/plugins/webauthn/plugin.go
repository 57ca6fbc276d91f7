// Package webauthn is scaffolding only: it reserves the plugin surface
// (registration/assertion steps, credential types) that a WebAuthn
// Level 2 implementation would fill in, but performs no attestation or
// assertion verification. Every step returns not_implemented rather
// than silently accepting an unverified credential.
package webauthn

import (
	"context"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
)

// Credential is the shape a real implementation would persist per
// registered authenticator.
type Credential struct {
	ID              string
	SubjectID       string
	CredentialID    []byte
	PublicKey       []byte
	SignCount       uint32
	AttestationType string
	Transports      []string
}

type Config struct {
	RelyingPartyID   string `validate:"required"`
	RelyingPartyName string `validate:"required"`
	Origins          []string `validate:"required,min=1"`
}

func New(cfg Config) *engine.Plugin {
	return &engine.Plugin{
		Name:   "webauthn",
		Config: cfg,
		Steps: []engine.Step{
			{Name: "begin-registration", Run: notImplemented},
			{Name: "finish-registration", Run: notImplemented},
			{Name: "begin-assertion", Run: notImplemented},
			{Name: "finish-assertion", Run: notImplemented},
		},
	}
}

func notImplemented(_ context.Context, _ *engine.Engine, _ engine.Input) (engine.Output, error) {
	return engine.Output{}, domain.ErrNotImplemented()
}
