// Package passwordless implements magic-link and one-time-code
// authentication: no credential is ever stored, only a short-lived
// hashed secret bound to an identifier. Secrets are hashed on write and
// consumed single-use on read, against the Data-Access Port's
// magic_links and verification_codes tables so the lifecycle survives a
// process restart instead of living only in a cache.
package passwordless

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

const (
	TableMagicLinks       = "magic_links"
	TableVerificationCodes = "verification_codes"
)

type Config struct {
	MagicLinkTTL time.Duration `validate:"required,min=1m"`
	CodeTTL      time.Duration `validate:"required,min=1m"`
	MaxAttempts  int           `validate:"required,min=1"`
}

func New(cfg Config, notifier notify.Notifier) *engine.Plugin {
	p := &plugin{cfg: cfg, notifier: notifier}
	return &engine.Plugin{
		Name:       "passwordless",
		Config:     cfg,
		Initialize: p.initialize,
		GetProfile: func(_ engine.ExecContext, subjectID string) (map[string]string, error) {
			return map[string]string{"subject_id": subjectID}, nil
		},
		Steps: []engine.Step{
			{Name: "send-magic-link", Run: p.sendMagicLink},
			{Name: "verify-magic-link", Run: p.verifyMagicLink},
			{Name: "send-code", Run: p.sendCode},
			{Name: "verify-code", Run: p.verifyCode},
		},
	}
}

type plugin struct {
	cfg      Config
	notifier notify.Notifier
}

func (p *plugin) initialize(e *engine.Engine) error {
	return e.RegisterCleanupTask("passwordless", "expire-artifacts", time.Hour, nil, p.cleanupExpired)
}

func hashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// sendMagicLink only sends a link for an identifier that already belongs
// to a known identity; it does not implicitly register unknown
// identifiers. A miss here returns the same generic success response a
// hit does, without ever creating a subject.
func (p *plugin) sendMagicLink(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	identifier, _ := input["identifier"].(string)
	provider, _ := input["provider"].(string)
	if identifier == "" || provider == "" {
		return engine.Output{}, domain.ErrMissingField("identifier/provider")
	}
	if !e.NotifyLimiter().Allow() {
		return engine.Output{}, domain.ErrRateLimited("send-magic-link")
	}
	identifier = common.NormalizeIdentifier(identifier)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), provider, identifier)
	if err != nil {
		return engine.Output{}, err
	}
	if ok {
		tok, err := token.NewOpaque(token.MinEntropyBytes)
		if err != nil {
			return engine.Output{}, err
		}
		_, err = e.DB().Create(ctx, TableMagicLinks, store.Record{
			"id":          uuid.NewString(),
			"subject_id":  identity.SubjectID,
			"token_hash":  hashToken(tok),
			"identifier":  identifier,
			"expires_at":  time.Now().Add(p.cfg.MagicLinkTTL),
			"created_at":  time.Now(),
		})
		if err != nil {
			return engine.Output{}, err
		}
		_ = p.notifier.SendMagicLink(ctx, notify.MagicLinkEvent{Identifier: identifier, Provider: provider, Token: tok})
	}

	return engine.Output{Success: true, Status: "magic_link_sent"}, nil
}

func (p *plugin) verifyMagicLink(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	if tok == "" {
		return engine.Output{}, domain.ErrMissingField("token")
	}

	rec, ok, err := e.DB().FindFirst(ctx, TableMagicLinks, store.Query{
		Where: store.Eq("token_hash", hashToken(tok)),
	})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrTokenInvalid()
	}
	if usedAt, ok := rec["used_at"].(time.Time); ok && !usedAt.IsZero() {
		return engine.Output{}, domain.ErrTokenInvalid()
	}
	expiresAt, _ := rec["expires_at"].(time.Time)
	if time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}

	linkID, _ := rec["id"].(string)
	if _, err := e.DB().UpdateMany(ctx, TableMagicLinks, store.Query{Where: store.Eq("id", linkID)}, store.Record{
		"used_at": time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}

	subjectID, _ := rec["subject_id"].(string)
	sess, err := e.CreateSessionFor(ctx, "passwordless", subjectID)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "authenticated", Token: sess.TokenOrHash, Subject: &domain.Subject{ID: subjectID}}, nil
}

func (p *plugin) sendCode(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	destination, _ := input["destination"].(string)
	destinationType, _ := input["destination_type"].(string)
	purpose, _ := input["purpose"].(string)
	if destination == "" || destinationType == "" {
		return engine.Output{}, domain.ErrMissingField("destination/destination_type")
	}
	if purpose == "" {
		purpose = "login"
	}
	if !e.NotifyLimiter().Allow() {
		return engine.Output{}, domain.ErrRateLimited("send-code")
	}
	destination = common.NormalizeIdentifier(destination)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), destinationType, destination)
	if err != nil {
		return engine.Output{}, err
	}

	subjectID := ""
	if ok {
		subjectID = identity.SubjectID
		code, err := token.NewNumericCode(6)
		if err != nil {
			return engine.Output{}, err
		}
		hash, err := e.Hasher().Hash(code)
		if err != nil {
			return engine.Output{}, domain.ErrHashFailed(err)
		}
		_, err = e.DB().Create(ctx, TableVerificationCodes, store.Record{
			"id":               uuid.NewString(),
			"subject_id":       subjectID,
			"code_hash":        hash,
			"destination":      destination,
			"destination_type": destinationType,
			"purpose":          purpose,
			"expires_at":       time.Now().Add(p.cfg.CodeTTL),
			"attempts":         0,
			"max_attempts":     p.cfg.MaxAttempts,
			"created_at":       time.Now(),
		})
		if err != nil {
			return engine.Output{}, err
		}
		_ = p.notifier.SendCode(ctx, notify.CodeEvent{Identifier: destination, Provider: destinationType, Code: code, Purpose: purpose})
	}

	return engine.Output{Success: true, Status: "code_sent"}, nil
}

func (p *plugin) verifyCode(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	destination, _ := input["destination"].(string)
	code, _ := input["code"].(string)
	if destination == "" || code == "" {
		return engine.Output{}, domain.ErrMissingField("destination/code")
	}
	destination = common.NormalizeIdentifier(destination)

	rec, ok, err := e.DB().FindFirst(ctx, TableVerificationCodes, store.Query{
		Where: store.And{
			store.Eq("destination", destination),
			store.Eq("used_at", nil),
		},
		OrderBy: []store.OrderTerm{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	expiresAt, _ := rec["expires_at"].(time.Time)
	if time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}

	attempts, _ := rec["attempts"].(int)
	maxAttempts, _ := rec["max_attempts"].(int)
	if maxAttempts > 0 && attempts >= maxAttempts {
		return engine.Output{}, domain.ErrMaxAttemptsExceeded()
	}

	codeID, _ := rec["id"].(string)
	hash, _ := rec["code_hash"].(string)
	if err := e.Hasher().Compare(hash, code); err != nil {
		_, _ = e.DB().UpdateMany(ctx, TableVerificationCodes, store.Query{Where: store.Eq("id", codeID)}, store.Record{
			"attempts": attempts + 1,
		})
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	if _, err := e.DB().UpdateMany(ctx, TableVerificationCodes, store.Query{Where: store.Eq("id", codeID)}, store.Record{
		"used_at": time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}

	subjectID, _ := rec["subject_id"].(string)
	sess, err := e.CreateSessionFor(ctx, "passwordless", subjectID)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "authenticated", Token: sess.TokenOrHash, Subject: &domain.Subject{ID: subjectID}}, nil
}

func (p *plugin) cleanupExpired(ctx context.Context, db store.Port, _ map[string]any) (cleanup.Result, error) {
	now := time.Now()
	n1, err := db.DeleteMany(ctx, TableMagicLinks, store.Query{Where: store.Lt("expires_at", now)})
	if err != nil {
		return cleanup.Result{}, err
	}
	n2, err := db.DeleteMany(ctx, TableVerificationCodes, store.Query{Where: store.Lt("expires_at", now)})
	if err != nil {
		return cleanup.Result{Cleaned: n1}, err
	}
	return cleanup.Result{Cleaned: n1 + n2}, nil
}
