// Package emailpassword implements the email+password authentication
// method's step library: register, login, verify-email,
// send-reset-password, reset-password, change-password and change-email.
// It drives the Data-Access Port's subject/identity/credential model
// rather than a fixed users table, and depends on an engine-injected
// Hasher, BreachChecker and Notifier rather than a hardcoded pair.
package emailpassword

import (
	"context"
	"time"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

const Provider = "email"

// Config tunes this plugin's timing policy. Struct tags are validated by
// the engine at construction via go-playground/validator, so a
// misconfigured TTL fails fast instead of surfacing as a confusing
// runtime error the first time a code expires instantly.
type Config struct {
	VerificationCodeTTL      time.Duration `validate:"required,min=1m"`
	PasswordResetCodeTTL     time.Duration `validate:"required,min=1m"`
	RequireEmailVerification bool
	LoginOnRegister          bool
}

// New builds the emailpassword plugin bundle. notifier delivers
// verification and password-reset codes out of band.
func New(cfg Config, notifier notify.Notifier) *engine.Plugin {
	p := &plugin{cfg: cfg, notifier: notifier}
	return &engine.Plugin{
		Name:       "emailpassword",
		Config:     cfg,
		Initialize: p.initialize,
		GetProfile: p.getProfile,
		Steps: []engine.Step{
			{Name: "register", Run: p.register},
			{Name: "login", Run: p.login},
			{Name: "verify-email", Run: p.verifyEmail},
			{Name: "send-reset-password", Run: p.sendResetPassword},
			{Name: "reset-password", Run: p.resetPassword},
			{Name: "change-password", Run: p.changePassword},
			{Name: "change-email", Run: p.changeEmail},
		},
	}
}

type plugin struct {
	cfg      Config
	notifier notify.Notifier
}

func (p *plugin) initialize(e *engine.Engine) error {
	return e.RegisterCleanupTask("emailpassword", "expire-codes", time.Hour, nil, p.cleanupExpiredCodes)
}

func (p *plugin) getProfile(_ engine.ExecContext, subjectID string) (map[string]string, error) {
	return map[string]string{"subject_id": subjectID}, nil
}

// register creates a new subject bound to an email identity with a
// password credential and, when RequireEmailVerification is set, sends a
// verification code. Anti-enumeration:
// a duplicate email is reported as a generic conflict, never "this email
// is already registered to someone else's account" with identifying
// detail.
func (p *plugin) register(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	email, _ := input["email"].(string)
	password, _ := input["password"].(string)
	if email == "" {
		return engine.Output{}, domain.ErrMissingField("email")
	}
	if password == "" {
		return engine.Output{}, domain.ErrMissingField("password")
	}
	email = common.NormalizeIdentifier(email)

	safe, _ := e.BreachChecker().Check(ctx, password)
	if !safe {
		return engine.Output{}, domain.ErrPwnedPassword()
	}

	hash, err := e.Hasher().Hash(password)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}

	createdAt := time.Now()
	var subjectID, identityID string
	err = e.DB().WithTx(ctx, func(ctx context.Context, tx store.Port) error {
		var terr error
		subjectID, identityID, terr = common.CreateSubjectWithIdentity(ctx, tx, Provider, email)
		if terr != nil {
			return terr
		}
		return common.SetCredential(ctx, tx, subjectID, Provider, hash)
	})
	if err != nil {
		return engine.Output{}, err
	}

	if p.cfg.RequireEmailVerification {
		if err := p.sendVerificationCode(ctx, e, subjectID, identityID, email); err != nil {
			return engine.Output{}, err
		}
	}

	out := engine.Output{
		Success: true,
		Status:  "registered",
		Subject: &domain.Subject{ID: subjectID, CreatedAt: createdAt},
	}
	if p.cfg.LoginOnRegister {
		sess, err := e.CreateSessionFor(ctx, "emailpassword", subjectID)
		if err != nil {
			return engine.Output{}, err
		}
		out.Token = sess.TokenOrHash
	}
	return out, nil
}

// login authenticates an email+password pair. Every failure path —
// unknown identifier, wrong password — returns the same InvalidCredential
// shape so a caller cannot distinguish "no such account" from "wrong
// password".
func (p *plugin) login(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	email, _ := input["email"].(string)
	password, _ := input["password"].(string)
	if email == "" || password == "" {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}
	email = common.NormalizeIdentifier(email)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, email)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}

	hash, ok, err := common.GetCredentialHash(ctx, e.DB(), identity.SubjectID, Provider)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}
	if err := e.Hasher().Compare(hash, password); err != nil {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}

	if p.cfg.RequireEmailVerification && !identity.Verified {
		if err := p.sendVerificationCode(ctx, e, identity.SubjectID, identity.ID, email); err != nil {
			return engine.Output{}, err
		}
		return engine.Output{
			Success: false,
			Status:  "verification_required",
			Message: "email is not verified, a new code has been sent",
		}, nil
	}

	sess, err := e.CreateSessionFor(ctx, "emailpassword", identity.SubjectID)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{
		Success: true,
		Status:  "authenticated",
		Token:   sess.TokenOrHash,
		Subject: &domain.Subject{ID: identity.SubjectID},
	}, nil
}

func (p *plugin) verifyEmail(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	email, _ := input["email"].(string)
	code, _ := input["code"].(string)
	if email == "" || code == "" {
		return engine.Output{}, domain.ErrMissingField("email/code")
	}
	email = common.NormalizeIdentifier(email)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, email)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	rec, ok, err := e.DB().FindFirst(ctx, common.TableProviderMetadata, queryByIdentityID(identity.ID))
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	verificationHash, _ := rec["verification_hash"].(string)
	expiresAt, _ := rec["verification_expires"].(time.Time)
	if verificationHash == "" || time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}
	if err := e.Hasher().Compare(verificationHash, code); err != nil {
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	if err := common.MarkIdentityVerified(ctx, e.DB(), identity.ID); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "verified"}, nil
}

func (p *plugin) sendResetPassword(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	email, _ := input["email"].(string)
	if email == "" {
		return engine.Output{}, domain.ErrMissingField("email")
	}
	if !e.NotifyLimiter().Allow() {
		return engine.Output{}, domain.ErrRateLimited("send-reset-password")
	}
	email = common.NormalizeIdentifier(email)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, email)
	if err != nil {
		return engine.Output{}, err
	}
	if ok {
		code, err := token.NewNumericCode(6)
		if err != nil {
			return engine.Output{}, err
		}
		hash, err := e.Hasher().Hash(code)
		if err != nil {
			return engine.Output{}, domain.ErrHashFailed(err)
		}
		if err := upsertMetadataField(ctx, e, identity.ID, "reset_hash", hash, "reset_expires", time.Now().Add(p.cfg.PasswordResetCodeTTL)); err != nil {
			return engine.Output{}, err
		}
		if err := p.notifier.SendCode(ctx, notify.CodeEvent{
			Identifier: email, Provider: Provider, Code: code, Purpose: "password_reset",
		}); err != nil {
			e.Audit().Record(ctx, auditFailedNotify(email, err))
		}
	}

	// Anti-enumeration: identical response whether or not the email exists.
	return engine.Output{Success: true, Status: "reset_code_sent"}, nil
}

func (p *plugin) resetPassword(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	email, _ := input["email"].(string)
	code, _ := input["code"].(string)
	newPassword, _ := input["new_password"].(string)
	if email == "" || code == "" || newPassword == "" {
		return engine.Output{}, domain.ErrMissingField("email/code/new_password")
	}
	email = common.NormalizeIdentifier(email)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, email)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	rec, ok, err := e.DB().FindFirst(ctx, common.TableProviderMetadata, queryByIdentityID(identity.ID))
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	resetHash, _ := rec["reset_hash"].(string)
	expiresAt, _ := rec["reset_expires"].(time.Time)
	if resetHash == "" || time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}
	if err := e.Hasher().Compare(resetHash, code); err != nil {
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	hash, err := e.Hasher().Hash(newPassword)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}
	if err := common.SetCredential(ctx, e.DB(), identity.SubjectID, Provider, hash); err != nil {
		return engine.Output{}, err
	}
	if err := clearMetadataField(ctx, e, identity.ID, "reset_hash", "reset_expires"); err != nil {
		return engine.Output{}, err
	}

	return engine.Output{Success: true, Status: "password_reset"}, nil
}

func (p *plugin) changePassword(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	subjectID, _ := input["subject_id"].(string)
	currentPassword, _ := input["current_password"].(string)
	newPassword, _ := input["new_password"].(string)
	if subjectID == "" || currentPassword == "" || newPassword == "" {
		return engine.Output{}, domain.ErrMissingField("subject_id/current_password/new_password")
	}

	hash, ok, err := common.GetCredentialHash(ctx, e.DB(), subjectID, Provider)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}
	if err := e.Hasher().Compare(hash, currentPassword); err != nil {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}

	newHash, err := e.Hasher().Hash(newPassword)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}
	if err := common.SetCredential(ctx, e.DB(), subjectID, Provider, newHash); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "password_changed"}, nil
}

func (p *plugin) changeEmail(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	subjectID, _ := input["subject_id"].(string)
	newEmail, _ := input["new_email"].(string)
	if subjectID == "" || newEmail == "" {
		return engine.Output{}, domain.ErrMissingField("subject_id/new_email")
	}
	newEmail = common.NormalizeIdentifier(newEmail)

	if _, ok, err := common.FindIdentity(ctx, e.DB(), Provider, newEmail); err != nil {
		return engine.Output{}, err
	} else if ok {
		return engine.Output{}, domain.ErrIdentityAlreadyExists()
	}

	_, err := e.DB().UpdateMany(ctx, common.TableIdentities, store.Query{
		Where: store.And{store.Eq("subject_id", subjectID), store.Eq("provider", Provider)},
	}, store.Record{
		"identifier": newEmail,
		"verified":   false,
		"updated_at": time.Now(),
	})
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "email_changed"}, nil
}
