// Package phonepassword mirrors emailpassword for phone-number identities
// delivered a verification/reset code over SMS instead of email. It stays
// a distinct plugin rather than a parameterized "identity+password"
// plugin because email and phone are independently configurable
// authentication methods. None of its steps consults the engine's
// NotifyLimiter.
package phonepassword

import (
	"context"
	"strings"
	"time"

	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

const Provider = "phone"

type Config struct {
	VerificationCodeTTL      time.Duration `validate:"required,min=1m"`
	PasswordResetCodeTTL     time.Duration `validate:"required,min=1m"`
	RequirePhoneVerification bool
	LoginOnRegister          bool
}

func New(cfg Config, notifier notify.Notifier) *engine.Plugin {
	p := &plugin{cfg: cfg, notifier: notifier}
	return &engine.Plugin{
		Name:       "phonepassword",
		Config:     cfg,
		Initialize: p.initialize,
		GetProfile: func(_ engine.ExecContext, subjectID string) (map[string]string, error) {
			return map[string]string{"subject_id": subjectID}, nil
		},
		Steps: []engine.Step{
			{Name: "register", Run: p.register},
			{Name: "login", Run: p.login},
			{Name: "verify-phone", Run: p.verifyPhone},
			{Name: "send-reset-password", Run: p.sendResetPassword},
			{Name: "reset-password", Run: p.resetPassword},
		},
	}
}

type plugin struct {
	cfg      Config
	notifier notify.Notifier
}

func (p *plugin) initialize(e *engine.Engine) error {
	return e.RegisterCleanupTask("phonepassword", "expire-codes", time.Hour, nil, p.cleanupExpiredCodes)
}

func normalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

func (p *plugin) register(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	phone, _ := input["phone"].(string)
	password, _ := input["password"].(string)
	if phone == "" {
		return engine.Output{}, domain.ErrMissingField("phone")
	}
	if password == "" {
		return engine.Output{}, domain.ErrMissingField("password")
	}
	phone = normalizePhone(phone)

	hash, err := e.Hasher().Hash(password)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}

	var subjectID, identityID string
	err = e.DB().WithTx(ctx, func(ctx context.Context, tx store.Port) error {
		var terr error
		subjectID, identityID, terr = common.CreateSubjectWithIdentity(ctx, tx, Provider, phone)
		if terr != nil {
			return terr
		}
		return common.SetCredential(ctx, tx, subjectID, Provider, hash)
	})
	if err != nil {
		return engine.Output{}, err
	}

	code, err := token.NewNumericCode(6)
	if err != nil {
		return engine.Output{}, err
	}
	codeHash, err := e.Hasher().Hash(code)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}
	if err := setMetadata(ctx, e, identityID, "verification_hash", codeHash, "verification_expires", time.Now().Add(p.cfg.VerificationCodeTTL)); err != nil {
		return engine.Output{}, err
	}
	_ = p.notifier.SendCode(ctx, notify.CodeEvent{Identifier: phone, Provider: Provider, Code: code, Purpose: "verify"})

	out := engine.Output{Success: true, Status: "registered", Subject: &domain.Subject{ID: subjectID}}
	if p.cfg.LoginOnRegister {
		sess, err := e.CreateSessionFor(ctx, "phonepassword", subjectID)
		if err != nil {
			return engine.Output{}, err
		}
		out.Token = sess.TokenOrHash
	}
	return out, nil
}

func (p *plugin) login(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	phone, _ := input["phone"].(string)
	password, _ := input["password"].(string)
	if phone == "" || password == "" {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}
	phone = normalizePhone(phone)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, phone)
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

	if p.cfg.RequirePhoneVerification && !identity.Verified {
		code, err := token.NewNumericCode(6)
		if err != nil {
			return engine.Output{}, err
		}
		codeHash, err := e.Hasher().Hash(code)
		if err != nil {
			return engine.Output{}, domain.ErrHashFailed(err)
		}
		if err := setMetadata(ctx, e, identity.ID, "verification_hash", codeHash, "verification_expires", time.Now().Add(p.cfg.VerificationCodeTTL)); err != nil {
			return engine.Output{}, err
		}
		_ = p.notifier.SendCode(ctx, notify.CodeEvent{Identifier: phone, Provider: Provider, Code: code, Purpose: "verify"})
		return engine.Output{
			Success: false,
			Status:  "verification_required",
			Message: "phone is not verified, a new code has been sent",
		}, nil
	}

	sess, err := e.CreateSessionFor(ctx, "phonepassword", identity.SubjectID)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "authenticated", Token: sess.TokenOrHash, Subject: &domain.Subject{ID: identity.SubjectID}}, nil
}

func (p *plugin) verifyPhone(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	phone, _ := input["phone"].(string)
	code, _ := input["code"].(string)
	if phone == "" || code == "" {
		return engine.Output{}, domain.ErrMissingField("phone/code")
	}
	phone = normalizePhone(phone)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, phone)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	rec, ok, err := e.DB().FindFirst(ctx, common.TableProviderMetadata, store.Query{Where: store.Eq("identity_id", identity.ID)})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	hash, _ := rec["verification_hash"].(string)
	expiresAt, _ := rec["verification_expires"].(time.Time)
	if hash == "" || time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}
	if err := e.Hasher().Compare(hash, code); err != nil {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	if err := common.MarkIdentityVerified(ctx, e.DB(), identity.ID); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "verified"}, nil
}

func (p *plugin) sendResetPassword(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	phone, _ := input["phone"].(string)
	if phone == "" {
		return engine.Output{}, domain.ErrMissingField("phone")
	}
	phone = normalizePhone(phone)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, phone)
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
		if err := setMetadata(ctx, e, identity.ID, "reset_hash", hash, "reset_expires", time.Now().Add(p.cfg.PasswordResetCodeTTL)); err != nil {
			return engine.Output{}, err
		}
		_ = p.notifier.SendCode(ctx, notify.CodeEvent{Identifier: phone, Provider: Provider, Code: code, Purpose: "password_reset"})
	}
	return engine.Output{Success: true, Status: "reset_code_sent"}, nil
}

func (p *plugin) resetPassword(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	phone, _ := input["phone"].(string)
	code, _ := input["code"].(string)
	newPassword, _ := input["new_password"].(string)
	if phone == "" || code == "" || newPassword == "" {
		return engine.Output{}, domain.ErrMissingField("phone/code/new_password")
	}
	phone = normalizePhone(phone)

	identity, ok, err := common.FindIdentity(ctx, e.DB(), Provider, phone)
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	rec, ok, err := e.DB().FindFirst(ctx, common.TableProviderMetadata, store.Query{Where: store.Eq("identity_id", identity.ID)})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrCodeInvalid()
	}
	hash, _ := rec["reset_hash"].(string)
	expiresAt, _ := rec["reset_expires"].(time.Time)
	if hash == "" || time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}
	if err := e.Hasher().Compare(hash, code); err != nil {
		return engine.Output{}, domain.ErrCodeInvalid()
	}

	newHash, err := e.Hasher().Hash(newPassword)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}
	if err := common.SetCredential(ctx, e.DB(), identity.SubjectID, Provider, newHash); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "password_reset"}, nil
}

func setMetadata(ctx context.Context, e *engine.Engine, identityID, hashField, hashValue, expiryField string, expiry time.Time) error {
	_, err := e.DB().Upsert(ctx, common.TableProviderMetadata, store.UpsertSpec{
		Where:  store.Eq("identity_id", identityID),
		Create: store.Record{"identity_id": identityID, hashField: hashValue, expiryField: expiry},
		Update: store.Record{hashField: hashValue, expiryField: expiry},
	})
	return err
}

func (p *plugin) cleanupExpiredCodes(ctx context.Context, db store.Port, _ map[string]any) (cleanup.Result, error) {
	now := time.Now()
	expired, err := db.FindMany(ctx, common.TableProviderMetadata, store.Query{
		Where: store.Or{
			store.And{store.Neq("verification_hash", ""), store.Lt("verification_expires", now)},
			store.And{store.Neq("reset_hash", ""), store.Lt("reset_expires", now)},
		},
	})
	if err != nil {
		return cleanup.Result{}, err
	}
	cleaned := 0
	for _, rec := range expired {
		id, _ := rec["identity_id"].(string)
		if _, err := db.UpdateMany(ctx, common.TableProviderMetadata, store.Query{Where: store.Eq("identity_id", id)}, store.Record{
			"verification_hash": "", "verification_expires": nil, "reset_hash": "", "reset_expires": nil,
		}); err == nil {
			cleaned++
		}
	}
	return cleanup.Result{Cleaned: cleaned}, nil
}
