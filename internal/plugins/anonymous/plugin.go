// Package anonymous implements guest sessions: a subject with no
// identity or credential, identified only by a hashed device
// fingerprint, that can later be promoted into a permanent identity via
// convert-guest. The conversion target is a configurable allow-list of
// target plugins rather than one hardcoded destination.
package anonymous

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
)

const TableAnonymousSessions = "anonymous_sessions"

// ConversionTarget describes how convert-guest hands a guest off to
// another plugin's registration-shaped step.
type ConversionTarget struct {
	Step            string
	MapInput        func(guestSubjectID string, payload map[string]any) map[string]any
	InputValidation *gojsonschema.Schema
	Extract         func(out engine.Output) (subjectID, token string, ok bool)
}

type Config struct {
	SessionTTL               time.Duration `validate:"required,min=1m"`
	MaxGuestsPerFingerprint  int           `validate:"required,min=1"`
	MaxSessionExtensions     int           `validate:"min=0"`
	AllowedConversionPlugins []string
	ConversionTargets        map[string]ConversionTarget
}

func New(cfg Config) *engine.Plugin {
	p := &plugin{cfg: cfg}
	return &engine.Plugin{
		Name:       "anonymous",
		Config:     cfg,
		Initialize: p.initialize,
		GetProfile: func(_ engine.ExecContext, subjectID string) (map[string]string, error) {
			return map[string]string{"subject_id": subjectID, "is_guest": "true"}, nil
		},
		Steps: []engine.Step{
			{Name: "create-guest", Run: p.createGuest},
			{Name: "extend-guest", Run: p.extendGuest},
			{Name: "convert-guest", Run: p.convertGuest},
		},
	}
}

type plugin struct {
	cfg Config
}

func (p *plugin) initialize(e *engine.Engine) error {
	return e.RegisterCleanupTask("anonymous", "expire-guests", time.Hour, nil, p.cleanupExpiredGuests)
}

func fingerprintHash(userAgent string, signals map[string]any) string {
	h := sha256.New()
	h.Write([]byte(userAgent))
	for _, k := range []string{"screen", "timezone", "platform", "language"} {
		if v, ok := signals[k]; ok {
			fmt.Fprintf(h, "|%s=%v", k, v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *plugin) createGuest(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	var fp string
	if given, ok := input["fingerprint_hash"].(string); ok && given != "" {
		fp = given
	} else {
		userAgent, _ := input["user_agent"].(string)
		signals, _ := input["signals"].(map[string]any)
		fp = fingerprintHash(userAgent, signals)
	}

	n, err := e.DB().Count(ctx, TableAnonymousSessions, store.Query{
		Where: store.And{store.Eq("fingerprint_hash", fp), store.Gt("expires_at", time.Now())},
	})
	if err != nil {
		return engine.Output{}, err
	}
	if n >= p.cfg.MaxGuestsPerFingerprint {
		return engine.Output{}, domain.ErrRateLimited("guest_fingerprint")
	}

	subjectID := uuid.NewString()
	if _, err := e.DB().Create(ctx, common.TableSubjects, store.Record{
		"id": subjectID, "is_guest": true, "created_at": time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}
	if _, err := e.DB().Create(ctx, TableAnonymousSessions, store.Record{
		"id":               uuid.NewString(),
		"subject_id":       subjectID,
		"fingerprint_hash": fp,
		"expires_at":       time.Now().Add(p.cfg.SessionTTL),
		"extension_count":  0,
		"metadata":         map[string]string{},
		"created_at":       time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}

	sess, err := e.CreateSessionFor(ctx, "anonymous", subjectID)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "guest_created", Token: sess.TokenOrHash, Subject: &domain.Subject{ID: subjectID, IsGuest: true}}, nil
}

func (p *plugin) extendGuest(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	if tok == "" {
		return engine.Output{}, domain.ErrMissingField("token")
	}

	sess, newTok, err := e.CheckSession(ctx, tok)
	if err != nil {
		return engine.Output{}, err
	}
	if sess.SubjectKind != "anonymous" {
		return engine.Output{}, domain.ErrForbidden()
	}

	rec, ok, err := e.DB().FindFirst(ctx, TableAnonymousSessions, store.Query{Where: store.Eq("subject_id", sess.SubjectID)})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrSubjectNotFound()
	}
	extensions, _ := rec["extension_count"].(int)
	if extensions >= p.cfg.MaxSessionExtensions {
		return engine.Output{}, domain.ErrRateLimited("guest_extension")
	}

	id, _ := rec["id"].(string)
	if _, err := e.DB().UpdateMany(ctx, TableAnonymousSessions, store.Query{Where: store.Eq("id", id)}, store.Record{
		"expires_at":      time.Now().Add(p.cfg.SessionTTL),
		"extension_count": extensions + 1,
	}); err != nil {
		return engine.Output{}, err
	}

	rotated, err := e.Sessions().RotateSession(ctx, newTok)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "guest_extended", Token: rotated}, nil
}

func (p *plugin) convertGuest(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	targetPlugin, _ := input["target_plugin"].(string)
	payload, _ := input["payload"].(map[string]any)
	if tok == "" || targetPlugin == "" {
		return engine.Output{}, domain.ErrMissingField("token/target_plugin")
	}

	allowed := false
	for _, name := range p.cfg.AllowedConversionPlugins {
		if name == targetPlugin {
			allowed = true
			break
		}
	}
	if !allowed {
		return engine.Output{}, domain.ErrPluginNotAllowed(targetPlugin)
	}
	target, ok := p.cfg.ConversionTargets[targetPlugin]
	if !ok {
		return engine.Output{}, domain.ErrPluginNotAllowed(targetPlugin)
	}

	sess, _, err := e.CheckSession(ctx, tok)
	if err != nil {
		return engine.Output{}, err
	}
	if sess.SubjectKind != "anonymous" {
		return engine.Output{}, domain.ErrForbidden()
	}

	if target.InputValidation != nil {
		result, err := target.InputValidation.Validate(gojsonschema.NewGoLoader(payload))
		if err != nil {
			return engine.Output{}, domain.ErrInternal(err)
		}
		if !result.Valid() {
			field := "payload"
			if len(result.Errors()) > 0 {
				field = result.Errors()[0].Field()
			}
			return engine.Output{}, domain.ErrInvalidField(field, "conversion payload failed validation")
		}
	}

	mapped := payload
	if target.MapInput != nil {
		mapped = target.MapInput(sess.SubjectID, payload)
	}

	out := e.ExecuteStep(ctx, targetPlugin, target.Step, engine.Input(mapped))
	if !out.Success {
		// conversion target failed: leave the guest session untouched so
		// the caller can retry without losing guest state.
		return out, nil
	}

	var newSubjectID, newToken string
	if target.Extract != nil {
		var ok bool
		newSubjectID, newToken, ok = target.Extract(out)
		if !ok {
			return engine.Output{}, domain.ErrInternal(errors.New("conversion target extraction failed"))
		}
	} else {
		if out.Subject != nil {
			newSubjectID = out.Subject.ID
		}
		newToken = out.Token
	}
	if newSubjectID == "" {
		return engine.Output{}, domain.ErrInternal(errors.New("conversion target did not return a subject"))
	}

	if err := e.DB().WithTx(ctx, func(ctx context.Context, tx store.Port) error {
		if _, err := tx.DeleteMany(ctx, TableAnonymousSessions, store.Query{Where: store.Eq("subject_id", sess.SubjectID)}); err != nil {
			return err
		}
		_, err := tx.DeleteMany(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", sess.SubjectID)})
		return err
	}); err != nil {
		return engine.Output{}, err
	}

	if newToken == "" {
		newSess, err := e.CreateSessionFor(ctx, targetPlugin, newSubjectID)
		if err != nil {
			return engine.Output{}, err
		}
		newToken = newSess.TokenOrHash
	}

	return engine.Output{Success: true, Status: "guest_converted", Token: newToken, Subject: &domain.Subject{ID: newSubjectID}}, nil
}

func (p *plugin) cleanupExpiredGuests(ctx context.Context, db store.Port, _ map[string]any) (cleanup.Result, error) {
	now := time.Now()
	expired, err := db.FindMany(ctx, TableAnonymousSessions, store.Query{Where: store.Lt("expires_at", now)})
	if err != nil {
		return cleanup.Result{}, err
	}
	cleaned := 0
	for _, rec := range expired {
		id, _ := rec["id"].(string)
		subjectID, _ := rec["subject_id"].(string)
		if err := db.WithTx(ctx, func(ctx context.Context, tx store.Port) error {
			if _, err := tx.DeleteMany(ctx, TableAnonymousSessions, store.Query{Where: store.Eq("id", id)}); err != nil {
				return err
			}
			_, err := tx.DeleteMany(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", subjectID)})
			return err
		}); err == nil {
			cleaned++
		}
	}
	return cleanup.Result{Cleaned: cleaned}, nil
}
