// Package apikey implements long-lived machine-client authenticators.
// A key is issued as "<prefix><recordID>.<secret>": the record id is
// safe to expose (it is only a lookup handle) while the secret half is
// hashed at rest with the same primitive as passwords and never stored
// or logged in the clear. Unlike a session bearer token, a key is a
// standing, individually revocable credential; it expires only when it was
// created with a "ttl" input.
package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/security"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

const TableAPIKeys = "api_keys"

type Config struct {
	AllowedScopes  []string `validate:"required,min=1"`
	MaxKeysPerUser int      `validate:"required,min=1"`
	KeyPrefix      string   `validate:"required"`
}

func New(cfg Config) *engine.Plugin {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ak_"
	}
	p := &plugin{cfg: cfg, preview: security.NewPreviewHasher(0)}
	return &engine.Plugin{
		Name:   "apikey",
		Config: cfg,
		Steps: []engine.Step{
			{Name: "create-api-key", Run: p.create},
			{Name: "authenticate-api-key", Run: p.authenticate},
			{Name: "list-api-keys", Run: p.list},
			{Name: "revoke-api-key", Run: p.revoke},
			{Name: "update-api-key", Run: p.update},
		},
	}
}

type plugin struct {
	cfg     Config
	preview *security.PreviewHasher
}

func (p *plugin) allowedScope(scope string) bool {
	for _, s := range p.cfg.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (p *plugin) create(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	if tok == "" {
		return engine.Output{}, domain.ErrUnauthorized()
	}
	sess, _, err := e.CheckSession(ctx, tok)
	if err != nil {
		return engine.Output{}, err
	}

	name, _ := input["name"].(string)
	if name == "" {
		return engine.Output{}, domain.ErrMissingField("name")
	}
	scopesIn, _ := input["scopes"].([]string)
	for _, s := range scopesIn {
		if !p.allowedScope(s) {
			return engine.Output{}, domain.ErrInvalidField("scopes", "scope not allowed")
		}
	}
	permissions, _ := input["permissions"].([]string)

	active, err := e.DB().Count(ctx, TableAPIKeys, store.Query{
		Where: store.And{store.Eq("subject_id", sess.SubjectID), store.Eq("is_active", true)},
	})
	if err != nil {
		return engine.Output{}, err
	}
	if active >= p.cfg.MaxKeysPerUser {
		return engine.Output{}, domain.ErrRateLimited("api_keys_per_user")
	}

	_, dup, err := e.DB().FindFirst(ctx, TableAPIKeys, store.Query{
		Where: store.And{store.Eq("subject_id", sess.SubjectID), store.Eq("name", name), store.Eq("is_active", true)},
	})
	if err != nil {
		return engine.Output{}, err
	}
	if dup {
		return engine.Output{}, domain.ErrNameAlreadyExists(name)
	}

	recordID := uuid.NewString()
	secret, err := token.NewOpaque(24)
	if err != nil {
		return engine.Output{}, err
	}
	rawKey := fmt.Sprintf("%s%s.%s", p.cfg.KeyPrefix, recordID, secret)

	hash, err := e.Hasher().Hash(secret)
	if err != nil {
		return engine.Output{}, domain.ErrHashFailed(err)
	}
	previewLen := len(rawKey)
	if previewLen > 10 {
		previewLen = 10
	}
	previewHash, err := p.preview.Hash(rawKey[:previewLen])
	if err != nil {
		return engine.Output{}, err
	}

	var expiresAt *time.Time
	if ttl, ok := input["ttl"].(time.Duration); ok && ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	if _, err := e.DB().Create(ctx, TableAPIKeys, store.Record{
		"id":           recordID,
		"subject_id":   sess.SubjectID,
		"key_hash":     hash,
		"preview_hash": previewHash,
		"name":         name,
		"scopes":       strings.Join(scopesIn, ","),
		"permissions":  strings.Join(permissions, ","),
		"expires_at":   expiresAt,
		"is_active":    true,
		"created_at":   time.Now(),
		"updated_at":   time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}

	return engine.Output{
		Success: true,
		Status:  "api_key_created",
		Others: map[string]any{
			"api_key": rawKey,
			"id":      recordID,
			"name":    name,
			"scopes":  scopesIn,
		},
	}, nil
}

func parseKey(prefix, rawKey string) (recordID, secret string, ok bool) {
	if !strings.HasPrefix(rawKey, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(rawKey, prefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (p *plugin) authenticate(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	rawKey, _ := input["api_key"].(string)
	if rawKey == "" {
		return engine.Output{}, domain.ErrMissingField("api_key")
	}
	recordID, secret, ok := parseKey(p.cfg.KeyPrefix, rawKey)
	if !ok {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}

	rec, ok, err := e.DB().FindFirst(ctx, TableAPIKeys, store.Query{Where: store.Eq("id", recordID)})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}
	if active, _ := rec["is_active"].(bool); !active {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}
	if expiresAt, ok := rec["expires_at"].(*time.Time); ok && expiresAt != nil && time.Now().After(*expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}
	hash, _ := rec["key_hash"].(string)
	if err := e.Hasher().Compare(hash, secret); err != nil {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}

	if _, err := e.DB().UpdateMany(ctx, TableAPIKeys, store.Query{Where: store.Eq("id", recordID)}, store.Record{
		"last_used_at": time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}

	subjectID, _ := rec["subject_id"].(string)
	scopes, _ := rec["scopes"].(string)
	return engine.Output{
		Success: true,
		Status:  "authenticated",
		Subject: &domain.Subject{ID: subjectID},
		Others:  map[string]any{"scopes": splitNonEmpty(scopes)},
	}, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (p *plugin) list(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	if tok == "" {
		return engine.Output{}, domain.ErrUnauthorized()
	}
	sess, _, err := e.CheckSession(ctx, tok)
	if err != nil {
		return engine.Output{}, err
	}
	recs, err := e.DB().FindMany(ctx, TableAPIKeys, store.Query{Where: store.Eq("subject_id", sess.SubjectID)})
	if err != nil {
		return engine.Output{}, err
	}
	keys := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		keys = append(keys, map[string]any{
			"id":         rec["id"],
			"name":       rec["name"],
			"scopes":     splitNonEmpty(fmt.Sprint(rec["scopes"])),
			"is_active":  rec["is_active"],
			"expires_at": rec["expires_at"],
		})
	}
	return engine.Output{Success: true, Status: "ok", Others: map[string]any{"keys": keys}}, nil
}

func (p *plugin) ownedKey(ctx context.Context, e *engine.Engine, token_, id string) (store.Record, domain.Session, error) {
	sess, _, err := e.CheckSession(ctx, token_)
	if err != nil {
		return nil, domain.Session{}, err
	}
	rec, ok, err := e.DB().FindFirst(ctx, TableAPIKeys, store.Query{Where: store.Eq("id", id)})
	if err != nil {
		return nil, domain.Session{}, err
	}
	if !ok {
		return nil, domain.Session{}, domain.ErrSubjectNotFound()
	}
	if subjectID, _ := rec["subject_id"].(string); subjectID != sess.SubjectID {
		return nil, domain.Session{}, domain.ErrForbidden()
	}
	return rec, sess, nil
}

func (p *plugin) revoke(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	id, _ := input["id"].(string)
	if tok == "" || id == "" {
		return engine.Output{}, domain.ErrMissingField("token/id")
	}
	if _, _, err := p.ownedKey(ctx, e, tok, id); err != nil {
		return engine.Output{}, err
	}
	if _, err := e.DB().UpdateMany(ctx, TableAPIKeys, store.Query{Where: store.Eq("id", id)}, store.Record{
		"is_active": false, "updated_at": time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "api_key_revoked"}, nil
}

func (p *plugin) update(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	tok, _ := input["token"].(string)
	id, _ := input["id"].(string)
	if tok == "" || id == "" {
		return engine.Output{}, domain.ErrMissingField("token/id")
	}
	if _, _, err := p.ownedKey(ctx, e, tok, id); err != nil {
		return engine.Output{}, err
	}

	set := store.Record{"updated_at": time.Now()}
	if name, ok := input["name"].(string); ok && name != "" {
		set["name"] = name
	}
	if scopes, ok := input["scopes"].([]string); ok {
		for _, s := range scopes {
			if !p.allowedScope(s) {
				return engine.Output{}, domain.ErrInvalidField("scopes", "scope not allowed")
			}
		}
		set["scopes"] = strings.Join(scopes, ",")
	}
	if _, err := e.DB().UpdateMany(ctx, TableAPIKeys, store.Query{Where: store.Eq("id", id)}, set); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "api_key_updated"}, nil
}
