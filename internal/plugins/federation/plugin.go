package federation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

const TableFederationArtifacts = "federation_artifacts"

type Config struct {
	Providers   map[string]Provider
	ArtifactTTL time.Duration `validate:"required,min=1m"`
}

func New(cfg Config) *engine.Plugin {
	p := &plugin{cfg: cfg}
	return &engine.Plugin{
		Name:   "federation",
		Config: cfg,
		Initialize: func(e *engine.Engine) error {
			return e.RegisterCleanupTask("federation", "expire-artifacts", time.Hour, nil, p.cleanupExpired)
		},
		GetProfile: func(_ engine.ExecContext, subjectID string) (map[string]string, error) {
			return map[string]string{"subject_id": subjectID}, nil
		},
		Steps: []engine.Step{
			{Name: "begin", Run: p.begin},
			{Name: "callback", Run: p.callback},
		},
	}
}

type plugin struct {
	cfg Config
}

func (p *plugin) provider(name string) (Provider, error) {
	prov, ok := p.cfg.Providers[name]
	if !ok {
		return nil, domain.ErrInvalidField("provider", "no such federated provider configured")
	}
	return prov, nil
}

func (p *plugin) begin(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	providerName, _ := input["provider"].(string)
	if providerName == "" {
		return engine.Output{}, domain.ErrMissingField("provider")
	}
	prov, err := p.provider(providerName)
	if err != nil {
		return engine.Output{}, err
	}

	state, err := token.NewOpaque(token.MinEntropyBytes)
	if err != nil {
		return engine.Output{}, err
	}
	nonce, err := token.NewOpaque(token.MinEntropyBytes)
	if err != nil {
		return engine.Output{}, err
	}

	if _, err := e.DB().Create(ctx, TableFederationArtifacts, store.Record{
		"id":         uuid.NewString(),
		"kind":       "request",
		"provider":   providerName,
		"state":      state,
		"nonce":      nonce,
		"status":     "pending",
		"expires_at": time.Now().Add(p.cfg.ArtifactTTL),
		"created_at": time.Now(),
	}); err != nil {
		return engine.Output{}, err
	}

	return engine.Output{
		Success: true,
		Status:  "redirect",
		Others:  map[string]any{"auth_url": prov.AuthURL(state, nonce), "state": state},
	}, nil
}

func (p *plugin) callback(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	providerName, _ := input["provider"].(string)
	state, _ := input["state"].(string)
	code, _ := input["code"].(string)
	if providerName == "" || state == "" || code == "" {
		return engine.Output{}, domain.ErrMissingField("provider/state/code")
	}
	prov, err := p.provider(providerName)
	if err != nil {
		return engine.Output{}, err
	}

	rec, ok, err := e.DB().FindFirst(ctx, TableFederationArtifacts, store.Query{
		Where: store.And{store.Eq("kind", "request"), store.Eq("provider", providerName), store.Eq("state", state), store.Eq("status", "pending")},
	})
	if err != nil {
		return engine.Output{}, err
	}
	if !ok {
		return engine.Output{}, domain.ErrTokenInvalid()
	}
	expiresAt, _ := rec["expires_at"].(time.Time)
	if time.Now().After(expiresAt) {
		return engine.Output{}, domain.ErrExpired()
	}
	nonce, _ := rec["nonce"].(string)

	claims, err := prov.Exchange(ctx, code, nonce)
	if err != nil {
		return engine.Output{}, domain.ErrUpstreamTimeout(err)
	}
	if claims.Subject == "" {
		return engine.Output{}, domain.ErrInvalidCredentials()
	}

	identity, ok, err := common.FindIdentity(ctx, e.DB(), providerName, claims.Subject)
	if err != nil {
		return engine.Output{}, err
	}
	var subjectID string
	if ok {
		subjectID = identity.SubjectID
	} else {
		subjectID, _, err = common.CreateSubjectWithIdentity(ctx, e.DB(), providerName, claims.Subject)
		if err != nil {
			return engine.Output{}, err
		}
		if claims.EmailVerified {
			if ident, found, err := common.FindIdentity(ctx, e.DB(), providerName, claims.Subject); err == nil && found {
				_ = common.MarkIdentityVerified(ctx, e.DB(), ident.ID)
			}
		}
	}

	artifactID, _ := rec["id"].(string)
	if _, err := e.DB().UpdateMany(ctx, TableFederationArtifacts, store.Query{Where: store.Eq("id", artifactID)}, store.Record{
		"status": "completed",
	}); err != nil {
		return engine.Output{}, err
	}

	sess, err := e.CreateSessionFor(ctx, "federation", subjectID)
	if err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "authenticated", Token: sess.TokenOrHash, Subject: &domain.Subject{ID: subjectID}}, nil
}

func (p *plugin) cleanupExpired(ctx context.Context, db store.Port, _ map[string]any) (cleanup.Result, error) {
	now := time.Now()
	n, err := db.DeleteMany(ctx, TableFederationArtifacts, store.Query{
		Where: store.Or{store.Lt("expires_at", now), store.Eq("status", "completed")},
	})
	if err != nil {
		return cleanup.Result{}, err
	}
	return cleanup.Result{Cleaned: n}, nil
}
