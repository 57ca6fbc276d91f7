// Package core hosts the moderation and status steps that act on the
// shared Subject/Session model rather than on any one credential method:
// ban, unban, role changes, forced session revocation and a subject's own
// status. These are engine steps against the Data-Access Port's subjects
// table, since every plugin's subjects share one role/ban state regardless
// of which credential method authenticated them.
package core

import (
	"context"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
)

func New() *engine.Plugin {
	return &engine.Plugin{
		Name: "core",
		Steps: []engine.Step{
			{Name: "ban-user", Run: banUser},
			{Name: "unban-user", Run: unbanUser},
			{Name: "set-role", Run: setRole},
			{Name: "revoke-sessions", Run: revokeSessions},
			{Name: "whoami", Run: whoami},
		},
	}
}

type actor struct {
	subjectID string
	role      string
}

func resolveActor(ctx context.Context, e *engine.Engine, input engine.Input) (actor, error) {
	tok, _ := input["token"].(string)
	if tok == "" {
		return actor{}, domain.ErrUnauthorized()
	}
	sess, _, err := e.CheckSession(ctx, tok)
	if err != nil {
		return actor{}, err
	}
	rec, ok, err := e.DB().FindFirst(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", sess.SubjectID)})
	if err != nil {
		return actor{}, err
	}
	if !ok {
		return actor{}, domain.ErrSubjectNotFound()
	}
	role, _ := rec["role"].(string)
	return actor{subjectID: sess.SubjectID, role: role}, nil
}

func loadSubject(ctx context.Context, e *engine.Engine, id string) (store.Record, error) {
	rec, ok, err := e.DB().FindFirst(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", id)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSubjectNotFound()
	}
	return rec, nil
}

func requireRank(role string, minRole domain.Role) error {
	if domain.RoleRank(role) < domain.RoleRank(string(minRole)) {
		return domain.ErrInsufficientRole(string(minRole))
	}
	return nil
}

func targetID(input engine.Input) (string, error) {
	id, _ := input["target_id"].(string)
	if id == "" {
		return "", domain.ErrMissingField("target_id")
	}
	return id, nil
}

func banUser(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	act, err := resolveActor(ctx, e, input)
	if err != nil {
		return engine.Output{}, err
	}
	if err := requireRank(act.role, domain.RoleModerator); err != nil {
		return engine.Output{}, err
	}
	target, err := targetID(input)
	if err != nil {
		return engine.Output{}, err
	}
	if target == act.subjectID {
		return engine.Output{}, domain.ErrCannotModerateSelf()
	}
	targetRec, err := loadSubject(ctx, e, target)
	if err != nil {
		return engine.Output{}, err
	}
	targetRole, _ := targetRec["role"].(string)
	if targetRole == string(domain.RoleAdmin) && act.role != string(domain.RoleAdmin) {
		return engine.Output{}, domain.ErrCannotModerateAdmin()
	}

	if _, err := e.DB().UpdateMany(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", target)}, store.Record{
		"is_banned": true,
	}); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "banned", Others: map[string]any{"target_id": target}}, nil
}

func unbanUser(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	act, err := resolveActor(ctx, e, input)
	if err != nil {
		return engine.Output{}, err
	}
	if err := requireRank(act.role, domain.RoleModerator); err != nil {
		return engine.Output{}, err
	}
	target, err := targetID(input)
	if err != nil {
		return engine.Output{}, err
	}
	if target == act.subjectID {
		return engine.Output{}, domain.ErrCannotModerateSelf()
	}
	targetRec, err := loadSubject(ctx, e, target)
	if err != nil {
		return engine.Output{}, err
	}
	targetRole, _ := targetRec["role"].(string)
	if targetRole == string(domain.RoleAdmin) && act.role != string(domain.RoleAdmin) {
		return engine.Output{}, domain.ErrCannotModerateAdmin()
	}

	if _, err := e.DB().UpdateMany(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", target)}, store.Record{
		"is_banned": false,
	}); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "unbanned", Others: map[string]any{"target_id": target}}, nil
}

func setRole(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	act, err := resolveActor(ctx, e, input)
	if err != nil {
		return engine.Output{}, err
	}
	if err := requireRank(act.role, domain.RoleAdmin); err != nil {
		return engine.Output{}, err
	}
	newRole, _ := input["role"].(string)
	if !domain.IsValidRole(newRole) {
		return engine.Output{}, domain.ErrInvalidField("role", "invalid role")
	}
	target, err := targetID(input)
	if err != nil {
		return engine.Output{}, err
	}
	if target == act.subjectID {
		return engine.Output{}, domain.ErrCannotAffectSelf()
	}
	targetRec, err := loadSubject(ctx, e, target)
	if err != nil {
		return engine.Output{}, err
	}
	currentRole, _ := targetRec["role"].(string)

	if currentRole == string(domain.RoleAdmin) && newRole != string(domain.RoleAdmin) {
		admins, err := e.DB().Count(ctx, common.TableSubjects, store.Query{Where: store.Eq("role", string(domain.RoleAdmin))})
		if err != nil {
			return engine.Output{}, err
		}
		if admins <= 1 {
			return engine.Output{}, domain.ErrLastAdminProtected()
		}
	}

	if _, err := e.DB().UpdateMany(ctx, common.TableSubjects, store.Query{Where: store.Eq("id", target)}, store.Record{
		"role": newRole,
	}); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Success: true, Status: "role_set", Others: map[string]any{"target_id": target, "role": newRole}}, nil
}

func revokeSessions(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	act, err := resolveActor(ctx, e, input)
	if err != nil {
		return engine.Output{}, err
	}
	if err := requireRank(act.role, domain.RoleAdmin); err != nil {
		return engine.Output{}, err
	}
	target, err := targetID(input)
	if err != nil {
		return engine.Output{}, err
	}
	if target == act.subjectID {
		return engine.Output{}, domain.ErrCannotAffectSelf()
	}
	if _, err := loadSubject(ctx, e, target); err != nil {
		return engine.Output{}, err
	}

	for _, kind := range e.Sessions().Kinds() {
		if err := e.Sessions().RevokeSubject(ctx, kind, target); err != nil {
			return engine.Output{}, err
		}
	}
	return engine.Output{Success: true, Status: "sessions_revoked", Others: map[string]any{"target_id": target}}, nil
}

// whoami reports the caller's own subject status, generalized from the
// teacher's GetMyStatus/GetUserStatus pair into one step since the
// distinction there was only ever "is the caller looking at themselves",
// which the session already answers.
func whoami(ctx context.Context, e *engine.Engine, input engine.Input) (engine.Output, error) {
	act, err := resolveActor(ctx, e, input)
	if err != nil {
		return engine.Output{}, err
	}
	rec, err := loadSubject(ctx, e, act.subjectID)
	if err != nil {
		return engine.Output{}, err
	}
	isGuest, _ := rec["is_guest"].(bool)
	isBanned, _ := rec["is_banned"].(bool)

	_, hasCredential, err := e.DB().FindFirst(ctx, common.TableCredentials, store.Query{Where: store.Eq("subject_id", act.subjectID)})
	if err != nil {
		return engine.Output{}, err
	}

	return engine.Output{
		Success: true,
		Status:  "ok",
		Subject: &domain.Subject{ID: act.subjectID, IsGuest: isGuest},
		Others: map[string]any{
			"role":           act.role,
			"is_banned":      isBanned,
			"has_credential": hasCredential,
		},
	}, nil
}
