package emailpassword

import (
	"context"
	"time"

	"github.com/nocturneauth/authengine/internal/audit"
	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/common"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/token"
)

func queryByIdentityID(identityID string) store.Query {
	return store.Query{Where: store.Eq("identity_id", identityID)}
}

func queryBySubjectID(subjectID string) store.Query {
	return store.Query{Where: store.Eq("subject_id", subjectID)}
}

func upsertMetadataField(ctx context.Context, e *engine.Engine, identityID, hashField, hashValue, expiryField string, expiry time.Time) error {
	_, err := e.DB().Upsert(ctx, common.TableProviderMetadata, store.UpsertSpec{
		Where: store.Eq("identity_id", identityID),
		Create: store.Record{
			"identity_id": identityID,
			hashField:     hashValue,
			expiryField:   expiry,
		},
		Update: store.Record{
			hashField:   hashValue,
			expiryField: expiry,
		},
	})
	return err
}

func clearMetadataField(ctx context.Context, e *engine.Engine, identityID, hashField, expiryField string) error {
	_, err := e.DB().UpdateMany(ctx, common.TableProviderMetadata, queryByIdentityID(identityID), store.Record{
		hashField:   "",
		expiryField: nil,
	})
	return err
}

func auditFailedNotify(identifier string, err error) audit.Event {
	return audit.Event{
		Plugin: "emailpassword",
		Step:   "notify",
		Result: "failure",
		Code:   "notify_failed",
		Fields: map[string]string{"identifier": audit.MaskIdentifier(identifier), "error": err.Error()},
	}
}

// sendVerificationCode mints and stores a hashed verification code for
// identityID, then hands it to the notifier. A notify failure is recorded
// to the audit trail but does not fail the calling step — a subject can
// always ask for the code to be resent.
func (p *plugin) sendVerificationCode(ctx context.Context, e *engine.Engine, subjectID, identityID, email string) error {
	code, err := token.NewNumericCode(6)
	if err != nil {
		return err
	}
	hash, err := e.Hasher().Hash(code)
	if err != nil {
		return err
	}
	if err := upsertMetadataField(ctx, e, identityID, "verification_hash", hash, "verification_expires", time.Now().Add(p.cfg.VerificationCodeTTL)); err != nil {
		return err
	}
	if err := p.notifier.SendCode(ctx, notify.CodeEvent{
		Identifier: email, Provider: Provider, Code: code, Purpose: "verify",
	}); err != nil {
		e.Audit().Record(ctx, auditFailedNotify(email, err))
	}
	_ = subjectID
	return nil
}

// cleanupExpiredCodes removes provider_metadata verification/reset hashes
// once their expiry has passed, so a stale hash can never be replayed
// even if an attacker later obtains a database snapshot.
func (p *plugin) cleanupExpiredCodes(ctx context.Context, db store.Port, _ map[string]any) (cleanup.Result, error) {
	now := time.Now()
	expiredVerify, err := db.FindMany(ctx, common.TableProviderMetadata, store.Query{
		Where: store.And{
			store.Neq("verification_hash", ""),
			store.Lt("verification_expires", now),
		},
	})
	if err != nil {
		return cleanup.Result{}, err
	}
	cleaned := 0
	for _, rec := range expiredVerify {
		id, _ := rec["identity_id"].(string)
		if _, err := db.UpdateMany(ctx, common.TableProviderMetadata, queryByIdentityID(id), store.Record{
			"verification_hash": "", "verification_expires": nil,
		}); err == nil {
			cleaned++
		}
	}

	expiredReset, err := db.FindMany(ctx, common.TableProviderMetadata, store.Query{
		Where: store.And{
			store.Neq("reset_hash", ""),
			store.Lt("reset_expires", now),
		},
	})
	if err != nil {
		return cleanup.Result{Cleaned: cleaned}, err
	}
	for _, rec := range expiredReset {
		id, _ := rec["identity_id"].(string)
		if _, err := db.UpdateMany(ctx, common.TableProviderMetadata, queryByIdentityID(id), store.Record{
			"reset_hash": "", "reset_expires": nil,
		}); err == nil {
			cleaned++
		}
	}

	return cleanup.Result{Cleaned: cleaned}, nil
}
