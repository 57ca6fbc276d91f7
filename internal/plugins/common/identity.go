// Package common holds the Data-Access Port helpers shared by every
// credential-based plugin (emailpassword, phonepassword, passwordless):
// subject/identity/credential lookups against the schema the engine's
// migrations create, keyed by a provider/identifier pair rather than one
// fixed "users" table.
package common

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/store"
)

const (
	TableSubjects         = "subjects"
	TableIdentities       = "identities"
	TableCredentials      = "credentials"
	TableProviderMetadata = "provider_metadata"
)

// IdentityRecord is the subset of an identities row plugin steps need.
type IdentityRecord struct {
	ID         string
	SubjectID  string
	Provider   string
	Identifier string
	Verified   bool
}

// FindIdentity looks up an identity by (provider, identifier) using a
// case-insensitive comparison on identifier, since email/username
// identifiers must compare case-insensitively.
func FindIdentity(ctx context.Context, db store.Port, provider, identifier string) (IdentityRecord, bool, error) {
	rec, ok, err := db.FindFirst(ctx, TableIdentities, store.Query{
		Where: store.And{
			store.Eq("provider", provider),
			store.EqIdentifier("identifier", identifier),
		},
	})
	if err != nil || !ok {
		return IdentityRecord{}, false, err
	}
	return toIdentityRecord(rec), true, nil
}

// CreateSubjectWithIdentity creates a new subject and a bound identity in
// one transaction, failing with ErrIdentityAlreadyExists if the
// (provider, identifier) pair is already taken by the time the write
// happens (closing the check-then-act race FindIdentity alone would leave
// open).
func CreateSubjectWithIdentity(ctx context.Context, db store.Port, provider, identifier string) (subjectID, identityID string, err error) {
	err = db.WithTx(ctx, func(ctx context.Context, tx store.Port) error {
		if _, ok, ferr := FindIdentity(ctx, tx, provider, identifier); ferr != nil {
			return ferr
		} else if ok {
			return domain.ErrIdentityAlreadyExists()
		}

		now := time.Now()
		subjectID = uuid.NewString()
		if _, cerr := tx.Create(ctx, TableSubjects, store.Record{
			"id":         subjectID,
			"is_guest":   false,
			"role":       "user",
			"is_banned":  false,
			"created_at": now,
		}); cerr != nil {
			return cerr
		}

		identityID = uuid.NewString()
		if _, cerr := tx.Create(ctx, TableIdentities, store.Record{
			"id":         identityID,
			"subject_id": subjectID,
			"provider":   provider,
			"identifier": identifier,
			"verified":   false,
			"created_at": now,
			"updated_at": now,
		}); cerr != nil {
			return cerr
		}
		return nil
	})
	return subjectID, identityID, err
}

// SetCredential upserts the password hash bound to a (subject, provider)
// pair.
func SetCredential(ctx context.Context, db store.Port, subjectID, provider, hash string) error {
	now := time.Now()
	_, err := db.Upsert(ctx, TableCredentials, store.UpsertSpec{
		Where: store.And{
			store.Eq("subject_id", subjectID),
			store.Eq("provider", provider),
		},
		Create: store.Record{
			"subject_id":    subjectID,
			"provider":      provider,
			"password_hash": hash,
			"created_at":    now,
			"updated_at":    now,
		},
		Update: store.Record{
			"password_hash": hash,
			"updated_at":    now,
		},
	})
	return err
}

// GetCredentialHash returns the password hash bound to (subjectID,
// provider), if any.
func GetCredentialHash(ctx context.Context, db store.Port, subjectID, provider string) (string, bool, error) {
	rec, ok, err := db.FindFirst(ctx, TableCredentials, store.Query{
		Where: store.And{
			store.Eq("subject_id", subjectID),
			store.Eq("provider", provider),
		},
	})
	if err != nil || !ok {
		return "", false, err
	}
	hash, _ := rec["password_hash"].(string)
	return hash, true, nil
}

// MarkIdentityVerified flips an identity's verified flag.
func MarkIdentityVerified(ctx context.Context, db store.Port, identityID string) error {
	_, err := db.UpdateMany(ctx, TableIdentities, store.Query{
		Where: store.Eq("id", identityID),
	}, store.Record{"verified": true, "updated_at": time.Now()})
	return err
}

// NormalizeIdentifier trims and lowercases an identifier for consistent
// storage, leaving comparisons' case-insensitivity as defense in depth
// rather than the only safeguard.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func toIdentityRecord(rec store.Record) IdentityRecord {
	out := IdentityRecord{}
	if v, ok := rec["id"].(string); ok {
		out.ID = v
	}
	if v, ok := rec["subject_id"].(string); ok {
		out.SubjectID = v
	}
	if v, ok := rec["provider"].(string); ok {
		out.Provider = v
	}
	if v, ok := rec["identifier"].(string); ok {
		out.Identifier = v
	}
	if v, ok := rec["verified"].(bool); ok {
		out.Verified = v
	}
	return out
}
