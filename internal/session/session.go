package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/token"
)

// Resolver builds the profile data attached to a session for one subject
// kind. Plugins register a Resolver at startup for every kind they mint
// sessions for (email/password subjects, guests, API-key holders, ...).
type Resolver func(ctx context.Context, subjectID string) (map[string]string, error)

// Service is the Session Service: a resolver registry plus the
// create/check/destroy lifecycle operations the engine exposes to plugin
// steps. Session tokens are opaque, stored in Store as
// "sess:<token>" -> "<kind>:<subjectID>:<ver>", with a per-subject version
// counter at "sessver:<kind>:<subjectID>" used for destroySession's
// "revoke everything for this subject" semantics: bumping the counter
// invalidates every token minted against the old version in one write.
type Service struct {
	store     Store
	resolvers map[string]Resolver
	ttl       time.Duration
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, resolvers: make(map[string]Resolver), ttl: ttl}
}

// RegisterResolver binds a subject kind to the Resolver that knows how to
// load its profile. Registration is write-once at startup, never mutated
// concurrently with lookups, per the concurrency model's shared-state rules.
func (s *Service) RegisterResolver(kind string, r Resolver) {
	s.resolvers[kind] = r
}

// CreateSessionFor mints a new opaque session token bound to subjectID of
// the given kind, verifying a resolver is registered for that kind before
// issuing anything.
func (s *Service) CreateSessionFor(ctx context.Context, kind, subjectID string) (domain.Session, error) {
	resolver, ok := s.resolvers[kind]
	if !ok {
		return domain.Session{}, domain.New(domain.KindConfigError, "no_resolver", fmt.Sprintf("no session resolver registered for subject kind %q", kind))
	}
	if _, err := resolver(ctx, subjectID); err != nil {
		return domain.Session{}, err
	}

	ver, err := s.currentVersion(ctx, kind, subjectID)
	if err != nil {
		return domain.Session{}, err
	}

	tok, err := token.NewOpaque(token.MinEntropyBytes)
	if err != nil {
		return domain.Session{}, err
	}

	val := encodeVal(kind, subjectID, ver)
	if err := s.store.Set(ctx, sessKey(tok), val, s.ttl); err != nil {
		return domain.Session{}, domain.ErrInternal(err)
	}

	now := time.Now()
	return domain.Session{
		TokenOrHash: tok,
		SubjectKind: kind,
		SubjectID:   subjectID,
		ExpiresAt:   now.Add(s.ttl),
		Type:        domain.SessionOpaque,
		CreatedAt:   now,
	}, nil
}

// CheckSession validates a session token and returns the live session.
// It never rotates the token: the second return value is always empty,
// and rotation happens only through RotateSession.
func (s *Service) CheckSession(ctx context.Context, tok string) (domain.Session, string, error) {
	raw, ok, err := s.store.Get(ctx, sessKey(tok))
	if err != nil {
		return domain.Session{}, "", domain.ErrInternal(err)
	}
	if !ok {
		return domain.Session{}, "", domain.ErrUnauthorized()
	}
	kind, subjectID, ver, err := decodeVal(raw)
	if err != nil {
		return domain.Session{}, "", domain.ErrUnauthorized()
	}

	curVer, err := s.currentVersion(ctx, kind, subjectID)
	if err != nil {
		return domain.Session{}, "", err
	}
	if ver != curVer {
		return domain.Session{}, "", domain.ErrUnauthorized()
	}

	sess := domain.Session{
		TokenOrHash: tok,
		SubjectKind: kind,
		SubjectID:   subjectID,
		Type:        domain.SessionOpaque,
	}
	return sess, "", nil
}

// RotateSession atomically replaces oldTok with a freshly minted token
// carrying the same subject binding and version, via the Store's atomic
// Move. Plugin refresh-token steps call this explicitly rather than on
// every CheckSession, since rotating on every request would race
// concurrent requests from the same client.
func (s *Service) RotateSession(ctx context.Context, oldTok string) (string, error) {
	newTok, err := token.NewOpaque(token.MinEntropyBytes)
	if err != nil {
		return "", err
	}
	raw, ok, err := s.store.Move(ctx, sessKey(oldTok), sessKey(newTok), s.ttl)
	if err != nil {
		return "", domain.ErrInternal(err)
	}
	if !ok {
		return "", domain.ErrUnauthorized()
	}
	kind, subjectID, ver, err := decodeVal(raw)
	if err != nil {
		return "", domain.ErrUnauthorized()
	}
	curVer, err := s.currentVersion(ctx, kind, subjectID)
	if err != nil {
		return "", err
	}
	if ver != curVer {
		_ = s.store.Del(ctx, sessKey(newTok))
		return "", domain.ErrUnauthorized()
	}
	return newTok, nil
}

// DestroySession revokes a single session token. Pass revokeAll=true to
// also bump the subject's version counter, invalidating every other
// outstanding session for that subject (used by admin ban/force-logout
// flows and password-change handlers).
func (s *Service) DestroySession(ctx context.Context, tok string, revokeAll bool) error {
	raw, ok, err := s.store.Get(ctx, sessKey(tok))
	if err != nil {
		return domain.ErrInternal(err)
	}
	if !ok {
		return nil
	}
	if err := s.store.Del(ctx, sessKey(tok)); err != nil {
		return domain.ErrInternal(err)
	}
	if !revokeAll {
		return nil
	}
	kind, subjectID, _, err := decodeVal(raw)
	if err != nil {
		return nil
	}
	if _, err := s.store.Incr(ctx, verKey(kind, subjectID)); err != nil {
		return domain.ErrInternal(err)
	}
	return nil
}

// RevokeSubject bumps the per-kind version counter for subjectID without
// requiring a live token, invalidating every outstanding session of that
// kind for the subject. Used by administrative force-logout steps that act
// on a subject ID rather than a bearer token.
func (s *Service) RevokeSubject(ctx context.Context, kind, subjectID string) error {
	if _, err := s.store.Incr(ctx, verKey(kind, subjectID)); err != nil {
		return domain.ErrInternal(err)
	}
	return nil
}

// Kinds lists every subject kind with a registered resolver, so an
// administrative revoke-all can bump every kind a subject might hold a
// session under without needing to know in advance how it authenticated.
func (s *Service) Kinds() []string {
	kinds := make([]string, 0, len(s.resolvers))
	for k := range s.resolvers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (s *Service) currentVersion(ctx context.Context, kind, subjectID string) (int64, error) {
	v, ok, err := s.store.Get(ctx, verKey(kind, subjectID))
	if err != nil {
		return 0, domain.ErrInternal(err)
	}
	if !ok {
		_ = s.store.SetNX(ctx, verKey(kind, subjectID), "0", 0)
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func sessKey(tok string) string          { return "sess:" + tok }
func verKey(kind, subject string) string { return "sessver:" + kind + ":" + subject }

func encodeVal(kind, subjectID string, ver int64) string {
	return kind + ":" + subjectID + ":" + strconv.FormatInt(ver, 10)
}

func decodeVal(s string) (kind, subjectID string, ver int64, err error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed session value")
	}
	ver, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, err
	}
	return parts[0], parts[1], ver, nil
}
