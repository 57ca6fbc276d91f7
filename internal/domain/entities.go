package domain

import "time"

// Subject is the minimal authenticated principal. Everything else —
// identities, credentials, ephemeral artifacts, sessions — hangs off its id.
type Subject struct {
	ID        string
	CreatedAt time.Time
	IsGuest   bool
}

// Identity claims that Subject owns Identifier on Provider. (Provider,
// Identifier) is globally unique; a subject may own many identities.
type Identity struct {
	ID         string
	SubjectID  string
	Provider   string // "email", "phone", "username", or an OAuth provider name
	Identifier string
	Verified   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Credential is password-style authenticator material bound to a subject.
// At most one password credential exists per subject per password-style
// provider.
type Credential struct {
	SubjectID    string
	Provider     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProviderMetadata is per-provider auxiliary state attached to an identity:
// hashed verification/reset codes and a pending-email staging slot. Table
// name is provider-specific ("email_identities", "phone_identities") but the
// shape is shared.
type ProviderMetadata struct {
	IdentityID          string
	VerificationHash    string
	VerificationExpires time.Time
	ResetHash           string
	ResetExpires        time.Time
	PendingIdentifier   string // staged new email/phone awaiting verification
}

// MagicLink is a single-use passwordless sign-in token.
type MagicLink struct {
	ID         string
	SubjectID  string
	TokenHash  string
	Identifier string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// VerificationCode covers passwordless send-code/verify-code across
// destination types and purposes (login, register, verify).
type VerificationCode struct {
	ID              string
	SubjectID       string // empty for pre-registration codes
	CodeHash        string
	Destination     string
	DestinationType string // phone | email | whatsapp
	Purpose         string // login | register | verify
	ExpiresAt       time.Time
	UsedAt          *time.Time
	Attempts        int
	MaxAttempts     int
	CreatedAt       time.Time
}

// PasswordResetCode is a single-use, hashed, TTL-bounded reset artifact.
type PasswordResetCode struct {
	ID        string
	SubjectID string
	CodeHash  string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// APIKey is long-lived authenticator material for machine clients. The raw
// key is returned exactly once, at creation, and never persisted.
type APIKey struct {
	ID          string
	SubjectID   string
	KeyHash     string
	Name        string
	Scopes      []string
	Permissions []string
	ExpiresAt   *time.Time
	IsActive    bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AnonymousSession tracks a guest subject's fingerprint binding, expiry and
// extension budget.
type AnonymousSession struct {
	ID              string
	SubjectID       string
	FingerprintHash string
	ExpiresAt       time.Time
	ExtensionCount  int
	Metadata        map[string]string
	CreatedAt       time.Time
}

// FederationArtifact covers the assertion/request/session/logout-request
// bookkeeping records an OIDC/SAML flow needs between begin and callback.
type FederationArtifact struct {
	ID        string
	Kind      string // "request" | "assertion" | "session" | "logout_request"
	Provider  string
	State     string
	Nonce     string
	Status    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionType discriminates how a Session's token is encoded.
type SessionType string

const (
	SessionOpaque SessionType = "opaque"
	SessionJWT    SessionType = "jwt"
)

// Session is the bearer association between a token and a subject.
type Session struct {
	TokenOrHash string
	SubjectKind string // "subject", "guest", ...
	SubjectID   string
	ExpiresAt   time.Time
	Type        SessionType
	RefreshOf   string // opaque refresh-token binding, if any
	CreatedAt   time.Time
}

// JWKSKey is one signing key in the rotation keyring.
type JWKSKey struct {
	ID         string
	ActiveFrom time.Time
	RotatedAt  *time.Time
	Public     []byte
	Private    []byte
}
