// Package domain holds the entities and structured error taxonomy shared by
// every plugin and engine component.
package domain

import (
	"errors"
	"fmt"
)

// ErrKind is the high-level error category a StepOutput.status is derived from.
type ErrKind string

const (
	KindValidation        ErrKind = "validation"
	KindNotFound          ErrKind = "not_found"
	KindInvalidCredential ErrKind = "invalid_credentials"
	KindExpired           ErrKind = "expired"
	KindRateLimited       ErrKind = "rate_limited"
	KindConflict          ErrKind = "conflict"
	KindForbidden         ErrKind = "forbidden"
	KindUnauthorized      ErrKind = "unauthorized"
	KindUpstreamTimeout   ErrKind = "upstream_timeout"
	KindConfigError       ErrKind = "config_error"
	KindInternal          ErrKind = "internal"
)

// Error is a structured engine error. Kind drives the short machine-readable
// "status" code every step output carries; Message is safe for callers;
// Cause is logged but never serialized back to a caller.
type Error struct {
	Kind    ErrKind
	Code    string
	Message string
	Meta    map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind ErrKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind ErrKind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func WithMeta(err *Error, meta map[string]string) *Error {
	err.Meta = meta
	return err
}

// Is reports whether err is a *Error with the given stable code.
func Is(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// KindOf extracts the ErrKind of err, defaulting to KindInternal for
// anything that isn't a *Error — the engine's step guard uses this to
// translate unexpected panics/errors into a safe Internal status.
func KindOf(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// ----------------------
// Validation
// ----------------------

func ErrMissingField(field string) *Error {
	return WithMeta(New(KindValidation, "missing_field", "missing required field"), map[string]string{"field": field})
}

func ErrInvalidField(field, reason string) *Error {
	return WithMeta(New(KindValidation, "invalid_field", "invalid field"), map[string]string{"field": field, "reason": reason})
}

func ErrWeakPassword(reason string) *Error {
	return WithMeta(New(KindValidation, "weak_password", "password does not meet requirements"), map[string]string{"reason": reason})
}

func ErrPwnedPassword() *Error {
	return New(KindValidation, "pwned", "password found in a known breach corpus")
}

func ErrUnknownPlugin(name string) *Error {
	return WithMeta(New(KindValidation, "unknown_plugin", "unknown plugin"), map[string]string{"plugin": name})
}

func ErrUnknownStep(plugin, step string) *Error {
	return WithMeta(New(KindValidation, "unknown_step", "unknown step"), map[string]string{"plugin": plugin, "step": step})
}

// ----------------------
// NotFound (conflated with InvalidCredentials at auth lookups)
// ----------------------

func ErrSubjectNotFound() *Error {
	return New(KindNotFound, "subject_not_found", "subject not found")
}

func ErrIdentityNotFound() *Error {
	return New(KindNotFound, "identity_not_found", "identity not found")
}

// ----------------------
// InvalidCredentials
// ----------------------

// ErrInvalidCredentials is used for every login-style failure to avoid
// leaking whether the identity exists.
func ErrInvalidCredentials() *Error {
	return New(KindInvalidCredential, "ip", "invalid email or password")
}

func ErrCodeInvalid() *Error {
	return New(KindInvalidCredential, "invalid_code", "invalid code")
}

func ErrTokenInvalid() *Error {
	return New(KindInvalidCredential, "token_invalid", "invalid token")
}

// ----------------------
// Expired
// ----------------------

func ErrExpired() *Error {
	return New(KindExpired, "ex", "expired")
}

func ErrMaxAttemptsExceeded() *Error {
	return New(KindExpired, "max_attempts", "maximum attempts exceeded")
}

// ----------------------
// RateLimited
// ----------------------

func ErrRateLimited(scope string) *Error {
	return WithMeta(New(KindRateLimited, "rate_limited", "too many requests"), map[string]string{"scope": scope})
}

// ----------------------
// Conflict
// ----------------------

func ErrIdentityAlreadyExists() *Error {
	return New(KindConflict, "identity_exists", "identity already registered")
}

func ErrNameAlreadyExists(name string) *Error {
	return WithMeta(New(KindConflict, "name_exists", "name already in use"), map[string]string{"name": name})
}

// ----------------------
// Forbidden
// ----------------------

func ErrForbidden() *Error {
	return New(KindForbidden, "forbidden", "forbidden")
}

func ErrPluginNotAllowed(plugin string) *Error {
	return WithMeta(New(KindForbidden, "plugin_not_allowed", "target plugin is not an allowed conversion target"), map[string]string{"plugin": plugin})
}

func ErrInsufficientRole(requiredRole string) *Error {
	return WithMeta(New(KindForbidden, "insufficient_role", "actor role does not meet the required rank"), map[string]string{"required_role": requiredRole})
}

func ErrCannotModerateSelf() *Error {
	return New(KindForbidden, "cannot_moderate_self", "a subject cannot ban or unban itself")
}

func ErrCannotModerateAdmin() *Error {
	return New(KindForbidden, "cannot_moderate_admin", "moderators cannot ban or unban admins")
}

func ErrCannotAffectSelf() *Error {
	return New(KindForbidden, "cannot_affect_self", "a subject cannot change its own role or revoke its own sessions through this step")
}

func ErrLastAdminProtected() *Error {
	return New(KindForbidden, "last_admin_protected", "cannot demote the last remaining admin")
}

// ----------------------
// Unauthorized
// ----------------------

func ErrUnauthorized() *Error {
	return New(KindUnauthorized, "unauth", "missing or invalid session")
}

// ----------------------
// UpstreamTimeout
// ----------------------

func ErrUpstreamTimeout(cause error) *Error {
	return Wrap(KindUpstreamTimeout, "upstream_timeout", "upstream call timed out", cause)
}

// ----------------------
// ConfigError (construction-time only)
// ----------------------

func ErrConfig(reason string) *Error {
	return WithMeta(New(KindConfigError, "config_error", "invalid plugin configuration"), map[string]string{"reason": reason})
}

// ConfigErrors aggregates multiple construction-time validation failures
// into a single error a plugin constructor can return.
type ConfigErrors struct {
	Plugin string
	Errors []*Error
}

func (c *ConfigErrors) Error() string {
	return fmt.Sprintf("%s: %d configuration error(s)", c.Plugin, len(c.Errors))
}

// ----------------------
// Internal
// ----------------------

func ErrHashFailed(cause error) *Error {
	return Wrap(KindInternal, "hash_failed", "hashing failed", cause)
}

func ErrTokenSignFailed(cause error) *Error {
	return Wrap(KindInternal, "token_sign_failed", "token signing failed", cause)
}

func ErrRandomFailed(cause error) *Error {
	return Wrap(KindInternal, "random_failed", "random generation failed", cause)
}

func ErrInternal(cause error) *Error {
	return Wrap(KindInternal, "internal_error", "internal error", cause)
}

func ErrNotImplemented() *Error {
	return New(KindInternal, "not_implemented", "not implemented")
}
