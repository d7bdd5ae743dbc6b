// Package credential provides secure storage, refresh coordination, and
// short-lived token issuance for API keys, OAuth2 grants, and basic-auth
// pairs.
package credential

import "fmt"

// Kind identifies the category of a credential operation failure.
type Kind string

const (
	// KindNotFound means the StateStore has no record for the credential.
	KindNotFound Kind = "not_found"
	// KindTypeMismatch means the registry has no factory for the record's type_name.
	KindTypeMismatch Kind = "type_mismatch"
	// KindValidationFailed means initialize input failed validation.
	KindValidationFailed Kind = "validation_failed"
	// KindAuthenticationFailed means the credential type reported an auth error.
	KindAuthenticationFailed Kind = "authentication_failed"
	// KindTransient means the error is safe to retry at the caller.
	KindTransient Kind = "transient"
	// KindTimeout means a lock or I/O call exceeded its budget.
	KindTimeout Kind = "timeout"
	// KindStorageCorruption means decrypt or deserialize failed; requires an operator.
	KindStorageCorruption Kind = "storage_corruption"
	// KindCancelled means the calling task was cancelled.
	KindCancelled Kind = "cancelled"
	// KindUnsupported means the operation is not allowed for this credential type.
	KindUnsupported Kind = "unsupported"
	// KindAlreadyRegistered means a factory was already registered under this type name.
	KindAlreadyRegistered Kind = "already_registered"
	// KindConflict is an internal retry signal; it must never reach a caller.
	KindConflict Kind = "conflict"
)

// Error carries a Kind plus structured context. It never embeds secret
// material: callers must not format CredentialID-adjacent state fields into
// the Message of an Error.
type Error struct {
	Kind         Kind
	CredentialID string
	TypeName     string
	Operation    string
	Message      string
	Cause        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("credential %s: %s", e.Operation, e.Message)
	if e.CredentialID != "" {
		msg = fmt.Sprintf("credential %s [id=%s]: %s", e.Operation, e.CredentialID, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the caller may safely retry the operation that
// produced this error.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransient
}

// New builds an Error for the given kind, operation, and message.
func New(kind Kind, operation, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message}
}

// Wrap builds an Error that chains an underlying cause.
func Wrap(kind Kind, operation string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Operation: operation, Message: cause.Error(), Cause: cause}
}

// WithCredential attaches credential identification to the error and returns it.
func (e *Error) WithCredential(id, typeName string) *Error {
	e.CredentialID = id
	e.TypeName = typeName
	return e
}

// KindOf extracts the Kind from err, defaulting to KindTransient for unknown
// error shapes so that callers fail closed (retry) rather than silently
// swallowing an unrecognized failure.
func KindOf(err error) Kind {
	var ce *Error
	if ok := asError(err, &ce); ok {
		return ce.Kind
	}
	return KindTransient
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
