// Package secure provides wipe-on-close containers for secret material.
//
// Nothing elsewhere in this repository wraps secrets this way;
// pkg/auth/security.go masks tokens for logging and encrypts them at rest
// but holds plaintext in ordinary strings in between. String closes that
// gap using the same constant-time-compare (crypto/subtle) and masking
// idioms pkg/auth/security.go uses elsewhere.
package secure

import (
	"crypto/subtle"
	"fmt"
)

// String is a secret byte buffer that can be explicitly wiped. A Go string
// cannot itself be overwritten in place (the runtime may keep copies via
// interning, substring sharing, or GC), so String stores its payload in a
// mutable []byte and hands out string copies through Expose, or scoped to a
// caller-supplied callback through WithExposed.
type String struct {
	buf   []byte
	wiped bool
}

// New takes ownership of value's bytes into a new String.
func New(value string) *String {
	buf := make([]byte, len(value))
	copy(buf, value)
	return &String{buf: buf}
}

// NewFromBytes takes ownership of b (the caller must not reuse b afterward).
func NewFromBytes(b []byte) *String {
	return &String{buf: b}
}

// Expose returns the secret as a string. Callers must not retain the
// returned value beyond the String's lifetime or log it; prefer
// WithExposed for scoped access.
func (s *String) Expose() string {
	if s == nil || s.wiped {
		return ""
	}
	return string(s.buf)
}

// WithExposed invokes fn with the secret value and returns its result. This
// is a scope-bounded access pattern, auditable in a way a raw Expose call
// site is not.
func WithExposed[R any](s *String, fn func(string) R) R {
	return fn(s.Expose())
}

// EqualConstantTime compares two secrets in constant time, matching the
// approach pkg/auth/security.go uses for API-key prefix validation.
func (s *String) EqualConstantTime(other *String) bool {
	if s == nil || other == nil {
		return s == other
	}
	return subtle.ConstantTimeCompare(s.buf, other.buf) == 1
}

// Len reports the secret's byte length without exposing its content.
func (s *String) Len() int {
	if s == nil {
		return 0
	}
	return len(s.buf)
}

// IsEmpty reports whether the secret has zero length.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Close overwrites the backing buffer with zeros, simulating an explicit
// Drop for a language without destructors.
func (s *String) Close() {
	if s == nil || s.wiped {
		return
	}
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.wiped = true
}

// String implements fmt.Stringer without revealing content, matching the
// invariant that the default textual rendering never leaks the secret.
func (s *String) String() string {
	return "<secret>"
}

// GoString satisfies the %#v formatter the same way, for parity with %v/%s.
func (s *String) GoString() string {
	return "secure.String(<secret>)"
}

// MarshalJSON always serializes as a fixed redaction marker so that a
// SecureString embedded in a struct never leaks through json.Marshal.
func (s *String) MarshalJSON() ([]byte, error) {
	return []byte(`"***"`), nil
}

var _ fmt.Stringer = (*String)(nil)
