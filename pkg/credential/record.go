package credential

import "time"

// ID is an opaque, unique identifier for one stored credential instance.
// Created when a credential is registered; immutable; used as the primary
// key everywhere a credential is addressed.
type ID string

// Metadata is the static, immutable-per-type descriptor a Credential
// implementation publishes about itself. Grounded on
// pkg/auth/interface.go's ProviderAuthConfig/AuthFeatureFlags, trimmed to
// the fields a credential type actually needs to publish.
type Metadata struct {
	TypeName            string
	Name                string
	Description         string
	SupportsRefresh     bool
	RequiresInteraction bool
}

// Status is the persisted lifecycle status of a CredentialRecord.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
	StatusError   Status = "error"
)

// Record is the persisted envelope around a credential's encrypted state.
// Grounded on pkg/auth/storage.go's on-disk token envelope, extended with
// version_token/status/refresh_count fields that storage format lacks.
type Record struct {
	CredentialID    ID
	TypeName        string
	VersionToken    string
	EncryptedState  []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastRefreshedAt *time.Time
	RefreshCount    int
	Status          Status
}
