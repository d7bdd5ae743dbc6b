// Package apikey implements the static API-key credential type: a single
// opaque key attached to requests under a configurable header, with no
// refresh cycle.
package apikey

import (
	"encoding/json"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/secure"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/state"
)

// TypeName is the stable type_name this factory answers for.
const TypeName = state.ApiKeyKind

// Factory adapts the api_key CredentialState to the Factory contract,
// grounded on pkg/auth/apikey.go's single-key path (this type does not
// model that file's multi-key rotation/circuit-breaker pool — that remains
// a client-side concern layered on top of one or more Credential instances
// if a caller wants it).
type Factory struct {
	// DefaultHeaderName is used when InitializeInput omits header_name.
	DefaultHeaderName string
}

// NewFactory returns an apikey Factory with "X-API-Key" as the fallback
// header, matching pkg/auth/interface.go's AuthMethodAPIKey convention.
func NewFactory() *Factory {
	return &Factory{DefaultHeaderName: "X-API-Key"}
}

func (f *Factory) TypeName() string { return TypeName }

func (f *Factory) Metadata() credential.Metadata {
	return credential.Metadata{
		TypeName:            TypeName,
		Name:                "API Key",
		Description:         "A static opaque key attached to requests under a fixed header.",
		SupportsRefresh:     false,
		RequiresInteraction: false,
	}
}

type initInput struct {
	Key        string `json:"key"`
	HeaderName string `json:"header_name"`
}

func (f *Factory) InitializeFromJSON(_ *credential.Context, inputJSON []byte) ([]byte, *credential.AccessToken, *credential.Interaction, error) {
	var in initInput
	if err := json.Unmarshal(inputJSON, &in); err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "initialize", err)
	}
	if in.Key == "" {
		return nil, nil, nil, credential.New(credential.KindValidationFailed, "initialize", "key is required")
	}
	header := in.HeaderName
	if header == "" {
		header = f.DefaultHeaderName
	}

	st := state.ApiKeyState{Key: secure.New(in.Key), HeaderName: header}
	stateJSON, err := st.MarshalForStorage()
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "initialize", err)
	}

	token := credential.APIKey(in.Key).WithMetadata("header_name", header)
	return stateJSON, token, nil, nil
}

// ContinueFromJSON is unsupported: api_key credentials never require
// interaction, so create_credential always completes in one step.
func (f *Factory) ContinueFromJSON(_ *credential.Context, _ []byte, _ []byte) ([]byte, *credential.AccessToken, *credential.Interaction, error) {
	return nil, nil, nil, credential.New(credential.KindUnsupported, "continue", "api_key credentials never require interaction")
}

// RefreshFromJSON is unsupported: the key has no lifecycle, so the manager
// should never schedule a refresh for it (Metadata().SupportsRefresh is
// false).
func (f *Factory) RefreshFromJSON(_ *credential.Context, _ []byte) ([]byte, *credential.AccessToken, error) {
	return nil, nil, credential.New(credential.KindUnsupported, "refresh", "api_key credentials do not support refresh")
}

func (f *Factory) RevokeFromJSON(_ *credential.Context, stateJSON []byte) ([]byte, error) {
	st, err := state.UnmarshalApiKeyState(stateJSON)
	if err != nil {
		return nil, credential.Wrap(credential.KindStorageCorruption, "revoke", err)
	}
	st.Close()
	return stateJSON, nil
}

func (f *Factory) ValidateFromJSON(_ *credential.Context, stateJSON []byte) (bool, error) {
	st, err := state.UnmarshalApiKeyState(stateJSON)
	if err != nil {
		return false, credential.Wrap(credential.KindStorageCorruption, "validate", err)
	}
	defer st.Close()
	return !st.Key.IsEmpty(), nil
}

var _ credential.Factory = (*Factory)(nil)
