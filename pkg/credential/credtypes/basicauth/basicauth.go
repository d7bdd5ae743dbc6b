// Package basicauth implements a username/password credential type with no
// refresh cycle, modeled after credtypes/apikey's shape since pkg/auth has
// no direct basic-auth credential to ground this on.
package basicauth

import (
	"encoding/json"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/secure"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/state"
)

// TypeName is the stable type_name this factory answers for.
const TypeName = state.BasicAuthKind

// Factory adapts the basic_auth CredentialState to the Factory contract.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) TypeName() string { return TypeName }

func (f *Factory) Metadata() credential.Metadata {
	return credential.Metadata{
		TypeName:            TypeName,
		Name:                "Basic Auth",
		Description:         "A username/password pair, issued as an HTTP Basic token.",
		SupportsRefresh:     false,
		RequiresInteraction: false,
	}
}

type initInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (f *Factory) InitializeFromJSON(_ *credential.Context, inputJSON []byte) ([]byte, *credential.AccessToken, *credential.Interaction, error) {
	var in initInput
	if err := json.Unmarshal(inputJSON, &in); err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "initialize", err)
	}
	if in.Username == "" {
		return nil, nil, nil, credential.New(credential.KindValidationFailed, "initialize", "username is required")
	}

	st := state.BasicAuthState{Username: in.Username, Password: secure.New(in.Password)}
	stateJSON, err := st.MarshalForStorage()
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "initialize", err)
	}

	token := credential.Basic(in.Username, in.Password)
	return stateJSON, token, nil, nil
}

func (f *Factory) ContinueFromJSON(_ *credential.Context, _ []byte, _ []byte) ([]byte, *credential.AccessToken, *credential.Interaction, error) {
	return nil, nil, nil, credential.New(credential.KindUnsupported, "continue", "basic_auth credentials never require interaction")
}

func (f *Factory) RefreshFromJSON(_ *credential.Context, _ []byte) ([]byte, *credential.AccessToken, error) {
	return nil, nil, credential.New(credential.KindUnsupported, "refresh", "basic_auth credentials do not support refresh")
}

func (f *Factory) RevokeFromJSON(_ *credential.Context, stateJSON []byte) ([]byte, error) {
	st, err := state.UnmarshalBasicAuthState(stateJSON)
	if err != nil {
		return nil, credential.Wrap(credential.KindStorageCorruption, "revoke", err)
	}
	st.Close()
	return stateJSON, nil
}

func (f *Factory) ValidateFromJSON(_ *credential.Context, stateJSON []byte) (bool, error) {
	st, err := state.UnmarshalBasicAuthState(stateJSON)
	if err != nil {
		return false, credential.Wrap(credential.KindStorageCorruption, "validate", err)
	}
	defer st.Close()
	return st.Username != "" && !st.Password.IsEmpty(), nil
}

var _ credential.Factory = (*Factory)(nil)
