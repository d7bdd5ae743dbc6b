package basicauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/secure"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/state"
)

func TestFactory_InitializeFromJSON(t *testing.T) {
	f := NewFactory()
	stateJSON, token, interaction, err := f.InitializeFromJSON(&credential.Context{}, []byte(`{"username":"alice","password":"hunter2"}`))
	require.NoError(t, err)
	assert.Nil(t, interaction)
	require.NotNil(t, token)
	assert.Equal(t, credential.TokenTypeBasic, token.Type())
	assert.Equal(t, "alice:hunter2", token.Value())

	st, err := state.UnmarshalBasicAuthState(stateJSON)
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Username)
	assert.Equal(t, "hunter2", st.Password.Expose())
}

func TestFactory_InitializeFromJSONRejectsMissingUsername(t *testing.T) {
	f := NewFactory()
	_, _, _, err := f.InitializeFromJSON(&credential.Context{}, []byte(`{"password":"x"}`))
	require.Error(t, err)
	assert.Equal(t, credential.KindValidationFailed, credential.KindOf(err))
}

func TestFactory_InitializeFromJSONRejectsMalformedJSON(t *testing.T) {
	f := NewFactory()
	_, _, _, err := f.InitializeFromJSON(&credential.Context{}, []byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, credential.KindValidationFailed, credential.KindOf(err))
}

func TestFactory_ContinueFromJSONIsUnsupported(t *testing.T) {
	f := NewFactory()
	_, _, _, err := f.ContinueFromJSON(&credential.Context{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, credential.KindUnsupported, credential.KindOf(err))
}

func TestFactory_RefreshFromJSONIsUnsupported(t *testing.T) {
	f := NewFactory()
	_, _, err := f.RefreshFromJSON(&credential.Context{}, nil)
	require.Error(t, err)
	assert.Equal(t, credential.KindUnsupported, credential.KindOf(err))
}

func TestFactory_ValidateFromJSON(t *testing.T) {
	f := NewFactory()
	stateJSON, _, _, err := f.InitializeFromJSON(&credential.Context{}, []byte(`{"username":"alice","password":"hunter2"}`))
	require.NoError(t, err)

	valid, err := f.ValidateFromJSON(&credential.Context{}, stateJSON)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestFactory_ValidateFromJSONRejectsEmptyUsername(t *testing.T) {
	f := NewFactory()
	st := state.BasicAuthState{Username: "", Password: secure.New("")}
	stateJSON, err := st.MarshalForStorage()
	require.NoError(t, err)

	valid, err := f.ValidateFromJSON(&credential.Context{}, stateJSON)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestFactory_ValidateFromJSONRejectsCorruptState(t *testing.T) {
	f := NewFactory()
	_, err := f.ValidateFromJSON(&credential.Context{}, []byte("not json"))
	require.Error(t, err)
	assert.Equal(t, credential.KindStorageCorruption, credential.KindOf(err))
}

func TestFactory_MetadataReportsNoRefreshOrInteraction(t *testing.T) {
	f := NewFactory()
	md := f.Metadata()
	assert.Equal(t, TypeName, md.TypeName)
	assert.False(t, md.SupportsRefresh)
	assert.False(t, md.RequiresInteraction)
}

var _ credential.Factory = (*Factory)(nil)
