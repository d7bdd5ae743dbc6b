package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

func TestMemory_SaveCreateThenLoad(t *testing.T) {
	m := NewMemory()
	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key", EncryptedState: []byte("sealed")}

	token, err := m.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)
	assert.Equal(t, "1", token)
	assert.Equal(t, "1", rec.VersionToken)

	loaded, err := m.Load(&credential.Context{}, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, credential.ID("cred-1"), loaded.CredentialID)
	assert.Equal(t, "1", loaded.VersionToken)
}

func TestMemory_SaveCreateTwiceConflicts(t *testing.T) {
	m := NewMemory()
	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}

	_, err := m.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	_, err = m.Save(&credential.Context{}, rec, "")
	require.Error(t, err)
	assert.Equal(t, credential.KindConflict, credential.KindOf(err))
}

func TestMemory_SaveWithStaleVersionTokenConflicts(t *testing.T) {
	m := NewMemory()
	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}
	_, err := m.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	_, err = m.Save(&credential.Context{}, rec, "999")
	require.Error(t, err)
	assert.Equal(t, credential.KindConflict, credential.KindOf(err))
}

func TestMemory_SaveWithCorrectVersionTokenUpdates(t *testing.T) {
	m := NewMemory()
	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}
	tok1, err := m.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	tok2, err := m.Save(&credential.Context{}, rec, tok1)
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok2)
}

func TestMemory_LoadMissingReturnsNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Load(&credential.Context{}, "nope")
	require.Error(t, err)
	assert.Equal(t, credential.KindNotFound, credential.KindOf(err))
}

func TestMemory_DeleteMissingIsNotAnError(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.Delete(&credential.Context{}, "nope"))
}

func TestMemory_DeleteThenLoadNotFound(t *testing.T) {
	m := NewMemory()
	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}
	_, err := m.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	require.NoError(t, m.Delete(&credential.Context{}, "cred-1"))

	_, err = m.Load(&credential.Context{}, "cred-1")
	assert.Equal(t, credential.KindNotFound, credential.KindOf(err))
}

func TestMemory_ListFiltersByPrefix(t *testing.T) {
	m := NewMemory()
	for _, id := range []credential.ID{"acct-1", "acct-2", "svc-1"} {
		_, err := m.Save(&credential.Context{}, &credential.Record{CredentialID: id, TypeName: "api_key"}, "")
		require.NoError(t, err)
	}

	ids, err := m.List(&credential.Context{}, "acct-")
	require.NoError(t, err)
	assert.ElementsMatch(t, []credential.ID{"acct-1", "acct-2"}, ids)

	all, err := m.List(&credential.Context{}, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_LoadReturnsDefensiveCopy(t *testing.T) {
	m := NewMemory()
	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}
	_, err := m.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	loaded, err := m.Load(&credential.Context{}, "cred-1")
	require.NoError(t, err)
	loaded.TypeName = "mutated"

	reloaded, err := m.Load(&credential.Context{}, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "api_key", reloaded.TypeName)
}
