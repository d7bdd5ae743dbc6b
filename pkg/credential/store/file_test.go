package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

func TestFile_SaveLoadRoundTrips(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0, 0)
	require.NoError(t, err)

	rec := &credential.Record{CredentialID: "cred-1", TypeName: "oauth2", EncryptedState: []byte("sealed-bytes")}
	token, err := f.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)
	assert.Equal(t, "1", token)

	loaded, err := f.Load(&credential.Context{}, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "oauth2", loaded.TypeName)
	assert.Equal(t, []byte("sealed-bytes"), loaded.EncryptedState)
	assert.Equal(t, "1", loaded.VersionToken)
}

func TestFile_NewFileCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "creds")
	_, err := NewFile(dir, 0, 0)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFile_SaveCreateTwiceConflicts(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0, 0)
	require.NoError(t, err)

	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}
	_, err = f.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	_, err = f.Save(&credential.Context{}, rec, "")
	require.Error(t, err)
	assert.Equal(t, credential.KindConflict, credential.KindOf(err))
}

func TestFile_SaveWithStaleVersionTokenConflicts(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0, 0)
	require.NoError(t, err)

	rec := &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}
	_, err = f.Save(&credential.Context{}, rec, "")
	require.NoError(t, err)

	_, err = f.Save(&credential.Context{}, rec, "stale")
	require.Error(t, err)
	assert.Equal(t, credential.KindConflict, credential.KindOf(err))
}

func TestFile_LoadMissingReturnsNotFound(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0, 0)
	require.NoError(t, err)

	_, err = f.Load(&credential.Context{}, "nope")
	require.Error(t, err)
	assert.Equal(t, credential.KindNotFound, credential.KindOf(err))
}

func TestFile_LoadCorruptFileReturnsStorageCorruption(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, 0, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cred-1.cred"), []byte("not json"), 0o600))

	_, err = f.Load(&credential.Context{}, "cred-1")
	require.Error(t, err)
	assert.Equal(t, credential.KindStorageCorruption, credential.KindOf(err))
}

func TestFile_DeleteMissingIsNotAnError(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0, 0)
	require.NoError(t, err)
	assert.NoError(t, f.Delete(&credential.Context{}, "nope"))
}

func TestFile_ListFiltersByPrefixAndIgnoresTmpFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, 0, 0)
	require.NoError(t, err)

	for _, id := range []credential.ID{"acct-1", "acct-2", "svc-1"} {
		_, err := f.Save(&credential.Context{}, &credential.Record{CredentialID: id, TypeName: "api_key"}, "")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct-3.cred.tmp"), []byte("partial"), 0o600))

	ids, err := f.List(&credential.Context{}, "acct-")
	require.NoError(t, err)
	assert.ElementsMatch(t, []credential.ID{"acct-1", "acct-2"}, ids)
}

func TestFile_UsesRequestedPermissions(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, 0o640, 0o750)
	require.NoError(t, err)

	_, err = f.Save(&credential.Context{}, &credential.Record{CredentialID: "cred-1", TypeName: "api_key"}, "")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "cred-1.cred"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}
