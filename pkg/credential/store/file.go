package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// File is a StateStore backed by one JSON file per credential id, grounded
// on pkg/auth/storage.go's FileTokenStorage. Unlike that implementation,
// the encrypted payload here is already opaque ciphertext handed in by the
// manager (via kms.Seal) — this store only owns the envelope's durability
// and its version_token, not the encryption itself.
type File struct {
	dir      string
	filePerm os.FileMode
	dirPerm  os.FileMode

	mu sync.Mutex
}

// NewFile returns a File store rooted at dir, creating it if necessary.
func NewFile(dir string, filePerm, dirPerm os.FileMode) (*File, error) {
	if filePerm == 0 {
		filePerm = 0o600
	}
	if dirPerm == 0 {
		dirPerm = 0o700
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("store: create directory %q: %w", dir, err)
	}
	return &File{dir: dir, filePerm: filePerm, dirPerm: dirPerm}, nil
}

type fileEnvelope struct {
	CredentialID    credential.ID `json:"credential_id"`
	TypeName        string        `json:"type_name"`
	VersionToken    string        `json:"version_token"`
	EncryptedState  []byte        `json:"encrypted_state"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	LastRefreshedAt *time.Time    `json:"last_refreshed_at,omitempty"`
	RefreshCount    int           `json:"refresh_count"`
	Status          string        `json:"status"`
}

func (f *File) path(id credential.ID) string {
	return filepath.Join(f.dir, sanitize(string(id))+".cred")
}

func (f *File) Load(_ *credential.Context, id credential.ID) (*credential.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, credential.New(credential.KindNotFound, "load", "no record for credential: "+string(id))
		}
		return nil, credential.Wrap(credential.KindStorageCorruption, "load", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, credential.Wrap(credential.KindStorageCorruption, "load", err)
	}

	return &credential.Record{
		CredentialID:    env.CredentialID,
		TypeName:        env.TypeName,
		VersionToken:    env.VersionToken,
		EncryptedState:  env.EncryptedState,
		CreatedAt:       env.CreatedAt,
		UpdatedAt:       env.UpdatedAt,
		LastRefreshedAt: env.LastRefreshedAt,
		RefreshCount:    env.RefreshCount,
		Status:          credential.Status(env.Status),
	}, nil
}

func (f *File) Save(ctx *credential.Context, rec *credential.Record, expectedVersionToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.loadLocked(rec.CredentialID)
	if err != nil && credential.KindOf(err) != credential.KindNotFound {
		return "", err
	}

	if expectedVersionToken == "" {
		if existing != nil {
			return "", credential.New(credential.KindConflict, "save", "credential already exists: "+string(rec.CredentialID))
		}
	} else if existing == nil || existing.VersionToken != expectedVersionToken {
		return "", credential.New(credential.KindConflict, "save", "version token mismatch for credential: "+string(rec.CredentialID))
	}

	next := int64(1)
	if existing != nil {
		if n, err := strconv.ParseInt(existing.VersionToken, 10, 64); err == nil {
			next = n + 1
		}
	}
	newToken := strconv.FormatInt(next, 10)

	env := fileEnvelope{
		CredentialID:    rec.CredentialID,
		TypeName:        rec.TypeName,
		VersionToken:    newToken,
		EncryptedState:  rec.EncryptedState,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		LastRefreshedAt: rec.LastRefreshedAt,
		RefreshCount:    rec.RefreshCount,
		Status:          string(rec.Status),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", credential.Wrap(credential.KindStorageCorruption, "save", err)
	}

	tmp := f.path(rec.CredentialID) + ".tmp"
	if err := os.WriteFile(tmp, data, f.filePerm); err != nil {
		return "", credential.Wrap(credential.KindTransient, "save", err)
	}
	if err := os.Rename(tmp, f.path(rec.CredentialID)); err != nil {
		return "", credential.Wrap(credential.KindTransient, "save", err)
	}

	rec.VersionToken = newToken
	return newToken, nil
}

func (f *File) loadLocked(id credential.ID) (*credential.Record, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, credential.New(credential.KindNotFound, "load", "no record for credential: "+string(id))
		}
		return nil, credential.Wrap(credential.KindStorageCorruption, "load", err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, credential.Wrap(credential.KindStorageCorruption, "load", err)
	}
	return &credential.Record{CredentialID: env.CredentialID, VersionToken: env.VersionToken}, nil
}

func (f *File) Delete(_ *credential.Context, id credential.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return credential.Wrap(credential.KindTransient, "delete", err)
	}
	return nil
}

func (f *File) List(_ *credential.Context, filter string) ([]credential.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, credential.Wrap(credential.KindTransient, "list", err)
	}

	var ids []credential.ID
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cred") {
			continue
		}
		id := credential.ID(strings.TrimSuffix(e.Name(), ".cred"))
		if filter == "" || strings.HasPrefix(string(id), filter) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func sanitize(key string) string {
	invalid := []string{"/", "\\", ":", "*", "?", `"`, "<", ">", "|"}
	result := key
	for _, c := range invalid {
		result = strings.ReplaceAll(result, c, "_")
	}
	return result
}

var _ credential.StateStore = (*File)(nil)
