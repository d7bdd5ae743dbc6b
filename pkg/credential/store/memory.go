// Package store provides StateStore implementations: an in-process map for
// tests and single-instance deployments, and an encrypted-file backend for
// durable single-host persistence.
package store

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// Memory is an in-process StateStore backed by a map, grounded on
// pkg/auth/storage.go's MemoryTokenStorage. Version tokens are a monotonic
// per-id counter rendered as a decimal string.
type Memory struct {
	mu      sync.RWMutex
	records map[credential.ID]*credential.Record
	version map[credential.ID]int64
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[credential.ID]*credential.Record),
		version: make(map[credential.ID]int64),
	}
}

func (m *Memory) Load(_ *credential.Context, id credential.ID) (*credential.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, credential.New(credential.KindNotFound, "load", "no record for credential: "+string(id))
	}
	clone := *rec
	return &clone, nil
}

func (m *Memory) Save(_ *credential.Context, rec *credential.Record, expectedVersionToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.version[rec.CredentialID]
	currentToken := formatVersion(current)

	if expectedVersionToken == "" {
		if exists {
			return "", credential.New(credential.KindConflict, "save", "credential already exists: "+string(rec.CredentialID))
		}
	} else if !exists || currentToken != expectedVersionToken {
		return "", credential.New(credential.KindConflict, "save", "version token mismatch for credential: "+string(rec.CredentialID))
	}

	next := current + 1
	m.version[rec.CredentialID] = next
	newToken := formatVersion(next)

	clone := *rec
	clone.VersionToken = newToken
	m.records[rec.CredentialID] = &clone
	rec.VersionToken = newToken

	return newToken, nil
}

func (m *Memory) Delete(_ *credential.Context, id credential.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	delete(m.version, id)
	return nil
}

func (m *Memory) List(_ *credential.Context, filter string) ([]credential.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]credential.ID, 0, len(m.records))
	for id := range m.records {
		if filter == "" || strings.HasPrefix(string(id), filter) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func formatVersion(v int64) string {
	return strconv.FormatInt(v, 10)
}

var _ credential.StateStore = (*Memory)(nil)
