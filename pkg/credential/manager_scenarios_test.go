// Package credential_test exercises CredentialManager end to end against
// its in-memory collaborators, one test per scenario and quantified
// invariant. It lives in the external test package (not package credential)
// because it wires store/cache/lock/negcache/credtypes — each of which
// imports package credential — and only an external test package can import
// back across that boundary without an import cycle.
package credential_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/cache"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/credtypes/apikey"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/credtypes/oauth2"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/kms"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/lock"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/negcache"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/store"
)

func ctx() *credential.Context {
	return &credential.Context{Ctx: context.Background()}
}

func ctxWithWaitBudget(d time.Duration) *credential.Context {
	return &credential.Context{Ctx: context.Background(), WaitBudget: d}
}

func testSealer() credential.Sealer {
	return kms.NewCipher(kms.FromPassphrase("manager-scenarios-test-passphrase", nil))
}

type harness struct {
	manager  *credential.Manager
	registry *credential.Registry
	store    *store.Memory
	lock     *lock.Memory
	negCache *negcache.Memory
	cache    credential.TokenCache
}

func newHarness(t *testing.T, cfgOverride func(*credential.ManagerConfig)) *harness {
	t.Helper()
	registry := credential.NewRegistry()
	require.NoError(t, registry.Register(apikey.NewFactory()))
	require.NoError(t, registry.Register(oauth2.NewFactory()))

	st := store.NewMemory()
	l := lock.NewMemory()
	nc := negcache.NewMemory(1000)
	c := cache.NewLRU(1000, 5*time.Minute)

	cfg := credential.DefaultManagerConfig()
	cfg.RefreshRPS = 0
	if cfgOverride != nil {
		cfgOverride(&cfg)
	}

	mgr := credential.NewManager(registry, st, c, nc, l, testSealer(), cfg)
	return &harness{manager: mgr, registry: registry, store: st, lock: l, negCache: nc, cache: c}
}

// countingSealer wraps a Sealer to count Unseal invocations, so a test can
// assert a negative-cache hit short-circuits before a repeat decrypt.
type countingSealer struct {
	inner       credential.Sealer
	mu          sync.Mutex
	unsealCalls int
}

func (s *countingSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	return s.inner.Seal(ctx, plaintext)
}

func (s *countingSealer) Unseal(ctx context.Context, sealed []byte) ([]byte, error) {
	s.mu.Lock()
	s.unsealCalls++
	s.mu.Unlock()
	return s.inner.Unseal(ctx, sealed)
}

func (s *countingSealer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsealCalls
}

// newOAuth2TokenServer mints a fresh access/refresh token pair on every
// request and reports how many requests it served.
func newOAuth2TokenServer(t *testing.T, accessTokenPrefix string) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  accessTokenPrefix + "-" + itoa(n),
			"refresh_token": "refresh-token",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// failingOAuth2TokenServer always returns an OAuth2 error response,
// simulating a revoked or invalid refresh token.
func failingOAuth2TokenServer(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "refresh token is no longer valid",
		})
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

// ---- S1: API key create -> get -> rotate -> get ----

func TestScenario_S1_ApiKeyCreateGetRotateGet(t *testing.T) {
	h := newHarness(t, nil)

	id, interaction, err := h.manager.CreateCredential(ctx(), apikey.TypeName, []byte(`{"key":"sk_abc","header_name":"X-API-Key"}`))
	require.NoError(t, err)
	assert.Nil(t, interaction)
	require.NotEmpty(t, id)

	tok, err := h.manager.GetToken(ctx(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, credential.TokenTypeAPIKey, tok.Type())
	assert.Equal(t, "sk_abc", tok.Value())

	// "Rotation" of a static key has no refresh cycle: refresh_credential
	// must fail Unsupported, and the credential's existing token stays valid.
	_, err = h.manager.RefreshCredential(ctx(), id)
	require.Error(t, err)
	assert.Equal(t, credential.KindUnsupported, credential.KindOf(err))

	again, err := h.manager.GetToken(ctx(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk_abc", again.Value())
}

// ---- S2: OAuth2 refresh under concurrency ----

func TestScenario_S2_OAuth2RefreshUnderConcurrency(t *testing.T) {
	h := newHarness(t, func(cfg *credential.ManagerConfig) {
		cfg.RefreshPolicy.MinimumSkew = 5 * time.Second
	})
	server, hits := newOAuth2TokenServer(t, "refreshed")

	seeded := &oauth2SeedState{
		clientID: "client-id",
		authURL:  server.URL + "/auth",
		tokenURL: server.URL + "/token",
	}
	id := seedOAuth2Credential(t, h, seeded)

	const goroutines = 20
	var wg sync.WaitGroup
	tokens := make([]*credential.AccessToken, goroutines)
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tokens[idx], errs[idx] = h.manager.GetToken(ctx(), id, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "goroutine %d", i)
		assert.Equal(t, "refreshed-1", tokens[i].Value(), "every caller should observe the single refreshed token")
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(hits), "exactly one refresh should have reached the authorization server")

	rec, err := h.store.Load(ctx(), id)
	require.NoError(t, err)
	assert.Equal(t, "2", rec.VersionToken, "exactly one successful save should have advanced the version")
}

// ---- S3: Lock contention timeout ----

func TestScenario_S3_LockContentionTimeout(t *testing.T) {
	h := newHarness(t, nil)
	id := credential.ID("locked-credential")

	// Task A holds the credential's lock for far longer than Task B is
	// willing to wait.
	guard, acquired, err := h.lock.TryAcquire(ctx(), "cred:"+string(id), 60*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)
	defer guard.Release()

	start := time.Now()
	_, err = h.manager.GetToken(ctxWithWaitBudget(time.Second), id, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, credential.KindTimeout, credential.KindOf(err))
	assert.Less(t, elapsed, 2*time.Second, "Task B should time out close to its wait budget, not hang")
}

// ---- S4: Conflict resolution on save ----

// conflictOnceStore wraps store.Memory and, the first time Save is called
// for the tracked credential, sneaks in a competing write under the
// caller's back before forwarding the caller's own Save — reproducing the
// "another writer already advanced the version" race without needing two
// real processes.
type conflictOnceStore struct {
	*store.Memory
	id        credential.ID
	mu        sync.Mutex
	triggered bool
}

func (s *conflictOnceStore) Save(c *credential.Context, rec *credential.Record, expected string) (string, error) {
	s.mu.Lock()
	shouldTrigger := !s.triggered && rec.CredentialID == s.id
	if shouldTrigger {
		s.triggered = true
	}
	s.mu.Unlock()

	if shouldTrigger {
		existing, err := s.Memory.Load(c, rec.CredentialID)
		if err == nil {
			_, _ = s.Memory.Save(c, existing, existing.VersionToken)
		}
	}
	return s.Memory.Save(c, rec, expected)
}

func TestScenario_S4_ConflictResolutionOnSave(t *testing.T) {
	registry := credential.NewRegistry()
	require.NoError(t, registry.Register(oauth2.NewFactory()))

	server, hits := newOAuth2TokenServer(t, "resolved")
	mem := store.NewMemory()

	seeded := &oauth2SeedState{clientID: "client-id", authURL: server.URL + "/auth", tokenURL: server.URL + "/token"}
	stateJSON := marshalOAuth2Seed(t, seeded)
	sealer := testSealer()
	sealed, err := sealer.Seal(context.Background(), stateJSON)
	require.NoError(t, err)

	id := credential.ID("s4-credential")
	now := time.Now()
	_, err = mem.Save(ctx(), &credential.Record{
		CredentialID:   id,
		TypeName:       oauth2.TypeName,
		EncryptedState: sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         credential.StatusActive,
	}, "")
	require.NoError(t, err)

	wrapped := &conflictOnceStore{Memory: mem, id: id}
	cfg := credential.DefaultManagerConfig()
	cfg.RefreshRPS = 0
	mgr := credential.NewManager(registry, wrapped, cache.NewLRU(1000, 5*time.Minute), negcache.NewMemory(1000), lock.NewMemory(), sealer, cfg)

	tok, err := mgr.GetToken(ctx(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "resolved-2", tok.Value(), "the manager should have reloaded and redriven after the injected conflict")
	assert.EqualValues(t, 2, atomic.LoadInt64(hits), "the conflict should force exactly one retry, i.e. two refresh attempts")

	rec, err := mem.Load(ctx(), id)
	require.NoError(t, err)
	assert.Equal(t, "3", rec.VersionToken, "one seed save, one injected conflicting save, one winning save")
}

// ---- S5: Interactive initialization ----

func TestScenario_S5_InteractiveInitialization(t *testing.T) {
	h := newHarness(t, nil)
	server, _ := newOAuth2TokenServer(t, "interactive")

	initInput, err := json.Marshal(map[string]interface{}{
		"client_id":    "client-id",
		"auth_url":     server.URL + "/auth",
		"token_url":    server.URL + "/token",
		"redirect_url": "https://app.example.com/callback",
		"scopes":       []string{"read"},
	})
	require.NoError(t, err)

	id, interaction, err := h.manager.CreateCredential(ctx(), oauth2.TypeName, initInput)
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NotNil(t, interaction)
	assert.Equal(t, credential.StepRedirect, interaction.Step.Kind)
	assert.NotEmpty(t, interaction.ContinuationID)

	continueInput, err := json.Marshal(map[string]string{"code": "AUTH_CODE_123", "state": interaction.Step.State})
	require.NoError(t, err)

	id, nextInteraction, err := h.manager.ContinueCredential(ctx(), interaction.ContinuationID, continueInput)
	require.NoError(t, err)
	assert.Nil(t, nextInteraction)
	require.NotEmpty(t, id)

	tok, err := h.manager.GetToken(ctx(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "interactive-1", tok.Value())
}

func TestScenario_S5_ContinuationIsSingleUse(t *testing.T) {
	h := newHarness(t, nil)
	server, _ := newOAuth2TokenServer(t, "interactive")

	initInput, _ := json.Marshal(map[string]interface{}{
		"client_id": "client-id", "auth_url": server.URL + "/auth", "token_url": server.URL + "/token",
	})
	_, interaction, err := h.manager.CreateCredential(ctx(), oauth2.TypeName, initInput)
	require.NoError(t, err)

	continueInput, _ := json.Marshal(map[string]string{"code": "AUTH_CODE_123", "state": interaction.Step.State})
	_, _, err = h.manager.ContinueCredential(ctx(), interaction.ContinuationID, continueInput)
	require.NoError(t, err)

	_, _, err = h.manager.ContinueCredential(ctx(), interaction.ContinuationID, continueInput)
	require.Error(t, err)
	assert.Equal(t, credential.KindNotFound, credential.KindOf(err))
}

// ---- S6: Storage corruption ----

func TestScenario_S6_StorageCorruption(t *testing.T) {
	registry := credential.NewRegistry()
	require.NoError(t, registry.Register(apikey.NewFactory()))

	mem := store.NewMemory()
	sealer := &countingSealer{inner: testSealer()}
	mgr := credential.NewManager(registry, mem, cache.NewLRU(1000, 5*time.Minute), negcache.NewMemory(1000), lock.NewMemory(), sealer, credential.DefaultManagerConfig())

	sealed, err := sealer.Seal(context.Background(), []byte(`{"key":"sk_abc","header_name":"X-API-Key"}`))
	require.NoError(t, err)
	corrupted := sealed[:len(sealed)-1]

	id := credential.ID("s6-credential")
	now := time.Now()
	_, err = mem.Save(ctx(), &credential.Record{
		CredentialID:   id,
		TypeName:       apikey.TypeName,
		EncryptedState: corrupted,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         credential.StatusActive,
	}, "")
	require.NoError(t, err)

	_, err = mgr.GetToken(ctx(), id, nil)
	require.Error(t, err)
	assert.Equal(t, credential.KindStorageCorruption, credential.KindOf(err))
	assert.Equal(t, 1, sealer.calls())

	_, err = mgr.GetToken(ctx(), id, nil)
	require.Error(t, err)
	assert.Equal(t, credential.KindStorageCorruption, credential.KindOf(err))
	assert.Equal(t, 1, sealer.calls(), "the negative cache must prevent a second decrypt attempt within its TTL window")
}

// ---- Quantified invariants ----

// Property 1: the StateStore observes at most one successful write per
// version_token under concurrent mutators.
func TestProperty_AtMostOneSuccessfulSavePerVersionToken(t *testing.T) {
	st := store.NewMemory()
	id := credential.ID("contended")
	_, err := st.Save(ctx(), &credential.Record{CredentialID: id, TypeName: "api_key"}, "")
	require.NoError(t, err)

	rec, err := st.Load(ctx(), id)
	require.NoError(t, err)
	v1 := rec.VersionToken

	const writers = 10
	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &credential.Record{CredentialID: id, TypeName: "api_key"}
			if _, err := st.Save(ctx(), r, v1); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes, "exactly one writer may win a race against the same version_token")
}

// Property 2: get_token never returns an expired token, even under
// concurrent contention that forces a refresh.
func TestProperty_GetTokenNeverReturnsAnExpiredTokenUnderContention(t *testing.T) {
	h := newHarness(t, func(cfg *credential.ManagerConfig) {
		cfg.RefreshPolicy.MinimumSkew = 5 * time.Second
	})
	server, _ := newOAuth2TokenServer(t, "fresh")
	id := seedOAuth2Credential(t, h, &oauth2SeedState{clientID: "c", authURL: server.URL + "/auth", tokenURL: server.URL + "/token"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := h.manager.GetToken(ctx(), id, nil)
			if !assert.NoError(t, err) {
				return
			}
			expiresAt, ok := tok.ExpiresAt()
			require.True(t, ok)
			assert.True(t, expiresAt.Add(-5*time.Second).After(time.Now()), "get_token must never hand back an already-expiring token")
		}()
	}
	wg.Wait()
}

// Property 4: the negative cache upper-bounds repeat refresh attempts to at
// most one per TTL window after a hard authentication failure.
func TestProperty_NegativeCacheBoundsRepeatRefreshAttempts(t *testing.T) {
	h := newHarness(t, nil)
	server, hits := failingOAuth2TokenServer(t)
	id := seedOAuth2Credential(t, h, &oauth2SeedState{clientID: "c", authURL: server.URL + "/auth", tokenURL: server.URL + "/token"})

	for i := 0; i < 5; i++ {
		_, err := h.manager.GetToken(ctx(), id, nil)
		require.Error(t, err)
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(hits), "only the first get_token should have reached the authorization server; the rest must be memoized")
}

// Property 5: after revoke_credential succeeds, subsequent get_token calls
// observe Revoked/NotFound and never serve a stale cached token.
func TestProperty_RevokeInvalidatesCacheAndFutureGetsFail(t *testing.T) {
	h := newHarness(t, nil)
	id, _, err := h.manager.CreateCredential(ctx(), apikey.TypeName, []byte(`{"key":"sk_abc"}`))
	require.NoError(t, err)

	tok, err := h.manager.GetToken(ctx(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk_abc", tok.Value())

	require.NoError(t, h.manager.RevokeCredential(ctx(), id))

	_, err = h.manager.GetToken(ctx(), id, nil)
	require.Error(t, err)
	assert.Equal(t, credential.KindNotFound, credential.KindOf(err), "a revoked credential must never serve a stale cached token")
}

// Property 6: sealing then unsealing a CredentialState's serialized bytes
// round-trips to the original plaintext.
func TestProperty_SealUnsealRoundTrips(t *testing.T) {
	sealer := testSealer()
	plaintext := []byte(`{"key":"sk_abc","header_name":"X-API-Key"}`)

	sealed, err := sealer.Seal(context.Background(), plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	unsealed, err := sealer.Unseal(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, unsealed)
}

// ---- shared OAuth2 seeding helpers ----

type oauth2SeedState struct {
	clientID string
	authURL  string
	tokenURL string
}

func marshalOAuth2Seed(t *testing.T, s *oauth2SeedState) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"access_token":  "seed-access",
		"refresh_token": "seed-refresh",
		"expires_at":    time.Now().Add(10 * time.Second),
		"client_id":     s.clientID,
		"client_secret": "seed-secret",
		"auth_url":      s.authURL,
		"token_url":     s.tokenURL,
	})
	require.NoError(t, err)
	return data
}

// seedOAuth2Credential writes an already-active OAuth2 record directly to
// the harness's store, bypassing the interactive create/continue flow, so a
// test can start from "a credential already exists" rather than
// "a credential is being created".
func seedOAuth2Credential(t *testing.T, h *harness, s *oauth2SeedState) credential.ID {
	t.Helper()
	stateJSON := marshalOAuth2Seed(t, s)
	// newHarness always builds its manager with testSealer(), which derives
	// a deterministic key from a fixed passphrase, so a fresh testSealer()
	// here seals with the same key the manager will unseal with.
	sealed, err := testSealer().Seal(context.Background(), stateJSON)
	require.NoError(t, err)

	id := credential.ID("oauth2-seeded-" + s.clientID + "-" + s.authURL)
	now := time.Now()
	_, err = h.store.Save(ctx(), &credential.Record{
		CredentialID:   id,
		TypeName:       oauth2.TypeName,
		EncryptedState: sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         credential.StatusActive,
	}, "")
	require.NoError(t, err)
	return id
}
