package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cecil-the-coder/credential-kit/pkg/credential/continuation"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/log"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/retry"
)

// ManagerConfig holds the tunables CredentialManager needs beyond its
// collaborators (Registry, StateStore, TokenCache, NegativeCache,
// DistributedLock, Sealer), which are supplied directly to NewManager.
type ManagerConfig struct {
	RefreshPolicy RefreshPolicy
	// LockTTL bounds how long a held "cred:{id}" lock is honored before an
	// abandoned holder's lease expires (backend-dependent).
	LockTTL time.Duration
	// LockWaitBudget bounds how long Acquire blocks before surfacing Timeout.
	LockWaitBudget time.Duration
	// SaveRetryBudget bounds how many times a Conflict on StateStore.Save
	// is retried by reloading and re-deciding before the error surfaces.
	SaveRetryBudget int
	// CacheTTLCeiling caps the TTL used when populating the token cache,
	// even if the minted token's own lifetime is longer.
	CacheTTLCeiling time.Duration
	// ContinuationTTL bounds how long a NeedsInteraction's partial_state
	// survives before continue_credential must be called.
	ContinuationTTL time.Duration
	// ScopesInFingerprint includes requested scopes in the cache key;
	// disable it if every caller of a given credential wants the same
	// cached token regardless of what scopes it asks for.
	ScopesInFingerprint bool
	// RefreshRPS caps the aggregate rate of factory.refresh dispatches across
	// every credential, guarding the downstream authorization servers from a
	// burst of simultaneous expiries (e.g. many credentials minted together
	// and expiring within the same window). Zero disables the limiter.
	RefreshRPS float64
	// RefreshBurst is the token bucket burst size paired with RefreshRPS.
	RefreshBurst int
}

// DefaultManagerConfig mirrors pkg/oauthmanager/refresh_strategy.go's
// DefaultRefreshStrategy for the refresh policy, paired with
// conservative lock/cache defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RefreshPolicy:       DefaultRefreshPolicy(),
		LockTTL:             30 * time.Second,
		LockWaitBudget:      5 * time.Second,
		SaveRetryBudget:     3,
		CacheTTLCeiling:     15 * time.Minute,
		ContinuationTTL:     10 * time.Minute,
		ScopesInFingerprint: true,
		RefreshRPS:          50,
		RefreshBurst:        10,
	}
}

// Manager is the CredentialManager: the orchestrator that ties a Registry of
// Factory implementations to a StateStore, a tiered TokenCache, a
// NegativeCache, a DistributedLock, and a Sealer. It is the only component
// client code calls directly; everything else in this module is a
// collaborator it composes.
//
// Grounded on pkg/auth/manager.go's AuthManagerImpl for its logging-wrapped
// dispatch shape, and pkg/oauthmanager/oauthmanager.go's refreshCredential
// for the in-process refresh-dedup layer that sits in front of the
// cross-process DistributedLock.
type Manager struct {
	registry *Registry
	store    StateStore
	cache    TokenCache
	negCache NegativeCache
	lock     DistributedLock
	sealer   Sealer

	continuations *continuation.Store

	cfg     ManagerConfig
	logger  log.Logger
	metrics MetricsSink

	mu              sync.Mutex
	refreshInFlight map[ID]bool

	refreshLimiter *rate.Limiter
}

// NewManager wires a CredentialManager from its collaborators.
func NewManager(registry *Registry, store StateStore, cache TokenCache, negCache NegativeCache, lock DistributedLock, sealer Sealer, cfg ManagerConfig) *Manager {
	var limiter *rate.Limiter
	if cfg.RefreshRPS > 0 {
		burst := cfg.RefreshBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RefreshRPS), burst)
	}
	return &Manager{
		registry:        registry,
		store:           store,
		cache:           cache,
		negCache:        negCache,
		lock:            lock,
		sealer:          sealer,
		continuations:   continuation.New(),
		cfg:             cfg,
		logger:          log.NoOp{},
		metrics:         NoOpMetrics{},
		refreshInFlight: make(map[ID]bool),
		refreshLimiter:  limiter,
	}
}

// SetLogger overrides the manager's logger.
func (m *Manager) SetLogger(logger log.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetMetrics overrides the manager's metrics sink.
func (m *Manager) SetMetrics(metrics MetricsSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

const (
	issuedAtMetadataKey = "issued_at"
	typeNameMetadataKey = "type_name"
)

func fingerprint(id ID, scopes []string, includeScopes bool) string {
	h := sha256.New()
	h.Write([]byte(id))
	if includeScopes && len(scopes) > 0 {
		sorted := append([]string(nil), scopes...)
		sort.Strings(sorted)
		h.Write([]byte("|" + strings.Join(sorted, ",")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func stampMint(token *AccessToken, typeName string, now time.Time) *AccessToken {
	return token.
		WithMetadata(issuedAtMetadataKey, now.Format(time.RFC3339Nano)).
		WithMetadata(typeNameMetadataKey, typeName)
}

func issuedAtOf(token *AccessToken, fallback time.Time) time.Time {
	v, ok := token.Metadata(issuedAtMetadataKey)
	if !ok {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fallback
	}
	return t
}

// cacheSatisfies reports whether a cache hit is good enough to return
// without consulting the credential type. ShouldRefresh is trivially true
// for a token with no expires_at, which would otherwise force every
// get_token call for a non-refreshable type (api_key, basic_auth) through
// the lock/load/RefreshFromJSON path just to learn it is Unsupported; this
// short-circuits that once the type is known not to support refresh at
// all.
func (m *Manager) cacheSatisfies(tok *AccessToken, now time.Time) bool {
	if typeName, ok := tok.Metadata(typeNameMetadataKey); ok {
		if factory, err := m.registry.Get(typeName); err == nil && !factory.Metadata().SupportsRefresh {
			return true
		}
	}
	return !m.cfg.RefreshPolicy.ShouldRefresh(tok, issuedAtOf(tok, now), now)
}

func lockKey(id ID) string {
	return "cred:" + string(id)
}

// CreateCredential runs a Factory's initialize outside any lock. A
// NeedsInteraction outcome persists the partial_state under a freshly
// allocated continuation_id instead of allocating a CredentialId.
func (m *Manager) CreateCredential(ctx *Context, typeName string, inputJSON []byte) (ID, *Interaction, error) {
	factory, err := m.registry.Get(typeName)
	if err != nil {
		return "", nil, err
	}

	stateJSON, token, interaction, err := factory.InitializeFromJSON(ctx, inputJSON)
	if err != nil {
		m.logger.Warn("create_credential failed", "type", typeName, "error", err.Error())
		return "", nil, err
	}

	if interaction != nil {
		continuationID := uuid.NewString()
		m.continuations.Put(continuationID, typeName, interaction.PartialState, m.cfg.ContinuationTTL)
		interaction.ContinuationID = continuationID
		m.logger.Info("create_credential needs interaction", "type", typeName, "continuation_id", continuationID)
		return "", interaction, nil
	}

	id := ID(uuid.NewString())
	now := ctx.clock()
	sealed, err := m.sealer.Seal(ctx.Ctx, stateJSON)
	if err != nil {
		return "", nil, Wrap(KindStorageCorruption, "create_credential", err).WithCredential(string(id), typeName)
	}

	rec := &Record{
		CredentialID:   id,
		TypeName:       typeName,
		EncryptedState: sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusActive,
	}
	if _, err := m.store.Save(ctx, rec, ""); err != nil {
		return "", nil, err
	}

	if token != nil {
		m.populateCache(id, nil, stampMint(token, typeName, now), now)
	}
	m.metrics.IncrCounter("credential.create", map[string]string{"type": typeName})
	m.logger.Info("created credential", "type", typeName, "id", string(id))
	return id, nil, nil
}

// ContinueCredential resumes an initialize that previously returned a
// NeedsInteraction, looking up the saved partial_state by continuation_id.
func (m *Manager) ContinueCredential(ctx *Context, continuationID string, inputJSON []byte) (ID, *Interaction, error) {
	typeName, partialState, ok := m.continuations.Take(continuationID)
	if !ok {
		return "", nil, New(KindNotFound, "continue_credential", "unknown or expired continuation: "+continuationID)
	}

	factory, err := m.registry.Get(typeName)
	if err != nil {
		return "", nil, err
	}

	stateJSON, token, interaction, err := factory.ContinueFromJSON(ctx, partialState, inputJSON)
	if err != nil {
		m.logger.Warn("continue_credential failed", "type", typeName, "error", err.Error())
		return "", nil, err
	}

	if interaction != nil {
		nextID := uuid.NewString()
		m.continuations.Put(nextID, typeName, interaction.PartialState, m.cfg.ContinuationTTL)
		interaction.ContinuationID = nextID
		return "", interaction, nil
	}

	id := ID(uuid.NewString())
	now := ctx.clock()
	sealed, err := m.sealer.Seal(ctx.Ctx, stateJSON)
	if err != nil {
		return "", nil, Wrap(KindStorageCorruption, "continue_credential", err).WithCredential(string(id), typeName)
	}

	rec := &Record{
		CredentialID:   id,
		TypeName:       typeName,
		EncryptedState: sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusActive,
	}
	if _, err := m.store.Save(ctx, rec, ""); err != nil {
		return "", nil, err
	}

	if token != nil {
		m.populateCache(id, nil, stampMint(token, typeName, now), now)
	}
	m.metrics.IncrCounter("credential.continue", map[string]string{"type": typeName})
	m.logger.Info("continued credential", "type", typeName, "id", string(id))
	return id, nil, nil
}

// GetToken returns a usable AccessToken for id, refreshing it first if the
// configured RefreshPolicy says it is expiring, per the nine-step central
// path: negative-cache probe, cache probe, lock, double-checked re-probe,
// load+decrypt+dispatch, decide, persist (with bounded Conflict retry),
// populate caches, release.
func (m *Manager) GetToken(ctx *Context, id ID, scopes []string) (*AccessToken, error) {
	return m.resolve(ctx, id, scopes, false)
}

// RefreshCredential forces a refresh regardless of the cached token's
// expiry, via the same lock/load/dispatch pattern as GetToken.
func (m *Manager) RefreshCredential(ctx *Context, id ID) (*AccessToken, error) {
	return m.resolve(ctx, id, nil, true)
}

func (m *Manager) resolve(ctx *Context, id ID, scopes []string, force bool) (*AccessToken, error) {
	now := ctx.clock()
	fp := fingerprint(id, scopes, m.cfg.ScopesInFingerprint)
	waitBudget := ctx.waitBudget(m.cfg.LockWaitBudget)

	if !force {
		if kind, ok := m.negCache.Get(id); ok {
			return nil, New(kind, "get_token", "recent failure memoized for credential").WithCredential(string(id), "")
		}
		if tok, ok := m.cache.Get(fp); ok && m.cacheSatisfies(tok, now) {
			return tok.Clone(), nil
		}
	}

	deadline := now.Add(waitBudget)
	backoffCfg := retry.DefaultBackoffConfig()
	attempt := 0
	for {
		if m.tryClaimRefresh(id) {
			token, err := m.acquireAndRefresh(ctx, id, fp, scopes, force, now, waitBudget)
			m.releaseRefreshClaim(id)
			if err != nil && !force && KindOf(err) == KindUnsupported {
				// The credential type has no refresh cycle at all (e.g.
				// api_key, basic_auth): should_refresh's "trivially true
				// with no expires_at" rule means this path is always
				// attempted, but Unsupported here just means there was
				// never anything to refresh — serve whatever is on
				// record rather than failing a plain get_token call.
				// refresh_credential (force) still surfaces this error.
				if tok, ok := m.cache.Get(fp); ok {
					return tok.Clone(), nil
				}
			}
			return token, err
		}

		// Another goroutine in this process is already refreshing id; wait
		// for it instead of also contending for the DistributedLock,
		// matching refreshCredential's in-flight short-circuit but waiting
		// rather than failing, since a contending get_token caller should
		// still receive a token once the in-flight refresh lands.
		if !force {
			if tok, ok := m.cache.Get(fp); ok && m.cacheSatisfies(tok, now) {
				return tok.Clone(), nil
			}
		}
		if waitBudget > 0 && time.Now().After(deadline) {
			return nil, New(KindTimeout, "get_token", "wait budget exhausted waiting for in-flight refresh: "+string(id)).WithCredential(string(id), "")
		}
		attempt++
		select {
		case <-ctx.Ctx.Done():
			return nil, Wrap(KindCancelled, "get_token", ctx.Ctx.Err()).WithCredential(string(id), "")
		case <-time.After(retry.CalculateBackoff(backoffCfg, attempt)):
		}
	}
}

func (m *Manager) acquireAndRefresh(ctx *Context, id ID, fp string, scopes []string, force bool, now time.Time, waitBudget time.Duration) (*AccessToken, error) {
	guard, err := m.lock.Acquire(ctx, lockKey(id), m.cfg.LockTTL, waitBudget)
	if err != nil {
		m.metrics.IncrCounter("credential.lock_timeout", map[string]string{"id": string(id)})
		return nil, err
	}
	defer guard.Release()

	if !force {
		if tok, ok := m.cache.Get(fp); ok && m.cacheSatisfies(tok, now) {
			return tok.Clone(), nil
		}
	}

	return m.refreshLocked(ctx, id, scopes, now)
}

func (m *Manager) tryClaimRefresh(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshInFlight[id] {
		return false
	}
	m.refreshInFlight[id] = true
	return true
}

func (m *Manager) releaseRefreshClaim(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshInFlight, id)
}

// refreshLocked performs the load/dispatch/persist sequence while the
// DistributedLock guard for id is held by the caller. It retries on
// StateStore.Save Conflicts up to cfg.SaveRetryBudget, reloading and
// re-deciding on each attempt.
func (m *Manager) refreshLocked(ctx *Context, id ID, scopes []string, now time.Time) (*AccessToken, error) {
	attempts := m.cfg.SaveRetryBudget + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		rec, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status == StatusRevoked {
			return nil, New(KindNotFound, "get_token", "credential has been revoked: "+string(id)).WithCredential(string(id), rec.TypeName)
		}

		factory, err := m.registry.Get(rec.TypeName)
		if err != nil {
			return nil, err
		}

		stateJSON, err := m.sealer.Unseal(ctx.Ctx, rec.EncryptedState)
		if err != nil {
			m.markCorrupt(ctx, rec, err)
			return nil, Wrap(KindStorageCorruption, "get_token", err).WithCredential(string(id), rec.TypeName)
		}

		if m.refreshLimiter != nil {
			if err := m.refreshLimiter.Wait(ctx.Ctx); err != nil {
				return nil, Wrap(KindCancelled, "get_token", err).WithCredential(string(id), rec.TypeName)
			}
		}

		newStateJSON, token, err := factory.RefreshFromJSON(ctx, stateJSON)
		if err != nil {
			return nil, m.handleRefreshFailure(ctx, rec, err)
		}

		rec.EncryptedState, err = m.sealer.Seal(ctx.Ctx, newStateJSON)
		if err != nil {
			return nil, Wrap(KindStorageCorruption, "get_token", err).WithCredential(string(id), rec.TypeName)
		}
		rec.UpdatedAt = now
		rec.LastRefreshedAt = &now
		rec.RefreshCount++
		rec.Status = StatusActive

		if _, err := m.store.Save(ctx, rec, rec.VersionToken); err != nil {
			if KindOf(err) == KindConflict {
				lastErr = err
				continue // another writer won; reload and re-decide
			}
			m.negCache.Set(id, KindTransient, NegativeCacheTTL(KindTransient))
			return nil, err
		}

		m.populateCache(id, scopes, stampMint(token, rec.TypeName, now), now)
		m.negCache.Invalidate(id)
		m.metrics.IncrCounter("credential.refresh", map[string]string{"type": rec.TypeName})
		m.logger.Info("refreshed credential", "id", string(id), "type", rec.TypeName)
		return token, nil
	}
	// KindConflict never reaches a caller: once the save-retry budget is
	// exhausted it is reported as Transient, since a fresh call stands a fair
	// chance of winning the race against the other writer.
	return nil, Wrap(KindTransient, "get_token", lastErr).WithCredential(string(id), "")
}

func (m *Manager) handleRefreshFailure(ctx *Context, rec *Record, err error) error {
	kind := KindOf(err)
	if kind == KindUnsupported {
		// The credential type has no refresh cycle (e.g. api_key,
		// basic_auth); this is not a failure of the credential itself, so
		// leave its record and any already-cached token untouched.
		return err
	}

	if kind == KindAuthenticationFailed {
		rec.Status = StatusError
		rec.UpdatedAt = ctx.clock()
		_, _ = m.store.Save(ctx, rec, rec.VersionToken)
		m.negCache.Set(rec.CredentialID, kind, NegativeCacheTTL(kind))
		m.logger.Error("credential refresh failed authentication", "id", string(rec.CredentialID), "error", err.Error())
		return err
	}

	m.negCache.Set(rec.CredentialID, KindTransient, NegativeCacheTTL(KindTransient))
	return err
}

func (m *Manager) markCorrupt(ctx *Context, rec *Record, cause error) {
	rec.Status = StatusError
	rec.UpdatedAt = ctx.clock()
	_, _ = m.store.Save(ctx, rec, rec.VersionToken)
	m.negCache.Set(rec.CredentialID, KindStorageCorruption, NegativeCacheTTL(KindStorageCorruption))
	m.logger.Error("credential state failed to decrypt", "id", string(rec.CredentialID), "error", cause.Error())
	m.metrics.IncrCounter("credential.storage_corruption", map[string]string{"id": string(rec.CredentialID)})
}

// nonExpiringCacheTTL is used for tokens with no ExpiresAt (e.g. api_key,
// basic_auth): RefreshPolicy.ShouldRefresh already treats such tokens as
// trivially expiring, so capping their cache lifetime at CacheTTLCeiling
// would force a RefreshFromJSON call the credential type cannot honor
// (Metadata().SupportsRefresh is false for both). A long, effectively
// unbounded TTL keeps the cache hit path the steady state instead.
const nonExpiringCacheTTL = 10 * 365 * 24 * time.Hour

func (m *Manager) populateCache(id ID, scopes []string, token *AccessToken, now time.Time) {
	expiresAt, ok := token.ExpiresAt()
	if !ok {
		m.cache.Set(fingerprint(id, scopes, m.cfg.ScopesInFingerprint), token, nonExpiringCacheTTL)
		return
	}

	ttl := m.cfg.CacheTTLCeiling
	if remaining := expiresAt.Sub(now) - m.cfg.RefreshPolicy.MinimumSkew; remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}
	m.cache.Set(fingerprint(id, scopes, m.cfg.ScopesInFingerprint), token, ttl)
}

// ValidateCredential loads and dispatches to a Factory's ValidateFromJSON
// under the same lock/load pattern as GetToken, fixed to the validate
// operation.
func (m *Manager) ValidateCredential(ctx *Context, id ID) (bool, error) {
	guard, err := m.lock.Acquire(ctx, lockKey(id), m.cfg.LockTTL, m.cfg.LockWaitBudget)
	if err != nil {
		return false, err
	}
	defer guard.Release()

	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.Status == StatusRevoked {
		return false, nil
	}

	factory, err := m.registry.Get(rec.TypeName)
	if err != nil {
		return false, err
	}

	stateJSON, err := m.sealer.Unseal(ctx.Ctx, rec.EncryptedState)
	if err != nil {
		m.markCorrupt(ctx, rec, err)
		return false, Wrap(KindStorageCorruption, "validate_credential", err).WithCredential(string(id), rec.TypeName)
	}

	return factory.ValidateFromJSON(ctx, stateJSON)
}

// RevokeCredential best-effort calls the Factory's revoke and marks the
// record Revoked, invalidating any cached token.
func (m *Manager) RevokeCredential(ctx *Context, id ID) error {
	guard, err := m.lock.Acquire(ctx, lockKey(id), m.cfg.LockTTL, m.cfg.LockWaitBudget)
	if err != nil {
		return err
	}
	defer guard.Release()

	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}

	if factory, ferr := m.registry.Get(rec.TypeName); ferr == nil {
		if stateJSON, derr := m.sealer.Unseal(ctx.Ctx, rec.EncryptedState); derr == nil {
			if newStateJSON, rerr := factory.RevokeFromJSON(ctx, stateJSON); rerr == nil {
				if sealed, serr := m.sealer.Seal(ctx.Ctx, newStateJSON); serr == nil {
					rec.EncryptedState = sealed
				}
			} else {
				m.logger.Warn("revoke_from_json failed, marking revoked anyway", "id", string(id), "error", rerr.Error())
			}
		}
	}

	rec.Status = StatusRevoked
	rec.UpdatedAt = ctx.clock()
	if _, err := m.store.Save(ctx, rec, rec.VersionToken); err != nil {
		return err
	}

	m.invalidateAll(id)
	m.metrics.IncrCounter("credential.revoke", map[string]string{"type": rec.TypeName})
	m.logger.Info("revoked credential", "id", string(id), "type", rec.TypeName)
	return nil
}

// DeleteCredential removes the record entirely after a best-effort revoke.
func (m *Manager) DeleteCredential(ctx *Context, id ID) error {
	guard, err := m.lock.Acquire(ctx, lockKey(id), m.cfg.LockTTL, m.cfg.LockWaitBudget)
	if err != nil {
		return err
	}
	defer guard.Release()

	rec, err := m.store.Load(ctx, id)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil
		}
		return err
	}

	if factory, ferr := m.registry.Get(rec.TypeName); ferr == nil {
		if stateJSON, derr := m.sealer.Unseal(ctx.Ctx, rec.EncryptedState); derr == nil {
			_, _ = factory.RevokeFromJSON(ctx, stateJSON)
		}
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	m.invalidateAll(id)
	m.metrics.IncrCounter("credential.delete", map[string]string{"id": string(id)})
	m.logger.Info("deleted credential", "id", string(id))
	return nil
}

// invalidateAll removes every cache entry touching id. Since the token
// cache is keyed by fingerprint(id, scopes) and scopes are caller-supplied,
// the manager cannot enumerate every fingerprint that was ever populated;
// it invalidates the no-scope fingerprint (the common case) and relies on
// the cache's own TTL to expire any scoped entries left behind.
func (m *Manager) invalidateAll(id ID) {
	m.cache.Invalidate(fingerprint(id, nil, m.cfg.ScopesInFingerprint))
	m.negCache.Invalidate(id)
}
