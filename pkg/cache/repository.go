package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundmirror/soundmirror/pkg/logging"
)

// DefaultExpiry is the TTL applied to cached responses when the cache is
// not configured otherwise.
const DefaultExpiry = 7 * 24 * time.Hour

// Store is the persistence contract a backend implements. One store serves
// every repository opened against the same cache instance and shares a
// single backend connection between them; closing the store invalidates
// all repositories sharing it. Implementations return ErrClosed once the
// connection has been closed and are responsible for their own internal
// write serialization.
type Store interface {
	// CreateRepository idempotently ensures backing storage for the given
	// settings exists, e.g. a table plus its expiry index.
	CreateRepository(ctx context.Context, settings RequestSettings) error

	// Count returns the number of entries, including expired ones only
	// when includeExpired is set.
	Count(ctx context.Context, settings RequestSettings, includeExpired bool) (int, error)

	// Contains reports whether a non-expired entry exists for the key.
	Contains(ctx context.Context, settings RequestSettings, key Key) (bool, error)

	// Get returns the stored value for a non-expired entry. Absence,
	// whether missing or expired, is reported as found=false, not as an
	// error.
	Get(ctx context.Context, settings RequestSettings, key Key) (value string, found bool, err error)

	// Set fully replaces the entry for key, resetting its expiry.
	Set(ctx context.Context, settings RequestSettings, key Key, name, value string, expiresAt time.Time) error

	// Delete removes the entry for key, reporting whether one existed.
	Delete(ctx context.Context, settings RequestSettings, key Key) (bool, error)

	// Clear removes all entries, or only expired ones, returning the
	// number removed.
	Clear(ctx context.Context, settings RequestSettings, expiredOnly bool) (int, error)

	// Commit flushes pending writes for backends with deferred writes.
	// A no-op for autocommit backends.
	Commit(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Backend couples a Store with its backend kind identifier, used for
// configuration and selection.
type Backend interface {
	Store

	// Type identifies the backend kind, e.g. "sqlite" or "redis".
	Type() string
}

// Repository is a single logical collection of cached responses for one
// endpoint family, backed by one table/collection in the store. It derives
// keys from requests via its settings and applies a sliding-from-write TTL
// to every entry.
type Repository struct {
	store    Store
	settings RequestSettings
	expiry   time.Duration
	logger   zerolog.Logger
}

// NewRepository wires settings to a store. Expiry <= 0 falls back to
// DefaultExpiry.
func NewRepository(store Store, settings RequestSettings, expiry time.Duration) *Repository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Repository{
		store:    store,
		settings: settings,
		expiry:   expiry,
		logger:   logging.NewLogger("cache").With().Str("repository", settings.Name()).Logger(),
	}
}

// Settings returns the request settings this repository was created with.
func (r *Repository) Settings() RequestSettings { return r.settings }

// Expire returns the expiry timestamp for a write happening now. It is
// evaluated fresh on each call so TTLs slide from the write time.
func (r *Repository) Expire() time.Time {
	return time.Now().Add(r.expiry)
}

// Create idempotently ensures the backing storage for this repository
// exists.
func (r *Repository) Create(ctx context.Context) error {
	return r.store.CreateRepository(ctx, r.settings)
}

// Count returns the number of entries in this repository.
func (r *Repository) Count(ctx context.Context, includeExpired bool) (int, error) {
	return r.store.Count(ctx, r.settings, includeExpired)
}

// ContainsKey reports whether a non-expired entry exists for the key.
func (r *Repository) ContainsKey(ctx context.Context, key Key) (bool, error) {
	return r.store.Contains(ctx, r.settings, key)
}

// Contains reports whether a non-expired entry exists for the request's
// derived key. An underivable key reads as absent.
func (r *Repository) Contains(ctx context.Context, req *http.Request) (bool, error) {
	key, ok := KeyFromRequest(r.settings, req)
	if !ok {
		return false, nil
	}
	return r.ContainsKey(ctx, key)
}

// Get returns the cached value for key. Absence is not an error.
func (r *Repository) Get(ctx context.Context, key Key) (string, bool, error) {
	return r.store.Get(ctx, r.settings, key)
}

// Set stores value under key, resetting the entry's TTL. The display name
// is extracted from the deserialized value when the settings support it.
func (r *Repository) Set(ctx context.Context, key Key, value string) error {
	serialized, err := Serialize(value)
	if err != nil {
		return fmt.Errorf("serialize value: %w", err)
	}

	var name string
	if payload, err := Deserialize(serialized); err == nil {
		name = r.settings.ResponseName(payload)
	}

	return r.store.Set(ctx, r.settings, key, name, serialized, r.Expire())
}

// GetResponse returns the cached value for the request's derived key.
// Returns found=false for underivable keys, misses, and expired entries.
func (r *Repository) GetResponse(ctx context.Context, req *http.Request) (string, bool, error) {
	key, ok := KeyFromRequest(r.settings, req)
	if !ok {
		return "", false, nil
	}
	return r.Get(ctx, key)
}

// GetResponses is a best-effort bulk fetch dispatched concurrently.
// Absent entries are silently omitted and the result order carries no
// relation to the input order; callers needing correspondence must pair
// by key.
func (r *Repository) GetResponses(ctx context.Context, reqs []*http.Request) ([]string, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]string, 0, len(reqs))
	)

	for _, req := range reqs {
		wg.Add(1)
		go func(req *http.Request) {
			defer wg.Done()

			value, found, err := r.GetResponse(ctx, req)
			if err != nil {
				r.logger.Warn().Err(err).Msg("Bulk get failed for request")
				return
			}
			if !found {
				return
			}

			mu.Lock()
			results = append(results, value)
			mu.Unlock()
		}(req)
	}
	wg.Wait()

	return results, nil
}

// SaveResponse persists a response body under the key derived from the
// response's originating request. Responses without a derivable key and
// bodies that cannot be serialized are skipped silently: persistence
// failures for individual items never abort batch operations. The response
// body is restored for the caller.
func (r *Repository) SaveResponse(ctx context.Context, resp *http.Response) error {
	key, ok := KeyFromResponse(r.settings, resp)
	if !ok {
		r.logger.Debug().Msg("No cache key derivable from response, skipping save")
		return nil
	}

	body, err := readAndRestoreBody(resp)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if err := r.Set(ctx, key, string(body)); err != nil {
		r.logger.Debug().Err(err).Str("id", key.ID).Msg("Response not cacheable, skipping save")
		return nil
	}

	CacheSaves.WithLabelValues(r.settings.Name()).Inc()
	return nil
}

// SaveResponses persists a batch of responses with the same silent
// per-item failure policy as SaveResponse.
func (r *Repository) SaveResponses(ctx context.Context, resps []*http.Response) error {
	for _, resp := range resps {
		if err := r.SaveResponse(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

// DeleteKey removes the entry for key, reporting whether one existed.
// Not-found is not an error.
func (r *Repository) DeleteKey(ctx context.Context, key Key) (bool, error) {
	return r.store.Delete(ctx, r.settings, key)
}

// DeleteResponse removes the entry for the request's derived key.
func (r *Repository) DeleteResponse(ctx context.Context, req *http.Request) (bool, error) {
	key, ok := KeyFromRequest(r.settings, req)
	if !ok {
		return false, nil
	}
	return r.DeleteKey(ctx, key)
}

// DeleteResponses removes the entries for a batch of requests, returning
// the number actually removed.
func (r *Repository) DeleteResponses(ctx context.Context, reqs []*http.Request) (int, error) {
	deleted := 0
	for _, req := range reqs {
		removed, err := r.DeleteResponse(ctx, req)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes all entries, or only expired ones, returning the number
// removed.
func (r *Repository) Clear(ctx context.Context, expiredOnly bool) (int, error) {
	return r.store.Clear(ctx, r.settings, expiredOnly)
}

// Commit flushes pending writes on the shared store.
func (r *Repository) Commit(ctx context.Context) error {
	return r.store.Commit(ctx)
}

// Close flushes and releases the shared backend connection. All
// repositories sharing the connection become unusable.
func (r *Repository) Close() error {
	if err := r.store.Commit(context.Background()); err != nil {
		r.logger.Warn().Err(err).Msg("Commit on close failed")
	}
	return r.store.Close()
}

// Serialize encodes a value to the text form persisted in a repository.
// Structured values are JSON-encoded; string input must itself be valid
// JSON and is re-encoded, making Serialize idempotent on already
// serialized strings.
func Serialize(value any) (string, error) {
	if s, ok := value.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return "", fmt.Errorf("value is not valid JSON: %w", err)
		}
		value = decoded
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(encoded), nil
}

// Deserialize decodes a persisted value back to its structured form.
// It is the inverse of Serialize: Deserialize(Serialize(v)) == v for
// structured values.
func Deserialize(value string) (any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return decoded, nil
}

// readAndRestoreBody drains a response body and replaces it with an
// equivalent reader so the caller can still consume it.
func readAndRestoreBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
