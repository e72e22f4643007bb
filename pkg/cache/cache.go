// Package cache provides a response cache for remote API requests: named
// repositories of cached responses keyed by logical request identity,
// routed by a pluggable URL dispatch function and persisted through a
// swappable storage backend.
package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundmirror/soundmirror/pkg/logging"
)

// RepositoryGetter maps a URL to the name of the repository responsible
// for it, or "" when no repository matches. This is the seam between the
// generic cache and the endpoint naming conventions of a specific remote
// API.
type RepositoryGetter func(c *Cache, u *url.URL) string

// Cache is a named collection of repositories sharing one backend
// connection, plus the dispatch function that routes requests to them.
type Cache struct {
	name    string
	backend Backend
	getter  RepositoryGetter
	expiry  time.Duration
	logger  zerolog.Logger

	mu           sync.RWMutex
	repositories map[string]*Repository

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Cache.
type Option func(*Cache)

// WithRepositoryGetter sets the URL-to-repository dispatch function.
func WithRepositoryGetter(getter RepositoryGetter) Option {
	return func(c *Cache) { c.getter = getter }
}

// WithExpiry sets the default TTL applied to responses cached through
// repositories created by this cache.
func WithExpiry(expiry time.Duration) Option {
	return func(c *Cache) { c.expiry = expiry }
}

// New creates a cache over the given backend. The name identifies the
// cache instance, e.g. the backing file path.
func New(name string, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		name:         name,
		backend:      backend,
		expiry:       DefaultExpiry,
		logger:       logging.NewLogger("cache").With().Str("cache", name).Logger(),
		repositories: make(map[string]*Repository),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the cache instance name.
func (c *Cache) Name() string { return c.name }

// Type identifies the backend kind of this cache.
func (c *Cache) Type() string { return c.backend.Type() }

// SetRepositoryGetter replaces the URL dispatch function.
func (c *Cache) SetRepositoryGetter(getter RepositoryGetter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getter = getter
}

// CreateRepository creates the backing storage for the given settings and
// registers the repository under its name. Creating a repository whose
// name is already registered fails with ErrRepositoryExists.
func (c *Cache) CreateRepository(ctx context.Context, settings RequestSettings) (*Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := settings.Name()
	if _, exists := c.repositories[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryExists, name)
	}

	repository := NewRepository(c.backend, settings, c.expiry)
	if err := repository.Create(ctx); err != nil {
		return nil, fmt.Errorf("create repository %s: %w", name, err)
	}

	c.repositories[name] = repository
	c.logger.Debug().Str("repository", name).Msg("Repository created")
	return repository, nil
}

// Repository returns the registered repository with the given name.
func (c *Cache) Repository(name string) (*Repository, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	repository, ok := c.repositories[name]
	return repository, ok
}

// RepositoryNames returns the names of all registered repositories.
func (c *Cache) RepositoryNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.repositories))
	for name := range c.repositories {
		names = append(names, name)
	}
	return names
}

// RepositoryForURL resolves the repository responsible for a URL via the
// dispatch function. Returns nil when no getter is configured or no
// repository matches; caching is opportunistic for unmapped endpoints.
func (c *Cache) RepositoryForURL(u *url.URL) *Repository {
	c.mu.RLock()
	getter := c.getter
	c.mu.RUnlock()

	if getter == nil || u == nil {
		return nil
	}

	name := getter(c, u)
	if name == "" {
		return nil
	}

	repository, _ := c.Repository(name)
	return repository
}

// RepositoryForRequests resolves the single repository responsible for a
// batch of requests. A batch spanning more than one distinct repository
// fails with ErrMixedRepositories; batches must be homogeneous. A batch
// of entirely unmapped requests resolves to nil without error.
func (c *Cache) RepositoryForRequests(reqs []*http.Request) (*Repository, error) {
	var (
		resolved *Repository
		seen     bool
	)
	for _, req := range reqs {
		repository := c.RepositoryForURL(req.URL)
		if seen && repository != resolved {
			return nil, fmt.Errorf("%w: batch spans multiple repositories", ErrMixedRepositories)
		}
		resolved = repository
		seen = true
	}
	return resolved, nil
}

// GetResponse returns the cached value for a request from the repository
// responsible for it. Unmapped requests read as absent.
func (c *Cache) GetResponse(ctx context.Context, req *http.Request) (string, bool, error) {
	repository, err := c.RepositoryForRequests([]*http.Request{req})
	if err != nil || repository == nil {
		return "", false, err
	}
	return repository.GetResponse(ctx, req)
}

// GetResponses returns the cached values for a homogeneous batch of
// requests. Results are unordered relative to the input.
func (c *Cache) GetResponses(ctx context.Context, reqs []*http.Request) ([]string, error) {
	repository, err := c.RepositoryForRequests(reqs)
	if err != nil || repository == nil {
		return nil, err
	}
	return repository.GetResponses(ctx, reqs)
}

// SaveResponse persists a response through the repository responsible for
// it. A no-op for unmapped responses.
func (c *Cache) SaveResponse(ctx context.Context, resp *http.Response) error {
	if resp == nil || resp.Request == nil {
		return nil
	}
	repository, err := c.RepositoryForRequests([]*http.Request{resp.Request})
	if err != nil || repository == nil {
		return err
	}
	return repository.SaveResponse(ctx, resp)
}

// SaveResponses persists a homogeneous batch of responses.
func (c *Cache) SaveResponses(ctx context.Context, resps []*http.Response) error {
	reqs := make([]*http.Request, 0, len(resps))
	for _, resp := range resps {
		if resp != nil && resp.Request != nil {
			reqs = append(reqs, resp.Request)
		}
	}

	repository, err := c.RepositoryForRequests(reqs)
	if err != nil || repository == nil {
		return err
	}
	return repository.SaveResponses(ctx, resps)
}

// DeleteResponse removes the cached entry for a request. A no-op for
// unmapped requests.
func (c *Cache) DeleteResponse(ctx context.Context, req *http.Request) (bool, error) {
	repository, err := c.RepositoryForRequests([]*http.Request{req})
	if err != nil || repository == nil {
		return false, err
	}
	return repository.DeleteResponse(ctx, req)
}

// DeleteResponses removes the cached entries for a homogeneous batch of
// requests, returning the number removed.
func (c *Cache) DeleteResponses(ctx context.Context, reqs []*http.Request) (int, error) {
	repository, err := c.RepositoryForRequests(reqs)
	if err != nil || repository == nil {
		return 0, err
	}
	return repository.DeleteResponses(ctx, reqs)
}

// Commit flushes pending writes on the backend.
func (c *Cache) Commit(ctx context.Context) error {
	return c.backend.Commit(ctx)
}

// Close flushes and releases the backend connection. It is safe to call
// from any exit path and runs exactly once; subsequent calls return the
// first result.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		if err := c.backend.Commit(context.Background()); err != nil {
			c.logger.Warn().Err(err).Msg("Commit on close failed")
		}
		c.closeErr = c.backend.Close()
	})
	return c.closeErr
}
