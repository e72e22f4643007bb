package cache

import "errors"

// Errors returned by caches and repositories. Ordinary cache misses are
// never reported as errors; they surface as a false "found" result.
var (
	// ErrRepositoryExists is returned when creating a repository whose
	// name is already registered in the cache.
	ErrRepositoryExists = errors.New("repository already exists")

	// ErrMixedRepositories is returned when a batch of requests resolves
	// to more than one distinct repository. Batches must be homogeneous.
	ErrMixedRepositories = errors.New("requests resolve to different repositories")

	// ErrClosed is returned when operating on a cache or repository whose
	// backend connection has been closed.
	ErrClosed = errors.New("cache connection closed")
)
