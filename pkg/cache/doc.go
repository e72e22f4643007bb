// Package cache implements the response cache every remote-API request
// passes through.
//
// A Cache is a named collection of repositories. Each Repository holds the
// cached responses of one endpoint family in one table/collection of a
// pluggable storage Backend, keyed by the logical identity of the request
// (method + resource id, plus offset and page size for paginated
// endpoints). An injected RepositoryGetter routes URLs to repositories,
// keeping the cache itself independent of any remote API's naming scheme.
//
// # Basic Usage
//
//	store, err := sqlite.Connect("spotify")
//	if err != nil {
//		return err
//	}
//	c := cache.New("spotify", store, cache.WithRepositoryGetter(getter))
//	defer c.Close()
//
//	repo, err := c.CreateRepository(ctx, &cache.EndpointSettings{
//		RepositoryName: "tracks",
//		IDFunc:         cache.PathID("tracks"),
//	})
//
// # Cached Sessions
//
// CachedSession wraps an *http.Client. On each request it consults the
// routed repository first; a hit yields a reconstructed response with
// status "200 cached" that behaves identically to a live response. On a
// miss the real network call runs and, for successful responses, the body
// is persisted back through the repository. Backend failures on either
// path are logged and absorbed: caching is best-effort.
//
// # Expiry
//
// Entries carry an absolute expiry timestamp assigned at write time
// (default one week). Every read filters expired entries unless asked
// otherwise; overwriting an entry resets its TTL.
//
// Concurrent requests for the same uncached key are not coalesced; both
// will hit the network.
package cache
