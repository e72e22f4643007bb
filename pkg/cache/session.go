package cache

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundmirror/soundmirror/pkg/logging"
)

// CachedSession wraps an HTTP client so that every outbound request
// consults the cache first and persists cacheable successful responses
// afterwards. Cache backend failures never abort the outbound request;
// only network failures propagate.
type CachedSession struct {
	client *http.Client
	cache  *Cache
	logger zerolog.Logger
}

// NewCachedSession wraps client with the given cache. A nil client falls
// back to a default client with a 30 second timeout.
func NewCachedSession(c *Cache, client *http.Client) *CachedSession {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CachedSession{
		client: client,
		cache:  c,
		logger: logging.NewLogger("cached-session"),
	}
}

// Cache returns the response cache backing this session.
func (s *CachedSession) Cache() *Cache { return s.cache }

// Do sends a request through the cache, persisting any live successful
// response.
func (s *CachedSession) Do(req *http.Request) (*http.Response, error) {
	return s.DoPersist(req, true)
}

// DoPersist sends a request through the cache. When persist is false a
// live response is returned without being written back to the cache.
func (s *CachedSession) DoPersist(req *http.Request, persist bool) (*http.Response, error) {
	ctx := req.Context()

	repository, err := s.cache.RepositoryForRequests([]*http.Request{req})
	if err != nil {
		return nil, err
	}

	if repository != nil {
		payload, found, err := repository.GetResponse(ctx, req)
		if err != nil {
			CacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache read failed, falling back to network")
		} else if found {
			CacheHits.WithLabelValues(repository.Settings().Name()).Inc()
			s.logger.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Msg("Cache hit")
			return NewCachedResponse(req, payload), nil
		} else {
			CacheMisses.WithLabelValues(repository.Settings().Name()).Inc()
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	// Never re-cache an already-cached response, and only persist
	// successful live responses.
	if persist && repository != nil && !IsCachedResponse(resp) && resp.StatusCode < 400 {
		if err := repository.SaveResponse(ctx, resp); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			s.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache write failed")
		}
	}

	return resp, nil
}
