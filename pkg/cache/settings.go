package cache

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Key field names, in the order they appear in a cache key and in the
// columns of a backing table.
const (
	FieldMethod = "method"
	FieldID     = "id"
	FieldOffset = "offset"
	FieldSize   = "size"
)

// Key identifies a cached response within a repository. Method and ID are
// always set; Offset and Size only carry meaning for paginated settings and
// default to 0 when the URL carries no pagination parameters.
type Key struct {
	Method string
	ID     string
	Offset int
	Size   int
}

// Values returns the key components in the order given by fields.
func (k Key) Values(fields []string) []any {
	values := make([]any, 0, len(fields))
	for _, field := range fields {
		switch field {
		case FieldMethod:
			values = append(values, k.Method)
		case FieldID:
			values = append(values, k.ID)
		case FieldOffset:
			values = append(values, k.Offset)
		case FieldSize:
			values = append(values, k.Size)
		}
	}
	return values
}

// RequestSettings describes how requests for one endpoint family map to
// cache keys and how responses map to display names. Implementations must
// be pure: two requests with the same method and resolved resource identity
// always produce the same key.
type RequestSettings interface {
	// Name identifies the repository backed by these settings. It is used
	// as the table/collection name in the backend and must be unique
	// within a cache and stable across restarts.
	Name() string

	// Fields returns the ordered key component names for this endpoint
	// family, e.g. [method, id] or [method, id, offset, size].
	Fields() []string

	// Key derives the cache key for a request. The second return value is
	// false when no key can be derived from the URL.
	Key(method string, u *url.URL) (Key, bool)

	// ResponseName extracts a human-friendly label from a decoded response
	// payload for logging. Returns "" when no label is available. It is
	// independent of the cache key.
	ResponseName(payload any) string
}

// EndpointSettings configures a repository for a singular or bulk resource
// endpoint keyed by (method, id).
type EndpointSettings struct {
	// RepositoryName is the backend table/collection name.
	RepositoryName string

	// IDFunc extracts the resource identifier from a URL. Returning ""
	// means no key can be derived.
	IDFunc func(u *url.URL) string

	// NameFunc extracts a display name from a decoded payload. Optional.
	NameFunc func(payload any) string
}

func (s *EndpointSettings) Name() string { return s.RepositoryName }

func (s *EndpointSettings) Fields() []string {
	return []string{FieldMethod, FieldID}
}

func (s *EndpointSettings) Key(method string, u *url.URL) (Key, bool) {
	id := s.resolveID(u)
	if id == "" {
		return Key{}, false
	}
	return Key{Method: strings.ToUpper(method), ID: id}, true
}

func (s *EndpointSettings) resolveID(u *url.URL) string {
	if u == nil || s.IDFunc == nil {
		return ""
	}
	return s.IDFunc(u)
}

func (s *EndpointSettings) ResponseName(payload any) string {
	if s.NameFunc == nil {
		return ""
	}
	return s.NameFunc(payload)
}

// PaginatedEndpointSettings configures a repository for a paginated
// endpoint keyed by (method, id, offset, size). Pagination parameters are
// read from the URL query and normalized to integers, defaulting to 0.
type PaginatedEndpointSettings struct {
	EndpointSettings

	// OffsetParam is the query parameter holding the page offset.
	// Defaults to "offset".
	OffsetParam string

	// SizeParam is the query parameter holding the page size. Defaults to
	// "limit".
	SizeParam string
}

func (s *PaginatedEndpointSettings) Fields() []string {
	return []string{FieldMethod, FieldID, FieldOffset, FieldSize}
}

func (s *PaginatedEndpointSettings) Key(method string, u *url.URL) (Key, bool) {
	key, ok := s.EndpointSettings.Key(method, u)
	if !ok {
		return Key{}, false
	}

	query := u.Query()
	key.Offset = queryInt(query, s.offsetParam())
	key.Size = queryInt(query, s.sizeParam())
	return key, true
}

func (s *PaginatedEndpointSettings) offsetParam() string {
	if s.OffsetParam == "" {
		return "offset"
	}
	return s.OffsetParam
}

func (s *PaginatedEndpointSettings) sizeParam() string {
	if s.SizeParam == "" {
		return "limit"
	}
	return s.SizeParam
}

func queryInt(query url.Values, param string) int {
	value, err := strconv.Atoi(query.Get(param))
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// KeyFromRequest derives the cache key for a request using the given
// settings. Returns false when no key can be derived.
func KeyFromRequest(settings RequestSettings, req *http.Request) (Key, bool) {
	if req == nil || req.URL == nil {
		return Key{}, false
	}
	return settings.Key(req.Method, req.URL)
}

// KeyFromResponse derives the cache key for the request that produced a
// response. Returns false when the response carries no request or no key
// can be derived.
func KeyFromResponse(settings RequestSettings, resp *http.Response) (Key, bool) {
	if resp == nil || resp.Request == nil {
		return Key{}, false
	}
	return KeyFromRequest(settings, resp.Request)
}

// PathID returns an IDFunc that extracts the path segment immediately
// following the given resource segment, e.g. PathID("tracks") resolves
// "/v1/tracks/abc123" to "abc123".
func PathID(resource string) func(u *url.URL) string {
	return func(u *url.URL) string {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i, part := range parts {
			if part == resource && i+1 < len(parts) {
				return parts[i+1]
			}
		}
		return ""
	}
}
