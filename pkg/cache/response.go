package cache

import (
	"io"
	"net/http"
	"strings"
)

// StatusCached is the status line carried by responses reconstructed from
// the cache. The 200 status code keeps cached responses indistinguishable
// from live successes for calling code; the reason text distinguishes them
// for logging and metrics.
const StatusCached = "200 cached"

// NewCachedResponse reconstructs an HTTP response from a cached payload
// with no network I/O. The original request headers are mirrored onto the
// response and the body reads the cached payload byte for byte, so any
// code path that consumes a live response behaves identically against a
// cached one.
func NewCachedResponse(req *http.Request, payload string) *http.Response {
	header := make(http.Header)
	if req != nil {
		for name, values := range req.Header {
			header[name] = append([]string(nil), values...)
		}
	}

	return &http.Response{
		Status:        StatusCached,
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}
}

// IsCachedResponse reports whether a response was reconstructed from the
// cache rather than received from the network.
func IsCachedResponse(resp *http.Response) bool {
	return resp != nil && resp.Status == StatusCached
}
