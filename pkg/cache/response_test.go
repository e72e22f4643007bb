package cache

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestNewCachedResponse(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v1/tracks/abc", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Accept", "application/json")

	payload := `{"id": "abc", "name": "song"}`
	resp := NewCachedResponse(req, payload)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Status != StatusCached {
		t.Errorf("Status = %q, want %q", resp.Status, StatusCached)
	}
	if got := resp.Header.Get("Authorization"); got != "Bearer token" {
		t.Errorf("request headers not mirrored, Authorization = %q", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if string(body) != payload {
		t.Errorf("body = %q, want byte-identical payload %q", body, payload)
	}

	// JSON decoding must behave as against a live response.
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decoding body failed: %v", err)
	}
	if decoded["name"] != "song" {
		t.Errorf("decoded body = %#v", decoded)
	}
}

func TestIsCachedResponse(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		want bool
	}{
		{
			name: "cached response",
			resp: NewCachedResponse(nil, "{}"),
			want: true,
		},
		{
			name: "live response",
			resp: &http.Response{Status: "200 OK", StatusCode: http.StatusOK},
			want: false,
		},
		{
			name: "nil response",
			resp: nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCachedResponse(tt.resp); got != tt.want {
				t.Errorf("IsCachedResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}
