package redis

import (
	"testing"

	"github.com/soundmirror/soundmirror/pkg/cache"
)

func TestKeyLayout(t *testing.T) {
	store := &Store{namespace: "soundmirror"}

	simple := &cache.EndpointSettings{RepositoryName: "tracks"}
	paginated := &cache.PaginatedEndpointSettings{
		EndpointSettings: cache.EndpointSettings{RepositoryName: "album_tracks"},
	}

	tests := []struct {
		name     string
		settings cache.RequestSettings
		key      cache.Key
		want     string
	}{
		{
			name:     "simple key",
			settings: simple,
			key:      cache.Key{Method: "GET", ID: "abc"},
			want:     "soundmirror:tracks:GET:abc",
		},
		{
			name:     "paginated key",
			settings: paginated,
			key:      cache.Key{Method: "GET", ID: "xyz", Offset: 50, Size: 50},
			want:     "soundmirror:album_tracks:GET:xyz:50:50",
		},
		{
			name:     "zero pagination is explicit",
			settings: paginated,
			key:      cache.Key{Method: "GET", ID: "xyz"},
			want:     "soundmirror:album_tracks:GET:xyz:0:0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.key(tt.settings, tt.key); got != tt.want {
				t.Errorf("key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrefixIsolatesNamespaces(t *testing.T) {
	first := &Store{namespace: "one"}
	second := &Store{namespace: "two"}
	settings := &cache.EndpointSettings{RepositoryName: "tracks"}

	if first.prefix(settings) == second.prefix(settings) {
		t.Error("namespaces share a key prefix")
	}
}
