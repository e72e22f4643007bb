// Package spotify wires the generic response cache to the Spotify Web
// API's endpoint naming conventions: one repository per endpoint family
// and the dispatch function that routes URLs to them.
package spotify

import (
	"context"
	"net/url"
	"strings"

	"github.com/soundmirror/soundmirror/pkg/cache"
)

// Repository names registered by RegisterRepositories. Singular-resource
// endpoints cache by (method, id); child listings additionally key by
// offset and page size.
var (
	simpleRepositories = []string{
		"tracks",
		"audio_features",
		"audio_analysis",
		"albums",
		"artists",
		"shows",
		"episodes",
		"audiobooks",
		"chapters",
	}

	paginatedRepositories = []string{
		"album_tracks",
		"artist_albums",
		"show_episodes",
		"audiobook_chapters",
	}
)

// RegisterRepositories creates the full set of Spotify repositories in
// the cache and installs the URL dispatch function. Playlist and saved
// library endpoints stay uncached: their contents are mutable.
func RegisterRepositories(ctx context.Context, c *cache.Cache) error {
	c.SetRepositoryGetter(RepositoryGetter)

	for _, name := range simpleRepositories {
		if _, err := c.CreateRepository(ctx, RepositorySettings(name)); err != nil {
			return err
		}
	}
	for _, name := range paginatedRepositories {
		if _, err := c.CreateRepository(ctx, PaginatedRepositorySettings(name)); err != nil {
			return err
		}
	}
	return nil
}

// RepositorySettings returns the settings for a singular or bulk Spotify
// resource endpoint, e.g. /v1/tracks/{id}.
func RepositorySettings(name string) *cache.EndpointSettings {
	return &cache.EndpointSettings{
		RepositoryName: name,
		IDFunc:         resourceID,
		NameFunc:       payloadName,
	}
}

// PaginatedRepositorySettings returns the settings for a paginated child
// listing, e.g. /v1/albums/{id}/tracks?offset=0&limit=50.
func PaginatedRepositorySettings(name string) *cache.PaginatedEndpointSettings {
	return &cache.PaginatedEndpointSettings{
		EndpointSettings: cache.EndpointSettings{
			RepositoryName: name,
			IDFunc:         resourceID,
			NameFunc:       payloadName,
		},
	}
}

// RepositoryGetter maps a Spotify API URL to the repository responsible
// for it. Paths follow /v1/<resource>/<id>[/<child>]; child listings map
// to "<resource-singular>_<child>" repositories, e.g. /v1/albums/xyz/tracks
// to album_tracks.
func RepositoryGetter(c *cache.Cache, u *url.URL) string {
	parts := pathParts(u)
	if len(parts) == 0 {
		return ""
	}

	if len(parts) < 3 {
		return parts[0]
	}
	return strings.TrimSuffix(parts[0], "s") + "_" + strings.TrimSuffix(parts[2], "s") + "s"
}

// resourceID extracts the resource identifier: the path segment following
// the resource name.
func resourceID(u *url.URL) string {
	parts := pathParts(u)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// pathParts splits an API path into its segments below the version
// prefix, normalizing hyphenated resource names to underscores.
func pathParts(u *url.URL) []string {
	if u == nil {
		return nil
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "v") {
		segments = segments[1:]
	}

	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(segment, "-", "_"))
	}
	return parts
}

// payloadName extracts the display name from a decoded Spotify payload.
func payloadName(payload any) string {
	object, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	if name, ok := object["name"].(string); ok {
		return name
	}
	return ""
}
