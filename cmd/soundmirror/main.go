// Command soundmirror fetches remote API resources through the cached,
// retrying request handler and prints the JSON responses. URLs are given
// as arguments; configuration comes from the environment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soundmirror/soundmirror/pkg/auth"
	"github.com/soundmirror/soundmirror/pkg/cache"
	redisbackend "github.com/soundmirror/soundmirror/pkg/cache/redis"
	"github.com/soundmirror/soundmirror/pkg/cache/sqlite"
	"github.com/soundmirror/soundmirror/pkg/config"
	"github.com/soundmirror/soundmirror/pkg/logging"
	"github.com/soundmirror/soundmirror/pkg/request"
	"github.com/soundmirror/soundmirror/pkg/spotify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx := context.Background()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}

	c := cache.New("spotify", backend, cache.WithExpiry(cfg.CacheExpiry))
	defer c.Close()

	if err := spotify.RegisterRepositories(ctx, c); err != nil {
		return err
	}
	logger.Info().
		Str("backend", c.Type()).
		Strs("repositories", c.RepositoryNames()).
		Msg("Cache ready")

	handlerCfg := request.Config{
		Session:       cache.NewCachedSession(c, nil),
		BackoffStart:  cfg.BackoffStart,
		BackoffFactor: cfg.BackoffFactor,
		BackoffCount:  cfg.BackoffCount,
	}
	if cfg.APIToken != "" {
		handlerCfg.Authorizer = auth.StaticToken{Token: cfg.APIToken}
	}

	handler, err := request.New(handlerCfg)
	if err != nil {
		return err
	}

	if _, err := handler.Authorize(ctx, false, false); err != nil {
		return err
	}

	for _, url := range os.Args[1:] {
		data, err := handler.Get(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}

		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	}

	return nil
}

func openBackend(ctx context.Context, cfg config.Config) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case sqlite.Type:
		if cfg.CachePath == "" {
			return sqlite.ConnectTemp("")
		}
		return sqlite.Connect(cfg.CachePath)

	case redisbackend.Type:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return redisbackend.Connect(ctx, client, "spotify")

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
