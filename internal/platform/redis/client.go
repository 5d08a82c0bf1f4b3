package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/swiftdocs-api/internal/config"
	"github.com/phrazzld/swiftdocs-api/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const backendName = "redis"

// NewClient creates a client from cfg and verifies the server is reachable.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// keys builds the key names of one deployment.
type keys struct {
	prefix string
}

func (k keys) task(id string) string {
	return k.prefix + "task:" + id
}

func (k keys) taskPattern() string {
	return k.prefix + "task:*"
}

func (k keys) dispatch(t domain.TaskType) string {
	return k.prefix + "dispatch:" + string(t)
}

func (k keys) events() string {
	return k.prefix + "events"
}
