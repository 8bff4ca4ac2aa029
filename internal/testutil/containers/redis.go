package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redisPort = nat.Port("6379/tcp")

// RedisContainer wraps the testcontainers redis module with a ready
// connection URL.
type RedisContainer struct {
	*tcredis.RedisContainer
	URL string
}

// NewRedisContainer starts a disposable Redis instance.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(redisPort).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	url, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis connection string: %w", err)
	}

	return &RedisContainer{
		RedisContainer: redisContainer,
		URL:            url,
	}, nil
}

// HostPort returns the mapped host address for the redis port.
func (r *RedisContainer) HostPort(ctx context.Context) (string, error) {
	host, err := r.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve container host: %w", err)
	}
	mapped, err := r.MappedPort(ctx, redisPort)
	if err != nil {
		return "", fmt.Errorf("failed to resolve mapped port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}
