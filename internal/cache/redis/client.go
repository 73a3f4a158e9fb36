package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/pkg/logger"
)

var (
	ErrLeaseHeld = errors.New("catalog lease held by another run")
	ErrLeaseLost = errors.New("catalog lease expired or taken over")
)

// Only the holder's token may extend or drop a lease.
var (
	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0`)

	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0`)
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func leaseKey(catalog string) string {
	return fmt.Sprintf("rollwin:lease:%s", catalog)
}

func progressKey(runID string) string {
	return fmt.Sprintf("rollwin:progress:%s", runID)
}

// Lease gives one run exclusive use of a projection catalog.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	Holder string
}

func (c *Client) AcquireLease(ctx context.Context, catalog, holder string, ttl time.Duration) (*Lease, error) {
	key := leaseKey(catalog)
	token := holder + "/" + uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		current, _ := c.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, current)
	}

	logger.Info("Catalog lease acquired", zap.String("catalog", catalog), zap.Duration("ttl", ttl))
	return &Lease{client: c.client, key: key, token: token, ttl: ttl, Holder: holder}, nil
}

func (l *Lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if n == 0 {
		logger.Warn("Catalog lease already gone at release", zap.String("key", l.key))
	}
	return nil
}

// SetProgress merges fields into the run's progress hash and keeps it for a
// day after the last update.
func (c *Client) SetProgress(ctx context.Context, runID string, fields map[string]any) error {
	key := progressKey(runID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

func (c *Client) GetProgress(ctx context.Context, runID string) (map[string]string, error) {
	out, err := c.client.HGetAll(ctx, progressKey(runID)).Result()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return out, nil
}

func (c *Client) IncrementProgress(ctx context.Context, runID, field string) error {
	return c.client.HIncrBy(ctx, progressKey(runID), field, 1).Err()
}
