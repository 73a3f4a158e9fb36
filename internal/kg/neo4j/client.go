package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/pkg/circuitbreaker"
	"github.com/ownership-graph/rollwin/pkg/logger"
	"github.com/ownership-graph/rollwin/pkg/retry"
)

type Options struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionLifetime time.Duration
	MaxConnectionPoolSize int
	AcquisitionTimeout    time.Duration
	QueryTimeout          time.Duration
	Schema                gds.Schema
}

// Client runs GDS catalog procedures and stored-graph queries. It implements
// gds.Backend.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	timeout     time.Duration
	schema      gds.Schema
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		opts.URI,
		neo4j.BasicAuth(opts.Username, opts.Password, ""),
		func(cfg *neo4j.Config) {
			if opts.MaxConnectionLifetime > 0 {
				cfg.MaxConnectionLifetime = opts.MaxConnectionLifetime
			}
			if opts.MaxConnectionPoolSize > 0 {
				cfg.MaxConnectionPoolSize = opts.MaxConnectionPoolSize
			}
			if opts.AcquisitionTimeout > 0 {
				cfg.ConnectionAcquisitionTimeout = opts.AcquisitionTimeout
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w: %w", gds.ErrTransient, err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		IsFailure:        func(err error) bool { return errors.Is(err, gds.ErrTransient) },
		Logger:           logger.GetLogger(),
	})

	database := opts.Database
	if database == "" {
		database = "neo4j"
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	logger.Info("Neo4j client initialized", zap.String("uri", opts.URI), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		timeout:     timeout,
		schema:      opts.Schema,
		cb:          cb,
		retryConfig: queryRetryConfig(),
	}, nil
}

// queryRetryConfig retries a single query on transient failures only. A
// missing graph stays missing until the window is retried and the base graph
// re-ensured, so it is returned at once.
func queryRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      func(err error) bool { return errors.Is(err, gds.ErrTransient) },
		Logger:         logger.GetLogger(),
	}
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return classify(operation(session))
		})
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", gds.ErrTransient, err)
	}
	return err
}

// collect runs one auto-commit query and buffers its records.
func (c *Client) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	var records []*neo4j.Record
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, query, params)
		if err != nil {
			return err
		}
		records, err = result.Collect(ctx)
		return err
	})
	return records, err
}

// classify maps driver and GDS failures onto the gds sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gds.ErrTransient) || errors.Is(err, gds.ErrGraphNotFound) {
		return err
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return fmt.Errorf("%w: %w", gds.ErrTransient, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "does not exist") && strings.Contains(strings.ToLower(msg), "graph") {
		return fmt.Errorf("%w: %w", gds.ErrGraphNotFound, err)
	}
	if strings.Contains(msg, "There is no procedure with the name") {
		return fmt.Errorf("%w: %w", gds.ErrAlgorithmUnavailable, err)
	}
	return err
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case int:
		return int64(x)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asVector(v any) ([]float64, bool) {
	switch x := v.(type) {
	case []float64:
		return x, true
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := asFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func get(record *neo4j.Record, key string) any {
	v, _ := record.Get(key)
	return v
}
