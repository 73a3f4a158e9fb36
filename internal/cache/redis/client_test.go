package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live server; ROLLWIN_TEST_REDIS_HOST enables them.
func testClient(t *testing.T) *Client {
	t.Helper()
	host := os.Getenv("ROLLWIN_TEST_REDIS_HOST")
	if host == "" {
		t.Skip("ROLLWIN_TEST_REDIS_HOST not set")
	}
	c, err := NewClient(host, 6379, "", 15)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLease(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	catalog := "test-" + uuid.NewString()

	first, err := c.AcquireLease(ctx, catalog, "run-a", time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireLease(ctx, catalog, "run-b", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, first.Refresh(ctx))
	require.NoError(t, first.Release(ctx))
	assert.ErrorIs(t, first.Refresh(ctx), ErrLeaseLost)

	second, err := c.AcquireLease(ctx, catalog, "run-b", time.Minute)
	require.NoError(t, err)
	require.NoError(t, first.Release(ctx), "stale holder cannot drop the new lease")
	require.NoError(t, second.Refresh(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestProgress(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	run := uuid.NewString()

	require.NoError(t, c.SetProgress(ctx, run, map[string]any{"window": "rw_2014_2016", "status": "running"}))
	require.NoError(t, c.IncrementProgress(ctx, run, "exported"))

	got, err := c.GetProgress(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "rw_2014_2016", got["window"])
	assert.Equal(t, "1", got["exported"])
}
