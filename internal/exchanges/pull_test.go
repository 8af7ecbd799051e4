package exchanges

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentCacheRefreshesOncePerWindow(t *testing.T) {
	calls := 0
	cache := newInstrumentCache(func(ctx context.Context, client *http.Client) ([]string, error) {
		calls++
		return []string{"BTC", "ETH"}, nil
	})

	ctx := context.Background()
	first, err := cache.get(ctx, nil)
	require.NoError(t, err)
	second, err := cache.get(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second get within the window must not refresh")
}

func TestInstrumentCacheServesStaleOnRefreshFailure(t *testing.T) {
	calls := 0
	cache := newInstrumentCache(func(ctx context.Context, client *http.Client) ([]string, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("upstream down")
		}
		return []string{"SOL"}, nil
	})

	ctx := context.Background()
	_, err := cache.get(ctx, nil)
	require.NoError(t, err)

	cache.fetched = time.Now().Add(-2 * instrumentRefresh)
	items, err := cache.get(ctx, nil)
	require.NoError(t, err, "warm cache absorbs a failed refresh")
	assert.Equal(t, []string{"SOL"}, items)
}

func TestInstrumentCacheColdFailurePropagates(t *testing.T) {
	cache := newInstrumentCache(func(ctx context.Context, client *http.Client) ([]string, error) {
		return nil, errors.New("upstream down")
	})
	_, err := cache.get(context.Background(), nil)
	assert.Error(t, err)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.False(t, isTimeout(errors.New("connection refused")))
	assert.False(t, isTimeout(context.Canceled))
}
