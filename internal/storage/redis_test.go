package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	assert.True(t, Healthy(context.Background(), rdb))
}

func TestConnectFailsFast(t *testing.T) {
	_, err := Connect("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestHealthyAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(mr.Addr(), "", 0)
	require.NoError(t, err)

	mr.Close()
	assert.False(t, Healthy(context.Background(), rdb))
	rdb.Close()
}

func TestDayKey(t *testing.T) {
	stamp := time.Date(2025, 3, 16, 23, 59, 0, 0, time.FixedZone("CET", 3600))

	// buckets roll on UTC days regardless of the input zone
	assert.Equal(t, "stats:processed:20250316", DayKey("stats:processed", stamp))
	assert.Equal(t, "storm:duplicates:20250316", DayKey("storm:duplicates", stamp))
}
