package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

func pending(messageID string) PendingManipulation {
	return PendingManipulation{
		MessageID:     messageID,
		ChargePointID: "CP001",
		Direction:     session.DirectionServerToClient,
		Action:        "SetChargingProfile",
		Strategy:      "gradual_degradation",
		EventCount:    3,
		ManipulatedAt: time.Now().UTC(),
	}
}

func TestPendingCache_PutAndTake(t *testing.T) {
	c := NewPendingCache(nil)

	c.Put(pending("msg-1"))
	assert.Equal(t, 1, c.Len())

	got, ok := c.Take("msg-1")
	require.True(t, ok)
	assert.Equal(t, "msg-1", got.MessageID)
	assert.Equal(t, "CP001", got.ChargePointID)
	assert.Equal(t, session.DirectionServerToClient, got.Direction)

	// Take 取出后条目即被移除
	assert.Equal(t, 0, c.Len())
	_, ok = c.Take("msg-1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestPendingCache_TakeUnknownIsMiss(t *testing.T) {
	c := NewPendingCache(nil)

	_, ok := c.Take("never-seen")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestPendingCache_PutSameIDRefreshes(t *testing.T) {
	c := NewPendingCache(nil)

	first := pending("msg-1")
	first.EventCount = 1
	c.Put(first)

	second := pending("msg-1")
	second.EventCount = 7
	c.Put(second)

	assert.Equal(t, 1, c.Len())
	got, ok := c.Take("msg-1")
	require.True(t, ok)
	assert.Equal(t, 7, got.EventCount)
}

func TestPendingCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewPendingCache(&Config{MaxEntries: 3, TTL: time.Minute})

	for i := 1; i <= 4; i++ {
		c.Put(pending(fmt.Sprintf("msg-%d", i)))
	}

	assert.Equal(t, 3, c.Len())

	// 最早写入的 msg-1 被淘汰
	_, ok := c.Take("msg-1")
	assert.False(t, ok)
	_, ok = c.Take("msg-2")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestPendingCache_RefreshProtectsFromEviction(t *testing.T) {
	c := NewPendingCache(&Config{MaxEntries: 2, TTL: time.Minute})

	c.Put(pending("msg-1"))
	c.Put(pending("msg-2"))
	c.Put(pending("msg-1")) // 刷新后 msg-1 变为最近写入
	c.Put(pending("msg-3")) // 淘汰 msg-2

	_, ok := c.Take("msg-1")
	assert.True(t, ok)
	_, ok = c.Take("msg-2")
	assert.False(t, ok)
	_, ok = c.Take("msg-3")
	assert.True(t, ok)
}

func TestPendingCache_TTLExpiry(t *testing.T) {
	c := NewPendingCache(&Config{MaxEntries: 8, TTL: 10 * time.Millisecond})

	c.Put(pending("msg-1"))
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Take("msg-1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
}

func TestPendingCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewPendingCache(&Config{MaxEntries: 8, TTL: 0})

	c.Put(pending("msg-1"))
	time.Sleep(15 * time.Millisecond)

	assert.Equal(t, 0, c.EvictExpired())
	_, ok := c.Take("msg-1")
	assert.True(t, ok)
}

func TestPendingCache_EvictExpired(t *testing.T) {
	c := NewPendingCache(&Config{MaxEntries: 8, TTL: 10 * time.Millisecond})

	c.Put(pending("msg-1"))
	c.Put(pending("msg-2"))
	time.Sleep(25 * time.Millisecond)
	c.Put(pending("msg-3"))

	removed := c.EvictExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Take("msg-3")
	assert.True(t, ok)
}

func TestPendingCache_JanitorCleansUp(t *testing.T) {
	c := NewPendingCache(&Config{
		MaxEntries:      8,
		TTL:             10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	})
	c.Start()
	defer c.Stop()

	c.Put(pending("msg-1"))

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().Expirations, int64(1))
}

func TestPendingCache_StatsSnapshot(t *testing.T) {
	c := NewPendingCache(nil)

	c.Put(pending("msg-1"))
	c.Take("msg-1")
	c.Take("msg-2")

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Evictions)
}
