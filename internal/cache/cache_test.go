package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/testutil"
)

func newTestCache(maxBytes int64, policy Policy) (*Cache, *testutil.FakeClock) {
	clock := testutil.NewFakeClock()
	return New(maxBytes, policy, WithClock(clock)), clock
}

func TestCache_FIFOEviction(t *testing.T) {
	c, clock := newTestCache(900_000, FIFO)

	require.NoError(t, c.Add("k1", "t", make([]float64, 100_000), 0))
	clock.Advance(10 * time.Millisecond)
	require.NoError(t, c.Add("k2", "t", make([]float64, 100_000), 0))

	_, ok := c.Lookup("k1", "t")
	assert.False(t, ok, "k1 should have been evicted")

	e, ok := c.Lookup("k2", "t")
	require.True(t, ok)
	assert.Equal(t, int64(800_000), e.Bytes)
	assert.Equal(t, int64(800_000), c.Bytes())
}

func TestCache_LIFORejectsNewestAtEqualPriority(t *testing.T) {
	c, clock := newTestCache(900_000, LIFO)

	require.NoError(t, c.Add("k1", "t", make([]float64, 100_000), 0))
	clock.Advance(10 * time.Millisecond)

	err := c.Add("k2", "t", make([]float64, 100_000), 0)
	require.Error(t, err)
	assert.True(t, ndierr.Is(err, ndierr.KindCapacityExceeded))

	_, ok := c.Lookup("k1", "t")
	assert.True(t, ok, "a rejected add must not remove anything")
	assert.Equal(t, int64(800_000), c.Bytes())
}

func TestCache_LIFOEvictsNewestOfOlderEntries(t *testing.T) {
	c, clock := newTestCache(300, LIFO)

	require.NoError(t, c.Add("a", "t", make([]byte, 100), 0))
	clock.Advance(time.Millisecond)
	require.NoError(t, c.Add("b", "t", make([]byte, 100), 0))
	clock.Advance(time.Millisecond)
	require.NoError(t, c.Add("c", "t", make([]byte, 100), 0))
	clock.Advance(time.Millisecond)

	// Higher priority keeps the candidate out of the victim set; among the
	// rest LIFO picks the newest.
	require.NoError(t, c.Add("d", "t", make([]byte, 100), 5))

	_, ok := c.Lookup("c", "t")
	assert.False(t, ok)
	_, ok = c.Lookup("a", "t")
	assert.True(t, ok)
	_, ok = c.Lookup("b", "t")
	assert.True(t, ok)
}

func TestCache_PriorityBeforeTimestamp(t *testing.T) {
	c, clock := newTestCache(300, FIFO)

	require.NoError(t, c.Add("old-important", "t", make([]byte, 100), 10))
	clock.Advance(time.Millisecond)
	require.NoError(t, c.Add("mid", "t", make([]byte, 100), 0))
	clock.Advance(time.Millisecond)
	require.NoError(t, c.Add("new", "t", make([]byte, 100), 0))
	clock.Advance(time.Millisecond)

	require.NoError(t, c.Add("newest", "t", make([]byte, 100), 1))

	_, ok := c.Lookup("old-important", "t")
	assert.True(t, ok, "high priority entries outlive older timestamps")
	_, ok = c.Lookup("mid", "t")
	assert.False(t, ok)
	_, ok = c.Lookup("new", "t")
	assert.True(t, ok)
}

func TestCache_ErrorPolicy(t *testing.T) {
	c, _ := newTestCache(150, Error)

	require.NoError(t, c.Add("a", "t", make([]byte, 100), 0))
	err := c.Add("b", "t", make([]byte, 100), 0)
	assert.True(t, ndierr.Is(err, ndierr.KindCapacityExceeded))
	assert.Equal(t, 1, c.Len())
}

func TestCache_TooLarge(t *testing.T) {
	c, _ := newTestCache(10, FIFO)
	err := c.Add("big", "t", make([]byte, 11), 0)
	assert.True(t, ndierr.Is(err, ndierr.KindCapacityExceeded))
	assert.Zero(t, c.Bytes())
}

func TestCache_ReplaceSameKey(t *testing.T) {
	c, _ := newTestCache(150, FIFO)

	require.NoError(t, c.Add("a", "t", make([]byte, 100), 0))
	require.NoError(t, c.Add("a", "t", make([]byte, 120), 0))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(120), c.Bytes())

	// Same key, other type is a separate entry.
	require.NoError(t, c.Add("a", "u", make([]byte, 10), 0))
	assert.Equal(t, 2, c.Len())
}

func TestCache_LookupDoesNotRefreshTimestamp(t *testing.T) {
	c, clock := newTestCache(200, FIFO)

	require.NoError(t, c.Add("a", "t", make([]byte, 100), 0))
	before, _ := c.Lookup("a", "t")
	clock.Advance(time.Second)
	after, _ := c.Lookup("a", "t")
	assert.Equal(t, before.Timestamp, after.Timestamp)
}

func TestCache_Remove(t *testing.T) {
	c, _ := newTestCache(1000, FIFO)
	require.NoError(t, c.Add("a", "t", "xxxx", 0))
	require.NoError(t, c.Add("b", "t", "yy", 0))
	require.NoError(t, c.Add("b", "u", "z", 0))

	assert.True(t, c.Remove("a", "t"))
	assert.False(t, c.Remove("a", "t"))
	assert.Equal(t, int64(3), c.Bytes())

	require.NoError(t, c.RemoveIndex(0))
	assert.Equal(t, 1, c.Len())
	assert.Error(t, c.RemoveIndex(5))

	assert.Equal(t, 1, c.RemoveKey("b"))
	assert.Zero(t, c.Bytes())
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(1000, FIFO)
	require.NoError(t, c.Add("a", "t", "xxxx", 0))
	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Bytes())
}

func TestCache_BytesNeverExceedBudget(t *testing.T) {
	c, clock := newTestCache(1000, FIFO)
	for i := 0; i < 200; i++ {
		size := 37 * (i%13 + 1)
		_ = c.Add(string(rune('a'+i%26)), "t", make([]byte, size), i%3)
		clock.Advance(time.Millisecond)
		require.LessOrEqual(t, c.Bytes(), c.MaxBytes(), "step %d", i)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("lifo")
	require.NoError(t, err)
	assert.Equal(t, LIFO, p)

	_, err = ParsePolicy("random")
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}

func TestShared_IsSingleton(t *testing.T) {
	assert.Same(t, Shared(), Shared())
	assert.Equal(t, FIFO, Shared().Policy())
}
