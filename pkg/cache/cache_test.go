package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type memoryRemote struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{data: make(map[string][]byte)}
}

func (m *memoryRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryRemote) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type payload struct {
	IDs []string `json:"ids"`
}

func TestResponseCache_GetAfterPutAndExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c, err := New[payload]("trials", 10, testLogger(), WithClock[payload](clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	want := payload{IDs: []string{"NCT00000001", "NCT00000002"}}
	c.Put(ctx, "k", want, time.Hour)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, want, got)

	clock.Advance(59 * time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is removed on read")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Expired)
}

func TestResponseCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New[int]("reasoning", 2, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	c.Put(ctx, "a", 1, time.Hour)
	c.Put(ctx, "b", 2, time.Hour)
	_, _ = c.Get(ctx, "a")
	c.Put(ctx, "c", 3, time.Hour)

	_, okA := c.Get(ctx, "a")
	_, okB := c.Get(ctx, "b")
	_, okC := c.Get(ctx, "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestResponseCache_RemoteTierBackfillsLocal(t *testing.T) {
	remote := newMemoryRemote()
	ctx := context.Background()

	writer, err := New[payload]("trials", 10, testLogger(), WithRemote[payload](remote))
	require.NoError(t, err)
	writer.Put(ctx, "shared", payload{IDs: []string{"NCT1"}}, time.Hour)

	reader, err := New[payload]("trials", 10, testLogger(), WithRemote[payload](remote))
	require.NoError(t, err)

	got, ok := reader.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, []string{"NCT1"}, got.IDs)
	assert.Equal(t, 1, reader.Len())
	assert.Equal(t, int64(1), reader.Stats().RemoteHits)
}

func TestResponseCache_CorruptRemoteEntryIsDropped(t *testing.T) {
	remote := newMemoryRemote()
	remote.data["bad"] = []byte("{not json")

	c, err := New[payload]("trials", 10, testLogger(), WithRemote[payload](remote))
	require.NoError(t, err)

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
	_, stillThere, _ := remote.Get(context.Background(), "bad")
	assert.False(t, stillThere)
}

func TestResponseCache_ConcurrentAccess(t *testing.T) {
	c, err := New[int]("concurrent", 50, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%60)
				c.Put(ctx, key, i, time.Millisecond*time.Duration(1+i%3))
				if v, ok := c.Get(ctx, key); ok {
					assert.GreaterOrEqual(t, v, 0)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	_, err := New[int]("x", 0, testLogger())
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("trials", "diabetes", "token-1")
	b := Fingerprint("trials", "diabetes", "token-1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, Fingerprint("trials", "ab", "c"), Fingerprint("trials", "a", "bc"))
	assert.NotEqual(t, Fingerprint("trials", "x"), Fingerprint("reasoning", "x"))
	assert.NotContains(t, a, "diabetes")
}
