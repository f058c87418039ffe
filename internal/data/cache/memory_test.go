package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
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

func TestMemoryGetBeforeAndAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryWithClock(clock.Now)

	m.Set("market_breadth", []byte(`{"advancing":1}`), 15*time.Minute)

	v, ok := m.Get("market_breadth")
	require.True(t, ok)
	assert.Equal(t, `{"advancing":1}`, string(v))

	clock.Advance(15*time.Minute - time.Second)
	_, ok = m.Get("market_breadth")
	assert.True(t, ok, "entry should live until its deadline")

	clock.Advance(time.Second)
	_, ok = m.Get("market_breadth")
	assert.False(t, ok, "entry should be absent at its deadline")
	assert.Equal(t, 0, m.Len(), "expired entry should be removed on read")

	// repeated reads of an expired key are harmless
	_, ok = m.Get("market_breadth")
	assert.False(t, ok)
}

func TestMemoryZeroTTLBypasses(t *testing.T) {
	m := NewMemory()
	m.Set("candles", []byte("x"), 0)
	m.Set("levels", []byte("x"), -time.Second)

	assert.False(t, m.Exists("candles"))
	assert.False(t, m.Exists("levels"))
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	m.Set("k", buf, time.Minute)
	buf[0] = 'z'

	v, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(v))

	v[1] = 'z'
	again, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryDeleteExistsClear(t *testing.T) {
	m := NewMemory()
	m.Set("a", []byte("1"), time.Minute)
	m.Set("b", []byte("2"), time.Minute)

	assert.True(t, m.Exists("a"))
	m.Delete("a")
	assert.False(t, m.Exists("a"))
	m.Delete("a")

	m.Clear()
	assert.False(t, m.Exists("b"))
	assert.Equal(t, 0, m.Len())
}

func TestMemoryRemoveExpired(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryWithClock(clock.Now)
	m.Set("short", []byte("1"), time.Second)
	m.Set("long", []byte("2"), time.Hour)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, m.removeExpired())
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Exists("long"))
}

func TestMemoryJanitorStops(t *testing.T) {
	m := NewMemory()
	m.StartJanitor(5 * time.Millisecond)
	m.Set("k", []byte("v"), time.Millisecond)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.Set("shared", []byte{byte(i)}, time.Minute)
				m.Get("shared")
				m.Exists("shared")
				if j%50 == 0 {
					m.Delete("shared")
				}
			}
		}(i)
	}
	wg.Wait()
}
