package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPoolSetsUserAgentFromPool(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.UserAgent()] = true
		mu.Unlock()
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{UserAgents: []string{"ua-one", "ua-two"}})
	for i := 0; i < 40; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := pool.Do(context.Background(), req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	for ua := range seen {
		assert.Contains(t, []string{"ua-one", "ua-two"}, ua)
	}
	assert.Len(t, seen, 2, "both user agents should appear over 40 requests")

	stats := pool.GetStats()
	assert.Equal(t, int64(40), stats.TotalRequests)
	assert.Equal(t, int64(40), stats.SuccessRequests)
}

func TestClientPoolConcurrencyCap(t *testing.T) {
	var inflight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{MaxConcurrency: 3})
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			resp, err := pool.Do(context.Background(), req)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestClientPoolTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	pool := NewClientPool(ClientConfig{RequestTimeout: 20 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := pool.Do(context.Background(), req)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsRetryableError(err))
	assert.Equal(t, int64(1), pool.GetStats().TimeoutRequests)
}

func TestRetryClassification(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(errors.New("read: connection reset by peer")))
	assert.False(t, IsRetryableError(errors.New("invalid character")))

	// http.Client wraps every failure in *url.Error; the cause decides
	wrap := func(err error) error { return &url.Error{Op: "Get", URL: "https://example.test", Err: err} }
	assert.True(t, IsRetryableError(wrap(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})))
	assert.True(t, IsRetryableError(wrap(io.ErrUnexpectedEOF)))
	assert.False(t, IsRetryableError(wrap(errors.New("x509: certificate signed by unknown authority"))))
	assert.False(t, IsRetryableError(wrap(errors.New(`unsupported protocol scheme "ftp"`))))
	assert.False(t, IsRetryableError(wrap(context.Canceled)))

	assert.True(t, IsRetryableStatus(http.StatusTooManyRequests))
	assert.True(t, IsRetryableStatus(http.StatusServiceUnavailable))
	assert.False(t, IsRetryableStatus(http.StatusBadRequest))
	assert.False(t, IsRetryableStatus(http.StatusNotFound))
}
