package netclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// authedServer accepts only the given bearer token; everything else 401s.
func authedServer(accept *atomic.Value, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.Header.Get("Authorization") != "Bearer "+accept.Load().(string) {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		writeEnv(w, 0, "ok", map[string]string{"value": "fresh"})
	}))
}

func TestRefresh_ReplaysOnceWithNewToken(t *testing.T) {
	t.Parallel()
	accept := &atomic.Value{}
	accept.Store("A2")
	var hits atomic.Int32
	srv := authedServer(accept, &hits)
	defer srv.Close()

	h := newFakeHooks("A1")
	h.newToken = "A2"
	c := newTestClient(t, srv.URL, h)

	var out struct {
		Value string `json:"value"`
	}
	env, err := c.Get(context.Background(), "/data", &out)
	if err != nil {
		t.Fatalf("expected replay to succeed: %v", err)
	}
	if !env.OK() || out.Value != "fresh" {
		t.Fatalf("env=%+v out=%+v", env, out)
	}
	if n := h.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls=%d want=1", n)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("server hits=%d want=2 (original + one replay)", n)
	}
	if n := h.expiredCalls.Load(); n != 0 {
		t.Fatalf("session must not terminate on successful refresh")
	}
}

func TestRefresh_FailureTerminatesSessionOnce(t *testing.T) {
	t.Parallel()
	accept := &atomic.Value{}
	accept.Store("never")
	srv := authedServer(accept, nil)
	defer srv.Close()

	h := newFakeHooks("A1")
	h.refreshErr = errors.New("refresh endpoint down")
	c := newTestClient(t, srv.URL, h)

	_, err := c.Get(context.Background(), "/data", nil)
	if !IsType(err, TypeUnauthorized) {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
	if n := h.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls=%d want=1", n)
	}
	if n := h.expiredCalls.Load(); n != 1 {
		t.Fatalf("session-expired calls=%d want=1", n)
	}
}

func TestRefresh_ReplayThatFailsAgainIsNotLooped(t *testing.T) {
	t.Parallel()
	accept := &atomic.Value{}
	accept.Store("C3") // neither the old nor the refreshed token matches
	var hits atomic.Int32
	srv := authedServer(accept, &hits)
	defer srv.Close()

	h := newFakeHooks("A1")
	h.newToken = "A2"
	c := newTestClient(t, srv.URL, h)

	_, err := c.Get(context.Background(), "/data", nil)
	if !IsType(err, TypeUnauthorized) {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
	if n := h.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh must run at most once per request, calls=%d", n)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("server hits=%d want=2 (no retry loop)", n)
	}
}

func TestRefresh_SkipAuthRequestIsNotIntercepted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := newFakeHooks("A1")
	c := newTestClient(t, srv.URL, h)

	req := Request{Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{}, SkipAuth: true}
	_, err := c.Do(context.Background(), req, nil)
	if !IsType(err, TypeUnauthorized) {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
	if n := h.refreshCalls.Load(); n != 0 {
		t.Fatalf("SkipAuth 401 must not refresh, calls=%d", n)
	}
}

func TestRefresh_WithoutHooksNotIntercepted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Get(context.Background(), "/data", nil)
	if !IsType(err, TypeUnauthorized) {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
}

func TestRefresh_ConcurrentWaitersShareOneRefresh(t *testing.T) {
	t.Parallel()
	accept := &atomic.Value{}
	accept.Store("A2")
	srv := authedServer(accept, nil)
	defer srv.Close()

	h := newFakeHooks("A1")
	h.newToken = "A2"
	h.refreshDelay = 50 * time.Millisecond
	c := newTestClient(t, srv.URL, h)

	const n = 8
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "/data", nil)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent request failed: %v", err)
		}
	}
	if calls := h.refreshCalls.Load(); calls != 1 {
		t.Fatalf("concurrent 401s must coalesce into one refresh, calls=%d", calls)
	}
}

func TestRefresh_CallerCancelDoesNotAbortSharedRefresh(t *testing.T) {
	t.Parallel()
	accept := &atomic.Value{}
	accept.Store("A2")
	srv := authedServer(accept, nil)
	defer srv.Close()

	h := newFakeHooks("A1")
	h.newToken = "A2"
	c := newTestClient(t, srv.URL, h)

	// a context canceled right after the 401 must not poison the shared
	// refresh for later callers
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = c.Get(ctx, "/data", nil)

	if _, err := c.Get(context.Background(), "/data", nil); err != nil {
		t.Fatalf("follow-up request failed: %v", err)
	}
}
