package connpool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	if p.cfg.MaxConnsPerHost != 10 || p.cfg.AcquireTimeout != 30*time.Second {
		t.Errorf("defaults not applied: %+v", p.cfg)
	}
	if !strings.HasPrefix(p.cfg.UserAgent, "cost-go/") {
		t.Errorf("UserAgent = %s", p.cfg.UserAgent)
	}
	if p.transport.MaxConnsPerHost != 10 || p.transport.MaxIdleConns != 100 {
		t.Errorf("transport limits = %d, %d", p.transport.MaxConnsPerHost, p.transport.MaxIdleConns)
	}
	if p.Client().Timeout != 30*time.Second {
		t.Errorf("client timeout = %v", p.Client().Timeout)
	}
}

func TestPool_AcquireExhausted(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxConnsPerHost: 2, AcquireTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	r1, err := p.Acquire(ctx, "api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := p.Acquire(ctx, "api.example.com")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Acquire(ctx, "api.example.com"); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("third Acquire() error = %v, want ErrPoolExhausted", err)
	}

	if _, err := p.Acquire(ctx, "other.example.com"); err != nil {
		t.Errorf("other host Acquire() error = %v", err)
	}

	r1()
	r1()
	r3, err := p.Acquire(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	r2()
	r3()

	stats := p.Stats()
	if len(stats) != 2 || stats[0].Host != "api.example.com" {
		t.Fatalf("Stats() = %+v", stats)
	}
	if s := stats[0]; s.InUse != 0 || s.Acquired != 3 || s.Timeouts != 1 || s.Capacity != 2 {
		t.Errorf("api stats = %+v", s)
	}
}

func TestPool_AcquireCanceled(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxConnsPerHost: 1, AcquireTimeout: time.Minute})
	release, _ := p.Acquire(context.Background(), "h")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := p.Acquire(ctx, "h"); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestPool_RoundTripBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := New(Config{MaxConnsPerHost: 2, AcquireTimeout: 5 * time.Second})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.Client().Get(srv.URL)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			_, _ = io.ReadAll(resp.Body)
			_ = resp.Body.Close()
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want at most 2", peak.Load())
	}
	u, _ := url.Parse(srv.URL)
	for _, s := range p.Stats() {
		if s.Host == u.Host && s.InUse != 0 {
			t.Errorf("slots leaked: %+v", s)
		}
	}
}

func TestPool_SetsUserAgent(t *testing.T) {
	t.Parallel()

	seen := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	p := New(Config{UserAgent: "cost-go/test"})

	resp, err := p.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if ua := <-seen; ua != "cost-go/test" {
		t.Errorf("User-Agent = %s", ua)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = p.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if ua := <-seen; ua != "custom" {
		t.Errorf("explicit User-Agent overwritten: %s", ua)
	}
}

func TestPool_ReleasesOnTransportError(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxConnsPerHost: 1, AcquireTimeout: 50 * time.Millisecond, RequestTimeout: time.Second})
	for i := 0; i < 3; i++ {
		_, err := p.Client().Get("http://127.0.0.1:1/")
		if err == nil {
			t.Fatal("expected a dial error")
		}
		if errors.Is(err, ErrPoolExhausted) {
			t.Fatalf("attempt %d: slot leaked after a failed request", i)
		}
	}
}

func TestPool_Close(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	_ = p.Close()
	if _, err := p.Acquire(context.Background(), "h"); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire() after Close error = %v", err)
	}
}
