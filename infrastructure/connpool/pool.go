// Package connpool bounds concurrent outbound HTTP requests per host on top
// of a shared keep-alive transport.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	costgo "github.com/felixgeelhaar/cost-go"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// ErrPoolExhausted is returned when no slot for a host became free within
// the acquire timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("connection pool closed")

// Config configures the pool.
type Config struct {
	// MaxConnsPerHost is the number of concurrent requests allowed per host.
	MaxConnsPerHost int
	// MaxIdleConns bounds idle keep-alive connections across all hosts.
	MaxIdleConns int
	// AcquireTimeout bounds the wait for a slot.
	AcquireTimeout time.Duration
	// RequestTimeout is the http.Client timeout for a whole request.
	RequestTimeout time.Duration
	// IdleConnTimeout closes keep-alive connections idle for longer.
	IdleConnTimeout time.Duration
	// UserAgent is set on requests that carry none.
	UserAgent string
	// Metrics is optional.
	Metrics *telemetry.MetricsProvider
}

// DefaultConfig returns 10 slots per host and 30s acquire and request timeouts.
func DefaultConfig() Config {
	return Config{
		MaxConnsPerHost: 10,
		MaxIdleConns:    100,
		AcquireTimeout:  30 * time.Second,
		RequestTimeout:  30 * time.Second,
		IdleConnTimeout: 60 * time.Second,
		UserAgent:       costgo.UserAgent(),
	}
}

// HostStats describes one host's slots.
type HostStats struct {
	Host     string `json:"host"`
	InUse    int64  `json:"in_use"`
	Capacity int64  `json:"capacity"`
	Acquired int64  `json:"acquired"`
	Timeouts int64  `json:"timeouts"`
}

type hostSlots struct {
	sem      *semaphore.Weighted
	inUse    atomic.Int64
	acquired atomic.Int64
	timeouts atomic.Int64
}

// Pool is an http.RoundTripper that holds a per-host slot for the lifetime
// of each request, from dial until the response body is closed.
type Pool struct {
	cfg       Config
	transport *http.Transport
	client    *http.Client

	mu     sync.Mutex
	hosts  map[string]*hostSlots
	closed atomic.Bool
}

// New creates a pool. Zero fields take their defaults.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	transport.MaxIdleConnsPerHost = cfg.MaxConnsPerHost
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.IdleConnTimeout = cfg.IdleConnTimeout

	p := &Pool{
		cfg:       cfg,
		transport: transport,
		hosts:     make(map[string]*hostSlots),
	}
	p.client = &http.Client{Transport: p, Timeout: cfg.RequestTimeout}
	return p
}

// Client returns an http.Client that routes through the pool.
func (p *Pool) Client() *http.Client {
	return p.client
}

func (p *Pool) slots(host string) *hostSlots {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.hosts[host]
	if !ok {
		s = &hostSlots{sem: semaphore.NewWeighted(int64(p.cfg.MaxConnsPerHost))}
		p.hosts[host] = s
	}
	return s
}

// Acquire takes a slot for host, waiting at most AcquireTimeout. The
// returned release func is safe to call more than once.
func (p *Pool) Acquire(ctx context.Context, host string) (func(), error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	s := p.slots(host)
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	if err := s.sem.Acquire(waitCtx, 1); err != nil {
		p.cfg.Metrics.RecordPoolWait(ctx, host, time.Since(start), false)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.timeouts.Add(1)
		logging.Warn().
			Add(logging.Component("connpool")).
			Add(logging.Host(host)).
			Add(logging.Duration(p.cfg.AcquireTimeout)).
			Msg("no connection slot available")
		return nil, fmt.Errorf("%w: %s after %s", ErrPoolExhausted, host, p.cfg.AcquireTimeout)
	}
	p.cfg.Metrics.RecordPoolWait(ctx, host, time.Since(start), true)

	s.inUse.Add(1)
	s.acquired.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inUse.Add(-1)
			s.sem.Release(1)
		})
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (p *Pool) RoundTrip(req *http.Request) (*http.Response, error) {
	release, err := p.Acquire(req.Context(), req.URL.Host)
	if err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.transport.RoundTrip(req)
	if err != nil {
		release()
		return nil, err
	}
	if resp.Body == nil {
		release()
		return resp, nil
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// Stats returns per-host slot usage sorted by host.
func (p *Pool) Stats() []HostStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]HostStats, 0, len(p.hosts))
	for host, s := range p.hosts {
		out = append(out, HostStats{
			Host:     host,
			InUse:    s.inUse.Load(),
			Capacity: int64(p.cfg.MaxConnsPerHost),
			Acquired: s.acquired.Load(),
			Timeouts: s.timeouts.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Close rejects new acquisitions and closes idle connections.
func (p *Pool) Close() error {
	p.closed.Store(true)
	p.transport.CloseIdleConnections()
	return nil
}

var _ http.RoundTripper = (*Pool)(nil)
