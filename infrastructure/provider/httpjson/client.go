// Package httpjson fetches billing data from any HTTP endpoint that serves
// cost records as JSON. It backs providers without a dedicated SDK client.
//
// The endpoint receives GET ?start=YYYY-MM-DD&end=YYYY-MM-DD&granularity=daily
// and answers with {"records":[{"service","region","date","cost","currency"}]}.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
)

const (
	dateLayout = "2006-01-02"

	// maxBody caps how much of a response is read.
	maxBody = 32 << 20
)

// Config configures one HTTP/JSON provider.
type Config struct {
	ID       cost.ProviderID
	Endpoint string
	Token    string
	// HealthPath is requested by TestConnection. Empty uses the endpoint itself.
	HealthPath string
	// Currency is applied to records that carry none.
	Currency string
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client is a cost.ProviderClient for an HTTP/JSON billing endpoint.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
}

// NewClient validates the endpoint. httpClient is normally the shared
// connection pool's client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.ID == "" {
		return nil, &cost.ValidationError{Field: "id", Message: "is required"}
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &cost.ValidationError{Field: "endpoint", Message: fmt.Sprintf("invalid URL %q", cfg.Endpoint)}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, base: base, http: httpClient}, nil
}

// ID returns the provider id.
func (c *Client) ID() cost.ProviderID {
	return c.cfg.ID
}

// TestConnection requests the health path and reports the status.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	u := *c.base
	if c.cfg.HealthPath != "" {
		u.Path = c.cfg.HealthPath
	}
	if _, err := c.get(ctx, &u); err != nil {
		return false, err.Error()
	}
	return true, "connected to " + c.base.Host
}

// FetchCostData requests [start, end] and returns the response body.
func (c *Client) FetchCostData(ctx context.Context, start, end time.Time, granularity cost.Granularity) (cost.RawPayload, error) {
	u := *c.base
	q := u.Query()
	q.Set("start", start.Format(dateLayout))
	q.Set("end", end.Format(dateLayout))
	q.Set("granularity", string(granularity))
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, &u)
	if err != nil {
		return nil, err
	}

	logging.Debug().
		Add(logging.Provider(string(c.cfg.ID))).
		Add(logging.Count("bytes", len(body))).
		Msg("fetched cost payload")
	return body, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, cost.Permanent(c.cfg.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	defer resp.Body.Close() // #nosec G104 -- read-only response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, cost.Transient(c.cfg.ID, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
			return nil, cost.Transient(c.cfg.ID, serr)
		}
		return nil, cost.Permanent(c.cfg.ID, serr)
	}
	return body, nil
}

func (c *Client) classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return cost.Transient(c.cfg.ID, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return cost.Transient(c.cfg.ID, err)
	}
	return cost.Permanent(c.cfg.ID, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ cost.ProviderClient = (*Client)(nil)

// Normalizer decodes the endpoint's JSON records.
type Normalizer struct {
	ID       cost.ProviderID
	Currency string
}

type document struct {
	Records []struct {
		Service  string      `json:"service"`
		Region   string      `json:"region"`
		Date     string      `json:"date"`
		Cost     json.Number `json:"cost"`
		Currency string      `json:"currency"`
		Unit     string      `json:"unit"`
	} `json:"records"`
}

// Normalize implements cost.Normalizer.
func (n Normalizer) Normalize(raw cost.RawPayload) ([]cost.CostRecord, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", n.ID, err)
	}

	currency := n.Currency
	if currency == "" {
		currency = "USD"
	}

	out := make([]cost.CostRecord, 0, len(doc.Records))
	for i, r := range doc.Records {
		date, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("record %d: bad date %q: %w", i, r.Date, err)
		}
		amount, err := r.Cost.Float64()
		if err != nil {
			return nil, fmt.Errorf("record %d: bad cost %q: %w", i, r.Cost, err)
		}
		rec := cost.CostRecord{
			Provider: n.ID,
			Service:  r.Service,
			Region:   r.Region,
			Date:     date,
			Amount:   amount,
			Currency: r.Currency,
			Unit:     r.Unit,
		}
		if rec.Currency == "" {
			rec.Currency = currency
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ cost.Normalizer = Normalizer{}
