// Package cost defines the provider-facing domain model: cost records,
// the provider client and normalizer capabilities, and analysis reports.
package cost

import (
	"context"
	"time"
)

// ProviderID identifies a cloud provider (aws, aliyun, tencent, ...).
type ProviderID string

// Granularity is the time bucket size requested from a provider.
type Granularity string

// Supported granularities.
const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	return g == GranularityDaily || g == GranularityMonthly
}

// RawPayload is the provider-specific response body before normalization.
type RawPayload []byte

// CostRecord is the provider-neutral shape every payload is normalized into.
type CostRecord struct {
	Provider ProviderID `json:"provider"`
	Service  string     `json:"service"`
	Region   string     `json:"region,omitempty"`
	Date     time.Time  `json:"date"`
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Unit     string     `json:"unit,omitempty"`
}

// ProviderClient fetches raw billing data from one cloud provider.
//
// Implementations must classify their failures with Transient or Permanent
// so that only recoverable errors are retried.
type ProviderClient interface {
	// ID returns the provider this client talks to.
	ID() ProviderID

	// TestConnection checks credentials and reachability.
	TestConnection(ctx context.Context) (bool, string)

	// FetchCostData returns the raw payload for the inclusive date range.
	FetchCostData(ctx context.Context, start, end time.Time, granularity Granularity) (RawPayload, error)
}

// Normalizer converts a provider payload into cost records. It must not do I/O.
type Normalizer interface {
	Normalize(payload RawPayload) ([]CostRecord, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(payload RawPayload) ([]CostRecord, error)

// Normalize calls f.
func (f NormalizerFunc) Normalize(payload RawPayload) ([]CostRecord, error) {
	return f(payload)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
