package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Operation names used in keys.
const (
	OpCostData         = "cost_data"
	OpConnectionStatus = "connection_status"
	OpAnalysis         = "analysis"
)

const dateLayout = "2006-01-02"

// Key builds a stable key for a provider operation. Parameters are sorted by
// name before hashing, so map order never changes the key. Each name and
// value is length-prefixed, so no value can forge a second parameter.
func Key(provider, operation string, params map[string]string) string {
	if len(params) == 0 {
		return provider + ":" + operation
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		writeField(&b, name)
		writeField(&b, strings.TrimSpace(params[name]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return provider + ":" + operation + ":" + hex.EncodeToString(sum[:])[:16]
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// ProviderPrefix is the prefix shared by every key of provider.
func ProviderPrefix(provider string) string {
	return provider + ":"
}

// CostDataKey is the key for one provider's cost data over a date range.
func CostDataKey(provider string, start, end time.Time, granularity string) string {
	return Key(provider, OpCostData, map[string]string{
		"start":       start.UTC().Format(dateLayout),
		"end":         end.UTC().Format(dateLayout),
		"granularity": granularity,
	})
}

// ConnectionStatusKey is the key for a provider's last connection check.
func ConnectionStatusKey(provider string) string {
	return Key(provider, OpConnectionStatus, nil)
}

// AnalysisKey is the key for a derived analysis of the given kind.
func AnalysisKey(provider, kind string, params map[string]string) string {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["kind"] = kind
	return Key(provider, OpAnalysis, merged)
}
