package application

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// resolvedRequest is an AnalysisRequest with defaults applied and dates
// truncated to UTC days.
type resolvedRequest struct {
	Providers   []cost.ProviderID
	Start       time.Time
	End         time.Time
	Granularity cost.Granularity
}

// resolve applies defaults and validates req. Checks run in a fixed order:
// unknown provider, start after end, end in the future, span too long.
func (s *AnalysisService) resolve(req AnalysisRequest) (resolvedRequest, error) {
	providers, err := s.resolveProviders(req.Providers)
	if err != nil {
		return resolvedRequest{}, err
	}

	today := cost.Day(s.now())
	start, end := req.Start, req.End
	switch {
	case start.IsZero() && end.IsZero():
		end = today
		start = end.AddDate(0, 0, -s.defaultRangeDays)
	case start.IsZero():
		end = cost.Day(end)
		start = end.AddDate(0, 0, -s.defaultRangeDays)
	case end.IsZero():
		end = today
	}
	start, end = cost.Day(start), cost.Day(end)

	if start.After(end) {
		return resolvedRequest{}, &cost.ValidationError{
			Field:   "start",
			Message: fmt.Sprintf("%s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly)),
		}
	}
	if end.After(today) {
		return resolvedRequest{}, &cost.ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("%s is in the future", end.Format(time.DateOnly)),
		}
	}
	if days := int(end.Sub(start).Hours() / 24); days > s.maxRangeDays {
		return resolvedRequest{}, &cost.ValidationError{
			Field:   "range",
			Message: fmt.Sprintf("%d days exceeds the maximum of %d", days, s.maxRangeDays),
		}
	}

	granularity := req.Granularity
	if granularity == "" {
		granularity = s.granularity
	}
	if !granularity.Valid() {
		return resolvedRequest{}, &cost.ValidationError{
			Field:   "granularity",
			Message: fmt.Sprintf("unsupported granularity %q", granularity),
		}
	}

	return resolvedRequest{Providers: providers, Start: start, End: end, Granularity: granularity}, nil
}

// resolveProviders expands an empty set to every registered provider and
// drops duplicates while keeping the caller's order.
func (s *AnalysisService) resolveProviders(requested []cost.ProviderID) ([]cost.ProviderID, error) {
	if len(requested) == 0 {
		ids := s.registry.IDs()
		if len(ids) == 0 {
			return nil, &cost.ValidationError{Field: "providers", Message: "no providers are registered"}
		}
		return ids, nil
	}

	seen := make(map[cost.ProviderID]bool, len(requested))
	out := make([]cost.ProviderID, 0, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		if !s.registry.Has(id) {
			return nil, &cost.ValidationError{Field: "providers", Message: fmt.Sprintf("unknown provider %q", id)}
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
