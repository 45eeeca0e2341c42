package application

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/domain/cost"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/orchestrator"
)

// ConnectionStatus is the result of one provider connection check.
type ConnectionStatus struct {
	Provider  cost.ProviderID `json:"provider"`
	Connected bool            `json:"connected"`
	Message   string          `json:"message"`
	CheckedAt time.Time       `json:"checked_at"`
	Cached    bool            `json:"cached"`
}

// TestConnections checks every requested provider concurrently, or every
// registered one when providers is empty. Successful checks are cached for
// the connection TTL; failures are always re-checked.
func (s *AnalysisService) TestConnections(ctx context.Context, providers []cost.ProviderID) ([]ConnectionStatus, error) {
	ids, err := s.resolveProviders(providers)
	if err != nil {
		return nil, err
	}

	out := make([]ConnectionStatus, 0, len(ids))
	tasks := make(map[string]orchestrator.Task[ConnectionStatus], len(ids))
	for _, id := range ids {
		key := cache.ConnectionStatusKey(string(id))
		if value, ok := s.cache.Get(ctx, key); ok {
			var status ConnectionStatus
			if err := json.Unmarshal(value, &status); err == nil {
				status.Cached = true
				out = append(out, status)
				continue
			}
			s.cache.Delete(ctx, key)
		}
		tasks[string(id)] = s.connectionTask(id, key)
	}

	results := orchestrator.ExecuteBatch(ctx, s.orchestrator, tasks)
	for _, id := range ids {
		r, ok := results[string(id)]
		if !ok {
			continue
		}
		status := r.Value
		if !r.OK() {
			status = ConnectionStatus{Provider: id, Message: r.Err.Error(), CheckedAt: s.now().UTC()}
		}
		out = append(out, status)
	}

	sortStatuses(out, ids)
	return out, nil
}

func (s *AnalysisService) connectionTask(id cost.ProviderID, key string) orchestrator.Task[ConnectionStatus] {
	return func(ctx context.Context) (ConnectionStatus, error) {
		reg, err := s.registry.Lookup(id)
		if err != nil {
			return ConnectionStatus{}, err
		}

		s.countAPICall()
		ok, msg := reg.Client.TestConnection(ctx)
		status := ConnectionStatus{Provider: id, Connected: ok, Message: msg, CheckedAt: s.now().UTC()}

		event := logging.Info()
		if !ok {
			event = logging.Warn()
		}
		event.
			Add(logging.Component("analysis")).
			Add(logging.Provider(string(id))).
			Add(logging.Str("message", msg)).
			Msg("connection checked")

		if ok {
			if value, err := json.Marshal(status); err == nil {
				s.cache.Set(ctx, key, value, s.connectionTTL)
			}
		}
		return status, nil
	}
}

// sortStatuses orders statuses like ids.
func sortStatuses(statuses []ConnectionStatus, ids []cost.ProviderID) {
	rank := make(map[cost.ProviderID]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		return rank[statuses[i].Provider] < rank[statuses[j].Provider]
	})
}
