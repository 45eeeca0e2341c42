package aws

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// payload is the raw form cached for AWS fetches.
type payload struct {
	Rows []row `json:"rows"`
}

type row struct {
	Start   string `json:"start"`
	Service string `json:"service"`
	Amount  string `json:"amount"`
	Unit    string `json:"unit"`
}

// Normalizer turns AWS payloads into cost records.
type Normalizer struct {
	ID cost.ProviderID
}

// NewNormalizer returns a normalizer that stamps records with id.
func NewNormalizer(id cost.ProviderID) Normalizer {
	if id == "" {
		id = DefaultID
	}
	return Normalizer{ID: id}
}

// Normalize implements cost.Normalizer.
func (n Normalizer) Normalize(raw cost.RawPayload) ([]cost.CostRecord, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode aws payload: %w", err)
	}

	records := make([]cost.CostRecord, 0, len(p.Rows))
	for i, r := range p.Rows {
		date, err := time.Parse(dateLayout, r.Start)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q: %w", i, r.Start, err)
		}
		amount, err := strconv.ParseFloat(r.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad amount %q: %w", i, r.Amount, err)
		}
		currency := r.Unit
		if currency == "" {
			currency = "USD"
		}
		records = append(records, cost.CostRecord{
			Provider: n.ID,
			Service:  r.Service,
			Region:   "global",
			Date:     date,
			Amount:   amount,
			Currency: currency,
			Unit:     r.Unit,
		})
	}
	return records, nil
}

var _ cost.Normalizer = Normalizer{}
