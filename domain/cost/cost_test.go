package cost

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClient struct{ id ProviderID }

func (s stubClient) ID() ProviderID { return s.id }

func (s stubClient) TestConnection(context.Context) (bool, string) { return true, "ok" }

func (s stubClient) FetchCostData(context.Context, time.Time, time.Time, Granularity) (RawPayload, error) {
	return RawPayload(`{}`), nil
}

var noopNormalizer = NormalizerFunc(func(RawPayload) ([]CostRecord, error) { return nil, nil })

func TestProviderErrorClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("connection reset")

	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantPermanent bool
	}{
		{"transient", Transient("aws", base), true, false},
		{"permanent", Permanent("aws", base), false, true},
		{"wrapped transient", errors.Join(errors.New("outer"), Transient("aws", base)), true, false},
		{"plain error", base, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
			if got := IsPermanent(tt.err); got != tt.wantPermanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.wantPermanent)
			}
		})
	}

	if !errors.Is(Transient("aws", base), base) {
		t.Error("ProviderError should unwrap to the cause")
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	err := error(&ValidationError{Field: "end", Message: "date is in the future"})
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	if got := err.Error(); got != "validation failed: end: date is in the future" {
		t.Errorf("Error() = %q", got)
	}

	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "end" {
		t.Errorf("errors.As() field = %v", ve)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []ProviderID{"tencent", "aws", "aliyun"} {
		if err := r.Register(stubClient{id: id}, noopNormalizer); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}

	if err := r.Register(stubClient{id: "aws"}, noopNormalizer); !errors.Is(err, ErrDuplicateProvider) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateProvider", err)
	}
	if err := r.Register(nil, noopNormalizer); err == nil {
		t.Error("Register(nil) should fail")
	}

	ids := r.IDs()
	want := []ProviderID{"aliyun", "aws", "tencent"}
	if len(ids) != len(want) {
		t.Fatalf("IDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	if _, err := r.Lookup("gcp"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Lookup(gcp) error = %v, want ErrUnknownProvider", err)
	}
	reg, err := r.Lookup("aws")
	if err != nil || reg.Client.ID() != "aws" {
		t.Errorf("Lookup(aws) = %v, %v", reg, err)
	}
	if !r.Has("aliyun") || r.Has("gcp") {
		t.Error("Has() mismatch")
	}
}

func TestReportFinalize(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &AnalysisReport{
		Requested:  []ProviderID{"aws", "aliyun", "tencent"},
		Successful: []ProviderID{"aws", "aliyun"},
		Failed:     []ProviderFailure{{Provider: "tencent", Kind: FailurePermanent}},
		Records: []CostRecord{
			{Provider: "aws", Service: "EC2", Date: day.AddDate(0, 0, 1), Amount: 10},
			{Provider: "aliyun", Service: "ECS", Date: day, Amount: 2.5},
			{Provider: "aws", Service: "S3", Date: day, Amount: 1.5},
		},
		CacheHits:   1,
		CacheMisses: 2,
	}

	r.Finalize()

	if r.TotalCost != 14 {
		t.Errorf("TotalCost = %v, want 14", r.TotalCost)
	}
	if r.ProviderTotals["aws"] != 11.5 {
		t.Errorf("ProviderTotals[aws] = %v, want 11.5", r.ProviderTotals["aws"])
	}
	if r.Records[0].Provider != "aliyun" || r.Records[1].Service != "S3" {
		t.Errorf("records not sorted: %+v", r.Records)
	}
	if r.Successful[0] != "aliyun" {
		t.Errorf("Successful not sorted: %v", r.Successful)
	}
	if r.CacheHitRatio < 0.33 || r.CacheHitRatio > 0.34 {
		t.Errorf("CacheHitRatio = %v, want 1/3", r.CacheHitRatio)
	}
	if !r.Partial() || r.TotalFailure() {
		t.Error("report should be partial, not a total failure")
	}
	if f, ok := r.FailureFor("tencent"); !ok || f.Kind != FailurePermanent {
		t.Errorf("FailureFor(tencent) = %+v, %v", f, ok)
	}
}

func TestReportTotalFailure(t *testing.T) {
	t.Parallel()

	r := &AnalysisReport{
		Requested: []ProviderID{"aws"},
		Failed:    []ProviderFailure{{Provider: "aws", Kind: FailureCircuitOpen}},
	}
	r.Finalize()

	if !r.TotalFailure() {
		t.Error("TotalFailure() = false, want true")
	}
	if r.CacheHitRatio != 0 {
		t.Errorf("CacheHitRatio = %v, want 0", r.CacheHitRatio)
	}
}

func TestGranularityAndDay(t *testing.T) {
	t.Parallel()

	if !GranularityDaily.Valid() || Granularity("hourly").Valid() {
		t.Error("Granularity.Valid() mismatch")
	}

	got := Day(time.Date(2024, 5, 6, 23, 59, 0, 0, time.UTC))
	if !got.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Day() = %v", got)
	}
}
