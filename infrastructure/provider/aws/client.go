// Package aws fetches billing data from AWS Cost Explorer.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"

	"github.com/felixgeelhaar/cost-go/domain/cost"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
)

const (
	// DefaultID is the provider id used when none is configured.
	DefaultID cost.ProviderID = "aws"

	// Cost Explorer is only served from us-east-1.
	defaultRegion = "us-east-1"

	metricUnblended = "UnblendedCost"
	dateLayout      = "2006-01-02"
)

// CostExplorerAPI is the subset of the Cost Explorer client used here.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Config configures the AWS provider.
type Config struct {
	ID      cost.ProviderID
	Profile string
	Region  string
	// HTTPClient carries SDK requests, normally the shared connection pool's client.
	HTTPClient *http.Client
}

// Client is a cost.ProviderClient for AWS Cost Explorer.
type Client struct {
	id  cost.ProviderID
	api CostExplorerAPI
	now func() time.Time
}

// NewClient loads the shared AWS configuration and builds a Cost Explorer
// client. The SDK's own retryer is limited to one attempt because retries
// are applied by the caller's resilience layer.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	api := costexplorer.NewFromConfig(awsCfg, func(o *costexplorer.Options) {
		o.RetryMaxAttempts = 1
	})
	return NewClientWithAPI(cfg.ID, api), nil
}

// NewClientWithAPI wraps an existing Cost Explorer API.
func NewClientWithAPI(id cost.ProviderID, api CostExplorerAPI) *Client {
	if id == "" {
		id = DefaultID
	}
	return &Client{id: id, api: api, now: time.Now}
}

// ID returns the provider id.
func (c *Client) ID() cost.ProviderID {
	return c.id
}

// TestConnection issues a one-day monthly query.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	today := cost.Day(c.now())
	_, err := c.api.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: sdkaws.String(today.AddDate(0, 0, -1).Format(dateLayout)),
			End:   sdkaws.String(today.Format(dateLayout)),
		},
		Granularity: types.GranularityMonthly,
		Metrics:     []string{metricUnblended},
	})
	if err != nil {
		return false, err.Error()
	}
	return true, "connected to AWS Cost Explorer"
}

// FetchCostData returns per-service unblended cost rows for [start, end],
// both inclusive, as a JSON payload.
func (c *Client) FetchCostData(ctx context.Context, start, end time.Time, granularity cost.Granularity) (cost.RawPayload, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: sdkaws.String(cost.Day(start).Format(dateLayout)),
			End:   sdkaws.String(cost.Day(end).AddDate(0, 0, 1).Format(dateLayout)),
		},
		Granularity: sdkGranularity(granularity),
		Metrics:     []string{metricUnblended},
		GroupBy: []types.GroupDefinition{{
			Type: types.GroupDefinitionTypeDimension,
			Key:  sdkaws.String("SERVICE"),
		}},
	}

	var out payload
	for {
		resp, err := c.api.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, classify(c.id, err)
		}
		out.Rows = append(out.Rows, rowsFrom(resp.ResultsByTime)...)

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		input.NextPageToken = resp.NextPageToken
	}

	logging.Debug().
		Add(logging.Provider(string(c.id))).
		Add(logging.Count("rows", len(out.Rows))).
		Msg("fetched cost explorer data")

	data, err := json.Marshal(out)
	if err != nil {
		return nil, cost.Permanent(c.id, err)
	}
	return data, nil
}

func sdkGranularity(g cost.Granularity) types.Granularity {
	if g == cost.GranularityMonthly {
		return types.GranularityMonthly
	}
	return types.GranularityDaily
}

func rowsFrom(results []types.ResultByTime) []row {
	var rows []row
	for _, period := range results {
		if period.TimePeriod == nil || period.TimePeriod.Start == nil {
			continue
		}
		for _, group := range period.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			m, ok := group.Metrics[metricUnblended]
			if !ok || m.Amount == nil {
				continue
			}
			rows = append(rows, row{
				Start:   *period.TimePeriod.Start,
				Service: group.Keys[0],
				Amount:  *m.Amount,
				Unit:    sdkaws.ToString(m.Unit),
			})
		}
	}
	return rows
}

var transientCodes = map[string]bool{
	"ThrottlingException":         true,
	"Throttling":                  true,
	"TooManyRequestsException":    true,
	"LimitExceededException":      true,
	"RequestLimitExceeded":        true,
	"ServiceUnavailable":          true,
	"ServiceUnavailableException": true,
	"InternalServerError":         true,
	"InternalFailure":             true,
	"RequestTimeout":              true,
	"DataUnavailableException":    true,
}

// classify sorts SDK errors into transient and permanent. Throttling,
// server faults and network failures are transient; everything the API
// rejects as the caller's fault is permanent.
func classify(id cost.ProviderID, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cost.Transient(id, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return cost.Transient(id, err)
		}
		return cost.Permanent(id, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return cost.Transient(id, err)
	}
	return cost.Permanent(id, err)
}
