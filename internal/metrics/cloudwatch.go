// Package metrics publishes scheduling engine statistics to CloudWatch.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"fleetmaint/internal/engine"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metric names emitted per tick.
const (
	MetricCandidates       = "TickCandidates"
	MetricGenerated        = "WorkOrdersGenerated"
	MetricAlreadyGenerated = "CyclesAlreadyGenerated"
	MetricSkippedNotDue    = "SchedulesNotDue"
	MetricFailed           = "SchedulesFailed"
	MetricLeaseContended   = "LeaseContentions"
	MetricTickDuration     = "TickDuration"
)

// Compile-time assertion that CloudWatchTickMetrics satisfies the
// engine's metrics contract.
var _ engine.TickMetrics = (*CloudWatchTickMetrics)(nil)

// CloudWatchTickMetrics publishes per-tick statistics to a CloudWatch
// namespace. Publish failures are logged and swallowed; metrics are
// never allowed to fail a tick.
type CloudWatchTickMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchTickMetrics creates a publisher for the given namespace.
func NewCloudWatchTickMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchTickMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchTickMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// PublishTickStats emits one datum per counter plus the tick duration in
// milliseconds, all in a single PutMetricData call.
func (m *CloudWatchTickMetrics) PublishTickStats(ctx context.Context, stats engine.TickStats) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			countDatum(MetricCandidates, stats.Candidates),
			countDatum(MetricGenerated, stats.Generated),
			countDatum(MetricAlreadyGenerated, stats.AlreadyGenerated),
			countDatum(MetricSkippedNotDue, stats.SkippedNotDue),
			countDatum(MetricFailed, stats.Failed),
			countDatum(MetricLeaseContended, stats.LeaseContended),
			{
				MetricName: aws.String(MetricTickDuration),
				Value:      aws.Float64(float64(stats.Duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish tick metrics",
			"namespace", m.namespace,
			"error", err,
		)
	}
}

func countDatum(name string, value int) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(value)),
		Unit:       cwtypes.StandardUnitCount,
	}
}
