// Package main is the entrypoint for the Scheduler Lambda function.
//
// The scheduler runs on a fixed cadence via an EventBridge rule. Each
// invocation is one tick: it lists active recurring schedules, evaluates
// their metric tracks against current asset readings, and generates work
// orders for the schedules that are due. All business logic lives in
// internal/engine; this file handles dependency wiring at cold start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"fleetmaint/internal/config"
	"fleetmaint/internal/db"
	"fleetmaint/internal/engine"
	"fleetmaint/internal/external"
	"fleetmaint/internal/metrics"
	"fleetmaint/internal/queue"
)

// TickInput is the EventBridge invocation payload. ReferenceTime allows
// manual backfill invocations to evaluate as-of a past instant; when
// empty, the tick evaluates at the current wall clock.
type TickInput struct {
	ReferenceTime string `json:"reference_time,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("scheduler initializing (cold start)",
		"environment", cfg.Environment,
		"service", cfg.Service,
	)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = &cfg.AWS.EndpointURL
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	notifiers := engine.MultiNotifier{
		queue.NewNotificationPublisher(sqsClient, cfg.AWS, logger),
	}
	if webhook := external.NewEscalationWebhook(cfg.Webhook, logger); webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	driver := engine.NewDriver(engine.DriverConfig{
		Schedules: db.NewScheduleRepository(pool),
		Readings:  db.NewReadingRepository(pool),
		Leases:    db.NewLeaseRepository(pool),
		History:   db.NewHistoryRepository(pool),
		Committer: db.NewCycleRepository(pool),
		Generator: engine.NewGenerator(db.NewTechnicianRepository(pool)),
		Notifier:  notifiers,
		TickRuns:  db.NewTickRunRepository(pool),
		Metrics:   metrics.NewCloudWatchTickMetrics(cwClient, cfg.AWS.MetricNamespace, logger),

		Workers:             cfg.Scheduler.WorkerCount,
		LeaseTTL:            cfg.Scheduler.LeaseTTL,
		ScheduleTimeout:     cfg.Scheduler.ScheduleTimeout,
		EscalationThreshold: cfg.Scheduler.EscalationThreshold,
		TenantFilter:        cfg.Scheduler.TenantFilter,
		ListLimit:           cfg.Scheduler.ListLimit,

		Logger: logger,
	})

	logger.Info("scheduler initialized",
		"workers", cfg.Scheduler.WorkerCount,
		"lease_ttl", cfg.Scheduler.LeaseTTL.String(),
		"escalation_threshold", cfg.Scheduler.EscalationThreshold,
		"tenant_filter", cfg.Scheduler.TenantFilter,
	)

	lambda.Start(newHandler(driver, logger))
}

// newHandler wraps Driver.Tick with input parsing and error reporting.
func newHandler(driver *engine.Driver, logger *slog.Logger) func(ctx context.Context, input TickInput) (string, error) {
	return func(ctx context.Context, input TickInput) (string, error) {
		now := time.Now().UTC()
		if input.ReferenceTime != "" {
			parsed, err := time.Parse(time.RFC3339, input.ReferenceTime)
			if err != nil {
				return "", fmt.Errorf("invalid reference_time %q: %w", input.ReferenceTime, err)
			}
			now = parsed.UTC()
		}

		stats, err := driver.Tick(ctx, now)
		if err != nil {
			logger.ErrorContext(ctx, "tick failed",
				"error", err,
				"candidates", stats.Candidates,
			)
			return "", fmt.Errorf("scheduler tick failed: %w", err)
		}

		result := fmt.Sprintf("tick complete: %d generated, %d not due, %d failed of %d candidates",
			stats.Generated, stats.SkippedNotDue, stats.Failed, stats.Candidates)
		return result, nil
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
