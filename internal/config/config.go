// Package config defines the global configuration structure for the
// fleet maintenance scheduling engine. Configuration is loaded once at
// process initialization and is immutable thereafter. It follows
// 12-Factor App principles by strictly separating code from configuration.
//
// Any missing required value or invalid format causes the process to
// fail immediately on startup (fail fast).
package config

import (
	"time"
)

// Config is the top-level configuration struct for the scheduling engine.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"fleetmaint-scheduler"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Database  DatabaseConfig
	AWS       AWSConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
	Webhook   WebhookConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`
	HistoryBucket     string `envconfig:"HISTORY_ARCHIVE_BUCKET"`
	MetricNamespace   string `envconfig:"METRIC_NAMESPACE" default:"FleetMaint/Scheduler"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SchedulerConfig holds the tick-driver tunables. These are operational
// policy, passed explicitly into the driver constructor rather than read
// from ambient state.
type SchedulerConfig struct {
	// TickInterval documents the external trigger cadence. The driver does
	// not sleep on it; ticks arrive from EventBridge (or a test harness).
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"1h"`

	// WorkerCount bounds the per-tick worker pool.
	WorkerCount int `envconfig:"SCHEDULER_WORKERS" default:"8" validate:"gte=1,lte=64"`

	// LeaseTTL must be comfortably longer than expected generation latency;
	// stale leases from crashed workers expire after this duration.
	LeaseTTL time.Duration `envconfig:"SCHEDULER_LEASE_TTL" default:"5m"`

	// ScheduleTimeout is the hard per-schedule processing deadline.
	ScheduleTimeout time.Duration `envconfig:"SCHEDULER_SCHEDULE_TIMEOUT" default:"30s"`

	// EscalationThreshold is the consecutive-failure count at which a
	// schedule is flagged needs_attention.
	EscalationThreshold int `envconfig:"SCHEDULER_ESCALATION_THRESHOLD" default:"3" validate:"gte=1"`

	// TenantFilter restricts a tick to one tenant when set. Empty means
	// all tenants.
	TenantFilter string `envconfig:"SCHEDULER_TENANT_FILTER"`

	// ListLimit caps the number of candidate schedules per tick.
	ListLimit int `envconfig:"SCHEDULER_LIST_LIMIT" default:"1000" validate:"gte=1"`
}

// RetentionConfig holds tunables for the history archival job.
type RetentionConfig struct {
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"2160h"` // 90 days
	ArchiveBatchSize int           `envconfig:"HISTORY_ARCHIVE_BATCH" default:"1000" validate:"gte=1"`
}

// WebhookConfig holds settings for the optional ops escalation webhook.
type WebhookConfig struct {
	// EscalationURL receives a POST for every needs_attention transition.
	// Empty disables the webhook channel.
	EscalationURL string        `envconfig:"ESCALATION_WEBHOOK_URL" validate:"omitempty,url"`
	UserAgent     string        `envconfig:"ESCALATION_WEBHOOK_USER_AGENT" default:"FleetMaint-Scheduler/1.0"`
	Timeout       time.Duration `envconfig:"ESCALATION_WEBHOOK_TIMEOUT" default:"10s"`
}
