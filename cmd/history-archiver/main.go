// Package main is the entrypoint for the History Archiver Lambda
// function.
//
// The archiver runs daily via an EventBridge rule. It moves execution
// history entries past the retention window to S3 as gzipped JSONL
// batches and deletes them from the ledger. Business logic lives in
// internal/engine (HistoryArchiver); this file handles dependency
// wiring at cold start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fleetmaint/internal/config"
	"fleetmaint/internal/db"
	"fleetmaint/internal/engine"
	"fleetmaint/internal/external"
)

// ArchiveInput is the EventBridge invocation payload. RetentionOverride
// lets an operator run a one-off archival with a different window,
// expressed as a Go duration string.
type ArchiveInput struct {
	RetentionOverride string `json:"retention_override,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("history archiver initializing (cold start)",
		"environment", cfg.Environment,
		"retention", cfg.Retention.HistoryRetention.String(),
		"archive_bucket", cfg.AWS.HistoryBucket,
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

	var uploader engine.ArchiveUploader
	if cfg.AWS.HistoryBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = &cfg.AWS.EndpointURL
				o.UsePathStyle = true
			}
		})
		uploader = external.NewS3ArchiveUploader(s3Client, cfg.AWS.HistoryBucket, logger)
	}

	archiver := engine.NewHistoryArchiver(
		db.NewHistoryRepository(pool),
		uploader,
		cfg.Retention.ArchiveBatchSize,
		logger,
	)

	retention := cfg.Retention.HistoryRetention

	lambda.Start(func(ctx context.Context, input ArchiveInput) (string, error) {
		window := retention
		if input.RetentionOverride != "" {
			parsed, err := time.ParseDuration(input.RetentionOverride)
			if err != nil {
				return "", fmt.Errorf("invalid retention_override %q: %w", input.RetentionOverride, err)
			}
			window = parsed
		}

		archived, err := archiver.Archive(ctx, time.Now().UTC(), window)
		if err != nil {
			logger.ErrorContext(ctx, "history archival failed",
				"error", err,
				"archived_before_error", archived,
			)
			return "", fmt.Errorf("history archival failed: %w", err)
		}

		result := fmt.Sprintf("archival complete: %d entries archived", archived)
		logger.InfoContext(ctx, result, "archived", archived)
		return result, nil
	})
}
