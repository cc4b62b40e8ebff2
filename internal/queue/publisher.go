// Package queue provides the SQS-based producer for scheduling engine
// notification events.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"fleetmaint/internal/config"
	"fleetmaint/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// NotificationPublisher serializes NotificationEvents and sends them to
// the notification queue. Downstream workers own delivery (email, push,
// in-app); the publisher's contract is fire-and-forget from the engine's
// point of view, so callers treat Notify errors as log-and-continue.
type NotificationPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewNotificationPublisher creates a publisher bound to the notification
// queue from the AWS configuration.
func NewNotificationPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *NotificationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationPublisher{
		client:   client,
		queueURL: awsCfg.NotificationQueue,
		logger:   logger,
	}
}

// Notify serializes the event to JSON and dispatches it to the
// notification queue. A TraceID is assigned when the caller left it
// empty so downstream workers can always correlate.
func (p *NotificationPublisher) Notify(ctx context.Context, event types.NotificationEvent) error {
	if event.TraceID == "" {
		event.TraceID = uuid.New().String()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal notification event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.TenantID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send notification event to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "notification event sent",
		"queue_url", p.queueURL,
		"event_type", string(event.Type),
		"schedule_id", event.ScheduleID,
		"work_order_id", event.WorkOrderID,
		"trace_id", event.TraceID,
	)

	return nil
}
