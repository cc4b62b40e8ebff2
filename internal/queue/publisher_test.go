package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"fleetmaint/internal/config"
	"fleetmaint/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/fleetmaint-notifications"

func newTestPublisher(mock *mockSQSSender) *NotificationPublisher {
	awsCfg := config.AWSConfig{NotificationQueue: testQueueURL}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNotificationPublisher(mock, awsCfg, logger)
}

func TestNotify_SendsEventToQueue(t *testing.T) {
	mock := &mockSQSSender{}
	pub := newTestPublisher(mock)

	event := types.NotificationEvent{
		Type:        types.EventWorkOrderGenerated,
		TenantID:    "tenant_1",
		ScheduleID:  "sched_1",
		AssetID:     "asset_1",
		WorkOrderID: "wo_1",
		ServiceType: "oil_change",
		TraceID:     "trace_abc",
	}

	if err := pub.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	call := mock.calls[0]

	if *call.QueueUrl != testQueueURL {
		t.Fatalf("expected queue %s, got %s", testQueueURL, *call.QueueUrl)
	}

	var sent types.NotificationEvent
	if err := json.Unmarshal([]byte(*call.MessageBody), &sent); err != nil {
		t.Fatalf("message body is not valid JSON: %v", err)
	}
	if sent.Type != types.EventWorkOrderGenerated || sent.WorkOrderID != "wo_1" {
		t.Fatalf("unexpected message payload: %+v", sent)
	}
	if sent.TraceID != "trace_abc" {
		t.Fatalf("caller-provided trace ID must survive, got %q", sent.TraceID)
	}

	attr, ok := call.MessageAttributes["event_type"]
	if !ok || *attr.StringValue != string(types.EventWorkOrderGenerated) {
		t.Fatalf("expected event_type attribute, got %+v", call.MessageAttributes)
	}
	tenant, ok := call.MessageAttributes["tenant_id"]
	if !ok || *tenant.StringValue != "tenant_1" {
		t.Fatalf("expected tenant_id attribute, got %+v", call.MessageAttributes)
	}
}

func TestNotify_AssignsTraceIDWhenMissing(t *testing.T) {
	mock := &mockSQSSender{}
	pub := newTestPublisher(mock)

	err := pub.Notify(context.Background(), types.NotificationEvent{
		Type:       types.EventScheduleEscalated,
		ScheduleID: "sched_1",
	})
	if err != nil {
		t.Fatalf("Notify returned unexpected error: %v", err)
	}

	var sent types.NotificationEvent
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &sent); err != nil {
		t.Fatalf("message body is not valid JSON: %v", err)
	}
	if sent.TraceID == "" {
		t.Fatal("publisher must assign a trace ID when the caller left it empty")
	}
}

func TestNotify_WrapsSendFailure(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("access denied")}
	pub := newTestPublisher(mock)

	err := pub.Notify(context.Background(), types.NotificationEvent{
		Type: types.EventWorkOrderGenerated,
	})
	if err == nil {
		t.Fatal("expected error when SQS send fails")
	}
	if !errors.Is(err, mock.err) {
		t.Fatalf("expected wrapped SQS error, got %v", err)
	}
}
