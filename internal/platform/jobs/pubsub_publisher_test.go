package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nihonselect/api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurred := time.Date(2025, 5, 6, 18, 0, 0, 0, time.FixedZone("JST", 9*3600))
	event := services.OrderEvent{
		Type:          "order.created",
		OrderID:       "ord_01",
		Version:       1,
		CurrentStatus: "confirmed",
		OccurredAt:    occurred,
		Metadata: map[string]any{
			"newsletterOptIn": true,
			"email":           "shopper@example.com",
		},
	}

	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]

	var payload orderEventMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "order.created" || payload.OrderID != "ord_01" || payload.Version != 1 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) || payload.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC occurred_at, got %v", payload.OccurredAt)
	}
	if opt, _ := payload.Metadata["newsletterOptIn"].(bool); !opt {
		t.Fatalf("expected newsletter opt-in metadata, got %v", payload.Metadata)
	}
	if msg.Attributes["eventType"] != "order.created" || msg.Attributes["orderId"] != "ord_01" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if msg.Attributes["version"] != "1" || msg.Attributes["status"] != "confirmed" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if msg.OrderingKey != "ord_01" {
		t.Fatalf("expected ordering key ord_01, got %q", msg.OrderingKey)
	}
}

func TestPubSubOrderEventPublisherRejectsMissingOrderID(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: "order.created"}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
	if got := len(srv.Messages()); got != 0 {
		t.Fatalf("expected no messages, got %d", got)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
