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

	"github.com/Arpitray/commerce/internal/services"
)

func TestPubSubDivergencePublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "cart-divergence")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubDivergencePublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDivergencePublisher: %v", err)
	}

	occurredAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.CartDivergence{
		ID:         "01HZX0000000000000000000AB",
		SessionID:  "01HZX0000000000000000000CD",
		UserID:     "u1",
		Operation:  services.CartOperationAdd,
		ProductID:  "42",
		Quantity:   2,
		Reason:     "cart service: remote cart unavailable",
		OccurredAt: occurredAt,
	}

	if err := publisher.ReportDivergence(ctx, event); err != nil {
		t.Fatalf("ReportDivergence: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload DivergenceMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventID != event.ID || payload.Operation != "add" || payload.ProductID != "42" || payload.Quantity != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("expected occurredAt %s, got %s", occurredAt, payload.OccurredAt)
	}
	if attr := messages[0].Attributes["userId"]; attr != "u1" {
		t.Fatalf("expected userId attribute, got %q", attr)
	}
}

func TestPubSubDivergencePublisherOmitsEmptyAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "cart-divergence")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubDivergencePublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDivergencePublisher: %v", err)
	}
	if err := publisher.ReportDivergence(ctx, services.CartDivergence{
		ID:        "evt",
		UserID:    "u1",
		Operation: services.CartOperationClear,
	}); err != nil {
		t.Fatalf("ReportDivergence: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["productId"]; ok {
		t.Fatalf("productId attribute should not be present for clear")
	}
}

func TestNewPubSubDivergencePublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubDivergencePublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
