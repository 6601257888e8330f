package events

import (
	"context"
	"os"
	"testing"
	"time"

	"markpaste/pkg/domain"
)

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		kind domain.EventKind
		want string
	}{
		{domain.EventCreated, "paste.created"},
		{domain.EventViewed, "paste.viewed"},
		{domain.EventCopied, "paste.copied"},
		{domain.EventShared, "paste.shared"},
	}
	for _, tt := range tests {
		if got := RoutingKey(tt.kind); got != tt.want {
			t.Errorf("RoutingKey(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), domain.Event{Kind: domain.EventViewed}); err != nil {
		t.Errorf("Publish = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestAMQPPublish(t *testing.T) {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("AMQP_URL not set")
	}
	p, err := DialAMQP(url, "markpaste_test_events")
	if err != nil {
		t.Skipf("broker unavailable: %v", err)
	}
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev := domain.Event{Kind: domain.EventCreated, PasteID: "abcd1234", ContentLength: 7, At: time.Now()}
	if err := p.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
