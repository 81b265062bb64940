package events

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDispatcherRunsAllHandlers(t *testing.T) {
	t.Parallel()

	d := NewInMemoryDispatcher()
	var calls int
	boom := errors.New("boom")
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { calls++; return boom })
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { calls++; return nil })
	d.Subscribe(EventUserBanned, func(context.Context, Event) error { calls += 10; return nil })

	err := d.Publish(context.Background(), Event{Type: EventTicketCreated})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
}

func TestDispatcherRecoversPanickingHandler(t *testing.T) {
	t.Parallel()

	d := NewInMemoryDispatcher()
	var reached bool
	d.Subscribe(EventMessageCreated, func(context.Context, Event) error { panic("exporter gone") })
	d.Subscribe(EventMessageCreated, func(context.Context, Event) error { reached = true; return nil })

	err := d.Publish(context.Background(), Event{Type: EventMessageCreated})
	if err == nil || !strings.Contains(err.Error(), "exporter gone") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
	if !reached {
		t.Fatalf("second handler skipped after panic")
	}
}

func TestDispatcherWildcardSeesEveryType(t *testing.T) {
	t.Parallel()

	d := NewInMemoryDispatcher()
	var order []string
	d.SubscribeAll(func(_ context.Context, e Event) error { order = append(order, "all:"+string(e.Type)); return nil })
	d.Subscribe(EventUserBanned, func(context.Context, Event) error { order = append(order, "typed"); return nil })

	for _, et := range []EventType{EventUserBanned, EventTicketCreated} {
		if err := d.Publish(context.Background(), Event{Type: et}); err != nil {
			t.Fatalf("Publish(%s): %v", et, err)
		}
	}
	want := []string{"typed", "all:" + string(EventUserBanned), "all:" + string(EventTicketCreated)}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if err := d.Publish(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for untyped event")
	}
}

func TestKafkaPublisherTopic(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(nil, "x."); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"127.0.0.1:9092"}, "livechat.")
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}
	defer p.Close()
	if got := p.Topic(EventUserBanned); got != "livechat.user_banned" {
		t.Fatalf("topic = %q", got)
	}
}
