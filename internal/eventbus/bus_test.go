package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/portalkeep/portalkeep/internal/eventbus"
)

func TestBusPublishDeliver(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicLoginOutcome)
	defer sub.Close()

	payload := eventbus.LoginOutcomeEvent{
		AttemptID: "attempt-1",
		Trigger:   eventbus.TriggerManual,
		Status:    eventbus.OutcomeSuccess,
		Message:   "login success",
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicLoginOutcome,
		Source:  eventbus.SourceReconnectController,
		Payload: payload,
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.LoginOutcomeEvent)
		if !ok {
			t.Fatalf("expected LoginOutcomeEvent payload, got %T", env.Payload)
		}
		if msg.AttemptID != payload.AttemptID {
			t.Fatalf("expected attempt %q, got %q", payload.AttemptID, msg.AttemptID)
		}
		if env.Timestamp.IsZero() {
			t.Fatal("expected envelope timestamp to be stamped")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestBusDropOldest(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicBuffer(eventbus.TopicProbeStatus, 1))
	sub := bus.Subscribe(eventbus.TopicProbeStatus, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicProbeStatus,
		Source:  eventbus.SourceProber,
		Payload: eventbus.ProbeStatusEvent{Reachable: false},
	})

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicProbeStatus,
		Source:  eventbus.SourceProber,
		Payload: eventbus.ProbeStatusEvent{Reachable: true},
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.ProbeStatusEvent)
		if !ok {
			t.Fatalf("expected ProbeStatusEvent payload, got %T", env.Payload)
		}
		if !msg.Reachable {
			t.Fatal("expected newest event after drop-oldest")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event after drops")
	}

	if sub.Dropped() == 0 {
		t.Fatal("expected dropped events to be recorded")
	}
}

func TestTypedSubscribeSkipsMismatchedPayloads(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Probe.Status)
	defer sub.Close()

	ctx := context.Background()

	// Wrong payload type on the topic is skipped by the bridge.
	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicProbeStatus,
		Source:  eventbus.SourceProber,
		Payload: "not a probe event",
	})

	eventbus.Publish(ctx, bus, eventbus.Probe.Status, eventbus.SourceProber, eventbus.ProbeStatusEvent{
		Reachable: true,
		ProbeURL:  "http://example.com",
	})

	select {
	case env := <-sub.C():
		if !env.Payload.Reachable {
			t.Fatal("expected the typed event, not the mismatched one")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestPublishWithCorrelationID(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Login.Outcome)
	defer sub.Close()

	eventbus.PublishWithOpts(context.Background(), bus, eventbus.Login.Outcome,
		eventbus.SourceReconnectController,
		eventbus.LoginOutcomeEvent{AttemptID: "attempt-2"},
		eventbus.WithCorrelationID("attempt-2"))

	select {
	case env := <-sub.C():
		if env.CorrelationID != "attempt-2" {
			t.Fatalf("expected correlation ID attempt-2, got %q", env.CorrelationID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestConsumeForwardsPayloads(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.SubscribeTo(bus, eventbus.Probe.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan eventbus.ProbeStatusEvent, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go eventbus.Consume(ctx, sub, &wg, func(ev eventbus.ProbeStatusEvent) {
		select {
		case got <- ev:
		default:
		}
	})

	eventbus.Publish(ctx, bus, eventbus.Probe.Status, eventbus.SourceProber,
		eventbus.ProbeStatusEvent{Reachable: true})

	select {
	case ev := <-got:
		if !ev.Reachable {
			t.Fatal("expected the published payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumed event")
	}

	cancel()
	wg.Wait()
	sub.Close()
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *eventbus.Bus

	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicLoginOutcome})

	sub := eventbus.SubscribeTo(bus, eventbus.Login.Outcome)
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel from nil-bus subscription")
	}
	sub.Close()
}

func TestBusShutdownClosesSubscriptions(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicConfigReloaded)

	bus.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
