package interact

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coday-ai/coday/pkg/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed while waiting for an event")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return events.Event{}
}

func TestBusFanOut(t *testing.T) {
	b := NewBus(discardLogger())
	defer b.Close()

	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	sent := []events.Event{
		events.NewText("Coday", "thinking..."),
		events.NewWarn("cost limit close"),
		events.NewHeartBeat(),
	}
	for _, e := range sent {
		b.Publish(e)
	}

	for _, sub := range []<-chan events.Event{first, second} {
		for i, want := range sent {
			got := nextEvent(t, sub)
			if got.Type != want.Type {
				t.Errorf("event %d type = %q, want %q", i, got.Type, want.Type)
			}
		}
	}
}

func TestBusDropsWhenSubscriberLags(t *testing.T) {
	b := NewBus(discardLogger())
	defer b.Close()

	sub, cancel := b.Subscribe()
	defer cancel()

	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		b.Publish(events.NewHeartBeat()) // must never block
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Errorf("lagging subscriber buffered %d events, want %d", received, subscriberBuffer)
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	b := NewBus(discardLogger())
	defer b.Close()

	sub, cancel := b.Subscribe()
	other, cancelOther := b.Subscribe()
	defer cancelOther()

	cancel()
	cancel()

	if _, ok := <-sub; ok {
		t.Error("canceled subscriber still receives")
	}

	// Delivery to remaining subscribers is unaffected.
	b.Publish(events.NewHeartBeat())
	if got := nextEvent(t, other); got.Type != events.TypeHeartBeat {
		t.Errorf("remaining subscriber got %q, want heartbeat", got.Type)
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	b := NewBus(discardLogger())
	sub, cancel := b.Subscribe()

	b.Close()
	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open after Close")
	}

	// All of these are no-ops after Close, not panics.
	b.Publish(events.NewHeartBeat())
	cancel()
	b.Close()

	late, lateCancel := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription on a closed bus delivered an event")
	}
	lateCancel()
}
