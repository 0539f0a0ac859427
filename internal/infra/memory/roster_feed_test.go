package memory

import (
	"testing"
	"time"
)

func TestRosterFeedDeliversAndCoalesces(t *testing.T) {
	feed := NewRosterFeed()
	ch, cancel := feed.Subscribe(42)
	defer cancel()

	feed.Notify(42)
	feed.Notify(42)
	feed.Notify(42)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a signal")
	}
	// Coalesced: at most one more pending.
	select {
	case <-ch:
	default:
	}
	select {
	case <-ch:
		t.Fatal("signals must coalesce")
	default:
	}
}

func TestRosterFeedScopedPerQuiz(t *testing.T) {
	feed := NewRosterFeed()
	ch, cancel := feed.Subscribe(1)
	defer cancel()

	feed.Notify(2)
	select {
	case <-ch:
		t.Fatal("got a signal for a different quiz")
	default:
	}
}

func TestRosterFeedCancelIsIdempotent(t *testing.T) {
	feed := NewRosterFeed()
	_, cancel := feed.Subscribe(1)
	cancel()
	cancel()
	// Notify after cancel must not panic on a closed channel.
	feed.Notify(1)
}
