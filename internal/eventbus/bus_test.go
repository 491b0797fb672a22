package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversAndDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Topic: TaskCreated, TaskID: 1})
	b.Publish(Event{Topic: TaskClaimed, TaskID: 1}) // dropped

	e := <-ch
	if e.Topic != TaskCreated || e.Time.IsZero() {
		t.Fatalf("event = %+v, want stamped %s", e, TaskCreated)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Topic: TaskApproved})
}

func TestTallyCountsPerTopic(t *testing.T) {
	t.Parallel()

	tl := NewTally()
	if counts, last := tl.Snapshot(); len(counts) != 0 || !last.IsZero() {
		t.Fatalf("empty tally = %v %v", counts, last)
	}
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tl.Observe(Event{Topic: TaskClaimed, Time: t0.Add(time.Minute)})
	tl.Observe(Event{Topic: TaskClaimed, Time: t0})
	tl.Observe(Event{Topic: TaskApproved, Time: t0})

	counts, last := tl.Snapshot()
	if counts["task.claimed"] != 2 || counts["task.approved"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if !last.Equal(t0.Add(time.Minute)) {
		t.Fatalf("last = %v, want newest event time", last)
	}
}
