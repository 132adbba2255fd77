package timedevents

import (
	"testing"
	"time"
)

func TestExecuteExpiredOrderAndReschedule(t *testing.T) {
	q := New()
	base := time.Unix(1000, 0)

	var order []string
	q.Add(&Event{Name: "a", Expiry: base.Add(2 * time.Second), Callback: func() { order = append(order, "a") }})
	q.Add(&Event{Name: "b", Expiry: base.Add(1 * time.Second), Callback: func() { order = append(order, "b") }})
	q.Add(&Event{Name: "repeat", Expiry: base, Period: 5 * time.Second, Callback: func() { order = append(order, "repeat") }})

	n := q.ExecuteExpired(base.Add(2 * time.Second))
	if n != 3 {
		t.Fatalf("expected 3 executed, got %d", n)
	}
	if len(order) != 3 || order[0] != "repeat" || order[1] != "b" || order[2] != "a" {
		t.Fatalf("unexpected execution order: %v", order)
	}

	// The repeating event must have been reinserted with a later expiry.
	d, ok := q.GetTimeout(base.Add(2 * time.Second))
	if !ok {
		t.Fatal("expected repeat event still pending")
	}
	if d != 3*time.Second {
		t.Fatalf("expected 3s until next repeat fire, got %v", d)
	}
}

func TestCancelByName(t *testing.T) {
	q := New()
	base := time.Now()
	q.Add(&Event{Name: "dup", Expiry: base.Add(time.Second)})
	q.Add(&Event{Name: "dup", Expiry: base.Add(2 * time.Second)})
	q.Add(&Event{Name: "other", Expiry: base.Add(time.Second)})

	n := q.Cancel("dup")
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", q.Len())
	}
	if q.Cancel("") != 0 {
		t.Fatal("empty name must never cancel anything")
	}
}

func TestGetTimeoutClampedAtZero(t *testing.T) {
	q := New()
	now := time.Now()
	q.Add(&Event{Name: "past", Expiry: now.Add(-time.Hour)})
	d, ok := q.GetTimeout(now)
	if !ok || d != 0 {
		t.Fatalf("expected clamped 0 timeout, got %v ok=%v", d, ok)
	}
}

func TestGetTimeoutEmpty(t *testing.T) {
	q := New()
	_, ok := q.GetTimeout(time.Now())
	if ok {
		t.Fatal("expected no timeout for empty queue")
	}
}
