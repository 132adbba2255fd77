package archive

import (
	"strings"
	"testing"
	"time"
)

func TestBuildQueryOrdersAscendingForFirst(t *testing.T) {
	q, args := buildQuery("owner@x", "#chan", "irc.example.org", 21, time.Time{}, time.Time{}, "", 0, "", First)
	if !strings.Contains(q, "ORDER BY id ASC") {
		t.Fatalf("expected ascending order for First direction, got: %s", q)
	}
	if len(args) != 4 {
		t.Fatalf("expected owner, chan, server, limit args, got %v", args)
	}
}

func TestBuildQueryOrdersDescendingForLast(t *testing.T) {
	q, _ := buildQuery("owner@x", "#chan", "irc.example.org", 21, time.Time{}, time.Time{}, "", 0, "", Last)
	if !strings.Contains(q, "ORDER BY id DESC") {
		t.Fatalf("expected descending order for Last direction, got: %s", q)
	}
}

func TestBuildQueryAddsAnchorPredicate(t *testing.T) {
	q, args := buildQuery("owner@x", "#chan", "irc.example.org", 21, time.Time{}, time.Time{}, "some-uuid", 42, "", First)
	if !strings.Contains(q, "id >") {
		t.Fatalf("expected an id > predicate for afterUUID paging, got: %s", q)
	}
	if args[len(args)-2] != int64(42) {
		t.Fatalf("expected anchor id to be bound, got args %v", args)
	}
}

func TestBuildQueryAddsTimeBounds(t *testing.T) {
	start := time.Unix(1000, 0)
	end := time.Unix(2000, 0)
	q, args := buildQuery("owner@x", "#chan", "irc.example.org", 21, start, end, "", 0, "", First)
	if !strings.Contains(q, "date >=") || !strings.Contains(q, "date <=") {
		t.Fatalf("expected both time bounds in query: %s", q)
	}
	if args[3] != int64(1000) || args[4] != int64(2000) {
		t.Fatalf("unexpected bound args: %v", args)
	}
}
