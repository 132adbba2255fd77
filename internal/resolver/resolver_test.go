package resolver

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestResolveNumericAddress(t *testing.T) {
	r := New()
	done := make(chan []Endpoint, 1)
	r.Resolve(context.Background(), "127.0.0.1", 6667, func(eps []Endpoint) { done <- eps }, func(error) { done <- nil })
	select {
	case eps := <-done:
		if len(eps) != 1 || eps[0].IP.String() != "127.0.0.1" || eps[0].Port != 6667 {
			t.Fatalf("unexpected endpoints: %+v", eps)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestResolveEtcHostsOverride(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "hosts")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("# a comment\n10.0.0.5 irc.example.org alias.example.org\n")
	f.Close()

	r := NewWithHostsFile(f.Name())
	done := make(chan []Endpoint, 1)
	r.Resolve(context.Background(), "irc.example.org", 6667, func(eps []Endpoint) { done <- eps }, func(error) { done <- nil })
	select {
	case eps := <-done:
		if len(eps) != 1 || eps[0].IP.String() != "10.0.0.5" {
			t.Fatalf("unexpected endpoints: %+v", eps)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
