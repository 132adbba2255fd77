package gateway

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/biboumi-go/biboumi/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hostname:     "biboumi.example.org",
		Password:     "secret",
		XMPPServerIP: "127.0.0.1",
		Port:         15222,
	}
}

func TestNextTimeoutIsNegativeWithNoEvents(t *testing.T) {
	g := New(testConfig(), nil, zerolog.Nop())
	if got := g.nextTimeout(); got != -1 {
		t.Fatalf("expected -1 (infinite wait) with no timers armed, got %v", got)
	}
}

func TestCleanBridgesDropsInactiveOnes(t *testing.T) {
	g := New(testConfig(), nil, zerolog.Nop())
	g.bridgeFor("user@example.org")
	if _, ok := g.bridges["user@example.org"]; !ok {
		t.Fatal("expected bridgeFor to register the new bridge")
	}
	g.cleanBridges()
	if _, ok := g.bridges["user@example.org"]; ok {
		t.Fatal("expected cleanBridges to drop a bridge with no active irc clients")
	}
}

func TestArmReconnectSchedulesATimer(t *testing.T) {
	g := New(testConfig(), nil, zerolog.Nop())
	g.armReconnect(false)
	d, ok := g.timers.GetTimeout(time.Now())
	if !ok || d <= 0 {
		t.Fatalf("expected a positive future timeout, got %v %v", d, ok)
	}
}
