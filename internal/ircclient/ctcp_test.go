package ircclient

import "testing"

func TestParseCTCPAction(t *testing.T) {
	c, ok := ParseCTCP("\x01ACTION waves\x01")
	if !ok || c.Kind != CTCPAction || c.Text != "waves" {
		t.Fatalf("unexpected: %+v %v", c, ok)
	}
}

func TestParseCTCPVersionAndPing(t *testing.T) {
	c, ok := ParseCTCP("\x01VERSION\x01")
	if !ok || c.Kind != CTCPVersion {
		t.Fatalf("unexpected: %+v", c)
	}
	c, ok = ParseCTCP("\x01PING 123456\x01")
	if !ok || c.Kind != CTCPPing || c.Token != "123456" {
		t.Fatalf("unexpected: %+v", c)
	}
}

func TestParseCTCPNotCTCP(t *testing.T) {
	if _, ok := ParseCTCP("just a normal message"); ok {
		t.Fatal("expected ok=false for a plain message")
	}
}

func TestEncodeCTCPAction(t *testing.T) {
	got := EncodeCTCPAction("waves")
	want := "\x01ACTION waves\x01"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
