package jidiid

import "testing"

func TestParseIidDefaultMode(t *testing.T) {
	iid := ParseIid("#chan%irc.example.org", DefaultChantypes(), "")
	if iid.Kind != KindChannel || iid.Local != "#chan" || iid.Server != "irc.example.org" {
		t.Fatalf("unexpected iid: %+v", iid)
	}
	if got := iid.String(); got != "#chan%irc.example.org" {
		t.Fatalf("roundtrip mismatch: %s", got)
	}
}

func TestParseIidFixedServerMode(t *testing.T) {
	iid := ParseIid("nick", DefaultChantypes(), "fixed.example.com")
	if iid.Kind != KindUser || iid.Local != "nick" || iid.Server != "fixed.example.com" {
		t.Fatalf("unexpected iid: %+v", iid)
	}
}

func TestParseIidUserKind(t *testing.T) {
	iid := ParseIid("nick%irc.example.org", DefaultChantypes(), "")
	if iid.Kind != KindUser {
		t.Fatalf("expected user kind, got %v", iid.Kind)
	}
}

func TestParseIidServerOnly(t *testing.T) {
	iid := ParseIid("irc.example.org", DefaultChantypes(), "")
	if iid.Kind != KindServer || iid.Server != "irc.example.org" {
		t.Fatalf("unexpected iid: %+v", iid)
	}
}

func TestEscapeHash(t *testing.T) {
	iid := Iid{Kind: KindChannel, Local: "#chan", Server: "irc.example.org"}
	// Escaped form used on the wire must decode back to the same Iid.
	escaped := escapeXep0106(iid.Local)
	if escaped != `\23chan` {
		t.Fatalf("unexpected escape: %s", escaped)
	}
	if unescapeXep0106(escaped) != "#chan" {
		t.Fatalf("unescape roundtrip failed")
	}
}

func fuzzChantypes() map[byte]bool { return DefaultChantypes() }

func TestParseIidPropertyP4(t *testing.T) {
	chantypes := fuzzChantypes()
	cases := []struct {
		local, server string
	}{
		{"#a", "y"}, {"x", "y"}, {"&b", "srv"},
	}
	for _, c := range cases {
		iid := ParseIid(c.local+"%"+c.server, chantypes, "")
		if iid.Local != c.local || iid.Server != c.server {
			t.Fatalf("P4 violated for %s%%%s: got %+v", c.local, c.server, iid)
		}
		wantKind := KindUser
		if chantypes[c.local[0]] {
			wantKind = KindChannel
		}
		if iid.Kind != wantKind {
			t.Fatalf("P4 kind mismatch for %s: got %v want %v", c.local, iid.Kind, wantKind)
		}
	}
}
