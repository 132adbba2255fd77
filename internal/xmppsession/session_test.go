package xmppsession

import "testing"

func TestHandshakeDigestScenario1(t *testing.T) {
	got := handshakeDigest("id1234", "S4CR3T")
	want := "c92901b5d376ad56269914da0cce3aab976847df"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestPresenceJoinSelfIncludesCode110(t *testing.T) {
	out := PresenceJoin("chan%irc.example.org@biboumi/nick", "user@example.org/res", MUCUser{}, true)
	if !contains(out, "code='110'") {
		t.Fatalf("expected status code 110 in self-join presence: %s", out)
	}
}

func TestPresenceKickHasRoleNoneAndCode307(t *testing.T) {
	out := PresenceKick("chan%irc.example.org@biboumi/nick", "user@example.org/res", MUCUser{}, false)
	if !contains(out, "role='none'") || !contains(out, "code='307'") {
		t.Fatalf("unexpected kick presence: %s", out)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
