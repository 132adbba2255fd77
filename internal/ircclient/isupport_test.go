package ircclient

import "testing"

func TestApplyISUPPORTChanmodesPrefixChantypes(t *testing.T) {
	s := newServerState("irc.example.org")
	s.applyISUPPORT([]string{"CHANMODES=eIb,k,l,imnpst", "PREFIX=(ov)@+", "CHANTYPES=#&!+"})

	if s.ChanModes.A != "eIb" || s.ChanModes.B != "k" || s.ChanModes.C != "l" || s.ChanModes.D != "imnpst" {
		t.Fatalf("unexpected chanmodes: %+v", s.ChanModes)
	}
	if s.PrefixToMode['@'] != 'o' || s.PrefixToMode['+'] != 'v' {
		t.Fatalf("unexpected prefix map: %+v", s.PrefixToMode)
	}
	if len(s.SortedUserModes) != 2 || s.SortedUserModes[0] != 'o' || s.SortedUserModes[1] != 'v' {
		t.Fatalf("unexpected sorted user modes: %v", s.SortedUserModes)
	}
	for _, c := range []byte{'#', '&', '!', '+'} {
		if !s.Chantypes[c] {
			t.Fatalf("expected %c in chantypes", c)
		}
	}
}

func TestIsUserModeRecognizesPrefixLetters(t *testing.T) {
	s := newServerState("irc.example.org")
	s.applyISUPPORT([]string{"PREFIX=(ov)@+"})
	if !s.isUserMode('o') || !s.isUserMode('v') {
		t.Fatal("expected o/v to be recognized as user modes")
	}
	if s.isUserMode('k') {
		t.Fatal("k should not be a user mode without being in PREFIX")
	}
}
