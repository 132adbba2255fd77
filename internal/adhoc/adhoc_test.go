package adhoc

import (
	"testing"
	"time"
)

func TestStartRejectsUnknownCommand(t *testing.T) {
	m := NewManager()
	if _, err := m.Start("user@example.org", Command("bogus"), "", ""); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestStartThenLookupRoundtrips(t *testing.T) {
	m := NewManager()
	s, err := m.Start("user@example.org", CommandConfigure, "irc.example.org", "#chan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := m.Lookup(s.ID)
	if !ok || got.Command != CommandConfigure {
		t.Fatalf("expected to find the started session, got %+v %v", got, ok)
	}
}

func TestAdvanceIncrementsStep(t *testing.T) {
	m := NewManager()
	s, _ := m.Start("user@example.org", CommandDisconnect, "irc.example.org", "")
	if s.Step != 0 {
		t.Fatalf("expected a fresh session to start at step 0, got %d", s.Step)
	}
	advanced, ok := m.Advance(s.ID)
	if !ok || advanced.Step != 1 {
		t.Fatalf("expected step 1 after Advance, got %+v %v", advanced, ok)
	}
}

func TestLookupPrunesExpiredSessions(t *testing.T) {
	m := NewManager()
	s, _ := m.Start("user@example.org", CommandReload, "", "")
	m.sessions[s.ID].CreatedAt = time.Now().Add(-2 * time.Hour)

	if _, ok := m.Lookup(s.ID); ok {
		t.Fatal("expected an expired session to be pruned and not found")
	}
}

func TestCompleteRemovesSession(t *testing.T) {
	m := NewManager()
	s, _ := m.Start("user@example.org", CommandRemovePersistent, "irc.example.org", "#chan")
	m.Complete(s.ID)
	if _, ok := m.Lookup(s.ID); ok {
		t.Fatal("expected Complete to remove the session")
	}
}

func TestAvailableCommandsGatesReloadToAdmins(t *testing.T) {
	nonAdmin := AvailableCommands(false)
	for _, c := range nonAdmin {
		if c == CommandReload {
			t.Fatal("non-admin should not see the reload command")
		}
	}
	admin := AvailableCommands(true)
	found := false
	for _, c := range admin {
		if c == CommandReload {
			found = true
		}
	}
	if !found {
		t.Fatal("admin should see the reload command")
	}
}
