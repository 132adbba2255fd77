package ircclient

import "strings"

// ChanModes classifies mode letters per CHANMODES=A,B,C,D (§4.7):
// A always takes an argument, B always takes an argument (and doubles as
// a user-per-channel mode when its letter also appears in PREFIX), C takes
// an argument only when being added, D never takes one.
type ChanModes struct {
	A, B, C, D string
}

func (m ChanModes) classify(letter byte) (class byte, ok bool) {
	if strings.IndexByte(m.A, letter) >= 0 {
		return 'A', true
	}
	if strings.IndexByte(m.B, letter) >= 0 {
		return 'B', true
	}
	if strings.IndexByte(m.C, letter) >= 0 {
		return 'C', true
	}
	if strings.IndexByte(m.D, letter) >= 0 {
		return 'D', true
	}
	return 0, false
}

// applyISUPPORT parses 005 numeric args (minus target/trailing) and
// updates the relevant ServerState fields.
func (s *ServerState) applyISUPPORT(args []string) {
	for _, arg := range args {
		eq := strings.IndexByte(arg, '=')
		if eq < 0 {
			continue
		}
		key, val := arg[:eq], arg[eq+1:]
		switch key {
		case "CHANMODES":
			parts := strings.SplitN(val, ",", 4)
			for len(parts) < 4 {
				parts = append(parts, "")
			}
			s.ChanModes = ChanModes{A: parts[0], B: parts[1], C: parts[2], D: parts[3]}
		case "PREFIX":
			s.applyPrefix(val)
		case "CHANTYPES":
			s.Chantypes = make(map[byte]bool, len(val))
			for i := 0; i < len(val); i++ {
				s.Chantypes[val[i]] = true
			}
		}
	}
}

// applyPrefix parses "(ov)@+" into prefix_to_mode and sorted_user_modes
// (most-significant mode first, matching advertisement order).
func (s *ServerState) applyPrefix(val string) {
	if len(val) < 2 || val[0] != '(' {
		return
	}
	close := strings.IndexByte(val, ')')
	if close < 0 {
		return
	}
	modes := val[1:close]
	prefixes := val[close+1:]
	if len(modes) != len(prefixes) {
		return
	}
	s.PrefixToMode = make(map[byte]byte, len(modes))
	s.ModeToPrefix = make(map[byte]byte, len(modes))
	s.SortedUserModes = nil
	for i := 0; i < len(modes); i++ {
		s.PrefixToMode[prefixes[i]] = modes[i]
		s.ModeToPrefix[modes[i]] = prefixes[i]
		s.SortedUserModes = append(s.SortedUserModes, modes[i])
	}
}

// isUserMode reports whether letter is a PREFIX-advertised per-user mode
// (the B-extension rule: a B-class letter that also appears in PREFIX is
// treated as a user mode rather than a plain channel-argument mode).
func (s *ServerState) isUserMode(letter byte) bool {
	_, ok := s.ModeToPrefix[letter]
	return ok
}
