package ircclient

import "strings"

// ModeChangedUser records that a user's mode set changed during one
// MODE line, for the single "emit one change per modified user" rule
// in §4.7 (not one event per mode letter).
type ModeChangedUser struct {
	Nick string
}

// ApplyModeString walks a MODE command's argument list against the
// channel's current roster, per §4.7: toggled +/- flag, CHANMODES-driven
// argument consumption (extended by the PREFIX-letters-are-user-modes
// rule), returning the set of users whose modes changed and the non-user
// mode/argument pairs applied (for the "Mode <chan> [<args>] by <nick>"
// notice).
func (s *ServerState) ApplyModeString(chanName string, args []string) (changedUsers []ModeChangedUser, plainArgs []string, ok bool) {
	c, exists := s.channel(chanName)
	if !exists || len(args) == 0 {
		return nil, nil, false
	}

	modeStr := args[0]
	rest := args[1:]
	restIdx := 0
	nextArg := func() (string, bool) {
		if restIdx >= len(rest) {
			return "", false
		}
		v := rest[restIdx]
		restIdx++
		return v, true
	}

	changed := make(map[string]bool)
	add := true
	for i := 0; i < len(modeStr); i++ {
		ch := modeStr[i]
		switch ch {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}

		if s.isUserMode(ch) {
			nick, okArg := nextArg()
			if !okArg {
				return nil, nil, false
			}
			u, okUser := c.Users[CaseFold(nick)]
			if !okUser {
				continue // unknown target: skip this letter; its argument is already consumed
			}
			if u.Modes == nil {
				u.Modes = make(map[byte]bool)
			}
			u.Modes[ch] = add
			changed[u.Nick] = true
			continue
		}

		class, known := s.ChanModes.classify(ch)
		if !known {
			continue
		}
		takesArg := class == 'A' || class == 'B' || (class == 'C' && add)
		var argVal string
		if takesArg {
			v, okArg := nextArg()
			if !okArg {
				return nil, nil, false
			}
			argVal = v
		}
		sign := "+"
		if !add {
			sign = "-"
		}
		entry := sign + string(ch)
		if argVal != "" {
			entry += " " + argVal
		}
		plainArgs = append(plainArgs, entry)
	}

	for nick := range changed {
		changedUsers = append(changedUsers, ModeChangedUser{Nick: nick})
	}
	return changedUsers, plainArgs, true
}

// ModeNoticeText builds the "Mode <chan> [<args>] by <nick>" notice body.
func ModeNoticeText(chanName, modeStr string, args []string, by string) string {
	var b strings.Builder
	b.WriteString("Mode ")
	b.WriteString(chanName)
	b.WriteString(" [")
	b.WriteString(modeStr)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteString("] by ")
	b.WriteString(by)
	return b.String()
}
