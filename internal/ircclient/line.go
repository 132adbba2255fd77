// Package ircclient implements the per-(user, server) IRC connection state
// machine described in spec §4.7: registration, ISUPPORT-driven mode
// tables, line framing, channel roster, CTCP, and send throttling. Unlike
// the teacher's internal/irc, which wraps the high-level girc library,
// this package *is* the IRC client — girc is not used (see DESIGN.md):
// the protocol mechanics below are this project's specified deliverable,
// grounded against the low-level parsing in the kofany/go-ircevo fork of
// go-ircevent rather than delegated to it.
package ircclient

import "strings"

// Line is a parsed IRC protocol line: optional prefix, a command, and its
// arguments (the trailing argument, if any, is just the last element of
// Args).
type Line struct {
	Prefix  string
	Command string
	Args    []string
}

// ParseLine implements the grammar in §4.7/§6:
// "[:prefix SP] command SP args* [SP :trailing]".
func ParseLine(raw string) (Line, bool) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return Line{}, false
	}

	var l Line
	if raw[0] == ':' {
		sp := strings.IndexByte(raw, ' ')
		if sp < 0 {
			return Line{}, false
		}
		l.Prefix = raw[1:sp]
		raw = raw[sp+1:]
	}

	for len(raw) > 0 {
		if raw[0] == ':' {
			l.Args = append(l.Args, raw[1:])
			raw = ""
			break
		}
		sp := strings.IndexByte(raw, ' ')
		if sp < 0 {
			l.Args = append(l.Args, raw)
			raw = ""
			break
		}
		if sp == 0 {
			raw = raw[1:]
			continue
		}
		l.Args = append(l.Args, raw[:sp])
		raw = raw[sp+1:]
	}

	if len(l.Args) == 0 {
		return Line{}, false
	}
	l.Command = l.Args[0]
	l.Args = l.Args[1:]
	return l, true
}

// SerializeLine implements the matching encode half of §4.7/P3: an
// argument containing a space or starting with ':' becomes the trailing
// argument, and must be the last one.
func SerializeLine(l Line) string {
	var b strings.Builder
	if l.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(l.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(l.Command)
	for i, a := range l.Args {
		b.WriteByte(' ')
		if i == len(l.Args)-1 && (strings.Contains(a, " ") || strings.HasPrefix(a, ":") || a == "") {
			b.WriteByte(':')
		}
		b.WriteString(a)
	}
	b.WriteString("\r\n")
	return b.String()
}

// maxLineBytes is the §6 512-byte-including-CRLF limit.
const maxLineBytes = 512

// SplitLines splits a buffer of freshly-received bytes on CRLF boundaries,
// returning complete lines and the unconsumed remainder.
func SplitLines(buf []byte) (lines []string, rest []byte) {
	start := 0
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			lines = append(lines, string(buf[start:i]))
			start = i + 2
			i++
		}
	}
	return lines, buf[start:]
}
