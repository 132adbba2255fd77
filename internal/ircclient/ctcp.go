package ircclient

import "strings"

const ctcpDelim = '\x01'

// CTCPKind tags the recognized CTCP requests; "Other" carries whatever
// name/payload arrived for anything biboumi does not specifically
// interpret. A rewrite in a language with sum types should use a tagged
// variant here instead of the stringly-typed framing the original source
// used (see spec §9 design notes).
type CTCPKind int

const (
	CTCPAction CTCPKind = iota
	CTCPVersion
	CTCPPing
	CTCPOther
)

// CTCP is a decoded CTCP request.
type CTCP struct {
	Kind    CTCPKind
	Text    string // Action payload
	Token   string // Ping token
	Name    string // Other: the CTCP command name
	Payload string // Other: remaining payload
}

// ParseCTCP recognizes a PRIVMSG body framed with \x01 delimiters per
// §4.7, returning ok=false for a plain message.
func ParseCTCP(body string) (CTCP, bool) {
	if len(body) < 2 || body[0] != ctcpDelim || body[len(body)-1] != ctcpDelim {
		return CTCP{}, false
	}
	inner := body[1 : len(body)-1]
	sp := strings.IndexByte(inner, ' ')
	var cmd, rest string
	if sp < 0 {
		cmd = inner
	} else {
		cmd = inner[:sp]
		rest = inner[sp+1:]
	}

	switch strings.ToUpper(cmd) {
	case "ACTION":
		return CTCP{Kind: CTCPAction, Text: rest}, true
	case "VERSION":
		return CTCP{Kind: CTCPVersion}, true
	case "PING":
		return CTCP{Kind: CTCPPing, Token: rest}, true
	default:
		return CTCP{Kind: CTCPOther, Name: cmd, Payload: rest}, true
	}
}

// EncodeCTCPAction builds the PRIVMSG body for "/me <text>".
func EncodeCTCPAction(text string) string {
	return string(ctcpDelim) + "ACTION " + text + string(ctcpDelim)
}

// EncodeCTCPReply frames a NOTICE body replying to a CTCP request, e.g.
// EncodeCTCPReply("VERSION", "biboumi 1.0") or EncodeCTCPReply("PING", token).
func EncodeCTCPReply(cmd, payload string) string {
	if payload == "" {
		return string(ctcpDelim) + cmd + string(ctcpDelim)
	}
	return string(ctcpDelim) + cmd + " " + payload + string(ctcpDelim)
}
