package jidiid

import "strings"

// Kind classifies what an Iid addresses.
type Kind int

const (
	KindNone Kind = iota
	KindChannel
	KindUser
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindUser:
		return "user"
	case KindServer:
		return "server"
	default:
		return "none"
	}
}

// Iid is biboumi's IRC-in-JID address: a tagged triple decoded from the
// local part of an XMPP JID.
type Iid struct {
	Kind   Kind
	Local  string
	Server string
}

// DefaultChantypes is the set used until a server's ISUPPORT CHANTYPES
// advertisement overrides it.
func DefaultChantypes() map[byte]bool {
	return map[byte]bool{'#': true, '&': true}
}

// ParseIid decodes an XMPP JID local part into an Iid.
//
// In fixed-server mode (fixedServer != ""), the whole local part is the
// Iid's local and the server is the configured constant; kind is decided
// by the first character of local being a member of chantypes.
//
// Otherwise the local part is split on the first unescaped '%': the part
// before is Local, the part after is Server.
func ParseIid(local string, chantypes map[byte]bool, fixedServer string) Iid {
	local = unescapeXep0106(local)

	if fixedServer != "" {
		return Iid{
			Kind:   kindOf(local, chantypes),
			Local:  local,
			Server: fixedServer,
		}
	}

	if local == "" {
		return Iid{Kind: KindNone}
	}

	idx := strings.IndexByte(local, '%')
	if idx == -1 {
		// No server part: this addresses the IRC server itself.
		return Iid{Kind: KindServer, Local: "", Server: local}
	}

	name := local[:idx]
	server := local[idx+1:]
	return Iid{
		Kind:   kindOf(name, chantypes),
		Local:  name,
		Server: server,
	}
}

func kindOf(local string, chantypes map[byte]bool) Kind {
	if local == "" {
		return KindNone
	}
	if chantypes[local[0]] {
		return KindChannel
	}
	return KindUser
}

// String reassembles the JID local part that would parse back to this Iid,
// e.g. "#chan%irc.example.org".
func (i Iid) String() string {
	var sb strings.Builder
	if i.Kind != KindServer && i.Local != "" {
		sb.WriteString(i.Local)
		sb.WriteByte('%')
	}
	sb.WriteString(i.Server)
	return sb.String()
}

// xep0106 escape table: RFC-defined characters that cannot appear literally
// in a JID local part are backslash-escaped with their ASCII code.
var xep0106Escapes = map[byte]string{
	' ':  `\20`,
	'"':  `\22`,
	'#':  `\23`,
	'&':  `\26`,
	'\'': `\27`,
	'/':  `\2f`,
	':':  `\3a`,
	'<':  `\3c`,
	'>':  `\3e`,
	'@':  `\40`,
}

func escapeXep0106(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if esc, ok := xep0106Escapes[c]; ok {
			sb.WriteString(esc)
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func unescapeXep0106(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+2 < len(s) {
			code := s[i+1 : i+3]
			matched := false
			for c, esc := range xep0106Escapes {
				if esc == `\`+code {
					sb.WriteByte(c)
					i += 3
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}
