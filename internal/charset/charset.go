// Package charset transcodes IRC line bytes between UTF-8 and the legacy
// encoding configured per server/channel (irc_server_options.encoding_in
// and irc_channel_options.encoding_out, §6). Many IRC networks and older
// bouncers still emit Latin-1 or other non-UTF-8 byte streams even though
// the wire protocol itself is encoding-agnostic; golang.org/x/text's
// named-encoding lookup is the standard way to resolve a configured
// encoding name (e.g. "ISO-8859-1") to a transform.Transformer without
// hand-rolling a charset table.
package charset

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Resolve looks up name ("UTF-8", "ISO-8859-1", ...) the way an HTML
// charset= declaration would; an empty or unknown name falls back to
// UTF-8 (a no-op transform), so misconfiguration never drops bytes.
func Resolve(name string) encoding.Encoding {
	if name == "" {
		return encoding.Nop
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return encoding.Nop
	}
	return enc
}

// ToUTF8 decodes raw from the named encoding into UTF-8 bytes.
func ToUTF8(raw []byte, name string) []byte {
	enc := Resolve(name)
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return raw
	}
	return out
}

// FromUTF8 encodes UTF-8 text into the named encoding's bytes.
func FromUTF8(text []byte, name string) []byte {
	enc := Resolve(name)
	out, err := enc.NewEncoder().Bytes(text)
	if err != nil {
		return text
	}
	return out
}
