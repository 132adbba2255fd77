// Package jidiid implements the XMPP address types used throughout the
// gateway: the plain Jid and biboumi's IRC-in-JID encoding (Iid).
package jidiid

import "strings"

// Jid is an XMPP address: local@domain[/resource].
type Jid struct {
	Local    string
	Domain   string
	Resource string
}

// ParseJid splits a full JID string into its three parts.
func ParseJid(s string) Jid {
	var j Jid
	rest := s
	if i := strings.IndexByte(rest, '/'); i != -1 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '@'); i != -1 {
		j.Local = rest[:i]
		j.Domain = rest[i+1:]
	} else {
		j.Domain = rest
	}
	return j
}

// Bare returns local@domain, discarding any resource.
func (j Jid) Bare() string {
	if j.Local == "" {
		return j.Domain
	}
	return j.Local + "@" + j.Domain
}

// Full reassembles the full JID string, including the resource if present.
func (j Jid) Full() string {
	b := j.Bare()
	if j.Resource != "" {
		return b + "/" + j.Resource
	}
	return b
}

// HasResource reports whether a resource part is present, i.e. whether the
// user identified by this Jid is considered "joined" under that resource.
func (j Jid) HasResource() bool {
	return j.Resource != ""
}
