package xmppsession

import (
	"fmt"
	"strings"
	"time"
)

// MUCUser is one occupant entry inside a MUC presence's x/item element.
type MUCUser struct {
	Affiliation string // "owner", "member", "none", ...
	Role        string // "moderator", "participant", "visitor", "none"
	Jid         string // full real jid, if disclosed
	Nick        string // for nick-change items
}

// PresenceJoin builds a MUC self- or other-occupant join presence.
// statusCodes 110 ("this is you") is appended automatically when self is
// true, per §4.6.
func PresenceJoin(from, to string, u MUCUser, self bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s' to='%s'>", escapeAttr(from), escapeAttr(to))
	writeMUCUserX(&b, u, self, nil)
	b.WriteString("</presence>")
	return b.String()
}

// PresenceLeave builds an unavailable MUC-leave presence; 110 is appended
// when self is true.
func PresenceLeave(from, to string, u MUCUser, self bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s' to='%s' type='unavailable'>", escapeAttr(from), escapeAttr(to))
	writeMUCUserX(&b, u, self, nil)
	b.WriteString("</presence>")
	return b.String()
}

// PresenceKick builds the kicked-occupant unavailable presence: item
// role=none, status code 307 on the target.
func PresenceKick(from, to string, u MUCUser, self bool) string {
	u.Role = "none"
	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s' to='%s' type='unavailable'>", escapeAttr(from), escapeAttr(to))
	writeMUCUserX(&b, u, self, []int{307})
	b.WriteString("</presence>")
	return b.String()
}

// PresenceNickChangeLeave is the unavailable-with-new-nick half of a nick
// change: item/nick + status 303.
func PresenceNickChangeLeave(from, to, newNick string, self bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s' to='%s' type='unavailable'>", escapeAttr(from), escapeAttr(to))
	b.WriteString("<x xmlns='http://jabber.org/protocol/muc#user'>")
	fmt.Fprintf(&b, "<item nick='%s' affiliation='member' role='participant'/>", escapeAttr(newNick))
	b.WriteString("<status code='303'/>")
	if self {
		b.WriteString("<status code='110'/>")
	}
	b.WriteString("</x></presence>")
	return b.String()
}

// PresenceNickChangeJoin is the new-presence half following a nick change.
func PresenceNickChangeJoin(from, to string, u MUCUser, self bool) string {
	return PresenceJoin(from, to, u, self)
}

func writeMUCUserX(b *strings.Builder, u MUCUser, self bool, extraCodes []int) {
	b.WriteString("<x xmlns='http://jabber.org/protocol/muc#user'>")
	b.WriteString("<item")
	if u.Affiliation != "" {
		fmt.Fprintf(b, " affiliation='%s'", u.Affiliation)
	} else {
		b.WriteString(" affiliation='member'")
	}
	if u.Role != "" {
		fmt.Fprintf(b, " role='%s'", u.Role)
	} else {
		b.WriteString(" role='participant'")
	}
	if u.Jid != "" {
		fmt.Fprintf(b, " jid='%s'", escapeAttr(u.Jid))
	}
	if u.Nick != "" {
		fmt.Fprintf(b, " nick='%s'", escapeAttr(u.Nick))
	}
	b.WriteString("/>")
	for _, c := range extraCodes {
		fmt.Fprintf(b, "<status code='%d'/>", c)
	}
	if self {
		b.WriteString("<status code='110'/>")
	}
	b.WriteString("</x>")
}

// PresenceError builds a MUC presence-error reply: a failed join or a
// recoverable IRC registration error (nick-in-use, erroneous-nickname)
// surfaced on the affected room JID, per §4's "Recoverable IRC errors".
func PresenceError(from, to, errType, condition string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s' to='%s' type='error'>", escapeAttr(from), escapeAttr(to))
	fmt.Fprintf(&b, "<error type='%s'><%s xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error>", escapeAttr(errType), condition)
	b.WriteString("</presence>")
	return b.String()
}

// GroupchatTopic builds a groupchat message carrying a <subject/>.
func GroupchatTopic(from, to, subject string) string {
	return fmt.Sprintf("<message from='%s' to='%s' type='groupchat'><subject>%s</subject></message>",
		escapeAttr(from), escapeAttr(to), escapeText(subject))
}

// ReflectionExtra carries the sender-supplied identifiers that must be
// preserved across every copy of a reflected groupchat message (§4.8).
type ReflectionExtra struct {
	OriginID  string
	StanzaIDs []string // "<id> <by>" pairs already XML-escaped by caller
	StanzaID  string    // freshly synthesized id (room-jid by)
	RoomJid   string
}

// GroupchatMessage builds a groupchat message body reflection, including
// origin-id/stanza-id preservation and the newly-synthesized archive
// stanza-id. When xhtml is non-empty it is carried alongside the plain
// body per XEP-0071, so an IRC mIRC-formatted line keeps its styling for
// clients that render it.
func GroupchatMessage(from, to, body, xhtml string, extra ReflectionExtra) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<message from='%s' to='%s' type='groupchat'>", escapeAttr(from), escapeAttr(to))
	fmt.Fprintf(&b, "<body>%s</body>", escapeText(body))
	writeXHTMLIM(&b, xhtml)
	if extra.OriginID != "" {
		fmt.Fprintf(&b, "<origin-id xmlns='urn:xmpp:sid:0' id='%s'/>", escapeAttr(extra.OriginID))
	}
	for _, pair := range extra.StanzaIDs {
		if id, by, ok := strings.Cut(pair, " "); ok {
			fmt.Fprintf(&b, "<stanza-id xmlns='urn:xmpp:sid:0' id='%s' by='%s'/>", id, by)
		}
	}
	if extra.StanzaID != "" && extra.RoomJid != "" {
		fmt.Fprintf(&b, "<stanza-id xmlns='urn:xmpp:sid:0' id='%s' by='%s'/>", escapeAttr(extra.StanzaID), escapeAttr(extra.RoomJid))
	}
	b.WriteString("</message>")
	return b.String()
}

// NoticeMarker is prepended to the raw IRC body of a channel NOTICE before
// color/XHTML-IM translation runs, per §4.8 and
// original_source/src/irc/irc_client.cpp:318-321. Callers translate the
// marked raw body with ircfmt and send the result through the ordinary
// GroupchatMessage path; a private NOTICE never gets this marker.
const NoticeMarker = "\x0303[notice]\x03 "

// ChatMessage builds a one-to-one <message type=chat>, optionally carrying
// an XEP-0071 XHTML-IM rendering of IRC formatting alongside the plain body.
func ChatMessage(from, to, body, xhtml string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<message from='%s' to='%s' type='chat'>", escapeAttr(from), escapeAttr(to))
	fmt.Fprintf(&b, "<body>%s</body>", escapeText(body))
	writeXHTMLIM(&b, xhtml)
	b.WriteString("</message>")
	return b.String()
}

// writeXHTMLIM appends a XEP-0071 <html><body xmlns='...xhtml-im'>
// wrapper around an already-rendered XHTML fragment, if any.
func writeXHTMLIM(b *strings.Builder, xhtml string) {
	if xhtml == "" {
		return
	}
	fmt.Fprintf(b, "<html xmlns='http://jabber.org/protocol/xhtml-im'><body xmlns='http://www.w3.org/1999/xhtml'>%s</body></html>", xhtml)
}

// MAMRow is one archived row to wrap in a MAM result.
type MAMRow struct {
	UUID string
	Nick string
	Body string
	Date time.Time
}

// MAMResult wraps a single archive row as
// message/result[@queryid]/forwarded/{delay, message}.
func MAMResult(from, to, queryID, roomJid string, row MAMRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<message from='%s' to='%s'>", escapeAttr(from), escapeAttr(to))
	fmt.Fprintf(&b, "<result xmlns='urn:xmpp:mam:2' queryid='%s' id='%s'>", escapeAttr(queryID), escapeAttr(row.UUID))
	b.WriteString("<forwarded xmlns='urn:forward:1'>")
	fmt.Fprintf(&b, "<delay xmlns='urn:xmpp:delay' stamp='%s'/>", row.Date.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "<message from='%s' type='groupchat'><body>%s</body></message>",
		escapeAttr(roomJid+"/"+row.Nick), escapeText(row.Body))
	b.WriteString("</forwarded></result></message>")
	return b.String()
}

// MAMFin closes a MAM query with the final <fin> iq result.
func MAMFin(from, to, id, firstUUID, lastUUID string, complete bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<iq from='%s' to='%s' type='result' id='%s'>", escapeAttr(from), escapeAttr(to), escapeAttr(id))
	fmt.Fprintf(&b, "<fin xmlns='urn:xmpp:mam:2' complete='%t'>", complete)
	b.WriteString("<set xmlns='http://jabber.org/protocol/rsm'>")
	if firstUUID != "" {
		fmt.Fprintf(&b, "<first>%s</first>", escapeText(firstUUID))
	}
	if lastUUID != "" {
		fmt.Fprintf(&b, "<last>%s</last>", escapeText(lastUUID))
	}
	b.WriteString("</set></fin></iq>")
	return b.String()
}

// IqResult builds a bare <iq type=result/> with no payload (e.g. ad-hoc
// session acks, ping replies).
func IqResult(from, to, id string) string {
	return fmt.Sprintf("<iq from='%s' to='%s' type='result' id='%s'/>", escapeAttr(from), escapeAttr(to), escapeAttr(id))
}

// IqError builds an <iq type=error/> wrapping a single named stanza-error
// condition (e.g. "item-not-found", "feature-not-implemented").
func IqError(from, to, id, condition string) string {
	return fmt.Sprintf("<iq from='%s' to='%s' type='error' id='%s'><error type='cancel'><%s xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></iq>",
		escapeAttr(from), escapeAttr(to), escapeAttr(id), condition)
}

// CommandResult builds the XEP-0050 <iq type=result><command .../></iq>
// reply for a command that completed in a single step, with no data form.
func CommandResult(from, to, id, node, sessionID string) string {
	return fmt.Sprintf("<iq from='%s' to='%s' type='result' id='%s'><command xmlns='http://jabber.org/protocol/commands' node='%s' sessionid='%s' status='completed'/></iq>",
		escapeAttr(from), escapeAttr(to), escapeAttr(id), escapeAttr(node), escapeAttr(sessionID))
}

// IqVersionRequest forwards an IRC CTCP VERSION request upward as an
// XEP-0092 jabber:iq:version query (§4.7 "CTCP").
func IqVersionRequest(from, to, id string) string {
	return fmt.Sprintf("<iq from='%s' to='%s' type='get' id='%s'><query xmlns='jabber:iq:version'/></iq>",
		escapeAttr(from), escapeAttr(to), escapeAttr(id))
}

// IqPingRequest forwards an IRC CTCP PING request upward as an XEP-0199
// urn:xmpp:ping query (§4.7 "CTCP").
func IqPingRequest(from, to, id string) string {
	return fmt.Sprintf("<iq from='%s' to='%s' type='get' id='%s'><ping xmlns='urn:xmpp:ping'/></iq>",
		escapeAttr(from), escapeAttr(to), escapeAttr(id))
}

// DiscoInfo builds a disco#info reply: one identity plus the given feature
// variables (§6 "Supported feature namespaces").
func DiscoInfo(from, to, id, identityCategory, identityType, identityName string, features []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<iq from='%s' to='%s' type='result' id='%s'>", escapeAttr(from), escapeAttr(to), escapeAttr(id))
	b.WriteString("<query xmlns='http://jabber.org/protocol/disco#info'>")
	fmt.Fprintf(&b, "<identity category='%s' type='%s' name='%s'/>", escapeAttr(identityCategory), escapeAttr(identityType), escapeAttr(identityName))
	for _, f := range features {
		fmt.Fprintf(&b, "<feature var='%s'/>", escapeAttr(f))
	}
	b.WriteString("</query></iq>")
	return b.String()
}

// CommandListItem is one advertised ad-hoc command, for disco#items.
type CommandListItem struct {
	Node string
	Name string
}

// DiscoCommandsList builds the disco#items reply enumerating the ad-hoc
// commands available to the requesting JID (XEP-0050 discovery).
func DiscoCommandsList(from, to, id string, items []CommandListItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<iq from='%s' to='%s' type='result' id='%s'><query xmlns='http://jabber.org/protocol/disco#items' node='http://jabber.org/protocol/commands'>",
		escapeAttr(from), escapeAttr(to), escapeAttr(id))
	for _, it := range items {
		fmt.Fprintf(&b, "<item jid='%s' node='%s' name='%s'/>", escapeAttr(from), escapeAttr(it.Node), escapeAttr(it.Name))
	}
	b.WriteString("</query></iq>")
	return b.String()
}
