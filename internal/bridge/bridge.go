// Package bridge implements §4.8: the per-XMPP-user object that owns a set
// of IrcClients, tracks which XMPP resources are joined to which IRC
// channel, translates addresses between the two protocols, and routes
// messages in both directions. Structurally this keeps the teacher's
// single-object-owns-its-peers shape (internal/irc/client.go's Client
// wraps one connection and reports upward through a Handlers-style
// callback set) but drops the goroutine+channel pump of the old
// processMessages loop: every entry point here is called synchronously
// from the Gateway's single poll loop (§5), never from a goroutine.
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/biboumi-go/biboumi/internal/adhoc"
	"github.com/biboumi-go/biboumi/internal/archive"
	"github.com/biboumi-go/biboumi/internal/ircclient"
	"github.com/biboumi-go/biboumi/internal/ircfmt"
	"github.com/biboumi-go/biboumi/internal/jidiid"
	"github.com/biboumi-go/biboumi/internal/poller"
	"github.com/biboumi-go/biboumi/internal/resolver"
	"github.com/biboumi-go/biboumi/internal/store"
	"github.com/biboumi-go/biboumi/internal/timedevents"
	"github.com/biboumi-go/biboumi/internal/xmlstream"
	"github.com/biboumi-go/biboumi/internal/xmppsession"
)

const maxChunkBytes = 400

// chanKey identifies one IRC channel on one server.
type chanKey struct {
	Host string
	Chan string
}

// Deps bundles the process-wide singletons a Bridge needs to create new
// IrcClients on demand; the Gateway owns all of these and hands out a
// shared Deps to every Bridge it creates.
type Deps struct {
	Poller        *poller.Poller
	Timers        *timedevents.Queue
	Resolver      *resolver.Resolver
	DB            *store.DB
	Archive       *archive.Archive
	ComponentHost string // e.g. "biboumi.example.org", the component's own domain
	FixedIRCServer string
	Chantypes     map[byte]bool
}

// Bridge is the per-owner-JID routing object described in §4's Data Model.
type Bridge struct {
	ownerBareJid string
	deps         Deps
	session      *xmppsession.Session

	clients map[string]*ircclient.Client // keyed by IRC hostname

	preferredFrom map[string]string // IRC nick -> full XMPP jid, most recent private sender wins

	resourcesInChan   map[chanKey]map[string]bool
	resourcesInServer map[string]map[string]bool

	commands *adhoc.Manager

	pendingCTCP map[string]pendingCTCP // iq id -> the IRC-side CTCP reply it owes

	logger zerolog.Logger
}

// pendingCTCP tracks a CTCP VERSION/PING request forwarded upward as an
// XMPP iq (§4.7 "CTCP"), waiting on the result to send the IRC-side NOTICE
// reply.
type pendingCTCP struct {
	host, nick string
	kind       ctcpReplyKind
	token      string // PING only
}

type ctcpReplyKind int

const (
	ctcpReplyVersion ctcpReplyKind = iota
	ctcpReplyPing
)

// New creates an idle Bridge for ownerBareJid; IrcClients are created
// lazily the first time a join targets a new server.
func New(ownerBareJid string, deps Deps, session *xmppsession.Session, logger zerolog.Logger) *Bridge {
	return &Bridge{
		ownerBareJid:      ownerBareJid,
		deps:              deps,
		session:           session,
		clients:           make(map[string]*ircclient.Client),
		preferredFrom:     make(map[string]string),
		resourcesInChan:   make(map[chanKey]map[string]bool),
		resourcesInServer: make(map[string]map[string]bool),
		commands:          adhoc.NewManager(),
		pendingCTCP:       make(map[string]pendingCTCP),
		logger:            logger.With().Str("component", "bridge").Str("owner", ownerBareJid).Logger(),
	}
}

// HasActiveClients reports whether any IrcClient is still connected or
// connecting; the Gateway uses this to decide when a Bridge can be
// dropped from its map (§4.10 step 4, "Bridges.clean()").
func (b *Bridge) HasActiveClients() bool {
	return len(b.clients) > 0
}

// Shutdown best-effort quits every IRC connection, per §5's shutdown
// contract.
func (b *Bridge) Shutdown(reason string) {
	for _, c := range b.clients {
		c.Shutdown(reason)
	}
}

func (b *Bridge) ircClient(ctx context.Context, host string) *ircclient.Client {
	if c, ok := b.clients[host]; ok {
		return c
	}
	c := b.newIrcClient(ctx, host)
	b.clients[host] = c
	c.Start(ctx)
	return c
}

func (b *Bridge) componentJid() string {
	return b.deps.ComponentHost
}

func (b *Bridge) iidJid(i jidiid.Iid) string {
	return i.String() + "@" + b.componentJid()
}

// ---- XMPP -> IRC ----

// HandlePresence implements the join/part/nick-change half of §4.8's
// "Routing — XMPP → IRC" paragraph. Wired as xmppsession.Handlers.OnPresence.
func (b *Bridge) HandlePresence(n xmlstream.Node) error {
	from, _ := n.Attr("from")
	to, _ := n.Attr("to")
	ptype, _ := n.Attr("type")

	toJid := jidiid.ParseJid(to)
	iid := jidiid.ParseIid(toJid.Local, b.deps.Chantypes, b.deps.FixedIRCServer)
	if iid.Kind != jidiid.KindChannel {
		return nil
	}
	resource := toJid.Resource
	if resource == "" {
		return fmt.Errorf("muc presence with no desired nick resource")
	}

	fromResource := jidiid.ParseJid(from).Resource
	ctx := context.Background()
	switch ptype {
	case "":
		limit, since, hasHistory := findHistory(n)
		b.handleJoin(ctx, fromResource, iid, resource, hasHistory, limit, since)
	case "unavailable":
		b.handlePart(iid, fromResource, "")
	default:
		b.handleNickChange(iid, resource, ptype)
	}
	return nil
}

// defaultHistoryLimit matches global_options.max_history_length's default
// (§4.9), used when a join's <history/> element gives no maxstanzas.
const defaultHistoryLimit = 20

func (b *Bridge) handleJoin(ctx context.Context, fromResource string, iid jidiid.Iid, nick string, hasHistory bool, limit int, since time.Time) {
	key := chanKey{Host: iid.Server, Chan: ircclient.CaseFold(iid.Local)}
	already := len(b.resourcesInChan[key]) > 0

	if hasHistory {
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		// Always before the self-join presence: the presence itself is
		// sent either synchronously below (virtual replay) or later, async,
		// off the real JOIN's RPL_ENDOFNAMES (§4.8 "History replay").
		b.ReplayHistory(ctx, iid, fromResource, limit, since)
	}

	if b.resourcesInChan[key] == nil {
		b.resourcesInChan[key] = make(map[string]bool)
	}
	b.resourcesInChan[key][fromResource] = true
	if b.resourcesInServer[iid.Server] == nil {
		b.resourcesInServer[iid.Server] = make(map[string]bool)
	}
	b.resourcesInServer[iid.Server][fromResource] = true

	client := b.ircClient(ctx, iid.Server)

	if already {
		// §4.8 resource tracking: a second resource joining an
		// already-joined channel gets a virtual replay, no new JOIN.
		b.sendVirtualJoinReplay(iid, nick, fromResource)
		return
	}
	client.Join(iid.Local, "")
}

// findHistory parses a MUC join presence's <history maxstanzas='n'
// since='...'/> element, if any.
func findHistory(n xmlstream.Node) (limit int, since time.Time, ok bool) {
	tag, found := findTag(n.Content, "history")
	if !found {
		return 0, time.Time{}, false
	}
	if v, ok := attrFromTag(tag, "maxstanzas"); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v, ok := attrFromTag(tag, "since"); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	return limit, since, true
}

// sendVirtualJoinReplay implements §4.8's "a join from a new resource when
// the channel is already joined generates a virtual 'I'm here' stanza
// sequence to that resource only": the new resource's own presence, then
// presence for every existing occupant, then the topic.
func (b *Bridge) sendVirtualJoinReplay(iid jidiid.Iid, nick, resource string) {
	roomJid := b.iidJid(iid)
	to := b.ownerBareJid + "/" + resource

	self := xmppsession.MUCUser{Affiliation: "member", Role: "participant", Nick: nick}
	b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+nick, to, self, true))

	client, ok := b.clients[iid.Server]
	if !ok {
		return
	}
	ch, ok := client.State.Channels[ircclient.CaseFold(iid.Local)]
	if !ok {
		return
	}
	other := xmppsession.MUCUser{Affiliation: "member", Role: "participant"}
	for _, u := range ch.Users {
		other.Nick = u.Nick
		b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+u.Nick, to, other, false))
	}
	if ch.Topic != "" {
		b.session.Send(xmppsession.GroupchatTopic(roomJid, to, ch.Topic))
	}
}

func (b *Bridge) handlePart(iid jidiid.Iid, resource, reason string) {
	key := chanKey{Host: iid.Server, Chan: ircclient.CaseFold(iid.Local)}
	if set, ok := b.resourcesInChan[key]; ok {
		delete(set, resource)
		if len(set) == 0 {
			delete(b.resourcesInChan, key)
		}
	}
	if set, ok := b.resourcesInServer[iid.Server]; ok {
		delete(set, resource)
		if len(set) == 0 {
			delete(b.resourcesInServer, iid.Server)
		}
	}
	if len(b.resourcesInChan[key]) > 0 {
		// Other resources remain joined: don't PART on IRC.
		return
	}
	if c, ok := b.clients[iid.Server]; ok {
		c.Part(iid.Local)
	}
}

func (b *Bridge) handleNickChange(iid jidiid.Iid, resource, ptype string) {
	// Non-empty, non-"unavailable" presence types outside MUC-join/leave
	// aren't modeled further; §4.8 only calls out nick change among
	// resource-matching presences, which the IRC NICK reply path already
	// covers on the way back down.
	_ = iid
	_ = resource
	_ = ptype
}

// HandleMessage implements the message half of §4.8's "Routing — XMPP →
// IRC": groupchat body/subject, one-to-one chat, and MUC invites.
func (b *Bridge) HandleMessage(n xmlstream.Node) error {
	from, _ := n.Attr("from")
	to, _ := n.Attr("to")
	mtype, _ := n.Attr("type")

	toJid := jidiid.ParseJid(to)
	iid := jidiid.ParseIid(toJid.Local, b.deps.Chantypes, b.deps.FixedIRCServer)

	fromJid := jidiid.ParseJid(from)

	if invite, ok := findInvite(n); ok {
		client := b.ircClient(context.Background(), iid.Server)
		client.Invite(invite, iid.Local)
		return nil
	}

	body, hasBody := childText(n, "body")
	subject, hasSubject := childText(n, "subject")

	switch {
	case mtype == "groupchat" && hasSubject:
		if iid.Kind != jidiid.KindChannel {
			return nil
		}
		client := b.ircClient(context.Background(), iid.Server)
		client.Topic(iid.Local, subject)
		return nil

	case mtype == "groupchat" && hasBody:
		if iid.Kind != jidiid.KindChannel {
			return nil
		}
		key := chanKey{Host: iid.Server, Chan: ircclient.CaseFold(iid.Local)}
		if !b.resourcesInChan[key][fromJid.Resource] {
			return nil
		}
		client := b.ircClient(context.Background(), iid.Server)
		for _, chunk := range chunkUTF8(body, maxChunkBytes) {
			client.Privmsg(iid.Local, chunk)
		}
		return nil

	case mtype == "chat" && hasBody:
		if iid.Kind != jidiid.KindUser {
			return nil
		}
		client := b.ircClient(context.Background(), iid.Server)
		for _, chunk := range chunkUTF8(body, maxChunkBytes) {
			client.Privmsg(iid.Local, chunk)
		}
		return nil
	}
	return nil
}

// HandleIq answers the small set of iq's the component itself must reply
// to directly: XEP-0199 ping, XEP-0050 ad-hoc command discovery and
// execution; everything else falls through to feature-not-implemented via
// Session.dispatch.
func (b *Bridge) HandleIq(n xmlstream.Node) error {
	itype, _ := n.Attr("type")
	from, _ := n.Attr("from")
	to, _ := n.Attr("to")
	id, _ := n.Attr("id")

	switch itype {
	case "get":
		if _, ok := findChild(n, "ping"); ok {
			b.session.Send(xmppsession.IqResult(to, from, id))
			return nil
		}
		if tag, ok := findTag(n.Content, "query"); ok {
			if node, ok := attrFromTag(tag, "node"); ok && node == adhocCommandsNode {
				b.session.Send(xmppsession.DiscoCommandsList(to, from, id, commandListItems()))
				return nil
			}
			if xmlns, ok := attrFromTag(tag, "xmlns"); ok && xmlns == discoInfoNS {
				b.session.Send(b.discoInfoFor(to, from, id))
				return nil
			}
		}
		return xmppsession.ErrNotImplemented
	case "set":
		if tag, ok := findTag(n.Content, "command"); ok {
			return b.handleCommandIq(tag, from, to, id)
		}
		return xmppsession.ErrNotImplemented
	case "result", "error":
		if pc, ok := b.pendingCTCP[id]; ok {
			delete(b.pendingCTCP, id)
			b.completeCTCPReply(pc, n, itype)
		}
		return nil
	}
	return xmppsession.ErrNotImplemented
}

const (
	discoInfoNS  = "http://jabber.org/protocol/disco#info"
	discoItemsNS = "http://jabber.org/protocol/disco#items"
)

var baseDiscoFeatures = []string{
	discoInfoNS,
	discoItemsNS,
	"http://jabber.org/protocol/muc",
	"http://jabber.org/protocol/muc#stable_id",
	"http://jabber.org/protocol/muc#user",
	"http://jabber.org/protocol/muc#admin",
	"http://jabber.org/protocol/muc#owner",
	adhocCommandsNode,
	"urn:xmpp:ping",
	"urn:xmpp:mam:2",
	"jabber:iq:version",
	"urn:xmpp:sid:0",
}

// discoInfoFor answers disco#info for either the component root (the
// gateway itself) or a channel/user JID, per spec §6's supported-feature
// list; a channel JID additionally advertises the MUC room features a
// joined channel actually behaves as.
func (b *Bridge) discoInfoFor(to, from, id string) string {
	toJid := jidiid.ParseJid(to)
	if toJid.Local == "" {
		return xmppsession.DiscoInfo(to, from, id, "gateway", "irc", "biboumi", baseDiscoFeatures)
	}
	iid := jidiid.ParseIid(toJid.Local, b.deps.Chantypes, b.deps.FixedIRCServer)
	if iid.Kind == jidiid.KindChannel {
		features := append(append([]string{}, baseDiscoFeatures...), "muc_nonanonymous", "http://jabber.org/protocol/muc#self-ping-optimization")
		return xmppsession.DiscoInfo(to, from, id, "conference", "irc", iid.Local, features)
	}
	return xmppsession.DiscoInfo(to, from, id, "client", "irc", iid.Local, baseDiscoFeatures)
}

const adhocCommandsNode = "http://jabber.org/protocol/commands"

func commandListItems() []xmppsession.CommandListItem {
	return []xmppsession.CommandListItem{
		{Node: string(adhoc.CommandConfigure), Name: "Configure a server or channel"},
		{Node: string(adhoc.CommandDisconnect), Name: "Disconnect from an IRC server"},
		{Node: string(adhoc.CommandRemovePersistent), Name: "Remove a persistent channel"},
	}
}

// handleCommandIq executes one of the single-step ad-hoc commands
// (§3 Supplemented Features): no data form round-trip, the command
// completes in the same iq/command exchange that started it.
func (b *Bridge) handleCommandIq(tag, from, to, id string) error {
	node, _ := attrFromTag(tag, "node")
	cmd := adhoc.Command(node)
	iid := jidiid.ParseIid(jidiid.ParseJid(to).Local, b.deps.Chantypes, b.deps.FixedIRCServer)
	channel := ""
	if iid.Kind == jidiid.KindChannel {
		channel = iid.Local
	}
	sess, err := b.commands.Start(b.ownerBareJid, cmd, iid.Server, channel)
	if err != nil {
		b.session.Send(xmppsession.IqError(to, from, id, "item-not-found"))
		return nil
	}
	b.applyCommand(sess)
	b.commands.Complete(sess.ID)
	b.session.Send(xmppsession.CommandResult(to, from, id, node, sess.ID))
	return nil
}

// applyCommand performs the side effect for a completed ad-hoc command.
// "configure" has no effect here: its data form (nick/realname/encoding
// per server) is out of scope for this single-step execution path and is
// better driven through irc_server_options directly.
func (b *Bridge) applyCommand(s *adhoc.Session) {
	switch s.Command {
	case adhoc.CommandDisconnect:
		if c, ok := b.clients[s.Server]; ok {
			c.Shutdown("disconnected by ad-hoc command")
			delete(b.clients, s.Server)
		}
	case adhoc.CommandRemovePersistent:
		if b.deps.DB != nil {
			_ = b.deps.DB.SetChannelOption(context.Background(), b.ownerBareJid, s.Server, s.Channel, "persistent", false)
		}
	case adhoc.CommandReload:
		b.logger.Info().Msg("reload requested via ad-hoc command")
	}
}

func findInvite(n xmlstream.Node) (nick string, ok bool) {
	tag, ok := findTag(n.Content, "invite")
	if !ok {
		return "", false
	}
	toAttr, ok := attrFromTag(tag, "to")
	if !ok {
		return "", false
	}
	return jidiid.ParseJid(toAttr).Local, true
}

// findTag returns the raw "<local ...>" or "<local .../>" opening tag text
// for the first occurrence of local within content; the inner-xml blob
// Node.Content carries isn't decoded into attributes below the top level,
// so nested lookups work directly against the raw text instead.
func findTag(content, local string) (string, bool) {
	idx := strings.Index(content, "<"+local)
	if idx == -1 {
		return "", false
	}
	end := strings.IndexByte(content[idx:], '>')
	if end == -1 {
		return "", false
	}
	return content[idx : idx+end+1], true
}

func attrFromTag(tag, name string) (string, bool) {
	needle := name + "='"
	if idx := strings.Index(tag, needle); idx != -1 {
		rest := tag[idx+len(needle):]
		if end := strings.IndexByte(rest, '\''); end != -1 {
			return rest[:end], true
		}
	}
	needle = name + "=\""
	if idx := strings.Index(tag, needle); idx != -1 {
		rest := tag[idx+len(needle):]
		if end := strings.IndexByte(rest, '"'); end != -1 {
			return rest[:end], true
		}
	}
	return "", false
}

func findChild(n xmlstream.Node, local string) (xmlstream.Node, bool) {
	tag, ok := findTag(n.Content, local)
	if !ok {
		return xmlstream.Node{}, false
	}
	return xmlstream.Node{Content: tag}, true
}

func childText(n xmlstream.Node, local string) (string, bool) {
	open := "<" + local + ">"
	start := strings.Index(n.Content, open)
	if start == -1 {
		return "", false
	}
	start += len(open)
	end := strings.Index(n.Content[start:], "</"+local+">")
	if end == -1 {
		return "", false
	}
	return n.Content[start : start+end], true
}

// chunkUTF8 splits body into pieces of at most max bytes, never splitting
// a multi-byte UTF-8 code point, per §4.8's 400-byte chunking rule.
// Grounded on the truncate-at-rune-boundary idiom of
// internal/irc/formatter.go's truncate(), generalized from "cut once" to
// "cut repeatedly".
func chunkUTF8(body string, max int) []string {
	if len(body) <= max {
		return []string{body}
	}
	var chunks []string
	for len(body) > 0 {
		if len(body) <= max {
			chunks = append(chunks, body)
			break
		}
		cut := max
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		chunks = append(chunks, body[:cut])
		body = body[cut:]
	}
	return chunks
}

// ---- IRC -> XMPP ----

func (b *Bridge) newIrcClient(ctx context.Context, host string) *ircclient.Client {
	opts := ircclient.Options{
		Hostname: host,
		Nick:     b.defaultNick(),
		User:     b.defaultNick(),
		Realname: b.defaultNick(),
	}
	if b.deps.DB != nil {
		if so, err := b.deps.DB.ServerOptionsFor(ctx, b.ownerBareJid, host); err == nil && so != nil {
			opts.EncodingIn = so.EncodingIn
			opts.EncodingOut = so.EncodingOut
			if so.Nick != "" {
				opts.Nick = so.Nick
			}
			if so.Username != "" {
				opts.User = so.Username
			}
			if so.Realname != "" {
				opts.Realname = so.Realname
			}
			if so.Pass != "" {
				opts.Password = so.Pass
			}
		} else if err != nil {
			b.logger.Warn().Err(err).Str("server", host).Msg("failed to load server options")
		}
	}
	h := ircclient.Handlers{
		OnWelcome:          func() { b.onWelcome(host) },
		OnJoinSelf:         func(chanName string) { b.onJoinSelf(host, chanName) },
		OnJoinOther:        func(chanName, nick, hostmask string) { b.onJoinOther(host, chanName, nick) },
		OnNamesEnd:         func(chanName string) { b.onNamesEnd(host, chanName) },
		OnPart:             func(chanName, nick string, self bool, reason string) { b.onPart(host, chanName, nick, self, reason) },
		OnQuit:             func(nick string, channels []string, self bool, reason string) { b.onQuit(host, nick, channels, self, reason) },
		OnKick:             func(chanName, target, by string, self bool, reason string) { b.onKick(host, chanName, target, by, self, reason) },
		OnNickChange:       func(oldNick, newNick string, channels []string, self bool) { b.onNickChange(host, oldNick, newNick, channels, self) },
		OnTopic:            func(chanName, topic, author string) { b.onTopic(host, chanName, topic) },
		OnPrivmsg:          func(target, fromNick, body string, isChannel bool) { b.onPrivmsgOrNotice(host, target, fromNick, body, isChannel, false) },
		OnNotice:           func(target, fromNick, body string, isChannel bool) { b.onPrivmsgOrNotice(host, target, fromNick, body, isChannel, true) },
		OnModeChange:       func(chanName string, changed []ircclient.ModeChangedUser, notice string) { b.onModeChange(host, chanName, changed, notice) },
		OnCTCPAction:       func(target, fromNick, text string, isChannel bool) { b.onCTCPAction(host, target, fromNick, text, isChannel) },
		OnCTCPVersion:      func(fromNick string) { b.onCTCPVersion(host, fromNick) },
		OnCTCPPing:         func(fromNick, token string) { b.onCTCPPing(host, fromNick, token) },
		OnJoinFailed:       func(chanName, reason string) { b.onJoinFailed(host, chanName, reason) },
		OnNickInUse:        func(attempted string) { b.onNickInUse(host, attempted) },
		OnErroneousNick:    func(attempted string) { b.onErroneousNick(host, attempted) },
		OnConnectionFailed: func(reason error) { b.onConnectionGone(host, reason) },
		OnConnectionClose:  func(reason error) { b.onConnectionGone(host, reason) },
	}
	return ircclient.New(b.deps.Poller, b.deps.Timers, b.deps.Resolver, b.ownerBareJid+"/"+host, opts, h, b.logger)
}

func (b *Bridge) defaultNick() string {
	local := jidiid.ParseJid(b.ownerBareJid).Local
	if local == "" {
		return "biboumi-user"
	}
	return local
}

func (b *Bridge) onWelcome(host string) {
	b.logger.Debug().Str("server", host).Msg("irc registration complete")
}

// onJoinSelf fires once, at RPL_ENDOFNAMES for a fresh join (§4.7): for
// every XMPP resource waiting on this channel, send its own self-presence,
// then presence for every other occupant already in the room, then the
// topic — matching §4.8's join-presence sequence.
func (b *Bridge) onJoinSelf(host, chanName string) {
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)

	client, ok := b.clients[host]
	if !ok {
		return
	}
	ch, ok := client.State.Channels[ircclient.CaseFold(chanName)]
	if !ok {
		return
	}

	self := xmppsession.MUCUser{Affiliation: "member", Role: "participant"}
	other := xmppsession.MUCUser{Affiliation: "member", Role: "participant"}
	for resource := range b.resourcesInChan[key] {
		nick := resource
		to := b.ownerBareJid + "/" + resource

		self.Nick = nick
		b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+nick, to, self, true))

		for _, u := range ch.Users {
			other.Nick = u.Nick
			b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+u.Nick, to, other, false))
		}
		if ch.Topic != "" {
			b.session.Send(xmppsession.GroupchatTopic(roomJid, to, ch.Topic))
		}
	}
}

// onNamesEnd re-syncs the occupant roster to every joined resource on a
// NAMES refresh that isn't the initial join (which onJoinSelf already
// handles in full).
func (b *Bridge) onNamesEnd(host, chanName string) {
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	client, ok := b.clients[host]
	if !ok {
		return
	}
	ch, ok := client.State.Channels[ircclient.CaseFold(chanName)]
	if !ok {
		return
	}
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	u := xmppsession.MUCUser{Affiliation: "member", Role: "participant"}
	for resource := range b.resourcesInChan[key] {
		to := b.ownerBareJid + "/" + resource
		for _, occ := range ch.Users {
			u.Nick = occ.Nick
			b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+occ.Nick, to, u, false))
		}
	}
}

func (b *Bridge) onJoinOther(host, chanName, nick string) {
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	u := xmppsession.MUCUser{Affiliation: "member", Role: "participant", Nick: nick}
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	for resource := range b.resourcesInChan[key] {
		b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+nick, b.ownerBareJid+"/"+resource, u, false))
	}
}

func (b *Bridge) onPart(host, chanName, nick string, self bool, reason string) {
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	u := xmppsession.MUCUser{Affiliation: "member", Role: "participant", Nick: nick}
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	for resource := range b.resourcesInChan[key] {
		b.session.Send(xmppsession.PresenceLeave(roomJid+"/"+nick, b.ownerBareJid+"/"+resource, u, self))
	}
}

func (b *Bridge) onQuit(host, nick string, channels []string, self bool, reason string) {
	for _, chanName := range channels {
		b.onPart(host, chanName, nick, self, reason)
	}
}

func (b *Bridge) onKick(host, chanName, target, by string, self bool, reason string) {
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	u := xmppsession.MUCUser{Affiliation: "none", Nick: target}
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	for resource := range b.resourcesInChan[key] {
		b.session.Send(xmppsession.PresenceKick(roomJid+"/"+target, b.ownerBareJid+"/"+resource, u, self))
	}
}

func (b *Bridge) onNickChange(host, oldNick, newNick string, channels []string, self bool) {
	for _, chanName := range channels {
		iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
		roomJid := b.iidJid(iid)
		key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
		u := xmppsession.MUCUser{Affiliation: "member", Role: "participant", Nick: newNick}
		for resource := range b.resourcesInChan[key] {
			to := b.ownerBareJid + "/" + resource
			b.session.Send(xmppsession.PresenceNickChangeLeave(roomJid+"/"+oldNick, to, newNick, self))
			b.session.Send(xmppsession.PresenceNickChangeJoin(roomJid+"/"+newNick, to, u, self))
		}
	}
}

func (b *Bridge) onTopic(host, chanName, topic string) {
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	for resource := range b.resourcesInChan[key] {
		b.session.Send(xmppsession.GroupchatTopic(roomJid, b.ownerBareJid+"/"+resource, topic))
	}
}

func (b *Bridge) onPrivmsgOrNotice(host, target, fromNick, body string, isChannel, isNotice bool) {
	// The [notice] marker is prepended to the raw body before
	// color/XHTML-IM translation runs, and only for channel notices
	// (original_source/src/irc/irc_client.cpp:318-321's on_notice
	// else-branch leaves private notices unmarked).
	raw := body
	if isChannel && isNotice {
		raw = xmppsession.NoticeMarker + raw
	}
	plain, xhtml := ircfmt.ToXHTMLIM(raw)

	if isChannel {
		iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: target, Server: host}
		roomJid := b.iidJid(iid)
		key := chanKey{Host: host, Chan: ircclient.CaseFold(target)}
		from := roomJid + "/" + fromNick
		extra := b.reflectionExtra(roomJid)
		for resource := range b.resourcesInChan[key] {
			to := b.ownerBareJid + "/" + resource
			b.session.Send(xmppsession.GroupchatMessage(from, to, plain, xhtml, extra))
		}
		if b.deps.Archive != nil {
			b.deps.Archive.Store(context.Background(), b.ownerBareJid, target, host, fromNick, plain, xmppsession.Now())
		}
		return
	}

	// Private message or notice from an IRC user to us: route to the
	// preferred full jid if one was recorded, else to the synthesized user
	// iid. A private notice goes through the same path as an ordinary chat
	// message, unprefixed.
	userIid := jidiid.Iid{Kind: jidiid.KindUser, Local: fromNick, Server: host}
	from := b.iidJid(userIid)
	to := b.ownerBareJid
	if preferred, ok := b.preferredFrom[fromNick]; ok {
		to = preferred
	}
	b.session.Send(xmppsession.ChatMessage(from, to, plain, xhtml))
}

func (b *Bridge) onCTCPAction(host, target, fromNick, text string, isChannel bool) {
	b.onPrivmsgOrNotice(host, target, fromNick, "/me "+text, isChannel, false)
}

// onModeChange implements original_source/src/irc/irc_client.cpp's
// on_channel_mode: a plain-text notice announcing the raw mode change, plus
// a role/affiliation-updated presence for every user whose own modes
// changed (§4.7 "Mode tracking").
func (b *Bridge) onModeChange(host, chanName string, changed []ircclient.ModeChangedUser, notice string) {
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}

	for resource := range b.resourcesInChan[key] {
		to := b.ownerBareJid + "/" + resource
		b.session.Send(xmppsession.GroupchatMessage(roomJid, to, notice, "", xmppsession.ReflectionExtra{}))
	}

	client, ok := b.clients[host]
	if !ok {
		return
	}
	ch, ok := client.State.Channels[ircclient.CaseFold(chanName)]
	if !ok {
		return
	}
	for _, cu := range changed {
		u, ok := ch.Users[ircclient.CaseFold(cu.Nick)]
		if !ok {
			continue
		}
		role, affiliation := mucRoleFor(u)
		item := xmppsession.MUCUser{Affiliation: affiliation, Role: role, Nick: cu.Nick}
		for resource := range b.resourcesInChan[key] {
			to := b.ownerBareJid + "/" + resource
			b.session.Send(xmppsession.PresenceJoin(roomJid+"/"+cu.Nick, to, item, false))
		}
	}
}

// mucRoleFor maps a user's IRC channel-mode prefixes to a MUC role and
// affiliation, most-significant mode first.
func mucRoleFor(u *ircclient.User) (role, affiliation string) {
	switch {
	case u.Modes['q'], u.Modes['a']:
		return "moderator", "owner"
	case u.Modes['o']:
		return "moderator", "admin"
	case u.Modes['h']:
		return "moderator", "member"
	default:
		return "participant", "member"
	}
}

// onCTCPVersion and onCTCPPing forward an IRC CTCP request upward as an
// XMPP iq per §4.7's "CTCP": jabber:iq:version / urn:xmpp:ping to the
// owner, replying on IRC once the iq result comes back in HandleIq.
func (b *Bridge) onCTCPVersion(host, fromNick string) {
	userIid := jidiid.Iid{Kind: jidiid.KindUser, Local: fromNick, Server: host}
	from := b.iidJid(userIid)
	id := uuid.NewString()
	b.pendingCTCP[id] = pendingCTCP{host: host, nick: fromNick, kind: ctcpReplyVersion}
	b.session.Send(xmppsession.IqVersionRequest(from, b.ownerBareJid, id))
}

func (b *Bridge) onCTCPPing(host, fromNick, token string) {
	userIid := jidiid.Iid{Kind: jidiid.KindUser, Local: fromNick, Server: host}
	from := b.iidJid(userIid)
	id := uuid.NewString()
	b.pendingCTCP[id] = pendingCTCP{host: host, nick: fromNick, kind: ctcpReplyPing, token: token}
	b.session.Send(xmppsession.IqPingRequest(from, b.ownerBareJid, id))
}

// completeCTCPReply sends the IRC-side NOTICE reply once the iq requested
// by onCTCPVersion/onCTCPPing comes back.
func (b *Bridge) completeCTCPReply(pc pendingCTCP, n xmlstream.Node, itype string) {
	client, ok := b.clients[pc.host]
	if !ok {
		return
	}
	switch pc.kind {
	case ctcpReplyVersion:
		reply := "biboumi"
		if itype == "result" {
			name, _ := childText(n, "name")
			version, _ := childText(n, "version")
			if name != "" {
				reply = name
			}
			if version != "" {
				reply += " " + version
			}
		}
		client.Notice(pc.nick, ircclient.EncodeCTCPReply("VERSION", reply))
	case ctcpReplyPing:
		client.Notice(pc.nick, ircclient.EncodeCTCPReply("PING", pc.token))
	}
}

// onJoinFailed implements §4's "Connection plan" stack-exhaustion case and
// §4.8's presence-error forwarding: every resource waiting on chanName
// learns the join failed.
func (b *Bridge) onJoinFailed(host, chanName, reason string) {
	key := chanKey{Host: host, Chan: ircclient.CaseFold(chanName)}
	iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: chanName, Server: host}
	roomJid := b.iidJid(iid)
	for resource := range b.resourcesInChan[key] {
		b.session.Send(xmppsession.PresenceError(roomJid, b.ownerBareJid+"/"+resource, "cancel", reason))
	}
	delete(b.resourcesInChan, key)
}

// onNickInUse and onErroneousNick implement §4's "Recoverable IRC errors":
// forwarded as presence-errors on every room JID still waiting on this
// server's pending joins.
func (b *Bridge) onNickInUse(host, attempted string) {
	b.failPendingJoins(host, "conflict")
}

func (b *Bridge) onErroneousNick(host, attempted string) {
	b.failPendingJoins(host, "jid-malformed")
}

func (b *Bridge) failPendingJoins(host, condition string) {
	client, ok := b.clients[host]
	if !ok {
		return
	}
	for _, pj := range client.State.PendingJoins {
		key := chanKey{Host: host, Chan: ircclient.CaseFold(pj.Name)}
		iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: pj.Name, Server: host}
		roomJid := b.iidJid(iid)
		for resource := range b.resourcesInChan[key] {
			b.session.Send(xmppsession.PresenceError(roomJid, b.ownerBareJid+"/"+resource, "cancel", condition))
		}
	}
}

// reflectionExtra stamps a fresh archive stanza-id on every reflected
// groupchat message, per §4.8's message-reflection-preservation rule.
func (b *Bridge) reflectionExtra(roomJid string) xmppsession.ReflectionExtra {
	return xmppsession.ReflectionExtra{RoomJid: roomJid, StanzaID: uuid.NewString()}
}

// onConnectionGone runs the §4.8 "purge" behavior when an IRC connection
// is lost: every resource joined to any channel on that host is told the
// channel parted.
func (b *Bridge) onConnectionGone(host string, reason error) {
	delete(b.clients, host)
	for key, resources := range b.resourcesInChan {
		if key.Host != host {
			continue
		}
		for resource := range resources {
			iid := jidiid.Iid{Kind: jidiid.KindChannel, Local: key.Chan, Server: host}
			roomJid := b.iidJid(iid)
			u := xmppsession.MUCUser{Affiliation: "member", Role: "participant"}
			b.session.Send(xmppsession.PresenceLeave(roomJid, b.ownerBareJid+"/"+resource, u, true))
		}
		delete(b.resourcesInChan, key)
	}
	delete(b.resourcesInServer, host)
}

// HandleMessageError implements §4.8's "Error escalation": the listed
// stanza-error conditions on a message from a given resource purge every
// channel that resource has joined.
func (b *Bridge) HandleMessageError(resource, condition string) {
	if !isPurgeCondition(condition) {
		return
	}
	for key, resources := range b.resourcesInChan {
		if !resources[resource] {
			continue
		}
		delete(resources, resource)
		if len(resources) == 0 {
			if c, ok := b.clients[key.Host]; ok {
				c.Part(key.Chan)
			}
			delete(b.resourcesInChan, key)
		}
	}
}

func isPurgeCondition(condition string) bool {
	switch condition {
	case "gone", "internal-server-error", "item-not-found", "jid-malformed",
		"recipient-unavailable", "redirect", "remote-server-not-found",
		"remote-server-timeout", "service-unavailable", "malformed-error":
		return true
	}
	return false
}

// ReplayHistory sends archived lines as message+delay pairs before the
// self-join presence, per §4.8's "History replay".
func (b *Bridge) ReplayHistory(ctx context.Context, iid jidiid.Iid, toResource string, limit int, since time.Time) {
	if b.deps.Archive == nil {
		return
	}
	rows, _, err := b.deps.Archive.Query(ctx, b.ownerBareJid, iid.Local, iid.Server, limit, since, time.Time{}, "", "", archive.Last)
	if err != nil {
		b.logger.Warn().Err(err).Msg("history replay query failed")
		return
	}
	roomJid := b.iidJid(iid)
	to := b.ownerBareJid + "/" + toResource
	for _, row := range rows {
		b.session.Send(xmppsession.MAMResult(roomJid, to, "", roomJid, xmppsession.MAMRow{
			UUID: row.UUID, Nick: row.Nick, Body: row.Body, Date: row.Date,
		}))
	}
}
