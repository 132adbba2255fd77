package ircclient

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/biboumi-go/biboumi/internal/charset"
	"github.com/biboumi-go/biboumi/internal/netio"
	"github.com/biboumi-go/biboumi/internal/poller"
	"github.com/biboumi-go/biboumi/internal/resolver"
	"github.com/biboumi-go/biboumi/internal/timedevents"
)

// ConnectCandidate is one entry in the connection-plan fallback stack.
type ConnectCandidate struct {
	Port int
	TLS  bool
}

// DefaultConnectPlan is §4.7's default stack, tried in order until one
// succeeds or the stack is exhausted.
func DefaultConnectPlan() []ConnectCandidate {
	return []ConnectCandidate{{6667, false}, {6670, true}, {6697, true}}
}

// Handlers are the upward notifications a Bridge registers to receive
// IRC-side events translated per §4.7/§4.8.
type Handlers struct {
	OnWelcome        func()
	OnJoinSelf       func(chanName string)
	OnJoinOther      func(chanName, nick, host string)
	OnNamesEnd       func(chanName string)
	OnPart           func(chanName, nick string, self bool, reason string)
	OnQuit           func(nick string, channels []string, self bool, reason string)
	OnKick           func(chanName, target, by string, self bool, reason string)
	OnNickChange     func(oldNick, newNick string, channels []string, self bool)
	OnTopic          func(chanName, topic, author string)
	OnPrivmsg        func(target, fromNick, body string, isChannel bool)
	OnNotice         func(target, fromNick, body string, isChannel bool)
	OnModeChange     func(chanName string, changed []ModeChangedUser, notice string)
	OnCTCPAction     func(target, fromNick, text string, isChannel bool)
	OnCTCPVersion    func(fromNick string)
	OnCTCPPing       func(fromNick, token string)
	OnJoinFailed     func(chanName, reason string)
	OnConnectionFailed func(reason error)
	OnConnectionClose  func(reason error)
	OnNickInUse        func(attempted string)
	OnErroneousNick    func(attempted string)
}

// Client is the per-(user, server) IRC connection, §4.7.
type Client struct {
	name string // "bareJid/hostname", namespaces timed events

	poller *poller.Poller
	timers *timedevents.Queue
	sock   *netio.TcpSocket

	plan      []ConnectCandidate
	planIndex int

	nick, user, realname, password string

	State *ServerState

	limiter   *rate.Limiter
	sendQueue [][]byte
	draining  bool

	recvBuf []byte

	encodingIn, encodingOut string

	handlers Handlers
	logger   zerolog.Logger
}

// Options configures a new Client.
type Options struct {
	Hostname           string
	Nick, User, Realname, Password string
	ConnectPlan        []ConnectCandidate
	ThrottleRate       float64 // lines/sec, default 10
	ThrottleBurst      int
	TLSRootCAs         *x509.CertPool
	TLSTrustedFingerprint []byte
	// EncodingIn/EncodingOut name the legacy charset (e.g. "ISO-8859-1")
	// a server speaks, per irc_server_options/irc_channel_options (§6);
	// empty means UTF-8, the common case.
	EncodingIn, EncodingOut string
}

// New creates a Client for one IRC server. Call Start to begin connecting.
func New(p *poller.Poller, t *timedevents.Queue, r *resolver.Resolver, name string, opts Options, h Handlers, logger zerolog.Logger) *Client {
	plan := opts.ConnectPlan
	if plan == nil {
		plan = DefaultConnectPlan()
	}
	rateLimit := opts.ThrottleRate
	if rateLimit <= 0 {
		rateLimit = 10
	}
	burst := opts.ThrottleBurst
	if burst <= 0 {
		burst = int(rateLimit)
	}

	c := &Client{
		name:     name,
		poller:   p,
		timers:   t,
		plan:     plan,
		nick:     opts.Nick,
		user:     opts.User,
		realname: opts.Realname,
		password: opts.Password,
		State:    newServerState(opts.Hostname),
		limiter:  rate.NewLimiter(rate.Limit(rateLimit), burst),
		encodingIn:  opts.EncodingIn,
		encodingOut: opts.EncodingOut,
		handlers: h,
		logger:   logger.With().Str("component", "ircclient").Str("server", opts.Hostname).Logger(),
	}
	c.sock = netio.New(p, t, r, name, (*socketAdapter)(c))
	return c
}

// Start begins the TCP connection using the next candidate in the plan.
func (c *Client) Start(ctx context.Context) {
	c.tryNextCandidate(ctx)
}

func (c *Client) tryNextCandidate(ctx context.Context) {
	if c.planIndex >= len(c.plan) {
		c.failAllPendingJoins("item-not-found")
		if c.handlers.OnConnectionFailed != nil {
			c.handlers.OnConnectionFailed(fmt.Errorf("all connection candidates exhausted for %s", c.State.Hostname))
		}
		return
	}
	cand := c.plan[c.planIndex]
	c.planIndex++
	c.sock.Connect(ctx, c.State.Hostname, cand.Port, netio.TLSOptions{Enabled: cand.TLS})
}

func (c *Client) failAllPendingJoins(condition string) {
	for _, pj := range c.State.PendingJoins {
		if c.handlers.OnJoinFailed != nil {
			c.handlers.OnJoinFailed(pj.Name, condition)
		}
	}
	c.State.PendingJoins = nil
}

// socketAdapter lets Client implement netio.Handler without polluting its
// exported API.
type socketAdapter Client

func (a *socketAdapter) OnConnected() {
	c := (*Client)(a)
	c.State.ConnectTime = time.Now()
	if c.password != "" {
		c.sendRaw(Line{Command: "PASS", Args: []string{c.password}})
	}
	c.sendRaw(Line{Command: "NICK", Args: []string{c.nick}})
	c.sendRaw(Line{Command: "USER", Args: []string{c.user, "ignored", "ignored", c.realname}})
	c.State.Nick = c.nick
}

func (a *socketAdapter) OnRecv(data []byte) {
	c := (*Client)(a)
	c.recvBuf = append(c.recvBuf, data...)
	var lines []string
	lines, c.recvBuf = SplitLines(c.recvBuf)
	for _, raw := range lines {
		if c.encodingIn != "" {
			raw = string(charset.ToUTF8([]byte(raw), c.encodingIn))
		}
		c.handleLine(raw)
	}
}

func (a *socketAdapter) OnConnectionClose(reason error) {
	c := (*Client)(a)
	c.emitLeaveAllChannels(reason)
	if c.handlers.OnConnectionClose != nil {
		c.handlers.OnConnectionClose(reason)
	}
}

func (a *socketAdapter) OnConnectionFailed(reason error) {
	c := (*Client)(a)
	c.tryNextCandidate(context.Background())
	_ = reason
}

func (c *Client) emitLeaveAllChannels(reason error) {
	for _, ch := range c.State.Channels {
		if !ch.Joined {
			continue
		}
		if c.handlers.OnQuit != nil {
			c.handlers.OnQuit(c.State.Nick, []string{ch.DisplayName}, true, reason.Error())
		}
		ch.Joined = false
	}
}

func (c *Client) pingEventName() string { return "ping-keepalive:" + c.name }

func (c *Client) armPingKeepalive() {
	c.timers.Add(&timedevents.Event{
		Name:   c.pingEventName(),
		Expiry: time.Now().Add(240 * time.Second),
		Period: 240 * time.Second,
		Callback: func() {
			c.sendRaw(Line{Command: "PING", Args: []string{"biboumi"}})
		},
	})
}

// Join queues (or immediately issues, if already welcomed) a JOIN.
func (c *Client) Join(chanName, password string) {
	if !c.State.Welcomed {
		c.State.PendingJoins = append(c.State.PendingJoins, PendingJoin{Name: chanName, Password: password})
		return
	}
	args := []string{chanName}
	if password != "" {
		args = append(args, password)
	}
	c.sendRaw(Line{Command: "JOIN", Args: args})
}

func (c *Client) flushPendingJoins() {
	pending := c.State.PendingJoins
	c.State.PendingJoins = nil
	for _, pj := range pending {
		c.Join(pj.Name, pj.Password)
	}
}

// Part leaves a channel.
func (c *Client) Part(chanName string) {
	c.sendRaw(Line{Command: "PART", Args: []string{chanName}})
}

// Privmsg sends a PRIVMSG.
func (c *Client) Privmsg(target, body string) {
	c.sendRaw(Line{Command: "PRIVMSG", Args: []string{target, body}})
}

// Notice sends a NOTICE.
func (c *Client) Notice(target, body string) {
	c.sendRaw(Line{Command: "NOTICE", Args: []string{target, body}})
}

// Topic sets a channel topic.
func (c *Client) Topic(chanName, topic string) {
	c.sendRaw(Line{Command: "TOPIC", Args: []string{chanName, topic}})
}

// Invite invites a nick to a channel.
func (c *Client) Invite(nick, chanName string) {
	c.sendRaw(Line{Command: "INVITE", Args: []string{nick, chanName}})
}

// Kick kicks a nick from a channel.
func (c *Client) Kick(chanName, nick, reason string) {
	args := []string{chanName, nick}
	if reason != "" {
		args = append(args, reason)
	}
	c.sendRaw(Line{Command: "KICK", Args: args})
}

// Mode sends a MODE command.
func (c *Client) Mode(target string, args ...string) {
	c.sendRaw(Line{Command: "MODE", Args: append([]string{target}, args...)})
}

// Quit sends QUIT and lets the caller close the socket.
func (c *Client) Quit(reason string) {
	args := []string{}
	if reason != "" {
		args = []string{reason}
	}
	c.sendRaw(Line{Command: "QUIT", Args: args})
}

// Shutdown implements the §5 shutdown contract: best-effort PART every
// joined channel, send QUIT, close the socket.
func (c *Client) Shutdown(reason string) {
	for _, ch := range c.State.Channels {
		if ch.Joined {
			c.Part(ch.DisplayName)
		}
	}
	c.Quit(reason)
	c.timers.Cancel(c.pingEventName())
	c.sock.Close()
}

// sendRaw enqueues a line, respecting the token-bucket throttle (§4.7,
// P7): a line is written immediately if a token is available, else queued
// and drained as the bucket refills via a timed event.
func (c *Client) sendRaw(l Line) {
	if c.encodingOut != "" {
		l = encodeLine(l, c.encodingOut)
	}
	raw := []byte(SerializeLine(l))
	if len(raw) > maxLineBytes {
		raw = append(raw[:maxLineBytes-2], '\r', '\n')
	}
	c.sendQueue = append(c.sendQueue, raw)
	c.drainSendQueue()
}

// encodeLine transcodes a line's trailing human-readable argument (the
// PRIVMSG/NOTICE/TOPIC/QUIT body, always the last arg) into the server's
// configured legacy charset; command names and earlier args stay ASCII.
func encodeLine(l Line, encodingOut string) Line {
	if len(l.Args) == 0 {
		return l
	}
	last := len(l.Args) - 1
	out := make([]string, len(l.Args))
	copy(out, l.Args)
	out[last] = string(charset.FromUTF8([]byte(l.Args[last]), encodingOut))
	l.Args = out
	return l
}

func (c *Client) drainSendQueue() {
	for len(c.sendQueue) > 0 {
		if !c.limiter.Allow() {
			if !c.draining {
				c.draining = true
				c.armThrottleRetry()
			}
			return
		}
		c.sock.Send(c.sendQueue[0])
		c.sendQueue = c.sendQueue[1:]
	}
	c.draining = false
}

func (c *Client) throttleRetryName() string { return "throttle-retry:" + c.name }

func (c *Client) armThrottleRetry() {
	c.timers.Add(&timedevents.Event{
		Name:     c.throttleRetryName(),
		Expiry:   time.Now().Add(100 * time.Millisecond),
		Callback: c.drainSendQueue,
	})
}

// handleLine dispatches one parsed IRC line to the right numeric/command
// handler.
func (c *Client) handleLine(raw string) {
	l, ok := ParseLine(raw)
	if !ok {
		c.logger.Warn().Str("line", raw).Msg("dropping unparseable irc line")
		return
	}

	switch l.Command {
	case "001":
		c.handleWelcome(l)
	case "005":
		c.State.applyISUPPORT(trimISUPPORTArgs(l.Args))
	case "332":
		c.handleTopicNumeric(l)
	case "333":
		c.handleTopicWhoTime(l)
	case "353":
		c.handleNamReply(l)
	case "366":
		c.handleEndOfNames(l)
	case "JOIN":
		c.handleJoin(l)
	case "PART":
		c.handlePart(l)
	case "QUIT":
		c.handleQuit(l)
	case "KICK":
		c.handleKick(l)
	case "NICK":
		c.handleNick(l)
	case "MODE":
		c.handleMode(l)
	case "TOPIC":
		c.handleTopicCommand(l)
	case "PRIVMSG":
		c.handlePrivmsgOrNotice(l, false)
	case "NOTICE":
		c.handlePrivmsgOrNotice(l, true)
	case "PING":
		if len(l.Args) > 0 {
			c.sendRaw(Line{Command: "PONG", Args: []string{l.Args[0]}})
		}
	case "433":
		if len(l.Args) > 1 && c.handlers.OnNickInUse != nil {
			c.handlers.OnNickInUse(l.Args[1])
		}
	case "432":
		if len(l.Args) > 1 && c.handlers.OnErroneousNick != nil {
			c.handlers.OnErroneousNick(l.Args[1])
		}
	}
}

func trimISUPPORTArgs(args []string) []string {
	// args[0] is our nick, the final element is the trailing description
	// ("are supported by this server"); the ones in between are the
	// ISUPPORT tokens.
	if len(args) <= 2 {
		return nil
	}
	return args[1 : len(args)-1]
}

func (c *Client) handleWelcome(l Line) {
	if len(l.Args) > 0 {
		c.State.Nick = l.Args[0]
	}
	c.State.Welcomed = true
	c.armPingKeepalive()
	c.flushPendingJoins()
	if c.handlers.OnWelcome != nil {
		c.handlers.OnWelcome()
	}
}

func (c *Client) selfNickFrom(prefix string) string {
	return nickFromPrefix(prefix)
}

func nickFromPrefix(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}

func hostFromPrefix(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[i+1:]
	}
	return ""
}

func (c *Client) handleJoin(l Line) {
	if len(l.Args) == 0 {
		return
	}
	chanName := l.Args[0]
	nick := nickFromPrefix(l.Prefix)
	host := hostFromPrefix(l.Prefix)
	ch := c.State.ensureChannel(chanName)

	if CaseFold(nick) == CaseFold(c.State.Nick) {
		// Presence isn't fired here: the topic (332/333) and roster (353)
		// haven't arrived yet. handleEndOfNames fires OnJoinSelf once NAMES
		// is complete and ch.Users/ch.Topic are populated.
		ch.SelfNick = nick
		return
	}
	ch.Users[CaseFold(nick)] = &User{Nick: nick, Host: host, Modes: map[byte]bool{}}
	if c.handlers.OnJoinOther != nil {
		c.handlers.OnJoinOther(ch.DisplayName, nick, host)
	}
}

func (c *Client) handleNamReply(l Line) {
	if len(l.Args) < 3 {
		return
	}
	chanName := l.Args[1]
	names := strings.Fields(l.Args[2])
	ch := c.State.ensureChannel(chanName)
	for _, n := range names {
		modes := map[byte]bool{}
		for len(n) > 0 {
			if mode, ok := c.State.PrefixToMode[n[0]]; ok {
				modes[mode] = true
				n = n[1:]
				continue
			}
			break
		}
		if n == "" {
			continue
		}
		if CaseFold(n) == CaseFold(c.State.Nick) {
			ch.SelfNick = n
			continue
		}
		ch.Users[CaseFold(n)] = &User{Nick: n, Modes: modes}
	}
}

func (c *Client) handleEndOfNames(l Line) {
	if len(l.Args) < 2 {
		return
	}
	chanName := l.Args[1]
	ch, ok := c.State.channel(chanName)
	if !ok {
		return
	}
	firstJoin := !ch.Joined
	ch.Joined = true
	// The first RPL_ENDOFNAMES after a JOIN is the self-join completing:
	// topic and roster are both populated by now, so this is where the
	// self-presence + occupant replay + topic sequence fires (§4.7).
	// Later NAMES refreshes (e.g. an explicit /names) just re-sync the
	// roster via OnNamesEnd instead.
	if firstJoin {
		if c.handlers.OnJoinSelf != nil {
			c.handlers.OnJoinSelf(ch.DisplayName)
		}
		return
	}
	if c.handlers.OnNamesEnd != nil {
		c.handlers.OnNamesEnd(ch.DisplayName)
	}
}

func (c *Client) handleTopicNumeric(l Line) {
	if len(l.Args) < 3 {
		return
	}
	ch := c.State.ensureChannel(l.Args[1])
	ch.Topic = l.Args[2]
}

func (c *Client) handleTopicWhoTime(l Line) {
	if len(l.Args) < 3 {
		return
	}
	ch := c.State.ensureChannel(l.Args[1])
	ch.TopicAuthor = nickFromPrefix(l.Args[2])
}

func (c *Client) handleTopicCommand(l Line) {
	if len(l.Args) < 2 {
		return
	}
	ch := c.State.ensureChannel(l.Args[0])
	ch.Topic = l.Args[1]
	ch.TopicAuthor = nickFromPrefix(l.Prefix)
	if c.handlers.OnTopic != nil {
		c.handlers.OnTopic(ch.DisplayName, ch.Topic, ch.TopicAuthor)
	}
}

func (c *Client) handlePart(l Line) {
	if len(l.Args) == 0 {
		return
	}
	nick := nickFromPrefix(l.Prefix)
	ch, ok := c.State.channel(l.Args[0])
	if !ok {
		return
	}
	reason := ""
	if len(l.Args) > 1 {
		reason = l.Args[1]
	}
	self := CaseFold(nick) == CaseFold(c.State.Nick)
	delete(ch.Users, CaseFold(nick))
	if self {
		ch.Joined = false
	}
	if c.handlers.OnPart != nil {
		c.handlers.OnPart(ch.DisplayName, nick, self, reason)
	}
}

func (c *Client) handleQuit(l Line) {
	nick := nickFromPrefix(l.Prefix)
	reason := ""
	if len(l.Args) > 0 {
		reason = l.Args[0]
	}
	self := CaseFold(nick) == CaseFold(c.State.Nick)
	var affected []string
	for _, ch := range c.State.Channels {
		if _, ok := ch.Users[CaseFold(nick)]; ok || self {
			delete(ch.Users, CaseFold(nick))
			affected = append(affected, ch.DisplayName)
			if self {
				ch.Joined = false
			}
		}
	}
	if c.handlers.OnQuit != nil {
		c.handlers.OnQuit(nick, affected, self, reason)
	}
}

func (c *Client) handleKick(l Line) {
	if len(l.Args) < 2 {
		return
	}
	ch, ok := c.State.channel(l.Args[0])
	if !ok {
		return
	}
	target := l.Args[1]
	by := nickFromPrefix(l.Prefix)
	reason := ""
	if len(l.Args) > 2 {
		reason = l.Args[2]
	}
	self := CaseFold(target) == CaseFold(c.State.Nick)
	delete(ch.Users, CaseFold(target))
	if self {
		ch.Joined = false
	}
	if c.handlers.OnKick != nil {
		c.handlers.OnKick(ch.DisplayName, target, by, self, reason)
	}
}

func (c *Client) handleNick(l Line) {
	if len(l.Args) == 0 {
		return
	}
	oldNick := nickFromPrefix(l.Prefix)
	newNick := l.Args[0]
	self := CaseFold(oldNick) == CaseFold(c.State.Nick)
	var affected []string
	for _, ch := range c.State.Channels {
		if u, ok := ch.Users[CaseFold(oldNick)]; ok {
			delete(ch.Users, CaseFold(oldNick))
			u.Nick = newNick
			ch.Users[CaseFold(newNick)] = u
			affected = append(affected, ch.DisplayName)
		}
		if self && CaseFold(ch.SelfNick) == CaseFold(oldNick) {
			ch.SelfNick = newNick
			affected = append(affected, ch.DisplayName)
		}
	}
	if self {
		c.State.Nick = newNick
	}
	if c.handlers.OnNickChange != nil {
		c.handlers.OnNickChange(oldNick, newNick, affected, self)
	}
}

func (c *Client) handleMode(l Line) {
	if len(l.Args) < 2 {
		return
	}
	target := l.Args[0]
	if !c.isChannelName(target) {
		return // user modes on ourselves: not modeled, §3 scope is channel state
	}
	by := nickFromPrefix(l.Prefix)
	changed, plainArgs, ok := c.State.ApplyModeString(target, l.Args[1:])
	if !ok {
		return
	}
	notice := ModeNoticeText(target, l.Args[1], l.Args[2:], by)
	if c.handlers.OnModeChange != nil {
		c.handlers.OnModeChange(target, changed, notice)
	}
	_ = plainArgs
}

func (c *Client) isChannelName(s string) bool {
	if s == "" {
		return false
	}
	return c.State.Chantypes[s[0]]
}

func (c *Client) handlePrivmsgOrNotice(l Line, isNotice bool) {
	if len(l.Args) < 2 {
		return
	}
	target := l.Args[0]
	body := l.Args[1]
	fromNick := nickFromPrefix(l.Prefix)
	isChannel := c.isChannelName(target)

	if ctcp, ok := ParseCTCP(body); ok && !isNotice {
		switch ctcp.Kind {
		case CTCPAction:
			if c.handlers.OnCTCPAction != nil {
				c.handlers.OnCTCPAction(target, fromNick, ctcp.Text, isChannel)
			}
		case CTCPVersion:
			if c.handlers.OnCTCPVersion != nil {
				c.handlers.OnCTCPVersion(fromNick)
			}
		case CTCPPing:
			if c.handlers.OnCTCPPing != nil {
				c.handlers.OnCTCPPing(fromNick, ctcp.Token)
			}
		}
		return
	}

	if isNotice {
		if c.handlers.OnNotice != nil {
			c.handlers.OnNotice(target, fromNick, body, isChannel)
		}
		return
	}
	if c.handlers.OnPrivmsg != nil {
		c.handlers.OnPrivmsg(target, fromNick, body, isChannel)
	}
}
