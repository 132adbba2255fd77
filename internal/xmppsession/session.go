// Package xmppsession implements the XMPP component protocol session
// described in spec §4.6: stream handshake, stanza dispatch, and the
// outbound stanza builders the Bridge uses to speak MUC/disco/MAM/ad-hoc
// semantics. The decode side reuses internal/xmlstream; the encode side
// builds XML by hand (fmt.Fprintf into a strings.Builder with explicit
// escaping) the way the pack's XMPP libraries build ad-hoc stanzas when a
// full typed-struct marshal would be more trouble than it's worth for a
// handful of shapes.
package xmppsession

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/biboumi-go/biboumi/internal/netio"
	"github.com/biboumi-go/biboumi/internal/xmlstream"
)

// ErrNotImplemented lets a handler decline a stanza it recognizes but
// doesn't support, distinctly from silently doing nothing: dispatch turns
// this into a feature-not-implemented reply instead of the generic
// internal-server-error it sends for any other returned error.
var ErrNotImplemented = errors.New("feature not implemented")

// State is the session's handshake lifecycle.
type State int

const (
	Connecting State = iota
	Authenticated
	Terminal
)

// Handlers are supplied by the Gateway/Bridge layer; Session dispatches
// decoded stanzas to them. A nil handler, or one that returns
// ErrNotImplemented, has feature-not-implemented sent on its behalf; any
// other returned error, or a panic, yields internal-server-error (see
// dispatch).
type Handlers struct {
	OnPresence func(n xmlstream.Node) error
	OnMessage  func(n xmlstream.Node) error
	OnIq       func(n xmlstream.Node) error
	OnAuthenticated func()
	OnTerminal      func(reason error)
}

// Session owns one TCP connection to the XMPP server speaking the
// jabber:component:accept dialect (§6).
type Session struct {
	sock     *netio.TcpSocket
	parser   *xmlstream.Parser
	hostname string
	secret   string
	logger   zerolog.Logger

	state    State
	streamID string

	handlers Handlers
}

// New wires a Session to its socket; Open still needs to be called once the
// socket is connected.
func New(sock *netio.TcpSocket, hostname, secret string, h Handlers, logger zerolog.Logger) *Session {
	s := &Session{
		sock:     sock,
		hostname: hostname,
		secret:   secret,
		logger:   logger.With().Str("component", "xmppsession").Logger(),
		handlers: h,
	}
	s.parser = xmlstream.New()
	s.parser.OnStreamOpen = s.onStreamOpen
	s.parser.OnStanza = s.onStanza
	s.parser.OnStreamClose = s.onStreamClose
	return s
}

// Feed is wired as the TcpSocket handler's OnRecv.
func (s *Session) Feed(data []byte) {
	if err := s.parser.Feed(data); err != nil {
		s.logger.Warn().Err(err).Msg("malformed xml on component stream")
	}
}

// Open writes the initial stream header. Call once the TCP connection is
// established.
func (s *Session) Open() {
	s.state = Connecting
	var b strings.Builder
	b.WriteString(`<stream:stream xmlns='jabber:component:accept' xmlns:stream='http://etherx.jabber.org/streams' to='`)
	b.WriteString(escapeAttr(s.hostname))
	b.WriteString("'>")
	s.sock.Send([]byte(b.String()))
}

func (s *Session) onStreamOpen(root xmlstream.Node) {
	id, _ := root.Attr("id")
	s.streamID = id
	digest := handshakeDigest(id, s.secret)
	s.sock.Send([]byte("<handshake>" + digest + "</handshake>"))
}

func (s *Session) onStreamClose() {
	s.transitionTerminal(fmt.Errorf("stream closed by peer"))
}

func (s *Session) onStanza(n xmlstream.Node) {
	switch n.XMLName.Local {
	case "handshake":
		s.state = Authenticated
		s.logger.Info().Msg("component handshake succeeded")
		if s.handlers.OnAuthenticated != nil {
			s.handlers.OnAuthenticated()
		}
	case "error":
		s.transitionTerminal(fmt.Errorf("server sent stream:error"))
	case "presence":
		s.dispatch(n, s.handlers.OnPresence)
	case "message":
		s.dispatch(n, s.handlers.OnMessage)
	case "iq":
		s.dispatch(n, s.handlers.OnIq)
	default:
		s.logger.Warn().Str("name", n.XMLName.Local).Msg("dropping unknown top-level stanza")
	}
}

// dispatch wraps a handler call in the mandatory guard: a returned error
// (or a panic) that the handler didn't already turn into a response stanza
// results in internal-server-error, matching §4.6 / §7's propagation
// policy.
func (s *Session) dispatch(n xmlstream.Node, handler func(xmlstream.Node) error) {
	if handler == nil {
		s.sendFeatureNotImplemented(n)
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		err = handler(n)
	}()

	if err != nil {
		if errors.Is(err, ErrNotImplemented) {
			s.sendFeatureNotImplemented(n)
			return
		}
		s.logger.Error().Err(err).Str("stanza", n.XMLName.Local).Msg("stanza handler failed")
		s.sendErrorStanza(n, "cancel", "internal-server-error", "")
	}
}

func (s *Session) sendFeatureNotImplemented(n xmlstream.Node) {
	s.sendErrorStanza(n, "cancel", "feature-not-implemented", "")
}

func (s *Session) transitionTerminal(reason error) {
	if s.state == Terminal {
		return
	}
	s.state = Terminal
	if s.handlers.OnTerminal != nil {
		s.handlers.OnTerminal(reason)
	}
}

// State returns the current handshake lifecycle state.
func (s *Session) State() State { return s.state }

// Send writes a raw pre-built stanza to the stream.
func (s *Session) Send(raw string) {
	s.sock.Send([]byte(raw))
}

// handshakeDigest implements §8's P8 / scenario 1: lowercase-hex SHA-1 of
// stream_id concatenated directly with secret, no separator.
func handshakeDigest(streamID, secret string) string {
	sum := sha1.Sum([]byte(streamID + secret))
	return hex.EncodeToString(sum[:])
}

func escapeAttr(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `'`, "&apos;", `"`, "&quot;")
	return r.Replace(s)
}

func escapeText(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}

// sendErrorStanza builds the standard iq/presence/message error reply:
// type="error" with the echoed id, swapped from/to, and the condition
// wrapped per the type+condition pair convention of §7.
func (s *Session) sendErrorStanza(orig xmlstream.Node, errType, condition, text string) {
	id, _ := orig.Attr("id")
	from, _ := orig.Attr("from")
	to, _ := orig.Attr("to")

	var b strings.Builder
	fmt.Fprintf(&b, "<%s", orig.XMLName.Local)
	if id != "" {
		fmt.Fprintf(&b, " id='%s'", escapeAttr(id))
	}
	fmt.Fprintf(&b, " to='%s' from='%s' type='error'>", escapeAttr(from), escapeAttr(to))
	b.WriteString("<error type='")
	b.WriteString(errType)
	b.WriteString("'>")
	fmt.Fprintf(&b, "<%s xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/>", condition)
	if text != "" {
		fmt.Fprintf(&b, "<text xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'>%s</text>", escapeText(text))
	}
	b.WriteString("</error>")
	fmt.Fprintf(&b, "</%s>", orig.XMLName.Local)
	s.Send(b.String())
}

// SendStanzaError lets Bridge/adhoc code raise one of the §7 stanza-level
// errors on an inbound stanza it rejects (e.g. cancel/item-not-found).
func (s *Session) SendStanzaError(orig xmlstream.Node, errType, condition, text string) {
	s.sendErrorStanza(orig, errType, condition, text)
}

// Now stamps a §8 scenario-5 compatible delay timestamp.
func Now() time.Time { return time.Now().UTC() }
