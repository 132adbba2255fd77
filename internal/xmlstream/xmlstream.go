// Package xmlstream implements the incremental, namespace-aware XML parser
// described in spec §4.5: it emits stream-open, stanza, and stream-close
// events as bytes arrive, without requiring the whole document up front.
//
// The decode-loop shape (encoding/xml.Decoder.Token in a loop, DecodeElement
// for a full subtree) follows the XMPP client libraries in the retrieval
// pack (lexszero/go-xmpp2's readXml, jeidee/goexmpp's stream.go), adapted
// to run synchronously against a growing byte buffer instead of a channel
// of decoded structs, so it can be fed directly from a TcpSocket's OnRecv
// without a parser goroutine.
package xmlstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
)

// Node is a generic captured XML element: its name, its attributes, and its
// raw inner XML (so callers can re-unmarshal into a specific stanza type).
type Node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",innerxml"`
}

// Attr looks up an attribute by local name, ignoring namespace.
func (n *Node) Attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Parser incrementally decodes a single XMPP stream.
type Parser struct {
	buf []byte
	dec *xml.Decoder

	depth int

	OnStreamOpen  func(root Node)
	OnStanza      func(stanza Node)
	OnStreamClose func()
}

// New returns a fresh Parser. Hook the On* fields before calling Feed.
func New() *Parser {
	p := &Parser{}
	p.reset()
	return p
}

// Reset discards any partially-parsed state, for a fresh stream after
// reconnect.
func (p *Parser) Reset() {
	p.reset()
}

func (p *Parser) reset() {
	p.buf = nil
	p.depth = 0
	p.dec = xml.NewDecoder(bytes.NewReader(nil))
}

// Feed appends newly-received bytes and decodes as many complete tokens as
// possible, invoking the On* hooks in arrival order. A malformed-XML error
// from the underlying decoder is returned to the caller (spec §7: treated
// as a protocol framing error unless the caller decides it's fatal); it
// does not corrupt parser state for a subsequent Reset.
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)

	for {
		dec := xml.NewDecoder(bytes.NewReader(p.buf))
		dec.Strict = true

		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil // need more bytes
			}
			if isIncomplete(err) {
				return nil
			}
			return err
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			// Leading whitespace/comments/PI before the root; consume and retry.
			p.buf = p.buf[dec.InputOffset():]
			if len(p.buf) == 0 {
				return nil
			}
			continue
		}

		p.depth++
		if p.depth == 1 {
			// Stream-open: just the root element, not its children.
			p.buf = p.buf[dec.InputOffset():]
			if p.OnStreamOpen != nil {
				p.OnStreamOpen(nodeFromStart(se))
			}
			continue
		}

		// depth == 2: decode the whole stanza subtree.
		var n Node
		if err := dec.DecodeElement(&n, &se); err != nil {
			if errors.Is(err, io.EOF) || isIncomplete(err) {
				return nil // wait for the rest of the stanza
			}
			return err
		}
		p.depth--
		p.buf = p.buf[dec.InputOffset():]
		if p.OnStanza != nil {
			p.OnStanza(n)
		}
	}
}

// FeedStreamClose should be called when the underlying transport reports
// end-of-stream (a closing </stream:stream> tag arrived, or the matching
// depth-0 transition was observed). Exposed separately because the
// depth-2-consuming DecodeElement path above never sees a depth 1->0
// EndElement directly (it's only visible via a second Token() call after a
// stanza at depth 1, which the loop above does not perform eagerly).
func (p *Parser) FeedStreamClose() {
	if p.depth > 0 {
		p.depth = 0
		if p.OnStreamClose != nil {
			p.OnStreamClose()
		}
	}
}

func nodeFromStart(se xml.StartElement) Node {
	return Node{XMLName: se.Name, Attrs: append([]xml.Attr(nil), se.Attr...)}
}

// isIncomplete reports whether the decoder's error is simply "not enough
// bytes yet" rather than a genuine XML syntax error.
func isIncomplete(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var se *xml.SyntaxError
	return errors.As(err, &se) && se.Msg == "unexpected EOF"
}
