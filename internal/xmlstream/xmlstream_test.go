package xmlstream

import "testing"

func TestFeedStreamOpenThenStanza(t *testing.T) {
	p := New()

	var opened Node
	var stanzas []Node
	p.OnStreamOpen = func(root Node) { opened = root }
	p.OnStanza = func(n Node) { stanzas = append(stanzas, n) }

	if err := p.Feed([]byte(`<stream:stream xmlns:stream="http://etherx.jabber.org/streams" xmlns="jabber:component:accept" from="irc.example.org">`)); err != nil {
		t.Fatal(err)
	}
	if opened.XMLName.Local != "stream" {
		t.Fatalf("expected stream_open, got %+v", opened)
	}
	if v, ok := opened.Attr("from"); !ok || v != "irc.example.org" {
		t.Fatalf("unexpected from attr: %v %v", v, ok)
	}

	if err := p.Feed([]byte(`<handshake>deadbeef</handshake>`)); err != nil {
		t.Fatal(err)
	}
	if len(stanzas) != 1 || stanzas[0].XMLName.Local != "handshake" {
		t.Fatalf("unexpected stanzas: %+v", stanzas)
	}
	if stanzas[0].Content != "deadbeef" {
		t.Fatalf("unexpected handshake content: %q", stanzas[0].Content)
	}
}

func TestFeedSplitAcrossMultipleWrites(t *testing.T) {
	p := New()
	var stanzas []Node
	p.OnStanza = func(n Node) { stanzas = append(stanzas, n) }

	if err := p.Feed([]byte(`<stream:stream xmlns:stream="http://etherx.jabber.org/streams">`)); err != nil {
		t.Fatal(err)
	}
	if err := p.Feed([]byte(`<presence from="foo%irc.example.org/nick`)); err != nil {
		t.Fatal(err)
	}
	if len(stanzas) != 0 {
		t.Fatalf("should not have emitted a stanza from a partial element: %+v", stanzas)
	}
	if err := p.Feed([]byte(`" to="user@biboumi"/>`)); err != nil {
		t.Fatal(err)
	}
	if len(stanzas) != 1 {
		t.Fatalf("expected 1 stanza once complete, got %d", len(stanzas))
	}
	if v, _ := stanzas[0].Attr("from"); v != "foo%irc.example.org/nick" {
		t.Fatalf("unexpected from: %q", v)
	}
}

func TestFeedStreamCloseResets(t *testing.T) {
	p := New()
	closed := false
	p.OnStreamClose = func() { closed = true }

	p.Feed([]byte(`<stream:stream xmlns:stream="http://etherx.jabber.org/streams">`))
	p.FeedStreamClose()
	if !closed {
		t.Fatal("expected OnStreamClose to fire")
	}

	p.Reset()
	var opened bool
	p.OnStreamOpen = func(Node) { opened = true }
	p.Feed([]byte(`<stream:stream xmlns:stream="http://etherx.jabber.org/streams">`))
	if !opened {
		t.Fatal("expected parser to accept a new stream after Reset")
	}
}

func TestMalformedXmlReturnsError(t *testing.T) {
	p := New()
	err := p.Feed([]byte(`<stream:stream><<<not-xml`))
	if err == nil {
		t.Fatal("expected an error for malformed xml")
	}
}
