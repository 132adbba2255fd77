package bridge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/biboumi-go/biboumi/internal/xmlstream"
)

func nodeWithContent(content string) xmlstream.Node {
	return xmlstream.Node{Content: content}
}

func TestChunkUTF8ShortBodyIsOneChunk(t *testing.T) {
	chunks := chunkUTF8("hello", 400)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestChunkUTF8NeverSplitsARune(t *testing.T) {
	body := strings.Repeat("é", 300) // 2 bytes per rune, 600 bytes total
	chunks := chunkUTF8(body, 400)
	if len(chunks) < 2 {
		t.Fatalf("expected at least two chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk is not valid utf8: %q", c)
		}
	}
	if strings.Join(chunks, "") != body {
		t.Fatal("chunks must reassemble to the original body")
	}
}

func TestChunkUTF8RespectsByteLimit(t *testing.T) {
	body := strings.Repeat("a", 1000)
	chunks := chunkUTF8(body, 400)
	for _, c := range chunks {
		if len(c) > 400 {
			t.Fatalf("chunk exceeds limit: %d bytes", len(c))
		}
	}
}

func TestIsPurgeConditionRecognizesListedConditions(t *testing.T) {
	if !isPurgeCondition("item-not-found") {
		t.Fatal("expected item-not-found to be a purge condition")
	}
	if isPurgeCondition("not-acceptable") {
		t.Fatal("expected not-acceptable to NOT be a purge condition")
	}
}

func TestAttrFromTagParsesSingleAndDoubleQuotes(t *testing.T) {
	if v, ok := attrFromTag(`<invite to='user@host'/>`, "to"); !ok || v != "user@host" {
		t.Fatalf("got %q %v", v, ok)
	}
	if v, ok := attrFromTag(`<invite to="user@host"/>`, "to"); !ok || v != "user@host" {
		t.Fatalf("got %q %v", v, ok)
	}
}

func TestFindInviteExtractsNick(t *testing.T) {
	content := `<x xmlns='http://jabber.org/protocol/muc#user'><invite to='friend@example.org'/></x>`
	nick, ok := findInvite(nodeWithContent(content))
	if !ok || nick != "friend" {
		t.Fatalf("got %q %v", nick, ok)
	}
}
