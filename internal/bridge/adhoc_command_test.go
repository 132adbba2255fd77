package bridge

import (
	"encoding/xml"
	"testing"

	"github.com/rs/zerolog"

	"github.com/biboumi-go/biboumi/internal/netio"
	"github.com/biboumi-go/biboumi/internal/poller"
	"github.com/biboumi-go/biboumi/internal/resolver"
	"github.com/biboumi-go/biboumi/internal/timedevents"
	"github.com/biboumi-go/biboumi/internal/xmlstream"
	"github.com/biboumi-go/biboumi/internal/xmppsession"
)

func iqNode(itype, content string) xmlstream.Node {
	return xmlstream.Node{
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: "type"}, Value: itype},
			{Name: xml.Name{Local: "from"}, Value: "user@example.org/resource"},
			{Name: xml.Name{Local: "to"}, Value: "irc.example.org@biboumi.example.org"},
			{Name: xml.Name{Local: "id"}, Value: "cmd1"},
		},
		Content: content,
	}
}

type noopSockHandler struct{}

func (noopSockHandler) OnConnected()                {}
func (noopSockHandler) OnRecv(data []byte)          {}
func (noopSockHandler) OnConnectionClose(err error) {}
func (noopSockHandler) OnConnectionFailed(err error) {}

func newTestBridge() *Bridge {
	sock := netio.New(poller.New(), timedevents.New(), resolver.New(), "test-session", noopSockHandler{})
	session := xmppsession.New(sock, "biboumi.example.org", "secret", xmppsession.Handlers{}, zerolog.Nop())
	return New("user@example.org", Deps{}, session, zerolog.Nop())
}

func TestHandleIqDiscoversCommands(t *testing.T) {
	b := newTestBridge()
	n := iqNode("get", `<query xmlns='http://jabber.org/protocol/disco#items' node='http://jabber.org/protocol/commands'/>`)
	if err := b.HandleIq(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandleIqExecutesDisconnectCommand(t *testing.T) {
	b := newTestBridge()
	n := iqNode("set", `<command xmlns='http://jabber.org/protocol/commands' node='disconnect' action='execute'/>`)
	if err := b.HandleIq(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.commands.Lookup("anything"); ok {
		t.Fatal("a completed single-step command should not remain lookup-able")
	}
}

func TestHandleIqRejectsUnknownCommand(t *testing.T) {
	b := newTestBridge()
	n := iqNode("set", `<command xmlns='http://jabber.org/protocol/commands' node='bogus' action='execute'/>`)
	if err := b.HandleIq(n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
