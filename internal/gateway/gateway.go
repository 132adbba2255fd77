// Package gateway implements §4.10: the single process object that owns
// the XmppSession, the bare-jid -> Bridge map, and signal state, and
// drives the cooperative event loop. Structurally this generalizes the
// teacher's Bridge.Run/Shutdown pair (context-driven start/stop with a
// single owning goroutine) away from a channel-fed worker and onto the
// poll-timers-dispatch loop the rest of this module already builds on.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/biboumi-go/biboumi/internal/archive"
	"github.com/biboumi-go/biboumi/internal/bridge"
	"github.com/biboumi-go/biboumi/internal/config"
	"github.com/biboumi-go/biboumi/internal/jidiid"
	"github.com/biboumi-go/biboumi/internal/netio"
	"github.com/biboumi-go/biboumi/internal/poller"
	"github.com/biboumi-go/biboumi/internal/resolver"
	"github.com/biboumi-go/biboumi/internal/store"
	"github.com/biboumi-go/biboumi/internal/timedevents"
	"github.com/biboumi-go/biboumi/internal/xmlstream"
	"github.com/biboumi-go/biboumi/internal/xmppsession"
)

// Gateway is the top-level process object, §4.10.
type Gateway struct {
	cfg     *config.Config
	logger  zerolog.Logger
	poller  *poller.Poller
	timers  *timedevents.Queue
	res     *resolver.Resolver
	db      *store.DB
	archive *archive.Archive

	sock    *netio.TcpSocket
	session *xmppsession.Session

	bridges map[string]*bridge.Bridge

	signals chan os.Signal
	done    bool
}

// New wires every singleton a Bridge needs; the component socket is
// created and connected by Connect. Call Run to enter the event loop.
func New(cfg *config.Config, db *store.DB, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		logger:  logger.With().Str("component", "gateway").Logger(),
		poller:  poller.New(),
		timers:  timedevents.New(),
		res:     resolver.New(),
		db:      db,
		bridges: make(map[string]*bridge.Bridge),
		signals: make(chan os.Signal, 4),
	}
	if db != nil {
		g.archive = archive.New(db)
	}
	signal.Notify(g.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	return g
}

// Connect opens the TCP connection to the XMPP server and starts the
// component handshake (§4.6).
func (g *Gateway) Connect(ctx context.Context) {
	g.sock = netio.New(g.poller, g.timers, g.res, "xmpp-session", (*socketAdapter)(g))
	g.session = xmppsession.New(g.sock, g.cfg.Hostname, g.cfg.Password, xmppsession.Handlers{
		OnPresence:      g.dispatchPresence,
		OnMessage:       g.dispatchMessage,
		OnIq:            g.dispatchIq,
		OnAuthenticated: g.onAuthenticated,
		OnTerminal:      g.onSessionTerminal,
	}, g.logger)
	g.sock.Connect(ctx, g.cfg.XMPPServerIP, g.cfg.Port, netio.TLSOptions{})
}

type socketAdapter Gateway

func (a *socketAdapter) OnConnected() {
	g := (*Gateway)(a)
	g.session.Open()
}

func (a *socketAdapter) OnRecv(data []byte) {
	(*Gateway)(a).session.Feed(data)
}

func (a *socketAdapter) OnConnectionClose(reason error) {
	g := (*Gateway)(a)
	g.logger.Warn().Err(reason).Msg("xmpp component stream closed")
	g.armReconnect(true)
}

func (a *socketAdapter) OnConnectionFailed(reason error) {
	g := (*Gateway)(a)
	g.logger.Warn().Err(reason).Msg("xmpp component connection failed")
	g.armReconnect(false)
}

func (g *Gateway) onAuthenticated() {
	g.logger.Info().Msg("xmpp component stream authenticated")
}

func (g *Gateway) onSessionTerminal(reason error) {
	g.armReconnect(true)
}

const reconnectEventName = "xmpp-reconnect"

// armReconnect schedules the next connection attempt: immediately the
// first time, then every 2 seconds, per §4.10.
func (g *Gateway) armReconnect(immediate bool) {
	if g.done {
		return
	}
	delay := 2 * time.Second
	if immediate {
		delay = 0
	}
	g.timers.Add(&timedevents.Event{
		Name:   reconnectEventName,
		Expiry: time.Now().Add(delay),
		Callback: func() {
			g.Connect(context.Background())
		},
	})
}

func (g *Gateway) bridgeFor(bareJid string) *bridge.Bridge {
	if b, ok := g.bridges[bareJid]; ok {
		return b
	}
	deps := bridge.Deps{
		Poller:         g.poller,
		Timers:         g.timers,
		Resolver:       g.res,
		DB:             g.db,
		Archive:        g.archive,
		ComponentHost:  g.cfg.Hostname,
		FixedIRCServer: g.cfg.FixedIRCServer,
		Chantypes:      jidiid.DefaultChantypes(),
	}
	b := bridge.New(bareJid, deps, g.session, g.logger)
	g.bridges[bareJid] = b
	return b
}

func (g *Gateway) dispatchPresence(n xmlstream.Node) error {
	from, _ := n.Attr("from")
	return g.bridgeFor(jidiid.ParseJid(from).Bare()).HandlePresence(n)
}

func (g *Gateway) dispatchMessage(n xmlstream.Node) error {
	from, _ := n.Attr("from")
	return g.bridgeFor(jidiid.ParseJid(from).Bare()).HandleMessage(n)
}

func (g *Gateway) dispatchIq(n xmlstream.Node) error {
	from, _ := n.Attr("from")
	return g.bridgeFor(jidiid.ParseJid(from).Bare()).HandleIq(n)
}

// Run drives the §4.10 loop until ctx is done or a fatal signal arrives.
func (g *Gateway) Run(ctx context.Context) {
	g.Connect(ctx)
	for {
		timeout := g.nextTimeout()
		g.poller.Poll(timeout)
		g.timers.ExecuteExpired(time.Now())
		g.cleanBridges()

		select {
		case sig := <-g.signals:
			if g.handleSignal(sig) {
				return
			}
		case <-ctx.Done():
			g.shutdown("gateway context cancelled")
			return
		default:
		}
	}
}

func (g *Gateway) nextTimeout() time.Duration {
	d, ok := g.timers.GetTimeout(time.Now())
	if !ok {
		return -1
	}
	return d
}

func (g *Gateway) cleanBridges() {
	for jid, b := range g.bridges {
		if !b.HasActiveClients() {
			delete(g.bridges, jid)
		}
	}
}

func (g *Gateway) handleSignal(sig os.Signal) (stop bool) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		g.shutdown(fmt.Sprintf("received signal %s", sig))
		return true
	case syscall.SIGUSR1, syscall.SIGUSR2:
		g.logger.Info().Str("signal", sig.String()).Msg("reload requested")
		return false
	}
	return false
}

func (g *Gateway) shutdown(reason string) {
	g.done = true
	g.logger.Info().Str("reason", reason).Msg("shutting down gateway")
	for _, b := range g.bridges {
		b.Shutdown(reason)
	}
	if g.session != nil {
		g.sock.Close()
	}
	if g.db != nil {
		g.db.Close()
	}
}
