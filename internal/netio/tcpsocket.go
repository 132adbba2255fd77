// Package netio implements the non-blocking TCP socket with outbound queue
// and optional TLS wrap described in spec §4.4. Plain sockets are driven
// entirely by the poller and timedevents packages with no blocking I/O;
// once TLS is started, a single reader goroutine owns the handshake and
// subsequent decrypted reads (the one explicitly allowed suspension point
// besides the poller syscall and synchronous DNS fallback, per §5).
package netio

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/biboumi-go/biboumi/internal/poller"
	"github.com/biboumi-go/biboumi/internal/resolver"
	"github.com/biboumi-go/biboumi/internal/timedevents"
)

const connectTimeout = 5 * time.Second

// Handler receives TcpSocket lifecycle notifications. Calls into Handler
// happen on the gateway's event-loop goroutine, except OnRecv/OnConnectionClose
// while a TLS session is active, which are delivered from the TLS reader
// goroutine (callers must treat those as arriving from another goroutine).
type Handler interface {
	OnConnected()
	OnRecv(data []byte)
	OnConnectionClose(reason error)
	OnConnectionFailed(reason error)
}

// TLSOptions configures opportunistic TLS for a socket.
type TLSOptions struct {
	Enabled            bool
	RootCAs            *x509.CertPool
	TrustedFingerprint []byte // SHA-1 of the leaf certificate, alternate trust path
}

// TcpSocket is a non-blocking TCP connection with an outbound send queue
// and lazy, opportunistic TLS.
type TcpSocket struct {
	poller *poller.Poller
	timers *timedevents.Queue
	res    *resolver.Resolver
	name   string // namespaces the connect-timeout timed event

	handler Handler

	fd         int
	localPort  int
	endpoints  []resolver.Endpoint
	nextEP     int
	connecting bool

	sendBuf []byte

	tlsOpts TLSOptions
	tls     *tlsState
}

type tlsState struct {
	conn      *tls.Conn
	preBuffer []byte
	hostname  string
}

// New creates a TcpSocket bound to the given poller/timers/resolver. name
// distinguishes this socket's connect-timeout event from others sharing the
// same Queue (e.g. "bridge/alice@example.org/irc.libera.chat").
func New(p *poller.Poller, t *timedevents.Queue, r *resolver.Resolver, name string, h Handler) *TcpSocket {
	return &TcpSocket{poller: p, timers: t, res: r, name: name, handler: h, fd: -1}
}

// Connect resolves hostname and begins connecting to the first candidate
// address; subsequent candidates are tried automatically on failure.
func (s *TcpSocket) Connect(ctx context.Context, hostname string, port int, tlsOpts TLSOptions) {
	s.tlsOpts = tlsOpts
	s.res.Resolve(ctx, hostname, port,
		func(eps []resolver.Endpoint) {
			s.endpoints = eps
			s.nextEP = 0
			s.tryNextEndpoint()
		},
		func(err error) {
			s.handler.OnConnectionFailed(fmt.Errorf("resolution failed: %w", err))
		},
	)
}

func (s *TcpSocket) tryNextEndpoint() {
	for s.nextEP < len(s.endpoints) {
		ep := s.endpoints[s.nextEP]
		s.nextEP++
		if s.dial(ep) {
			return
		}
	}
	s.handler.OnConnectionFailed(errors.New("all addresses exhausted"))
}

func (s *TcpSocket) dial(ep resolver.Endpoint) bool {
	domain := unix.AF_INET
	if ep.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return false
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

	err = unix.Connect(fd, sockaddr(ep))
	if err == nil {
		s.fd = fd
		s.connecting = false
		s.finishConnect()
		return true
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return false
	}

	s.fd = fd
	s.connecting = true
	s.poller.Add(fd, (*pollerAdapter)(s), true)
	s.armConnectTimeout()
	return true
}

// pollerAdapter lets TcpSocket implement poller.Handler without exposing
// those methods on the public Handler interface callers implement.
type pollerAdapter TcpSocket

func (a *pollerAdapter) OnConnected() {
	s := (*TcpSocket)(a)
	s.timers.Cancel(s.connectTimeoutName())
	s.connecting = false
	s.poller.MarkConnected(s.fd)
	s.finishConnect()
}

func (a *pollerAdapter) OnConnectionFailed(reason error) {
	s := (*TcpSocket)(a)
	s.timers.Cancel(s.connectTimeoutName())
	s.poller.Remove(s.fd)
	unix.Close(s.fd)
	s.fd = -1
	s.tryNextEndpoint()
}

func (a *pollerAdapter) OnRecv(sizeHint int) { (*TcpSocket)(a).handleReadable() }
func (a *pollerAdapter) OnSend()             { (*TcpSocket)(a).drainSendBuffer() }

func (s *TcpSocket) connectTimeoutName() string { return "connect-timeout:" + s.name }

func (s *TcpSocket) armConnectTimeout() {
	s.timers.Add(&timedevents.Event{
		Name:   s.connectTimeoutName(),
		Expiry: time.Now().Add(connectTimeout),
		Callback: func() {
			if s.connecting {
				s.poller.Remove(s.fd)
				unix.Close(s.fd)
				s.fd = -1
				s.connecting = false
				s.handler.OnConnectionFailed(errors.New("connection timed out"))
			}
		},
	})
}

func (s *TcpSocket) finishConnect() {
	if la, err := unix.Getsockname(s.fd); err == nil {
		switch sa := la.(type) {
		case *unix.SockaddrInet4:
			s.localPort = sa.Port
		case *unix.SockaddrInet6:
			s.localPort = sa.Port
		}
	}
	s.handler.OnConnected()
	if s.tlsOpts.Enabled {
		// Allocated lazily here (on first successful TCP connect), never for
		// a connection that never reached this point, so a plaintext-only
		// caller never pays for a ClientHello it doesn't send.
	}
}

// LocalPort returns the ephemeral local port of a connected socket, cached
// for identd correlation.
func (s *TcpSocket) LocalPort() int { return s.localPort }

// StartTLS stops poller-driven raw I/O on this fd and hands it to a TLS
// client session; handshake and subsequent reads run on a dedicated
// goroutine. Outbound data written before the handshake completes is
// queued and flushed once the session is active.
func (s *TcpSocket) StartTLS(hostname string) {
	s.poller.Remove(s.fd)

	file := os.NewFile(uintptr(s.fd), "tcp-tls")
	conn, err := net.FileConn(file)
	file.Close() // FileConn dup'd the fd; this copy is no longer needed
	if err != nil {
		s.handler.OnConnectionFailed(fmt.Errorf("wrapping socket for tls: %w", err))
		return
	}

	cfg := &tls.Config{
		ServerName:            hostname,
		RootCAs:               s.tlsOpts.RootCAs,
		InsecureSkipVerify:    true, // replaced by explicit VerifyPeerCertificate below
		VerifyPeerCertificate: s.verifyPeerCertificate(hostname),
	}
	tlsConn := tls.Client(conn, cfg)
	s.tls = &tlsState{conn: tlsConn, hostname: hostname}

	go s.tlsLoop()
}

func (s *TcpSocket) tlsLoop() {
	if err := s.tls.conn.Handshake(); err != nil {
		s.handler.OnConnectionFailed(fmt.Errorf("tls handshake: %w", err))
		return
	}
	if len(s.tls.preBuffer) > 0 {
		buf := s.tls.preBuffer
		s.tls.preBuffer = nil
		s.tls.conn.Write(buf)
	}

	buf := make([]byte, 65536)
	for {
		n, err := s.tls.conn.Read(buf)
		if n > 0 {
			s.handler.OnRecv(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			s.handler.OnConnectionClose(err)
			return
		}
	}
}

// verifyPeerCertificate implements the §4.4 dual trust path: full chain +
// hostname match, OR leaf SHA-1 fingerprint match + hostname in a DNS name.
func (s *TcpSocket) verifyPeerCertificate(hostname string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("no certificate presented")
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}

		if len(s.tlsOpts.TrustedFingerprint) > 0 {
			sum := sha1.Sum(rawCerts[0])
			if bytes.Equal(sum[:], s.tlsOpts.TrustedFingerprint) && leaf.VerifyHostname(hostname) == nil {
				return nil
			}
		}

		pool := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			if c, err := x509.ParseCertificate(raw); err == nil {
				pool.AddCert(c)
			}
		}
		opts := x509.VerifyOptions{Intermediates: pool, Roots: s.tlsOpts.RootCAs}
		if _, err := leaf.Verify(opts); err != nil {
			return fmt.Errorf("certificate chain did not validate and fingerprint did not match: %w", err)
		}
		return leaf.VerifyHostname(hostname)
	}
}

// Send appends data to the outbound buffer (or the TLS session) and arms
// write-readiness on the plain-socket path.
func (s *TcpSocket) Send(data []byte) {
	if s.tls != nil {
		if s.tls.conn.ConnectionState().HandshakeComplete {
			s.tls.conn.Write(data)
		} else {
			s.tls.preBuffer = append(s.tls.preBuffer, data...)
		}
		return
	}
	s.sendBuf = append(s.sendBuf, data...)
	s.poller.WatchWrite(s.fd)
}

func (s *TcpSocket) drainSendBuffer() {
	if len(s.sendBuf) == 0 {
		s.poller.UnwatchWrite(s.fd)
		return
	}
	n, err := unix.Write(s.fd, s.sendBuf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		s.handler.OnConnectionClose(err)
		return
	}
	s.sendBuf = s.sendBuf[n:]
	if len(s.sendBuf) == 0 {
		s.poller.UnwatchWrite(s.fd)
	}
}

func (s *TcpSocket) handleReadable() {
	buf := make([]byte, 65536)
	n, err := unix.Read(s.fd, buf)
	if n == 0 && err == nil {
		s.handler.OnConnectionClose(errors.New("peer closed connection"))
		return
	}
	if n < 0 || err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		if s.connecting {
			s.handler.OnConnectionFailed(err)
		} else {
			s.handler.OnConnectionClose(err)
		}
		return
	}
	s.handler.OnRecv(buf[:n])
}

// Close tears down the socket, unregistering it from the poller.
func (s *TcpSocket) Close() {
	if s.tls != nil {
		s.tls.conn.Close()
		s.tls = nil
		return
	}
	if s.fd >= 0 {
		s.timers.Cancel(s.connectTimeoutName())
		s.poller.Remove(s.fd)
		unix.Close(s.fd)
		s.fd = -1
	}
}

func sockaddr(ep resolver.Endpoint) unix.Sockaddr {
	if ip4 := ep.IP.To4(); ip4 != nil {
		var a [4]byte
		copy(a[:], ip4)
		return &unix.SockaddrInet4{Port: ep.Port, Addr: a}
	}
	var a [16]byte
	copy(a[:], ep.IP.To16())
	return &unix.SockaddrInet6{Port: ep.Port, Addr: a}
}
