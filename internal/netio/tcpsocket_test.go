package netio

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/biboumi-go/biboumi/internal/poller"
	"github.com/biboumi-go/biboumi/internal/resolver"
	"github.com/biboumi-go/biboumi/internal/timedevents"
)

type recordingHandler struct {
	connected chan struct{}
	recv      chan []byte
	closed    chan error
	failed    chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected: make(chan struct{}, 1),
		recv:      make(chan []byte, 16),
		closed:    make(chan error, 1),
		failed:    make(chan error, 1),
	}
}

func (h *recordingHandler) OnConnected()                    { h.connected <- struct{}{} }
func (h *recordingHandler) OnRecv(data []byte)               { h.recv <- append([]byte(nil), data...) }
func (h *recordingHandler) OnConnectionClose(reason error)   { h.closed <- reason }
func (h *recordingHandler) OnConnectionFailed(reason error)  { h.failed <- reason }

func TestTcpSocketConnectSendRecv(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	serverAccepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			serverAccepted <- conn
		}
	}()

	p := poller.New()
	timers := timedevents.New()
	res := resolver.New()
	h := newRecordingHandler()
	sock := New(p, timers, res, "test", h)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	sock.Connect(context.Background(), host, port, TLSOptions{})

	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for connection")
		}
		select {
		case <-h.connected:
			goto connected
		default:
			p.Poll(50 * time.Millisecond)
			timers.ExecuteExpired(time.Now())
		}
	}
connected:

	srvConn := <-serverAccepted
	defer srvConn.Close()

	srvConn.Write([]byte("hello\r\n"))

	deadline = time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for recv")
		}
		select {
		case data := <-h.recv:
			if string(data) != "hello\r\n" {
				t.Fatalf("unexpected data: %q", data)
			}
			return
		default:
			p.Poll(50 * time.Millisecond)
		}
	}
}
