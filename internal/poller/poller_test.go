package poller

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type recordingHandler struct {
	recv      chan int
	send      chan struct{}
	connected chan struct{}
	failed    chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		recv:      make(chan int, 4),
		send:      make(chan struct{}, 4),
		connected: make(chan struct{}, 1),
		failed:    make(chan error, 1),
	}
}

func (h *recordingHandler) OnRecv(sizeHint int)            { h.recv <- sizeHint }
func (h *recordingHandler) OnSend()                        { h.send <- struct{}{} }
func (h *recordingHandler) OnConnected()                   { h.connected <- struct{}{} }
func (h *recordingHandler) OnConnectionFailed(reason error) { h.failed <- reason }

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollNoSocketsReturnsImmediatelyOnNegativeTimeout(t *testing.T) {
	p := New()
	if r := p.Poll(-1); r != NoSockets {
		t.Fatalf("expected NoSockets, got %v", r)
	}
}

func TestPollTimeoutWhenNothingReady(t *testing.T) {
	a, _ := socketpair(t)
	p := New()
	h := newRecordingHandler()
	p.Add(a, h, false)

	if r := p.Poll(20 * time.Millisecond); r != Timeout {
		t.Fatalf("expected Timeout, got %v", r)
	}
}

func TestPollDispatchesOnRecv(t *testing.T) {
	a, b := socketpair(t)
	p := New()
	h := newRecordingHandler()
	p.Add(a, h, false)

	unix.Write(b, []byte("hi"))

	r := p.Poll(time.Second)
	if r != EventsConsumed {
		t.Fatalf("expected EventsConsumed, got %v", r)
	}
	select {
	case n := <-h.recv:
		if n <= 0 {
			t.Fatalf("expected a positive readable hint, got %d", n)
		}
	default:
		t.Fatal("expected OnRecv to have fired")
	}
}

func TestPollConnectingDispatchesOnConnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(50 * time.Millisecond)
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	_ = host
	_ = port

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	tcpAddr := ln.Addr().(*net.TCPAddr)
	var addr [4]byte
	copy(addr[:], tcpAddr.IP.To4())
	err = unix.Connect(fd, &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: addr})
	if err != nil && err != unix.EINPROGRESS {
		t.Fatal(err)
	}

	p := New()
	h := newRecordingHandler()
	p.Add(fd, h, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r := p.Poll(100 * time.Millisecond)
		if r == EventsConsumed {
			select {
			case <-h.connected:
				return
			case err := <-h.failed:
				t.Fatalf("connection failed: %v", err)
			default:
			}
		}
	}
	t.Fatal("timed out waiting for OnConnected")
}

func TestRemovedSocketIsNotPolled(t *testing.T) {
	a, b := socketpair(t)
	p := New()
	h := newRecordingHandler()
	p.Add(a, h, false)
	p.Remove(a)

	unix.Write(b, []byte("hi"))
	if r := p.Poll(20 * time.Millisecond); r != Timeout {
		t.Fatalf("expected Timeout after removal, got %v", r)
	}
}
