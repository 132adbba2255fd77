// Package poller implements a level-triggered readiness notifier over a set
// of sockets, reporting read/write readiness to registered handlers. It
// backs the gateway's single-threaded, cooperative event loop (§5): all
// handler callbacks run to completion before Poll returns control.
package poller

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Result is the outcome of a Poll call.
type Result int

const (
	EventsConsumed Result = iota
	Timeout
	Interrupted
	NoSockets
)

// Handler is the capability set a socket exposes to the poller. Plain TCP,
// TLS, and DNS sockets all implement the same four hooks; the poller never
// needs to know which.
type Handler interface {
	OnRecv(sizeHint int)
	OnSend()
	OnConnected()
	OnConnectionFailed(reason error)
}

type entry struct {
	fd         int
	handler    Handler
	connecting bool
	watchWrite bool
}

// Poller multiplexes readiness over a set of file descriptors using
// poll(2) (via unix.Poll, level-triggered).
type Poller struct {
	entries map[int]*entry
}

// New returns an empty Poller.
func New() *Poller {
	return &Poller{entries: make(map[int]*entry)}
}

// Add registers a socket for read readiness (always watched) with the given
// handler. If connecting is true, write readiness delivers OnConnected /
// OnConnectionFailed instead of OnSend.
func (p *Poller) Add(fd int, h Handler, connecting bool) {
	p.entries[fd] = &entry{fd: fd, handler: h, connecting: connecting, watchWrite: connecting}
}

// Remove unregisters a socket. Safe to call while inside Poll (the removed
// fd's stale pending event, if any, is dropped before dispatch).
func (p *Poller) Remove(fd int) {
	delete(p.entries, fd)
}

// WatchWrite arms write-readiness notification for a connected socket (used
// to drain a non-empty outbound buffer).
func (p *Poller) WatchWrite(fd int) {
	if e, ok := p.entries[fd]; ok {
		e.watchWrite = true
	}
}

// UnwatchWrite disarms write-readiness notification once the outbound
// buffer has drained.
func (p *Poller) UnwatchWrite(fd int) {
	if e, ok := p.entries[fd]; ok {
		e.watchWrite = false
	}
}

// MarkConnected transitions an fd from "connecting" to "connected" so that
// subsequent write readiness delivers OnSend rather than OnConnected.
func (p *Poller) MarkConnected(fd int) {
	if e, ok := p.entries[fd]; ok {
		e.connecting = false
	}
}

// Poll blocks up to timeout (or indefinitely if timeout < 0) waiting for
// readiness on any registered socket, then dispatches events synchronously.
// Returns NoSockets immediately if the set is empty and timeout is infinite.
func (p *Poller) Poll(timeout time.Duration) Result {
	if len(p.entries) == 0 {
		if timeout < 0 {
			return NoSockets
		}
		time.Sleep(timeout)
		return Timeout
	}

	pfds := make([]unix.PollFd, 0, len(p.entries))
	order := make([]int, 0, len(p.entries))
	for fd, e := range p.entries {
		var events int16 = unix.POLLIN
		if e.watchWrite {
			events |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return Interrupted
		}
		return Interrupted
	}
	if n == 0 {
		return Timeout
	}

	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := order[i]
		e, ok := p.entries[fd]
		if !ok {
			continue // removed mid-dispatch
		}

		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			e.handler.OnRecv(readableHint(fd))
		}
		if _, stillPresent := p.entries[fd]; !stillPresent {
			continue
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			if e.connecting {
				if sockErr := connectError(fd); sockErr != nil {
					e.handler.OnConnectionFailed(sockErr)
				} else {
					e.handler.OnConnected()
				}
			} else {
				e.handler.OnSend()
			}
		}
	}
	return EventsConsumed
}

// readableHint returns an OS-reported hint of how many bytes are available
// to read, best-effort (0 if unknown).
func readableHint(fd int) int {
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return 0
	}
	return n
}

// connectError returns the pending SO_ERROR for a connecting socket, nil if
// the connect succeeded.
func connectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
