//go:build !linux

package ws

import (
	"net"
	"sync"
)

// poller fallback for non-Linux development machines: one watcher goroutine
// per connection feeding a readiness channel. Production runs on Linux with
// the real epoll poller.
type poller struct {
	mu    sync.Mutex
	socks map[net.Conn]struct{}
	ready chan net.Conn
	done  chan struct{}
}

func newPoller() (*poller, error) {
	return &poller{
		socks: make(map[net.Conn]struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// Add starts a watcher goroutine for the connection.
func (p *poller) Add(conn net.Conn) error {
	p.mu.Lock()
	p.socks[conn] = struct{}{}
	p.mu.Unlock()

	go p.watch(conn)
	return nil
}

// watch blocks on a one-byte read to learn when data arrives, then signals
// readiness. The consumed byte is lost, which the fallback tolerates; the
// Linux poller never consumes bytes. On read error it signals once more so
// the server's read path can observe the closed socket.
func (p *poller) watch(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			select {
			case p.ready <- conn:
			case <-p.done:
			}
			return
		}

		select {
		case p.ready <- conn:
		case <-p.done:
			return
		}
	}
}

func (p *poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.socks, conn)
	p.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already queued.
func (p *poller) Wait() ([]net.Conn, error) {
	first, ok := <-p.ready
	if !ok {
		return nil, net.ErrClosed
	}

	ready := []net.Conn{first}
	for {
		select {
		case conn := <-p.ready:
			ready = append(ready, conn)
		default:
			return ready, nil
		}
	}
}

func (p *poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.socks = nil
	p.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; the fallback keys nothing on it.
func socketFD(conn net.Conn) int {
	return -1
}
