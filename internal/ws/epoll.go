//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// poller multiplexes reads over all client sockets with a single epoll
// descriptor, so idle connections cost no goroutine. Registration is
// level-triggered; the server guards against duplicate dispatch per
// connection.
type poller struct {
	epfd  int
	mu    sync.RWMutex
	socks map[int]net.Conn
	buf   []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &poller{
		epfd:  epfd,
		socks: make(map[int]net.Conn),
		buf:   make([]unix.EpollEvent, 128),
	}, nil
}

// Add puts the socket on the epoll interest list. EPOLLRDHUP is included so
// a peer half-close wakes the read path promptly.
func (p *poller) Add(conn net.Conn) error {
	fd := socketFD(conn)
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}

	p.mu.Lock()
	p.socks[fd] = conn
	p.mu.Unlock()
	return nil
}

// Remove takes the socket off the interest list.
func (p *poller) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.socks, fd)
	p.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered socket is readable and returns
// the corresponding connections. Sockets removed between the kernel wakeup
// and the map lookup are skipped.
func (p *poller) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.epfd, p.buf, -1)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.socks[int(p.buf[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	p.mu.RUnlock()
	return ready, nil
}

func (p *poller) Close() error {
	p.mu.Lock()
	p.socks = nil
	p.mu.Unlock()
	return unix.Close(p.epfd)
}

// socketFD pulls the descriptor out of a net.Conn without duplicating it,
// so the fd stays valid for epoll registration. File() would dup.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) { fd = int(sfd) })
	return fd
}
