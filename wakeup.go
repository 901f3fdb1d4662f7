//go:build linux

package modesetting

import (
	"golang.org/x/sys/unix"
)

// EpollMonitor implements WakeupMonitor on Linux epoll. The server's
// dispatch loop calls Wait and runs FlushEvents for each ready screen.
type EpollMonitor struct {
	epfd int
}

// NewEpollMonitor creates the process-wide readiness monitor.
func NewEpollMonitor() (*EpollMonitor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, WrapError("EPOLL_CREATE", err)
	}
	return &EpollMonitor{epfd: epfd}, nil
}

// Register subscribes a device descriptor for read readiness.
func (m *EpollMonitor) Register(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return WrapError("EPOLL_ADD", err)
	}
	return nil
}

// Unregister removes a device descriptor from the watch set.
func (m *EpollMonitor) Unregister(fd int) error {
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return WrapError("EPOLL_DEL", err)
	}
	return nil
}

// Wait blocks up to timeoutMs (-1 forever) and returns the descriptors
// that have completion records pending.
func (m *EpollMonitor) Wait(timeoutMs int) ([]int, error) {
	var events [32]unix.EpollEvent
	for {
		n, err := unix.EpollWait(m.epfd, events[:], timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, WrapError("EPOLL_WAIT", err)
		}
		fds := make([]int, 0, n)
		for i := 0; i < n; i++ {
			fds = append(fds, int(events[i].Fd))
		}
		return fds, nil
	}
}

// Close releases the epoll descriptor.
func (m *EpollMonitor) Close() error {
	return unix.Close(m.epfd)
}
