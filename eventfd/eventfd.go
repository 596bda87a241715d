// Package eventfd wraps the eventfd and epoll primitives used to wait on
// guest notifications.
package eventfd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type EventFD struct {
	fd  int
	buf [8]byte
}

// New creates a non-blocking eventfd.
func New() (EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return EventFD{fd: -1}, err
	}
	return EventFD{fd: fd}, nil
}

// Kick adds one to the eventfd counter, waking up anyone waiting on it.
func (e *EventFD) Kick() error {
	binary.NativeEndian.PutUint64(e.buf[:], 1)
	for {
		_, err := unix.Write(e.fd, e.buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func (e *EventFD) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	return err
}

func (e *EventFD) FD() int {
	return e.fd
}

// Drain consumes everything pending on the eventfd behind fd and returns the
// counter value that was read. A single read returns the whole counter, so
// bursts of writes collapse into one value. Interrupted reads are retried and
// a read that would block reports zero without an error.
func Drain(fd int) (uint64, error) {
	var buf [8]byte
	for {
		n, err := unix.Read(fd, buf[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nil
		case err != nil:
			return 0, err
		case n != len(buf):
			return 0, fmt.Errorf("short eventfd read of %d bytes", n)
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

// Epoll is a wait set. Every registered file descriptor carries a 64-bit tag
// that is handed back when it becomes ready.
type Epoll struct {
	fd     int
	events []unix.EpollEvent
}

// NewEpoll creates a wait set that reports at most size ready descriptors per
// call to [Epoll.Wait].
func NewEpoll(size int) (Epoll, error) {
	if size < 1 {
		return Epoll{fd: -1}, errors.New("epoll size must be positive")
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return Epoll{fd: -1}, err
	}
	return Epoll{
		fd:     fd,
		events: make([]unix.EpollEvent, size),
	}, nil
}

// Add registers fdToAdd for readability with the given tag.
func (ep *Epoll) Add(fdToAdd int, tag uint64) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLPRI,
		Fd:     int32(uint32(tag)),
		Pad:    int32(uint32(tag >> 32)),
	}
	return unix.EpollCtl(ep.fd, unix.EPOLL_CTL_ADD, fdToAdd, &event)
}

// Wait blocks until at least one registered descriptor is ready and returns
// how many are. Interrupted waits are retried and never surfaced.
func (ep *Epoll) Wait() (int, error) {
	for {
		n, err := unix.EpollWait(ep.fd, ep.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// Tag returns the tag of the i-th ready descriptor of the last [Epoll.Wait].
func (ep *Epoll) Tag(i int) uint64 {
	ev := ep.events[i]
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func (ep *Epoll) FD() int {
	return ep.fd
}

func (ep *Epoll) Close() error {
	if ep.fd < 0 {
		return nil
	}
	err := unix.Close(ep.fd)
	ep.fd = -1
	return err
}
