package vdpa

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rcrowley/go-metrics"
	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/eventfd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type relayState int32

const (
	relayIdle relayState = iota
	relayStarting
	relayRunning
	relayStopping
)

func (s relayState) String() string {
	switch s {
	case relayIdle:
		return "idle"
	case relayStarting:
		return "starting"
	case relayRunning:
		return "running"
	case relayStopping:
		return "stopping"
	}
	return "unknown"
}

// stopTag marks the relay's own stop eventfd in the wait set. Kick tags carry
// a descriptor in the high 32 bits, which is never negative, so bit 63 of a
// kick tag is always clear.
const stopTag = math.MaxUint64

func kickTag(queue int, fd int) uint64 {
	return uint64(uint32(queue)) | uint64(uint32(fd))<<32
}

func splitKickTag(tag uint64) (queue uint32, fd int) {
	return uint32(tag), int(uint32(tag >> 32))
}

// NotifyArea is the part of the accelerator command channel that holds the
// doorbell.
type NotifyArea struct {
	Offset uint64
	Size   uint64
}

// notifyArea returns the doorbell area. Doorbells can only be mapped with page
// granularity, so every queue shares queue group 0 and its single page.
func notifyArea(pageSize int) NotifyArea {
	return NotifyArea{
		Offset: accel.NotifyPageIndex(0) * uint64(pageSize),
		Size:   uint64(pageSize),
	}
}

// Relay forwards guest kicks to the accelerator doorbell for queues that have
// no hardware notification path. Each device owns one.
//
// Start and Stop must not be called concurrently.
type Relay struct {
	l        logrus.FieldLogger
	accel    accel.Accelerator
	pageSize int

	state atomic.Int32

	page  []byte
	epoll *eventfd.Epoll
	stop  *eventfd.EventFD
	done  chan struct{}

	errLock sync.Mutex
	err     error

	kicks     metrics.Counter
	doorbells metrics.Counter
	failures  metrics.Counter
}

func NewRelay(l logrus.FieldLogger, a accel.Accelerator, name string, r metrics.Registry) *Relay {
	return &Relay{
		l:         l,
		accel:     a,
		pageSize:  os.Getpagesize(),
		kicks:     metrics.GetOrRegisterCounter(fmt.Sprintf("relay.%s.kicks", name), r),
		doorbells: metrics.GetOrRegisterCounter(fmt.Sprintf("relay.%s.doorbells", name), r),
		failures:  metrics.GetOrRegisterCounter(fmt.Sprintf("relay.%s.failures", name), r),
	}
}

func (r *Relay) getState() relayState {
	return relayState(r.state.Load())
}

func (r *Relay) setState(s relayState) {
	r.state.Store(int32(s))
}

// Running reports whether the relay holds its resources, between a successful
// Start and the following Stop. The worker may have exited early, see Err.
func (r *Relay) Running() bool {
	return r != nil && r.getState() == relayRunning
}

// Done returns a channel that is closed when the worker exits, or nil when the
// relay is idle.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the error the worker terminated with, if any.
func (r *Relay) Err() error {
	r.errLock.Lock()
	defer r.errLock.Unlock()
	return r.err
}

func (r *Relay) setErr(err error) {
	r.errLock.Lock()
	r.err = err
	r.errLock.Unlock()
}

// Start maps the doorbell page, builds the wait set from the guest kick
// descriptors and starts the worker. On failure nothing is left behind.
func (r *Relay) Start(queues []QueueInfo) (err error) {
	if s := r.getState(); s != relayIdle {
		return fmt.Errorf("%w: relay is %s", ErrWorkerStart, s)
	}
	r.setState(relayStarting)

	defer func() {
		if err != nil {
			_ = r.release()
			r.setState(relayIdle)
		}
	}()

	area := notifyArea(r.pageSize)
	r.page, err = unix.Mmap(r.accel.CommandFD(), int64(area.Offset), int(area.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		r.page = nil
		return fmt.Errorf("%w: map doorbell page: %w", ErrWorkerStart, err)
	}

	ep, err := eventfd.NewEpoll(len(queues) + 1)
	if err != nil {
		return fmt.Errorf("%w: create epoll: %w", ErrWorkerStart, err)
	}
	r.epoll = &ep

	stop, err := eventfd.New()
	if err != nil {
		return fmt.Errorf("%w: create stop eventfd: %w", ErrWorkerStart, err)
	}
	r.stop = &stop

	if err = r.epoll.Add(r.stop.FD(), stopTag); err != nil {
		return fmt.Errorf("%w: add stop eventfd: %w", ErrWorkerStart, err)
	}

	for i, q := range queues {
		if q.KickFD < 0 {
			r.l.WithField("queueIndex", i).Debug("Virtqueue has no kick descriptor, not relaying")
			continue
		}
		if err = r.epoll.Add(q.KickFD, kickTag(i, q.KickFD)); err != nil {
			return fmt.Errorf("%w: add kick descriptor of virtqueue %d: %w", ErrWorkerStart, i, err)
		}
	}

	r.setErr(nil)
	r.done = make(chan struct{})
	r.setState(relayRunning)
	go r.run(r.epoll, r.page, r.done)

	r.l.WithField("queues", len(queues)).Info("Notification relay started")
	return nil
}

// Stop wakes the worker through its stop eventfd, waits for it to exit and
// then releases the doorbell mapping and the wait set. Stopping an idle relay
// does nothing.
func (r *Relay) Stop() error {
	if r == nil || r.getState() == relayIdle {
		return nil
	}
	r.setState(relayStopping)

	if err := r.stop.Kick(); err != nil {
		// The worker can not be reached, so the page has to stay mapped.
		r.setState(relayRunning)
		return fmt.Errorf("wake relay worker: %w", err)
	}
	<-r.done

	err := r.release()
	r.done = nil
	r.setState(relayIdle)
	r.l.Info("Notification relay stopped")
	return err
}

func (r *Relay) release() error {
	var errs []error

	if r.epoll != nil {
		if err := r.epoll.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close epoll: %w", err))
		}
		r.epoll = nil
	}
	if r.stop != nil {
		if err := r.stop.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stop eventfd: %w", err))
		}
		r.stop = nil
	}
	if r.page != nil {
		if err := unix.Munmap(r.page); err != nil {
			errs = append(errs, fmt.Errorf("unmap doorbell page: %w", err))
		}
		r.page = nil
	}

	return errors.Join(errs...)
}

func (r *Relay) run(ep *eventfd.Epoll, page []byte, done chan struct{}) {
	defer close(done)

	for {
		n, err := ep.Wait()
		if err != nil {
			r.failures.Inc(1)
			r.setErr(err)
			r.l.WithError(err).Error("Notification relay wait failed, guest kicks are no longer relayed")
			return
		}

		for i := 0; i < n; i++ {
			tag := ep.Tag(i)
			if tag == stopTag {
				return
			}

			queue, fd := splitKickTag(tag)
			pending, err := eventfd.Drain(fd)
			if err != nil {
				r.l.WithError(err).WithField("queueIndex", queue).Info("Error reading kick descriptor")
			}
			r.kicks.Inc(int64(pending))

			ringDoorbell(page, queue)
			r.doorbells.Inc(1)
		}
	}
}

// ringDoorbell writes the queue index to the doorbell. The device only accepts
// 4 byte writes.
func ringDoorbell(page []byte, queue uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&page[0])), queue)
}
