package vdpa

import (
	"sync/atomic"

	"github.com/shahafsh/virtio-emulation/accel"
)

// rxQueue is the hardware receive queue backing one guest virtqueue. The zero
// value is an empty slot.
type rxQueue struct {
	rqn uint32
	obj accel.Object
}

func (q *rxQueue) empty() bool {
	return q.obj == nil
}

// Device is the state kept for one accelerator instance. It is created once at
// discovery and cycles between configured and closed as guests attach and
// detach.
//
// Only attached may be read concurrently. Everything else is owned by the
// Configure/Close path, which callers must not run concurrently for the same
// device.
type Device struct {
	id    DeviceID
	accel accel.Accelerator
	caps  Capabilities

	session    SessionID
	hasSession bool

	// pd must outlive every entry in queues.
	pd     accel.Object
	queues []rxQueue

	attached atomic.Bool
	relay    *Relay
}

func newDevice(a accel.Accelerator, caps Capabilities) *Device {
	return &Device{
		accel:  a,
		caps:   caps,
		queues: make([]rxQueue, 2*int(caps.MaxQueuePairs)),
	}
}

func (d *Device) ID() DeviceID {
	return d.id
}

func (d *Device) Capabilities() Capabilities {
	return d.caps
}

func (d *Device) Accelerator() accel.Accelerator {
	return d.accel
}

// Attached reports whether a guest is bound and resources are provisioned.
func (d *Device) Attached() bool {
	return d.attached.Load()
}

// Session returns the session currently bound to the device.
func (d *Device) Session() (SessionID, bool) {
	return d.session, d.hasSession
}

// RelayErr returns the error that terminated the notification relay, if any.
func (d *Device) RelayErr() error {
	if d.relay == nil {
		return nil
	}
	return d.relay.Err()
}

// ProvisionedQueues returns the guest virtqueue indexes that are backed by a
// hardware receive queue.
func (d *Device) ProvisionedQueues() []int {
	var out []int
	for i := range d.queues {
		if !d.queues[i].empty() {
			out = append(out, i)
		}
	}
	return out
}

func (d *Device) bind(session SessionID) {
	d.session = session
	d.hasSession = true
}

func (d *Device) unbind() {
	d.session = 0
	d.hasSession = false
}

// hasResources reports whether anything provisioned is still held, e.g. after
// a close that could not release everything.
func (d *Device) hasResources() bool {
	if d.pd != nil || d.relay.Running() {
		return true
	}
	for i := range d.queues {
		if !d.queues[i].empty() {
			return true
		}
	}
	return false
}
