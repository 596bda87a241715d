package vdpa

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shahafsh/virtio-emulation/util/virtio"
)

// Ops is the operation table a virtio transport drives a device through.
type Ops interface {
	QueueCount(id DeviceID) (uint32, error)
	Features(id DeviceID) (virtio.Feature, error)
	ProtocolFeatures(id DeviceID) (virtio.ProtocolFeature, error)
	Configure(session SessionID) error
	Close(session SessionID) error
	NotifyArea(session SessionID, queue int) (NotifyArea, error)
	AcceleratorFD(id DeviceID) (int, error)
	Attached(id DeviceID) (bool, error)
}

var _ Ops = (*Backend)(nil)

// QueueCount returns the number of queue pairs the device supports.
func (b *Backend) QueueCount(id DeviceID) (uint32, error) {
	d, err := b.registry.Find(id)
	if err != nil {
		return 0, err
	}
	return uint32(d.caps.MaxQueuePairs), nil
}

func (b *Backend) Features(id DeviceID) (virtio.Feature, error) {
	d, err := b.registry.Find(id)
	if err != nil {
		return 0, err
	}
	return d.caps.Features, nil
}

func (b *Backend) ProtocolFeatures(id DeviceID) (virtio.ProtocolFeature, error) {
	d, err := b.registry.Find(id)
	if err != nil {
		return 0, err
	}
	return d.caps.ProtocolFeatures, nil
}

// NotifyArea returns where the transport should map the doorbell for a queue.
// It is the same single page for every queue.
func (b *Backend) NotifyArea(session SessionID, queue int) (NotifyArea, error) {
	d, err := b.deviceForSession(session)
	if err != nil {
		return NotifyArea{}, err
	}

	area := notifyArea(d.relay.pageSize)
	b.l.WithField("deviceID", d.id).
		WithField("queueIndex", queue).
		WithField("offset", fmt.Sprintf("%#x", area.Offset)).
		WithField("size", humanize.IBytes(area.Size)).
		Debug("Reporting notify area")
	return area, nil
}

// AcceleratorFD returns the accelerator command channel so the transport can
// map the notify area itself.
func (b *Backend) AcceleratorFD(id DeviceID) (int, error) {
	d, err := b.registry.Find(id)
	if err != nil {
		return -1, err
	}
	return d.accel.CommandFD(), nil
}

// Attached reports whether a guest is currently bound to the device.
func (b *Backend) Attached(id DeviceID) (bool, error) {
	d, err := b.registry.Find(id)
	if err != nil {
		return false, err
	}
	return d.Attached(), nil
}
