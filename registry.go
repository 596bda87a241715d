package vdpa

import (
	"fmt"
	"sync"
)

// DeviceID identifies a registered device for the life of the process.
type DeviceID int

// Registry holds every device known to the process. Devices are never removed.
// The lock only guards the list and is never held across an accelerator call.
type Registry struct {
	sync.Mutex
	devices []*Device
	nextID  DeviceID
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register assigns the device its id and publishes it.
func (r *Registry) Register(d *Device) DeviceID {
	r.Lock()
	defer r.Unlock()

	d.id = r.nextID
	r.nextID++
	r.devices = append(r.devices, d)
	return d.id
}

// Find returns the device with the given id or an error wrapping ErrNotFound.
func (r *Registry) Find(id DeviceID) (*Device, error) {
	r.Lock()
	defer r.Unlock()

	for _, d := range r.devices {
		if d.id == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
}

// Devices returns a snapshot of the registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.Lock()
	defer r.Unlock()

	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}
