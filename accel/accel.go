// Package accel describes the command channel of a virtio network accelerator.
//
// Only the request/response contract is modelled here. How a request is
// encoded for a particular hardware generation belongs to the backend that
// implements [Accelerator].
package accel

import "errors"

// ErrCommandFailed is wrapped by backends when the accelerator rejected a
// command or the command round-trip failed.
var ErrCommandFailed = errors.New("accelerator command failed")

const (
	// ObjectTypeVirtq is set in [GeneralCaps.ObjectTypes] when the accelerator
	// can emulate virtqueue objects in hardware.
	//
	// Firmware name: MLX5_GENERAL_OBJ_TYPES_CAP_VIRTQ
	ObjectTypeVirtq uint64 = 1 << 13
)

// GeneralCaps is the response to a general capability query.
//
// Firmware name: QUERY_HCA_CAP, op_mod GENERAL
type GeneralCaps struct {
	// FillKey reports that the accelerator provides a dump/fill memory key.
	FillKey bool
	// ObjectTypes is a bitmask of the general object types the accelerator can
	// create.
	ObjectTypes uint64
}

// VirtqEmulation reports whether full virtqueue-object emulation is
// advertised.
func (c GeneralCaps) VirtqEmulation() bool {
	return c.ObjectTypes&ObjectTypeVirtq != 0
}

// EmulationCaps is the response to a device emulation capability query.
//
// Firmware name: QUERY_HCA_CAP, op_mod DEVICE_EMULATION
type EmulationCaps struct {
	// MaxVirtqs is the maximum number of virtqueues the hardware can emulate.
	MaxVirtqs uint16
}

// RQAttr is the request payload for creating a receive queue object.
//
// Firmware name: CREATE_RQ
type RQAttr struct {
	// CQN is the completion queue number the receive queue reports to.
	CQN uint32
	// LogWQSize is log2 of the number of work queue entries.
	LogWQSize uint8
	// PDN is the protection domain number the queue is associated with.
	PDN uint32
}

// Object is a hardware object created through the command channel.
type Object interface {
	// Number is the object number assigned by the hardware, e.g. the pdn of a
	// protection domain or the rqn of a receive queue.
	Number() uint32
}

// Accelerator is an opened accelerator command channel.
type Accelerator interface {
	// Name identifies the accelerator in logs.
	Name() string

	// CommandFD returns the raw command channel file descriptor. The doorbell
	// region is mapped from it at the offset returned by [NotifyPageIndex].
	CommandFD() int

	// QueryGeneralCaps performs the general capability query.
	QueryGeneralCaps() (GeneralCaps, error)

	// QueryFillKey returns the fill key used by the accelerator to scrub
	// buffers.
	//
	// Firmware name: QUERY_SPECIAL_CONTEXTS, dump_fill_mkey
	QueryFillKey() (uint32, error)

	// QueryEmulationCaps performs the device emulation capability query. Only
	// meaningful when [GeneralCaps.VirtqEmulation] is true.
	QueryEmulationCaps() (EmulationCaps, error)

	// AllocPD allocates a protection domain.
	//
	// Firmware name: ALLOC_PD
	AllocPD() (Object, error)

	// CreateRQ creates a receive queue object.
	CreateRQ(attr RQAttr) (Object, error)

	// Destroy destroys an object previously returned by AllocPD or CreateRQ.
	Destroy(obj Object) error
}
