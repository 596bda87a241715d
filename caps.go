package vdpa

import (
	"fmt"

	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/util/virtio"
)

// swMaxQueuePairs is the number of queue pairs the relay based design serves
// when the accelerator cannot emulate virtqueues itself.
const swMaxQueuePairs = 1

const (
	// Features is the virtio feature set this backend offers.
	Features = virtio.FeatureProtocolFeatures | virtio.FeatureVersion1

	// ProtocolFeatures is the vhost-user protocol feature set this backend
	// offers.
	ProtocolFeatures = virtio.ProtocolFeatureSlaveReq |
		virtio.ProtocolFeatureSlaveSendFD |
		virtio.ProtocolFeatureHostNotifier
)

// Capabilities is what was negotiated with an accelerator. It does not change
// after negotiation.
type Capabilities struct {
	// MaxQueuePairs is the number of queue pairs reported to the transport.
	MaxQueuePairs uint16
	// Features is the virtio feature bitmask offered to the guest.
	Features virtio.Feature
	// ProtocolFeatures is the vhost-user protocol feature bitmask.
	ProtocolFeatures virtio.ProtocolFeature
	// FillKey is the memory key the accelerator scrubs buffers with.
	FillKey uint32
	// VirtqEmulation is set when the accelerator advertised full virtqueue
	// emulation.
	VirtqEmulation bool
}

// Negotiate queries the accelerator once for everything the backend needs.
// A missing fill key is fatal, provisioning depends on it, and is reported as
// ErrCapabilityUnsupported. A query that fails outright is reported as
// ErrCapabilityQuery.
func Negotiate(a accel.Accelerator) (Capabilities, error) {
	general, err := a.QueryGeneralCaps()
	if err != nil {
		return Capabilities{}, fmt.Errorf("%w: general caps: %w", ErrCapabilityQuery, err)
	}
	if !general.FillKey {
		return Capabilities{}, fmt.Errorf("%w: fill key", ErrCapabilityUnsupported)
	}

	caps := Capabilities{
		MaxQueuePairs:    swMaxQueuePairs,
		Features:         Features,
		ProtocolFeatures: ProtocolFeatures,
	}

	if caps.FillKey, err = a.QueryFillKey(); err != nil {
		return Capabilities{}, fmt.Errorf("%w: fill key: %w", ErrCapabilityQuery, err)
	}

	if general.VirtqEmulation() {
		emu, err := a.QueryEmulationCaps()
		if err != nil {
			return Capabilities{}, fmt.Errorf("%w: emulation caps: %w", ErrCapabilityQuery, err)
		}
		caps.VirtqEmulation = true
		// The hardware counts virtqueues, a pair is one rx and one tx queue
		if pairs := emu.MaxVirtqs / 2; pairs > 0 {
			caps.MaxQueuePairs = pairs
		}
	}

	return caps, nil
}
