package virtio

import (
	"fmt"
	"math/bits"
	"strings"
)

// Feature contains feature bits that describe a virtio device or driver.
type Feature uint64

// Device-independent feature bits.
//
// Source: https://docs.oasis-open.org/virtio/virtio/v1.2/csd01/virtio-v1.2-csd01.html#x1-6600006
const (
	// FeatureIndirectDescriptors indicates that the driver can use descriptors
	// with an additional layer of indirection.
	FeatureIndirectDescriptors Feature = 1 << 28

	// FeatureProtocolFeatures is the vhost-user bit that announces support for
	// protocol feature negotiation. The bit is reserved in virtio itself.
	//
	// Kernel name: VHOST_USER_F_PROTOCOL_FEATURES
	FeatureProtocolFeatures Feature = 1 << 30

	// FeatureVersion1 indicates compliance with version 1.0 of the virtio
	// specification.
	FeatureVersion1 Feature = 1 << 32
)

// Feature bits for networking devices that matter to the receive path.
const (
	// FeatureNetMergeRXBuffers indicates that the driver can handle merged
	// receive buffers.
	FeatureNetMergeRXBuffers Feature = 1 << 15

	// FeatureNetMQ indicates that the device supports multiqueue with automatic
	// receive steering.
	FeatureNetMQ Feature = 1 << 22
)

var featureNames = map[Feature]string{
	FeatureIndirectDescriptors: "INDIRECT_DESC",
	FeatureProtocolFeatures:    "PROTOCOL_FEATURES",
	FeatureVersion1:            "VERSION_1",
	FeatureNetMergeRXBuffers:   "NET_MRG_RXBUF",
	FeatureNetMQ:               "NET_MQ",
}

func (f Feature) String() string {
	return formatBits(uint64(f), func(bit uint64) (string, bool) {
		name, ok := featureNames[Feature(bit)]
		return name, ok
	})
}

// ProtocolFeature contains vhost-user protocol feature bits.
type ProtocolFeature uint64

// Source: https://qemu-project.gitlab.io/qemu/interop/vhost-user.html#protocol-features
const (
	// ProtocolFeatureSlaveReq allows the backend to send requests to the
	// frontend over a dedicated channel.
	//
	// Kernel name: VHOST_USER_PROTOCOL_F_SLAVE_REQ (BACKEND_REQ)
	ProtocolFeatureSlaveReq ProtocolFeature = 1 << 5

	// ProtocolFeatureSlaveSendFD allows file descriptors to be passed along
	// with backend requests.
	//
	// Kernel name: VHOST_USER_PROTOCOL_F_SLAVE_SEND_FD (BACKEND_SEND_FD)
	ProtocolFeatureSlaveSendFD ProtocolFeature = 1 << 10

	// ProtocolFeatureHostNotifier allows the backend to hand the frontend a
	// doorbell area that the guest writes directly.
	//
	// Kernel name: VHOST_USER_PROTOCOL_F_HOST_NOTIFIER
	ProtocolFeatureHostNotifier ProtocolFeature = 1 << 11
)

var protocolFeatureNames = map[ProtocolFeature]string{
	ProtocolFeatureSlaveReq:     "SLAVE_REQ",
	ProtocolFeatureSlaveSendFD:  "SLAVE_SEND_FD",
	ProtocolFeatureHostNotifier: "HOST_NOTIFIER",
}

func (f ProtocolFeature) String() string {
	return formatBits(uint64(f), func(bit uint64) (string, bool) {
		name, ok := protocolFeatureNames[ProtocolFeature(bit)]
		return name, ok
	})
}

func formatBits(v uint64, name func(uint64) (string, bool)) string {
	if v == 0 {
		return "0"
	}
	var parts []string
	for v != 0 {
		bit := uint64(1) << bits.TrailingZeros64(v)
		v &^= bit
		if n, ok := name(bit); ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, fmt.Sprintf("bit%d", bits.TrailingZeros64(bit)))
		}
	}
	return strings.Join(parts, "|")
}
