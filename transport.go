package vdpa

// SessionID identifies a guest driver instance on the virtio transport.
type SessionID int

// QueueInfo describes one guest virtqueue as reported by the transport.
type QueueInfo struct {
	// Depth is the number of descriptors in the virtqueue.
	Depth uint16
	// KickFD is the eventfd the guest signals when it posts new descriptors.
	KickFD int
	// CallFD is the eventfd used to interrupt the guest. Not used by the relay.
	CallFD int
}

// Transport is the guest facing virtio transport, e.g. a vhost-user server.
// It owns the sessions and the descriptors it hands out.
type Transport interface {
	// QueueCount returns the number of virtqueues the guest set up.
	QueueCount(session SessionID) (int, error)
	// Queue returns the virtqueue with the given index.
	Queue(session SessionID, index int) (QueueInfo, error)
	// DeviceID returns the id of the device the session is bound to.
	DeviceID(session SessionID) (DeviceID, error)
}
