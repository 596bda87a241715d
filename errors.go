package vdpa

import "errors"

var (
	// ErrNotFound is returned for device or session ids that do not resolve to
	// a registered device.
	ErrNotFound = errors.New("device not found")

	// ErrCapabilityUnsupported is returned when the accelerator lacks a feature
	// this backend requires.
	ErrCapabilityUnsupported = errors.New("accelerator capability unsupported")

	// ErrCapabilityQuery is returned when a capability query could not be
	// completed.
	ErrCapabilityQuery = errors.New("accelerator capability query failed")

	// ErrResourceAllocation is returned when a protection domain or queue
	// object could not be created or destroyed.
	ErrResourceAllocation = errors.New("accelerator resource allocation failed")

	// ErrWorkerStart is returned when the notification relay could not be
	// started.
	ErrWorkerStart = errors.New("notification relay failed to start")

	// ErrBusy is returned when configuring a device that is attached or still
	// holds resources from an incomplete close.
	ErrBusy = errors.New("device is busy")

	// ErrNoTransport is returned by session operations when no virtio transport
	// has been attached to the backend.
	ErrNoTransport = errors.New("no virtio transport attached")
)
