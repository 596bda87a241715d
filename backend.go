package vdpa

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BackendConfig holds the tunables of a [Backend].
type BackendConfig struct {
	// CompletionQueue is the cqn receive queues are created with.
	CompletionQueue uint32
	// Metrics is where counters are registered. Defaults to
	// metrics.DefaultRegistry.
	Metrics metrics.Registry
}

// Backend ties the registry, the provisioner and the per-device relays
// together and drives device configuration for the virtio transport.
type Backend struct {
	l           *logrus.Logger
	registry    *Registry
	provisioner *Provisioner
	metrics     metrics.Registry

	transportLock sync.RWMutex
	transport     Transport
}

func NewBackend(l *logrus.Logger, registry *Registry, c BackendConfig) *Backend {
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultRegistry
	}
	return &Backend{
		l:           l,
		registry:    registry,
		provisioner: NewProvisioner(l, c.CompletionQueue, c.Metrics),
		metrics:     c.Metrics,
	}
}

// SetTransport attaches the virtio transport sessions are resolved through.
func (b *Backend) SetTransport(t Transport) {
	b.transportLock.Lock()
	b.transport = t
	b.transportLock.Unlock()
}

func (b *Backend) getTransport() (Transport, error) {
	b.transportLock.RLock()
	defer b.transportLock.RUnlock()
	if b.transport == nil {
		return nil, ErrNoTransport
	}
	return b.transport, nil
}

func (b *Backend) Registry() *Registry {
	return b.registry
}

// Register negotiates capabilities with a discovered accelerator and
// publishes a device for it.
func (b *Backend) Register(a accel.Accelerator) (DeviceID, error) {
	caps, err := Negotiate(a)
	if err != nil {
		return 0, fmt.Errorf("negotiate capabilities of %s: %w", a.Name(), err)
	}

	d := newDevice(a, caps)
	d.relay = NewRelay(b.l.WithField("accelerator", a.Name()), a, a.Name(), b.metrics)
	id := b.registry.Register(d)

	b.l.WithFields(logrus.Fields{
		"deviceID":         id,
		"accelerator":      a.Name(),
		"fillKey":          fmt.Sprintf("%#x", caps.FillKey),
		"maxQueuePairs":    caps.MaxQueuePairs,
		"virtqEmulation":   caps.VirtqEmulation,
		"features":         caps.Features,
		"protocolFeatures": caps.ProtocolFeatures,
	}).Info("Registered accelerator")

	return id, nil
}

// deviceForSession resolves the device a transport session is bound to.
func (b *Backend) deviceForSession(session SessionID) (*Device, error) {
	t, err := b.getTransport()
	if err != nil {
		return nil, err
	}
	id, err := t.DeviceID(session)
	if err != nil {
		return nil, fmt.Errorf("%w: session %d: %w", ErrNotFound, session, err)
	}
	return b.registry.Find(id)
}

func (b *Backend) guestQueues(session SessionID) ([]QueueInfo, error) {
	t, err := b.getTransport()
	if err != nil {
		return nil, err
	}
	n, err := t.QueueCount(session)
	if err != nil {
		return nil, fmt.Errorf("get virtqueue count: %w", err)
	}
	queues := make([]QueueInfo, n)
	for i := range queues {
		if queues[i], err = t.Queue(session, i); err != nil {
			return nil, fmt.Errorf("get virtqueue %d: %w", i, err)
		}
	}
	return queues, nil
}

// Configure binds a guest session to its device, provisions the receive path
// and starts the notification relay. Any failure rolls back what was set up,
// the device is left idle and can be configured again.
func (b *Backend) Configure(session SessionID) (err error) {
	d, err := b.deviceForSession(session)
	if err != nil {
		return err
	}
	l := b.l.WithFields(logrus.Fields{"deviceID": d.id, "sessionID": session})

	if d.Attached() || d.hasResources() {
		return fmt.Errorf("%w: device %d is attached or holds resources", ErrBusy, d.id)
	}

	queues, err := b.guestQueues(session)
	if err != nil {
		return err
	}

	d.bind(session)
	defer func() {
		if err != nil {
			l.WithError(err).Error("Failed to configure device, rolling back")
			b.rollback(l, d)
		}
	}()

	if err = b.provisioner.AllocPD(d); err != nil {
		return err
	}
	if err = b.provisioner.Provision(d, queues); err != nil {
		return err
	}
	if err = d.relay.Start(queues); err != nil {
		return err
	}
	d.attached.Store(true)

	l.WithFields(logrus.Fields{
		"pdn":            d.pd.Number(),
		"virtqueues":     len(queues),
		"hardwareQueues": d.ProvisionedQueues(),
	}).Info("Device configured")
	return nil
}

func (b *Backend) rollback(l logrus.FieldLogger, d *Device) {
	if err := b.provisioner.Release(d); err != nil {
		l.WithError(err).Error("Failed to release receive queues during rollback")
	} else if err := b.provisioner.FreePD(d); err != nil {
		l.WithError(err).Error("Failed to release protection domain during rollback")
	}
	d.unbind()
}

// Close stops the relay and releases the device's hardware objects. Teardown
// is best effort: every failure is logged and returned, and the remaining
// steps still run unless that would free the protection domain under live
// receive queues.
func (b *Backend) Close(session SessionID) error {
	d, err := b.deviceForSession(session)
	if err != nil {
		return err
	}
	return b.closeDevice(d)
}

func (b *Backend) closeDevice(d *Device) error {
	l := b.l.WithField("deviceID", d.id)
	if session, ok := d.Session(); ok {
		l = l.WithField("sessionID", session)
	}

	var errs []error

	if err := d.relay.Stop(); err != nil {
		l.WithError(err).Error("Failed to stop notification relay")
		errs = append(errs, err)
	}

	if err := b.provisioner.Release(d); err != nil {
		l.WithError(err).Error("Failed to release receive queues")
		errs = append(errs, err)
	} else if err := b.provisioner.FreePD(d); err != nil {
		l.WithError(err).Error("Failed to release protection domain")
		errs = append(errs, err)
	}

	d.attached.Store(false)
	d.unbind()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	l.Info("Device closed")
	return nil
}

// CloseAll closes every device that is attached or still holds resources,
// without going through the transport. Used at shutdown.
func (b *Backend) CloseAll() error {
	var g errgroup.Group
	for _, d := range b.registry.Devices() {
		if !d.Attached() && !d.hasResources() {
			continue
		}
		d := d
		g.Go(func() error {
			if err := b.closeDevice(d); err != nil {
				return fmt.Errorf("device %d: %w", d.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
