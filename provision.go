package vdpa

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/util/virtio"
	"github.com/sirupsen/logrus"
)

// Provisioner creates and destroys the hardware objects behind a device's
// receive path.
type Provisioner struct {
	l logrus.FieldLogger

	// completionQueue is the cqn every receive queue is created with. The
	// targeted accelerator generation has no completion queue for this path,
	// so it is a placeholder unless configured otherwise.
	completionQueue uint32

	rqCreated   metrics.Counter
	rqFailed    metrics.Counter
	rqDestroyed metrics.Counter
	pdFailed    metrics.Counter
}

func NewProvisioner(l logrus.FieldLogger, completionQueue uint32, r metrics.Registry) *Provisioner {
	return &Provisioner{
		l:               l,
		completionQueue: completionQueue,
		rqCreated:       metrics.GetOrRegisterCounter("provision.rq.created", r),
		rqFailed:        metrics.GetOrRegisterCounter("provision.rq.failed", r),
		rqDestroyed:     metrics.GetOrRegisterCounter("provision.rq.destroyed", r),
		pdFailed:        metrics.GetOrRegisterCounter("provision.pd.failed", r),
	}
}

// AllocPD allocates the device's protection domain.
func (p *Provisioner) AllocPD(d *Device) error {
	if d.pd != nil {
		return fmt.Errorf("%w: protection domain %d already allocated", ErrResourceAllocation, d.pd.Number())
	}
	pd, err := d.accel.AllocPD()
	if err != nil {
		p.pdFailed.Inc(1)
		return fmt.Errorf("%w: allocate protection domain: %w", ErrResourceAllocation, err)
	}
	d.pd = pd
	return nil
}

// FreePD destroys the device's protection domain. Every receive queue must have
// been released first.
func (p *Provisioner) FreePD(d *Device) error {
	if d.pd == nil {
		return nil
	}
	if err := d.accel.Destroy(d.pd); err != nil {
		return fmt.Errorf("%w: deallocate protection domain %d: %w", ErrResourceAllocation, d.pd.Number(), err)
	}
	d.pd = nil
	return nil
}

// Provision creates a receive queue for every receive virtqueue the guest set
// up, which are the even indexes. A queue that can not be created is logged and
// skipped. The guest keeps working on it through the notification relay, so
// this is a degraded state and not an error.
func (p *Provisioner) Provision(d *Device, queues []QueueInfo) error {
	if d.pd == nil {
		return fmt.Errorf("%w: no protection domain", ErrResourceAllocation)
	}

	for i, q := range queues {
		if i%2 != 0 {
			continue
		}

		ql := p.l.WithField("deviceID", d.id).WithField("queueIndex", i)
		if i >= len(d.queues) {
			ql.WithField("maxQueuePairs", d.caps.MaxQueuePairs).
				Warn("No hardware queue slot for virtqueue, relaying in software")
			continue
		}

		rq, err := p.createRQ(d, q)
		if err != nil {
			p.rqFailed.Inc(1)
			ql.WithError(err).Error("Failed to create receive queue, continuing without it")
			continue
		}

		d.queues[i] = rxQueue{rqn: rq.Number(), obj: rq}
		p.rqCreated.Inc(1)
		ql.WithField("rqn", rq.Number()).Debug("Created receive queue")
	}

	return nil
}

func (p *Provisioner) createRQ(d *Device, q QueueInfo) (accel.Object, error) {
	logSize, err := virtio.LogQueueSize(int(q.Depth))
	if err != nil {
		return nil, err
	}
	return d.accel.CreateRQ(accel.RQAttr{
		CQN:       p.completionQueue,
		LogWQSize: logSize,
		PDN:       d.pd.Number(),
	})
}

// Release destroys the device's receive queues in index order. The first
// failure stops the release: the failed object is in an unknown state and the
// slot keeps pointing at it. Slots are only cleared for objects that were
// destroyed.
func (p *Provisioner) Release(d *Device) error {
	for i := range d.queues {
		q := &d.queues[i]
		if q.empty() {
			continue
		}
		if err := d.accel.Destroy(q.obj); err != nil {
			return fmt.Errorf("%w: destroy receive queue %d of virtqueue %d: %w", ErrResourceAllocation, q.rqn, i, err)
		}
		*q = rxQueue{}
		p.rqDestroyed.Inc(1)
	}
	return nil
}
