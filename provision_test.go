package vdpa

import (
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuesOfDepth(n int, depth uint16) []QueueInfo {
	queues := make([]QueueInfo, n)
	for i := range queues {
		queues[i] = QueueInfo{Depth: depth, KickFD: -1, CallFD: -1}
	}
	return queues
}

func newTestDevice(t *testing.T, a accel.Accelerator) *Device {
	t.Helper()
	caps, err := Negotiate(a)
	require.NoError(t, err)
	return newDevice(a, caps)
}

func TestProvisioner_Provision(t *testing.T) {
	fa := &test.Accelerator{Accelerator: newEmulated(t, "emu0")}
	d := newTestDevice(t, fa)
	r := metrics.NewRegistry()
	p := NewProvisioner(test.NewLogger(), 0, r)

	require.NoError(t, p.AllocPD(d))
	require.NoError(t, p.Provision(d, queuesOfDepth(2, 256)))

	assert.Equal(t, []int{0}, d.ProvisionedQueues())
	assert.NotZero(t, d.queues[0].rqn)
	assert.True(t, d.queues[1].empty())
	assert.Equal(t, []accel.RQAttr{{CQN: 0, LogWQSize: 8, PDN: d.pd.Number()}}, fa.RQAttrs())
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("provision.rq.created", r).Count())

	require.NoError(t, p.Release(d))
	assert.Empty(t, d.ProvisionedQueues())
	assert.Zero(t, d.queues[0].rqn)
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("provision.rq.destroyed", r).Count())

	require.NoError(t, p.FreePD(d))
	assert.Nil(t, d.pd)
	assert.Zero(t, fa.Accelerator.(*accel.Emulated).Live())

	// Nothing to free
	assert.NoError(t, p.FreePD(d))
}

func TestProvisioner_CompletionQueue(t *testing.T) {
	fa := &test.Accelerator{Accelerator: newEmulated(t, "emu0")}
	d := newTestDevice(t, fa)
	p := NewProvisioner(test.NewLogger(), 42, metrics.NewRegistry())

	require.NoError(t, p.AllocPD(d))
	require.NoError(t, p.Provision(d, queuesOfDepth(1, 1024)))
	require.Len(t, fa.RQAttrs(), 1)
	assert.Equal(t, uint32(42), fa.RQAttrs()[0].CQN)
	assert.Equal(t, uint8(10), fa.RQAttrs()[0].LogWQSize)
}

func TestProvisioner_AllocPD(t *testing.T) {
	r := metrics.NewRegistry()
	p := NewProvisioner(test.NewLogger(), 0, r)

	fa := &test.Accelerator{Accelerator: newEmulated(t, "emu0"), FailAllocPD: true}
	d := newTestDevice(t, fa)
	assert.ErrorIs(t, p.AllocPD(d), ErrResourceAllocation)
	assert.Nil(t, d.pd)
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("provision.pd.failed", r).Count())

	// No queue is attempted without a protection domain
	assert.ErrorIs(t, p.Provision(d, queuesOfDepth(2, 256)), ErrResourceAllocation)
	assert.Zero(t, fa.CreateRQCalls())

	fa.FailAllocPD = false
	require.NoError(t, p.AllocPD(d))
	assert.ErrorIs(t, p.AllocPD(d), ErrResourceAllocation, "second protection domain")
}

func TestProvisioner_PartialFailure(t *testing.T) {
	// Second CreateRQ call is virtqueue 2
	fa := &test.Accelerator{
		Accelerator:  newEmulated(t, "emu0", accel.WithVirtqEmulation(8)),
		FailCreateRQ: map[int]bool{1: true},
	}
	d := newTestDevice(t, fa)
	l, hook := test.NewLoggerWithHook()
	r := metrics.NewRegistry()
	p := NewProvisioner(l, 0, r)

	require.NoError(t, p.AllocPD(d))
	require.NoError(t, p.Provision(d, queuesOfDepth(6, 256)))

	assert.Equal(t, []int{0, 4}, d.ProvisionedQueues())
	assert.Equal(t, 3, fa.CreateRQCalls())

	errs := test.Entries(hook, logrus.ErrorLevel)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Data["queueIndex"])
	assert.Equal(t, int64(1), metrics.GetOrRegisterCounter("provision.rq.failed", r).Count())
	assert.Equal(t, int64(2), metrics.GetOrRegisterCounter("provision.rq.created", r).Count())
}

func TestProvisioner_InvalidDepth(t *testing.T) {
	fa := &test.Accelerator{Accelerator: newEmulated(t, "emu0")}
	d := newTestDevice(t, fa)
	l, hook := test.NewLoggerWithHook()
	p := NewProvisioner(l, 0, metrics.NewRegistry())

	require.NoError(t, p.AllocPD(d))
	require.NoError(t, p.Provision(d, queuesOfDepth(2, 100)))

	assert.Empty(t, d.ProvisionedQueues())
	assert.Zero(t, fa.CreateRQCalls())
	assert.Len(t, test.Entries(hook, logrus.ErrorLevel), 1)
}

func TestProvisioner_BeyondCapacity(t *testing.T) {
	fa := &test.Accelerator{Accelerator: newEmulated(t, "emu0")}
	d := newTestDevice(t, fa)
	require.Len(t, d.queues, 2)

	l, hook := test.NewLoggerWithHook()
	p := NewProvisioner(l, 0, metrics.NewRegistry())

	require.NoError(t, p.AllocPD(d))
	require.NoError(t, p.Provision(d, queuesOfDepth(4, 256)))

	assert.Equal(t, []int{0}, d.ProvisionedQueues())
	assert.Equal(t, 1, fa.CreateRQCalls())

	warns := test.Entries(hook, logrus.WarnLevel)
	require.Len(t, warns, 1)
	assert.Equal(t, 2, warns[0].Data["queueIndex"])
	assert.Empty(t, test.Entries(hook, logrus.ErrorLevel))
}

func TestProvisioner_ReleaseStopsAtFirstFailure(t *testing.T) {
	emu := newEmulated(t, "emu0", accel.WithVirtqEmulation(8))
	fa := &test.Accelerator{Accelerator: emu}
	d := newTestDevice(t, fa)
	p := NewProvisioner(test.NewLogger(), 0, metrics.NewRegistry())

	require.NoError(t, p.AllocPD(d))
	require.NoError(t, p.Provision(d, queuesOfDepth(6, 256)))
	require.Equal(t, []int{0, 2, 4}, d.ProvisionedQueues())

	stuck := d.queues[2].rqn
	fa.FailDestroy = func(obj accel.Object) bool {
		return obj != d.pd && obj.Number() == stuck
	}

	assert.ErrorIs(t, p.Release(d), ErrResourceAllocation)
	assert.Equal(t, []int{2, 4}, d.ProvisionedQueues())
	assert.Equal(t, stuck, d.queues[2].rqn)

	// The protection domain can not go while queues reference it
	assert.Error(t, p.FreePD(d))
	assert.NotNil(t, d.pd)

	fa.FailDestroy = nil
	require.NoError(t, p.Release(d))
	require.NoError(t, p.FreePD(d))
	assert.Zero(t, emu.Live())
}
