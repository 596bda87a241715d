package vdpa

import (
	"testing"

	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/test"
	"github.com/shahafsh/virtio-emulation/util/virtio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmulated(t *testing.T, name string, opts ...accel.Option) *accel.Emulated {
	t.Helper()
	emu, err := accel.NewEmulated(name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, emu.Close()) })
	return emu
}

func TestNegotiate(t *testing.T) {
	emu := newEmulated(t, "emu0", accel.WithFillKey(0x1234))

	caps, err := Negotiate(emu)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{
		MaxQueuePairs:    1,
		Features:         virtio.Feature(1<<32 | 1<<30),
		ProtocolFeatures: virtio.ProtocolFeature(1<<5 | 1<<10 | 1<<11),
		FillKey:          0x1234,
	}, caps)

	again, err := Negotiate(emu)
	require.NoError(t, err)
	assert.Equal(t, caps, again)
}

func TestNegotiate_VirtqEmulation(t *testing.T) {
	caps, err := Negotiate(newEmulated(t, "emu0", accel.WithVirtqEmulation(8)))
	require.NoError(t, err)
	assert.True(t, caps.VirtqEmulation)
	assert.Equal(t, uint16(4), caps.MaxQueuePairs)
	assert.Len(t, newDevice(nil, caps).queues, 8)

	// A single virtqueue can not form a pair, the software limit applies
	caps, err = Negotiate(newEmulated(t, "emu1", accel.WithVirtqEmulation(1)))
	require.NoError(t, err)
	assert.True(t, caps.VirtqEmulation)
	assert.Equal(t, uint16(1), caps.MaxQueuePairs)
	assert.Len(t, newDevice(nil, caps).queues, 2)
}

func TestNegotiate_Failures(t *testing.T) {
	_, err := Negotiate(newEmulated(t, "old", accel.WithoutFillKeySupport()))
	assert.ErrorIs(t, err, ErrCapabilityUnsupported)
	assert.NotErrorIs(t, err, ErrCapabilityQuery)

	emu := newEmulated(t, "emu0", accel.WithVirtqEmulation(8))
	for name, fa := range map[string]*test.Accelerator{
		"general caps":   {Accelerator: emu, FailGeneralCaps: true},
		"fill key":       {Accelerator: emu, FailFillKey: true},
		"emulation caps": {Accelerator: emu, FailEmuCaps: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Negotiate(fa)
			assert.ErrorIs(t, err, ErrCapabilityQuery)
			assert.ErrorIs(t, err, test.ErrInjected)
			assert.NotErrorIs(t, err, ErrCapabilityUnsupported)
		})
	}
}
