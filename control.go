package vdpa

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/sirupsen/logrus"
)

// Control is the handle Main returns to run and stop the backend.
type Control struct {
	l            *logrus.Logger
	backend      *Backend
	accelerators []accel.Accelerator
	cancel       context.CancelFunc
	statsStart   func()
}

type ControlDeviceInfo struct {
	ID               DeviceID `json:"id"`
	Accelerator      string   `json:"accelerator"`
	Attached         bool     `json:"attached"`
	MaxQueuePairs    uint16   `json:"maxQueuePairs"`
	VirtqEmulation   bool     `json:"virtqEmulation"`
	Features         string   `json:"features"`
	ProtocolFeatures string   `json:"protocolFeatures"`
}

// Start starts the stats exporter. Devices become usable as soon as the
// transport calls Configure, this is a nonblocking call. To block use
// Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}
	c.l.WithField("devices", len(c.backend.Registry().Devices())).Info("Backend started")
}

// Stop closes every configured device and the accelerators, returns after the
// shutdown is complete
func (c *Control) Stop() {
	c.cancel()

	if err := c.backend.CloseAll(); err != nil {
		c.l.WithError(err).Error("Failed to close all devices")
	}
	if err := closeAccelerators(c.accelerators); err != nil {
		c.l.WithError(err).Error("Failed to close accelerators")
	}
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}

func (c *Control) Backend() *Backend {
	return c.backend
}

// Ops returns the operation table to hand to the virtio transport.
func (c *Control) Ops() Ops {
	return c.backend
}

// ListDevices returns a summary of every registered device.
func (c *Control) ListDevices() []ControlDeviceInfo {
	devices := c.backend.Registry().Devices()
	out := make([]ControlDeviceInfo, 0, len(devices))
	for _, d := range devices {
		caps := d.Capabilities()
		out = append(out, ControlDeviceInfo{
			ID:               d.ID(),
			Accelerator:      d.Accelerator().Name(),
			Attached:         d.Attached(),
			MaxQueuePairs:    caps.MaxQueuePairs,
			VirtqEmulation:   caps.VirtqEmulation,
			Features:         caps.Features.String(),
			ProtocolFeatures: caps.ProtocolFeatures.String(),
		})
	}
	return out
}
