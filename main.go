package vdpa

import (
	"context"
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/config"
	"github.com/shahafsh/virtio-emulation/util"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// Main sets up the backend from config: logging, stats and one registered
// device per configured accelerator. t may be nil and attached later through
// Backend.SetTransport. Nothing runs until Control.Start is called.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, t Transport) (retcon *Control, reterr error) {
	ctx, cancel := context.WithCancel(context.Background())
	// Automatically cancel the context if Main returns an error, to signal all created goroutines to quit.
	defer func() {
		if reterr != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
		if c.HasChanged("rx") || c.HasChanged("accelerators") {
			l.Warn("Changes to rx and accelerators require a restart")
		}
	})

	acs, err := loadAcceleratorConfigs(c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load accelerators from config", nil, err)
	}
	if len(acs) == 0 {
		l.Warn("No accelerators configured")
	}

	r := metrics.NewRegistry()
	backend := NewBackend(l, NewRegistry(), BackendConfig{
		CompletionQueue: c.GetUint32("rx.completion_queue", 0),
		Metrics:         r,
	})
	if t != nil {
		backend.SetTransport(t)
	}

	var accels []accel.Accelerator
	defer func() {
		if reterr != nil {
			if err := closeAccelerators(accels); err != nil {
				l.WithError(err).Error("Failed to close accelerators")
			}
		}
	}()

	for _, ac := range acs {
		a, err := openAccelerator(ac)
		if err != nil {
			return nil, util.NewContextualError("Failed to open accelerator",
				logrus.Fields{"accelerator": ac.Name, "backend": ac.Backend}, err)
		}
		accels = append(accels, a)

		if _, err := backend.Register(a); err != nil {
			return nil, util.NewContextualError("Failed to register accelerator",
				logrus.Fields{"accelerator": ac.Name}, err)
		}
	}

	statsStart, err := startStats(l, c, r, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	if configTest {
		if err := closeAccelerators(accels); err != nil {
			return nil, fmt.Errorf("close accelerators: %w", err)
		}
		cancel()
		return nil, nil
	}

	c.CatchHUP(ctx)

	return &Control{
		l:            l,
		backend:      backend,
		accelerators: accels,
		cancel:       cancel,
		statsStart:   statsStart,
	}, nil
}
