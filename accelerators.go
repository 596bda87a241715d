package vdpa

import (
	"errors"
	"fmt"
	"io"

	"github.com/shahafsh/virtio-emulation/accel"
	"github.com/shahafsh/virtio-emulation/config"
)

// acceleratorConfig is one entry of the accelerators list.
type acceleratorConfig struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`

	FillKey          uint32 `yaml:"fill_key"`
	FillKeySupported *bool  `yaml:"fill_key_supported"`
	VirtqEmulation   bool   `yaml:"virtq_emulation"`
	MaxVirtqs        uint16 `yaml:"max_virtqs"`
}

func loadAcceleratorConfigs(c *config.C) ([]acceleratorConfig, error) {
	var acs []acceleratorConfig
	if err := c.Decode("accelerators", &acs); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for i, ac := range acs {
		if ac.Name == "" {
			return nil, fmt.Errorf("accelerators[%d]: name is required", i)
		}
		if seen[ac.Name] {
			return nil, fmt.Errorf("accelerators[%d]: duplicate name %q", i, ac.Name)
		}
		seen[ac.Name] = true
	}
	return acs, nil
}

// openAccelerator opens the command channel described by ac.
func openAccelerator(ac acceleratorConfig) (accel.Accelerator, error) {
	switch ac.Backend {
	case "", "emulated":
		var opts []accel.Option
		if ac.FillKey != 0 {
			opts = append(opts, accel.WithFillKey(ac.FillKey))
		}
		if ac.FillKeySupported != nil && !*ac.FillKeySupported {
			opts = append(opts, accel.WithoutFillKeySupport())
		}
		if ac.VirtqEmulation {
			opts = append(opts, accel.WithVirtqEmulation(ac.MaxVirtqs))
		}
		return accel.NewEmulated(ac.Name, opts...)
	default:
		return nil, fmt.Errorf("unknown accelerator backend %q", ac.Backend)
	}
}

// closeAccelerators closes every accelerator that holds a command channel of
// its own.
func closeAccelerators(accels []accel.Accelerator) error {
	var errs []error
	for _, a := range accels {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
