package accel

import "errors"

type optionValues struct {
	fillKeySupported bool
	fillKey          uint32
	virtqEmulation   bool
	maxVirtqs        uint16
}

func (o *optionValues) apply(options []Option) {
	for _, option := range options {
		option(o)
	}
}

func (o *optionValues) validate() error {
	if o.virtqEmulation && o.maxVirtqs == 0 {
		return errors.New("max virtqueues is required with virtqueue emulation")
	}
	return nil
}

var optionDefaults = optionValues{
	fillKeySupported: true,
}

// Option can be passed to [NewEmulated] to shape the capabilities the
// emulated accelerator reports.
type Option func(*optionValues)

// WithFillKey returns an [Option] that sets the fill key returned by
// [Emulated.QueryFillKey].
func WithFillKey(key uint32) Option {
	return func(o *optionValues) { o.fillKey = key }
}

// WithoutFillKeySupport returns an [Option] that makes the general capability
// query report no fill key, like older firmware does.
func WithoutFillKeySupport() Option {
	return func(o *optionValues) { o.fillKeySupported = false }
}

// WithVirtqEmulation returns an [Option] that advertises virtqueue-object
// emulation with the given maximum number of virtqueues.
func WithVirtqEmulation(maxVirtqs uint16) Option {
	return func(o *optionValues) {
		o.virtqEmulation = true
		o.maxVirtqs = maxVirtqs
	}
}
