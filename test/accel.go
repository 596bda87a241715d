package test

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shahafsh/virtio-emulation/accel"
)

var ErrInjected = errors.New("injected failure")

// Accelerator wraps a working accelerator and fails the commands it is told
// to. Configure the Fail fields before handing it out.
type Accelerator struct {
	accel.Accelerator

	FailGeneralCaps bool
	FailFillKey     bool
	FailEmuCaps     bool
	FailAllocPD     bool
	// FailCreateRQ holds the 0 based CreateRQ call numbers that fail.
	FailCreateRQ map[int]bool
	// FailDestroy is asked before every Destroy.
	FailDestroy func(accel.Object) bool

	mu          sync.Mutex
	createCalls int
	rqAttrs     []accel.RQAttr
}

func (a *Accelerator) QueryGeneralCaps() (accel.GeneralCaps, error) {
	if a.FailGeneralCaps {
		return accel.GeneralCaps{}, fmt.Errorf("query general caps: %w", ErrInjected)
	}
	return a.Accelerator.QueryGeneralCaps()
}

func (a *Accelerator) QueryFillKey() (uint32, error) {
	if a.FailFillKey {
		return 0, fmt.Errorf("query fill key: %w", ErrInjected)
	}
	return a.Accelerator.QueryFillKey()
}

func (a *Accelerator) QueryEmulationCaps() (accel.EmulationCaps, error) {
	if a.FailEmuCaps {
		return accel.EmulationCaps{}, fmt.Errorf("query emulation caps: %w", ErrInjected)
	}
	return a.Accelerator.QueryEmulationCaps()
}

func (a *Accelerator) AllocPD() (accel.Object, error) {
	if a.FailAllocPD {
		return nil, fmt.Errorf("alloc pd: %w", ErrInjected)
	}
	return a.Accelerator.AllocPD()
}

func (a *Accelerator) CreateRQ(attr accel.RQAttr) (accel.Object, error) {
	a.mu.Lock()
	n := a.createCalls
	a.createCalls++
	a.mu.Unlock()

	if a.FailCreateRQ[n] {
		return nil, fmt.Errorf("create rq: %w", ErrInjected)
	}

	obj, err := a.Accelerator.CreateRQ(attr)
	if err == nil {
		a.mu.Lock()
		a.rqAttrs = append(a.rqAttrs, attr)
		a.mu.Unlock()
	}
	return obj, err
}

func (a *Accelerator) Destroy(obj accel.Object) error {
	if a.FailDestroy != nil && a.FailDestroy(obj) {
		return fmt.Errorf("destroy %d: %w", obj.Number(), ErrInjected)
	}
	return a.Accelerator.Destroy(obj)
}

// CreateRQCalls returns how many times CreateRQ was called.
func (a *Accelerator) CreateRQCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createCalls
}

// RQAttrs returns the attributes of every receive queue that was created.
func (a *Accelerator) RQAttrs() []accel.RQAttr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]accel.RQAttr(nil), a.rqAttrs...)
}
