package accel

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type objectKind int

const (
	kindPD objectKind = iota
	kindRQ
)

func (k objectKind) String() string {
	switch k {
	case kindPD:
		return "pd"
	case kindRQ:
		return "rq"
	}
	return "unknown"
}

type emulatedObject struct {
	kind   objectKind
	number uint32
	attr   RQAttr
}

func (o *emulatedObject) Number() uint32 {
	return o.number
}

// Emulated is a software accelerator. It keeps its objects in memory and backs
// the command channel with a memfd that is large enough to cover the doorbell
// page, so the doorbell region can be mapped and written like the real one.
type Emulated struct {
	name string
	fd   int
	opts optionValues

	mu      sync.Mutex
	nextPDN uint32
	nextRQN uint32
	live    map[*emulatedObject]struct{}
}

// NewEmulated creates a software accelerator. Remember to call
// [Emulated.Close] after use to release the command channel.
func NewEmulated(name string, options ...Option) (*Emulated, error) {
	opts := optionDefaults
	opts.apply(options)
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	fd, err := unix.MemfdCreate("vdpa-"+name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create command channel: %w", err)
	}

	// Only the doorbell page is ever touched, the file stays sparse.
	size := int64(NotifyPageIndex(0)+1) * int64(os.Getpagesize())
	if err = unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("size command channel: %w", err)
	}

	return &Emulated{
		name:    name,
		fd:      fd,
		opts:    opts,
		nextPDN: 1,
		nextRQN: 1,
		live:    make(map[*emulatedObject]struct{}),
	}, nil
}

func (e *Emulated) Name() string {
	return e.name
}

func (e *Emulated) CommandFD() int {
	return e.fd
}

func (e *Emulated) QueryGeneralCaps() (GeneralCaps, error) {
	caps := GeneralCaps{FillKey: e.opts.fillKeySupported}
	if e.opts.virtqEmulation {
		caps.ObjectTypes |= ObjectTypeVirtq
	}
	return caps, nil
}

func (e *Emulated) QueryFillKey() (uint32, error) {
	if !e.opts.fillKeySupported {
		return 0, fmt.Errorf("%w: query special contexts: no fill key", ErrCommandFailed)
	}
	return e.opts.fillKey, nil
}

func (e *Emulated) QueryEmulationCaps() (EmulationCaps, error) {
	if !e.opts.virtqEmulation {
		return EmulationCaps{}, fmt.Errorf("%w: device emulation caps not supported", ErrCommandFailed)
	}
	return EmulationCaps{MaxVirtqs: e.opts.maxVirtqs}, nil
}

func (e *Emulated) AllocPD() (Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obj := &emulatedObject{kind: kindPD, number: e.nextPDN}
	e.nextPDN++
	e.live[obj] = struct{}{}
	return obj, nil
}

func (e *Emulated) CreateRQ(attr RQAttr) (Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasPD(attr.PDN) {
		return nil, fmt.Errorf("%w: create rq: unknown pd %d", ErrCommandFailed, attr.PDN)
	}
	// The work queue size field is 5 bits wide.
	if attr.LogWQSize > 31 {
		return nil, fmt.Errorf("%w: create rq: log_wq_sz %d out of range", ErrCommandFailed, attr.LogWQSize)
	}

	obj := &emulatedObject{kind: kindRQ, number: e.nextRQN, attr: attr}
	e.nextRQN++
	e.live[obj] = struct{}{}
	return obj, nil
}

func (e *Emulated) Destroy(obj Object) error {
	o, ok := obj.(*emulatedObject)
	if !ok {
		return fmt.Errorf("%w: destroy: foreign object %T", ErrCommandFailed, obj)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.live[o]; !ok {
		return fmt.Errorf("%w: destroy %s %d: no such object", ErrCommandFailed, o.kind, o.number)
	}
	if o.kind == kindPD {
		for other := range e.live {
			if other.kind == kindRQ && other.attr.PDN == o.number {
				return fmt.Errorf("%w: destroy pd %d: still referenced by rq %d", ErrCommandFailed, o.number, other.number)
			}
		}
	}
	delete(e.live, o)
	return nil
}

// Live returns the number of objects that were created and not destroyed yet.
func (e *Emulated) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Close releases the command channel.
func (e *Emulated) Close() error {
	if e.fd < 0 {
		return nil
	}
	if err := unix.Close(e.fd); err != nil {
		return fmt.Errorf("close command channel: %w", err)
	}
	e.fd = -1
	return nil
}

func (e *Emulated) hasPD(pdn uint32) bool {
	for o := range e.live {
		if o.kind == kindPD && o.number == pdn {
			return true
		}
	}
	return false
}
