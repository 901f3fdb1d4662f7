package modesetting

import (
	"encoding/binary"

	"github.com/btclinux/modesetting/kms"
)

// MockDevice is an in-memory kms.Device for testing queue behavior
// without a card node. Submissions are recorded, per-method errors can
// be scripted, and completion records are injected with the Emit
// helpers as the same wire bytes a real device produces.
type MockDevice struct {
	DevicePath string
	Fd         int
	Closed     bool

	// Scripted errors; nil means the call succeeds.
	WaitVblankErr    error
	QueueSequenceErr error
	GetSequenceErr   error
	PageFlipErr      error
	SetPropertyErr   error
	ReadErr          error

	// Optional hooks overriding the default reply behavior.
	WaitVblankFunc    func(wv *kms.WaitVblank) error
	QueueSequenceFunc func(qs *kms.CrtcQueueSequence) error
	PageFlipFunc      func(pf *kms.PageFlipRequest) error

	// Recorded submissions, in order.
	VblankRequests   []kms.WaitVblank
	SequenceRequests []kms.CrtcQueueSequence
	FlipRequests     []kms.PageFlipRequest
	PropertyWrites   []kms.ObjSetProperty

	// Properties served by ObjectProperties, keyed by object id.
	Properties map[uint32][]kms.Property

	// Reply state for WaitVblank / QueueSequence / GetSequence.
	CurrentSequence uint64
	CurrentNS       int64

	pending []byte
}

// NewMockDevice creates a mock backed by no descriptor.
func NewMockDevice(path string) *MockDevice {
	return &MockDevice{
		DevicePath: path,
		Fd:         -1,
		Properties: make(map[uint32][]kms.Property),
	}
}

// MockOpener returns a RegistryConfig opener that hands out the given
// devices by path.
func MockOpener(devices ...*MockDevice) func(path string) (kms.Device, error) {
	byPath := make(map[string]*MockDevice, len(devices))
	for _, d := range devices {
		byPath[d.DevicePath] = d
	}
	return func(path string) (kms.Device, error) {
		if d, ok := byPath[path]; ok {
			d.Closed = false
			return d, nil
		}
		return nil, &Error{Op: "DEVICE_OPEN", Screen: -1, Code: ErrCodeDeviceOpen, Msg: "cannot open " + path}
	}
}

func (d *MockDevice) FD() int      { return d.Fd }
func (d *MockDevice) Path() string { return d.DevicePath }

func (d *MockDevice) WaitVblank(wv *kms.WaitVblank) error {
	if d.WaitVblankFunc != nil {
		return d.WaitVblankFunc(wv)
	}
	if d.WaitVblankErr != nil {
		return d.WaitVblankErr
	}
	d.VblankRequests = append(d.VblankRequests, *wv)
	// Reply with the frame the request resolves to.
	if wv.Type&kms.VblankRelative != 0 {
		wv.Sequence = uint32(d.CurrentSequence) + wv.Sequence
	}
	return nil
}

func (d *MockDevice) QueueSequence(qs *kms.CrtcQueueSequence) error {
	if d.QueueSequenceFunc != nil {
		return d.QueueSequenceFunc(qs)
	}
	if d.QueueSequenceErr != nil {
		return d.QueueSequenceErr
	}
	d.SequenceRequests = append(d.SequenceRequests, *qs)
	if qs.Flags&kms.SequenceRelative != 0 {
		qs.Sequence = d.CurrentSequence + qs.Sequence
	} else if qs.Flags&kms.SequenceNextOnMiss != 0 && qs.Sequence <= d.CurrentSequence {
		qs.Sequence = d.CurrentSequence + 1
	}
	return nil
}

func (d *MockDevice) GetSequence(gs *kms.CrtcGetSequence) error {
	if d.GetSequenceErr != nil {
		return d.GetSequenceErr
	}
	gs.Sequence = d.CurrentSequence
	gs.SequenceNS = d.CurrentNS
	return nil
}

func (d *MockDevice) PageFlip(pf *kms.PageFlipRequest) error {
	if d.PageFlipFunc != nil {
		return d.PageFlipFunc(pf)
	}
	if d.PageFlipErr != nil {
		return d.PageFlipErr
	}
	d.FlipRequests = append(d.FlipRequests, *pf)
	return nil
}

func (d *MockDevice) SetProperty(sp *kms.ObjSetProperty) error {
	if d.SetPropertyErr != nil {
		return d.SetPropertyErr
	}
	d.PropertyWrites = append(d.PropertyWrites, *sp)
	return nil
}

func (d *MockDevice) ObjectProperties(objID, objType uint32) ([]kms.Property, error) {
	return d.Properties[objID], nil
}

// ReadEvents hands back everything emitted since the last drain, then
// reports empty like a nonblocking card fd.
func (d *MockDevice) ReadEvents(buf []byte) (int, error) {
	if d.ReadErr != nil {
		return 0, d.ReadErr
	}
	if len(d.pending) == 0 {
		return 0, kms.ErrNoEvents
	}
	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *MockDevice) Close() error {
	d.Closed = true
	return nil
}

// EmitVblank queues a legacy vblank completion record.
func (d *MockDevice) EmitVblank(userData uint64, sequence uint32, tvSec, tvUsec uint32) {
	d.emitLegacy(kms.EventTypeVblank, userData, sequence, tvSec, tvUsec)
}

// EmitFlipComplete queues a page-flip completion record.
func (d *MockDevice) EmitFlipComplete(userData uint64, sequence uint32, tvSec, tvUsec uint32) {
	d.emitLegacy(kms.EventTypeFlipComplete, userData, sequence, tvSec, tvUsec)
}

func (d *MockDevice) emitLegacy(typ uint32, userData uint64, sequence uint32, tvSec, tvUsec uint32) {
	record := make([]byte, 32)
	le := binary.LittleEndian
	le.PutUint32(record[0:], typ)
	le.PutUint32(record[4:], 32)
	le.PutUint64(record[8:], userData)
	le.PutUint32(record[16:], tvSec)
	le.PutUint32(record[20:], tvUsec)
	le.PutUint32(record[24:], sequence)
	d.pending = append(d.pending, record...)
}

// EmitCrtcSequence queues a 64-bit sequence completion record.
func (d *MockDevice) EmitCrtcSequence(userData uint64, sequence uint64, timeNS int64) {
	record := make([]byte, 32)
	le := binary.LittleEndian
	le.PutUint32(record[0:], kms.EventTypeCrtcSequence)
	le.PutUint32(record[4:], 32)
	le.PutUint64(record[8:], userData)
	le.PutUint64(record[16:], uint64(timeNS))
	le.PutUint64(record[24:], sequence)
	d.pending = append(d.pending, record...)
}

// EmitRaw queues arbitrary bytes, for malformed-record tests.
func (d *MockDevice) EmitRaw(record []byte) {
	d.pending = append(d.pending, record...)
}

var _ kms.Device = (*MockDevice)(nil)
