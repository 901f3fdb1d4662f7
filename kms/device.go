package kms

import "errors"

// ErrNoEvents is returned by ReadEvents when the card has no completion
// records pending. It marks the end of a drain pass, not a failure.
var ErrNoEvents = errors.New("kms: no events pending")

// Device is the open connection to a kernel graphics device node. One
// Device may be shared by several logical screens; the registry in the
// root package owns that sharing.
//
// All submission methods return the raw kernel errno wrapped in an
// *os.SyscallError-compatible error; classification into driver error
// codes happens in the root package, never here.
type Device interface {
	// FD returns the underlying descriptor, used for wakeup registration.
	FD() int

	// Path returns the device node path this Device was opened from.
	Path() string

	// WaitVblank submits a legacy frame-count wait. With VblankEvent set
	// the kernel queues a completion record instead of blocking; the
	// reply fields report the frame actually armed.
	WaitVblank(wv *WaitVblank) error

	// QueueSequence submits a 64-bit CRTC sequence wait. Kernels without
	// the interface fail with ENOTTY/EOPNOTSUPP.
	QueueSequence(qs *CrtcQueueSequence) error

	// GetSequence reads the current 64-bit frame count and timestamp.
	GetSequence(gs *CrtcGetSequence) error

	// PageFlip submits a buffer swap on one CRTC.
	PageFlip(pf *PageFlipRequest) error

	// SetProperty writes a KMS object property.
	SetProperty(sp *ObjSetProperty) error

	// ObjectProperties resolves all properties of a KMS object to
	// (id, name, current value) triples.
	ObjectProperties(objID, objType uint32) ([]Property, error)

	// ReadEvents fills buf with raw completion records. Returns
	// ErrNoEvents once the device is drained. Never blocks.
	ReadEvents(buf []byte) (int, error)

	// Close releases the descriptor.
	Close() error
}

// Property is a resolved KMS object property.
type Property struct {
	ID    uint32
	Name  string
	Value uint64
}

// FindProperty returns the property with the given name, or nil.
func FindProperty(props []Property, name string) *Property {
	for i := range props {
		if props[i].Name == name {
			return &props[i]
		}
	}
	return nil
}
