package constants

// Default configuration constants
const (
	// DefaultMaxPending is the default cap on outstanding queue entries
	// per screen. Sequence allocation fails once this many requests are
	// in flight, which in practice only happens when a consumer leaks
	// entries without ever flushing or aborting them.
	DefaultMaxPending = 4096

	// EventBufferSize is the read buffer size for draining kernel event
	// records. Each record is at most 32 bytes, so one read can carry
	// well over a hundred completions.
	EventBufferSize = 4096

	// DefaultDevicePath is the primary card node most systems expose.
	DefaultDevicePath = "/dev/dri/card0"

	// InvalidPipe marks a flip that has no timing reference CRTC.
	InvalidPipe = -1
)

// Vblank counter constants
const (
	// MaxVblank32 is the largest sequence value representable in the
	// legacy 32-bit WAIT_VBLANK interface.
	MaxVblank32 = 0xffffffff

	// WrapThreshold is how far backwards the 32-bit kernel counter must
	// jump before it is treated as a wraparound rather than reordering.
	WrapThreshold = 0x40000000
)
