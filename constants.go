package modesetting

import "github.com/btclinux/modesetting/internal/constants"

// Re-exported limits for callers configuring screens.
const (
	// DefaultMaxPending caps outstanding queue entries per screen.
	DefaultMaxPending = constants.DefaultMaxPending

	// DefaultDevicePath is the usual primary card node.
	DefaultDevicePath = constants.DefaultDevicePath

	// EventBufferSize is the read buffer for one drain pass.
	EventBufferSize = constants.EventBufferSize
)
