package modesetting

import "github.com/btclinux/modesetting/internal/constants"

// CRTC is the driver core's view of one display pipeline: identity,
// on/off state, its vblank pipe index on the device, and the running
// 32-bit frame counter fixup. Configuration (modes, gamma, planes) lives
// with the output layer; the queue only targets and matches against it.
type CRTC struct {
	id        uint32
	pipe      int
	connector uint32
	enabled   bool

	// 32-bit kernel counter unwrap state
	mscPrev uint32
	mscHigh uint64

	// Variable refresh property on this CRTC, 0 when absent
	vrrPropID uint32
}

// NewCRTC creates a CRTC reference. id is the KMS object id, pipe its
// index among the device's CRTCs, connector the KMS connector id driving
// it (0 when unknown).
func NewCRTC(id uint32, pipe int, connector uint32) *CRTC {
	return &CRTC{
		id:        id,
		pipe:      pipe,
		connector: connector,
	}
}

// ID returns the KMS object id.
func (c *CRTC) ID() uint32 {
	return c.id
}

// Pipe returns the vblank pipe index.
func (c *CRTC) Pipe() int {
	return c.pipe
}

// Enabled reports whether the CRTC is currently scanning out.
func (c *CRTC) Enabled() bool {
	return c.enabled
}

// SetEnabled records the on/off state. Called by the output layer on
// DPMS and mode changes; pending requests for a disabled CRTC are the
// caller's to abort.
func (c *CRTC) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// KernelMSCToCrtcMSC widens a kernel frame counter to the monotonic
// 64-bit MSC. The legacy vblank interface reports 32 bits, which wrap
// roughly every 2.3 years at 60Hz but immediately after a counter reset;
// a large backwards jump is treated as a wrap. 64-bit counters pass
// through untouched.
func (c *CRTC) KernelMSCToCrtcMSC(sequence uint64, is64 bool) uint64 {
	if is64 {
		return sequence
	}
	seq := uint32(sequence)
	// A small backwards step is event reordering; anything further back
	// than the threshold means the counter wrapped.
	if seq < c.mscPrev && c.mscPrev-seq > constants.WrapThreshold {
		c.mscHigh += 1 << 32
	}
	c.mscPrev = seq
	return c.mscHigh + uint64(seq)
}

// crtcMSCToKernelMSC narrows a 64-bit MSC target to the 32-bit value
// the legacy interface accepts, relative to the current unwrap window.
// Targets outside the window clamp to the nearest representable frame.
func (c *CRTC) crtcMSCToKernelMSC(msc uint64) uint32 {
	if msc < c.mscHigh {
		return 0
	}
	delta := msc - c.mscHigh
	if delta > constants.MaxVblank32 {
		return constants.MaxVblank32
	}
	return uint32(delta)
}
