package modesetting

import (
	"errors"
	"syscall"

	"github.com/btclinux/modesetting/kms"
)

// VblankFlags selects how the target frame count of a vblank wait is
// interpreted by the kernel. Immutable once submitted.
type VblankFlags uint32

const (
	// QueueAbsolute waits until the frame counter reaches the target.
	QueueAbsolute VblankFlags = 0

	// QueueRelative waits for current frame + target.
	QueueRelative VblankFlags = 1 << 0

	// QueueNextOnMiss retargets to the next frame when the requested
	// one has already passed, instead of failing.
	QueueNextOnMiss VblankFlags = 1 << 1
)

// QueueVblank arms a frame-count wait on the CRTC whose completion will
// carry the given sequence number. It returns the frame actually armed,
// which may differ from the request under QueueNextOnMiss.
//
// The modern CRTC_QUEUE_SEQUENCE interface is probed on first use and
// remembered; kernels without it use the legacy 32-bit wait with pipe
// selection bits. A disabled CRTC or an unsupported interface fails
// with ErrCodeVblankUnsupported, even under QueueNextOnMiss: there is
// no next frame on a powered-off output. The
// caller still owns the queue entry for seq and must abort it on
// failure; submission never auto-cancels.
func (s *Screen) QueueVblank(crtc *CRTC, flags VblankFlags, msc uint64, seq uint32) (uint64, error) {
	if !crtc.Enabled() {
		return 0, NewCrtcError("QUEUE_VBLANK", s.index, crtc.id, ErrCodeVblankUnsupported, 0)
	}
	dev := s.device()

	if s.hasQueueSequence || !s.triedQueueSequence {
		var qflags uint32
		if flags&QueueRelative != 0 {
			qflags |= kms.SequenceRelative
		}
		if flags&QueueNextOnMiss != 0 {
			qflags |= kms.SequenceNextOnMiss
		}
		qs := kms.CrtcQueueSequence{
			CrtcID:   crtc.id,
			Flags:    qflags,
			Sequence: msc,
			UserData: uint64(seq),
		}
		err := dev.QueueSequence(&qs)
		if err == nil {
			s.hasQueueSequence = true
			s.triedQueueSequence = true
			s.metrics.VblankRequests.Add(1)
			return qs.Sequence, nil
		}
		if s.hasQueueSequence {
			// Interface is known to work; this is a real failure.
			return 0, vblankError("QUEUE_VBLANK", s.index, crtc.id, err)
		}
		s.triedQueueSequence = true
	}

	typ := kms.VblankEvent | pipeSelect(crtc.pipe)
	var kernelSeq uint32
	if flags&QueueRelative != 0 {
		typ |= kms.VblankRelative
		kernelSeq = uint32(msc)
	} else {
		typ |= kms.VblankAbsolute
		kernelSeq = crtc.crtcMSCToKernelMSC(msc)
	}
	if flags&QueueNextOnMiss != 0 {
		typ |= kms.VblankNextOnMiss
	}

	wv := kms.WaitVblank{
		Type:     typ,
		Sequence: kernelSeq,
		Signal:   uint64(seq),
	}
	if err := dev.WaitVblank(&wv); err != nil {
		return 0, vblankError("QUEUE_VBLANK", s.index, crtc.id, err)
	}
	s.metrics.VblankRequests.Add(1)
	s.metrics.VblankFallbacks.Add(1)
	return crtc.KernelMSCToCrtcMSC(uint64(wv.Sequence), false), nil
}

// GetCrtcUstMsc reads the CRTC's current timestamp (microseconds) and
// 64-bit frame count without arming any event.
func (s *Screen) GetCrtcUstMsc(crtc *CRTC) (ust uint64, msc uint64, err error) {
	dev := s.device()

	if s.hasQueueSequence || !s.triedQueueSequence {
		gs := kms.CrtcGetSequence{CrtcID: crtc.id}
		err := dev.GetSequence(&gs)
		if err == nil {
			s.hasQueueSequence = true
			s.triedQueueSequence = true
			return uint64(gs.SequenceNS) / 1000, gs.Sequence, nil
		}
		if s.hasQueueSequence {
			// The interface is established; a failure here is a real
			// error, not a cue to demote to the legacy path.
			return 0, 0, vblankError("GET_UST_MSC", s.index, crtc.id, err)
		}
		s.triedQueueSequence = true
	}

	// A zero-relative wait completes immediately with the current
	// counter and timestamp.
	wv := kms.WaitVblank{
		Type: kms.VblankRelative | pipeSelect(crtc.pipe),
	}
	if err := dev.WaitVblank(&wv); err != nil {
		return 0, 0, vblankError("GET_UST_MSC", s.index, crtc.id, err)
	}
	ust = uint64(wv.TvalSec())*1000000 + uint64(wv.TvalUsec)
	msc = crtc.KernelMSCToCrtcMSC(uint64(wv.Sequence), false)
	return ust, msc, nil
}

// pipeSelect encodes the CRTC index into the legacy request type bits:
// secondary flag for pipe 1, high-crtc field above that.
func pipeSelect(pipe int) uint32 {
	if pipe > 1 {
		return (uint32(pipe) << kms.VblankHighCrtcShift) & kms.VblankHighCrtcMask
	}
	if pipe > 0 {
		return kms.VblankSecondary
	}
	return 0
}

func vblankError(op string, screen int, crtc uint32, err error) *Error {
	var errno syscall.Errno
	errors.As(err, &errno)
	return NewCrtcError(op, screen, crtc, ErrCodeVblankUnsupported, errno)
}
