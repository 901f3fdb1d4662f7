package modesetting

import (
	"errors"
	"syscall"

	"github.com/btclinux/modesetting/kms"
)

// flipData is the shared state of one logical page flip fanned out over
// every enabled CRTC in clone mode. The last per-CRTC completion or
// abort to drop the reference count fires the user callback, so the
// callback pair runs exactly once however the individual flips resolve.
type flipData struct {
	payload any
	handler HandlerFunc
	abort   AbortFunc

	refs int

	// Timing reported by the reference CRTC, the one the client is
	// actually synchronized to.
	frame uint64
	usec  uint64
}

// flipEntry is the per-CRTC payload tracked in the completion queue.
type flipEntry struct {
	data *flipData
	ref  bool
}

func flipHandler(frame uint64, usec uint64, payload any) {
	fe := payload.(*flipEntry)
	if fe.ref {
		fe.data.frame = frame
		fe.data.usec = usec
	}
	fe.data.refs--
	if fe.data.refs == 0 && fe.data.handler != nil {
		fe.data.handler(fe.data.frame, fe.data.usec, fe.data.payload)
	}
}

func flipAbort(payload any) {
	fe := payload.(*flipEntry)
	fe.data.refs--
	if fe.data.refs == 0 && fe.data.abort != nil {
		fe.data.abort(fe.data.payload)
	}
}

// PageFlip swaps the screen's scanout to the given framebuffer on every
// enabled CRTC, arming a completion record per CRTC. The reference pipe
// is the CRTC whose completion supplies the frame count and timestamp
// handed to the handler; the handler runs once all per-CRTC flips have
// resolved.
//
// Secondary CRTCs flip asynchronously when variable refresh is enabled
// so a slow clone cannot stall the reference output. Any mid-fanout
// failure, a kernel rejection included, unwinds every per-CRTC entry
// armed so far without firing the callback pair and returns the error;
// the caller reports the failure through its own abort path, and late
// kernel records for the unwound flips are stale. The callbacks run at
// most once per call, never after a failure return.
func (s *Screen) PageFlip(fbID uint32, payload any, refPipe int, async bool, handler HandlerFunc, abort AbortFunc, logPrefix string) error {
	logger := s.logger
	if logPrefix != "" {
		logger = logger.WithPrefix(logPrefix)
	}

	var targets []*CRTC
	for _, crtc := range s.crtcs {
		if crtc.Enabled() {
			targets = append(targets, crtc)
		}
	}
	if len(targets) == 0 {
		return NewScreenError("PAGE_FLIP", s.index, ErrCodeFlipRejected,
			"no enabled CRTC to flip")
	}

	data := &flipData{
		payload: payload,
		handler: handler,
		abort:   abort,
		refs:    len(targets),
	}

	dev := s.device()
	armed := make([]uint32, 0, len(targets))
	for _, crtc := range targets {
		isRef := crtc.pipe == refPipe
		fe := &flipEntry{data: data, ref: isRef}

		seq, err := s.AllocateSequence(crtc, fe, flipHandler, flipAbort)
		if err != nil {
			s.unwindFlip(data, armed)
			return err
		}
		armed = append(armed, seq)

		flags := uint32(kms.PageFlipFlagEvent)
		if async || (s.vrrEnabled && !isRef) {
			flags |= kms.PageFlipFlagAsync
		}

		pf := kms.PageFlipRequest{
			CrtcID:   crtc.id,
			FbID:     fbID,
			Flags:    flags,
			UserData: uint64(seq),
		}
		if err := dev.PageFlip(&pf); err != nil {
			s.metrics.FlipRejections.Add(1)
			logger.WithCrtc(crtc.id).WithError(err).Warn("page flip rejected")
			s.unwindFlip(data, armed)
			var errno syscall.Errno
			errors.As(err, &errno)
			return NewCrtcError("PAGE_FLIP", s.index, crtc.id, ErrCodeFlipRejected, errno)
		}
		s.metrics.FlipRequests.Add(1)
	}

	logger.Debug("page flip armed", "fb", fbID, "crtcs", len(targets))
	return nil
}

// unwindFlip removes the per-CRTC entries of a failed fanout. The user
// callbacks are detached first so the removals, and any kernel record
// that still arrives for a flip already submitted, resolve silently;
// the failure return is the caller's only signal.
func (s *Screen) unwindFlip(data *flipData, seqs []uint32) {
	data.handler = nil
	data.abort = nil
	for _, seq := range seqs {
		s.AbortSequence(seq)
	}
}
