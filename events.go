package modesetting

import (
	"time"

	"github.com/btclinux/modesetting/kms"
)

// FlushEvents drains every completion record the device has pending and
// dispatches each one to the queue entry its sequence number names. The
// read loop runs until the device reports empty, never blocking, so one
// wakeup processes the whole backlog regardless of how many records
// accumulated behind it.
//
// Records whose sequence number matches nothing are stale: the entry was
// aborted after submission, which is legal, so they are counted and
// dropped silently. Records that fail to decode are counted as malformed
// and skipped. Neither stops the drain.
//
// Returns the number of valid records processed, matched or not; the
// matched count is in the metrics.
func (s *Screen) FlushEvents() (int, error) {
	dev := s.device()
	processed := 0

	for {
		n, err := dev.ReadEvents(s.eventBuf)
		if err == kms.ErrNoEvents {
			break
		}
		if err != nil {
			return processed, WrapError("FLUSH_EVENTS", err)
		}

		events, malformed := kms.DecodeEvents(s.eventBuf[:n])
		if malformed > 0 {
			s.metrics.MalformedEvents.Add(uint64(malformed))
			s.logger.Warn("malformed completion records", "count", malformed)
		}

		for i := range events {
			ev := &events[i]
			s.metrics.EventsProcessed.Add(1)
			processed++
			s.dispatch(ev)
		}
	}

	return processed, nil
}

// dispatch resolves one decoded record against the queue. The entry is
// removed from the map before its handler runs, so a handler that
// re-enters the queue, or a duplicate record for the same sequence,
// cannot fire it a second time.
func (s *Screen) dispatch(ev *kms.Event) {
	seq := uint32(ev.UserData)
	entry := s.queue.take(seq)
	if entry == nil {
		s.metrics.StaleEvents.Add(1)
		return
	}

	frame := ev.Sequence
	if entry.crtc != nil {
		frame = entry.crtc.KernelMSCToCrtcMSC(ev.Sequence, ev.Is64)
	}
	usec := ev.Microseconds()

	latency := uint64(time.Since(entry.queued).Nanoseconds())
	s.metrics.RecordDispatch(latency)
	s.observer.ObserveDispatch(latency)
	s.notePending()

	if entry.handler != nil {
		entry.handler(frame, usec, entry.payload)
	}
}
