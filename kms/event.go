package kms

import "encoding/binary"

// EventKind identifies the completion record type after decoding.
type EventKind int

const (
	// EventVblank is a legacy 32-bit vblank-wait completion.
	EventVblank EventKind = iota
	// EventFlipComplete is a page-flip completion.
	EventFlipComplete
	// EventCrtcSequence is a 64-bit CRTC_QUEUE_SEQUENCE completion.
	EventCrtcSequence
)

// Event is the decoded form of one kernel completion record. Decoding
// happens before any queue lookup so the wire format never leaks into
// the completion-queue model.
//
//	struct drm_event        { __u32 type; __u32 length; };
//	struct drm_event_vblank { base; __u64 user_data;
//	                          __u32 tv_sec; __u32 tv_usec;
//	                          __u32 sequence; __u32 crtc_id; };
//	struct drm_event_crtc_sequence { base; __u64 user_data;
//	                          __s64 time_ns; __u64 sequence; };
type Event struct {
	Kind     EventKind
	UserData uint64
	Sequence uint64 // kernel frame counter (32-bit for legacy kinds)
	TvSec    uint32
	TvUsec   uint32
	TimeNS   int64 // EventCrtcSequence only
	CrtcID   uint32
	Is64     bool // Sequence is a full 64-bit counter
}

// Microseconds returns the event timestamp in microseconds.
func (e *Event) Microseconds() uint64 {
	if e.Is64 {
		return uint64(e.TimeNS) / 1000
	}
	return uint64(e.TvSec)*1000000 + uint64(e.TvUsec)
}

const eventHeaderLen = 8

// DecodeEvents parses a batch of raw records read from the card fd.
// Unknown record types are skipped (newer kernels add types freely);
// records with an impossible header terminate the batch and count as
// malformed, since there is no way to resynchronize the stream.
func DecodeEvents(buf []byte) (events []Event, malformed int) {
	le := binary.LittleEndian
	for len(buf) >= eventHeaderLen {
		typ := le.Uint32(buf[0:])
		length := int(le.Uint32(buf[4:]))
		if length < eventHeaderLen || length > len(buf) {
			malformed++
			return events, malformed
		}
		record := buf[:length]
		buf = buf[length:]

		switch typ {
		case EventTypeVblank, EventTypeFlipComplete:
			if length < 28 {
				malformed++
				continue
			}
			ev := Event{
				Kind:     EventVblank,
				UserData: le.Uint64(record[8:]),
				TvSec:    le.Uint32(record[16:]),
				TvUsec:   le.Uint32(record[20:]),
				Sequence: uint64(le.Uint32(record[24:])),
			}
			if typ == EventTypeFlipComplete {
				ev.Kind = EventFlipComplete
			}
			// crtc_id is only present on 4.12+ kernels
			if length >= 32 {
				ev.CrtcID = le.Uint32(record[28:])
			}
			events = append(events, ev)

		case EventTypeCrtcSequence:
			if length < 32 {
				malformed++
				continue
			}
			events = append(events, Event{
				Kind:     EventCrtcSequence,
				UserData: le.Uint64(record[8:]),
				TimeNS:   int64(le.Uint64(record[16:])),
				Sequence: le.Uint64(record[24:]),
				Is64:     true,
			})

		default:
			// Vendor or future record type; not ours to interpret.
		}
	}
	if len(buf) != 0 {
		malformed++
	}
	return events, malformed
}
