package modesetting

import (
	"time"

	"github.com/eapache/queue"
)

// HandlerFunc is the success callback of a queue entry, invoked exactly
// once with the hardware frame count and timestamp from the kernel's
// completion record.
type HandlerFunc func(frame uint64, usec uint64, payload any)

// AbortFunc is the cancellation callback, invoked exactly once when the
// entry is removed without completing: surface teardown, output disable,
// device loss, or an explicit abort. Abort callbacks perform cleanup
// only and must not fail.
type AbortFunc func(payload any)

// queueEntry is one tracked request awaiting its kernel completion.
type queueEntry struct {
	seq     uint32
	crtc    *CRTC
	payload any
	handler HandlerFunc
	abort   AbortFunc
	queued  time.Time
}

// completionQueue correlates sequence numbers to pending entries. The
// slot map owns entry lifetime; the FIFO only records insertion order
// for cancellation sweeps. Removing an entry out of order leaves its
// sequence number behind as a tombstone, skipped and compacted once it
// reaches the front. Dispatch is therefore always "delete from map":
// an entry's callback cannot run twice because the entry is unreachable
// before the callback starts, even if the callback re-enters the queue.
//
// Not safe for concurrent use; the screen's cooperative thread is the
// only caller.
type completionQueue struct {
	entries    map[uint32]*queueEntry
	order      *queue.Queue
	nextSeq    uint32
	maxPending int
}

func newCompletionQueue(maxPending int) *completionQueue {
	return &completionQueue{
		entries:    make(map[uint32]*queueEntry),
		order:      queue.New(),
		maxPending: maxPending,
	}
}

// alloc assigns the next free sequence number and tracks the entry.
// Sequence 0 is never issued: the kernel's user_data field cannot be
// told apart from "unset" there. Numbers may be reused once the earlier
// entry has dispatched, but never while it is pending.
func (q *completionQueue) alloc(crtc *CRTC, payload any, handler HandlerFunc, abort AbortFunc) (uint32, bool) {
	if len(q.entries) >= q.maxPending {
		return 0, false
	}

	q.nextSeq++
	for {
		if q.nextSeq == 0 {
			q.nextSeq++
		}
		if _, busy := q.entries[q.nextSeq]; !busy {
			break
		}
		q.nextSeq++
	}

	seq := q.nextSeq
	q.entries[seq] = &queueEntry{
		seq:     seq,
		crtc:    crtc,
		payload: payload,
		handler: handler,
		abort:   abort,
		queued:  time.Now(),
	}
	q.order.Add(seq)
	return seq, true
}

// take removes and returns the pending entry for a sequence number, or
// nil when it has already dispatched (stale kernel record) or never
// existed.
func (q *completionQueue) take(seq uint32) *queueEntry {
	entry, ok := q.entries[seq]
	if !ok {
		return nil
	}
	delete(q.entries, seq)
	q.compact()
	return entry
}

// sweep walks pending entries in insertion order, removing each entry
// the predicate matches and invoking its abort callback before moving
// on. The callback may re-enter the queue; entries it allocates are
// appended behind the sweep and never visited by it.
func (q *completionQueue) sweep(match func(entry *queueEntry) bool) int {
	// Snapshot the order first: abort callbacks may re-enter the queue,
	// and front compaction would shift positional indexes under us.
	snapshot := make([]uint32, 0, q.order.Length())
	for i := 0; i < q.order.Length(); i++ {
		if seq, ok := q.order.Get(i).(uint32); ok {
			snapshot = append(snapshot, seq)
		}
	}

	aborted := 0
	for _, seq := range snapshot {
		entry, pending := q.entries[seq]
		if !pending || !match(entry) {
			continue
		}
		delete(q.entries, seq)
		aborted++
		if entry.abort != nil {
			entry.abort(entry.payload)
		}
	}
	q.compact()
	return aborted
}

// compact drops leading tombstones so the FIFO never grows unbounded
// under out-of-order completion.
func (q *completionQueue) compact() {
	for q.order.Length() > 0 {
		seq, ok := q.order.Peek().(uint32)
		if ok {
			if _, pending := q.entries[seq]; pending {
				return
			}
		}
		q.order.Remove()
	}
}

func (q *completionQueue) pending() int {
	return len(q.entries)
}
