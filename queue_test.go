package modesetting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueAllocAssignsDistinctNonZeroSequences(t *testing.T) {
	q := newCompletionQueue(16)

	seen := make(map[uint32]bool)
	for i := 0; i < 10; i++ {
		seq, ok := q.alloc(nil, i, nil, nil)
		require.True(t, ok)
		assert.NotZero(t, seq)
		assert.False(t, seen[seq], "sequence %d issued twice", seq)
		seen[seq] = true
	}
	assert.Equal(t, 10, q.pending())
}

func TestQueueAllocSkipsBusySequences(t *testing.T) {
	q := newCompletionQueue(16)

	// Wrap nextSeq so the next allocation lands on an occupied number.
	seq1, ok := q.alloc(nil, "a", nil, nil)
	require.True(t, ok)
	q.nextSeq = seq1 - 1

	seq2, ok := q.alloc(nil, "b", nil, nil)
	require.True(t, ok)
	assert.NotEqual(t, seq1, seq2)
}

func TestQueueAllocNeverIssuesZero(t *testing.T) {
	q := newCompletionQueue(16)
	q.nextSeq = 0xffffffff

	seq, ok := q.alloc(nil, nil, nil, nil)
	require.True(t, ok)
	assert.NotZero(t, seq)
}

func TestQueueAllocRespectsCap(t *testing.T) {
	q := newCompletionQueue(2)

	_, ok := q.alloc(nil, nil, nil, nil)
	require.True(t, ok)
	_, ok = q.alloc(nil, nil, nil, nil)
	require.True(t, ok)

	_, ok = q.alloc(nil, nil, nil, nil)
	assert.False(t, ok)
}

func TestQueueTakeRemovesEntry(t *testing.T) {
	q := newCompletionQueue(16)
	seq, _ := q.alloc(nil, "payload", nil, nil)

	entry := q.take(seq)
	require.NotNil(t, entry)
	assert.Equal(t, "payload", entry.payload)

	// A second take for the same sequence finds nothing.
	assert.Nil(t, q.take(seq))
	assert.Equal(t, 0, q.pending())
}

func TestQueueTakeUnknownSequence(t *testing.T) {
	q := newCompletionQueue(16)
	assert.Nil(t, q.take(99))
}

func TestQueueSequenceReusableAfterDispatch(t *testing.T) {
	q := newCompletionQueue(2)

	seq1, _ := q.alloc(nil, nil, nil, nil)
	q.take(seq1)
	q.nextSeq = seq1 - 1

	seq2, ok := q.alloc(nil, nil, nil, nil)
	require.True(t, ok)
	assert.Equal(t, seq1, seq2)
}

func TestQueueSweepInsertionOrder(t *testing.T) {
	q := newCompletionQueue(16)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		q.alloc(nil, name, nil, func(payload any) {
			order = append(order, payload.(string))
		})
	}

	aborted := q.sweep(func(*queueEntry) bool { return true })
	assert.Equal(t, 3, aborted)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, 0, q.pending())
}

func TestQueueSweepPredicate(t *testing.T) {
	q := newCompletionQueue(16)

	kept := 0
	q.alloc(nil, "match", nil, nil)
	seqKeep, _ := q.alloc(nil, "keep", nil, func(any) { kept++ })
	q.alloc(nil, "match", nil, nil)

	aborted := q.sweep(func(e *queueEntry) bool { return e.payload == "match" })
	assert.Equal(t, 2, aborted)
	assert.Equal(t, 0, kept)
	assert.Equal(t, 1, q.pending())
	assert.NotNil(t, q.take(seqKeep))
}

func TestQueueSweepOutOfOrderTombstones(t *testing.T) {
	q := newCompletionQueue(16)

	seq1, _ := q.alloc(nil, 1, nil, nil)
	q.alloc(nil, 2, nil, nil)
	seq3, _ := q.alloc(nil, 3, nil, nil)

	// Dispatch the middle of the FIFO out of order, then the head.
	q.take(seq3)
	q.take(seq1)

	aborted := q.sweep(func(*queueEntry) bool { return true })
	assert.Equal(t, 1, aborted)
	assert.Equal(t, 0, q.pending())
	assert.Equal(t, 0, q.order.Length())
}

func TestQueueSweepReentrantAbort(t *testing.T) {
	q := newCompletionQueue(16)

	// The abort callback allocates a replacement entry; the running
	// sweep must not visit it.
	reallocated := 0
	q.alloc(nil, "doomed", nil, func(any) {
		q.alloc(nil, "fresh", nil, func(any) { reallocated++ })
	})

	aborted := q.sweep(func(*queueEntry) bool { return true })
	assert.Equal(t, 1, aborted)
	assert.Equal(t, 0, reallocated)
	assert.Equal(t, 1, q.pending())
}
