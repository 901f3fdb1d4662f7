package modesetting

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btclinux/modesetting/kms"
)

func TestQueueVblankModernPath(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]

	seq, err := screen.AllocateSequence(crtc, nil, nil, nil)
	require.NoError(t, err)

	dev.CurrentSequence = 500
	msc, err := screen.QueueVblank(crtc, QueueRelative, 1, seq)
	require.NoError(t, err)
	assert.Equal(t, uint64(501), msc)

	require.Len(t, dev.SequenceRequests, 1)
	req := dev.SequenceRequests[0]
	assert.Equal(t, crtc.ID(), req.CrtcID)
	assert.Equal(t, kms.SequenceRelative, req.Flags)
	assert.Equal(t, uint64(seq), req.UserData)
	assert.Empty(t, dev.VblankRequests)
	assert.True(t, screen.hasQueueSequence)
}

func TestQueueVblankLegacyFallback(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	dev.QueueSequenceErr = syscall.ENOTTY

	seq, err := screen.AllocateSequence(crtc, nil, nil, nil)
	require.NoError(t, err)

	_, err = screen.QueueVblank(crtc, QueueRelative, 1, seq)
	require.NoError(t, err)

	require.Len(t, dev.VblankRequests, 1)
	req := dev.VblankRequests[0]
	assert.NotZero(t, req.Type&kms.VblankEvent)
	assert.NotZero(t, req.Type&kms.VblankRelative)
	assert.Equal(t, uint64(seq), req.Signal)
	assert.Equal(t, uint64(1), screen.Metrics().VblankFallbacks.Load())

	// The probe result sticks; the modern interface is not retried.
	dev.QueueSequenceErr = nil
	seq2, _ := screen.AllocateSequence(crtc, nil, nil, nil)
	_, err = screen.QueueVblank(crtc, QueueRelative, 1, seq2)
	require.NoError(t, err)
	assert.Empty(t, dev.SequenceRequests)
	assert.Len(t, dev.VblankRequests, 2)
}

func TestQueueVblankNextOnMissRetargets(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	dev.CurrentSequence = 100

	seq, _ := screen.AllocateSequence(crtc, nil, nil, nil)
	msc, err := screen.QueueVblank(crtc, QueueAbsolute|QueueNextOnMiss, 50, seq)
	require.NoError(t, err)
	assert.Greater(t, msc, uint64(100), "missed target must retarget past the current frame")

	req := dev.SequenceRequests[0]
	assert.Equal(t, kms.SequenceNextOnMiss, req.Flags)
}

func TestQueueVblankDisabledCrtc(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	crtc.SetEnabled(false)

	seq, _ := screen.AllocateSequence(crtc, nil, nil, nil)
	_, err := screen.QueueVblank(crtc, QueueRelative|QueueNextOnMiss, 1, seq)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVblankUnsupported)
	assert.Empty(t, dev.SequenceRequests)
	assert.Empty(t, dev.VblankRequests)

	// Submission failure never cancels the entry; the caller owns it.
	assert.Equal(t, 1, screen.Pending())
}

func TestQueueVblankLegacyPipeSelection(t *testing.T) {
	tests := []struct {
		name string
		pipe int
		want uint32
	}{
		{"pipe0", 0, 0},
		{"pipe1", 1, kms.VblankSecondary},
		{"pipe2", 2, (2 << kms.VblankHighCrtcShift) & kms.VblankHighCrtcMask},
		{"pipe5", 5, (5 << kms.VblankHighCrtcShift) & kms.VblankHighCrtcMask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			screen, dev := newTestScreen(t)
			dev.QueueSequenceErr = syscall.ENOTTY
			crtc := NewCRTC(50, tt.pipe, 0)
			crtc.SetEnabled(true)
			screen.AddCRTC(crtc)

			seq, _ := screen.AllocateSequence(crtc, nil, nil, nil)
			_, err := screen.QueueVblank(crtc, QueueRelative, 1, seq)
			require.NoError(t, err)

			req := dev.VblankRequests[0]
			mask := kms.VblankSecondary | kms.VblankHighCrtcMask
			assert.Equal(t, tt.want, req.Type&mask)
		})
	}
}

func TestQueueVblankLegacyAbsoluteTarget(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	dev.QueueSequenceErr = syscall.ENOTTY

	seq, _ := screen.AllocateSequence(crtc, nil, nil, nil)
	_, err := screen.QueueVblank(crtc, QueueAbsolute, 7000, seq)
	require.NoError(t, err)

	req := dev.VblankRequests[0]
	assert.Zero(t, req.Type&kms.VblankRelative)
	assert.Equal(t, uint32(7000), req.Sequence)
}

func TestGetCrtcUstMscModern(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	dev.CurrentSequence = 9000
	dev.CurrentNS = 5_000_000 // 5ms

	ust, msc, err := screen.GetCrtcUstMsc(crtc)
	require.NoError(t, err)
	assert.Equal(t, uint64(9000), msc)
	assert.Equal(t, uint64(5000), ust)
	assert.True(t, screen.hasQueueSequence)
}

func TestGetCrtcUstMscFailureKeepsEstablishedProbe(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]

	// Establish the modern interface first.
	_, _, err := screen.GetCrtcUstMsc(crtc)
	require.NoError(t, err)
	require.True(t, screen.hasQueueSequence)

	// A later failure is an error, not a demotion to the legacy path.
	dev.GetSequenceErr = syscall.EIO
	_, _, err = screen.GetCrtcUstMsc(crtc)
	require.Error(t, err)
	assert.True(t, screen.hasQueueSequence)
	assert.Empty(t, dev.VblankRequests)

	dev.GetSequenceErr = nil
	seq, _ := screen.AllocateSequence(crtc, nil, nil, nil)
	_, err = screen.QueueVblank(crtc, QueueRelative, 1, seq)
	require.NoError(t, err)
	assert.Len(t, dev.SequenceRequests, 1, "waits must stay on the established interface")
	assert.Empty(t, dev.VblankRequests)
}

func TestGetCrtcUstMscLegacy(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	dev.GetSequenceErr = syscall.ENOTTY
	dev.CurrentSequence = 777

	_, msc, err := screen.GetCrtcUstMsc(crtc)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), msc)

	// The legacy query is a zero-relative wait without the event bit.
	require.Len(t, dev.VblankRequests, 1)
	req := dev.VblankRequests[0]
	assert.Zero(t, req.Type&kms.VblankEvent)
	assert.NotZero(t, req.Type&kms.VblankRelative)
}
