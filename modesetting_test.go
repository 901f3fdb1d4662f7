package modesetting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btclinux/modesetting/kms"
)

// newTestScreen brings up a screen over a mock device with one enabled
// CRTC on pipe 0.
func newTestScreen(t *testing.T) (*Screen, *MockDevice) {
	t.Helper()
	dev := NewMockDevice("/dev/dri/card0")
	registry := NewEntityRegistry(&RegistryConfig{Opener: MockOpener(dev)})

	screen, err := NewScreen(registry, DefaultScreenConfig(0), nil)
	require.NoError(t, err)

	crtc := NewCRTC(42, 0, 0)
	crtc.SetEnabled(true)
	screen.AddCRTC(crtc)
	return screen, dev
}

func TestNewScreenOpensDevice(t *testing.T) {
	screen, dev := newTestScreen(t)
	assert.Equal(t, "/dev/dri/card0", screen.Entity().Path())
	assert.False(t, dev.Closed)
	assert.Equal(t, 0, screen.Pending())
}

func TestNewScreenOpenFailure(t *testing.T) {
	registry := NewEntityRegistry(&RegistryConfig{Opener: MockOpener()})
	_, err := NewScreen(registry, DefaultScreenConfig(0), nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDeviceOpen))
}

func TestAllocateSequenceCap(t *testing.T) {
	dev := NewMockDevice("/dev/dri/card0")
	registry := NewEntityRegistry(&RegistryConfig{Opener: MockOpener(dev)})
	config := DefaultScreenConfig(0)
	config.MaxPending = 2
	screen, err := NewScreen(registry, config, nil)
	require.NoError(t, err)

	_, err = screen.AllocateSequence(nil, nil, nil, nil)
	require.NoError(t, err)
	_, err = screen.AllocateSequence(nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = screen.AllocateSequence(nil, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Equal(t, uint64(1), screen.Metrics().AllocFailures.Load())
}

func TestAbortSequenceFiresAbortOnce(t *testing.T) {
	screen, _ := newTestScreen(t)

	aborts := 0
	handled := 0
	seq, err := screen.AllocateSequence(nil, "p",
		func(uint64, uint64, any) { handled++ },
		func(any) { aborts++ })
	require.NoError(t, err)

	screen.AbortSequence(seq)
	screen.AbortSequence(seq) // second abort is a no-op

	assert.Equal(t, 1, aborts)
	assert.Equal(t, 0, handled)
	assert.Equal(t, 0, screen.Pending())
	assert.Equal(t, uint64(1), screen.Metrics().Aborts.Load())
}

func TestAbortSequenceUnknownIsSilent(t *testing.T) {
	screen, _ := newTestScreen(t)
	screen.AbortSequence(12345)
	assert.Equal(t, uint64(0), screen.Metrics().Aborts.Load())
}

func TestAbortMatchingOnlyMatchingPayloads(t *testing.T) {
	screen, _ := newTestScreen(t)

	type window struct{ id int }
	w1 := &window{1}
	w2 := &window{2}

	w1Aborts := 0
	w2Aborts := 0
	screen.AllocateSequence(nil, w1, nil, func(any) { w1Aborts++ })
	screen.AllocateSequence(nil, w2, nil, func(any) { w2Aborts++ })
	screen.AllocateSequence(nil, w1, nil, func(any) { w1Aborts++ })

	aborted := screen.AbortMatching(func(payload any) bool {
		return payload == w1
	})

	assert.Equal(t, 2, aborted)
	assert.Equal(t, 2, w1Aborts)
	assert.Equal(t, 0, w2Aborts)
	assert.Equal(t, 1, screen.Pending())
}

func TestAbortMatchingScreenIsolation(t *testing.T) {
	dev0 := NewMockDevice("/dev/dri/card0")
	dev1 := NewMockDevice("/dev/dri/card1")
	registry := NewEntityRegistry(&RegistryConfig{Opener: MockOpener(dev0, dev1)})

	screen0, err := NewScreen(registry, DefaultScreenConfig(0), nil)
	require.NoError(t, err)
	config1 := DefaultScreenConfig(1)
	config1.DevicePath = "/dev/dri/card1"
	screen1, err := NewScreen(registry, config1, nil)
	require.NoError(t, err)

	shared := "shared-payload"
	screen0.AllocateSequence(nil, shared, nil, nil)
	screen1.AllocateSequence(nil, shared, nil, nil)

	aborted := screen0.AbortMatching(func(any) bool { return true })
	assert.Equal(t, 1, aborted)
	assert.Equal(t, 0, screen0.Pending())
	assert.Equal(t, 1, screen1.Pending(), "other screen's queue must be untouched")
}

func TestCloseAbortsPendingAndReleasesDevice(t *testing.T) {
	screen, dev := newTestScreen(t)

	aborts := 0
	screen.AllocateSequence(nil, nil, nil, func(any) { aborts++ })
	screen.AllocateSequence(nil, nil, nil, func(any) { aborts++ })

	screen.Close()
	assert.Equal(t, 2, aborts)
	assert.True(t, dev.Closed)

	// Idempotent
	screen.Close()
	assert.Equal(t, 2, aborts)
}

func TestSetVariableRefreshWritesProperty(t *testing.T) {
	screen, dev := newTestScreen(t)
	crtc := screen.CRTCs()[0]
	crtc.vrrPropID = 7

	screen.SetVariableRefresh(true)
	require.Len(t, dev.PropertyWrites, 1)
	write := dev.PropertyWrites[0]
	assert.Equal(t, uint32(7), write.PropID)
	assert.Equal(t, crtc.ID(), write.ObjID)
	assert.Equal(t, kms.ObjectCrtc, write.ObjType)
	assert.Equal(t, uint64(1), write.Value)
	assert.True(t, screen.VariableRefresh())

	// Setting the same state again writes nothing.
	screen.SetVariableRefresh(true)
	assert.Len(t, dev.PropertyWrites, 1)

	screen.SetVariableRefresh(false)
	require.Len(t, dev.PropertyWrites, 2)
	assert.Equal(t, uint64(0), dev.PropertyWrites[1].Value)
}

func TestSetupVRRProbesCapability(t *testing.T) {
	dev := NewMockDevice("/dev/dri/card0")
	registry := NewEntityRegistry(&RegistryConfig{Opener: MockOpener(dev)})
	screen, err := NewScreen(registry, DefaultScreenConfig(0), nil)
	require.NoError(t, err)

	crtc := NewCRTC(42, 0, 77)
	crtc.SetEnabled(true)
	screen.AddCRTC(crtc)

	dev.Properties[42] = []kms.Property{{ID: 7, Name: kms.PropVRREnabled, Value: 0}}
	dev.Properties[77] = []kms.Property{{ID: 8, Name: kms.PropVRRCapable, Value: 1}}

	screen.SetupVRR()
	assert.True(t, screen.VRRSupported())
	assert.Equal(t, uint32(7), crtc.vrrPropID)
}

func TestSetupVRRNotCapable(t *testing.T) {
	screen, dev := newTestScreen(t)
	dev.Properties[42] = []kms.Property{{ID: 7, Name: kms.PropVRREnabled}}

	screen.SetupVRR()
	assert.False(t, screen.VRRSupported())
}
