// Package modesetting implements the asynchronous completion core of a
// KMS display driver: it arms vblank waits and page flips against the
// kernel, tags each request with a sequence number, and correlates the
// kernel's delayed, out-of-order completion records back to the callback
// pair that was registered for the request. Success or abort fires
// exactly once per request.
//
// The package is callback driven and never blocks waiting for hardware.
// All queue operations for one screen must run on the server's single
// dispatch thread; the shared device handle registry is the only state
// touched across screens.
package modesetting

import (
	"github.com/btclinux/modesetting/internal/constants"
	"github.com/btclinux/modesetting/internal/logging"
	"github.com/btclinux/modesetting/kms"
)

// ScreenConfig contains parameters for bringing up a screen's
// completion queue.
type ScreenConfig struct {
	// Index is the screen number, used in logs and errors.
	Index int

	// DevicePath is the card node backing this screen.
	DevicePath string

	// Generation is the server generation, scoping wakeup registration.
	Generation uint64

	// MaxPending caps outstanding queue entries (default 4096).
	MaxPending int
}

// DefaultScreenConfig returns a sensible default configuration.
func DefaultScreenConfig(index int) ScreenConfig {
	return ScreenConfig{
		Index:      index,
		DevicePath: constants.DefaultDevicePath,
		Generation: 1,
		MaxPending: constants.DefaultMaxPending,
	}
}

// Options contains additional knobs for screen creation.
type Options struct {
	// Logger for debug/info messages (nil uses the package default)
	Logger *logging.Logger

	// Observer for queue activity (nil uses a no-op observer)
	Observer Observer
}

// Screen owns one logical display's completion queue and its share of
// the device handle.
type Screen struct {
	index    int
	registry *EntityRegistry
	entity   *Entity
	queue    *completionQueue
	crtcs    []*CRTC

	// Sticky CRTC_QUEUE_SEQUENCE probe state: once the modern interface
	// answers, the legacy path is never tried again, and vice versa.
	hasQueueSequence   bool
	triedQueueSequence bool

	vrrEnabled bool
	vrrSupport bool

	eventBuf []byte
	metrics  *Metrics
	observer Observer
	logger   *logging.Logger
	closed   bool
}

// NewScreen acquires the device handle, registers it for wakeup
// handling and prepares an empty completion queue. Failure to open the
// device fails screen initialization (ErrCodeDeviceOpen).
func NewScreen(registry *EntityRegistry, config ScreenConfig, options *Options) (*Screen, error) {
	if options == nil {
		options = &Options{}
	}
	if config.MaxPending <= 0 {
		config.MaxPending = constants.DefaultMaxPending
	}
	if config.DevicePath == "" {
		config.DevicePath = constants.DefaultDevicePath
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithScreen(config.Index)

	entity, err := registry.Acquire(config.DevicePath)
	if err != nil {
		return nil, err
	}

	if err := registry.RegisterWakeup(entity, config.Generation); err != nil {
		registry.Release(entity)
		return nil, WrapError("REGISTER_WAKEUP", err)
	}

	observer := options.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	s := &Screen{
		index:    config.Index,
		registry: registry,
		entity:   entity,
		queue:    newCompletionQueue(config.MaxPending),
		eventBuf: make([]byte, constants.EventBufferSize),
		metrics:  NewMetrics(),
		observer: observer,
		logger:   logger,
	}
	logger.Info("screen initialized", "device", config.DevicePath, "max_pending", config.MaxPending)
	return s, nil
}

// AddCRTC attaches a display pipeline to the screen and claims its pipe
// on the shared device handle.
func (s *Screen) AddCRTC(crtc *CRTC) {
	s.crtcs = append(s.crtcs, crtc)
	s.registry.AssignCrtc(s.entity, crtc.pipe)
}

// CRTCs returns the attached display pipelines.
func (s *Screen) CRTCs() []*CRTC {
	return s.crtcs
}

// Index returns the screen number.
func (s *Screen) Index() int {
	return s.index
}

// Entity returns the shared device handle.
func (s *Screen) Entity() *Entity {
	return s.entity
}

// Metrics returns the screen's queue metrics.
func (s *Screen) Metrics() *Metrics {
	return s.metrics
}

// Pending returns the number of outstanding queue entries.
func (s *Screen) Pending() int {
	return s.queue.pending()
}

// AllocateSequence creates a queue entry for a request about to be
// submitted and returns the sequence number to embed in it. This must
// not fail under normal operation, since it precedes an irrevocable
// kernel submission; the only failure is the configured pending cap.
//
// The entry stays pending until a kernel record matches it, or until it
// is aborted; the submitting caller owns that lifecycle.
func (s *Screen) AllocateSequence(crtc *CRTC, payload any, handler HandlerFunc, abort AbortFunc) (uint32, error) {
	seq, ok := s.queue.alloc(crtc, payload, handler, abort)
	if !ok {
		s.metrics.AllocFailures.Add(1)
		return 0, NewScreenError("ALLOC_SEQ", s.index, ErrCodeAllocation,
			"pending request cap reached")
	}
	s.metrics.SequenceAllocs.Add(1)
	s.notePending()
	return seq, nil
}

// AbortSequence cancels a single pending entry, firing its abort
// callback synchronously. Unknown sequence numbers are a silent no-op:
// the entry may legitimately have completed already.
func (s *Screen) AbortSequence(seq uint32) {
	entry := s.queue.take(seq)
	if entry == nil {
		return
	}
	s.metrics.Aborts.Add(1)
	s.observer.ObserveAbort()
	s.logger.WithSequence(seq).Debug("request aborted")
	if entry.abort != nil {
		entry.abort(entry.payload)
	}
	s.notePending()
}

// AbortMatching sweeps the queue in insertion order and cancels every
// entry whose payload the predicate matches, firing each abort callback
// before the sweep continues. Used on surface destruction, output
// disable and device teardown.
func (s *Screen) AbortMatching(match func(payload any) bool) int {
	aborted := s.queue.sweep(func(entry *queueEntry) bool {
		return match(entry.payload)
	})
	if aborted > 0 {
		s.metrics.Aborts.Add(uint64(aborted))
		for i := 0; i < aborted; i++ {
			s.observer.ObserveAbort()
		}
		s.logger.Debug("abort sweep", "aborted", aborted)
		s.notePending()
	}
	return aborted
}

// AbortCrtc cancels every pending entry targeting the given CRTC.
func (s *Screen) AbortCrtc(crtc *CRTC) int {
	aborted := s.queue.sweep(func(entry *queueEntry) bool {
		return entry.crtc == crtc
	})
	if aborted > 0 {
		s.metrics.Aborts.Add(uint64(aborted))
		for i := 0; i < aborted; i++ {
			s.observer.ObserveAbort()
		}
		s.notePending()
	}
	return aborted
}

// SetVariableRefresh toggles variable refresh for the screen, writing
// the VRR_ENABLED property of every capable CRTC. Request submission
// consults the flag when arming flip timing.
func (s *Screen) SetVariableRefresh(enabled bool) {
	if s.vrrEnabled == enabled {
		return
	}
	s.vrrEnabled = enabled

	value := uint64(0)
	if enabled {
		value = 1
	}
	for _, crtc := range s.crtcs {
		if crtc.vrrPropID == 0 {
			continue
		}
		sp := kms.ObjSetProperty{
			Value:   value,
			PropID:  crtc.vrrPropID,
			ObjID:   crtc.id,
			ObjType: kms.ObjectCrtc,
		}
		if err := s.entity.dev.SetProperty(&sp); err != nil {
			s.logger.WithCrtc(crtc.id).WithError(err).Warn("VRR_ENABLED write failed")
		}
	}
	s.logger.Info("variable refresh", "enabled", enabled)
}

// VariableRefresh reports the screen's VRR flag.
func (s *Screen) VariableRefresh() bool {
	return s.vrrEnabled
}

// SetupVRR probes each CRTC's VRR_ENABLED property and the driving
// connector's vrr_capable flag. The screen supports VRR when at least
// one CRTC/connector pair advertises both.
func (s *Screen) SetupVRR() {
	dev := s.entity.dev
	s.vrrSupport = false
	for _, crtc := range s.crtcs {
		props, err := dev.ObjectProperties(crtc.id, kms.ObjectCrtc)
		if err != nil {
			s.logger.WithCrtc(crtc.id).WithError(err).Debug("CRTC property probe failed")
			continue
		}
		prop := kms.FindProperty(props, kms.PropVRREnabled)
		if prop == nil {
			continue
		}
		crtc.vrrPropID = prop.ID

		if crtc.connector == 0 {
			continue
		}
		cprops, err := dev.ObjectProperties(crtc.connector, kms.ObjectConnector)
		if err != nil {
			continue
		}
		capable := kms.FindProperty(cprops, kms.PropVRRCapable)
		if capable != nil && capable.Value != 0 {
			s.vrrSupport = true
		}
	}
	s.logger.Debug("VRR probe", "supported", s.vrrSupport)
}

// VRRSupported reports whether the probe found a capable output.
func (s *Screen) VRRSupported() bool {
	return s.vrrSupport
}

// Close aborts everything still pending, drops the wakeup registration
// and releases the device handle. The queue is purely in-memory; no
// state survives teardown.
func (s *Screen) Close() {
	if s.closed {
		return
	}
	s.closed = true

	aborted := s.queue.sweep(func(*queueEntry) bool { return true })
	if aborted > 0 {
		s.metrics.Aborts.Add(uint64(aborted))
		s.logger.Info("aborted pending requests on close", "count", aborted)
	}

	for _, crtc := range s.crtcs {
		s.registry.UnassignCrtc(s.entity, crtc.pipe)
	}
	s.registry.UnregisterWakeup(s.entity)
	s.registry.Release(s.entity)
	s.metrics.Stop()
	s.logger.Info("screen closed")
}

func (s *Screen) notePending() {
	depth := uint32(s.queue.pending())
	s.metrics.RecordPending(depth)
	s.observer.ObservePending(depth)
}

func (s *Screen) device() kms.Device {
	return s.entity.dev
}
