package modesetting

import (
	"github.com/btclinux/modesetting/internal/logging"
	"github.com/btclinux/modesetting/kms"
)

// WakeupMonitor is the process's I/O readiness mechanism. Registration
// is per descriptor, deduplicated by the registry so that several
// screens sharing one device handle register it exactly once.
type WakeupMonitor interface {
	Register(fd int) error
	Unregister(fd int) error
}

// Entity is the shared, reference-counted handle to one physical device
// node. Several screens (zaphod heads) backed by the same card reference
// the same Entity; its fields are the only driver state mutated across
// screen boundaries, and all mutation goes through the owning registry.
type Entity struct {
	path string
	dev  kms.Device

	refs int

	// Server generation the fd is registered for wakeup handling in,
	// and how many screens hold that registration.
	wakeupGeneration uint64
	wakeupRefs       int

	// Bitmask of vblank pipes currently assigned to this handle.
	assignedCrtcs uint32
}

// Device returns the underlying device handle.
func (e *Entity) Device() kms.Device {
	return e.dev
}

// Path returns the device node path.
func (e *Entity) Path() string {
	return e.path
}

// AssignedCrtcs returns the bitmask of pipes claimed on this device.
func (e *Entity) AssignedCrtcs() uint32 {
	return e.assignedCrtcs
}

// RegistryConfig configures an EntityRegistry.
type RegistryConfig struct {
	// Monitor receives wakeup registrations. Nil disables registration,
	// which is only useful in tests.
	Monitor WakeupMonitor

	// Opener opens device nodes. Nil means kms.Open.
	Opener func(path string) (kms.Device, error)
}

// EntityRegistry maps physical device identity to its shared handle.
// It replaces the old ambient global table: one registry is created at
// server start and passed to every screen, and its lifetime follows the
// server generation.
//
// Not safe for concurrent use; all calls happen on the server's
// dispatch thread.
type EntityRegistry struct {
	entities map[string]*Entity
	monitor  WakeupMonitor
	opener   func(path string) (kms.Device, error)
	logger   *logging.Logger
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry(config *RegistryConfig) *EntityRegistry {
	if config == nil {
		config = &RegistryConfig{}
	}
	opener := config.Opener
	if opener == nil {
		opener = kms.Open
	}
	return &EntityRegistry{
		entities: make(map[string]*Entity),
		monitor:  config.Monitor,
		opener:   opener,
		logger:   logging.Default(),
	}
}

// Acquire returns the handle for a device path, opening the node on
// first use and bumping the reference count otherwise.
func (r *EntityRegistry) Acquire(path string) (*Entity, error) {
	if ent, ok := r.entities[path]; ok {
		ent.refs++
		r.logger.Debug("device handle shared", "path", path, "refs", ent.refs)
		return ent, nil
	}

	dev, err := r.opener(path)
	if err != nil {
		wrapped := WrapError("DEVICE_OPEN", err)
		wrapped.Code = ErrCodeDeviceOpen
		wrapped.Msg = "cannot open " + path
		return nil, wrapped
	}

	ent := &Entity{
		path: path,
		dev:  dev,
		refs: 1,
	}
	r.entities[path] = ent
	r.logger.Info("device handle opened", "path", path, "fd", dev.FD())
	return ent, nil
}

// Release drops one reference. The descriptor closes and any wakeup
// subscription is removed when the last reference goes away. One release
// per acquire is the caller's contract; there is no double-free guard.
func (r *EntityRegistry) Release(ent *Entity) {
	ent.refs--
	if ent.refs > 0 {
		return
	}

	if ent.wakeupRefs > 0 && r.monitor != nil {
		ent.wakeupRefs = 0
		if err := r.monitor.Unregister(ent.dev.FD()); err != nil {
			r.logger.WithError(err).Warn("wakeup unregister failed", "path", ent.path)
		}
	}
	if err := ent.dev.Close(); err != nil {
		r.logger.WithError(err).Warn("device close failed", "path", ent.path)
	}
	delete(r.entities, ent.path)
	r.logger.Info("device handle closed", "path", ent.path)
}

// RegisterWakeup subscribes the handle's descriptor for readiness
// notification in the given server generation. Screens sharing the
// handle stack their registrations; only the first one in a generation
// touches the monitor.
func (r *EntityRegistry) RegisterWakeup(ent *Entity, generation uint64) error {
	if ent.wakeupGeneration == generation && ent.wakeupRefs > 0 {
		ent.wakeupRefs++
		return nil
	}
	if r.monitor != nil {
		// A registration left over from an earlier generation still
		// holds the descriptor; drop it so the re-add cannot collide.
		if ent.wakeupRefs > 0 {
			if err := r.monitor.Unregister(ent.dev.FD()); err != nil {
				r.logger.WithError(err).Warn("stale wakeup unregister failed", "path", ent.path)
			}
		}
		if err := r.monitor.Register(ent.dev.FD()); err != nil {
			return err
		}
	}
	ent.wakeupGeneration = generation
	ent.wakeupRefs = 1
	return nil
}

// UnregisterWakeup drops one wakeup reference, removing the descriptor
// from the monitor when the last screen lets go.
func (r *EntityRegistry) UnregisterWakeup(ent *Entity) {
	if ent.wakeupRefs == 0 {
		return
	}
	ent.wakeupRefs--
	if ent.wakeupRefs > 0 || r.monitor == nil {
		return
	}
	if err := r.monitor.Unregister(ent.dev.FD()); err != nil {
		r.logger.WithError(err).Warn("wakeup unregister failed", "path", ent.path)
	}
}

// AssignCrtc claims a vblank pipe on the shared handle.
func (r *EntityRegistry) AssignCrtc(ent *Entity, pipe int) {
	ent.assignedCrtcs |= 1 << uint(pipe)
}

// UnassignCrtc returns a vblank pipe.
func (r *EntityRegistry) UnassignCrtc(ent *Entity, pipe int) {
	ent.assignedCrtcs &^= 1 << uint(pipe)
}

// Lookup returns the handle for a path without touching the refcount,
// or nil when the device is not open.
func (r *EntityRegistry) Lookup(path string) *Entity {
	return r.entities[path]
}
