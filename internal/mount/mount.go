// Package mount provides the mount provider registry, capability
// negotiation, per-provider builders and the lifecycle of a live mount.
package mount

import (
	"sync"

	"github.com/bridgefs/bridgefs/pkg/utils"
)

// State is the lifecycle state of a mount handle.
type State int

const (
	// StateMounted is the initial state of a successfully built mount.
	StateMounted State = iota
	// StateUnmounting is a graceful teardown in progress.
	StateUnmounting
	// StateForceUnmounting is a forced teardown in progress.
	StateForceUnmounting
	// StateUnmounted is the terminal state.
	StateUnmounted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateMounted:
		return "Mounted"
	case StateUnmounting:
		return "Unmounting"
	case StateForceUnmounting:
		return "ForceUnmounting"
	case StateUnmounted:
		return "Unmounted"
	default:
		return "Unknown"
	}
}

// Backend is the contract the mount handle consumes from a native FUSE
// backend once it is live: in-use reporting, the two teardown paths, and
// final release of native resources.
type Backend interface {
	IsInUse() bool
	Unmount() error
	UnmountForced() error
	Close() error
}

// Mount owns a live mount. Created in state Mounted by a successful builder.
// The mount point is immutable after construction and may be read without
// the state mutex.
type Mount struct {
	backend    Backend
	mountPoint string
	caps       CapabilitySet
	log        *utils.StructuredLogger

	mu       sync.Mutex
	state    State
	released bool
}

// NewMount wraps a freshly mounted backend in a handle. Called by provider
// builders only.
func NewMount(backend Backend, mountPoint string, caps CapabilitySet) *Mount {
	return &Mount{
		backend:    backend,
		mountPoint: mountPoint,
		caps:       caps,
		state:      StateMounted,
		log:        utils.DefaultLogger().WithComponent("mount"),
	}
}

// MountPoint returns the effective mount point, which may differ from the
// requested one when the backend chose the path.
func (m *Mount) MountPoint() string {
	return m.mountPoint
}

// State returns the current lifecycle state.
func (m *Mount) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Unmount tears the mount down gracefully. It refuses with an
// UNMOUNT_REFUSED error while the adapter is in use.
func (m *Mount) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unmountLocked()
}

func (m *Mount) unmountLocked() error {
	if m.state != StateMounted {
		return NewInvalidStateError("unmount", m.state)
	}
	if m.backend.IsInUse() {
		return NewUnmountRefusedError(m.mountPoint)
	}
	m.state = StateUnmounting
	if err := m.backend.Unmount(); err != nil {
		m.state = StateMounted
		return NewUnmountFailedError(err)
	}
	m.state = StateUnmounted
	m.log.Info("unmounted", map[string]interface{}{"mount_point": m.mountPoint})
	return nil
}

// UnmountForced tears the mount down without the in-use check. Only valid
// for providers declaring UNMOUNT_FORCED.
func (m *Mount) UnmountForced() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unmountForcedLocked()
}

func (m *Mount) unmountForcedLocked() error {
	if !m.caps.Has(CapUnmountForced) {
		return NewUnsupportedCapabilityError(CapUnmountForced)
	}
	if m.state != StateMounted {
		return NewInvalidStateError("forced unmount", m.state)
	}
	m.state = StateForceUnmounting
	if err := m.backend.UnmountForced(); err != nil {
		m.state = StateMounted
		return NewUnmountFailedError(err)
	}
	m.state = StateUnmounted
	m.log.Warn("force-unmounted", map[string]interface{}{"mount_point": m.mountPoint})
	return nil
}

// Release is the scoped teardown used on every exit path. If still mounted
// it attempts a graceful unmount, escalating to a forced unmount when the
// provider supports it. Native resources are released unconditionally.
// Release is idempotent; the first error encountered is surfaced.
func (m *Mount) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}
	m.released = true

	var err error
	if m.state == StateMounted {
		err = m.unmountLocked()
		if err != nil && m.caps.Has(CapUnmountForced) {
			m.log.Warn("graceful unmount failed, attempting forced unmount",
				map[string]interface{}{"mount_point": m.mountPoint, "error": err})
			if ferr := m.unmountForcedLocked(); ferr == nil {
				err = nil
			}
		}
	}

	if cerr := m.backend.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
