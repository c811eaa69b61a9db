package mount

import (
	"runtime"
	"sort"
	"sync"

	"github.com/bridgefs/bridgefs/internal/fsops"
)

// Provider is a factory for mounts against one native backend. Providers are
// immutable and live for the process lifetime.
type Provider interface {
	// DisplayName is the human-readable backend name, also the deterministic
	// tiebreaker during selection.
	DisplayName() string

	// OperatingSystem is the GOOS value the provider applies to.
	OperatingSystem() string

	// Priority ranks applicable providers; higher wins.
	Priority() int

	// Capabilities declares the provider's feature set.
	Capabilities() CapabilitySet

	// Supported probes the host for the native runtime (library on disk,
	// device node, installed service).
	Supported() bool

	// DefaultMountFlags renders the provider's recommended flag string for a
	// volume name. May be empty.
	DefaultMountFlags(volumeName string) string

	// DefaultPort returns the provider's default network port, or 0.
	DefaultPort() int

	// ForFileSystem starts a builder for mounting the given operations
	// object.
	ForFileSystem(fsys fsops.FileSystem) Builder
}

// Builder configures and performs one mount. Setters reject parameters the
// provider's capability set cannot honor.
type Builder interface {
	SetMountPoint(path string) error
	SetMountFlags(flags string) error
	SetReadOnly(readOnly bool) error
	SetVolumeName(name string) error
	SetPort(port int) error
	SetLoopbackHostName(host string) error

	// Mount validates the accumulated parameters and mounts. The returned
	// handle is in state Mounted.
	Mount() (*Mount, error)
}

// Registry holds the providers known to a process and selects among them.
type Registry struct {
	goos string

	mu        sync.Mutex
	providers []Provider
}

// NewRegistry creates a registry selecting for the given GOOS.
func NewRegistry(goos string) *Registry {
	return &Registry{goos: goos}
}

// Register adds a provider. Safe for concurrent use; intended to be called
// from provider package init functions.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Providers returns all registered providers ordered by descending priority,
// then display name.
func (r *Registry) Providers() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out
}

// Select returns the best provider that matches the host operating system,
// passes its runtime support probe, and declares every required capability.
func (r *Registry) Select(required CapabilitySet) (Provider, error) {
	for _, p := range r.Providers() {
		if p.OperatingSystem() != r.goos {
			continue
		}
		if !p.Supported() {
			continue
		}
		if !p.Capabilities().ContainsAll(required) {
			continue
		}
		return p, nil
	}
	return nil, NewNoApplicableProviderError(required)
}

var defaultRegistry = NewRegistry(runtime.GOOS)

// Register adds a provider to the process-wide registry.
func Register(p Provider) {
	defaultRegistry.Register(p)
}

// Providers lists the process-wide registry.
func Providers() []Provider {
	return defaultRegistry.Providers()
}

// Select chooses from the process-wide registry.
func Select(required CapabilitySet) (Provider, error) {
	return defaultRegistry.Select(required)
}
