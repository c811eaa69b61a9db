package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/pkg/errors"
)

type fakeProvider struct {
	name      string
	goos      string
	priority  int
	caps      CapabilitySet
	supported bool
}

func (p *fakeProvider) DisplayName() string             { return p.name }
func (p *fakeProvider) OperatingSystem() string         { return p.goos }
func (p *fakeProvider) Priority() int                   { return p.priority }
func (p *fakeProvider) Capabilities() CapabilitySet     { return p.caps }
func (p *fakeProvider) Supported() bool                 { return p.supported }
func (p *fakeProvider) DefaultMountFlags(string) string { return "" }
func (p *fakeProvider) DefaultPort() int                { return 0 }
func (p *fakeProvider) ForFileSystem(fsops.FileSystem) Builder {
	return nil
}

func TestSelectHighestPriorityWins(t *testing.T) {
	r := NewRegistry("linux")
	low := &fakeProvider{name: "low", goos: "linux", priority: 50, supported: true}
	high := &fakeProvider{name: "high", goos: "linux", priority: 100, supported: true}
	r.Register(low)
	r.Register(high)

	p, err := r.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "high", p.DisplayName())
}

func TestSelectTieBrokenByName(t *testing.T) {
	r := NewRegistry("linux")
	r.Register(&fakeProvider{name: "zeta", goos: "linux", priority: 100, supported: true})
	r.Register(&fakeProvider{name: "alpha", goos: "linux", priority: 100, supported: true})

	p, err := r.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.DisplayName())
}

func TestSelectFiltersOperatingSystem(t *testing.T) {
	r := NewRegistry("linux")
	r.Register(&fakeProvider{name: "win", goos: "windows", priority: 100, supported: true})
	r.Register(&fakeProvider{name: "lin", goos: "linux", priority: 10, supported: true})

	p, err := r.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "lin", p.DisplayName())
}

func TestSelectFiltersUnsupported(t *testing.T) {
	r := NewRegistry("linux")
	r.Register(&fakeProvider{name: "missing", goos: "linux", priority: 100, supported: false})
	r.Register(&fakeProvider{name: "present", goos: "linux", priority: 10, supported: true})

	p, err := r.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "present", p.DisplayName())
}

func TestSelectFiltersCapabilities(t *testing.T) {
	r := NewRegistry("linux")
	r.Register(&fakeProvider{
		name: "plain", goos: "linux", priority: 100, supported: true,
		caps: Capabilities(CapMountFlags),
	})
	r.Register(&fakeProvider{
		name: "forced", goos: "linux", priority: 10, supported: true,
		caps: Capabilities(CapMountFlags, CapUnmountForced),
	})

	p, err := r.Select(Capabilities(CapUnmountForced))
	require.NoError(t, err)
	assert.Equal(t, "forced", p.DisplayName())
}

func TestSelectNoApplicableProvider(t *testing.T) {
	r := NewRegistry("linux")
	r.Register(&fakeProvider{name: "plain", goos: "linux", priority: 1, supported: true})

	_, err := r.Select(Capabilities(CapPort))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoApplicableProvider))
}

// Provider determinism: the same inputs select the same provider.
func TestSelectDeterministic(t *testing.T) {
	r := NewRegistry("linux")
	for _, name := range []string{"c", "a", "b"} {
		r.Register(&fakeProvider{name: name, goos: "linux", priority: 7, supported: true})
	}

	first, err := r.Select(0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		p, err := r.Select(0)
		require.NoError(t, err)
		assert.Same(t, first, p)
	}
}

func TestProvidersOrdering(t *testing.T) {
	r := NewRegistry("linux")
	r.Register(&fakeProvider{name: "b", priority: 10})
	r.Register(&fakeProvider{name: "a", priority: 10})
	r.Register(&fakeProvider{name: "c", priority: 90})

	var names []string
	for _, p := range r.Providers() {
		names = append(names, p.DisplayName())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}
