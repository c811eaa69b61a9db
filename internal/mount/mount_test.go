package mount

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgefs/bridgefs/pkg/errors"
)

type fakeBackend struct {
	inUse bool

	unmountErr   error
	forcedErr    error
	closeErr     error
	unmountCalls int
	forcedCalls  int
	closeCalls   int
}

func (b *fakeBackend) IsInUse() bool { return b.inUse }

func (b *fakeBackend) Unmount() error {
	b.unmountCalls++
	return b.unmountErr
}

func (b *fakeBackend) UnmountForced() error {
	b.forcedCalls++
	return b.forcedErr
}

func (b *fakeBackend) Close() error {
	b.closeCalls++
	return b.closeErr
}

func TestMountPointImmutable(t *testing.T) {
	m := NewMount(&fakeBackend{}, "/mnt/vol", 0)
	assert.Equal(t, "/mnt/vol", m.MountPoint())
	assert.Equal(t, StateMounted, m.State())
}

func TestGracefulUnmount(t *testing.T) {
	backend := &fakeBackend{}
	m := NewMount(backend, "/mnt/vol", 0)

	require.NoError(t, m.Unmount())
	assert.Equal(t, StateUnmounted, m.State())
	assert.Equal(t, 1, backend.unmountCalls)

	// a second unmount is a state error
	err := m.Unmount()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestUnmountRefusedWhileInUse(t *testing.T) {
	backend := &fakeBackend{inUse: true}
	m := NewMount(backend, "/mnt/vol", 0)

	err := m.Unmount()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnmountRefused))
	assert.Equal(t, StateMounted, m.State())
	assert.Zero(t, backend.unmountCalls)
}

func TestUnmountFailureRestoresState(t *testing.T) {
	backend := &fakeBackend{unmountErr: fmt.Errorf("backend exploded")}
	m := NewMount(backend, "/mnt/vol", 0)

	err := m.Unmount()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnmountFailed))
	assert.Equal(t, StateMounted, m.State())
}

func TestForcedUnmountRequiresCapability(t *testing.T) {
	m := NewMount(&fakeBackend{}, "/mnt/vol", 0)

	err := m.UnmountForced()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedCapability))
}

func TestForcedUnmountBypassesInUseCheck(t *testing.T) {
	backend := &fakeBackend{inUse: true}
	m := NewMount(backend, "/mnt/vol", Capabilities(CapUnmountForced))

	require.NoError(t, m.UnmountForced())
	assert.Equal(t, StateUnmounted, m.State())
	assert.Equal(t, 1, backend.forcedCalls)
}

func TestReleaseAfterUnmountOnlyCloses(t *testing.T) {
	backend := &fakeBackend{}
	m := NewMount(backend, "/mnt/vol", 0)

	require.NoError(t, m.Unmount())
	require.NoError(t, m.Release())
	assert.Equal(t, 1, backend.unmountCalls)
	assert.Equal(t, 1, backend.closeCalls)
}

func TestReleaseUnmountsWhenStillMounted(t *testing.T) {
	backend := &fakeBackend{}
	m := NewMount(backend, "/mnt/vol", 0)

	require.NoError(t, m.Release())
	assert.Equal(t, StateUnmounted, m.State())
	assert.Equal(t, 1, backend.unmountCalls)
	assert.Equal(t, 1, backend.closeCalls)
}

// S6: a busy adapter forces escalation; the forced unmount runs exactly once
// and the handle ends up Unmounted.
func TestReleaseEscalatesToForcedUnmount(t *testing.T) {
	backend := &fakeBackend{inUse: true}
	m := NewMount(backend, "/mnt/vol", Capabilities(CapUnmountForced))

	require.NoError(t, m.Release())
	assert.Equal(t, StateUnmounted, m.State())
	assert.Zero(t, backend.unmountCalls, "graceful unmount should have been refused before the backend call")
	assert.Equal(t, 1, backend.forcedCalls)
	assert.Equal(t, 1, backend.closeCalls)
}

func TestReleaseSurfacesFailureWithoutForcedCapability(t *testing.T) {
	backend := &fakeBackend{inUse: true}
	m := NewMount(backend, "/mnt/vol", 0)

	err := m.Release()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnmountRefused))
	// native resources are released regardless
	assert.Equal(t, 1, backend.closeCalls)
}

func TestReleaseSurfacesForcedFailure(t *testing.T) {
	backend := &fakeBackend{inUse: true, forcedErr: fmt.Errorf("still busy")}
	m := NewMount(backend, "/mnt/vol", Capabilities(CapUnmountForced))

	err := m.Release()
	require.Error(t, err)
	assert.Equal(t, 1, backend.forcedCalls)
	assert.Equal(t, 1, backend.closeCalls)
}

// Unmount idempotence at the release level: releasing twice is a no-op.
func TestReleaseIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	m := NewMount(backend, "/mnt/vol", 0)

	require.NoError(t, m.Release())
	require.NoError(t, m.Release())
	assert.Equal(t, 1, backend.closeCalls)
	assert.Equal(t, 1, backend.unmountCalls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Mounted", StateMounted.String())
	assert.Equal(t, "Unmounting", StateUnmounting.String())
	assert.Equal(t, "ForceUnmounting", StateForceUnmounting.String())
	assert.Equal(t, "Unmounted", StateUnmounted.String())
}
