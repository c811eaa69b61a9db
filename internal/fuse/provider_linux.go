//go:build linux

package fuse

import (
	"os"

	"github.com/bridgefs/bridgefs/internal/bridge"
	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/internal/lockmgr"
	"github.com/bridgefs/bridgefs/internal/mount"
)

const fuseDevicePath = "/dev/fuse"

func init() {
	mount.Register(&LibfuseProvider{})
}

// LibfuseProvider mounts through the kernel fuse driver via go-fuse.
type LibfuseProvider struct{}

// DisplayName implements mount.Provider.
func (p *LibfuseProvider) DisplayName() string { return "libfuse" }

// OperatingSystem implements mount.Provider.
func (p *LibfuseProvider) OperatingSystem() string { return "linux" }

// Priority implements mount.Provider.
func (p *LibfuseProvider) Priority() int { return 100 }

// Capabilities implements mount.Provider.
func (p *LibfuseProvider) Capabilities() mount.CapabilitySet {
	return mount.Capabilities(
		mount.CapMountFlags,
		mount.CapReadOnly,
		mount.CapUnmountForced,
		mount.CapMountPointEmptyDir,
	)
}

// Supported implements mount.Provider.
func (p *LibfuseProvider) Supported() bool {
	_, err := os.Stat(fuseDevicePath)
	return err == nil
}

// DefaultMountFlags implements mount.Provider.
func (p *LibfuseProvider) DefaultMountFlags(volumeName string) string {
	return "-ofsname=" + volumeName
}

// DefaultPort implements mount.Provider.
func (p *LibfuseProvider) DefaultPort() int { return 0 }

// ForFileSystem implements mount.Provider.
func (p *LibfuseProvider) ForFileSystem(fsys fsops.FileSystem) mount.Builder {
	b := &libfuseBuilder{}
	b.BuilderBase = mount.NewBuilderBase(fsys, p.Capabilities())
	return b
}

type libfuseBuilder struct {
	mount.BuilderBase
}

// Mount implements mount.Builder.
func (b *libfuseBuilder) Mount() (*mount.Mount, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	br := bridge.New(b.Fsys, lockmgr.New(), collector)
	backend, err := MountGoFuse(br, b.MountPoint, b.CombinedFlags(), "bridgefs")
	if err != nil {
		return nil, mount.NewMountFailedError(err)
	}
	return mount.NewMount(backend, b.MountPoint, b.Caps), nil
}
