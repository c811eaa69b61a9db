//go:build darwin

package fuse

import (
	"fmt"
	"os"

	"github.com/bridgefs/bridgefs/internal/bridge"
	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/internal/lockmgr"
	"github.com/bridgefs/bridgefs/internal/mount"
)

// fuseTLibraryPath is where the FUSE-T installer places its dynamic library.
const fuseTLibraryPath = "/usr/local/lib/libfuse-t.dylib"

const fuseTDefaultPort = 2049

func init() {
	mount.Register(&FuseTProvider{})
}

// FuseTProvider mounts on macOS through FUSE-T, which serves the volume over
// a local NFS loopback instead of a kernel extension.
type FuseTProvider struct{}

// DisplayName implements mount.Provider.
func (p *FuseTProvider) DisplayName() string { return "FUSE-T" }

// OperatingSystem implements mount.Provider.
func (p *FuseTProvider) OperatingSystem() string { return "darwin" }

// Priority implements mount.Provider.
func (p *FuseTProvider) Priority() int { return 90 }

// Capabilities implements mount.Provider.
func (p *FuseTProvider) Capabilities() mount.CapabilitySet {
	return mount.Capabilities(
		mount.CapMountFlags,
		mount.CapPort,
		mount.CapUnmountForced,
		mount.CapReadOnly,
		mount.CapMountPointEmptyDir,
	)
}

// Supported implements mount.Provider.
func (p *FuseTProvider) Supported() bool {
	_, err := os.Stat(fuseTLibraryPath)
	return err == nil
}

// DefaultMountFlags implements mount.Provider.
// See https://github.com/macos-fuse-t/fuse-t/wiki#supported-mount-options
func (p *FuseTProvider) DefaultMountFlags(volumeName string) string {
	return "-ovolname=" + volumeName + " -orwsize=262144"
}

// DefaultPort implements mount.Provider.
func (p *FuseTProvider) DefaultPort() int { return fuseTDefaultPort }

// ForFileSystem implements mount.Provider.
func (p *FuseTProvider) ForFileSystem(fsys fsops.FileSystem) mount.Builder {
	b := &fuseTBuilder{}
	b.BuilderBase = mount.NewBuilderBase(fsys, p.Capabilities())
	return b
}

type fuseTBuilder struct {
	mount.BuilderBase
}

// Mount implements mount.Builder.
func (b *fuseTBuilder) Mount() (*mount.Mount, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	var derived []string
	if b.Port != 0 {
		derived = append(derived, fmt.Sprintf("-l%d", b.Port))
	}
	br := bridge.New(b.Fsys, lockmgr.New(), collector)
	backend, err := MountCgoFuse(br, b.MountPoint, b.CombinedFlags(derived...), b.ReadOnly)
	if err != nil {
		return nil, mount.NewMountFailedError(err)
	}
	return mount.NewMount(backend, b.MountPoint, b.Caps), nil
}
