//go:build windows

package fuse

import (
	"crypto/rand"
	"encoding/hex"
	"os"

	"github.com/bridgefs/bridgefs/internal/bridge"
	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/internal/lockmgr"
	"github.com/bridgefs/bridgefs/internal/mount"
)

// winfspDLLPath is where the WinFsp installer places its driver DLL.
const winfspDLLPath = `C:\Program Files (x86)\WinFsp\bin\winfsp-x64.dll`

func init() {
	mount.Register(&WinFspNetworkProvider{})
}

// WinFspNetworkProvider mounts on Windows through WinFsp as a network drive,
// which gives Explorer an ejectable volume and allows forced teardown.
type WinFspNetworkProvider struct{}

// DisplayName implements mount.Provider.
func (p *WinFspNetworkProvider) DisplayName() string { return "WinFsp" }

// OperatingSystem implements mount.Provider.
func (p *WinFspNetworkProvider) OperatingSystem() string { return "windows" }

// Priority implements mount.Provider.
func (p *WinFspNetworkProvider) Priority() int { return 100 }

// Capabilities implements mount.Provider.
// No MOUNT_WITHIN_EXISTING_PARENT support here.
func (p *WinFspNetworkProvider) Capabilities() mount.CapabilitySet {
	return mount.Capabilities(
		mount.CapMountFlags,
		mount.CapMountAsDriveLetter,
		mount.CapUnmountForced,
		mount.CapReadOnly,
		mount.CapVolumeName,
		mount.CapLoopbackHostName,
	)
}

// Supported implements mount.Provider.
func (p *WinFspNetworkProvider) Supported() bool {
	_, err := os.Stat(winfspDLLPath)
	return err == nil
}

// DefaultMountFlags implements mount.Provider.
func (p *WinFspNetworkProvider) DefaultMountFlags(string) string { return "" }

// DefaultPort implements mount.Provider.
func (p *WinFspNetworkProvider) DefaultPort() int { return 0 }

// ForFileSystem implements mount.Provider.
func (p *WinFspNetworkProvider) ForFileSystem(fsys fsops.FileSystem) mount.Builder {
	b := &winFspNetworkBuilder{}
	b.BuilderBase = mount.NewBuilderBase(fsys, p.Capabilities())
	return b
}

type winFspNetworkBuilder struct {
	mount.BuilderBase
}

// SetMountPoint implements mount.Builder. Network mounts surface as drive
// letters only.
func (b *winFspNetworkBuilder) SetMountPoint(path string) error {
	if !mount.IsDriveLetterPath(path) {
		return mount.NewInvalidMountParameterError("mount point must be a drive letter: %s", path)
	}
	return b.BuilderBase.SetMountPoint(path)
}

// Mount implements mount.Builder.
func (b *winFspNetworkBuilder) Mount() (*mount.Mount, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	volume := b.VolumeName
	if volume == "" {
		volume = randomVolumeID()
	}
	derived := []string{"-oVolumePrefix=/" + b.LoopbackHostName + "/" + volume}
	br := bridge.New(b.Fsys, lockmgr.New(), collector)
	backend, err := MountCgoFuse(br, b.MountPoint, b.CombinedFlags(derived...), b.ReadOnly)
	if err != nil {
		return nil, mount.NewMountFailedError(err)
	}
	return mount.NewMount(backend, b.MountPoint, b.Caps), nil
}

// randomVolumeID generates a unique volume path segment for unnamed mounts.
func randomVolumeID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
