//go:build darwin || windows

package fuse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"time"

	cgofuse "github.com/winfsp/cgofuse/fuse"

	"github.com/bridgefs/bridgefs/internal/bridge"
	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/pkg/utils"
)

// CgoFuseBackend drives a cgofuse host (FUSE-T on macOS, WinFsp on Windows)
// and satisfies mount.Backend.
type CgoFuseBackend struct {
	host       *cgofuse.FileSystemHost
	bridge     *bridge.Bridge
	mountPoint string
	done       chan struct{}
	mountOK    bool
	log        *utils.StructuredLogger
}

// MountCgoFuse registers the callback table for the bridge and mounts it.
// The host serve loop runs on its own goroutine. MountCgoFuse waits up to
// 200ms for the host to fail; if the host has not returned by then, the
// mount is reported as established without further confirmation.
func MountCgoFuse(br *bridge.Bridge, mountPoint string, flags []string, readOnly bool) (*CgoFuseBackend, error) {
	fsi := &cgoHost{bridge: br, readOnly: readOnly}
	host := cgofuse.NewFileSystemHost(fsi)

	backend := &CgoFuseBackend{
		host:       host,
		bridge:     br,
		mountPoint: mountPoint,
		done:       make(chan struct{}),
		log:        utils.DefaultLogger().WithComponent("cgofuse"),
	}

	go func() {
		backend.mountOK = host.Mount(mountPoint, flags)
		close(backend.done)
	}()

	// give the host a moment to fail fast on bad parameters
	select {
	case <-backend.done:
		if !backend.mountOK {
			return nil, fmt.Errorf("native mount failed for %s", mountPoint)
		}
	case <-time.After(200 * time.Millisecond):
	}

	backend.log.Info("mounted", map[string]interface{}{"mount_point": mountPoint})
	return backend, nil
}

// IsInUse implements mount.Backend.
func (b *CgoFuseBackend) IsInUse() bool {
	return b.bridge.IsInUse()
}

// Unmount implements mount.Backend.
func (b *CgoFuseBackend) Unmount() error {
	if !b.host.Unmount() {
		return fmt.Errorf("native unmount failed for %s", b.mountPoint)
	}
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("unmount of %s did not settle", b.mountPoint)
	}
	return nil
}

// UnmountForced implements mount.Backend.
func (b *CgoFuseBackend) UnmountForced() error {
	if runtime.GOOS == "darwin" {
		if err := exec.Command("umount", "-f", b.mountPoint).Run(); err != nil {
			return fmt.Errorf("umount -f %s: %w", b.mountPoint, err)
		}
		return nil
	}
	// WinFsp tears down open handles itself
	if !b.host.Unmount() {
		return fmt.Errorf("forced native unmount failed for %s", b.mountPoint)
	}
	return nil
}

// Close implements mount.Backend.
func (b *CgoFuseBackend) Close() error {
	return b.bridge.Close()
}

// cgoHost adapts the cgofuse callback table to the bridge.
type cgoHost struct {
	cgofuse.FileSystemBase
	bridge   *bridge.Bridge
	readOnly bool
}

func errcOf(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, fsops.ErrNotExist):
		return -cgofuse.ENOENT
	case errors.Is(err, fsops.ErrExist):
		return -cgofuse.EEXIST
	case errors.Is(err, fsops.ErrNotEmpty):
		return -cgofuse.ENOTEMPTY
	case errors.Is(err, fsops.ErrIsDir):
		return -cgofuse.EISDIR
	case errors.Is(err, fsops.ErrNotDir):
		return -cgofuse.ENOTDIR
	case errors.Is(err, fsops.ErrReadOnly):
		return -cgofuse.EROFS
	case errors.Is(err, fsops.ErrBadHandle):
		return -cgofuse.EBADF
	case errors.Is(err, fs.ErrPermission):
		return -cgofuse.EACCES
	default:
		return -cgofuse.EIO
	}
}

func fillStat(attr *fsops.Attr, stat *cgofuse.Stat_t) {
	perm := uint32(attr.Mode.Perm())
	if attr.IsDir() {
		stat.Mode = cgofuse.S_IFDIR | perm
	} else {
		stat.Mode = cgofuse.S_IFREG | perm
	}
	stat.Nlink = attr.Nlink
	stat.Size = attr.Size
	stat.Uid = attr.Uid
	stat.Gid = attr.Gid
	stat.Mtim = cgofuse.NewTimespec(attr.Mtime)
	stat.Atim = cgofuse.NewTimespec(attr.Atime)
	stat.Ctim = cgofuse.NewTimespec(attr.Ctime)
}

func (h *cgoHost) Getattr(path string, stat *cgofuse.Stat_t, _ uint64) int {
	attr, err := h.bridge.Getattr(context.Background(), path)
	if err != nil {
		return errcOf(err)
	}
	fillStat(attr, stat)
	return 0
}

func (h *cgoHost) Readdir(path string, fill func(name string, stat *cgofuse.Stat_t, ofst int64) bool, _ int64, _ uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)
	entries, err := h.bridge.Readdir(context.Background(), path)
	if err != nil {
		return errcOf(err)
	}
	for _, e := range entries {
		stat := &cgofuse.Stat_t{}
		if e.Mode.IsDir() {
			stat.Mode = cgofuse.S_IFDIR | uint32(e.Mode.Perm())
			stat.Nlink = 2
		} else {
			stat.Mode = cgofuse.S_IFREG | uint32(e.Mode.Perm())
			stat.Nlink = 1
		}
		if !fill(e.Name, stat, 0) {
			break
		}
	}
	return 0
}

func (h *cgoHost) Open(path string, flags int) (int, uint64) {
	if h.readOnly && flags&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC) != 0 {
		return -cgofuse.EROFS, ^uint64(0)
	}
	fh, err := h.bridge.Open(context.Background(), path, flags)
	if err != nil {
		return errcOf(err), ^uint64(0)
	}
	return 0, fh
}

func (h *cgoHost) Create(path string, _ int, mode uint32) (int, uint64) {
	if h.readOnly {
		return -cgofuse.EROFS, ^uint64(0)
	}
	fh, err := h.bridge.Create(context.Background(), path, os.FileMode(mode))
	if err != nil {
		return errcOf(err), ^uint64(0)
	}
	return 0, fh
}

func (h *cgoHost) Release(path string, fh uint64) int {
	return errcOf(h.bridge.Release(context.Background(), path, fh))
}

func (h *cgoHost) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := h.bridge.Read(context.Background(), path, fh, buff, ofst)
	if err != nil {
		return errcOf(err)
	}
	return n
}

func (h *cgoHost) Write(path string, buff []byte, ofst int64, fh uint64) int {
	if h.readOnly {
		return -cgofuse.EROFS
	}
	n, err := h.bridge.Write(context.Background(), path, fh, buff, ofst)
	if err != nil {
		return errcOf(err)
	}
	return n
}

func (h *cgoHost) Truncate(path string, size int64, _ uint64) int {
	if h.readOnly {
		return -cgofuse.EROFS
	}
	return errcOf(h.bridge.Truncate(context.Background(), path, size))
}

func (h *cgoHost) Fsync(path string, _ bool, fh uint64) int {
	return errcOf(h.bridge.Fsync(context.Background(), path, fh))
}

func (h *cgoHost) Mkdir(path string, mode uint32) int {
	if h.readOnly {
		return -cgofuse.EROFS
	}
	return errcOf(h.bridge.Mkdir(context.Background(), path, os.FileMode(mode)|os.ModeDir))
}

func (h *cgoHost) Unlink(path string) int {
	if h.readOnly {
		return -cgofuse.EROFS
	}
	return errcOf(h.bridge.Unlink(context.Background(), path))
}

func (h *cgoHost) Rmdir(path string) int {
	if h.readOnly {
		return -cgofuse.EROFS
	}
	return errcOf(h.bridge.Rmdir(context.Background(), path))
}

func (h *cgoHost) Rename(oldpath string, newpath string) int {
	if h.readOnly {
		return -cgofuse.EROFS
	}
	return errcOf(h.bridge.Rename(context.Background(), oldpath, newpath))
}

func (h *cgoHost) Statfs(path string, stat *cgofuse.Statfs_t) int {
	st, err := h.bridge.Statfs(context.Background(), path)
	if err != nil {
		return errcOf(err)
	}
	stat.Bsize = uint64(st.BlockSize)
	stat.Frsize = uint64(st.BlockSize)
	stat.Blocks = st.Blocks
	stat.Bfree = st.BlocksFree
	stat.Bavail = st.BlocksAvail
	stat.Files = st.Files
	stat.Ffree = st.FilesFree
	stat.Namemax = uint64(st.NameMax)
	return 0
}
