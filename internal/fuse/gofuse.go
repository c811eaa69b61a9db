//go:build linux

package fuse

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bridgefs/bridgefs/internal/bridge"
	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/pkg/utils"
)

// GoFuseBackend drives a go-fuse server and satisfies mount.Backend.
type GoFuseBackend struct {
	server     *gofuse.Server
	bridge     *bridge.Bridge
	mountPoint string
	log        *utils.StructuredLogger
}

// MountGoFuse registers the callback table for the bridge and mounts it.
func MountGoFuse(br *bridge.Bridge, mountPoint string, flags []string, fsName string) (*GoFuseBackend, error) {
	attrTimeout := time.Second
	entryTimeout := time.Second
	opts := &gofusefs.Options{
		MountOptions: gofuse.MountOptions{
			Name:    "bridgefs",
			FsName:  fsName,
			Options: translateFlags(flags),
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}

	root := &bridgeNode{bridge: br}
	server, err := gofusefs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, err
	}

	backend := &GoFuseBackend{
		server:     server,
		bridge:     br,
		mountPoint: mountPoint,
		log:        utils.DefaultLogger().WithComponent("gofuse"),
	}
	go server.Wait()
	backend.log.Info("mounted", map[string]interface{}{"mount_point": mountPoint})
	return backend, nil
}

// IsInUse implements mount.Backend.
func (b *GoFuseBackend) IsInUse() bool {
	return b.bridge.IsInUse()
}

// Unmount implements mount.Backend.
func (b *GoFuseBackend) Unmount() error {
	return b.server.Unmount()
}

// UnmountForced implements mount.Backend. Lazy detach first, then a forced
// unmount for kernels that do not support it.
func (b *GoFuseBackend) UnmountForced() error {
	if err := syscall.Unmount(b.mountPoint, syscall.MNT_DETACH); err == nil {
		return nil
	}
	return syscall.Unmount(b.mountPoint, syscall.MNT_FORCE)
}

// Close implements mount.Backend.
func (b *GoFuseBackend) Close() error {
	return b.bridge.Close()
}

// translateFlags converts "-oKEY[=VALUE]" style flags to go-fuse option
// strings. "-r" becomes "ro"; flags the kernel driver does not take are
// dropped.
func translateFlags(flags []string) []string {
	var opts []string
	for _, f := range flags {
		switch {
		case f == "-r":
			opts = append(opts, "ro")
		case strings.HasPrefix(f, "-o") && len(f) > 2:
			opts = append(opts, f[2:])
		}
	}
	return opts
}

// bridgeNode adapts one tree position to the bridge. The virtual path is
// derived from the inode's position, so renames through other channels stay
// consistent.
type bridgeNode struct {
	gofusefs.Inode
	bridge *bridge.Bridge
}

var (
	_ = (gofusefs.NodeLookuper)((*bridgeNode)(nil))
	_ = (gofusefs.NodeGetattrer)((*bridgeNode)(nil))
	_ = (gofusefs.NodeSetattrer)((*bridgeNode)(nil))
	_ = (gofusefs.NodeReaddirer)((*bridgeNode)(nil))
	_ = (gofusefs.NodeMkdirer)((*bridgeNode)(nil))
	_ = (gofusefs.NodeCreater)((*bridgeNode)(nil))
	_ = (gofusefs.NodeUnlinker)((*bridgeNode)(nil))
	_ = (gofusefs.NodeRmdirer)((*bridgeNode)(nil))
	_ = (gofusefs.NodeRenamer)((*bridgeNode)(nil))
	_ = (gofusefs.NodeOpener)((*bridgeNode)(nil))
	_ = (gofusefs.NodeStatfser)((*bridgeNode)(nil))
)

func (n *bridgeNode) path() string {
	return "/" + n.Path(nil)
}

func (n *bridgeNode) childPath(name string) string {
	p := n.Path(nil)
	if p == "" {
		return "/" + name
	}
	return "/" + p + "/" + name
}

func fillAttr(attr *fsops.Attr, out *gofuse.Attr) {
	out.Size = uint64(attr.Size)
	out.Mode = modeBits(attr.Mode)
	out.Nlink = attr.Nlink
	out.Owner.Uid = attr.Uid
	out.Owner.Gid = attr.Gid
	out.Mtime = uint64(attr.Mtime.Unix())
	out.Atime = uint64(attr.Atime.Unix())
	out.Ctime = uint64(attr.Ctime.Unix())
}

func modeBits(mode os.FileMode) uint32 {
	perm := uint32(mode.Perm())
	if mode.IsDir() {
		return gofuse.S_IFDIR | perm
	}
	if mode&os.ModeSymlink != 0 {
		return gofuse.S_IFLNK | perm
	}
	return gofuse.S_IFREG | perm
}

func stableMode(mode os.FileMode) uint32 {
	if mode.IsDir() {
		return gofuse.S_IFDIR
	}
	return gofuse.S_IFREG
}

// errnoOf maps fsops sentinel errors, wrapped OS errors and raw errnos to a
// FUSE status.
func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, fsops.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fsops.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, fsops.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, fsops.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, fsops.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, fsops.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, fsops.ErrBadHandle):
		return syscall.EBADF
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

func (n *bridgeNode) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	attr, err := n.bridge.Lookup(ctx, childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(attr, &out.Attr)
	child := n.NewInode(ctx, &bridgeNode{bridge: n.bridge}, gofusefs.StableAttr{Mode: stableMode(attr.Mode)})
	return child, 0
}

func (n *bridgeNode) Getattr(ctx context.Context, _ gofusefs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	attr, err := n.bridge.Getattr(ctx, n.path())
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

func (n *bridgeNode) Setattr(ctx context.Context, _ gofusefs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.bridge.Truncate(ctx, n.path(), int64(size)); err != nil {
			return errnoOf(err)
		}
	}
	attr, err := n.bridge.Getattr(ctx, n.path())
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

func (n *bridgeNode) Readdir(ctx context.Context) (gofusefs.DirStream, syscall.Errno) {
	entries, err := n.bridge.Readdir(ctx, n.path())
	if err != nil {
		return nil, errnoOf(err)
	}
	out := make([]gofuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, gofuse.DirEntry{Name: e.Name, Mode: stableMode(e.Mode)})
	}
	return gofusefs.NewListDirStream(out), 0
}

func (n *bridgeNode) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.bridge.Mkdir(ctx, childPath, os.FileMode(mode)|os.ModeDir); err != nil {
		return nil, errnoOf(err)
	}
	attr, err := n.bridge.Getattr(ctx, childPath)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(attr, &out.Attr)
	child := n.NewInode(ctx, &bridgeNode{bridge: n.bridge}, gofusefs.StableAttr{Mode: gofuse.S_IFDIR})
	return child, 0
}

func (n *bridgeNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*gofusefs.Inode, gofusefs.FileHandle, uint32, syscall.Errno) {
	childPath := n.childPath(name)
	fh, err := n.bridge.Create(ctx, childPath, os.FileMode(mode))
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	attr, err := n.bridge.Getattr(ctx, childPath)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	fillAttr(attr, &out.Attr)
	child := n.NewInode(ctx, &bridgeNode{bridge: n.bridge}, gofusefs.StableAttr{Mode: gofuse.S_IFREG})
	handle := &bridgeHandle{bridge: n.bridge, path: childPath, fh: fh}
	return child, handle, 0, 0
}

func (n *bridgeNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.bridge.Unlink(ctx, n.childPath(name)))
}

func (n *bridgeNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.bridge.Rmdir(ctx, n.childPath(name)))
}

func (n *bridgeNode) Rename(ctx context.Context, name string, newParent gofusefs.InodeEmbedder, newName string, _ uint32) syscall.Errno {
	src := n.childPath(name)
	dstParent := newParent.EmbeddedInode().Path(nil)
	dst := "/" + newName
	if dstParent != "" {
		dst = "/" + dstParent + "/" + newName
	}
	return errnoOf(n.bridge.Rename(ctx, src, dst))
}

func (n *bridgeNode) Open(ctx context.Context, flags uint32) (gofusefs.FileHandle, uint32, syscall.Errno) {
	path := n.path()
	fh, err := n.bridge.Open(ctx, path, int(flags))
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	return &bridgeHandle{bridge: n.bridge, path: path, fh: fh}, 0, 0
}

func (n *bridgeNode) Statfs(ctx context.Context, out *gofuse.StatfsOut) syscall.Errno {
	st, err := n.bridge.Statfs(ctx, n.path())
	if err != nil {
		return errnoOf(err)
	}
	out.Bsize = st.BlockSize
	out.Frsize = st.BlockSize
	out.Blocks = st.Blocks
	out.Bfree = st.BlocksFree
	out.Bavail = st.BlocksAvail
	out.Files = st.Files
	out.Ffree = st.FilesFree
	out.NameLen = st.NameMax
	return 0
}

// bridgeHandle is an open file handle flowing through the bridge.
type bridgeHandle struct {
	bridge *bridge.Bridge
	path   string
	fh     uint64
}

var (
	_ = (gofusefs.FileReader)((*bridgeHandle)(nil))
	_ = (gofusefs.FileWriter)((*bridgeHandle)(nil))
	_ = (gofusefs.FileReleaser)((*bridgeHandle)(nil))
	_ = (gofusefs.FileFsyncer)((*bridgeHandle)(nil))
)

func (h *bridgeHandle) Read(ctx context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	n, err := h.bridge.Read(ctx, h.path, h.fh, dest, off)
	if err != nil {
		return nil, errnoOf(err)
	}
	return gofuse.ReadResultData(dest[:n]), 0
}

func (h *bridgeHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.bridge.Write(ctx, h.path, h.fh, data, off)
	if err != nil {
		return 0, errnoOf(err)
	}
	return uint32(n), 0
}

func (h *bridgeHandle) Release(ctx context.Context) syscall.Errno {
	return errnoOf(h.bridge.Release(ctx, h.path, h.fh))
}

func (h *bridgeHandle) Fsync(ctx context.Context, _ uint32) syscall.Errno {
	return errnoOf(h.bridge.Fsync(ctx, h.path, h.fh))
}
