// Package mirror implements fsops.FileSystem over a directory of the host
// file system, exposing it one-to-one through the bridge. It is the
// reference operations object and the workhorse of the interactive mirror
// command.
package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/pkg/utils"
)

// FS mirrors a host directory.
type FS struct {
	root string
	log  *utils.StructuredLogger

	mu      sync.Mutex
	handles map[uint64]*os.File
	next    uint64
	closed  bool
}

// New creates a mirror over an existing host directory.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fsops.ErrNotDir
	}
	return &FS{
		root:    abs,
		log:     utils.DefaultLogger().WithComponent("mirror"),
		handles: make(map[uint64]*os.File),
		next:    1,
	}, nil
}

// Root returns the mirrored host directory.
func (m *FS) Root() string {
	return m.root
}

func (m *FS) hostPath(path string) (string, error) {
	if err := utils.ValidateVirtualPath(path); err != nil {
		return "", err
	}
	rel := filepath.FromSlash(strings.TrimPrefix(utils.CanonicalPath(path), "/"))
	return filepath.Join(m.root, rel), nil
}

func attrFromInfo(info os.FileInfo) *fsops.Attr {
	nlink := uint32(1)
	if info.IsDir() {
		nlink = 2
	}
	return &fsops.Attr{
		Size:  info.Size(),
		Mode:  info.Mode(),
		Nlink: nlink,
		Mtime: info.ModTime(),
		Atime: info.ModTime(),
		Ctime: info.ModTime(),
	}
}

// Lookup implements fsops.FileSystem.
func (m *FS) Lookup(ctx context.Context, path string) (*fsops.Attr, error) {
	return m.Getattr(ctx, path)
}

// Getattr implements fsops.FileSystem.
func (m *FS) Getattr(_ context.Context, path string) (*fsops.Attr, error) {
	host, err := m.hostPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(host)
	if err != nil {
		return nil, err
	}
	return attrFromInfo(info), nil
}

// Open implements fsops.FileSystem.
func (m *FS) Open(_ context.Context, path string, flags int) (uint64, error) {
	host, err := m.hostPath(path)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(host, flags, 0)
	if err != nil {
		return 0, err
	}
	return m.track(f), nil
}

// Create implements fsops.FileSystem.
func (m *FS) Create(_ context.Context, path string, mode os.FileMode) (uint64, error) {
	host, err := m.hostPath(path)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(host, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	return m.track(f), nil
}

func (m *FS) track(f *os.File) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	fh := m.next
	m.next++
	m.handles[fh] = f
	return fh
}

func (m *FS) file(fh uint64) (*os.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.handles[fh]
	if !ok {
		return nil, fsops.ErrBadHandle
	}
	return f, nil
}

// Release implements fsops.FileSystem.
func (m *FS) Release(_ context.Context, _ string, fh uint64) error {
	m.mu.Lock()
	f, ok := m.handles[fh]
	delete(m.handles, fh)
	m.mu.Unlock()
	if !ok {
		return fsops.ErrBadHandle
	}
	return f.Close()
}

// Read implements fsops.FileSystem.
func (m *FS) Read(_ context.Context, _ string, fh uint64, dest []byte, off int64) (int, error) {
	f, err := m.file(fh)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(dest, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write implements fsops.FileSystem.
func (m *FS) Write(_ context.Context, _ string, fh uint64, data []byte, off int64) (int, error) {
	f, err := m.file(fh)
	if err != nil {
		return 0, err
	}
	return f.WriteAt(data, off)
}

// Truncate implements fsops.FileSystem.
func (m *FS) Truncate(_ context.Context, path string, size int64) error {
	host, err := m.hostPath(path)
	if err != nil {
		return err
	}
	return os.Truncate(host, size)
}

// Readdir implements fsops.FileSystem.
func (m *FS) Readdir(_ context.Context, path string) ([]fsops.DirEntry, error) {
	host, err := m.hostPath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		return nil, err
	}
	out := make([]fsops.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := os.FileMode(0)
		if info, err := e.Info(); err == nil {
			mode = info.Mode()
		} else if e.IsDir() {
			mode = os.ModeDir
		}
		out = append(out, fsops.DirEntry{Name: e.Name(), Mode: mode})
	}
	return out, nil
}

// Mkdir implements fsops.FileSystem.
func (m *FS) Mkdir(_ context.Context, path string, mode os.FileMode) error {
	host, err := m.hostPath(path)
	if err != nil {
		return err
	}
	return os.Mkdir(host, mode)
}

// Unlink implements fsops.FileSystem.
func (m *FS) Unlink(_ context.Context, path string) error {
	host, err := m.hostPath(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(host)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fsops.ErrIsDir
	}
	return os.Remove(host)
}

// Rmdir implements fsops.FileSystem.
func (m *FS) Rmdir(_ context.Context, path string) error {
	host, err := m.hostPath(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(host)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fsops.ErrNotDir
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fsops.ErrNotEmpty
	}
	return os.Remove(host)
}

// Rename implements fsops.FileSystem.
func (m *FS) Rename(_ context.Context, src, dst string) error {
	srcHost, err := m.hostPath(src)
	if err != nil {
		return err
	}
	dstHost, err := m.hostPath(dst)
	if err != nil {
		return err
	}
	return os.Rename(srcHost, dstHost)
}

// Fsync implements fsops.FileSystem.
func (m *FS) Fsync(_ context.Context, _ string, fh uint64) error {
	f, err := m.file(fh)
	if err != nil {
		return err
	}
	return f.Sync()
}

// Statfs implements fsops.FileSystem.
func (m *FS) Statfs(_ context.Context, _ string) (*fsops.StatVFS, error) {
	// mirrored trees report a roomy synthetic volume; exact host numbers
	// would need platform-specific statfs calls
	return &fsops.StatVFS{
		BlockSize:   4096,
		Blocks:      1 << 30,
		BlocksFree:  1 << 29,
		BlocksAvail: 1 << 29,
		Files:       1 << 20,
		FilesFree:   1 << 19,
		NameMax:     255,
	}, nil
}

// IsInUse implements fsops.FileSystem.
func (m *FS) IsInUse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles) > 0
}

// Close implements fsops.FileSystem.
func (m *FS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if len(m.handles) > 0 {
		m.log.Warn("closing with open handles", map[string]interface{}{"count": len(m.handles)})
	}
	for fh, f := range m.handles {
		_ = f.Close()
		delete(m.handles, fh)
	}
	return nil
}
