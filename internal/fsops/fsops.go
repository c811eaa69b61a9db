// Package fsops defines the filesystem-operations contract between the FUSE
// bridge and the storage adapters behind it. The bridge owns the locking
// policy; implementations of FileSystem own the semantics. The bridge keeps
// writers and structural changes apart from other calls on the same path,
// but calls that only read (open, read, getattr, ...) may run concurrently
// on one path.
package fsops

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

// Sentinel errors implementations return so the native backends can map them
// to errno values. fs.ErrNotExist, fs.ErrExist and fs.ErrPermission from the
// standard library are honored as well.
var (
	ErrNotExist  = fs.ErrNotExist
	ErrExist     = fs.ErrExist
	ErrNotEmpty  = errors.New("directory not empty")
	ErrIsDir     = errors.New("is a directory")
	ErrNotDir    = errors.New("not a directory")
	ErrReadOnly  = errors.New("read-only file system")
	ErrBadHandle = errors.New("invalid file handle")
)

// Attr holds the attributes of a file or directory.
type Attr struct {
	Size  int64
	Mode  os.FileMode
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Mtime time.Time
	Atime time.Time
	Ctime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a *Attr) IsDir() bool {
	return a.Mode.IsDir()
}

// DirEntry is a single directory listing entry.
type DirEntry struct {
	Name string
	Mode os.FileMode
}

// StatVFS holds file system level statistics.
type StatVFS struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	NameMax     uint32
}

// FileSystem is the operations object a mount serves. All paths are absolute
// virtual paths ("/", "/foo/bar"). The bridge guarantees the locking regime
// for every call: path locks are held on the target (and, for structural
// operations, a write lock on the parent), and data locks are held for calls
// that touch content.
//
// Implementations return the sentinel errors above (or wrap them) to signal
// POSIX-mappable conditions.
type FileSystem interface {
	// Lookup resolves a path to its attributes, ErrNotExist if absent.
	Lookup(ctx context.Context, path string) (*Attr, error)

	// Getattr returns the attributes of an existing node.
	Getattr(ctx context.Context, path string) (*Attr, error)

	// Open opens an existing file and returns a handle.
	Open(ctx context.Context, path string, flags int) (uint64, error)

	// Release closes a handle obtained from Open or Create.
	Release(ctx context.Context, path string, fh uint64) error

	// Read reads up to len(dest) bytes at off. Short reads at end of file
	// are not errors.
	Read(ctx context.Context, path string, fh uint64, dest []byte, off int64) (int, error)

	// Write writes data at off, extending the file as needed.
	Write(ctx context.Context, path string, fh uint64, data []byte, off int64) (int, error)

	// Truncate resizes the file at path to size bytes.
	Truncate(ctx context.Context, path string, size int64) error

	// Readdir lists a directory, excluding "." and "..".
	Readdir(ctx context.Context, path string) ([]DirEntry, error)

	// Create creates a new file and opens it, returning a handle.
	Create(ctx context.Context, path string, mode os.FileMode) (uint64, error)

	// Mkdir creates a directory.
	Mkdir(ctx context.Context, path string, mode os.FileMode) error

	// Unlink removes a file.
	Unlink(ctx context.Context, path string) error

	// Rmdir removes an empty directory, ErrNotEmpty otherwise.
	Rmdir(ctx context.Context, path string) error

	// Rename atomically moves src to dst, replacing dst if present.
	Rename(ctx context.Context, src, dst string) error

	// Fsync flushes buffered state for the file to durable storage.
	Fsync(ctx context.Context, path string, fh uint64) error

	// Statfs reports file system statistics.
	Statfs(ctx context.Context, path string) (*StatVFS, error)

	// IsInUse reports whether the file system has open handles or pending
	// operations that make a graceful unmount unsafe.
	IsInUse() bool

	// Close releases all resources. Called once, after unmount.
	Close() error
}
