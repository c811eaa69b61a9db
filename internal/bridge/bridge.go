// Package bridge connects native FUSE upcalls to a filesystem-operations
// object, enforcing the hierarchical locking policy on every call. Only the
// locking policy lives here; the semantics of each operation belong to the
// fsops.FileSystem behind it.
package bridge

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/internal/lockmgr"
	"github.com/bridgefs/bridgefs/internal/metrics"
	"github.com/bridgefs/bridgefs/pkg/utils"
)

// Bridge dispatches upcalls under the correct path and data locks.
//
// The policy, by upcall kind:
//
//	lookup getattr readdir statfs   read path
//	open read                       read path, read data
//	write truncate fsync            read path, write data
//	create unlink                   write parent, read target, write data
//	mkdir rmdir                     write parent, read target
//	rename                          write both paths, write both data
//
// Rename acquires its two paths in lexicographic component order so that
// crossing renames on different threads cannot deadlock.
type Bridge struct {
	fsys        fsops.FileSystem
	locks       *lockmgr.Manager
	collector   *metrics.Collector
	openHandles atomic.Int64
}

// New creates a bridge over the given operations object. The collector may
// be nil.
func New(fsys fsops.FileSystem, locks *lockmgr.Manager, collector *metrics.Collector) *Bridge {
	collector.RegisterLockGauges(locks.PathLockCount, locks.DataLockCount)
	return &Bridge{fsys: fsys, locks: locks, collector: collector}
}

// Lookup resolves path attributes under a read lock.
func (b *Bridge) Lookup(ctx context.Context, path string) (attr *fsops.Attr, err error) {
	defer b.observe("lookup", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	return b.fsys.Lookup(ctx, path)
}

// Getattr returns attributes under a read lock.
func (b *Bridge) Getattr(ctx context.Context, path string) (attr *fsops.Attr, err error) {
	defer b.observe("getattr", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	return b.fsys.Getattr(ctx, path)
}

// Readdir lists a directory under a read lock.
func (b *Bridge) Readdir(ctx context.Context, path string) (entries []fsops.DirEntry, err error) {
	defer b.observe("readdir", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	return b.fsys.Readdir(ctx, path)
}

// Statfs reports file system statistics under a read lock.
func (b *Bridge) Statfs(ctx context.Context, path string) (st *fsops.StatVFS, err error) {
	defer b.observe("statfs", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	return b.fsys.Statfs(ctx, path)
}

// Open opens a file under path and data read locks.
func (b *Bridge) Open(ctx context.Context, path string, flags int) (fh uint64, err error) {
	defer b.observe("open", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	dl := pl.LockDataForReading()
	defer dl.Unlock()
	fh, err = b.fsys.Open(ctx, path, flags)
	if err == nil {
		b.openHandles.Add(1)
	}
	return fh, err
}

// Release closes a handle under a path read lock.
func (b *Bridge) Release(ctx context.Context, path string, fh uint64) (err error) {
	defer b.observe("release", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	err = b.fsys.Release(ctx, path, fh)
	b.openHandles.Add(-1)
	return err
}

// Read reads file content under path and data read locks.
func (b *Bridge) Read(ctx context.Context, path string, fh uint64, dest []byte, off int64) (n int, err error) {
	defer b.observe("read", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	dl := pl.LockDataForReading()
	defer dl.Unlock()
	n, err = b.fsys.Read(ctx, path, fh, dest, off)
	b.collector.AddBytesRead(n)
	return n, err
}

// Write writes file content under a path read lock and a data write lock.
func (b *Bridge) Write(ctx context.Context, path string, fh uint64, data []byte, off int64) (n int, err error) {
	defer b.observe("write", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	dl := pl.LockDataForWriting()
	defer dl.Unlock()
	n, err = b.fsys.Write(ctx, path, fh, data, off)
	b.collector.AddBytesWritten(n)
	return n, err
}

// Truncate resizes a file under a path read lock and a data write lock.
func (b *Bridge) Truncate(ctx context.Context, path string, size int64) (err error) {
	defer b.observe("truncate", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	dl := pl.LockDataForWriting()
	defer dl.Unlock()
	return b.fsys.Truncate(ctx, path, size)
}

// Fsync flushes a file under a path read lock and a data write lock.
func (b *Bridge) Fsync(ctx context.Context, path string, fh uint64) (err error) {
	defer b.observe("fsync", time.Now(), &err)
	pl := b.locks.LockPathForReading(path)
	defer pl.Unlock()
	dl := pl.LockDataForWriting()
	defer dl.Unlock()
	return b.fsys.Fsync(ctx, path, fh)
}

// Create makes and opens a new file. The parent is write-locked to exclude
// concurrent structural changes; the new entry is then read-locked and its
// data write-locked.
func (b *Bridge) Create(ctx context.Context, path string, mode os.FileMode) (fh uint64, err error) {
	defer b.observe("create", time.Now(), &err)
	parent, name, perr := splitParent(path)
	if perr != nil {
		return 0, perr
	}
	ppl := b.locks.LockPathForWriting(parent)
	defer ppl.Unlock()
	cl := ppl.LockChildForReading(name)
	defer cl.Unlock()
	dl := cl.LockDataForWriting()
	defer dl.Unlock()
	fh, err = b.fsys.Create(ctx, path, mode)
	if err == nil {
		b.openHandles.Add(1)
	}
	return fh, err
}

// Mkdir creates a directory under a parent write lock.
func (b *Bridge) Mkdir(ctx context.Context, path string, mode os.FileMode) (err error) {
	defer b.observe("mkdir", time.Now(), &err)
	parent, name, perr := splitParent(path)
	if perr != nil {
		return perr
	}
	ppl := b.locks.LockPathForWriting(parent)
	defer ppl.Unlock()
	cl := ppl.LockChildForReading(name)
	defer cl.Unlock()
	return b.fsys.Mkdir(ctx, path, mode)
}

// Unlink removes a file under a parent write lock and a data write lock.
func (b *Bridge) Unlink(ctx context.Context, path string) (err error) {
	defer b.observe("unlink", time.Now(), &err)
	parent, name, perr := splitParent(path)
	if perr != nil {
		return perr
	}
	ppl := b.locks.LockPathForWriting(parent)
	defer ppl.Unlock()
	cl := ppl.LockChildForReading(name)
	defer cl.Unlock()
	dl := cl.LockDataForWriting()
	defer dl.Unlock()
	return b.fsys.Unlink(ctx, path)
}

// Rmdir removes a directory under a parent write lock.
func (b *Bridge) Rmdir(ctx context.Context, path string) (err error) {
	defer b.observe("rmdir", time.Now(), &err)
	parent, name, perr := splitParent(path)
	if perr != nil {
		return perr
	}
	ppl := b.locks.LockPathForWriting(parent)
	defer ppl.Unlock()
	cl := ppl.LockChildForReading(name)
	defer cl.Unlock()
	return b.fsys.Rmdir(ctx, path)
}

// Rename moves src to dst with both paths write-locked and both data locks
// held for writing. Lock acquisition follows lexicographic component order
// on every thread.
func (b *Bridge) Rename(ctx context.Context, src, dst string) (err error) {
	defer b.observe("rename", time.Now(), &err)
	if utils.CanonicalPath(src) == utils.CanonicalPath(dst) {
		return nil
	}
	if len(utils.SplitPath(src)) == 0 || len(utils.SplitPath(dst)) == 0 {
		return fsops.ErrNotEmpty
	}
	pair := b.locks.LockPathPairForWriting(src, dst)
	defer pair.Unlock()

	first, second := src, dst
	if utils.ComparePaths(dst, src) < 0 {
		first, second = dst, src
	}
	dl1 := pair.LockDataForWriting(first)
	defer dl1.Unlock()
	dl2 := pair.LockDataForWriting(second)
	defer dl2.Unlock()
	return b.fsys.Rename(ctx, src, dst)
}

// IsInUse reports whether unmounting now would interrupt in-flight work:
// open handles at the bridge, or activity inside the operations object.
func (b *Bridge) IsInUse() bool {
	return b.openHandles.Load() > 0 || b.fsys.IsInUse()
}

// Close shuts down the operations object. Called once after unmount.
func (b *Bridge) Close() error {
	return b.fsys.Close()
}

func (b *Bridge) observe(op string, start time.Time, err *error) {
	b.collector.ObserveUpcall(op, start, *err)
}

// splitParent returns the parent path and final component of a non-root
// virtual path.
func splitParent(path string) (parent, name string, err error) {
	components := utils.SplitPath(path)
	if len(components) == 0 {
		return "", "", fsops.ErrExist
	}
	parent = "/" + utils.JoinPath(components[:len(components)-1])
	return parent, components[len(components)-1], nil
}
