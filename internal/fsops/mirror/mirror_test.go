package mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bridgefs/bridgefs/internal/fsops"
)

func newTestFS(t *testing.T) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, dir
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file); !errors.Is(err, fsops.ErrNotDir) {
		t.Fatalf("expected ErrNotDir, got %v", err)
	}
}

func TestGetattr(t *testing.T) {
	m, dir := newTestFS(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	attr, err := m.Getattr(ctx, "/hello.txt")
	if err != nil {
		t.Fatalf("Getattr: %v", err)
	}
	if attr.Size != 5 {
		t.Errorf("size = %d, want 5", attr.Size)
	}
	if attr.IsDir() {
		t.Error("regular file reported as directory")
	}

	if _, err := m.Getattr(ctx, "/nope"); !errors.Is(err, fsops.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	attr, err = m.Getattr(ctx, "/")
	if err != nil {
		t.Fatalf("Getattr root: %v", err)
	}
	if !attr.IsDir() {
		t.Error("root is not a directory")
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	m, _ := newTestFS(t)
	ctx := context.Background()

	fh, err := m.Create(ctx, "/data.bin", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := []byte("the quick brown fox")
	n, err := m.Write(ctx, "/data.bin", fh, payload, 0)
	if err != nil || n != len(payload) {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if err := m.Fsync(ctx, "/data.bin", fh); err != nil {
		t.Fatalf("Fsync: %v", err)
	}

	buf := make([]byte, 64)
	n, err = m.Read(ctx, "/data.bin", fh, buf, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "quick brown fox" {
		t.Errorf("read %q", got)
	}

	if !m.IsInUse() {
		t.Error("open handle not reported as in use")
	}
	if err := m.Release(ctx, "/data.bin", fh); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if m.IsInUse() {
		t.Error("released filesystem still in use")
	}
}

func TestReadBeyondEOF(t *testing.T) {
	m, dir := newTestFS(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "short"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	fh, err := m.Open(ctx, "/short", os.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(ctx, "/short", fh)

	buf := make([]byte, 16)
	n, err := m.Read(ctx, "/short", fh, buf, 0)
	if err != nil {
		t.Fatalf("short read returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}

func TestTruncate(t *testing.T) {
	m, dir := newTestFS(t)
	ctx := context.Background()

	path := filepath.Join(dir, "t")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Truncate(ctx, "/t", 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "0123" {
		t.Errorf("content after truncate: %q", data)
	}
}

func TestDirectoryLifecycle(t *testing.T) {
	m, _ := newTestFS(t)
	ctx := context.Background()

	if err := m.Mkdir(ctx, "/sub", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	fh, err := m.Create(ctx, "/sub/file", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Release(ctx, "/sub/file", fh); err != nil {
		t.Fatal(err)
	}

	entries, err := m.Readdir(ctx, "/sub")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "file" {
		t.Errorf("entries = %+v", entries)
	}

	if err := m.Rmdir(ctx, "/sub"); err == nil {
		t.Error("Rmdir succeeded on non-empty directory")
	}
	if err := m.Unlink(ctx, "/sub/file"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := m.Rmdir(ctx, "/sub"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
}

func TestUnlinkDirectoryFails(t *testing.T) {
	m, _ := newTestFS(t)
	ctx := context.Background()

	if err := m.Mkdir(ctx, "/d", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.Unlink(ctx, "/d"); !errors.Is(err, fsops.ErrIsDir) {
		t.Errorf("expected ErrIsDir, got %v", err)
	}
	if err := m.Rmdir(ctx, "/d"); err != nil {
		t.Fatal(err)
	}
}

func TestRename(t *testing.T) {
	m, dir := newTestFS(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "old"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Rename(ctx, "/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "old")); !os.IsNotExist(err) {
		t.Errorf("old file still present: %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	m, _ := newTestFS(t)
	ctx := context.Background()

	if _, err := m.Getattr(ctx, "/../escape"); err == nil {
		t.Error("traversal path accepted")
	}
	if _, err := m.Getattr(ctx, "relative"); err == nil {
		t.Error("relative path accepted")
	}
}

func TestStatfs(t *testing.T) {
	m, _ := newTestFS(t)
	st, err := m.Statfs(context.Background(), "/")
	if err != nil {
		t.Fatalf("Statfs: %v", err)
	}
	if st.BlockSize == 0 || st.Blocks == 0 {
		t.Errorf("implausible statfs: %+v", st)
	}
}

func TestCloseReleasesHandles(t *testing.T) {
	m, dir := newTestFS(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Open(ctx, "/f", os.O_RDONLY); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.IsInUse() {
		t.Error("closed filesystem still in use")
	}
}
