package s3

import (
	"context"
	"fmt"
	"testing"

	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/pkg/errors"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if !errors.Is(err, errors.Sentinel(errors.ErrCodeInvalidConfig)) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKeyMapping(t *testing.T) {
	tests := []struct {
		prefix  string
		path    string
		fileKey string
		dirKey  string
	}{
		{"", "/a/b.txt", "a/b.txt", "a/b.txt/"},
		{"", "/", "", ""},
		{"data", "/a", "data/a", "data/a/"},
		{"data/", "/a/b", "data/a/b", "data/a/b/"},
		{"/data/", "/", "data/", "data/"},
		{"", "//a///b/", "a/b", "a/b/"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"_"+tt.path, func(t *testing.T) {
			f := &FS{prefix: normalizePrefix(tt.prefix)}
			if got := f.fileKey(tt.path); got != tt.fileKey {
				t.Errorf("fileKey(%q) = %q, want %q", tt.path, got, tt.fileKey)
			}
			if got := f.dirKey(tt.path); got != tt.dirKey {
				t.Errorf("dirKey(%q) = %q, want %q", tt.path, got, tt.dirKey)
			}
		})
	}
}

func TestTranslateErrorClassification(t *testing.T) {
	plain := fmt.Errorf("connection reset")
	err := translateError(plain, "GetObject", "k")
	if errors.Is(err, fsops.ErrNotExist) {
		t.Error("network error classified as not-found")
	}
	var bfsErr *errors.BridgeFSError
	if !errors.As(err, &bfsErr) {
		t.Fatal("expected a coded error")
	}
	if bfsErr.Code != errors.ErrCodeNetworkError {
		t.Errorf("code = %s, want %s", bfsErr.Code, errors.ErrCodeNetworkError)
	}
	if !bfsErr.Retryable {
		t.Error("network error should be retryable")
	}
}
