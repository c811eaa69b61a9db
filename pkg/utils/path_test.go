package utils

import (
	"reflect"
	"testing"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a/b", []string{"a", "b"}},
		{"/a//b/", []string{"a", "b"}},
		{"/", []string{}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := SplitPath(tt.path); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"/a/b":    "a/b",
		"//a//b/": "a/b",
		"/":       "",
		"a/b/c":   "a/b/c",
	}
	for in, want := range tests {
		if got := CanonicalPath(in); got != want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParentPath(t *testing.T) {
	parent, name := ParentPath("/a/b/c")
	if parent != "a/b" || name != "c" {
		t.Errorf("ParentPath(/a/b/c) = (%q, %q)", parent, name)
	}

	parent, name = ParentPath("/top")
	if parent != "" || name != "top" {
		t.Errorf("ParentPath(/top) = (%q, %q)", parent, name)
	}

	defer func() {
		if recover() == nil {
			t.Error("ParentPath(/) did not panic")
		}
	}()
	ParentPath("/")
}

func TestComparePaths(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"/a", "/b", -1},
		{"/b", "/a", 1},
		{"/a/b", "/a/b", 0},
		{"/a", "/a/b", -1}, // ancestor sorts first
		{"/a/b", "/a", 1},
		{"/a/x", "/b/y", -1},
		{"/", "/a", -1},
		{"/ab", "/a", 1}, // component-wise, not byte-prefix-wise
	}
	for _, tt := range tests {
		if got := ComparePaths(tt.a, tt.b); got != tt.want {
			t.Errorf("ComparePaths(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValidateVirtualPath(t *testing.T) {
	for _, ok := range []string{"/", "/a", "/a/b.c", "/a b/c"} {
		if err := ValidateVirtualPath(ok); err != nil {
			t.Errorf("ValidateVirtualPath(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "/a/../b", "/./a"} {
		if err := ValidateVirtualPath(bad); err == nil {
			t.Errorf("ValidateVirtualPath(%q) accepted", bad)
		}
	}
}
