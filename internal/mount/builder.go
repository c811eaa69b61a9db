package mount

import (
	"os"
	"regexp"
	"strings"

	"github.com/bridgefs/bridgefs/internal/fsops"
)

// all but the RFC 3986 unreserved characters
var hostNamePatternNegated = regexp.MustCompile(`[^a-zA-Z0-9\-._~]`)

// BuilderBase carries the setter state shared by every provider builder and
// enforces the capability gate on each setter. Provider builders embed it
// and override the setters that need stricter validation.
type BuilderBase struct {
	Fsys fsops.FileSystem
	Caps CapabilitySet

	MountPoint       string
	Flags            []string
	ReadOnly         bool
	VolumeName       string
	Port             int
	LoopbackHostName string
}

// NewBuilderBase initializes the shared builder state.
func NewBuilderBase(fsys fsops.FileSystem, caps CapabilitySet) BuilderBase {
	return BuilderBase{Fsys: fsys, Caps: caps, LoopbackHostName: "localhost"}
}

// SetMountPoint records the requested mount point.
func (b *BuilderBase) SetMountPoint(path string) error {
	if path == "" {
		return NewInvalidMountParameterError("mount point must not be empty")
	}
	b.MountPoint = path
	return nil
}

// SetMountFlags parses and records an explicit flag string.
func (b *BuilderBase) SetMountFlags(flags string) error {
	if !b.Caps.Has(CapMountFlags) {
		return NewUnsupportedCapabilityError(CapMountFlags)
	}
	parsed, err := ParseFlags(flags)
	if err != nil {
		return err
	}
	b.Flags = parsed
	return nil
}

// SetReadOnly requests a read-only mount.
func (b *BuilderBase) SetReadOnly(readOnly bool) error {
	if readOnly && !b.Caps.Has(CapReadOnly) {
		return NewUnsupportedCapabilityError(CapReadOnly)
	}
	b.ReadOnly = readOnly
	return nil
}

// SetVolumeName records the volume name.
func (b *BuilderBase) SetVolumeName(name string) error {
	if !b.Caps.Has(CapVolumeName) {
		return NewUnsupportedCapabilityError(CapVolumeName)
	}
	if name == "" {
		return NewInvalidMountParameterError("volume name must not be empty")
	}
	b.VolumeName = name
	return nil
}

// SetPort records the network port.
func (b *BuilderBase) SetPort(port int) error {
	if !b.Caps.Has(CapPort) {
		return NewUnsupportedCapabilityError(CapPort)
	}
	if port <= 0 || port > 65535 {
		return NewInvalidMountParameterError("port out of range: %d", port)
	}
	b.Port = port
	return nil
}

// SetLoopbackHostName records the loopback host used in network mount paths.
func (b *BuilderBase) SetLoopbackHostName(host string) error {
	if !b.Caps.Has(CapLoopbackHostName) {
		return NewUnsupportedCapabilityError(CapLoopbackHostName)
	}
	if host == "" || hostNamePatternNegated.MatchString(host) {
		return NewInvalidMountParameterError(
			"loopback host may only contain the characters a-z, A-Z, 0-9 and -._~")
	}
	b.LoopbackHostName = host
	return nil
}

// Validate checks that all parameters required for mounting are present.
func (b *BuilderBase) Validate() error {
	if b.MountPoint == "" && !b.Caps.Has(CapMountToSystemChosenPath) {
		return NewInvalidMountParameterError("mount point is required")
	}
	if b.MountPoint != "" && b.Caps.Has(CapMountPointEmptyDir) {
		if err := validateEmptyDir(b.MountPoint); err != nil {
			return err
		}
	}
	return nil
}

// CombinedFlags merges the explicitly set flags with builder-derived flags.
// Explicit flags win; duplicates are dropped by option key.
func (b *BuilderBase) CombinedFlags(derived ...string) []string {
	flags := make([]string, 0, len(b.Flags)+len(derived)+1)
	seen := make(map[string]bool)
	add := func(flag string) {
		key := flagKey(flag)
		if seen[key] {
			return
		}
		seen[key] = true
		flags = append(flags, flag)
	}
	for _, f := range b.Flags {
		add(f)
	}
	for _, f := range derived {
		add(f)
	}
	if b.ReadOnly {
		add("-r")
	}
	return flags
}

// ParseFlags splits a whitespace-separated flag string. Every flag must
// begin with '-'.
func ParseFlags(flags string) ([]string, error) {
	fields := strings.Fields(flags)
	for _, f := range fields {
		if !strings.HasPrefix(f, "-") {
			return nil, NewInvalidMountParameterError("malformed mount flag: %q", f)
		}
	}
	return fields, nil
}

// flagKey reduces a flag to its identity for deduplication: the part before
// '=' if present, the whole token otherwise.
func flagKey(flag string) string {
	if idx := strings.IndexByte(flag, '='); idx >= 0 {
		return flag[:idx]
	}
	return flag
}

// IsDriveLetterPath reports whether a path names a bare Windows drive root
// such as "X:" or "X:\".
func IsDriveLetterPath(path string) bool {
	if len(path) != 2 && len(path) != 3 {
		return false
	}
	c := path[0]
	if !('A' <= c && c <= 'Z' || 'a' <= c && c <= 'z') || path[1] != ':' {
		return false
	}
	return len(path) == 2 || path[2] == '\\'
}

func validateEmptyDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewInvalidMountParameterError("mount point does not exist: %s", path)
		}
		return NewInvalidMountParameterError("cannot access mount point %s: %v", path, err)
	}
	if !info.IsDir() {
		return NewInvalidMountParameterError("mount point is not a directory: %s", path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return NewInvalidMountParameterError("cannot read mount point %s: %v", path, err)
	}
	if len(entries) > 0 {
		return NewInvalidMountParameterError("mount point is not empty: %s", path)
	}
	return nil
}
