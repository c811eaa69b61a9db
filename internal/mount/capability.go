package mount

import "strings"

// Capability is a declared feature of a mount provider, from a closed set.
type Capability uint32

const (
	// CapMountFlags indicates the builder accepts backend flag strings.
	CapMountFlags Capability = 1 << iota
	// CapMountAsDriveLetter restricts mount points to drive roots.
	CapMountAsDriveLetter
	// CapMountWithinExistingParent mounts into an existing parent directory.
	CapMountWithinExistingParent
	// CapMountToSystemChosenPath lets the backend pick the mount point.
	CapMountToSystemChosenPath
	// CapMountPointEmptyDir requires an existing empty directory.
	CapMountPointEmptyDir
	// CapReadOnly supports mounting read-only.
	CapReadOnly
	// CapUnmountForced supports forced teardown.
	CapUnmountForced
	// CapVolumeName supports an explicit volume name.
	CapVolumeName
	// CapLoopbackHostName supports a custom loopback host for network mounts.
	CapLoopbackHostName
	// CapPort supports a custom port for network mounts.
	CapPort
)

var capabilityNames = map[Capability]string{
	CapMountFlags:                "MOUNT_FLAGS",
	CapMountAsDriveLetter:        "MOUNT_AS_DRIVE_LETTER",
	CapMountWithinExistingParent: "MOUNT_WITHIN_EXISTING_PARENT",
	CapMountToSystemChosenPath:   "MOUNT_TO_SYSTEM_CHOSEN_PATH",
	CapMountPointEmptyDir:        "MOUNT_POINT_EMPTY_DIR",
	CapReadOnly:                  "READ_ONLY",
	CapUnmountForced:             "UNMOUNT_FORCED",
	CapVolumeName:                "VOLUME_NAME",
	CapLoopbackHostName:          "LOOPBACK_HOST_NAME",
	CapPort:                      "PORT",
}

// String returns the capability's wire name.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseCapability resolves a wire name back to a capability.
func ParseCapability(name string) (Capability, bool) {
	for c, n := range capabilityNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// CapabilitySet is a set of capabilities.
type CapabilitySet uint32

// Capabilities builds a set from individual members.
func Capabilities(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// ContainsAll reports whether the set is a superset of other.
func (s CapabilitySet) ContainsAll(other CapabilitySet) bool {
	return s&other == other
}

// String lists the member names, sorted by bit position.
func (s CapabilitySet) String() string {
	var names []string
	for bit := Capability(1); bit <= CapPort; bit <<= 1 {
		if s.Has(bit) {
			names = append(names, bit.String())
		}
	}
	return strings.Join(names, ",")
}
