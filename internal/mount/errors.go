package mount

import (
	"github.com/bridgefs/bridgefs/pkg/errors"
)

// Sentinel errors for the mount error taxonomy, usable as errors.Is targets.
var (
	ErrNoApplicableProvider  = errors.Sentinel(errors.ErrCodeNoApplicableProvider)
	ErrUnsupportedCapability = errors.Sentinel(errors.ErrCodeUnsupportedCapability)
	ErrInvalidMountParameter = errors.Sentinel(errors.ErrCodeInvalidMountParameter)
	ErrMountFailed           = errors.Sentinel(errors.ErrCodeMountFailed)
	ErrUnmountRefused        = errors.Sentinel(errors.ErrCodeUnmountRefused)
	ErrUnmountFailed         = errors.Sentinel(errors.ErrCodeUnmountFailed)
	ErrInvalidState          = errors.Sentinel(errors.ErrCodeInvalidState)
)

func NewNoApplicableProviderError(required CapabilitySet) error {
	return errors.Newf(errors.ErrCodeNoApplicableProvider,
		"no mount provider available for capabilities [%s]", required).
		WithComponent("mount")
}

func NewUnsupportedCapabilityError(c Capability) error {
	return errors.Newf(errors.ErrCodeUnsupportedCapability,
		"provider does not support %s", c).
		WithComponent("mount")
}

func NewInvalidMountParameterError(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidMountParameter, format, args...).
		WithComponent("mount")
}

// NewMountFailedError wraps a backend mount failure.
func NewMountFailedError(cause error) error {
	return errors.NewError(errors.ErrCodeMountFailed, "backend refused to mount").
		WithComponent("mount").WithCause(cause)
}

func NewUnmountRefusedError(mountPoint string) error {
	return errors.NewError(errors.ErrCodeUnmountRefused,
		"unmount refused: there are open files or pending operations").
		WithComponent("mount").WithContext("mount_point", mountPoint)
}

// NewUnmountFailedError wraps a backend unmount failure.
func NewUnmountFailedError(cause error) error {
	return errors.NewError(errors.ErrCodeUnmountFailed, "backend unmount failed").
		WithComponent("mount").WithCause(cause)
}

func NewInvalidStateError(op string, state State) error {
	return errors.Newf(errors.ErrCodeInvalidState, "%s not allowed in state %s", op, state).
		WithComponent("mount")
}
