package rig

import "errors"

// Sentinel errors for the rig runtime's own concerns. Parameter/format
// errors (ValueOutOfRange, ReplyValidationFailed, ...) are the codec's
// and model compiler's own sentinels and are surfaced unwrapped, exactly
// as spec.md §7 lists them under the component that detects them.
var (
	// ErrTimeout is returned when a per-exchange read doesn't complete
	// before the exchange deadline.
	ErrTimeout = errors.New("rig: exchange timed out")

	// ErrIOError wraps a transport-level read/write failure that isn't a
	// plain timeout.
	ErrIOError = errors.New("rig: transport I/O error")

	// ErrUnknownEnumValue is returned when a decoded status field's raw
	// integer has no member in the Model's enum mapping.
	ErrUnknownEnumValue = errors.New("rig: decoded value has no enum member")

	// ErrUnsupportedCommand is returned when a client names a command
	// absent from the rig's Model.
	ErrUnsupportedCommand = errors.New("rig: command not supported by this model")

	// ErrDisabled is returned by Execute once a rig has been
	// administratively disabled; its queue no longer accepts work.
	ErrDisabled = errors.New("rig: rig is disabled")
)
