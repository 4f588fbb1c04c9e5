package dispatch

import "errors"

// Sentinel errors for dispatcher-level misuse, per spec.md §7's
// UnknownRigId/SubscriptionError kinds. Everything else a dispatch
// method returns is a codec/model/rig sentinel, surfaced unwrapped.
var (
	// ErrUnknownRigId is returned when a client names a rig id absent
	// from the engine's configured set.
	ErrUnknownRigId = errors.New("dispatch: unknown rig id")

	// ErrSubscriptionError is returned when subscribe_status names a
	// status field the target rig's Model doesn't support.
	ErrSubscriptionError = errors.New("dispatch: invalid subscription field")

	// ErrInvalidParameters is returned for a malformed execute_command
	// parameter set: missing, unrecognized, or wrong-JSON-kind for the
	// Schema's declared Type. Paired with codec.ErrUnsupportedEnumMember
	// (unknown enum member) and codec.ErrValueOutOfRange (value doesn't
	// fit its field) under the same −32001 error code.
	ErrInvalidParameters = errors.New("dispatch: invalid command parameters")
)
