package codec

import "errors"

var (
	// ErrValueOutOfRange is returned when a value cannot fit the declared
	// field width or format, either an out-of-range parameter on encode or
	// a magnitude overflow discovered while computing it.
	ErrValueOutOfRange = errors.New("codec: value out of range for field")

	// ErrReplyValidationFailed is returned when a decoded reply's known
	// bytes don't match the FrameTemplate's validation mask, or a decoded
	// field isn't a well-formed instance of its format (bad BCD nibble,
	// non-digit text byte).
	ErrReplyValidationFailed = errors.New("codec: reply failed validation")

	// ErrNotImplemented is returned for formats reserved but not
	// implemented, currently the yaesu format.
	ErrNotImplemented = errors.New("codec: format not implemented")

	// ErrZeroMultiply is returned when a FieldSpec's multiply coefficient
	// is zero, which makes the decode-side transform unable to invert.
	ErrZeroMultiply = errors.New("codec: multiply coefficient is zero")

	// ErrUnsupportedEnumMember is returned when Encode is asked to bind a
	// parameter for which no raw integer value was supplied — the caller
	// (the dispatcher, coercing against the Model) found no mapping for
	// the requested enum member, or omitted a required parameter.
	ErrUnsupportedEnumMember = errors.New("codec: parameter has no mapped value")
)
