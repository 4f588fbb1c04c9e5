package codec

import "fmt"

// Slot is one byte position of a FrameTemplate's pattern: either a fixed
// byte the frame always carries, or an unknown placeholder that a FieldSpec
// may claim.
type Slot struct {
	Fixed   bool
	Value   byte
	Unknown bool
}

// FixedSlot returns a Slot holding a literal byte.
func FixedSlot(b byte) Slot { return Slot{Fixed: true, Value: b} }

// UnknownSlot returns a Slot that is part of a hole, to be filled by a
// FieldSpec or left zero.
func UnknownSlot() Slot { return Slot{Unknown: true} }

// ReplyKind selects which of the three mutually exclusive ReplySpec forms
// governs how a reply's end is recognized.
type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyFixedLength
	ReplyTerminator
	ReplyValidationMask
)

// ReplySpec describes how the rig runtime recognizes the end of a reply
// frame, and optionally what bytes it must start with.
type ReplySpec struct {
	Kind ReplyKind

	// Length is the reply's expected byte count, for ReplyFixedLength and
	// (derived from len(Mask)) ReplyValidationMask.
	Length int

	// Terminator is the inclusive terminator byte for ReplyTerminator.
	Terminator byte

	// Mask is the validation pattern for ReplyValidationMask: each Slot is
	// either a fixed byte the reply must match at that position, or
	// Unknown to accept any byte.
	Mask []Slot
}

// Validate compares buf against a validation mask, if one is set. It is a
// no-op (success) for all other ReplyKinds.
func (r ReplySpec) Validate(buf []byte) error {
	if r.Kind != ReplyValidationMask {
		return nil
	}
	if len(buf) != len(r.Mask) {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrReplyValidationFailed, len(r.Mask), len(buf))
	}
	for i, slot := range r.Mask {
		if slot.Unknown {
			continue
		}
		if buf[i] != slot.Value {
			return fmt.Errorf("%w: byte %d is 0x%02X, want 0x%02X", ErrReplyValidationFailed, i, buf[i], slot.Value)
		}
	}
	return nil
}

// FieldSpec locates and describes one scalar value packed into a frame.
type FieldSpec struct {
	Index    int
	Length   int
	Format   Format
	Add      Rational
	Multiply Rational
}

// FrameTemplate is the compiled, pure-data description of one outbound
// frame shape plus how to build it and how to recognize/parse its reply.
type FrameTemplate struct {
	Pattern  []Slot
	Reply    ReplySpec
	Bindings map[string]FieldSpec
}

// Holes returns, for each maximal run of consecutive Unknown slots in
// pattern, its starting index and length.
func Holes(pattern []Slot) [][2]int {
	var out [][2]int
	start := -1
	for i, s := range pattern {
		if s.Unknown {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, [2]int{start, i - start})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(pattern) - start})
	}
	return out
}

// FieldCoversUnknownSlots reports whether [index, index+length) lies
// entirely within one hole of pattern.
func FieldCoversUnknownSlots(pattern []Slot, index, length int) bool {
	for _, h := range Holes(pattern) {
		if index >= h[0] && index+length <= h[0]+h[1] {
			return true
		}
	}
	return false
}

// fieldCoversUnknownSlots reports whether [index, index+length) lies
// entirely within one hole of the pattern.
func (t FrameTemplate) fieldCoversUnknownSlots(index, length int) bool {
	return FieldCoversUnknownSlots(t.Pattern, index, length)
}

// Encode builds the outbound byte buffer for template using raw, the
// already Type-coerced integer value for each bound parameter (bool as
// 0/1, enum as the Model's mapped integer).
func Encode(template FrameTemplate, raw map[string]int64) ([]byte, error) {
	buf := make([]byte, len(template.Pattern))
	for i, s := range template.Pattern {
		if s.Fixed {
			buf[i] = s.Value
		}
	}

	for name, field := range template.Bindings {
		v, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q has no binding", ErrUnsupportedEnumMember, name)
		}
		if !template.fieldCoversUnknownSlots(field.Index, field.Length) {
			return nil, fmt.Errorf("codec: field %q at [%d,%d) does not cover only unknown slots", name, field.Index, field.Index+field.Length)
		}

		transformed := ApplyTransform(v, field.Add, field.Multiply)
		encoded, err := encodeField(field.Format, transformed, field.Length)
		if err != nil {
			return nil, fmt.Errorf("codec: encoding field %q: %w", name, err)
		}
		copy(buf[field.Index:field.Index+field.Length], encoded)
	}
	return buf, nil
}

// DecodeOne extracts and inverse-transforms the single field at
// field.Index in buf. Used by a status poll, whose reply carries exactly
// one field of interest rather than a map of named bindings.
func DecodeOne(field FieldSpec, buf []byte) (int64, error) {
	if field.Index+field.Length > len(buf) {
		return 0, fmt.Errorf("%w: field at [%d,%d) exceeds reply length %d",
			ErrReplyValidationFailed, field.Index, field.Index+field.Length, len(buf))
	}
	raw, err := decodeField(field.Format, buf[field.Index:field.Index+field.Length])
	if err != nil {
		return 0, fmt.Errorf("codec: decoding field: %w", err)
	}
	return InvertTransform(raw, field.Add, field.Multiply)
}

// Decode extracts the raw integer value of every bound field out of buf,
// first validating buf against template.Reply's mask if one is present.
func Decode(template FrameTemplate, buf []byte) (map[string]int64, error) {
	if err := template.Reply.Validate(buf); err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(template.Bindings))
	for name, field := range template.Bindings {
		if field.Index+field.Length > len(buf) {
			return nil, fmt.Errorf("%w: field %q at [%d,%d) exceeds reply length %d",
				ErrReplyValidationFailed, name, field.Index, field.Index+field.Length, len(buf))
		}
		raw, err := decodeField(field.Format, buf[field.Index:field.Index+field.Length])
		if err != nil {
			return nil, fmt.Errorf("codec: decoding field %q: %w", name, err)
		}
		value, err := InvertTransform(raw, field.Add, field.Multiply)
		if err != nil {
			return nil, fmt.Errorf("codec: decoding field %q: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}
