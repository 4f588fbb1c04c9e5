// Package model compiles a rig model file (TOML-like: general, enums.*,
// init, commands.*, status.*) against an already-compiled Schema into a
// Model: numeric enum mappings, the init frame sequence, and a compiled
// FrameTemplate/StatusPoll per supported command and status field.
package model

import "holyrig/internal/codec"

// Model is the compiled output of the model compiler: a schema reference,
// enum member-to-integer mappings (a subset of the Schema's declared
// members), the ordered init sequence, and compiled frame templates for
// every supported command and status field.
type Model struct {
	SchemaKind    string
	SchemaVersion int

	// Enums maps enum name -> member -> raw integer. A member absent here
	// is declared in the Schema but unsupported by this Model.
	Enums map[string]map[string]int64

	Init     []codec.FrameTemplate
	Commands map[string]codec.FrameTemplate

	// Status maps status-field-name -> StatusPoll. Order of polling is the
	// rig runtime's concern (round-robin over this map's keys); the Model
	// only records the compiled set.
	Status map[string]StatusPoll
}

// StatusPoll is a FrameTemplate whose reply, once validated, yields the
// raw value of exactly one named status field.
type StatusPoll struct {
	Template codec.FrameTemplate
	Field    codec.FieldSpec
}

// EnumValue looks up the raw integer the Model assigns to member of enum,
// reporting false if the Model doesn't support that member.
func (m *Model) EnumValue(enum, member string) (int64, bool) {
	members, ok := m.Enums[enum]
	if !ok {
		return 0, false
	}
	v, ok := members[member]
	return v, ok
}

// EnumMember looks up the member name mapped to raw in enum, reporting
// false if no member of the Model's subset maps to that integer.
func (m *Model) EnumMember(enum string, raw int64) (string, bool) {
	for member, v := range m.Enums[enum] {
		if v == raw {
			return member, true
		}
	}
	return "", false
}
