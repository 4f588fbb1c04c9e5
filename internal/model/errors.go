package model

import (
	"fmt"

	"holyrig/internal/schema"
)

// ErrorClass mirrors the schema compiler's lexical/structural/semantic
// split, reused here as the model compiler's own validation-error
// classification (spec's seven validation rules are all either structural
// parse failures of a frame pattern or semantic cross-checks against the
// Schema).
type ErrorClass = schema.ErrorClass

const (
	ClassStructural = schema.ClassStructural
	ClassSemantic   = schema.ClassSemantic
)

// CompileError is one span-less model-compiler diagnostic. Model files are
// TOML tables, not a hand-lexed token stream, so positions are reported by
// table/field path rather than line/column.
type CompileError struct {
	Class ErrorClass
	Path  string // e.g. "commands.set_freq.params.freq"
	Rule  int    // the §4.2 validation rule number, 0 if not rule-specific
	Msg   string
}

func (e *CompileError) Error() string {
	if e.Rule > 0 {
		return fmt.Sprintf("model: %s: rule %d: %s", e.Path, e.Rule, e.Msg)
	}
	return fmt.Sprintf("model: %s: %s", e.Path, e.Msg)
}

// ErrorList collects every error found while compiling a Model; compiling
// doesn't abort on the first one so a rig's author sees every problem at
// once.
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	if len(l) == 1 {
		return l[0].Error()
	}
	msg := fmt.Sprintf("%d model errors:", len(l))
	for _, e := range l {
		msg += "\n  " + e.Error()
	}
	return msg
}
