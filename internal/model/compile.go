package model

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"holyrig/internal/codec"
	"holyrig/internal/schema"
)

func parseFormat(s string) (codec.Format, bool) {
	f := codec.Format(strings.ToLower(s))
	return f, f.Valid()
}

// versionSatisfies checks a model's declared schema version against a
// "same major line" compatibility constraint built from the Schema's
// version, expressed with go-version the same way the CMS API
// compatibility check does it: "~> N.0" accepts any N.x, which for the
// whole-number versions this engine declares reduces to requiring an
// exact major-version match.
func versionSatisfies(declared, schemaVersion int) bool {
	constraint, err := version.NewConstraint(fmt.Sprintf("~> %d.0", schemaVersion))
	if err != nil {
		return false
	}
	v, err := version.NewVersion(fmt.Sprintf("%d.0.0", declared))
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// Compile parses src as a model file and validates it against sch,
// enforcing the seven rules in order. It does not stop at the first
// failure: every problem found is returned together as an ErrorList, the
// same way the schema compiler accumulates semantic errors within a
// block.
func Compile(sch *schema.Schema, src []byte) (*Model, error) {
	t, err := parseTOML(src)
	if err != nil {
		return nil, &CompileError{Class: ClassStructural, Path: "<model>", Msg: err.Error()}
	}

	c := &compiler{schema: sch}

	// Rule 1.
	if !equalFold(t.General.Type, sch.Kind) {
		c.semantic("general.type", 1, "declares type %q, schema is %q", t.General.Type, sch.Kind)
	}
	if !versionSatisfies(t.General.Version, sch.Version) {
		c.semantic("general.version", 1, "declares version %d, schema requires ~> %d.0", t.General.Version, sch.Version)
	}

	m := &Model{
		SchemaKind:    sch.Kind,
		SchemaVersion: sch.Version,
		Enums:         map[string]map[string]int64{},
		Commands:      map[string]codec.FrameTemplate{},
		Status:        map[string]StatusPoll{},
	}

	c.compileEnums(m, t.Enums)
	c.compileInit(m, t.Init)
	c.compileCommands(m, t.Commands)
	c.compileStatus(m, t.Status)

	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return m, nil
}

// compiler accumulates errors across every section of a model file.
type compiler struct {
	schema *schema.Schema
	errs   ErrorList
}

func (c *compiler) semantic(path string, rule int, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Class: ClassSemantic, Path: path, Rule: rule, Msg: fmt.Sprintf(format, args...)})
}

func (c *compiler) structural(path string, rule int, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Class: ClassStructural, Path: path, Rule: rule, Msg: fmt.Sprintf(format, args...)})
}

// compileEnums enforces rule 2.
func (c *compiler) compileEnums(m *Model, enums map[string]enumTOML) {
	for name, et := range enums {
		enumType, ok := c.schema.Enum(name)
		if !ok {
			c.semantic(fmt.Sprintf("enums.%s", name), 2, "no such enum declared in schema")
			continue
		}
		members := make(map[string]int64, len(et.Values))
		for i, pair := range et.Values {
			path := fmt.Sprintf("enums.%s.values[%d]", name, i)
			if len(pair) != 2 {
				c.semantic(path, 2, "expected a [member, integer] pair, got %d elements", len(pair))
				continue
			}
			member, ok := pair[0].(string)
			if !ok {
				c.semantic(path, 2, "member name must be a string")
				continue
			}
			if !enumType.HasMember(member) {
				c.semantic(path, 2, "%q is not a declared member of enum %q", member, enumType.Name)
				continue
			}
			raw, ok := toInt64(pair[1])
			if !ok {
				c.semantic(path, 2, "mapped value for %q must be an integer", member)
				continue
			}
			members[member] = raw
		}
		m.Enums[enumType.Name] = members
	}
}

// compileInit compiles the parameter-less init frame sequence.
func (c *compiler) compileInit(m *Model, frames []frameTOML) {
	for i, f := range frames {
		path := fmt.Sprintf("init[%d]", i)
		template, ok := c.compileFrame(path, f)
		if !ok {
			continue
		}
		m.Init = append(m.Init, template)
	}
}

// compileCommands enforces rule 3 and, per command, rules 4-6 via
// compileFrame plus rule 5 for every bound parameter.
func (c *compiler) compileCommands(m *Model, commands map[string]commandTOML) {
	for name, cmd := range commands {
		path := fmt.Sprintf("commands.%s", name)
		sig, ok := c.schema.Commands[name]
		if !ok {
			c.semantic(path, 3, "no such command declared in schema")
			continue
		}

		declared := make(map[string]schema.Type, len(sig))
		for _, p := range sig {
			declared[p.Name] = p.Type
		}
		for pname := range cmd.Params {
			if _, ok := declared[pname]; !ok {
				c.semantic(path+".params."+pname, 3, "command %q declares no parameter %q", name, pname)
			}
		}
		for _, p := range sig {
			if _, ok := cmd.Params[p.Name]; !ok {
				c.semantic(path+".params."+p.Name, 3, "missing a binding for declared parameter %q", p.Name)
			}
		}

		template, ok := c.compileFrame(path, cmd.frameTOML)
		if !ok {
			continue
		}

		template.Bindings = make(map[string]codec.FieldSpec, len(cmd.Params))
		for pname, pt := range cmd.Params {
			if _, ok := declared[pname]; !ok {
				continue // already reported above
			}
			fieldPath := path + ".params." + pname
			field, ok := c.compileParam(fieldPath, pt)
			if !ok {
				continue
			}
			field, err := resolveFieldLength(template.Pattern, field)
			if err != nil {
				c.semantic(fieldPath, 5, "%v", err)
				continue
			}
			if !codec.FieldCoversUnknownSlots(template.Pattern, field.Index, field.Length) {
				c.semantic(fieldPath, 5, "field at [%d,%d) does not cover only unknown slots of the command pattern", field.Index, field.Index+field.Length)
				continue
			}
			template.Bindings[pname] = field
		}

		m.Commands[name] = template
	}
}

// compileStatus enforces rule 7 on top of compileFrame's rules 4/6 and
// compileParam's rule 5.
func (c *compiler) compileStatus(m *Model, status map[string]statusFieldTOML) {
	declared := make(map[string]schema.Type, len(c.schema.Status))
	for _, p := range c.schema.Status {
		declared[p.Name] = p.Type
	}

	for name, sf := range status {
		path := fmt.Sprintf("status.%s", name)
		if _, ok := declared[name]; !ok {
			c.semantic(path, 3, "no such status field declared in schema")
			continue
		}

		template, ok := c.compileFrame(path, sf.frameTOML)
		if !ok {
			continue
		}
		field, ok := c.compileParam(path, sf.paramTOML)
		if !ok {
			continue
		}
		if field.Length == 0 {
			if template.Reply.Kind != codec.ReplyValidationMask {
				c.semantic(path, 5, "length must be given explicitly when the reply has no validation mask")
				continue
			}
			var err error
			field, err = resolveFieldLength(template.Reply.Mask, field)
			if err != nil {
				c.semantic(path, 5, "%v", err)
				continue
			}
		}

		switch template.Reply.Kind {
		case codec.ReplyValidationMask:
			if !codec.FieldCoversUnknownSlots(template.Reply.Mask, field.Index, field.Length) {
				c.semantic(path, 7, "field at [%d,%d) does not cover only unknown slots of the reply mask", field.Index, field.Index+field.Length)
				continue
			}
		case codec.ReplyFixedLength:
			if field.Index+field.Length > template.Reply.Length {
				c.semantic(path, 7, "field at [%d,%d) exceeds the declared reply length %d", field.Index, field.Index+field.Length, template.Reply.Length)
				continue
			}
		case codec.ReplyNone:
			c.semantic(path, 7, "a status poll must declare reply_length, reply_end, or validate")
			continue
		}

		m.Status[name] = StatusPoll{Template: template, Field: field}
	}
}

// compileFrame parses f.Command (rule 4) and builds its ReplySpec,
// enforcing the mutual exclusivity of reply_length/reply_end/validate
// (rule 6).
func (c *compiler) compileFrame(path string, f frameTOML) (codec.FrameTemplate, bool) {
	ok := true

	pattern, err := parsePattern(f.Command)
	if err != nil {
		c.structural(path+".command", 4, "%v", err)
		ok = false
	}

	replyForms := 0
	if f.ReplyLength != nil {
		replyForms++
	}
	if f.ReplyEnd != "" {
		replyForms++
	}
	if f.Validate != "" {
		replyForms++
	}
	if replyForms > 1 {
		c.semantic(path, 6, "reply_length, reply_end, and validate are mutually exclusive")
		return codec.FrameTemplate{}, false
	}

	var reply codec.ReplySpec
	switch {
	case f.Validate != "":
		mask, err := parsePattern(f.Validate)
		if err != nil {
			c.structural(path+".validate", 4, "%v", err)
			ok = false
		}
		reply = codec.ReplySpec{Kind: codec.ReplyValidationMask, Length: len(mask), Mask: mask}

	case f.ReplyLength != nil:
		if *f.ReplyLength < 0 {
			c.semantic(path+".reply_length", 6, "must not be negative")
			ok = false
		}
		reply = codec.ReplySpec{Kind: codec.ReplyFixedLength, Length: *f.ReplyLength}

	case f.ReplyEnd != "":
		end, err := parsePattern(f.ReplyEnd)
		if err != nil {
			c.structural(path+".reply_end", 4, "%v", err)
			ok = false
		} else if len(end) != 1 || !end[0].Fixed {
			c.semantic(path+".reply_end", 6, "must name exactly one fixed byte")
			ok = false
		} else {
			reply = codec.ReplySpec{Kind: codec.ReplyTerminator, Terminator: end[0].Value}
		}

	default:
		reply = codec.ReplySpec{Kind: codec.ReplyNone}
	}

	if !ok {
		return codec.FrameTemplate{}, false
	}
	return codec.FrameTemplate{Pattern: pattern, Reply: reply}, true
}

// compileParam builds a FieldSpec from its TOML form, leaving Length
// zero when omitted. The caller infers an omitted length from the right
// pattern's hole (rule 5's second clause, via resolveFieldLength) and
// checks the field against that pattern (the command's own for a
// parameter, the reply's mask for a status field), since compileParam
// itself doesn't know which.
func (c *compiler) compileParam(path string, pt paramTOML) (codec.FieldSpec, bool) {
	format, ok := parseFormat(pt.Format)
	if !ok {
		c.semantic(path+".format", 5, "unknown format %q", pt.Format)
		return codec.FieldSpec{}, false
	}

	field := codec.FieldSpec{Index: pt.Index, Format: format}
	if pt.Length != nil {
		field.Length = *pt.Length
	}
	if pt.Add != nil {
		field.Add = codec.RationalFromFloat64(*pt.Add)
	}
	if pt.Multiply != nil {
		field.Multiply = codec.RationalFromFloat64(*pt.Multiply)
	} else {
		field.Multiply = codec.RationalFromInt(1)
	}

	if field.Index < 0 {
		c.semantic(path+".index", 5, "must not be negative")
		return codec.FieldSpec{}, false
	}
	return field, true
}

// resolveFieldLength infers a FieldSpec's length from the hole of
// pattern starting at field.Index, when the model file omitted it
// (rule 5's "length omitted only when index sits at a hole start").
func resolveFieldLength(pattern []codec.Slot, field codec.FieldSpec) (codec.FieldSpec, error) {
	if field.Length > 0 {
		return field, nil
	}
	for _, h := range codec.Holes(pattern) {
		if h[0] == field.Index {
			field.Length = h[1]
			return field, nil
		}
	}
	return field, fmt.Errorf("index %d does not sit at the start of a hole; length must be given explicitly", field.Index)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	default:
		return 0, false
	}
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
