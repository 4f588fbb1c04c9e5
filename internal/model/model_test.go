package model

import (
	"errors"
	"testing"

	"holyrig/internal/codec"
	"holyrig/internal/schema"
)

func freqSchema() *schema.Schema {
	return &schema.Schema{
		Version: 1,
		Kind:    "transceiver",
		Enums: map[string]schema.EnumType{
			"Mode": {Name: "Mode", Members: []string{"LSB", "USB", "FM"}},
		},
		Commands: map[string]schema.Signature{
			"set_freq": {{Name: "freq", Type: schema.Type{Kind: schema.KindInt}}},
			"set_mode": {{Name: "mode", Type: schema.Type{Kind: schema.KindEnum, Enum: "Mode"}}},
			"ptt":      {},
		},
		CommandOrder: []string{"set_freq", "set_mode", "ptt"},
		Status: schema.Signature{
			{Name: "freq", Type: schema.Type{Kind: schema.KindInt}},
			{Name: "mode", Type: schema.Type{Kind: schema.KindEnum, Enum: "Mode"}},
		},
	}
}

const validModel = `
[general]
type = "transceiver"
version = 1

[enums.Mode]
values = [["LSB", 0], ["USB", 1]]

[[init]]
command = "FEFE.88.E0.19.00.FD"
reply_end = "FD"

[commands.set_freq]
command = "1122.33.????????"
reply_end = "FD"

[commands.set_freq.params.freq]
index = 3
length = 4
format = "bcd_lu"
add = 0
multiply = 1

[commands.ptt]
command = "AA.BB"
reply_end = "FD"

[status.freq]
command = "03"
validate = "AA.BB.??.??.??.??"
index = 2
length = 4
format = "bcd_lu"
multiply = 1
`

func mustCompile(t *testing.T, sch *schema.Schema, src string) *Model {
	t.Helper()
	m, err := Compile(sch, []byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return m
}

func TestCompile_Valid(t *testing.T) {
	m := mustCompile(t, freqSchema(), validModel)

	if m.SchemaKind != "transceiver" || m.SchemaVersion != 1 {
		t.Fatalf("schema kind/version = %q/%d", m.SchemaKind, m.SchemaVersion)
	}
	if v, ok := m.EnumValue("Mode", "USB"); !ok || v != 1 {
		t.Fatalf("EnumValue(Mode, USB) = %d, %v", v, ok)
	}
	if _, ok := m.EnumValue("Mode", "FM"); ok {
		t.Fatalf("Mode.FM should be unsupported by this model")
	}

	if len(m.Init) != 1 {
		t.Fatalf("len(Init) = %d, want 1", len(m.Init))
	}

	freqCmd, ok := m.Commands["set_freq"]
	if !ok {
		t.Fatal("missing set_freq command")
	}
	field, ok := freqCmd.Bindings["freq"]
	if !ok {
		t.Fatal("missing freq binding")
	}
	if field.Index != 3 || field.Length != 4 || field.Format != codec.FormatBCDLU {
		t.Fatalf("freq field = %+v", field)
	}

	if _, ok := m.Commands["ptt"]; !ok {
		t.Fatal("missing ptt command")
	}
	if _, ok := m.Commands["set_mode"]; ok {
		t.Fatal("set_mode should be absent: model is a subset of the schema")
	}

	poll, ok := m.Status["freq"]
	if !ok {
		t.Fatal("missing freq status poll")
	}
	if poll.Template.Reply.Kind != codec.ReplyValidationMask {
		t.Fatalf("status freq reply kind = %v", poll.Template.Reply.Kind)
	}
	if poll.Field.Index != 2 || poll.Field.Length != 4 {
		t.Fatalf("status freq field = %+v", poll.Field)
	}
}

func TestCompile_Rule1_TypeMismatch(t *testing.T) {
	src := `
[general]
type = "receiver"
version = 1
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 1)
}

func TestCompile_Rule1_VersionMismatch(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 2
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 1)
}

func TestCompile_Rule2_UnknownEnum(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[enums.Filter]
values = [["WIDE", 0]]
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 2)
}

func TestCompile_Rule2_UnknownMember(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[enums.Mode]
values = [["CW", 2]]
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 2)
}

func TestCompile_Rule3_UnknownCommand(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.split]
command = "AA"
reply_end = "FD"
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 3)
}

func TestCompile_Rule3_MissingParamBinding(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.set_freq]
command = "1122.33.????????"
reply_end = "FD"
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 3)
}

func TestCompile_Rule3_UnknownParamBinding(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.ptt]
command = "AA"
reply_end = "FD"

[commands.ptt.params.bogus]
index = 0
length = 1
format = "int_bu"
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 3)
}

func TestCompile_Rule4_BadPatternCharacter(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.ptt]
command = "GG"
reply_end = "FD"
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 4)
}

func TestCompile_Rule5_FieldOutsideHole(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.set_freq]
command = "1122.33.????????"
reply_end = "FD"

[commands.set_freq.params.freq]
index = 0
length = 1
format = "int_bu"
multiply = 1
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 5)
}

func TestCompile_Rule6_ReplyFormsMutuallyExclusive(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.ptt]
command = "AA"
reply_end = "FD"
reply_length = 4
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 6)
}

func TestCompile_Rule7_StatusFieldOutsideMask(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[status.freq]
command = "03"
validate = "AA.BB.??.??"
index = 0
length = 2
format = "bcd_lu"
multiply = 1
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 7)
}

func TestCompile_Rule3_UnknownStatusField(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[status.squelch]
command = "03"
reply_length = 1
index = 0
length = 1
format = "int_bu"
multiply = 1
`
	_, err := Compile(freqSchema(), []byte(src))
	assertRule(t, err, 3)
}

func TestCompile_LengthInferredFromHole(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.set_freq]
command = "1122.33.????????"
reply_end = "FD"

[commands.set_freq.params.freq]
index = 3
format = "bcd_lu"
multiply = 1
`
	m := mustCompile(t, freqSchema(), src)
	field := m.Commands["set_freq"].Bindings["freq"]
	if field.Length != 4 {
		t.Fatalf("inferred length = %d, want 4", field.Length)
	}
}

func TestCompile_MultiplyDefaultsToOne(t *testing.T) {
	src := `
[general]
type = "transceiver"
version = 1

[commands.set_freq]
command = "1122.33.????????"
reply_end = "FD"

[commands.set_freq.params.freq]
index = 3
length = 4
format = "bcd_lu"
`
	m := mustCompile(t, freqSchema(), src)
	field := m.Commands["set_freq"].Bindings["freq"]
	if !field.Multiply.IsOne() {
		t.Fatalf("default multiply should be 1")
	}
}

func assertRule(t *testing.T, err error, rule int) {
	t.Helper()
	if err == nil {
		t.Fatalf("Compile() = nil error, want a rule %d violation", rule)
	}
	var list ErrorList
	if errors.As(err, &list) {
		for _, e := range list {
			if e.Rule == rule {
				return
			}
		}
		t.Fatalf("Compile() errors = %v, want one with rule %d", list, rule)
	}
	var single *CompileError
	if errors.As(err, &single) {
		if single.Rule != rule {
			t.Fatalf("Compile() error rule = %d, want %d", single.Rule, rule)
		}
		return
	}
	t.Fatalf("Compile() error %v is not a *CompileError or ErrorList", err)
}
