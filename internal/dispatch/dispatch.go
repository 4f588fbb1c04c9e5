// Package dispatch implements the Dispatcher task: it resolves a rig
// id to a RigInstance, coerces client-supplied parameters against the
// Model's declared Schema types, and routes the four RPC operations
// spec.md §4.5 names. Grounded on the command-routing
// pattern in cli/interactive.go (a name -> handler lookup plus
// argument coercion ahead of executing), generalized from a local REPL
// dispatch table to a rig-scoped one.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"holyrig/internal/codec"
	"holyrig/internal/model"
	"holyrig/internal/rig"
	"holyrig/internal/schema"
	"holyrig/internal/subscription"
)

// RigHandle bundles one configured rig's live instance with the
// compiled Schema/Model pair the Dispatcher needs for coercion and
// capability reflection.
type RigHandle struct {
	Rig    *rig.RigInstance
	Schema *schema.Schema
	Model  *model.Model
}

// CommandCapability describes one Model-supported command's parameter
// shape, as returned by get_capabilities.
type CommandCapability struct {
	Parameters map[string]string `json:"parameters"`
}

// Capabilities is get_capabilities's full reply for one rig.
type Capabilities struct {
	Commands     map[string]CommandCapability `json:"commands"`
	StatusFields map[string]string            `json:"status_fields"`
}

// Dispatcher routes the four client-facing RPC operations to the
// configured set of rigs and the shared Subscription manager.
type Dispatcher struct {
	rigs map[string]*RigHandle
	subs *subscription.Manager
}

// New builds a Dispatcher over the given rig set. rigs is owned by the
// caller and must not change after construction; spec.md's rig set is
// fixed at startup (hot-reload replaces a Model in place, not the map).
func New(rigs map[string]*RigHandle, subs *subscription.Manager) *Dispatcher {
	return &Dispatcher{rigs: rigs, subs: subs}
}

// ListRigs reports every configured rig id and whether its RigInstance
// is currently Online.
func (d *Dispatcher) ListRigs() map[string]bool {
	out := make(map[string]bool, len(d.rigs))
	for id, h := range d.rigs {
		out[id] = h.Rig.Connected()
	}
	return out
}

// GetCapabilities reflects rigID's Model-supported subset of commands
// and status fields; a command or field declared in the Schema but
// absent from the Model must not appear.
func (d *Dispatcher) GetCapabilities(rigID string) (Capabilities, error) {
	h, ok := d.rigs[rigID]
	if !ok {
		return Capabilities{}, ErrUnknownRigId
	}

	caps := Capabilities{
		Commands:     make(map[string]CommandCapability),
		StatusFields: make(map[string]string),
	}
	for _, name := range h.Schema.CommandOrder {
		if _, supported := h.Model.Commands[name]; !supported {
			continue
		}
		sig := h.Schema.Commands[name]
		params := make(map[string]string, len(sig))
		for _, p := range sig {
			params[p.Name] = typeString(p.Type)
		}
		caps.Commands[name] = CommandCapability{Parameters: params}
	}
	for _, p := range h.Schema.Status {
		if _, supported := h.Model.Status[p.Name]; !supported {
			continue
		}
		caps.StatusFields[p.Name] = typeString(p.Type)
	}
	return caps, nil
}

func typeString(t schema.Type) string {
	if t.Kind == schema.KindEnum {
		return "string"
	}
	return "number"
}

// ExecuteCommand coerces params against command's declared Schema
// signature and, once every parameter is a valid raw integer, enqueues
// the exchange on rigID's RigInstance and awaits its result.
func (d *Dispatcher) ExecuteCommand(ctx context.Context, rigID, command string, params map[string]any) error {
	h, ok := d.rigs[rigID]
	if !ok {
		return ErrUnknownRigId
	}
	sig, declared := h.Schema.Commands[command]
	if !declared {
		return fmt.Errorf("%w: %q", rig.ErrUnsupportedCommand, command)
	}
	if _, supported := h.Model.Commands[command]; !supported {
		return fmt.Errorf("%w: %q", rig.ErrUnsupportedCommand, command)
	}

	raw, err := coerceParams(sig, params, h.Model)
	if err != nil {
		return err
	}
	return h.Rig.Execute(ctx, command, raw)
}

// coerceParams checks params against sig exactly (no missing, no
// extras) and converts each to the raw integer the codec expects.
func coerceParams(sig schema.Signature, params map[string]any, mdl *model.Model) (map[string]int64, error) {
	raw := make(map[string]int64, len(sig))
	for _, p := range sig {
		v, ok := params[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing parameter %q", ErrInvalidParameters, p.Name)
		}
		n, err := coerceValue(p.Type, v, mdl)
		if err != nil {
			return nil, err
		}
		raw[p.Name] = n
	}
	for name := range params {
		if !signatureHas(sig, name) {
			return nil, fmt.Errorf("%w: unrecognized parameter %q", ErrInvalidParameters, name)
		}
	}
	return raw, nil
}

func signatureHas(sig schema.Signature, name string) bool {
	for _, p := range sig {
		if p.Name == name {
			return true
		}
	}
	return false
}

func coerceValue(t schema.Type, v any, mdl *model.Model) (int64, error) {
	switch t.Kind {
	case schema.KindInt:
		return coerceNumber(v)
	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, fmt.Errorf("%w: expected a boolean, got %T", ErrInvalidParameters, v)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case schema.KindEnum:
		member, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("%w: expected a string enum member, got %T", ErrInvalidParameters, v)
		}
		n, ok := mdl.EnumValue(t.Enum, member)
		if !ok {
			return 0, fmt.Errorf("%w: enum %q has no member %q", codec.ErrUnsupportedEnumMember, t.Enum, member)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized parameter type", ErrInvalidParameters)
	}
}

// maxUint32 is the top of int's defined range: an unsigned 32-bit
// value, [0, 2^32-1]. coerceNumber enforces this itself rather than
// relying on whatever width/signedness the bound wire field happens to
// tolerate.
const maxUint32 = 1<<32 - 1

// coerceNumber accepts float64 (the shape encoding/json decodes a JSON
// number into by default) or a plain Go integer, rejecting anything
// with a fractional part or outside int's [0, 2^32-1] range.
func coerceNumber(v any) (int64, error) {
	var n int64
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%w: expected an integer, got %v", ErrInvalidParameters, x)
		}
		n = int64(x)
	case int64:
		n = x
	case int:
		n = int64(x)
	default:
		return 0, fmt.Errorf("%w: expected a number, got %T", ErrInvalidParameters, v)
	}
	if n < 0 || n > maxUint32 {
		return 0, fmt.Errorf("%w: %d out of range [0, %d]", ErrInvalidParameters, n, maxUint32)
	}
	return n, nil
}

// SubscribeStatus validates that rigID exists and that every requested
// field is part of its Model's supported status set, then registers a
// new Subscriber with the Subscription manager.
func (d *Dispatcher) SubscribeStatus(rigID string, fields []string) (*subscription.Subscriber, error) {
	h, ok := d.rigs[rigID]
	if !ok {
		return nil, ErrUnknownRigId
	}
	for _, f := range fields {
		if _, supported := h.Model.Status[f]; !supported {
			return nil, fmt.Errorf("%w: rig %q has no status field %q", ErrSubscriptionError, rigID, f)
		}
	}
	return d.subs.Subscribe(rigID, fields), nil
}

// Unsubscribe removes sub from the Subscription manager, for a client
// that explicitly disconnects or shuts down.
func (d *Dispatcher) Unsubscribe(sub *subscription.Subscriber) {
	d.subs.Unsubscribe(sub)
}

// RigIDs returns every configured rig id in sorted order, for
// diagnostics and the debug UDP interface.
func (d *Dispatcher) RigIDs() []string {
	ids := make([]string, 0, len(d.rigs))
	for id := range d.rigs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
