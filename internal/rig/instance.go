// Package rig drives a single radio's serial channel against a compiled
// Model: initialization, round-robin status polling interleaved with
// on-demand commands, and status-change notification. Grounded on the
// teacher's exchange-request-over-a-channel pattern in exchange.go
// (sessionExchange fed by a dedicated goroutine draining a request
// channel, each request carrying its own result channel) generalized
// from one FBB session at a time to a persistent per-rig state machine,
// and on rigcontrol/hamlib/rigctld.go's deadline-per-call, retry-with-
// redial protocol style.
package rig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"holyrig/internal/codec"
	"holyrig/internal/model"
	"holyrig/internal/schema"
)

// Defaults for the tunables spec.md §4.4 names but leaves to the
// implementation (R, T, F, K).
const (
	DefaultInitRetries          = 3
	DefaultExchangeTimeout      = 2 * time.Second
	DefaultMaxConsecutiveFails  = 5
	DefaultReconnectInterval    = 10 * time.Second
	DefaultPollInterval         = 500 * time.Millisecond
	maxTerminatedReplyBytes     = 256
	initialInitBackoff          = 200 * time.Millisecond
)

// CommandRequest is one client-submitted command awaiting I/O on its
// rig's dedicated task. Params carries values already coerced to raw
// integers by the Dispatcher (int as-is, bool as 0/1, enum as the
// Model's mapped integer).
type CommandRequest struct {
	Name   string
	Params map[string]int64
	Result chan error
}

// StatusUpdate is what a RigInstance hands to the Subscription manager
// after an exchange whose reply changed the status vector.
type StatusUpdate struct {
	RigID   string
	Changed []string
	Values  map[string]any
}

// RigInstance drives one radio: owns its serial channel and status
// vector exclusively, and holds a shared reference to its compiled
// Model and Schema.
type RigInstance struct {
	ID    string
	Model *model.Model

	open      OpenFunc
	transport Transport

	statusTypes map[string]schema.Type
	pollOrder   []string
	pollCursor  int

	initRetries        int
	timeout            time.Duration
	maxConsecutiveFail int
	reconnectInterval  time.Duration
	pollInterval       time.Duration

	commands chan CommandRequest
	updates  chan<- StatusUpdate

	mu                  sync.Mutex
	state               State
	status              map[string]any
	consecutiveFailures int
}

// Option configures a RigInstance at construction.
type Option func(*RigInstance)

func WithInitRetries(n int) Option              { return func(r *RigInstance) { r.initRetries = n } }
func WithExchangeTimeout(d time.Duration) Option { return func(r *RigInstance) { r.timeout = d } }
func WithMaxConsecutiveFailures(n int) Option {
	return func(r *RigInstance) { r.maxConsecutiveFail = n }
}
func WithReconnectInterval(d time.Duration) Option {
	return func(r *RigInstance) { r.reconnectInterval = d }
}
func WithPollInterval(d time.Duration) Option { return func(r *RigInstance) { r.pollInterval = d } }

// New builds a RigInstance. open is called on NotConnected and again on
// every NotResponding→NotConnected reconnection cycle. updates receives
// one StatusUpdate per exchange that changes the status vector.
func New(id string, mdl *model.Model, sch *schema.Schema, open OpenFunc, updates chan<- StatusUpdate, opts ...Option) *RigInstance {
	statusTypes := make(map[string]schema.Type, len(sch.Status))
	order := make([]string, 0, len(sch.Status))
	for _, p := range sch.Status {
		statusTypes[p.Name] = p.Type
		if _, ok := mdl.Status[p.Name]; ok {
			order = append(order, p.Name)
		}
	}
	sort.Strings(order) // deterministic round-robin order

	r := &RigInstance{
		ID:                 id,
		Model:              mdl,
		open:               open,
		statusTypes:        statusTypes,
		pollOrder:          order,
		initRetries:        DefaultInitRetries,
		timeout:            DefaultExchangeTimeout,
		maxConsecutiveFail: DefaultMaxConsecutiveFails,
		reconnectInterval:  DefaultReconnectInterval,
		pollInterval:       DefaultPollInterval,
		commands:           make(chan CommandRequest),
		updates:            updates,
		state:              NotConnected,
		status:             make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the state machine until ctx is done or the rig is
// administratively Disabled. It is meant to be the body of one
// dedicated goroutine per rig, per spec.md §5's rig-granularity
// scheduling.
func (r *RigInstance) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		switch r.State() {
		case NotConnected:
			r.connect(ctx)
		case Initializing:
			r.initialize(ctx)
		case Online:
			r.serveOnline(ctx)
		case NotResponding:
			r.waitReconnect(ctx)
		case Disabled:
			return
		}
	}
}

// State returns the RigInstance's current lifecycle state.
func (r *RigInstance) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RigInstance) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Connected reports whether the rig is presently reachable, as
// surfaced by list_rigs.
func (r *RigInstance) Connected() bool {
	return r.State() == Online
}

// Status returns a snapshot of the current status vector.
func (r *RigInstance) Status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.status))
	for k, v := range r.status {
		out[k] = v
	}
	return out
}

// Disable administratively disables the rig: pending work is rejected
// from this point on, and the transport is closed.
func (r *RigInstance) Disable() {
	r.mu.Lock()
	r.state = Disabled
	t := r.transport
	r.transport = nil
	r.mu.Unlock()
	if t != nil {
		t.Close()
	}
	r.drainCommands(ErrDisabled)
}

func (r *RigInstance) drainCommands(err error) {
	for {
		select {
		case req := <-r.commands:
			req.Result <- err
		default:
			return
		}
	}
}

// Execute enqueues a command and blocks until its exchange completes or
// ctx is canceled. Per spec.md §5's cancellation rule, a request that
// hasn't begun I/O yet is simply never picked up once ctx is done.
func (r *RigInstance) Execute(ctx context.Context, name string, params map[string]int64) error {
	if r.State() == Disabled {
		return ErrDisabled
	}
	req := CommandRequest{Name: name, Params: params, Result: make(chan error, 1)}
	select {
	case r.commands <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RigInstance) connect(ctx context.Context) {
	t, err := r.open()
	if err != nil {
		select {
		case <-time.After(r.reconnectInterval):
		case <-ctx.Done():
		}
		return
	}
	r.mu.Lock()
	r.transport = t
	r.mu.Unlock()
	r.setState(Initializing)
}

func (r *RigInstance) initialize(ctx context.Context) {
	for _, frame := range r.Model.Init {
		if !r.initFrame(ctx, frame) {
			r.setState(NotResponding)
			return
		}
	}
	r.mu.Lock()
	r.consecutiveFailures = 0
	r.mu.Unlock()
	r.setState(Online)
}

// initFrame sends frame up to r.initRetries times with exponential
// backoff between attempts, per spec.md §4.4's init-retry rule.
func (r *RigInstance) initFrame(ctx context.Context, frame codec.FrameTemplate) bool {
	backoff := initialInitBackoff
	for attempt := 0; attempt < r.initRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		buf, err := codec.Encode(frame, nil)
		if err == nil {
			if _, err := r.exchange(frame.Reply, buf); err == nil {
				return true
			}
		}
		if attempt == r.initRetries-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		backoff *= 2
	}
	return false
}

func (r *RigInstance) waitReconnect(ctx context.Context) {
	select {
	case <-time.After(r.reconnectInterval):
		r.mu.Lock()
		t := r.transport
		r.transport = nil
		r.mu.Unlock()
		if t != nil {
			t.Close()
		}
		r.setState(NotConnected)
	case <-ctx.Done():
	}
}

// serveOnline performs exactly one unit of work, preferring a pending
// command over the status-poll cursor, per spec.md §4.4's priority
// order. Returning after one unit lets Run re-check the state every
// cycle, so a consecutive-failure escalation or administrative Disable
// takes effect promptly.
func (r *RigInstance) serveOnline(ctx context.Context) {
	select {
	case req := <-r.commands:
		r.runCommand(req)
		return
	default:
	}

	select {
	case req := <-r.commands:
		r.runCommand(req)
	case <-time.After(r.pollInterval):
		r.poll()
	case <-ctx.Done():
	}
}

func (r *RigInstance) runCommand(req CommandRequest) {
	template, ok := r.Model.Commands[req.Name]
	if !ok {
		req.Result <- ErrUnsupportedCommand
		return
	}
	buf, err := codec.Encode(template, req.Params)
	if err != nil {
		req.Result <- err
		return
	}
	_, err = r.exchange(template.Reply, buf)
	req.Result <- err
}

// poll advances the round-robin status cursor by one field and, on a
// successful exchange, updates the status vector and notifies the
// Subscription manager of what changed.
func (r *RigInstance) poll() {
	if len(r.pollOrder) == 0 {
		return
	}
	name := r.pollOrder[r.pollCursor]
	r.pollCursor = (r.pollCursor + 1) % len(r.pollOrder)

	sp := r.Model.Status[name]
	buf, err := codec.Encode(sp.Template, nil)
	if err != nil {
		return
	}
	reply, err := r.exchange(sp.Template.Reply, buf)
	if err != nil {
		return
	}
	raw, err := codec.DecodeOne(sp.Field, reply)
	if err != nil {
		return
	}
	value, err := r.coerce(name, raw)
	if err != nil {
		return
	}
	if changed := r.setStatus(name, value); changed {
		r.notify(map[string]any{name: value})
	}
}

func (r *RigInstance) coerce(field string, raw int64) (any, error) {
	t := r.statusTypes[field]
	switch t.Kind {
	case schema.KindBool:
		return raw != 0, nil
	case schema.KindEnum:
		member, ok := r.Model.EnumMember(t.Enum, raw)
		if !ok {
			return nil, fmt.Errorf("%w: enum %q has no member mapped to %d", ErrUnknownEnumValue, t.Enum, raw)
		}
		return member, nil
	default:
		return raw, nil
	}
}

func (r *RigInstance) setStatus(field string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, existed := r.status[field]
	r.status[field] = value
	return !existed || old != value
}

func (r *RigInstance) notify(values map[string]any) {
	if r.updates == nil {
		return
	}
	changed := make([]string, 0, len(values))
	for k := range values {
		changed = append(changed, k)
	}
	sort.Strings(changed)
	r.updates <- StatusUpdate{RigID: r.ID, Changed: changed, Values: values}
}

// exchange runs one write-then-read-until-recognized cycle over the
// rig's transport, enforcing the per-exchange timeout and the
// consecutive-failure escalation to NotResponding.
func (r *RigInstance) exchange(reply codec.ReplySpec, out []byte) ([]byte, error) {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return nil, ErrIOError
	}

	deadline := time.Now().Add(r.timeout)
	if err := t.SetWriteDeadline(deadline); err != nil {
		return nil, r.fail(fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if _, err := t.Write(out); err != nil {
		return nil, r.fail(translateIOErr(err))
	}

	if err := t.SetReadDeadline(deadline); err != nil {
		return nil, r.fail(fmt.Errorf("%w: %v", ErrIOError, err))
	}
	buf, err := readReply(t, reply)
	if err != nil {
		return nil, r.fail(err)
	}
	if err := reply.Validate(buf); err != nil {
		return nil, r.fail(err)
	}

	r.mu.Lock()
	r.consecutiveFailures = 0
	r.mu.Unlock()
	return buf, nil
}

// fail records one failed exchange, escalating to NotResponding after
// r.maxConsecutiveFail in a row, per spec.md §4.4.
func (r *RigInstance) fail(err error) error {
	r.mu.Lock()
	r.consecutiveFailures++
	escalate := r.consecutiveFailures >= r.maxConsecutiveFail
	r.mu.Unlock()
	if escalate {
		r.setState(NotResponding)
	}
	return err
}

// readReply reads bytes from t until the reply's recognition condition
// is satisfied: a fixed byte count, a terminator byte (inclusive), a
// validation mask's length, or none at all for fire-and-forget frames.
func readReply(t io.Reader, reply codec.ReplySpec) ([]byte, error) {
	switch reply.Kind {
	case codec.ReplyNone:
		return nil, nil

	case codec.ReplyFixedLength, codec.ReplyValidationMask:
		buf := make([]byte, reply.Length)
		if _, err := io.ReadFull(t, buf); err != nil {
			return nil, translateIOErr(err)
		}
		return buf, nil

	case codec.ReplyTerminator:
		buf := make([]byte, 0, 16)
		one := make([]byte, 1)
		for len(buf) < maxTerminatedReplyBytes {
			if _, err := io.ReadFull(t, one); err != nil {
				return nil, translateIOErr(err)
			}
			buf = append(buf, one[0])
			if one[0] == reply.Terminator {
				return buf, nil
			}
		}
		return nil, fmt.Errorf("%w: reply exceeded %d bytes without a terminator", ErrIOError, maxTerminatedReplyBytes)

	default:
		return nil, fmt.Errorf("%w: unrecognized reply form", ErrIOError)
	}
}

func translateIOErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrIOError, err)
}
