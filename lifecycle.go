package idp

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
)

// LifecycleEvent names a user identity state change.
type LifecycleEvent string

const (
	LifecycleRegistration      LifecycleEvent = "registration"
	LifecycleEmailConfirmation LifecycleEvent = "email_confirmation"
	LifecyclePasswordReset     LifecycleEvent = "password_reset"
	LifecycleProfileUpdated    LifecycleEvent = "profile_updated"
	LifecycleDeleted           LifecycleEvent = "deleted"
	LifecycleRestored          LifecycleEvent = "restored"
)

// LifecycleHookPhase identifies whether a hook ran before or after the operation.
type LifecycleHookPhase string

const (
	LifecyclePhaseBefore LifecycleHookPhase = "before"
	LifecyclePhaseAfter  LifecycleHookPhase = "after"
)

// AfterHookPolicy controls what happens when an after hook fails.
type AfterHookPolicy int

const (
	// AfterHookLogAndContinue logs the failure and keeps running the
	// remaining after hooks.
	AfterHookLogAndContinue AfterHookPolicy = iota
	// AfterHookBubble returns the first after hook failure to the caller.
	// The completed operation is not undone.
	AfterHookBubble
)

func (p AfterHookPolicy) String() string {
	if p == AfterHookBubble {
		return "bubble"
	}
	return "log"
}

// ParseAfterHookPolicy accepts "log" (or empty) and "bubble".
func ParseAfterHookPolicy(s string) (AfterHookPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "log", "continue":
		return AfterHookLogAndContinue, nil
	case "bubble", "strict":
		return AfterHookBubble, nil
	}
	return AfterHookLogAndContinue, goerrors.New(fmt.Sprintf("unknown after hook policy %q", s), goerrors.CategoryBadInput)
}

// LifecycleContext travels through one dispatch round. Identity fields are
// read only; listeners share data through the item bag.
type LifecycleContext struct {
	event         LifecycleEvent
	user          *User
	actorID       string
	correlationID string
	items         map[string]any
}

// NewLifecycleContext snapshots user and assigns a correlation id.
func NewLifecycleContext(event LifecycleEvent, user *User, actorID string) *LifecycleContext {
	return &LifecycleContext{
		event:         event,
		user:          user.Clone(),
		actorID:       actorID,
		correlationID: ulid.Make().String(),
		items:         map[string]any{},
	}
}

func (lc *LifecycleContext) Event() LifecycleEvent { return lc.event }
func (lc *LifecycleContext) ActorID() string       { return lc.actorID }
func (lc *LifecycleContext) CorrelationID() string { return lc.correlationID }

// User returns a copy of the subject user.
func (lc *LifecycleContext) User() *User {
	return lc.user.Clone()
}

// UserID returns the subject user id as a string.
func (lc *LifecycleContext) UserID() string {
	if lc.user == nil {
		return ""
	}
	return lc.user.ID.String()
}

// Set stores a value in the item bag.
func (lc *LifecycleContext) Set(key string, value any) {
	lc.items[key] = value
}

// Get reads a value from the item bag.
func (lc *LifecycleContext) Get(key string) (any, bool) {
	v, ok := lc.items[key]
	return v, ok
}

// Items returns a copy of the item bag.
func (lc *LifecycleContext) Items() map[string]any {
	return maps.Clone(lc.items)
}

// replaceUser swaps the snapshot once the operation persisted a new state.
func (lc *LifecycleContext) replaceUser(user *User) {
	if user != nil {
		lc.user = user.Clone()
	}
}

// HookResult is the verdict of a before hook.
type HookResult struct {
	failed bool
	reason string
}

// Continue lets the operation proceed.
func Continue() HookResult {
	return HookResult{}
}

// Fail vetoes the operation with a reason surfaced to the caller.
func Fail(reason string) HookResult {
	return HookResult{failed: true, reason: reason}
}

func (r HookResult) Failed() bool   { return r.failed }
func (r HookResult) Reason() string { return r.reason }

// LifecycleListener observes lifecycle events. Before hooks may veto with
// Fail; errors from either hook are treated as faults.
type LifecycleListener interface {
	BeforeLifecycle(ctx context.Context, lc *LifecycleContext) (HookResult, error)
	AfterLifecycle(ctx context.Context, lc *LifecycleContext) error
}

// BeforeHookFunc is a before hook for a single event.
type BeforeHookFunc func(ctx context.Context, lc *LifecycleContext) (HookResult, error)

// AfterHookFunc is an after hook for a single event.
type AfterHookFunc func(ctx context.Context, lc *LifecycleContext) error

// LifecycleHooks adapts per event function pairs into a LifecycleListener.
// Events without a function are ignored.
type LifecycleHooks struct {
	Before map[LifecycleEvent]BeforeHookFunc
	After  map[LifecycleEvent]AfterHookFunc
}

func (h LifecycleHooks) BeforeLifecycle(ctx context.Context, lc *LifecycleContext) (HookResult, error) {
	if fn := h.Before[lc.Event()]; fn != nil {
		return fn(ctx, lc)
	}
	return Continue(), nil
}

func (h LifecycleHooks) AfterLifecycle(ctx context.Context, lc *LifecycleContext) error {
	if fn := h.After[lc.Event()]; fn != nil {
		return fn(ctx, lc)
	}
	return nil
}

// NewLifecycleRejectedError is returned when a before hook vetoes an
// operation. It maps to a 4xx response.
func NewLifecycleRejectedError(event LifecycleEvent, reason string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("%s rejected: %s", event, reason), goerrors.CategoryValidation).
		WithTextCode(TextCodeLifecycleRejected).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"operation": string(event),
			"reason":    reason,
		})
}

// NewLifecycleFaultError wraps an unexpected hook failure. It maps to a 5xx.
func NewLifecycleFaultError(event LifecycleEvent, phase LifecycleHookPhase, err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("%s %s hook failed", event, phase)).
		WithTextCode(TextCodeLifecycleFault).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"operation": string(event),
			"phase":     string(phase),
		})
}

// IsLifecycleRejection reports whether err is a before hook veto.
func IsLifecycleRejection(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeLifecycleRejected
}

// IsLifecycleFault reports whether err is a hook fault.
func IsLifecycleFault(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeLifecycleFault
}

// LifecycleDispatcher runs before hooks, the guarded operation and after
// hooks. The listener list is fixed at construction.
type LifecycleDispatcher struct {
	listeners []LifecycleListener
	policy    AfterHookPolicy
	activity  ActivitySink
	now       func() time.Time
	logger    Logger
	provider  LoggerProvider
}

// DispatcherOption configures a LifecycleDispatcher.
type DispatcherOption func(*LifecycleDispatcher)

func WithAfterHookPolicy(policy AfterHookPolicy) DispatcherOption {
	return func(d *LifecycleDispatcher) {
		d.policy = policy
	}
}

func WithDispatcherActivitySink(sink ActivitySink) DispatcherOption {
	return func(d *LifecycleDispatcher) {
		d.activity = normalizeActivitySink(sink)
	}
}

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *LifecycleDispatcher) {
		d.provider, d.logger = ResolveLogger("idp.lifecycle", d.provider, logger)
	}
}

func WithDispatcherLoggerProvider(provider LoggerProvider) DispatcherOption {
	return func(d *LifecycleDispatcher) {
		d.provider, d.logger = ResolveLogger("idp.lifecycle", provider, d.logger)
	}
}

func NewLifecycleDispatcher(listeners []LifecycleListener, opts ...DispatcherOption) *LifecycleDispatcher {
	provider, logger := ResolveLogger("idp.lifecycle", nil, nil)
	d := &LifecycleDispatcher{
		policy:   AfterHookLogAndContinue,
		activity: normalizeActivitySink(nil),
		now:      time.Now,
		logger:   logger,
		provider: provider,
	}
	for _, l := range listeners {
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch runs op between the before and after hooks of lc's event. A veto
// or a before hook fault aborts before op runs. Once op succeeds nothing
// downstream can undo it; after hook failures follow the configured policy.
func (d *LifecycleDispatcher) Dispatch(ctx context.Context, lc *LifecycleContext, op func(ctx context.Context) error) error {
	if lc == nil || op == nil {
		return goerrors.New("lifecycle context and operation are required", goerrors.CategoryInternal)
	}

	for i, l := range d.listeners {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := d.callBefore(ctx, l, lc)
		if err != nil {
			fault := NewLifecycleFaultError(lc.Event(), LifecyclePhaseBefore, err)
			d.logger.Error("lifecycle before hook fault",
				"event", lc.Event(),
				"listener", i,
				"user_id", lc.UserID(),
				"actor_id", lc.ActorID(),
				"correlation_id", lc.CorrelationID(),
				"error", err,
			)
			return fault
		}

		if result.Failed() {
			d.logger.Info("lifecycle operation rejected",
				"event", lc.Event(),
				"listener", i,
				"reason", result.Reason(),
				"correlation_id", lc.CorrelationID(),
			)
			return NewLifecycleRejectedError(lc.Event(), result.Reason())
		}
	}

	if err := op(ctx); err != nil {
		return err
	}

	d.record(ctx, lc)

	for i, l := range d.listeners {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("lifecycle after hooks interrupted", "event", lc.Event(), "correlation_id", lc.CorrelationID(), "error", err)
			if d.policy == AfterHookBubble {
				return err
			}
			return nil
		}

		if err := d.callAfter(ctx, l, lc); err != nil {
			d.logger.Error("lifecycle after hook fault",
				"event", lc.Event(),
				"listener", i,
				"user_id", lc.UserID(),
				"correlation_id", lc.CorrelationID(),
				"policy", d.policy.String(),
				"error", err,
			)
			if d.policy == AfterHookBubble {
				return NewLifecycleFaultError(lc.Event(), LifecyclePhaseAfter, err)
			}
		}
	}

	return nil
}

func (d *LifecycleDispatcher) callBefore(ctx context.Context, l LifecycleListener, lc *LifecycleContext) (result HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.BeforeLifecycle(ctx, lc)
}

func (d *LifecycleDispatcher) callAfter(ctx context.Context, l LifecycleListener, lc *LifecycleContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.AfterLifecycle(ctx, lc)
}

func (d *LifecycleDispatcher) record(ctx context.Context, lc *LifecycleContext) {
	recordActivity(ctx, d.activity, d.logger, ActivityEvent{
		EventType:  ActivityEventLifecycle,
		UserID:     lc.UserID(),
		Outcome:    string(lc.Event()),
		Metadata:   map[string]any{"correlation_id": lc.CorrelationID(), "actor_id": lc.ActorID()},
		OccurredAt: d.now().UTC(),
	})
}
