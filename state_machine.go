package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_TRANSITION"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// LifecycleMachine governs account status transitions. The locked
// condition is outside its scope: lockout is applied and cleared by the
// login path against locked_until, never as a status change.
type LifecycleMachine interface {
	Transition(ctx context.Context, user *User, target UserStatus, opts ...TransitionOption) (*User, error)
	CurrentStatus(user *User) UserStatus
}

// StateMachineOption customizes machine construction.
type StateMachineOption func(*lifecycleMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *lifecycleMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the sink used to audit lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *lifecycleMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *lifecycleMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the audit reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.reason = reason
	}
}

// WithTransitionRequest attaches request metadata for the audit row.
func WithTransitionRequest(ip, userAgent string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.ip = ip
		opts.userAgent = userAgent
	}
}

// WithSuspensionTime overrides the timestamp recorded when entering suspension.
func WithSuspensionTime(t time.Time) TransitionOption {
	return func(opts *transitionOptions) {
		opts.suspensionTime = &t
	}
}

// NewLifecycleMachine returns the default implementation backed by the
// provided users repository.
func NewLifecycleMachine(users Users, opts ...StateMachineOption) LifecycleMachine {
	sm := &lifecycleMachine{
		users: users,
		transitions: map[UserStatus]map[UserStatus]struct{}{
			UserStatusPending: {
				UserStatusActive:      {},
				UserStatusDeactivated: {},
			},
			UserStatusActive: {
				UserStatusSuspended:   {},
				UserStatusDeactivated: {},
			},
			UserStatusSuspended: {
				UserStatusActive:      {},
				UserStatusDeactivated: {},
			},
			UserStatusDeactivated: {
				UserStatusActive: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type lifecycleMachine struct {
	users        Users
	transitions  map[UserStatus]map[UserStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	reason         string
	ip             string
	userAgent      string
	suspensionTime *time.Time
}

func (sm *lifecycleMachine) Transition(ctx context.Context, user *User, target UserStatus, opts ...TransitionOption) (*User, error) {
	if user == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "user is nil",
		})
	}

	user.EnsureStatus()
	from := user.Status
	if target == "" {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "target status is empty",
		})
	}

	if from == target {
		return user, nil
	}

	if !sm.canTransition(from, target) {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	statusOpts, suspensionTime := sm.buildStatusOptions(user, from, target, options)

	updated, err := sm.users.UpdateStatus(ctx, user.ID, target, statusOpts...)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(user, updated, target, from, suspensionTime)
	sm.recordActivity(ctx, user, from, target, options)

	return user, nil
}

func (sm *lifecycleMachine) CurrentStatus(user *User) UserStatus {
	if user == nil {
		return ""
	}
	user.EnsureStatus()
	return user.Status
}

func (sm *lifecycleMachine) canTransition(from, to UserStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *lifecycleMachine) buildStatusOptions(user *User, from, to UserStatus, opts *transitionOptions) ([]StatusUpdateOption, *time.Time) {
	statusOpts := []StatusUpdateOption{}
	var suspensionTime *time.Time

	if to == UserStatusSuspended {
		switch {
		case opts.suspensionTime != nil:
			suspensionTime = opts.suspensionTime
		default:
			now := sm.now()
			suspensionTime = &now
		}
		statusOpts = append(statusOpts, WithSuspendedAt(suspensionTime))
	} else if from == UserStatusSuspended && user.SuspendedAt != nil {
		statusOpts = append(statusOpts, WithSuspendedAt(nil))
	}

	return statusOpts, suspensionTime
}

func (sm *lifecycleMachine) applyUpdates(user, updated *User, target, from UserStatus, suspensionTime *time.Time) {
	if updated != nil {
		if updated.Status != "" {
			user.Status = updated.Status
		} else {
			user.Status = target
		}
		user.SuspendedAt = updated.SuspendedAt
		return
	}

	user.Status = target
	if target == UserStatusSuspended {
		user.SuspendedAt = suspensionTime
	} else if from == UserStatusSuspended {
		user.SuspendedAt = nil
	}
}

func (sm *lifecycleMachine) recordActivity(ctx context.Context, user *User, from, to UserStatus, opts *transitionOptions) {
	event := ActivityEvent{
		EventType:  transitionEventType(from, to),
		UserID:     user.ID.String(),
		IPAddress:  opts.ip,
		UserAgent:  opts.userAgent,
		Success:    true,
		OccurredAt: sm.now(),
		Metadata: map[string]any{
			"from": from,
			"to":   to,
		},
	}

	if opts.reason != "" {
		event.Metadata["reason"] = opts.reason
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func transitionEventType(from, to UserStatus) ActivityEventType {
	switch to {
	case UserStatusDeactivated:
		return ActivityEventAccountDeactivate
	case UserStatusSuspended:
		return ActivityEventAccountSuspend
	case UserStatusActive:
		if from == UserStatusPending {
			return ActivityEventEmailVerification
		}
		return ActivityEventAccountReactivate
	default:
		return ActivityEventAccountReactivate
	}
}
