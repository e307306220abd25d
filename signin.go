package idp

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// SignInResult is the outcome of a password check.
type SignInResult int

const (
	SignInSucceeded SignInResult = iota
	SignInFailed
	SignInLockedOut
)

func (r SignInResult) String() string {
	switch r {
	case SignInSucceeded:
		return "succeeded"
	case SignInLockedOut:
		return "locked_out"
	default:
		return "failed"
	}
}

// Lockout defaults.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 5 * time.Minute
)

// SignInManager verifies passwords and tracks failed attempts toward lockout.
type SignInManager struct {
	users     UserStore
	threshold int
	duration  time.Duration
	now       func() time.Time
	activity  ActivitySink
	logger    Logger
	provider  LoggerProvider
}

// NewSignInManager creates a manager. A threshold below one disables lockout.
func NewSignInManager(users UserStore, threshold int, duration time.Duration) *SignInManager {
	provider, logger := ResolveLogger("idp.signin", nil, nil)
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return &SignInManager{
		users:     users,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
		activity:  normalizeActivitySink(nil),
		logger:    logger,
		provider:  provider,
	}
}

func (m *SignInManager) WithLogger(logger Logger) *SignInManager {
	m.provider, m.logger = ResolveLogger("idp.signin", m.provider, logger)
	return m
}

func (m *SignInManager) WithLoggerProvider(provider LoggerProvider) *SignInManager {
	m.provider, m.logger = ResolveLogger("idp.signin", provider, m.logger)
	return m
}

func (m *SignInManager) WithActivitySink(sink ActivitySink) *SignInManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

// WithClock overrides the time source.
func (m *SignInManager) WithClock(now func() time.Time) *SignInManager {
	if now != nil {
		m.now = now
	}
	return m
}

// CheckPasswordSignIn compares password against the user's hash. With
// lockoutOnFailure every failure is counted and reaching the threshold locks
// the account for the configured duration.
func (m *SignInManager) CheckPasswordSignIn(ctx context.Context, user *User, password string, lockoutOnFailure bool) (SignInResult, error) {
	if user == nil {
		return SignInFailed, nil
	}

	now := m.now()
	if user.IsLockedOut(now) {
		m.record(ctx, ActivityEventLockout, user, SignInLockedOut)
		return SignInLockedOut, nil
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			m.logger.Warn("password hash comparison error", "user_id", user.ID, "error", err)
		}
		return m.failed(ctx, user, now, lockoutOnFailure)
	}

	if user.AccessFailedCount > 0 || user.LockoutEnd != nil {
		if err := m.users.ResetSignInFailures(ctx, user); err != nil {
			return SignInFailed, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset sign-in failures")
		}
		user.AccessFailedCount = 0
		user.LockoutEnd = nil
	}

	m.record(ctx, ActivityEventSignInSuccess, user, SignInSucceeded)
	return SignInSucceeded, nil
}

func (m *SignInManager) failed(ctx context.Context, user *User, now time.Time, lockoutOnFailure bool) (SignInResult, error) {
	if !lockoutOnFailure || m.threshold < 1 {
		m.record(ctx, ActivityEventSignInFailure, user, SignInFailed)
		return SignInFailed, nil
	}

	lockoutEnd := now.Add(m.duration)
	failed, locked, err := m.users.IncrementFailedSignIn(ctx, user, m.threshold, lockoutEnd)
	if err != nil {
		return SignInFailed, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track sign-in attempt")
	}

	if !locked {
		user.AccessFailedCount = failed
		m.record(ctx, ActivityEventSignInFailure, user, SignInFailed)
		return SignInFailed, nil
	}

	user.AccessFailedCount = 0
	user.LockoutEnd = &lockoutEnd
	m.logger.Info("account locked out", "user_id", user.ID, "until", lockoutEnd)
	m.record(ctx, ActivityEventLockout, user, SignInLockedOut)
	return SignInLockedOut, nil
}

func (m *SignInManager) record(ctx context.Context, eventType ActivityEventType, user *User, result SignInResult) {
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType:  eventType,
		UserID:     user.ID.String(),
		Outcome:    result.String(),
		OccurredAt: m.now().UTC(),
	})
}
