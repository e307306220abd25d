package idp

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Lifecycle item bag keys populated by the command handlers.
const (
	LifecycleItemPreviousUser = "previous_user"
	LifecycleItemResetID      = "password_reset_id"
)

const commandTimeout = 10 * time.Second

// lifecycleCommand carries what every lifecycle command handler needs.
type lifecycleCommand struct {
	repo      RepositoryManager
	lifecycle *LifecycleDispatcher
	now       func() time.Time
	logger    Logger
	provider  LoggerProvider
}

func newLifecycleCommand(name string, repo RepositoryManager, lifecycle *LifecycleDispatcher) lifecycleCommand {
	provider, logger := ResolveLogger(name, nil, nil)
	if lifecycle == nil {
		lifecycle = NewLifecycleDispatcher(nil)
	}
	return lifecycleCommand{
		repo:      repo,
		lifecycle: lifecycle,
		now:       time.Now,
		logger:    logger,
		provider:  provider,
	}
}

// guard checks for a cancelled context the way every Execute does.
func guard(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+operation)
	default:
		return nil
	}
}

// loadUser reads the subject user before the lifecycle round starts.
func (c lifecycleCommand) loadUser(ctx context.Context, id uuid.UUID, withDeleted bool) (*User, error) {
	var user *User
	err := c.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if withDeleted {
			user, err = c.repo.Users().GetByIDWithDeletedTx(ctx, tx, id)
		} else {
			user, err = c.repo.Users().GetByIDTx(ctx, tx, id)
		}
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, goerrors.New("user not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithMetadata(map[string]any{"user_id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}
	return user, nil
}

// richError keeps go-errors values intact and wraps anything else.
func richError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
