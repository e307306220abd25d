package idp

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DeleteUserMessage struct {
	UserID  uuid.UUID `json:"user_id"`
	ActorID string    `json:"-"`
}

func (e DeleteUserMessage) Type() string { return "user.delete" }

// DeleteUserHandler soft deletes a user in a Deleted round.
type DeleteUserHandler struct {
	lifecycleCommand
}

func NewDeleteUserHandler(repo RepositoryManager, lifecycle *LifecycleDispatcher) *DeleteUserHandler {
	return &DeleteUserHandler{newLifecycleCommand("idp.command.delete_user", repo, lifecycle)}
}

func (h *DeleteUserHandler) Execute(ctx context.Context, event DeleteUserMessage) error {
	if err := guard(ctx, "user deletion"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.loadUser(ctx, event.UserID, false)
	if err != nil {
		return err
	}

	lc := NewLifecycleContext(LifecycleDeleted, user, event.ActorID)

	err = h.lifecycle.Dispatch(ctx, lc, func(ctx context.Context) error {
		return h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := h.repo.Users().SoftDeleteTx(ctx, tx, user.ID); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
			}
			deleted := user.Clone()
			at := h.now().UTC()
			deleted.DeletedAt = &at
			lc.replaceUser(deleted)
			return nil
		})
	})

	return richError(err, "user deletion failed")
}

type RestoreUserMessage struct {
	UserID  uuid.UUID `json:"user_id"`
	ActorID string    `json:"-"`
}

func (e RestoreUserMessage) Type() string { return "user.restore" }

// RestoreUserHandler brings back a soft deleted user in a Restored round.
type RestoreUserHandler struct {
	lifecycleCommand
}

func NewRestoreUserHandler(repo RepositoryManager, lifecycle *LifecycleDispatcher) *RestoreUserHandler {
	return &RestoreUserHandler{newLifecycleCommand("idp.command.restore_user", repo, lifecycle)}
}

func (h *RestoreUserHandler) Execute(ctx context.Context, event RestoreUserMessage) error {
	if err := guard(ctx, "user restoration"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.loadUser(ctx, event.UserID, true)
	if err != nil {
		return err
	}

	if !user.IsDeleted() {
		return goerrors.New("user is not deleted", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithMetadata(map[string]any{"user_id": user.ID.String()})
	}

	lc := NewLifecycleContext(LifecycleRestored, user, event.ActorID)

	err = h.lifecycle.Dispatch(ctx, lc, func(ctx context.Context) error {
		return h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			restored, err := h.repo.Users().RestoreTx(ctx, tx, user.ID)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to restore user")
			}
			lc.replaceUser(restored)
			return nil
		})
	})

	return richError(err, "user restoration failed")
}
