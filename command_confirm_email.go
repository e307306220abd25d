package idp

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ConfirmEmailMessage struct {
	UserID  uuid.UUID `json:"user_id"`
	ActorID string    `json:"-"`
}

func (e ConfirmEmailMessage) Type() string { return "user.confirm_email" }

type ConfirmEmailHandler struct {
	lifecycleCommand
}

func NewConfirmEmailHandler(repo RepositoryManager, lifecycle *LifecycleDispatcher) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{newLifecycleCommand("idp.command.confirm_email", repo, lifecycle)}
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	if err := guard(ctx, "email confirmation"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	user, err := h.loadUser(ctx, event.UserID, false)
	if err != nil {
		return err
	}

	if user.EmailConfirmed {
		return nil
	}

	lc := NewLifecycleContext(LifecycleEmailConfirmation, user, event.ActorID)

	err = h.lifecycle.Dispatch(ctx, lc, func(ctx context.Context) error {
		return h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			confirmed, err := h.repo.Users().ConfirmEmailTx(ctx, tx, user.ID)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email")
			}
			lc.replaceUser(confirmed)
			return nil
		})
	})

	return richError(err, "email confirmation failed")
}
