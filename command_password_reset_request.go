package idp

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RequestPasswordResetMessage struct {
	Email string `json:"email" example:"ada@example.com" doc:"Account email"`
}

func (e RequestPasswordResetMessage) Type() string { return "user.password_reset.request" }

func (e RequestPasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// ResetNotifier delivers the reset session to the account owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, reset *PasswordReset) error
}

// ResetNotifierFunc adapts a function to ResetNotifier.
type ResetNotifierFunc func(ctx context.Context, reset *PasswordReset) error

func (f ResetNotifierFunc) NotifyPasswordReset(ctx context.Context, reset *PasswordReset) error {
	return f(ctx, reset)
}

// RequestPasswordResetHandler opens a reset request. Unknown emails succeed
// silently so the endpoint does not reveal which accounts exist.
type RequestPasswordResetHandler struct {
	repo     RepositoryManager
	notifier ResetNotifier
	logger   Logger
	provider LoggerProvider
}

func NewRequestPasswordResetHandler(repo RepositoryManager) *RequestPasswordResetHandler {
	provider, logger := ResolveLogger("idp.command.password_reset_request", nil, nil)
	return &RequestPasswordResetHandler{repo: repo, logger: logger, provider: provider}
}

func (h *RequestPasswordResetHandler) WithNotifier(notifier ResetNotifier) *RequestPasswordResetHandler {
	h.notifier = notifier
	return h
}

func (h *RequestPasswordResetHandler) WithLogger(logger Logger) *RequestPasswordResetHandler {
	h.provider, h.logger = ResolveLogger("idp.command.password_reset_request", h.provider, logger)
	return h
}

func (h *RequestPasswordResetHandler) Execute(ctx context.Context, event RequestPasswordResetMessage) error {
	if err := guard(ctx, "password reset request"); err != nil {
		return err
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset request").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	email := strings.ToLower(strings.TrimSpace(event.Email))

	var reset *PasswordReset
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByEmailOrUsernameTx(ctx, tx, email)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		if user.IsDeleted() {
			return nil
		}

		reset, err = h.repo.PasswordResets().CreateTx(ctx, tx, &PasswordReset{
			UserID: &user.ID,
			Email:  user.Email,
			Status: ResetRequestedStatus,
		})
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
		}
		return nil
	})
	if err != nil {
		return richError(err, "failed to request password reset")
	}

	if reset == nil {
		h.logger.Debug("password reset requested for unknown account")
		return nil
	}

	if h.notifier == nil {
		h.logger.Warn("password reset opened without a notifier", "reset_id", reset.ID.String())
		return nil
	}

	if err := h.notifier.NotifyPasswordReset(ctx, reset); err != nil {
		h.logger.Error("password reset notification failed", "reset_id", reset.ID.String(), "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver password reset")
	}
	return nil
}
