package idp

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultPasswordResetTTL bounds how long a reset request stays usable.
const DefaultPasswordResetTTL = 24 * time.Hour

type FinalizePasswordResetMessage struct {
	Session  string `json:"session" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset password session token"`
	Password string `json:"password" example:"some_secret_word" doc:"Password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

func (e FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Session, validation.Required),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 128)),
	)
}

type FinalizePasswordResetHandler struct {
	lifecycleCommand
	ttl time.Duration
}

func NewFinalizePasswordResetHandler(repo RepositoryManager, lifecycle *LifecycleDispatcher) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		lifecycleCommand: newLifecycleCommand("idp.command.password_reset", repo, lifecycle),
		ttl:              DefaultPasswordResetTTL,
	}
}

func (h *FinalizePasswordResetHandler) WithClock(now func() time.Time) *FinalizePasswordResetHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := guard(ctx, "password reset finalization"); err != nil {
		return err
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	resetID, err := uuid.Parse(event.Session)
	if err != nil {
		return errInvalidResetToken()
	}

	reset, user, err := h.loadReset(ctx, resetID)
	if err != nil {
		return err
	}

	passwordHash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	lc := NewLifecycleContext(LifecyclePasswordReset, user, user.ID.String())
	lc.Set(LifecycleItemResetID, reset.ID.String())

	err = h.lifecycle.Dispatch(ctx, lc, func(ctx context.Context) error {
		return h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := h.repo.PasswordResets().MarkResetTx(ctx, tx, reset.ID, h.now().UTC()); err != nil {
				if isNotFound(err) {
					return errResetTokenUsed()
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
			}

			if err := h.repo.Users().ResetPasswordTx(ctx, tx, user.ID, passwordHash); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
			}
			return nil
		})
	})

	return richError(err, "failed to finalize password reset")
}

func (h *FinalizePasswordResetHandler) loadReset(ctx context.Context, id uuid.UUID) (*PasswordReset, *User, error) {
	var (
		reset *PasswordReset
		user  *User
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		reset, err = h.repo.PasswordResets().GetByIDTx(ctx, tx, id)
		if err != nil {
			if isNotFound(err) {
				return errInvalidResetToken()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		if reset.Status != ResetRequestedStatus {
			return errResetTokenUsed()
		}

		if reset.CreatedAt == nil {
			return goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
		}

		if h.now().Sub(*reset.CreatedAt) > h.ttl {
			return goerrors.New("password reset token has expired", goerrors.CategoryValidation).
				WithTextCode(TextCodeTokenExpired).
				WithCode(goerrors.CodeBadRequest)
		}

		if reset.UserID == nil {
			return goerrors.New("password reset record is not associated with a user", goerrors.CategoryInternal)
		}

		user, err = h.repo.Users().GetByIDTx(ctx, tx, *reset.UserID)
		if err != nil {
			if isNotFound(err) {
				return errInvalidResetToken()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for password reset")
		}
		return nil
	})

	if err != nil {
		return nil, nil, richError(err, "failed to load password reset")
	}
	return reset, user, nil
}

func errInvalidResetToken() error {
	return goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound)
}

func errResetTokenUsed() error {
	return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
		WithTextCode("TOKEN_ALREADY_USED").
		WithCode(goerrors.CodeConflict)
}
