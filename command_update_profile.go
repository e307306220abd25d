package idp

import (
	"context"
	"maps"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UpdateProfileMessage replaces the display name and merges metadata. An
// empty metadata value removes the key.
type UpdateProfileMessage struct {
	UserID      uuid.UUID         `json:"user_id"`
	DisplayName *string           `json:"display_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ActorID     string            `json:"-"`
}

func (e UpdateProfileMessage) Type() string { return "user.profile.update" }

func (e UpdateProfileMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.UserID, validation.By(func(any) error {
			if e.UserID == uuid.Nil {
				return validation.ErrRequired
			}
			return nil
		})),
		validation.Field(&e.DisplayName, validation.NilOrNotEmpty, validation.Length(1, 128)),
	)
}

type UpdateProfileHandler struct {
	lifecycleCommand
}

func NewUpdateProfileHandler(repo RepositoryManager, lifecycle *LifecycleDispatcher) *UpdateProfileHandler {
	return &UpdateProfileHandler{newLifecycleCommand("idp.command.update_profile", repo, lifecycle)}
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	_, err := h.Update(ctx, event)
	return err
}

// Update runs a ProfileUpdated round. Hooks see the proposed user while the
// previous state sits in the item bag.
func (h *UpdateProfileHandler) Update(ctx context.Context, event UpdateProfileMessage) (*User, error) {
	if err := guard(ctx, "profile update"); err != nil {
		return nil, err
	}

	if err := event.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	current, err := h.loadUser(ctx, event.UserID, false)
	if err != nil {
		return nil, err
	}

	proposed := current.Clone()
	if event.DisplayName != nil {
		proposed.DisplayName = strings.TrimSpace(*event.DisplayName)
	}
	if proposed.Metadata == nil {
		proposed.Metadata = map[string]string{}
	}
	maps.Copy(proposed.Metadata, event.Metadata)
	maps.DeleteFunc(proposed.Metadata, func(_, v string) bool { return strings.TrimSpace(v) == "" })

	lc := NewLifecycleContext(LifecycleProfileUpdated, proposed, event.ActorID)
	lc.Set(LifecycleItemPreviousUser, current)

	err = h.lifecycle.Dispatch(ctx, lc, func(ctx context.Context) error {
		return h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			updated, err := h.repo.Users().UpdateProfileTx(ctx, tx, proposed)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
			}
			lc.replaceUser(updated)
			return nil
		})
	})
	if err != nil {
		return nil, richError(err, "profile update failed")
	}

	return lc.User(), nil
}
