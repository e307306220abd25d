package idp

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	Password    string            `json:"password"`
	Metadata    map[string]string `json:"metadata"`
	ActorID     string            `json:"-"`
	UseHashid   bool              `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(10, 128)),
		validation.Field(&e.Username, validation.Length(0, 64)),
	)
}

// RegisterUserHandler creates users inside a Registration lifecycle round.
type RegisterUserHandler struct {
	lifecycleCommand
}

func NewRegisterUserHandler(repo RepositoryManager, lifecycle *LifecycleDispatcher) *RegisterUserHandler {
	return &RegisterUserHandler{newLifecycleCommand("idp.command.register", repo, lifecycle)}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	h.provider, h.logger = ResolveLogger("idp.command.register", h.provider, logger)
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	_, err := h.Register(ctx, event)
	return err
}

// Register validates the message, runs the before hooks, persists the user
// and runs the after hooks. A veto leaves the store untouched.
func (h *RegisterUserHandler) Register(ctx context.Context, event RegisterUserMessage) (*User, error) {
	if err := guard(ctx, "user registration"); err != nil {
		return nil, err
	}

	if err := event.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	hash, err := HashPassword(event.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	email := strings.ToLower(strings.TrimSpace(event.Email))
	user := &User{
		ID:           uuid.New(),
		Email:        email,
		Username:     getUsername(event.Username, email),
		DisplayName:  strings.TrimSpace(event.DisplayName),
		PasswordHash: hash,
		Metadata:     event.Metadata,
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}
	}

	lc := NewLifecycleContext(LifecycleRegistration, user, event.ActorID)

	err = h.lifecycle.Dispatch(ctx, lc, func(ctx context.Context) error {
		return h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			created, err := h.repo.Users().CreateTx(ctx, tx, user)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user").
					WithCode(goerrors.CodeConflict)
			}
			lc.replaceUser(created)
			return nil
		})
	})
	if err != nil {
		return nil, richError(err, "user registration transaction failed")
	}

	return lc.User(), nil
}

func getUsername(username, email string) string {
	if username = strings.TrimSpace(username); username != "" {
		return username
	}

	if local, _, ok := strings.Cut(email, "@"); ok {
		return local
	}

	return email
}
