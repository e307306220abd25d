package idp

import (
	"context"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// PermissionManageUsers guards the user lifecycle admin routes.
const PermissionManageUsers = "users.manage"

// AccountControllerRoutes holds the mount paths of the account routes.
type AccountControllerRoutes struct {
	Register      string
	PasswordReset string
	Me            string
	AdminUsers    string
}

// AccountController exposes the lifecycle operations over HTTP.
type AccountController struct {
	Routes        *AccountControllerRoutes
	register      *RegisterUserHandler
	confirmEmail  *ConfirmEmailHandler
	requestReset  *RequestPasswordResetHandler
	passwordReset *FinalizePasswordResetHandler
	updateProfile *UpdateProfileHandler
	deleteUser    *DeleteUserHandler
	restoreUser   *RestoreUserHandler
	logger        Logger
	provider      LoggerProvider
}

func NewAccountController(repo RepositoryManager, lifecycle *LifecycleDispatcher) *AccountController {
	provider, logger := ResolveLogger("idp.http.account", nil, nil)
	return &AccountController{
		Routes: &AccountControllerRoutes{
			Register:      "/account/register",
			PasswordReset: "/account/password-reset",
			Me:            "/account/me",
			AdminUsers:    "/api/admin/users",
		},
		register:      NewRegisterUserHandler(repo, lifecycle),
		confirmEmail:  NewConfirmEmailHandler(repo, lifecycle),
		requestReset:  NewRequestPasswordResetHandler(repo),
		passwordReset: NewFinalizePasswordResetHandler(repo, lifecycle),
		updateProfile: NewUpdateProfileHandler(repo, lifecycle),
		deleteUser:    NewDeleteUserHandler(repo, lifecycle),
		restoreUser:   NewRestoreUserHandler(repo, lifecycle),
		logger:        logger,
		provider:      provider,
	}
}

func (a *AccountController) WithLogger(logger Logger) *AccountController {
	a.provider, a.logger = ResolveLogger("idp.http.account", a.provider, logger)
	return a
}

// WithResetNotifier sets the channel used to deliver reset sessions.
func (a *AccountController) WithResetNotifier(notifier ResetNotifier) *AccountController {
	a.requestReset.WithNotifier(notifier)
	return a
}

// RegisterAccountRoutes mounts the account routes. protected authenticates
// the caller; scoped runs after it for routes that honour the tenant header.
func RegisterAccountRoutes[T any](app router.Router[T], a *AccountController, protected, admin router.MiddlewareFunc, scoped ...router.MiddlewareFunc) {
	app.Post(a.Routes.Register, a.Register).
		SetName("account.register")
	app.Post(a.Routes.PasswordReset, a.RequestPasswordReset).
		SetName("account.password_reset.request")
	app.Post(a.Routes.PasswordReset+"/:session", a.FinalizePasswordReset).
		SetName("account.password_reset")

	me := append([]router.MiddlewareFunc{protected}, scoped...)
	app.Get(a.Routes.Me, a.Me, me...).
		SetName("account.me.get")
	app.Patch(a.Routes.Me, a.UpdateProfile, me...).
		SetName("account.me.update")

	app.Post(a.Routes.AdminUsers+"/:id/confirm-email", a.ConfirmEmail, admin).
		SetName("admin.users.confirm_email")
	app.Delete(a.Routes.AdminUsers+"/:id", a.DeleteUser, admin).
		SetName("admin.users.delete")
	app.Post(a.Routes.AdminUsers+"/:id/restore", a.RestoreUser, admin).
		SetName("admin.users.restore")
}

func (a *AccountController) Register(ctx router.Context) error {
	payload := RegisterUserMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return a.renderError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest))
	}

	user, err := a.register.Register(ctx.Context(), payload)
	if err != nil {
		return a.renderError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, user)
}

// RequestPasswordReset always answers 202 for a well formed request.
func (a *AccountController) RequestPasswordReset(ctx router.Context) error {
	payload := RequestPasswordResetMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return a.renderError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := a.requestReset.Execute(ctx.Context(), payload); err != nil {
		return a.renderError(ctx, err)
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (a *AccountController) FinalizePasswordReset(ctx router.Context) error {
	payload := FinalizePasswordResetMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return a.renderError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest))
	}
	payload.Session = ctx.Param("session")

	if err := a.passwordReset.Execute(ctx.Context(), payload); err != nil {
		return a.renderError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Me returns the caller claims together with the active organization.
func (a *AccountController) Me(ctx router.Context) error {
	claims, ok := AccessClaimsFromContext(ctx.Context())
	if !ok {
		return a.renderError(ctx, errMissingIdentity())
	}

	res := map[string]any{
		"sub":           claims.Subject(),
		"client_id":     claims.Client(),
		"scope":         JoinScopes(claims.Scopes()),
		"roles":         claims.Roles(),
		"permissions":   claims.Permissions(),
		"organizations": claims.Organizations(),
	}
	if oc, ok := OrganizationFromContext(ctx.Context()); ok {
		res["organization"] = oc
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *AccountController) UpdateProfile(ctx router.Context) error {
	userID, err := callerID(ctx.Context())
	if err != nil {
		return a.renderError(ctx, err)
	}

	payload := UpdateProfileMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return a.renderError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest))
	}
	payload.UserID = userID
	payload.ActorID = userID.String()

	user, err := a.updateProfile.Update(ctx.Context(), payload)
	if err != nil {
		return a.renderError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, user)
}

func (a *AccountController) ConfirmEmail(ctx router.Context) error {
	return a.adminCommand(ctx, func(c context.Context, target uuid.UUID, actor string) error {
		return a.confirmEmail.Execute(c, ConfirmEmailMessage{UserID: target, ActorID: actor})
	})
}

func (a *AccountController) DeleteUser(ctx router.Context) error {
	return a.adminCommand(ctx, func(c context.Context, target uuid.UUID, actor string) error {
		return a.deleteUser.Execute(c, DeleteUserMessage{UserID: target, ActorID: actor})
	})
}

func (a *AccountController) RestoreUser(ctx router.Context) error {
	return a.adminCommand(ctx, func(c context.Context, target uuid.UUID, actor string) error {
		return a.restoreUser.Execute(c, RestoreUserMessage{UserID: target, ActorID: actor})
	})
}

func (a *AccountController) adminCommand(ctx router.Context, run func(context.Context, uuid.UUID, string) error) error {
	actor, err := callerID(ctx.Context())
	if err != nil {
		return a.renderError(ctx, err)
	}

	target, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return a.renderError(ctx, goerrors.New("invalid user id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest))
	}

	if err := run(ctx.Context(), target, actor.String()); err != nil {
		return a.renderError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (a *AccountController) renderError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("account request failed",
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
		return ctx.JSON(status, map[string]any{"error": "server_error"})
	}

	body := map[string]any{"error": richErr.TextCode, "message": richErr.Message}
	if IsLifecycleRejection(err) {
		body["reason"] = richErr.Metadata["reason"]
	}
	return ctx.JSON(status, body)
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	claims, ok := AccessClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, errMissingIdentity()
	}
	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		return uuid.Nil, errMissingIdentity()
	}
	return id, nil
}
