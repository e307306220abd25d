package idp

import (
	"database/sql"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
)

// OAuth2 error codes surfaced by the token endpoint.
const (
	OAuthInvalidRequest       = "invalid_request"
	OAuthInvalidClient        = "invalid_client"
	OAuthInvalidGrant         = "invalid_grant"
	OAuthUnauthorizedClient   = "unauthorized_client"
	OAuthUnsupportedGrantType = "unsupported_grant_type"
	OAuthAccessDenied         = "access_denied"
	OAuthServerError          = "server_error"
	OAuthTemporarilyUnavail   = "temporarily_unavailable"
)

// Text codes for non OAuth failures.
const (
	TextCodeLifecycleRejected     = "LIFECYCLE_REJECTED"
	TextCodeLifecycleFault        = "LIFECYCLE_FAULT"
	TextCodeMalformedOrganization = "MALFORMED_ORGANIZATION_ID"
	TextCodeMissingIdentity       = "MISSING_IDENTITY"
	TextCodeNotMember             = "NOT_ORGANIZATION_MEMBER"
	TextCodeOrganizationNotFound  = "ORGANIZATION_NOT_FOUND"
	TextCodeOrganizationSet       = "ORGANIZATION_CONTEXT_ALREADY_SET"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
	TextCodeInvalidCreds          = "INVALID_CREDENTIALS"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeTokenMalformed        = "TOKEN_MALFORMED"
	TextCodeImmutableClaim        = "IMMUTABLE_CLAIM_MUTATION"
	TextCodeInvalidDestinations   = "INVALID_CLAIM_DESTINATIONS"
)

// Generic descriptions, shared so that unknown users and bad passwords are
// indistinguishable to the caller.
const (
	descInvalidCredentials = "invalid credentials"
	descAccountLocked      = "account locked"
	descEmailUnconfirmed   = "the email address has not been confirmed"
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// NewOAuthError builds an OAuth2 protocol error. The OAuth code travels as
// the text code and the description as the message.
func NewOAuthError(code, description string) *goerrors.Error {
	category, status := oauthCategory(code)
	return goerrors.New(description, category).
		WithTextCode(code).
		WithCode(status)
}

// OAuthErrorCode extracts the OAuth error code carried by err, falling back
// to server_error for anything that is not an OAuth error.
func OAuthErrorCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && isOAuthCode(richErr.TextCode) {
		return richErr.TextCode
	}
	return OAuthServerError
}

func oauthCategory(code string) (goerrors.Category, int) {
	switch code {
	case OAuthInvalidClient:
		return goerrors.CategoryAuth, goerrors.CodeUnauthorized
	case OAuthUnauthorizedClient, OAuthAccessDenied:
		return goerrors.CategoryAuthz, goerrors.CodeBadRequest
	case OAuthInvalidGrant:
		return goerrors.CategoryAuth, goerrors.CodeBadRequest
	case OAuthServerError:
		return goerrors.CategoryInternal, goerrors.CodeInternal
	case OAuthTemporarilyUnavail:
		return goerrors.CategoryRateLimit, http.StatusTooManyRequests
	default:
		return goerrors.CategoryBadInput, goerrors.CodeBadRequest
	}
}

func isOAuthCode(code string) bool {
	switch code {
	case OAuthInvalidRequest, OAuthInvalidClient, OAuthInvalidGrant,
		OAuthUnauthorizedClient, OAuthUnsupportedGrantType, OAuthAccessDenied,
		OAuthServerError, OAuthTemporarilyUnavail:
		return true
	}
	return false
}

func errInvalidCredentials() *goerrors.Error {
	return NewOAuthError(OAuthInvalidGrant, descInvalidCredentials)
}

func errAccountLocked() *goerrors.Error {
	return NewOAuthError(OAuthInvalidGrant, descAccountLocked)
}

func errEmailUnconfirmed() *goerrors.Error {
	return NewOAuthError(OAuthAccessDenied, descEmailUnconfirmed)
}

func errTokenExpired() *goerrors.Error {
	return goerrors.New("token is expired", goerrors.CategoryAuth).
		WithTextCode(TextCodeTokenExpired).
		WithCode(goerrors.CodeUnauthorized)
}

func errTokenMalformed(err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryAuth, "token is malformed").
		WithTextCode(TextCodeTokenMalformed).
		WithCode(goerrors.CodeUnauthorized)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
