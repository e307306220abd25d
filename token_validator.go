package idp

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// TokenValidator validates access tokens without tying callers to a signing
// implementation.
type TokenValidator interface {
	Validate(tokenString string) (AccessClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AccessClaims, error)

func (f TokenValidatorFunc) Validate(tokenString string) (AccessClaims, error) {
	if f == nil {
		return nil, errTokenMalformed(fmt.Errorf("no validator configured"))
	}
	return f(tokenString)
}

// MultiTokenValidator tries validators in order until one succeeds. A
// malformed token moves on to the next validator; any other failure, an
// expired token included, stops the chain.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator drops nil validators.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	filtered := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

func (m *MultiTokenValidator) Validate(tokenString string) (AccessClaims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		if IsTokenMalformed(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errTokenMalformed(fmt.Errorf("no validator accepted the token"))
}

// IsTokenMalformed reports whether err marks an unparseable or untrusted token.
func IsTokenMalformed(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenMalformed
}

// IsTokenExpired reports whether err marks an expired token.
func IsTokenExpired(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenExpired
}
