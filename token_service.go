package idp

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenType is the only token type issued.
const TokenType = "Bearer"

// Token lifetimes used when the configuration leaves them unset.
const (
	DefaultAccessTokenTTL   = time.Hour
	DefaultIdentityTokenTTL = 20 * time.Minute
	DefaultRefreshTokenTTL  = 14 * 24 * time.Hour
)

// TokenResponse is the token endpoint success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	signingKey  []byte
	issuer      string
	accessTTL   time.Duration
	identityTTL time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
	logger      Logger
	provider    LoggerProvider
}

// NewTokenService creates a token service from cfg.
func NewTokenService(cfg Config) *TokenService {
	provider, logger := ResolveLogger("idp.tokens", nil, nil)
	return &TokenService{
		signingKey:  []byte(cfg.GetSigningKey()),
		issuer:      cfg.GetIssuer(),
		accessTTL:   orDefault(cfg.GetAccessTokenTTL(), DefaultAccessTokenTTL),
		identityTTL: orDefault(cfg.GetIdentityTokenTTL(), DefaultIdentityTokenTTL),
		refreshTTL:  orDefault(cfg.GetRefreshTokenTTL(), DefaultRefreshTokenTTL),
		now:         time.Now,
		logger:      logger,
		provider:    provider,
	}
}

func (ts *TokenService) WithLogger(logger Logger) *TokenService {
	ts.provider, ts.logger = ResolveLogger("idp.tokens", ts.provider, logger)
	return ts
}

func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Issue signs the tokens for principal. An identity token is issued for the
// openid scope and a refresh token for offline_access; neither is issued to
// the client credentials grant.
func (ts *TokenService) Issue(ctx context.Context, principal *Principal, clientID string, grant GrantType) (*TokenResponse, error) {
	if principal == nil || principal.Subject() == "" {
		return nil, goerrors.New("principal subject is required", goerrors.CategoryInternal)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := ts.now()

	access := newAccessTokenClaims(principal)
	access.ClientID = clientID
	ts.stamp(&access.RegisteredClaims, now, ts.accessTTL)

	accessToken, err := ts.sign(access)
	if err != nil {
		return nil, err
	}

	res := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenType,
		ExpiresIn:   int64(ts.accessTTL.Seconds()),
		Scope:       JoinScopes(principal.Scopes()),
	}

	if grant == GrantTypeClientCredentials {
		return res, nil
	}

	if principal.HasScope(ScopeOpenID) {
		identity := newIdentityTokenClaims(principal)
		ts.stamp(&identity.RegisteredClaims, now, ts.identityTTL)
		identity.RegisteredClaims.Audience = jwt.ClaimStrings{clientID}
		if res.IDToken, err = ts.sign(identity); err != nil {
			return nil, err
		}
	}

	if principal.HasScope(ScopeOfflineAccess) {
		refresh := newRefreshTokenClaims(principal, clientID)
		ts.stamp(&refresh.RegisteredClaims, now, ts.refreshTTL)
		if res.RefreshToken, err = ts.sign(refresh); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// Validate parses an access token. It satisfies TokenValidator.
func (ts *TokenService) Validate(tokenString string) (AccessClaims, error) {
	return ts.ParseAccessToken(tokenString)
}

// ParseAccessToken parses and validates an access token.
func (ts *TokenService) ParseAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := ts.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != TokenUseAccess {
		return nil, errTokenMalformed(fmt.Errorf("unexpected token use %q", claims.TokenUse))
	}
	return claims, nil
}

// ParseRefreshToken parses and validates a refresh token.
func (ts *TokenService) ParseRefreshToken(tokenString string) (*RefreshTokenClaims, error) {
	claims := &RefreshTokenClaims{}
	if err := ts.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != TokenUseRefresh {
		return nil, errTokenMalformed(fmt.Errorf("unexpected token use %q", claims.TokenUse))
	}
	return claims, nil
}

func (ts *TokenService) parse(tokenString string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token parse encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, opts...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return errTokenExpired()
		}
		return errTokenMalformed(err)
	}

	if !token.Valid {
		return errTokenMalformed(fmt.Errorf("token is not valid"))
	}
	return nil
}

func (ts *TokenService) stamp(rc *jwt.RegisteredClaims, now time.Time, ttl time.Duration) {
	rc.Issuer = ts.issuer
	rc.ID = uuid.NewString()
	rc.IssuedAt = jwt.NewNumericDate(now)
	rc.NotBefore = jwt.NewNumericDate(now)
	rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
}

func (ts *TokenService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
