package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and validates signed session tokens. It is a pure
// function of its inputs, the clock, and the signing key: no I/O, safe for
// unlimited parallelism.
type TokenService interface {
	Issue(identity Identity, extended bool) (string, error)
	SignClaims(claims *Claims) (string, error)
	TokenValidator
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey       []byte
	tokenDuration    time.Duration
	extendedDuration time.Duration
	issuer           string
	audience         jwt.ClaimStrings
	logger           Logger
	now              func() time.Time
}

// NewTokenService creates a new TokenService instance. Both lifetimes come
// from configuration, never from the caller of Issue, so a client cannot
// request an arbitrarily long-lived token.
func NewTokenService(cfg Config, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}

	tokenDuration := cfg.GetTokenDuration()
	if tokenDuration <= 0 {
		tokenDuration = DefaultTokenDuration
	}

	extendedDuration := cfg.GetExtendedTokenDuration()
	if extendedDuration <= 0 {
		extendedDuration = DefaultExtendedTokenDuration
	}

	return &TokenServiceImpl{
		signingKey:       []byte(cfg.GetSigningKey()),
		tokenDuration:    tokenDuration,
		extendedDuration: extendedDuration,
		issuer:           cfg.GetIssuer(),
		audience:         cfg.GetAudience(),
		logger:           logger,
		now:              time.Now,
	}
}

// WithClock injects a custom clock, useful for tests.
func (ts *TokenServiceImpl) WithClock(clock func() time.Time) *TokenServiceImpl {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

// Issue creates a signed session token for the identity. The extended flag
// selects the "remember me" lifetime and is recorded in the claims.
func (ts *TokenServiceImpl) Issue(identity Identity, extended bool) (string, error) {
	if identity == nil {
		return "", errors.New("identity must not be nil", errors.CategoryInternal)
	}

	now := ts.now()
	ttl := ts.tokenDuration
	if extended {
		ttl = ts.extendedDuration
	}

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UID:      identity.ID(),
		Email:    identity.Email(),
		Name:     identity.Name(),
		UserTier: identity.Tier(),
		Extended: extended,
	}

	return ts.SignClaims(claims)
}

// SignClaims signs prebuilt claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Validate parses and validates a raw token, returning structured claims.
// Failures map to the four-way taxonomy: missing, malformed, invalid
// signature, expired. A token whose expiry equals the current instant is
// already expired, and claims from a failed parse are never returned.
func (ts *TokenServiceImpl) Validate(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrTokenMissing
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode claims")
		return nil, ErrTokenMalformed
	}

	// exclusive expiry: jwt treats exp == now as valid, we do not
	if !claims.Expires().After(ts.now()) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}
