package tierware

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	"github.com/parcelcrm/auth"
)

var (
	defaultTokenLookup  = "header:" + router.HeaderAuthorization
	ErrTokenUnavailable = errors.New("missing or malformed bearer token")
)

// Config drives the tier enforcement middleware. TokenValidator and Gate
// are required; everything else has defaults.
type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// TokenValidator checks the raw bearer token.
	TokenValidator auth.TokenValidator

	// Gate performs the store-backed tier authorization. When nil the
	// middleware only validates the token and stores claims, skipping
	// tier enforcement entirely.
	Gate *auth.TierGate

	// Allowed is the tier set the wrapped routes admit.
	Allowed auth.TierSet

	// ContextKey is where claims land in router locals.
	ContextKey string
	// IdentityKey is where the gate's resolved identity lands, when a
	// Gate is configured.
	IdentityKey string

	TokenLookup string
	AuthScheme  string

	// ContextEnricher propagates claims to the standard Go context.
	ContextEnricher func(c context.Context, claims *auth.Claims) context.Context
}

// New builds router middleware that validates the bearer token and, when a
// gate is configured, enforces subscription tier membership against the
// live account record.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, auth.ErrTokenMissing)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.Gate != nil {
				identity, err := cfg.Gate.Authorize(ctx.Context(), claims, cfg.Allowed)
				if err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
				ctx.Locals(cfg.IdentityKey, identity)
			}

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// RequireTiers is a convenience wrapper for gating one route group.
func RequireTiers(validator auth.TokenValidator, gate *auth.TierGate, allowed auth.TierSet) router.MiddlewareFunc {
	return New(Config{
		TokenValidator: validator,
		Gate:           gate,
		Allowed:        allowed,
	})
}

// GetDefaultConfig fills defaults and validates required fields.
func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: tier middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "claims"
	}

	if cfg.IdentityKey == "" {
		cfg.IdentityKey = "identity"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// defaultErrorHandler converts typed auth errors to their HTTP status
// class. Denial payloads carry the machine-readable text code and the tier
// metadata so a client can render an upgrade prompt.
func defaultErrorHandler(c router.Context, err error) error {
	status := router.StatusUnauthorized
	payload := map[string]any{
		"error": "unauthorized",
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Code != 0 {
			status = richErr.Code
		}
		if richErr.TextCode != "" {
			payload["error"] = richErr.TextCode
		}
		if len(richErr.Metadata) > 0 {
			payload["metadata"] = richErr.Metadata
		}
	}

	return c.JSON(status, payload)
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// GetExtractors parses a lookup string like
// "header:Authorization,cookie:session,query:token" into extractors.
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) < 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader returns a function that extracts the token from the request header.
func tokenFromHeader(header string, authScheme string) TokenExtractor {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		scheme := strings.TrimSpace(authScheme)
		l := len(scheme)
		if l == 0 {
			return "", ErrTokenUnavailable
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], scheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenUnavailable
	}
}

// tokenFromQuery returns a function that extracts the token from the query string.
func tokenFromQuery(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenUnavailable
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts the token from the url param string.
func tokenFromParam(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenUnavailable
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts the token from the named cookie.
func tokenFromCookie(name string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenUnavailable
		}
		return token, nil
	}
}
