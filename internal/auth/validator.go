// Package auth validates JWT bearer tokens presented to the gateway.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/svcgate/svcgate/internal/observability"
)

// Config holds validator configuration. Exactly one of Secret or JWKSURL
// must be set: Secret selects HS256 verification, JWKSURL selects asymmetric
// verification against a remote key set.
type Config struct {
	Secret  string
	JWKSURL string

	Issuer   string
	Audience string

	// AcceptableSkew tolerates small clock differences when checking
	// time-based claims.
	AcceptableSkew time.Duration

	// RefreshInterval is the minimum JWKS refresh interval.
	RefreshInterval time.Duration
}

// Claims is the validated identity extracted from a token.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expires  time.Time
	Private  map[string]interface{}
}

// Validator verifies bearer tokens.
type Validator struct {
	config Config
	logger observability.Logger

	key    jwk.Key
	keySet jwk.Set
}

// NewValidator creates a token validator. For JWKS-based verification the
// key set is fetched eagerly so that a bad URL fails at startup, and kept
// fresh in the background for the lifetime of ctx.
func NewValidator(ctx context.Context, config Config, logger observability.Logger) (*Validator, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	v := &Validator{
		config: config,
		logger: logger,
	}

	switch {
	case config.Secret != "":
		key, err := jwk.FromRaw([]byte(config.Secret))
		if err != nil {
			return nil, fmt.Errorf("failed to build HMAC key: %w", err)
		}
		v.key = key

	case config.JWKSURL != "":
		refreshInterval := config.RefreshInterval
		if refreshInterval <= 0 {
			refreshInterval = 15 * time.Minute
		}

		cache := jwk.NewCache(ctx)
		if err := cache.Register(config.JWKSURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, config.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", config.JWKSURL, err)
		}
		v.keySet = jwk.NewCachedSet(cache, config.JWKSURL)

		logger.Info("JWKS key source configured",
			observability.String("url", config.JWKSURL),
			observability.Duration("refreshInterval", refreshInterval),
		)

	default:
		return nil, ErrNoKeyMaterial
	}

	return v, nil
}

// Validate verifies the token signature and registered claims and returns
// the extracted identity.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	opts := []jwt.ParseOption{
		jwt.WithContext(ctx),
		jwt.WithValidate(true),
	}

	if v.key != nil {
		opts = append(opts, jwt.WithKey(jwa.HS256, v.key))
	} else {
		opts = append(opts, jwt.WithKeySet(v.keySet, jws.WithInferAlgorithmFromKey(true)))
	}

	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}
	if v.config.AcceptableSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(v.config.AcceptableSkew))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, v.classify(err)
	}

	return &Claims{
		Subject:  tok.Subject(),
		Issuer:   tok.Issuer(),
		Audience: tok.Audience(),
		Expires:  tok.Expiration(),
		Private:  tok.PrivateClaims(),
	}, nil
}

// classify maps jwx parse failures onto the package's sentinel errors.
func (v *Validator) classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return NewValidationError("token expired", ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenNotYetValid()):
		return NewValidationError("token not yet valid", ErrTokenNotYetValid)
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return NewValidationError("issuer mismatch", ErrInvalidIssuer)
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return NewValidationError("audience mismatch", ErrInvalidAudience)
	default:
		return NewValidationError(err.Error(), ErrTokenInvalid)
	}
}
