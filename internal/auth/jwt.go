// Package auth validates the gateway's bearer JWTs: a shared HS256
// symmetric key, issuer/audience/expiry checks, and a Principal extracted on
// success (spec §4.2).
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wudi/gateway/internal/config"
)

// Principal is the authenticated caller, extracted from token claims. Roles
// is a set (spec §3 models roles as a set, and §4.1 authorizes on overlap
// with a route's RequiredRoles, not on a single exact match).
type Principal struct {
	ID    string
	Email string
	Roles []string
	Name  string
}

// ErrInvalidToken covers every validation failure: missing/malformed header,
// bad signature, wrong issuer/audience, or expiry outside the clock-skew
// allowance. The pipeline treats all of these identically — the caller
// becomes anonymous and the route matcher decides whether that's allowed.
var ErrInvalidToken = errors.New("auth: invalid or missing bearer token")

// clockSkew is the maximum allowance on expiration/not-before checks.
const clockSkew = 1 * time.Minute

// Validator validates bearer tokens against a single shared secret.
type Validator struct {
	secret           []byte
	issuer           string
	audience         string
	validateIssuer   bool
	validateAudience bool
	validateLifetime bool
	disabled         bool
}

// New builds a Validator from JWTConfig. If secretKey is empty and env is
// not "production", the validator is disabled (development affordance) and
// Validate always returns ErrInvalidToken so callers are anonymous. In
// production an empty secret is a boot-time error: New returns an error
// instead of a Validator.
func New(cfg config.JWTConfig, production bool) (*Validator, error) {
	if cfg.SecretKey == "" {
		if production {
			return nil, errors.New("auth: jwt secret key is required in production")
		}
		return &Validator{disabled: true}, nil
	}

	return &Validator{
		secret:           []byte(cfg.SecretKey),
		issuer:           cfg.Issuer,
		audience:         cfg.Audience,
		validateIssuer:   cfg.ValidateIssuer,
		validateAudience: cfg.ValidateAudience,
		validateLifetime: cfg.ValidateLifetime,
	}, nil
}

// Disabled reports whether the validator was built without a secret in a
// non-production environment.
func (v *Validator) Disabled() bool {
	return v.disabled
}

// claims is the expected shape of the gateway's bearer tokens. Roles is
// accepted as a JSON array; Role is a single-value fallback for tokens
// minted with the older singular claim.
type claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	Role  string   `json:"role"`
	Name  string   `json:"name"`
}

// roles merges the claim's roles/role fields into a single set.
func (c claims) roles() []string {
	if len(c.Roles) > 0 {
		return c.Roles
	}
	if c.Role != "" {
		return []string{c.Role}
	}
	return nil
}

// ValidateRequest extracts and validates the Authorization bearer token. A
// disabled validator always returns ErrInvalidToken (anonymous).
func (v *Validator) ValidateRequest(r *http.Request) (Principal, error) {
	if v.disabled {
		return Principal{}, ErrInvalidToken
	}

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Principal{}, ErrInvalidToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if raw == "" {
		return Principal{}, ErrInvalidToken
	}

	return v.Validate(raw)
}

// Validate checks a raw bearer token string.
func (v *Validator) Validate(raw string) (Principal, error) {
	if v.disabled {
		return Principal{}, ErrInvalidToken
	}

	// Registered-claims validation (exp/nbf/iat/iss/aud) is applied by hand
	// below instead of via ParserOption: jwt/v5's WithoutClaimsValidation
	// turns off issuer/audience checking along with lifetime checking, which
	// would make validateIssuer/validateAudience silently inert whenever
	// validateLifetime is false. Gating each independently needs them
	// decoupled from the library's all-or-nothing switch.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	now := time.Now()

	if v.validateLifetime {
		exp, expErr := c.GetExpirationTime()
		if expErr != nil || exp == nil || now.After(exp.Time.Add(clockSkew)) {
			return Principal{}, ErrInvalidToken
		}
		if nbf, nbfErr := c.GetNotBefore(); nbfErr == nil && nbf != nil && now.Before(nbf.Time.Add(-clockSkew)) {
			return Principal{}, ErrInvalidToken
		}
	}

	if v.validateIssuer && v.issuer != "" {
		iss, issErr := c.GetIssuer()
		if issErr != nil || iss != v.issuer {
			return Principal{}, ErrInvalidToken
		}
	}

	if v.validateAudience && v.audience != "" {
		aud, audErr := c.GetAudience()
		if audErr != nil || !containsString(aud, v.audience) {
			return Principal{}, ErrInvalidToken
		}
	}

	return Principal{
		ID:    c.Subject,
		Email: c.Email,
		Roles: c.roles(),
		Name:  c.Name,
	}, nil
}

func containsString(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}
