package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrEmptySecret          = errors.New("token secret must not be empty")
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	ErrInvalidTTL           = errors.New("token ttl must be positive")
)

// Claims is the payload of an access token.
type Claims struct {
	AdminID string `json:"admin_id"`
	OrgID   string `json:"org_id"`
	jwt.RegisteredClaims
}

// Principal holds identity extracted from a validated token.
type Principal struct {
	AdminID   string
	OrgID     string
	ExpiresAt time.Time
}

// TokenAuthority issues and validates HMAC-signed access tokens that bind an
// admin to exactly one organization.
type TokenAuthority struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a TokenAuthority.
type Option func(*TokenAuthority)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *TokenAuthority) {
		a.now = now
	}
}

// NewTokenAuthority validates cfg and returns an authority. Only the HMAC
// family is accepted.
func NewTokenAuthority(cfg Config, opts ...Option) (*TokenAuthority, error) {
	cfg = cfg.withDefaults()
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}
	if cfg.TokenTTL < 0 {
		return nil, ErrInvalidTTL
	}

	method, ok := jwt.GetSigningMethod(strings.ToUpper(cfg.Algorithm)).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}

	a := &TokenAuthority{
		secret: []byte(cfg.Secret),
		method: method,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	// Expiry is checked by Validate against the injected clock.
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return a, nil
}

// Issue signs a token for adminID scoped to orgID. A zero ttl uses the
// configured default.
func (a *TokenAuthority) Issue(adminID, orgID string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = a.ttl
	}
	if ttl < 0 {
		return "", ErrInvalidTTL
	}

	now := a.now()
	claims := Claims{
		AdminID: adminID,
		OrgID:   orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(a.method, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, algorithm and expiry and returns the claims.
// Every failure is reported as ErrInvalidToken.
func (a *TokenAuthority) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// exp is mandatory
	if !claims.VerifyExpiresAt(a.now(), true) {
		return nil, ErrInvalidToken
	}
	if claims.AdminID == "" || claims.OrgID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal converts validated claims into the identity carried on a request.
func (c *Claims) Principal() *Principal {
	pr := &Principal{AdminID: c.AdminID, OrgID: c.OrgID}
	if c.ExpiresAt != nil {
		pr.ExpiresAt = c.ExpiresAt.Time
	}
	return pr
}
