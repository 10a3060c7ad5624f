package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"suemybrother/internal/platform/config"
)

var (
	ErrKeyNotFound  = errors.New("oidc: signing key not found")
	ErrVerification = errors.New("oidc: token verification failed")
	ErrTokenStale   = errors.New("oidc: token issued too long ago")
)

// Claims is the trusted subset of a verified ID token.
type Claims struct {
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	IssuedAt int64  `json:"iat"`
	Nonce    string `json:"-"`
}

type idTokenClaims struct {
	Email string `json:"email"`
	UPN   string `json:"upn"`
	Name  string `json:"name"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

type Verifier struct {
	keys     jwt.Keyfunc
	issuer   string
	audience string
	skew     time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// NewVerifier checks tokens against keys, which is normally a JWKS that
// refreshes itself once when it meets an unknown kid.
func NewVerifier(keys jwt.Keyfunc, cfg config.OIDCConfig) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.ClientID,
		skew:     cfg.ClockSkew,
		maxAge:   cfg.MaxTokenAge,
		now:      time.Now,
	}
}

func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	var c idTokenClaims
	_, err := jwt.ParseWithClaims(raw, &c, v.keys,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.skew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, keyfunc.ErrKIDNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	if c.Subject == "" || c.IssuedAt == nil {
		return nil, fmt.Errorf("%w: sub and iat are required", ErrVerification)
	}
	if v.maxAge > 0 && v.now().Sub(c.IssuedAt.Time) > v.maxAge+v.skew {
		return nil, ErrTokenStale
	}

	email := c.Email
	if email == "" {
		email = c.UPN
	}

	return &Claims{
		Issuer:   c.Issuer,
		Subject:  c.Subject,
		Email:    email,
		Name:     c.Name,
		IssuedAt: c.IssuedAt.Unix(),
		Nonce:    c.Nonce,
	}, nil
}
