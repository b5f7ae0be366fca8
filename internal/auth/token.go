package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/smsauth/smsauth/internal/config"
	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/verification"
)

// ErrInvalidToken is returned for tokens that fail signature, issuer or expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the session token payload. Subject holds the identity id.
type Claims struct {
	Phone string        `json:"phone"`
	Role  identity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer signs HS256 session tokens. Admin tokens get the short admin
// lifetime; every other role gets the user lifetime.
type TokenIssuer struct {
	cfg   config.TokenConfig
	clock clockwork.Clock
}

// NewTokenIssuer builds an issuer. A nil clock uses the wall clock.
func NewTokenIssuer(cfg config.TokenConfig, clock clockwork.Clock) *TokenIssuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenIssuer{cfg: cfg, clock: clock}
}

// TTL returns the token lifetime for role.
func (i *TokenIssuer) TTL(role identity.Role) time.Duration {
	if role == identity.RoleAdmin {
		return i.cfg.AdminTTL
	}
	return i.cfg.UserTTL
}

// Issue signs a token for the identity.
func (i *TokenIssuer) Issue(snap verification.Snapshot) (Token, error) {
	now := i.clock.Now().UTC().Truncate(time.Second)
	exp := now.Add(i.TTL(snap.Role))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Phone: snap.Phone,
		Role:  snap.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   snap.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := token.SignedString(i.cfg.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse verifies the token and returns its claims.
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
