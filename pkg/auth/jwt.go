// Package auth issues and checks the session tokens (CID) handed out by the simulator's login action.
package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid token")

// DefaultTTL matches the controller's session lifetime.
const DefaultTTL = time.Hour

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs CIDs with HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer uses secret, falling back to GW_SIM_JWT_SECRET and then a fixed development secret.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if secret == "" {
		secret = os.Getenv("GW_SIM_JWT_SECRET")
	}
	if secret == "" {
		secret = "change-me-secret"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

func (i *Issuer) Generate(username string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}
