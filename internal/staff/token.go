package staff

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims carried by a session token.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type tokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func newTokenSigner(secret []byte, ttl time.Duration) *tokenSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &tokenSigner{secret: secret, ttl: ttl}
}

func (t *tokenSigner) sign(m Member) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  m.Name,
		Email: m.Email,
		Role:  m.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *tokenSigner) verify(token string) (Member, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return Member{}, fmt.Errorf("parse session token: %w", err)
	}
	if !parsed.Valid {
		return Member{}, errors.New("invalid session token")
	}
	return Member{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}
