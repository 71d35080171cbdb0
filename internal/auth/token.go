package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenType       = "gate"
	defaultTokenTTL = time.Minute
)

var ErrInvalidToken = errors.New("invalid gate token")

// Signer issues short-lived tokens the gate attaches to every service call.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Signer) Sign(subject string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
		"typ": tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

func Verify(secret []byte, tokenStr string) error {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != tokenType {
		return ErrInvalidToken
	}
	return nil
}
