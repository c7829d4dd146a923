package mockapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errForeignToken = errors.New("token not issued by this server")

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// signToken issues an HS256 access token for userID that expires ttl after now.
func signToken(secret []byte, userID string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signToken: %w", err)
	}
	return signed, exp, nil
}

// verifyToken checks signature and expiry of a token from signToken and
// returns its user id. Tokens that are not JWTs yield errForeignToken.
func verifyToken(token string, secret []byte, now func() time.Time) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(now))
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return "", errForeignToken
	}
	if err != nil {
		return "", fmt.Errorf("verifyToken: %w", err)
	}
	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("verifyToken: invalid claims")
	}
	return tc.UserID, nil
}
