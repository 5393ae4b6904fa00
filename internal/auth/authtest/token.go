// Package authtest issues access tokens for tests.
package authtest

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const signingKey = "authtest-signing-key"

// Token returns an HS256 access token carrying the forum's user claims.
func Token(t testing.TB, id int, username string, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"id":       id,
		"username": username,
		"role":     role,
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(15 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}
