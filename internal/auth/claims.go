package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleUser   Role = "USER"
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// User is the signed-in account as described by its access token.
type User struct {
	ID       string
	Username string
	Role     Role
}

// Claims is the access token payload issued by the forum API.
type Claims struct {
	UserID   any    `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseUser reads the user from an access token without verifying its
// signature. The client never holds the signing key; the server rejects
// forged tokens on every request.
func ParseUser(token string) (User, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return User{}, fmt.Errorf("parse access token: %w", err)
	}
	id := claimID(claims.UserID)
	if id == "" {
		id = strings.TrimSpace(claims.Subject)
	}
	if id == "" {
		return User{}, errors.New("access token has no user id")
	}
	return User{
		ID:       id,
		Username: strings.TrimSpace(claims.Username),
		Role:     Role(strings.ToUpper(strings.TrimSpace(string(claims.Role)))),
	}, nil
}

func claimID(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
