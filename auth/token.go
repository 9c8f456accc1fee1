package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// Claims are the JWT claims understood by the scaler.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Identifier turns request credentials into a Caller.
type Identifier struct {
	secret []byte
	rules  *Rules
}

// NewIdentifier creates an identifier. With an empty secret bearer tokens
// are ignored and callers only get host roles.
func NewIdentifier(secret string, rules *Rules) *Identifier {
	return &Identifier{secret: []byte(secret), rules: rules}
}

// Identify builds the caller from the Authorization header value and the
// client address. A malformed or invalid token is an error; a missing one is
// an anonymous caller.
func (id *Identifier) Identify(authorization, addr string) (Caller, error) {
	c := Caller{Addr: addr, Roles: id.rules.HostRoles(addr)}

	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || len(id.secret) == 0 {
		return c, nil
	}
	claims, err := id.parse(strings.TrimSpace(token))
	if err != nil {
		return c, err
	}
	c.Subject = claims.Subject
	c.Roles = lo.Uniq(append(c.Roles, claims.Roles...))
	return c, nil
}

func (id *Identifier) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return id.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("bearer token: %w", err)
	}
	if !tok.Valid {
		return nil, errors.New("bearer token: invalid")
	}
	return claims, nil
}

// Sign issues a token for subject with the given roles. It is used by the
// token command and tests.
func Sign(secret, subject string, roles []string) (string, error) {
	claims := Claims{
		Roles:            roles,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
