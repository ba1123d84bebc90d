// Package auth issues and verifies the bearer tokens the API uses. One
// static admin token from the config is exchanged for a signed JWT.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

type Auth struct {
	HmacSecret string
	AdminToken string
}

var cf *Auth

func Init(hmacSecret, adminToken string) {
	cf = &Auth{HmacSecret: hmacSecret, AdminToken: adminToken}
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// CheckAdminToken compares the presented token against the configured one
// in constant time.
func CheckAdminToken(token string) bool {
	if cf == nil || cf.AdminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cf.AdminToken)) == 1
}

// CreateToken signs a JWT for the given subject, valid for thirty days.
func CreateToken(subject string) (string, error) {
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "gantry",
			Subject:   subject,
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cf.HmacSecret))
}

// VerifyToken parses and validates a signed token string.
func VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cf.HmacSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// VerifyRequest validates the bearer token of an incoming request.
func VerifyRequest(r *http.Request) (*Claims, error) {
	return VerifyToken(extractToken(r))
}

func extractToken(r *http.Request) string {
	bearToken := r.Header.Get("Authorization")
	parts := strings.Split(bearToken, " ")
	if len(parts) == 2 {
		return parts[1]
	}
	// Websocket clients cannot set headers, they pass the token in the
	// query string instead.
	return r.URL.Query().Get("token")
}
