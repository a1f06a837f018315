package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrSecretNotConfigured = errors.New("JWT secret not configured")
	ErrInvalidToken        = errors.New("invalid or expired token")
)

// Claims identifies the caller of an authenticated request
type Claims struct {
	UserID int64
	Email  string
	Role   string
}

// TokenManager signs and parses HS256 access tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for the user
func (m *TokenManager) Issue(c Claims) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, ErrSecretNotConfigured
	}

	expiresAt := time.Now().Add(m.ttl)
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(c.UserID, 10),
		"email": c.Email,
		"role":  c.Role,
		"exp":   expiresAt.Unix(),
		"iat":   time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates the signature and expiry and returns the claims
func (m *TokenManager) Parse(tokenStr string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, ErrSecretNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	return &Claims{UserID: userID, Email: email, Role: role}, nil
}
