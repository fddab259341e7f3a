package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token lifetimes. Display terminals stay signed in for a shift through refresh.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 12 * time.Hour
)

// ErrInvalidPIN is returned when a PIN does not match the configured hash.
var ErrInvalidPIN = errors.New("invalid pin")

type Claims struct {
	TerminalID uuid.UUID `json:"terminal_id"`
	Role       string    `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, terminalID uuid.UUID, role string) (string, error) {
	claims := Claims{
		TerminalID: terminalID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateRefreshToken issues a long-lived token whose subject is the terminal ID
// and whose audience is the role it may refresh into.
func GenerateRefreshToken(secret string, terminalID uuid.UUID, role string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   terminalID.String(),
		Audience:  jwt.ClaimStrings{role},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(RefreshTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, keyFunc(secret))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TerminalID == uuid.Nil || claims.Role == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ValidateRefreshToken returns the terminal ID and role of a refresh token.
func ValidateRefreshToken(secret, tokenStr string) (uuid.UUID, string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, keyFunc(secret))
	if err != nil {
		return uuid.Nil, "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || len(claims.Audience) != 1 {
		return uuid.Nil, "", fmt.Errorf("invalid refresh token")
	}
	terminalID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid refresh token subject: %w", err)
	}
	return terminalID, claims.Audience[0], nil
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}
}

// HashPIN returns the bcrypt hash to configure as STAFF_PIN_HASH.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

// CheckPIN compares a PIN against its bcrypt hash.
func CheckPIN(hash, pin string) error {
	if hash == "" || pin == "" {
		return ErrInvalidPIN
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrInvalidPIN
	}
	return nil
}
