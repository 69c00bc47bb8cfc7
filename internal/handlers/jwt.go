package handlers

import (
	"errors"
	"fmt"
	"time"

	"voting-oracle/internal/config"
	"voting-oracle/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the oracle's JWT payload. The wallet address binds the token to
// the identity allowed to submit for that wallet.
type Claims struct {
	WalletAddress string `json:"walletAddress"`
	jwt.RegisteredClaims
}

// GenerateToken issues a wallet-bound token with the configured TTL.
func GenerateToken(wallet string) (string, error) {
	if config.AppConfig == nil || config.AppConfig.Auth.JWTSecret == "" {
		return "", errors.New("JWT secret is not configured")
	}

	ttl := time.Duration(config.AppConfig.Auth.TokenTTL) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	claims := Claims{
		WalletAddress: utils.NormalizeAddress(wallet),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   utils.NormalizeAddress(wallet),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			Issuer:    "voting-oracle",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.Auth.JWTSecret))
}

// ValidateJWTToken parses and verifies a token string.
func ValidateJWTToken(tokenString string) (*Claims, error) {
	if config.AppConfig == nil || config.AppConfig.Auth.JWTSecret == "" {
		return nil, errors.New("JWT secret is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(config.AppConfig.Auth.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.WalletAddress == "" {
		return nil, errors.New("token carries no wallet address")
	}
	return claims, nil
}
