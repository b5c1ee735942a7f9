package relay

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT claims for a backend's relay session.
type Claims struct {
	ServerName string `json:"server_name"`
	jwt.RegisteredClaims
}

// IssueToken signs a handshake token identifying a backend server. Tokens
// are short-lived; the connection itself carries identity afterwards.
func IssueToken(secret, serverName string) (string, error) {
	now := time.Now()
	claims := Claims{
		ServerName: serverName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   serverName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
			Issuer:    "lanternchat",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken validates a handshake token and returns the backend's server
// name.
func VerifyToken(secret, tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("relay: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ServerName == "" {
		return "", fmt.Errorf("relay: invalid token claims")
	}
	return claims.ServerName, nil
}
