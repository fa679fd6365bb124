// Package identity wraps credential verification. The engine treats
// token minting and validation as an external concern and only
// consumes the Verifier interface.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers missing, malformed, and expired credentials.
// It is fatal to the connection being established.
var ErrInvalidToken = errors.New("identity: invalid token")

// Identity is an authenticated user reference, stable across
// connections.
type Identity struct {
	ID       string
	Username string
}

type Verifier interface {
	Verify(token string) (Identity, error)
}

// Claims is the JWT claims shape issued by the auth service.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens.
type JWTVerifier struct {
	secret []byte
}

var _ Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	return Identity{ID: claims.Subject, Username: username}, nil
}
