package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the resolved principal behind a verified credential.
type Identity struct {
	UserID string
}

// IdentityVerifier validates a bearer credential presented at handshake.
type IdentityVerifier interface {
	Verify(credential string) (Identity, error)
}

var ErrInvalidCredential = errors.New("invalid credential")

// Compile-time check
var _ IdentityVerifier = (*JWTVerifier)(nil)

// JWTVerifier validates HMAC-signed tokens issued by the dashboard's auth
// service. The subject claim carries the user id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	if credential == "" || len(v.secret) == 0 {
		return Identity{}, ErrInvalidCredential
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return Identity{UserID: sub}, nil
}
