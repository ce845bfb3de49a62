// Package auth implements the stateless access-token issuer and the
// password hashing used by the credential store.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkorolev/picvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims includes the registered claims plus the user identity the access
// token vouches for.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// TokenIssuer mints and verifies signed access tokens (HS256). The secret is
// injected at construction and read-only afterwards; there is no process-wide
// mutable signing state.
type TokenIssuer struct {
	secret   []byte
	validity time.Duration
}

func NewTokenIssuer(secret []byte, validity time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, validity: validity}
}

// Issue produces a signed token embedding userID with issued-at/expiry set
// from the issuer's validity window.
func (i *TokenIssuer) Issue(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrSigning, err)
	}

	return tokenString, nil
}

// Verify checks signature and expiry atomically and returns the embedded
// user id. Failures are classified (expired, bad signature, malformed) so
// the caller can log the cause while reporting one opaque rejection.
func (i *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", common.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", common.ErrTokenSignature
		default:
			return "", common.ErrTokenMalformed
		}
	}

	if !token.Valid {
		return "", common.ErrTokenMalformed
	}

	return claims.UserID, nil
}
