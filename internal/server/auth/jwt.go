// Package auth issues and verifies the bearer tokens that identify actors.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the actor id and roles alongside the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
}

func GenerateToken(userID string, roles []string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
		Roles:  roles,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns the actor it names. Expired
// tokens yield common.ErrTokenExpired; any other failure wraps
// common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (authz.Actor, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return authz.Actor{}, common.ErrTokenExpired
	}
	if err != nil {
		return authz.Actor{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return authz.Actor{}, common.ErrInvalidToken
	}

	return authz.Actor{ID: claims.UserID, Roles: claims.Roles}, nil
}
