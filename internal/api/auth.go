package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/teleclinic/teleclinic/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"

	userIdClaim = "user-id"
	roleClaim   = "role"
	expClaim    = "exp"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(types.Identity)
	return id, ok
}

// normalizeRole maps the plural role names some clients send
// ("patients", "doctors") onto the stored singular form.
func normalizeRole(role string) types.Role {
	return types.Role(strings.TrimSuffix(strings.ToLower(role), "s"))
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *TeleclinicApp) createJwtForSession(id types.Identity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: id.UserId,
		roleClaim:   string(id.Role),
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *TeleclinicApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func (s *TeleclinicApp) extractIdentityFromToken(tokenString string) (types.Identity, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return types.Identity{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return types.Identity{}, fmt.Errorf("invalid user id claim")
	}

	role, ok := claims[roleClaim].(string)
	if !ok || !types.Role(role).Valid() {
		return types.Identity{}, fmt.Errorf("invalid role claim")
	}

	return types.Identity{
		UserId: int(userId),
		Role:   types.Role(role),
	}, nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
