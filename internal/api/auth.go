package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-meet/internal/types"
)

var defaultTokenExpiration = time.Hour * 12

const (
	userIdClaim      = "user-id"
	displayNameClaim = "display-name"
	meetingClaim     = "meeting"
	expClaim         = "exp"
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

// createGuestToken mints a signed token binding a guest identity to a
// meeting code. Presenting it at the WebSocket upgrade attaches the
// identity to the connection before any event is processed.
func (s *MeetApp) createGuestToken(user types.User, meetingCode string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:      user.Id,
		displayNameClaim: user.DisplayName,
		meetingClaim:     meetingCode,
		expClaim:         time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *MeetApp) extractUserFromToken(tokenString string) (types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	displayName, _ := claims[displayNameClaim].(string)

	return types.User{
		Id:          userId,
		DisplayName: displayName,
	}, nil
}

// tokenFromRequest reads the guest token from the Authorization header
// or, for WebSocket upgrades where browsers cannot set headers, the
// token query parameter.
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
