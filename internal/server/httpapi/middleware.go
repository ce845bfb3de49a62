package httpapi

import (
	"context"
	"net/http"

	"github.com/dkorolev/picvault/internal/server/models"
)

type ctxKey string

const (
	userIDKey       ctxKey = "userID"
	userKey         ctxKey = "user"
	refreshTokenKey ctxKey = "refreshToken"
)

// requireSession guards session-sensitive operations. It resolves the user
// from the _id and x-refresh-token headers and rejects with 401 when the
// identity cannot be resolved or the session is expired. The response does
// not reveal whether the user id or the token was at fault.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshToken := r.Header.Get(HeaderRefreshToken)
		userID := r.Header.Get(HeaderUserID)

		user, err := s.users.FindUserByIDAndToken(r.Context(), userID, refreshToken)
		if err != nil {
			s.logger.Error(r.Context(), "session lookup failed", "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "identity not found: make sure the refresh token and user id are correct")
			return
		}

		valid, err := s.users.IsSessionValid(r.Context(), user.ID, refreshToken)
		if err != nil {
			s.logger.Error(r.Context(), "session validation failed", "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !valid {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, refreshTokenKey, refreshToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAccess guards ordinary authenticated operations. Any verification
// failure produces the same generic 401; the classified cause only reaches
// the log.
func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(HeaderAccessToken)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		userID, err := s.users.VerifyAccessToken(token)
		if err != nil {
			s.logger.Warn(r.Context(), "access token rejected", "cause", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}

func userIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

func refreshTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(refreshTokenKey).(string)
	return token, ok
}
