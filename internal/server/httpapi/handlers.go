package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dkorolev/picvault/internal/common"
	"github.com/dkorolev/picvault/internal/server/models"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse is the public user representation. The password hash never
// leaves the service.
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, pair, err := s.users.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, common.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already taken")
		default:
			s.logger.Error(r.Context(), "sign-up failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.logger.Info(r.Context(), "user registered", "user_id", user.ID)

	setTokenHeaders(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, pair, err := s.users.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error(r.Context(), "sign-in failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info(r.Context(), "user signed in", "user_id", user.ID)

	setTokenHeaders(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// handleAccessToken mints a fresh access token for a caller holding a valid
// refresh session. The session itself is left untouched.
func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	accessToken, err := s.users.IssueAccessToken(user.ID)
	if err != nil {
		s.logger.Error(r.Context(), "access token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set(HeaderAccessToken, accessToken)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: accessToken})
}

// handleRotateSession replaces the presented refresh session with a new one
// and returns a fresh token pair. The old refresh token stops working.
func (s *Server) handleRotateSession(w http.ResponseWriter, r *http.Request) {
	token, ok := refreshTokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pair, err := s.users.RotateSession(r.Context(), token)
	if err != nil {
		if errors.Is(err, common.ErrSessionInvalid) {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return
		}
		s.logger.Error(r.Context(), "session rotation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	setTokenHeaders(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: pair.AccessToken})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.logger.Error(r.Context(), "user lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func setTokenHeaders(w http.ResponseWriter, accessToken, refreshToken string) {
	w.Header().Set(HeaderAccessToken, accessToken)
	w.Header().Set(HeaderRefreshToken, refreshToken)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
