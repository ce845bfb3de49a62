// Package httpapi exposes the authentication service over HTTP. Tokens
// travel in headers: x-access-token carries the signed access token,
// x-refresh-token plus _id identify a refresh session.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dkorolev/picvault/internal/logging"
	"github.com/dkorolev/picvault/internal/server/services"
	"github.com/gorilla/mux"
)

// Header names used by the token transport.
const (
	HeaderAccessToken  = "x-access-token"
	HeaderRefreshToken = "x-refresh-token"
	HeaderUserID       = "_id"
)

type Server struct {
	address string
	users   *services.UserService
	logger  logging.Logger
}

func NewServer(address string, l logging.Logger, us *services.UserService) *Server {
	return &Server{
		address: address,
		logger:  l.With("module", "http_server"),
		users:   us,
	}
}

// Router builds the route table. Session-sensitive operations sit behind
// requireSession, ordinary authenticated ones behind requireAccess.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/users", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/users/login", s.handleSignIn).Methods(http.MethodPost)
	r.Handle("/users/me/access-token", s.requireSession(http.HandlerFunc(s.handleAccessToken))).Methods(http.MethodGet)
	r.Handle("/users/me/sessions/rotate", s.requireSession(http.HandlerFunc(s.handleRotateSession))).Methods(http.MethodPost)
	r.Handle("/users/me", s.requireAccess(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	return r
}

func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
