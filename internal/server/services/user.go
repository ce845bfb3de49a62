// Package services contains server-side business logic. This file implements
// UserService: account registration, credential verification, refresh-token
// sessions, and issuing of signed access tokens.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dkorolev/picvault/internal/common"
	"github.com/dkorolev/picvault/internal/dbx"
	"github.com/dkorolev/picvault/internal/server/auth"
	"github.com/dkorolev/picvault/internal/server/config"
	"github.com/dkorolev/picvault/internal/server/models"
	"github.com/dkorolev/picvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	minPasswordLength = 8

	// sessionTokenBytes random bytes per refresh token; hex-encoded the
	// token is twice as long.
	sessionTokenBytes = 32

	// Token uniqueness is guaranteed by entropy; the UNIQUE column and this
	// retry bound are defensive only.
	maxTokenRetries = 3
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserService provides authentication-related operations:
// - Register / VerifyCredentials: the credential store
// - CreateSession / FindUserByIDAndToken / IsSessionValid: the session registry
// - IssueAccessToken / RotateSession: access-token issuing and rotation
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	issuer                       *auth.TokenIssuer
	refreshTokenValidityDuration time.Duration
	bcryptCost                   int
	dummyHash                    []byte
}

// NewUserService constructs a UserService using repositories and server config.
// The signing secret is captured here and never mutated afterwards.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) (*UserService, error) {
	// Hash of an unguessable throwaway value, compared against when an
	// email lookup misses so that both failure paths cost one bcrypt.
	dummy, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}
	dummyHash, err := auth.HashPassword(dummy, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	return &UserService{
		db:                           db,
		repomanager:                  m,
		issuer:                       auth.NewTokenIssuer([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration),
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		bcryptCost:                   cfg.BcryptCost,
		dummyHash:                    dummyHash,
	}, nil
}

// Register validates email and password, hashes the password, and persists a
// new user. Duplicate emails yield common.ErrEmailTaken.
func (s *UserService) Register(ctx context.Context, email, password string) (*models.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{ID: uuid.NewString(), Email: normalized, PasswordHash: hash}
	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// VerifyCredentials looks up the user by normalized email and checks the
// password. Unknown email and wrong password fail with the same
// common.ErrInvalidCredentials, after comparable work in both cases.
func (s *UserService) VerifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, common.ErrInvalidCredentials
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			auth.CheckPassword(s.dummyHash, password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

// SignUp runs the full registration pipeline: create the user, create a
// session, issue an access token. Short-circuits on the first failure.
func (s *UserService) SignUp(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	user, err := s.Register(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// SignIn verifies credentials and, on success, returns the user with a fresh
// token pair.
func (s *UserService) SignIn(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	user, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// CreateSession generates a cryptographically random refresh token, appends
// the session to the user's session list, and returns the raw token. The
// token is never stored elsewhere or returned again.
func (s *UserService) CreateSession(ctx context.Context, userID string) (string, error) {
	return s.createSession(ctx, userID, s.db)
}

// FindUserByIDAndToken loads the user identified by userID, provided the
// given refresh token belongs to one of its sessions. It returns (nil, nil)
// both for an unknown user id and for a token that matches no session, so
// callers cannot tell the two cases apart.
func (s *UserService) FindUserByIDAndToken(ctx context.Context, userID, token string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, common.ErrorInternal
	}

	_, err = s.repomanager.Sessions(s.db).Find(ctx, userID, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, common.ErrorInternal
	}

	return user, nil
}

// IsSessionValid reports whether the user has a session with the given token
// that has not expired at the time of the call. Expired sessions are treated
// as absent; they are never revived.
func (s *UserService) IsSessionValid(ctx context.Context, userID, token string) (bool, error) {
	session, err := s.repomanager.Sessions(s.db).Find(ctx, userID, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, common.ErrorInternal
	}
	return !session.Expired(time.Now()), nil
}

// GetUser loads a user by id. Returns common.ErrorNotFound when absent.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, userID)
}

// Sessions returns the user's sessions in creation order.
func (s *UserService) Sessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.repomanager.Sessions(s.db).ListByUser(ctx, userID)
}

// IssueAccessToken mints a signed, stateless access token for userID.
func (s *UserService) IssueAccessToken(userID string) (string, error) {
	return s.issuer.Issue(userID)
}

// VerifyAccessToken verifies signature and expiry and returns the embedded
// user id.
func (s *UserService) VerifyAccessToken(token string) (string, error) {
	return s.issuer.Verify(token)
}

// RotateSession validates a refresh token, replaces it transactionally, and
// returns a fresh TokenPair. Unknown and expired tokens both yield
// common.ErrSessionInvalid.
func (s *UserService) RotateSession(ctx context.Context, refreshToken string) (*TokenPair, error) {
	session, err := s.repomanager.Sessions(s.db).FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionInvalid
		}
		return nil, fmt.Errorf("error searching session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, common.ErrSessionInvalid
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Sessions(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting session: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, session.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// DeleteExpiredSessions removes sessions past their expiry. Optional storage
// hygiene; validity checks never rely on it.
func (s *UserService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return s.repomanager.Sessions(s.db).DeleteExpired(ctx, time.Now())
}

// --- helpers below ---

func (s *UserService) createSession(ctx context.Context, userID string, db dbx.DBTX) (string, error) {
	repo := s.repomanager.Sessions(db)

	for i := 0; i < maxTokenRetries; i++ {
		token, err := common.MakeRandHexString(sessionTokenBytes)
		if err != nil {
			return "", common.ErrorInternal
		}
		session := &models.Session{
			ID:        uuid.NewString(),
			UserID:    userID,
			Token:     token,
			ExpiresAt: time.Now().Add(s.refreshTokenValidityDuration),
		}
		err = repo.Create(ctx, session)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, common.ErrTokenTaken) {
			return "", common.ErrorInternal
		}
	}
	return "", common.ErrorInternal
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, db dbx.DBTX) (*TokenPair, error) {
	access, err := s.issuer.Issue(userID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := s.createSession(ctx, userID, db)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", fmt.Errorf("%w: email is required", common.ErrValidation)
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", fmt.Errorf("%w: invalid email format", common.ErrValidation)
	}
	return normalized, nil
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", common.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minPasswordLength)
	}
	return nil
}
