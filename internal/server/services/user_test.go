package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dkorolev/picvault/internal/common"
	"github.com/dkorolev/picvault/internal/dbx"
	"github.com/dkorolev/picvault/internal/server/config"
	"github.com/dkorolev/picvault/internal/server/models"
	"github.com/dkorolev/picvault/internal/server/repositories/repomanager"
	sessionsrepo "github.com/dkorolev/picvault/internal/server/repositories/sessions"
	usersrepo "github.com/dkorolev/picvault/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func newUserService(t *testing.T, db *sql.DB, rm repomanager.RepositoryManager) *UserService {
	t.Helper()
	cfg := &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 10 * time.Minute,
		BcryptCost:                   4, // bcrypt.MinCost, keeps the suite fast
	}
	s, err := NewUserService(db, rm, cfg)
	if err != nil {
		t.Fatalf("NewUserService error: %v", err)
	}
	return s
}

// fakeUsersRepo is an in-memory users.Repository.
type fakeUsersRepo struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	byID    map[string]*models.User

	createErr error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{
		byEmail: make(map[string]*models.User),
		byID:    make(map[string]*models.User),
	}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.byEmail[u.Email]; ok {
		return nil, common.ErrEmailTaken
	}
	u.CreatedAt = time.Now()
	f.byEmail[u.Email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

// fakeSessionsRepo is an in-memory sessions.Repository.
type fakeSessionsRepo struct {
	mu       sync.Mutex
	sessions []*models.Session

	createErr error
}

func newFakeSessionsRepo() *fakeSessionsRepo { return &fakeSessionsRepo{} }

func (f *fakeSessionsRepo) Create(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.sessions {
		if existing.Token == s.Token {
			return common.ErrTokenTaken
		}
	}
	s.CreatedAt = time.Now()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeSessionsRepo) Find(ctx context.Context, userID, token string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Token == token {
			return s, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSessionsRepo) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Token == token {
			return s, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSessionsRepo) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			result = append(result, s)
		}
	}
	return result, nil
}

func (f *fakeSessionsRepo) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		if s.Token != token {
			kept = append(kept, s)
		}
	}
	f.sessions = kept
	return nil
}

func (f *fakeSessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	f.sessions = kept
	return deleted, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	s *fakeSessionsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: newFakeUsersRepo(), s: newFakeSessionsRepo()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.u }
func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository { return m.s }

// --- tests ---

func TestRegisterThenVerifyCredentials(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	s := newUserService(t, db, newFakeRepoManager())

	user, err := s.Register(context.Background(), "A@X.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if user.Email != "a@x.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.ID == "" {
		t.Fatalf("expected non-empty user id")
	}

	verified, err := s.VerifyCredentials(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("VerifyCredentials error: %v", err)
	}
	if verified.Email != user.Email {
		t.Fatalf("email mismatch: got %q want %q", verified.Email, user.Email)
	}
}

func TestRegister_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	s := newUserService(t, db, newFakeRepoManager())

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "empty email", email: "", password: "pw123456"},
		{name: "bad email", email: "not-an-email", password: "pw123456"},
		{name: "empty password", email: "a@x.com", password: ""},
		{name: "short password", email: "a@x.com", password: "pw1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tt.email, tt.password)
			if !errors.Is(err, common.ErrValidation) {
				t.Fatalf("expected common.ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	s := newUserService(t, db, newFakeRepoManager())

	if _, err := s.Register(context.Background(), "a@x.com", "pw123456"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	_, err := s.Register(context.Background(), "A@x.com", "pw654321")
	if !errors.Is(err, common.ErrEmailTaken) {
		t.Fatalf("expected common.ErrEmailTaken, got %v", err)
	}
}

func TestVerifyCredentials_UniformFailure(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	s := newUserService(t, db, newFakeRepoManager())

	if _, err := s.Register(context.Background(), "a@x.com", "pw123456"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// Wrong password and unknown email must be indistinguishable.
	_, errWrongPw := s.VerifyCredentials(context.Background(), "a@x.com", "wrongpw1")
	_, errUnknown := s.VerifyCredentials(context.Background(), "nobody@x.com", "pw123456")

	if !errors.Is(errWrongPw, common.ErrInvalidCredentials) {
		t.Fatalf("expected common.ErrInvalidCredentials for wrong password, got %v", errWrongPw)
	}
	if !errors.Is(errUnknown, common.ErrInvalidCredentials) {
		t.Fatalf("expected common.ErrInvalidCredentials for unknown email, got %v", errUnknown)
	}
	if errWrongPw.Error() != errUnknown.Error() {
		t.Fatalf("failure messages differ: %q vs %q", errWrongPw, errUnknown)
	}
}

func TestCreateSession_ValidImmediately(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	token, err := s.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64-char token, got %d chars", len(token))
	}

	valid, err := s.IsSessionValid(context.Background(), user.ID, token)
	if err != nil {
		t.Fatalf("IsSessionValid error: %v", err)
	}
	if !valid {
		t.Fatalf("expected session to be valid immediately after creation")
	}

	valid, err = s.IsSessionValid(context.Background(), user.ID, "some-other-token")
	if err != nil {
		t.Fatalf("IsSessionValid error: %v", err)
	}
	if valid {
		t.Fatalf("expected other token to be invalid")
	}
}

func TestIsSessionValid_ExpiryIsTerminal(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token, err := s.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	// Push the session past its expiry; the row stays in storage.
	rm.s.mu.Lock()
	for _, session := range rm.s.sessions {
		session.ExpiresAt = time.Now().Add(-time.Second)
	}
	rm.s.mu.Unlock()

	for i := 0; i < 2; i++ {
		valid, err := s.IsSessionValid(context.Background(), user.ID, token)
		if err != nil {
			t.Fatalf("IsSessionValid error: %v", err)
		}
		if valid {
			t.Fatalf("expected expired session to stay invalid (check %d)", i+1)
		}
	}
}

func TestCreateSession_ConcurrentNoLostUpdate(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	tokens := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.CreateSession(context.Background(), user.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("CreateSession %d error: %v", i, errs[i])
		}
		valid, err := s.IsSessionValid(context.Background(), user.ID, tokens[i])
		if err != nil {
			t.Fatalf("IsSessionValid error: %v", err)
		}
		if !valid {
			t.Fatalf("expected session %d to be retrievable and valid", i)
		}
	}
	if tokens[0] == tokens[1] {
		t.Fatalf("expected distinct tokens")
	}

	sessions, err := s.Sessions(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Sessions error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestFindUserByIDAndToken_AbsenceIsNotAnError(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token, err := s.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	got, err := s.FindUserByIDAndToken(context.Background(), user.ID, token)
	if err != nil {
		t.Fatalf("FindUserByIDAndToken error: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Fatalf("expected to resolve user %q, got %+v", user.ID, got)
	}

	// Unknown user id and token matching no session both resolve to
	// (nil, nil): callers cannot tell the cases apart.
	got, err = s.FindUserByIDAndToken(context.Background(), "no-such-user", token)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for unknown user, got (%+v, %v)", got, err)
	}
	got, err = s.FindUserByIDAndToken(context.Background(), user.ID, "no-such-token")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for unknown token, got (%+v, %v)", got, err)
	}
}

func TestSignIn_ReturnsTokenPair(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	if _, err := s.Register(context.Background(), "a@x.com", "pw123456"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	_, _, err := s.SignIn(context.Background(), "a@x.com", "wrongpw1")
	if !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("expected common.ErrInvalidCredentials, got %v", err)
	}

	user, pair, err := s.SignIn(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected two non-empty tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatalf("expected distinct tokens")
	}

	gotID, err := s.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken error: %v", err)
	}
	if gotID != user.ID {
		t.Fatalf("access token user mismatch: got %q want %q", gotID, user.ID)
	}
}

func TestRotateSession(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token, err := s.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	pair, err := s.RotateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("RotateSession error: %v", err)
	}
	if pair.RefreshToken == token {
		t.Fatalf("expected a new refresh token")
	}

	// The old token is gone; the new one is valid.
	valid, err := s.IsSessionValid(context.Background(), user.ID, token)
	if err != nil {
		t.Fatalf("IsSessionValid error: %v", err)
	}
	if valid {
		t.Fatalf("expected rotated-away token to be invalid")
	}
	valid, err = s.IsSessionValid(context.Background(), user.ID, pair.RefreshToken)
	if err != nil {
		t.Fatalf("IsSessionValid error: %v", err)
	}
	if !valid {
		t.Fatalf("expected replacement token to be valid")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestRotateSession_UnknownOrExpired(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	_, err := s.RotateSession(context.Background(), "no-such-token")
	if !errors.Is(err, common.ErrSessionInvalid) {
		t.Fatalf("expected common.ErrSessionInvalid for unknown token, got %v", err)
	}

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token, err := s.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	rm.s.mu.Lock()
	rm.s.sessions[0].ExpiresAt = time.Now().Add(-time.Minute)
	rm.s.mu.Unlock()

	_, err = s.RotateSession(context.Background(), token)
	if !errors.Is(err, common.ErrSessionInvalid) {
		t.Fatalf("expected common.ErrSessionInvalid for expired token, got %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	rm := newFakeRepoManager()
	s := newUserService(t, db, rm)

	user, err := s.Register(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := s.CreateSession(context.Background(), user.ID); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	live, err := s.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	rm.s.mu.Lock()
	rm.s.sessions[0].ExpiresAt = time.Now().Add(-time.Minute)
	rm.s.mu.Unlock()

	deleted, err := s.DeleteExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpiredSessions error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}

	valid, err := s.IsSessionValid(context.Background(), user.ID, live)
	if err != nil {
		t.Fatalf("IsSessionValid error: %v", err)
	}
	if !valid {
		t.Fatalf("expected live session to survive the sweep")
	}
}
