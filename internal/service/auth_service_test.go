package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/parnia-edu/parnia-api/internal/models"
	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

type mockAuthRepo struct {
	byUsername map[string]*models.User
	byID       map[string]*models.User
	tokens     map[string]*models.RefreshToken
	revokedAll []string
	lastLogins map[string]time.Time
	audits     []*models.AuditLog
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{
		byUsername: map[string]*models.User{},
		byID:       map[string]*models.User{},
		tokens:     map[string]*models.RefreshToken{},
		lastLogins: map[string]time.Time{},
	}
}

func (m *mockAuthRepo) addUser(u *models.User) {
	m.byUsername[u.Username] = u
	m.byID[u.ID] = u
}

func (m *mockAuthRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	u, ok := m.byUsername[username]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockAuthRepo) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	m.lastLogins[id] = ts
	return nil
}

func (m *mockAuthRepo) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	if u, ok := m.byID[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	m.revokedAll = append(m.revokedAll, userID)
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	t, ok := m.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, t := range m.tokens {
		if t.ID == id {
			t.Revoked = true
			at := revokedAt
			t.RevokedAt = &at
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, log)
	return nil
}

func hashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func authFixture(t *testing.T) (*AuthService, *mockAuthRepo) {
	t.Helper()
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:           "usr-1",
		PublicID:     "USR-1",
		Username:     "s.karimi",
		Email:        "s.karimi@parnia.edu",
		PasswordHash: hashPassword(t, "correct horse"),
		FullName:     "Sara Karimi",
		Roles:        []string{"STUDENT"},
		Active:       true,
	})
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "parnia-api",
	})
	return svc, repo
}

func TestAuthServiceLogin(t *testing.T) {
	svc, repo := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "s.karimi",
		Password: "correct horse",
		IP:       "10.0.0.1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), resp.ExpiresIn)
	assert.Equal(t, "USR-1", resp.User.PublicID)
	assert.Equal(t, []string{"STUDENT"}, resp.User.Roles)

	stored, ok := repo.tokens[resp.RefreshToken]
	require.True(t, ok, "refresh token should be persisted")
	assert.Equal(t, "usr-1", stored.UserID)
	assert.False(t, stored.Revoked)
	assert.Contains(t, repo.lastLogins, "usr-1")
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionLogin, repo.audits[0].Action)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, repo := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "s.karimi",
		Password: "wrong",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
	assert.Empty(t, repo.tokens)
}

func TestAuthServiceLoginUnknownUser(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "nobody",
		Password: "whatever",
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	svc, repo := authFixture(t)
	repo.byUsername["s.karimi"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "s.karimi",
		Password: "correct horse",
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceLoginSingleSessionRevokesPrevious(t *testing.T) {
	repo := newMockAuthRepo()
	repo.addUser(&models.User{
		ID:           "usr-1",
		PublicID:     "USR-1",
		Username:     "s.karimi",
		PasswordHash: hashPassword(t, "correct horse"),
		Roles:        []string{"STUDENT"},
		Active:       true,
	})
	repo.tokens["old"] = &models.RefreshToken{
		ID:        "tok-old",
		UserID:    "usr-1",
		Token:     "old",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		SingleSession:      true,
	})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "s.karimi",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"usr-1"}, repo.revokedAll)
	assert.True(t, repo.tokens["old"].Revoked)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	svc, repo := authFixture(t)
	repo.tokens["rt-1"] = &models.RefreshToken{
		ID:        "tok-1",
		UserID:    "usr-1",
		Token:     "rt-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	resp, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "rt-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEqual(t, "rt-1", resp.RefreshToken)

	assert.True(t, repo.tokens["rt-1"].Revoked, "used token should be rotated out")
	fresh, ok := repo.tokens[resp.RefreshToken]
	require.True(t, ok)
	assert.Equal(t, "usr-1", fresh.UserID)
	assert.False(t, fresh.Revoked)
}

func TestAuthServiceRefreshRejectsExpiredOrRevoked(t *testing.T) {
	svc, repo := authFixture(t)
	repo.tokens["expired"] = &models.RefreshToken{
		ID:        "tok-exp",
		UserID:    "usr-1",
		Token:     "expired",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	repo.tokens["revoked"] = &models.RefreshToken{
		ID:        "tok-rev",
		UserID:    "usr-1",
		Token:     "revoked",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Revoked:   true,
	}

	for _, token := range []string{"expired", "revoked", "missing"} {
		_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: token})
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr, "token %q", token)
		assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code, "token %q", token)
	}
}

func TestAuthServiceRefreshInactiveUser(t *testing.T) {
	svc, repo := authFixture(t)
	repo.byID["usr-1"].Active = false
	repo.tokens["rt-1"] = &models.RefreshToken{
		ID:        "tok-1",
		UserID:    "usr-1",
		Token:     "rt-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "rt-1"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceLogout(t *testing.T) {
	svc, repo := authFixture(t)
	repo.tokens["rt-1"] = &models.RefreshToken{
		ID:        "tok-1",
		UserID:    "usr-1",
		Token:     "rt-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	err := svc.Logout(context.Background(), "rt-1", "usr-1", models.LoginRequest{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, repo.tokens["rt-1"].Revoked)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionLogout, repo.audits[0].Action)
}

func TestAuthServiceLogoutForeignToken(t *testing.T) {
	svc, repo := authFixture(t)
	repo.tokens["rt-1"] = &models.RefreshToken{
		ID:        "tok-1",
		UserID:    "usr-other",
		Token:     "rt-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	err := svc.Logout(context.Background(), "rt-1", "usr-1", models.LoginRequest{})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.False(t, repo.tokens["rt-1"].Revoked)
}

func TestAuthServiceValidateTokenRoundTrip(t *testing.T) {
	svc, _ := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "s.karimi",
		Password: "correct horse",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "usr-1", claims.UserID)
	assert.Equal(t, "USR-1", claims.PublicID)
	assert.Equal(t, []string{"STUDENT"}, claims.Roles)
	assert.True(t, claims.Active)
	assert.Equal(t, "parnia-api", claims.Issuer)

	subject := claims.Subject()
	require.NotNil(t, subject)
	assert.True(t, subject.Active)
	assert.Equal(t, "USR-1", subject.PublicID)
}

func TestAuthServiceValidateTokenRejectsTampered(t *testing.T) {
	svc, _ := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Username: "s.karimi",
		Password: "correct horse",
	})
	require.NoError(t, err)

	other := NewAuthService(newMockAuthRepo(), nil, nil, AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: time.Minute,
	})
	_, err = other.ValidateToken(resp.AccessToken)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)

	_, err = svc.ValidateToken("not.a.token")
	require.Error(t, err)
}
