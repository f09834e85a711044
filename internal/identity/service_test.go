package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepo) SetAccount(ctx context.Context, userID, accountID string) error {
	return m.Called(ctx, userID, accountID).Error(0)
}

func (m *mockUserRepo) AddCredentials(ctx context.Context, credentials *Credentials) error {
	return m.Called(ctx, credentials).Error(0)
}

func (m *mockUserRepo) GetCredentials(ctx context.Context, userID string) (*Credentials, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Credentials), args.Error(1)
}

func testHasher() *PasswordHasher {
	// Low-cost parameters keep the test fast; production values come from config.
	return NewPasswordHasher(8*1024, 1, 1, 16, 32)
}

func TestCreateUser_HashesPassword(t *testing.T) {
	repo := new(mockUserRepo)
	svc := NewService(repo, testHasher(), audit.NewSlogLogger())
	ctx := context.Background()

	repo.On("GetByEmail", ctx, "a@b.com").Return(nil, ErrUserNotFound)
	repo.On("Create", ctx, mock.MatchedBy(func(u *User) bool {
		return u.Email == "a@b.com" && !u.Staff && u.ID != ""
	})).Return(nil)
	repo.On("AddCredentials", ctx, mock.MatchedBy(func(c *Credentials) bool {
		return c.PasswordHash != "" && c.PasswordHash != "password123"
	})).Return(nil)

	user, err := svc.CreateUser(ctx, "a@b.com", "password123", false)

	require.NoError(t, err)
	assert.Equal(t, "a@b.com", user.Email)
	repo.AssertExpectations(t)
}

func TestCreateUser_RejectsWeakPassword(t *testing.T) {
	svc := NewService(new(mockUserRepo), testHasher(), audit.NewSlogLogger())

	_, err := svc.CreateUser(context.Background(), "a@b.com", "short", false)

	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestCreateUser_RejectsInvalidEmail(t *testing.T) {
	svc := NewService(new(mockUserRepo), testHasher(), audit.NewSlogLogger())

	_, err := svc.CreateUser(context.Background(), "not-an-email", "password123", false)

	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	repo := new(mockUserRepo)
	hasher := testHasher()
	svc := NewService(repo, hasher, audit.NewSlogLogger())
	ctx := context.Background()

	hash, err := hasher.Hash("password123")
	require.NoError(t, err)

	user := &User{ID: "u1", Email: "a@b.com", AccountID: "acct-1"}
	repo.On("GetByEmail", ctx, "a@b.com").Return(user, nil)
	repo.On("GetCredentials", ctx, "u1").Return(&Credentials{UserID: "u1", PasswordHash: hash}, nil)

	got, err := svc.Authenticate(ctx, "a@b.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = svc.Authenticate(ctx, "a@b.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	tokens := NewTokenService("test-secret", "stackhive", 15*time.Minute, 24*time.Hour)
	user := &User{ID: "u1", Staff: false, AccountID: "acct-1"}

	pair, err := tokens.IssuePair(user)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := tokens.Verify(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "acct-1", claims.AccountID)
	assert.False(t, claims.Staff)

	// A refresh token must not pass as an access token.
	_, err = tokens.Verify(pair.RefreshToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	// Tokens signed with another secret are rejected.
	other := NewTokenService("other-secret", "stackhive", time.Minute, time.Hour)
	_, err = other.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCallerFor(t *testing.T) {
	staff := CallerFor(&User{ID: "u1", Staff: true})
	assert.Equal(t, scope.RoleStaff, staff.Role)
	assert.True(t, scope.ForCaller(staff).All())

	tenant := CallerFor(&User{ID: "u2", AccountID: "acct-1"})
	assert.Equal(t, scope.RoleTenant, tenant.Role)
	assert.Equal(t, "acct-1", scope.ForCaller(tenant).AccountID())
}
