package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store/memory"
	"github.com/irisballot/backend/internal/vault"
)

var lockoutConfig = CredentialConfig{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}

func registerAlice(t *testing.T, f *fixture) *models.User {
	t.Helper()
	u, err := f.creds.RegisterUser(context.Background(), "admin", RegisterUserRequest{
		Username: "alice",
		Password: "password123",
		Role:     models.RoleOperator,
	})
	require.NoError(t, err)
	return u
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid password", func(t *testing.T) {
		f := newFixture(t, lockoutConfig)
		registerAlice(t, f)

		u, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123"})
		require.NoError(t, err)
		assert.Equal(t, models.RoleOperator, u.Role)
		require.NotNil(t, u.LastLogin)
		assert.True(t, u.LastLogin.Equal(f.clock.Now()))
	})

	t.Run("unknown user looks like bad credentials", func(t *testing.T) {
		f := newFixture(t, lockoutConfig)

		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "ghost", Password: "password123"})
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	})

	t.Run("wrong password counts failures", func(t *testing.T) {
		f := newFixture(t, lockoutConfig)
		registerAlice(t, f)

		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "nope-nope"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		u, err := f.creds.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, u.FailedAttempts)
		assert.Nil(t, u.LockUntil)
	})

	t.Run("success resets failure counter", func(t *testing.T) {
		f := newFixture(t, lockoutConfig)
		registerAlice(t, f)

		for i := 0; i < 3; i++ {
			_, _ = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "wrong-password"})
		}
		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123"})
		require.NoError(t, err)

		u, err := f.creds.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, u.FailedAttempts)
	})
}

func TestAuthenticateLockout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)
	registerAlice(t, f)

	for i := 1; i <= 5; i++ {
		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "wrong-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i)
	}

	u, err := f.creds.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, u.FailedAttempts)
	require.NotNil(t, u.LockUntil)
	assert.True(t, u.LockUntil.Equal(f.clock.Now().Add(15*time.Minute)))

	// correct password is not even checked while locked
	_, err = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	u, err = f.creds.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, u.FailedAttempts)

	f.clock.Advance(15*time.Minute + time.Second)

	u, err = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.Zero(t, u.FailedAttempts)
	assert.Nil(t, u.LockUntil)

	events, err := f.audit.List(ctx, 0, 100)
	require.NoError(t, err)
	var locked int
	for _, e := range events {
		if e.Action == ActionAccountLocked {
			locked++
		}
	}
	assert.Equal(t, 1, locked)
}

func TestAuthenticateExpiredLockStartsFresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)
	registerAlice(t, f)

	for i := 0; i < 5; i++ {
		_, _ = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "wrong-password"})
	}
	f.clock.Advance(16 * time.Minute)

	_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u, err := f.creds.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.FailedAttempts)
	assert.Nil(t, u.LockUntil)
}

func TestAuthenticateTOTP(t *testing.T) {
	ctx := context.Background()
	cfg := lockoutConfig
	cfg.RequireTOTP = true
	f := newFixture(t, cfg)
	registerAlice(t, f)

	enrollment, err := f.creds.EnrollTOTP(ctx, "admin", "alice", ReauthRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.QRCodePNG)
	assert.Contains(t, enrollment.URI, "otpauth://totp/")

	stored, err := f.creds.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, vault.IsSealed(stored.TOTPSecret))
	assert.NotContains(t, string(stored.TOTPSecret), enrollment.Secret)

	code, err := totp.GenerateCodeCustom(enrollment.Secret, f.clock.Now(), totpOpts)
	require.NoError(t, err)

	t.Run("missing code", func(t *testing.T) {
		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123"})
		assert.ErrorIs(t, err, ErrInvalidTOTP)
	})

	t.Run("valid code", func(t *testing.T) {
		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123", TOTPCode: code})
		require.NoError(t, err)
	})

	t.Run("replayed code", func(t *testing.T) {
		_, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123", TOTPCode: code})
		assert.ErrorIs(t, err, ErrInvalidTOTP)
	})

	t.Run("code from another window", func(t *testing.T) {
		stale, err := totp.GenerateCodeCustom(enrollment.Secret, f.clock.Now().Add(-10*time.Minute), totpOpts)
		require.NoError(t, err)
		if stale == code {
			t.Skip("codes collided")
		}
		_, err = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123", TOTPCode: stale})
		assert.ErrorIs(t, err, ErrInvalidTOTP)
	})

	t.Run("next window accepted", func(t *testing.T) {
		f.clock.Advance(time.Minute)
		next, err := totp.GenerateCodeCustom(enrollment.Secret, f.clock.Now(), totpOpts)
		require.NoError(t, err)
		u, err := f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123", TOTPCode: next})
		require.NoError(t, err)
		assert.Zero(t, u.FailedAttempts)
	})
}

func TestTOTPOnlyWhenRequested(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)
	registerAlice(t, f)
	_, err := f.creds.EnrollTOTP(ctx, "admin", "alice", ReauthRequest{})
	require.NoError(t, err)

	_, err = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	_, err = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "password123", RequireTOTP: true})
	assert.ErrorIs(t, err, ErrInvalidTOTP)
}

func TestReplaceOwnTOTPNeedsCurrentFactor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)
	registerAlice(t, f)

	first, err := f.creds.EnrollTOTP(ctx, "alice", "alice", ReauthRequest{})
	require.NoError(t, err)

	_, err = f.creds.EnrollTOTP(ctx, "alice", "alice", ReauthRequest{})
	assert.ErrorIs(t, err, ErrReauthRequired)

	code, err := totp.GenerateCodeCustom(first.Secret, f.clock.Now(), totpOpts)
	require.NoError(t, err)

	_, err = f.creds.EnrollTOTP(ctx, "alice", "alice", ReauthRequest{Password: "wrong-password", TOTPCode: code})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	u, err := f.creds.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.FailedAttempts)

	second, err := f.creds.EnrollTOTP(ctx, "alice", "alice", ReauthRequest{Password: "password123", TOTPCode: code})
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	// admins reset other accounts without the old factor
	_, err = f.creds.EnrollTOTP(ctx, "admin", "alice", ReauthRequest{})
	require.NoError(t, err)
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)
	registerAlice(t, f)

	t.Run("username taken", func(t *testing.T) {
		_, err := f.creds.RegisterUser(ctx, "admin", RegisterUserRequest{Username: "alice", Password: "password123", Role: models.RoleVoter})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := f.creds.RegisterUser(ctx, "admin", RegisterUserRequest{Username: "b", Password: "short", Role: "root"})
		require.Error(t, err)
		details := ValidationDetails(err)
		assert.Contains(t, details, "Username")
		assert.Contains(t, details, "Password")
		assert.Contains(t, details, "Role")
	})

	t.Run("missing person", func(t *testing.T) {
		missing := int64(42)
		_, err := f.creds.RegisterUser(ctx, "admin", RegisterUserRequest{Username: "bob", Password: "password123", Role: models.RoleVoter, PersonID: &missing})
		assert.ErrorIs(t, err, ErrPersonNotFound)
	})

	t.Run("person linked once", func(t *testing.T) {
		pid, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Carol Voter", VoterID: "V100"}, nil)
		require.NoError(t, err)

		u, err := f.creds.RegisterUser(ctx, "admin", RegisterUserRequest{Username: "carol", Password: "password123", Role: models.RoleVoter, PersonID: &pid})
		require.NoError(t, err)
		require.NotNil(t, u.PersonID)
		assert.Equal(t, pid, *u.PersonID)

		_, err = f.creds.RegisterUser(ctx, "admin", RegisterUserRequest{Username: "carol2", Password: "password123", Role: models.RoleVoter, PersonID: &pid})
		assert.ErrorIs(t, err, ErrPersonAlreadyLinked)

		err = f.creds.LinkPerson(ctx, "admin", "alice", pid)
		assert.ErrorIs(t, err, ErrPersonAlreadyLinked)

		require.NoError(t, f.creds.UnlinkPerson(ctx, "admin", "carol"))
		require.NoError(t, f.creds.LinkPerson(ctx, "admin", "alice", pid))
	})
}

func TestAccountAdministration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)
	registerAlice(t, f)

	require.NoError(t, f.creds.ChangeRole(ctx, "admin", "alice", models.RoleAdmin))
	u, err := f.creds.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)

	assert.ErrorIs(t, f.creds.ChangeRole(ctx, "admin", "alice", "superuser"), ErrInvalidRole)
	assert.ErrorIs(t, f.creds.ChangeRole(ctx, "admin", "nobody", models.RoleVoter), ErrAccountNotFound)

	assert.ErrorIs(t, f.creds.ResetPassword(ctx, "admin", "alice", "short"), ErrWeakPassword)
	require.NoError(t, f.creds.ResetPassword(ctx, "admin", "alice", "new-password-1"))
	_, err = f.creds.Authenticate(ctx, AuthRequest{Username: "alice", Password: "new-password-1"})
	require.NoError(t, err)

	require.NoError(t, f.creds.DeleteUserPermanently(ctx, "admin", "alice"))
	_, err = f.creds.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, f.creds.DeleteUserPermanently(ctx, "admin", "alice"), ErrAccountNotFound)

	events, err := f.audit.List(ctx, 0, 100)
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, ActionRoleChange)
	assert.Contains(t, actions, ActionPasswordReset)
	assert.Contains(t, actions, ActionUserDelete)

	ok, brk, err := f.audit.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, brk)
}

func TestAuditOutageDoesNotFailRegistration(t *testing.T) {
	auditor := new(MockAuditor)
	auditor.On("Append", mock.Anything, "admin", ActionUserRegister, "user:dave", "role=voter").
		Return(int64(0), errors.New("ledger offline"))

	svc := NewCredentialService(memory.New(), newFastHasher(t), newTestVault(t), nil, auditor, nil, zerolog.Nop(), lockoutConfig)

	u, err := svc.RegisterUser(context.Background(), "admin", RegisterUserRequest{Username: "dave", Password: "password123", Role: models.RoleVoter})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	auditor.AssertExpectations(t)
}
