package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/metrics"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
	"github.com/irisballot/backend/internal/vault"
)

// Sealer encrypts values bound to a purpose label.
type Sealer interface {
	Seal(purpose string, plaintext []byte) ([]byte, error)
	Open(purpose string, sealed []byte) ([]byte, error)
}

type CredentialConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	TOTPIssuer      string
	// RequireTOTP forces the second factor for every enrolled account.
	RequireTOTP bool
}

// AuthRequest is one login attempt. RequireTOTP asks for the second factor
// even when the service-wide policy does not.
type AuthRequest struct {
	Username    string
	Password    string
	TOTPCode    string
	RequireTOTP bool
}

type RegisterUserRequest struct {
	Username string      `json:"username" validate:"required,alphanum,min=3,max=64"`
	Password string      `json:"password" validate:"required,min=8,max=128"`
	Role     models.Role `json:"role" validate:"required,oneof=admin operator voter"`
	PersonID *int64      `json:"personId,omitempty" validate:"omitempty,gt=0"`
}

type CredentialService struct {
	users     store.UserStore
	hasher    *PasswordHasher
	sealer    Sealer
	replay    ReplayGuard
	audit     Auditor
	validator *ValidationHelper
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       CredentialConfig
	now       func() time.Time
}

func NewCredentialService(
	users store.UserStore,
	hasher *PasswordHasher,
	sealer Sealer,
	replay ReplayGuard,
	audit Auditor,
	m *metrics.Metrics,
	log zerolog.Logger,
	cfg CredentialConfig,
) *CredentialService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = "IrisBallot"
	}
	return &CredentialService{
		users:     users,
		hasher:    hasher,
		sealer:    sealer,
		replay:    replay,
		audit:     audit,
		validator: NewValidationHelper(),
		metrics:   m,
		log:       log.With().Str("component", "auth").Logger(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Authenticate checks password and, when enrolled and required, the TOTP
// code. The whole decision runs under the account's row lock so parallel
// attempts cannot both slip under the lockout threshold.
func (s *CredentialService) Authenticate(ctx context.Context, req AuthRequest) (*models.User, error) {
	var (
		outcome   error
		lockedNow bool
	)

	user, err := s.users.UpdateUserWithLock(ctx, req.Username, func(u *models.User) error {
		now := s.now().UTC()

		if u.LockUntil != nil {
			if now.Before(*u.LockUntil) {
				return ErrAccountLocked
			}
			u.LockUntil = nil
			u.FailedAttempts = 0
		}

		if !VerifyPassword(req.Password, u.PasswordHash) {
			outcome = ErrInvalidCredentials
			lockedNow = s.registerFailure(u, now)
			return nil
		}

		if u.HasTOTP() && (req.RequireTOTP || s.cfg.RequireTOTP) {
			if err := s.checkTOTP(ctx, u, req.TOTPCode, now); err != nil {
				if !errors.Is(err, ErrInvalidTOTP) {
					return err
				}
				outcome = ErrInvalidTOTP
				lockedNow = s.registerFailure(u, now)
				return nil
			}
		}

		u.FailedAttempts = 0
		u.LockUntil = nil
		u.LastLogin = &now
		return nil
	})

	resource := "user:" + req.Username
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.hasher.BurnDummy(req.Password)
		s.metrics.IncAuth("unknown_user")
		s.log.Warn().Str("username", req.Username).Msg("login for unknown user")
		return nil, ErrUserNotFound
	case errors.Is(err, ErrAccountLocked):
		s.metrics.IncAuth("locked")
		s.log.Warn().Str("username", req.Username).Msg("login rejected, account locked")
		record(ctx, s.audit, s.log, req.Username, ActionLoginFailed, resource, "account locked")
		return nil, ErrAccountLocked
	case err != nil:
		s.log.Error().Err(err).Str("username", req.Username).Msg("authentication failed")
		return nil, fmt.Errorf("authenticate %s: %w", req.Username, err)
	}

	if outcome != nil {
		reason := "invalid_credentials"
		if errors.Is(outcome, ErrInvalidTOTP) {
			reason = "invalid_totp"
		}
		s.metrics.IncAuth(reason)
		s.log.Warn().
			Str("username", req.Username).
			Str("reason", reason).
			Int("failed_attempts", user.FailedAttempts).
			Msg("login failed")
		record(ctx, s.audit, s.log, req.Username, ActionLoginFailed, resource, reason)
		if lockedNow {
			record(ctx, s.audit, s.log, SystemActor, ActionAccountLocked, resource,
				"locked until "+user.LockUntil.Format(time.RFC3339))
		}
		return nil, outcome
	}

	s.metrics.IncAuth("success")
	s.log.Info().Str("username", req.Username).Str("role", string(user.Role)).Msg("login successful")
	record(ctx, s.audit, s.log, req.Username, ActionLogin, resource, "")
	return user, nil
}

// registerFailure bumps the counter and locks at the threshold. Reports
// whether this failure applied the lock.
func (s *CredentialService) registerFailure(u *models.User, now time.Time) bool {
	u.FailedAttempts++
	if u.FailedAttempts >= s.cfg.MaxAttempts {
		until := now.Add(s.cfg.LockoutDuration)
		u.LockUntil = &until
		return true
	}
	return false
}

func (s *CredentialService) checkTOTP(ctx context.Context, u *models.User, code string, now time.Time) error {
	secret, err := s.sealer.Open(vault.PurposeTOTPSecret, u.TOTPSecret)
	if err != nil {
		return fmt.Errorf("open totp secret: %w", err)
	}

	step, ok := matchTOTP(code, string(secret), now)
	if !ok {
		return ErrInvalidTOTP
	}

	if s.replay != nil {
		fresh, err := s.replay.Claim(ctx, u.Username, step)
		if err != nil {
			return err
		}
		if !fresh {
			s.log.Warn().Str("username", u.Username).Int64("step", step).Msg("totp code replayed")
			return ErrInvalidTOTP
		}
	}
	return nil
}

func (s *CredentialService) GetUser(ctx context.Context, username string) (*models.User, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return u, err
}

func (s *CredentialService) RegisterUser(ctx context.Context, actor string, req RegisterUserRequest) (*models.User, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if !req.Role.IsValid() {
		return nil, ErrInvalidRole
	}

	if _, err := s.users.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		PersonID:     req.PersonID,
		CreatedAt:    s.now().UTC(),
	}
	id, err := s.users.CreateUser(ctx, u)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		if req.PersonID != nil {
			return nil, ErrPersonAlreadyLinked
		}
		return nil, ErrUsernameTaken
	case errors.Is(err, store.ErrReferenceNotFound):
		return nil, ErrPersonNotFound
	case err != nil:
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id

	s.log.Info().Str("username", u.Username).Str("role", string(u.Role)).Str("actor", actor).Msg("user registered")
	record(ctx, s.audit, s.log, actor, ActionUserRegister, "user:"+u.Username, "role="+string(u.Role))
	return u, nil
}

func (s *CredentialService) ResetPassword(ctx context.Context, actor, username, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	err = s.mutate(ctx, username, func(u *models.User) error {
		u.PasswordHash = hash
		u.FailedAttempts = 0
		u.LockUntil = nil
		return nil
	})
	if err != nil {
		return err
	}
	record(ctx, s.audit, s.log, actor, ActionPasswordReset, "user:"+username, "")
	return nil
}

func (s *CredentialService) ChangeRole(ctx context.Context, actor, username string, role models.Role) error {
	if !role.IsValid() {
		return ErrInvalidRole
	}
	var previous models.Role
	err := s.mutate(ctx, username, func(u *models.User) error {
		previous = u.Role
		u.Role = role
		return nil
	})
	if err != nil {
		return err
	}
	record(ctx, s.audit, s.log, actor, ActionRoleChange, "user:"+username,
		fmt.Sprintf("%s->%s", previous, role))
	return nil
}

func (s *CredentialService) LinkPerson(ctx context.Context, actor, username string, personID int64) error {
	err := s.mutate(ctx, username, func(u *models.User) error {
		u.PersonID = &personID
		return nil
	})
	switch {
	case errors.Is(err, store.ErrReferenceNotFound):
		return ErrPersonNotFound
	case errors.Is(err, store.ErrDuplicate):
		return ErrPersonAlreadyLinked
	case err != nil:
		return err
	}
	record(ctx, s.audit, s.log, actor, ActionPersonLink, "user:"+username, "person="+strconv.FormatInt(personID, 10))
	return nil
}

func (s *CredentialService) UnlinkPerson(ctx context.Context, actor, username string) error {
	err := s.mutate(ctx, username, func(u *models.User) error {
		u.PersonID = nil
		return nil
	})
	if err != nil {
		return err
	}
	record(ctx, s.audit, s.log, actor, ActionPersonUnlink, "user:"+username, "")
	return nil
}

// EnrollTOTP replaces any existing second factor. The plaintext secret is
// returned once and stored sealed.
// ReauthRequest proves the caller still holds the account when it replaces
// its own second factor.
type ReauthRequest struct {
	Password string `json:"password" validate:"omitempty,max=128"`
	TOTPCode string `json:"totpCode,omitempty" validate:"omitempty,numeric,len=6"`
}

// EnrollTOTP issues a new secret for username. An account replacing its own
// enrolled factor must pass the current password and code; an admin resetting
// another account's factor does not.
func (s *CredentialService) EnrollTOTP(ctx context.Context, actor, username string, reauth ReauthRequest) (*TOTPEnrollment, error) {
	if actor == username {
		current, err := s.GetUser(ctx, username)
		if err != nil {
			return nil, err
		}
		if current.HasTOTP() {
			if reauth.Password == "" || reauth.TOTPCode == "" {
				return nil, ErrReauthRequired
			}
			_, err := s.Authenticate(ctx, AuthRequest{
				Username:    username,
				Password:    reauth.Password,
				TOTPCode:    reauth.TOTPCode,
				RequireTOTP: true,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	enrollment, err := newTOTPEnrollment(s.cfg.TOTPIssuer, username)
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(vault.PurposeTOTPSecret, []byte(enrollment.Secret))
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}

	err = s.mutate(ctx, username, func(u *models.User) error {
		u.TOTPSecret = sealed
		return nil
	})
	if err != nil {
		return nil, err
	}
	record(ctx, s.audit, s.log, actor, ActionTOTPEnroll, "user:"+username, "")
	return enrollment, nil
}

func (s *CredentialService) DeleteUserPermanently(ctx context.Context, actor, username string) error {
	if err := s.users.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("delete user %s: %w", username, err)
	}
	s.log.Warn().Str("username", username).Str("actor", actor).Msg("user deleted permanently")
	record(ctx, s.audit, s.log, actor, ActionUserDelete, "user:"+username, "")
	return nil
}

func (s *CredentialService) mutate(ctx context.Context, username string, fn store.UserMutation) error {
	_, err := s.users.UpdateUserWithLock(ctx, username, fn)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}
