package models

import "time"

// Role is the access level of a login account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleVoter    Role = "voter"
)

// IsValid reports whether r is one of the supported roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleVoter:
		return true
	}
	return false
}

// User is a login account. PersonID is a weak back-reference: a user may exist
// without a linked person and a person without a user.
type User struct {
	ID             int64      `json:"id" db:"id"`
	Username       string     `json:"username" db:"username"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	TOTPSecret     []byte     `json:"-" db:"totp_secret"` // sealed
	Role           Role       `json:"role" db:"role"`
	PersonID       *int64     `json:"personId,omitempty" db:"person_id"`
	FailedAttempts int        `json:"failedAttempts" db:"failed_attempts"`
	LockUntil      *time.Time `json:"lockUntil,omitempty" db:"lock_until"`
	LastLogin      *time.Time `json:"lastLogin,omitempty" db:"last_login"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// IsLockedAt reports whether the account is locked at the given instant.
func (u *User) IsLockedAt(now time.Time) bool {
	return u.LockUntil != nil && now.Before(*u.LockUntil)
}

// HasTOTP reports whether a second factor is enrolled.
func (u *User) HasTOTP() bool {
	return len(u.TOTPSecret) > 0
}
