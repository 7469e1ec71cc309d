// Package store defines the persistence boundary shared by the in-memory and
// Postgres backends.
package store

import (
	"context"
	"errors"

	"github.com/irisballot/backend/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrReferenceNotFound = errors.New("referenced record not found")
	ErrAlreadyVoted      = errors.New("person has already voted in this election")
)

// PersonRecord is the slice of an active person needed for enrollment checks.
type PersonRecord struct {
	ID           int64
	Name         string
	IrisTemplate []byte
}

// UserMutation edits a user loaded under a row lock. Returning an error
// discards the edit; returning nil persists every mutable field.
type UserMutation func(u *models.User) error

// EnrollAdmission inspects the active population under the enrollment lock.
// Returning an error aborts the insert.
type EnrollAdmission func(active []PersonRecord) error

// ChainBuilder receives the current tail of the audit chain (nil when empty)
// and returns the fully hashed event to append.
type ChainBuilder func(prev *models.AuditEvent) (*models.AuditEvent, error)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUserWithLock(ctx context.Context, username string, fn UserMutation) (*models.User, error)
	DeleteUser(ctx context.Context, username string) error
}

type PersonStore interface {
	EnrollPerson(ctx context.Context, p *models.Person, admit EnrollAdmission) (int64, error)
	GetPerson(ctx context.Context, id int64) (*models.Person, error)
	UpdatePerson(ctx context.Context, p *models.Person) error
	SetPersonActive(ctx context.Context, id int64, active bool) error
	SetIrisTemplate(ctx context.Context, id int64, template []byte) error
	ListActivePersons(ctx context.Context) ([]PersonRecord, error)
	RecordAccess(ctx context.Context, entry *models.AccessLog) (int64, error)
	ListAccessLogs(ctx context.Context, personID int64, limit int) ([]models.AccessLog, error)
	PurgePerson(ctx context.Context, id int64) error
}

type VoteStore interface {
	// InsertVote checks for an existing ballot and inserts in one critical
	// section. A second ballot for the same (person, election) yields
	// ErrAlreadyVoted.
	InsertVote(ctx context.Context, v *models.VoteRecord) (int64, error)
	HasVoted(ctx context.Context, personID int64, electionID string) (bool, error)
}

type AuditStore interface {
	AppendChained(ctx context.Context, build ChainBuilder) (int64, error)
	ListAuditEvents(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error)
}

type Store interface {
	UserStore
	PersonStore
	VoteStore
	AuditStore
	Ping(ctx context.Context) error
}
