// Package memory is a process-local store used by the kiosk in standalone
// mode and by service tests. A single mutex serializes every check-then-write.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

type voteKey struct {
	personID   int64
	electionID string
}

type Store struct {
	mu sync.Mutex

	users      map[string]*models.User
	persons    map[int64]*models.Person
	accessLogs []models.AccessLog
	votes      map[voteKey]*models.VoteRecord
	audit      []models.AuditEvent

	nextUserID   int64
	nextPersonID int64
	nextAccessID int64
	nextVoteID   int64

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:   make(map[string]*models.User),
		persons: make(map[int64]*models.Person),
		votes:   make(map[voteKey]*models.VoteRecord),
		now:     time.Now,
	}
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) CreateUser(_ context.Context, u *models.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return 0, store.ErrDuplicate
	}
	if u.PersonID != nil {
		if _, ok := s.persons[*u.PersonID]; !ok {
			return 0, store.ErrReferenceNotFound
		}
		if s.personLinkedLocked(*u.PersonID, "") {
			return 0, store.ErrDuplicate
		}
	}

	s.nextUserID++
	stored := cloneUser(u)
	stored.ID = s.nextUserID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.users[u.Username] = stored
	return stored.ID, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) UpdateUserWithLock(_ context.Context, username string, fn store.UserMutation) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}

	working := cloneUser(current)
	if err := fn(working); err != nil {
		return nil, err
	}

	if working.PersonID != nil {
		if _, ok := s.persons[*working.PersonID]; !ok {
			return nil, store.ErrReferenceNotFound
		}
		if s.personLinkedLocked(*working.PersonID, username) {
			return nil, store.ErrDuplicate
		}
	}

	working.ID = current.ID
	working.Username = current.Username
	working.CreatedAt = current.CreatedAt
	s.users[username] = working
	return cloneUser(working), nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, username)
	return nil
}

func (s *Store) personLinkedLocked(personID int64, except string) bool {
	for name, u := range s.users {
		if name != except && u.PersonID != nil && *u.PersonID == personID {
			return true
		}
	}
	return false
}

func (s *Store) EnrollPerson(_ context.Context, p *models.Person, admit store.EnrollAdmission) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if admit != nil {
		if err := admit(s.activeLocked()); err != nil {
			return 0, err
		}
	}
	for _, existing := range s.persons {
		if existing.VoterID == p.VoterID {
			return 0, store.ErrDuplicate
		}
	}

	s.nextPersonID++
	stored := clonePerson(p)
	stored.ID = s.nextPersonID
	stored.IsActive = true
	if stored.EnrollmentDate.IsZero() {
		stored.EnrollmentDate = s.now().UTC()
	}
	s.persons[stored.ID] = stored
	return stored.ID, nil
}

func (s *Store) GetPerson(_ context.Context, id int64) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePerson(p), nil
}

func (s *Store) UpdatePerson(_ context.Context, p *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.persons[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	for id, other := range s.persons {
		if id != p.ID && other.VoterID == p.VoterID {
			return store.ErrDuplicate
		}
	}
	current.Name = p.Name
	current.Phone = p.Phone
	current.Address = p.Address
	current.VoterID = p.VoterID
	return nil
}

func (s *Store) SetPersonActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return store.ErrNotFound
	}
	p.IsActive = active
	return nil
}

func (s *Store) SetIrisTemplate(_ context.Context, id int64, template []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return store.ErrNotFound
	}
	p.IrisTemplate = append([]byte(nil), template...)
	return nil
}

func (s *Store) ListActivePersons(_ context.Context) ([]store.PersonRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(), nil
}

func (s *Store) activeLocked() []store.PersonRecord {
	out := make([]store.PersonRecord, 0, len(s.persons))
	for _, p := range s.persons {
		if !p.IsActive {
			continue
		}
		out = append(out, store.PersonRecord{
			ID:           p.ID,
			Name:         p.Name,
			IrisTemplate: append([]byte(nil), p.IrisTemplate...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) RecordAccess(_ context.Context, entry *models.AccessLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[entry.PersonID]
	if !ok {
		return 0, store.ErrReferenceNotFound
	}

	s.nextAccessID++
	stored := *entry
	stored.ID = s.nextAccessID
	if stored.AccessTime.IsZero() {
		stored.AccessTime = s.now().UTC()
	}
	s.accessLogs = append(s.accessLogs, stored)

	if stored.Result == models.AccessGranted {
		at := stored.AccessTime
		p.LastAccess = &at
	}
	return stored.ID, nil
}

func (s *Store) ListAccessLogs(_ context.Context, personID int64, limit int) ([]models.AccessLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AccessLog
	for i := len(s.accessLogs) - 1; i >= 0; i-- {
		if s.accessLogs[i].PersonID != personID {
			continue
		}
		out = append(out, s.accessLogs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PurgePerson(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.persons[id]; !ok {
		return store.ErrNotFound
	}

	for _, u := range s.users {
		if u.PersonID != nil && *u.PersonID == id {
			u.PersonID = nil
		}
	}

	kept := s.accessLogs[:0]
	for _, entry := range s.accessLogs {
		if entry.PersonID != id {
			kept = append(kept, entry)
		}
	}
	s.accessLogs = kept

	for key := range s.votes {
		if key.personID == id {
			delete(s.votes, key)
		}
	}

	delete(s.persons, id)
	return nil
}

func (s *Store) InsertVote(_ context.Context, v *models.VoteRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.persons[v.PersonID]; !ok {
		return 0, store.ErrReferenceNotFound
	}
	key := voteKey{personID: v.PersonID, electionID: v.ElectionID}
	if _, voted := s.votes[key]; voted {
		return 0, store.ErrAlreadyVoted
	}

	s.nextVoteID++
	stored := *v
	stored.ID = s.nextVoteID
	s.votes[key] = &stored
	return stored.ID, nil
}

func (s *Store) HasVoted(_ context.Context, personID int64, electionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, voted := s.votes[voteKey{personID: personID, electionID: electionID}]
	return voted, nil
}

func (s *Store) AppendChained(_ context.Context, build store.ChainBuilder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *models.AuditEvent
	if n := len(s.audit); n > 0 {
		tail := s.audit[n-1]
		prev = &tail
	}

	event, err := build(prev)
	if err != nil {
		return 0, err
	}

	stored := *event
	stored.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, stored)
	return stored.ID, nil
}

func (s *Store) ListAuditEvents(_ context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// IDs are dense and 1-based.
	start := int(afterID)
	if start < 0 {
		start = 0
	}
	if start >= len(s.audit) {
		return nil, nil
	}
	end := len(s.audit)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]models.AuditEvent, end-start)
	copy(out, s.audit[start:end])
	return out, nil
}

// TamperAuditEvent overwrites a stored event in place. Test and drill use only.
func (s *Store) TamperAuditEvent(id int64, mutate func(e *models.AuditEvent)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || int(id) > len(s.audit) {
		return false
	}
	mutate(&s.audit[id-1])
	return true
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.TOTPSecret = append([]byte(nil), u.TOTPSecret...)
	if u.PersonID != nil {
		id := *u.PersonID
		c.PersonID = &id
	}
	if u.LockUntil != nil {
		t := *u.LockUntil
		c.LockUntil = &t
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

func clonePerson(p *models.Person) *models.Person {
	c := *p
	c.IrisTemplate = append([]byte(nil), p.IrisTemplate...)
	c.FaceTemplate = append([]byte(nil), p.FaceTemplate...)
	if p.LastAccess != nil {
		t := *p.LastAccess
		c.LastAccess = &t
	}
	return &c
}
