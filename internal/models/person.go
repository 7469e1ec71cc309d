package models

import "time"

// Person is an enrolled individual. IrisTemplate stays nil until enrollment.
type Person struct {
	ID             int64      `json:"id" db:"id"`
	Name           string     `json:"name" db:"name" validate:"required,min=2,max=120"`
	Phone          string     `json:"phone" db:"phone" validate:"omitempty,max=32"`
	Address        string     `json:"address" db:"address" validate:"omitempty,max=255"`
	VoterID        string     `json:"voterId" db:"voter_id" validate:"required,alphanum,max=32"`
	IrisTemplate   []byte     `json:"-" db:"iris_template"`
	FaceTemplate   []byte     `json:"-" db:"face_template"`
	IsActive       bool       `json:"isActive" db:"is_active"`
	EnrollmentDate time.Time  `json:"enrollmentDate" db:"enrollment_date"`
	LastAccess     *time.Time `json:"lastAccess,omitempty" db:"last_access"`
}

// HasIrisTemplate reports whether the person has a biometric enrolled.
func (p *Person) HasIrisTemplate() bool {
	return len(p.IrisTemplate) > 0
}

// AccessResult is the outcome stored on an access log row.
type AccessResult string

const (
	AccessGranted AccessResult = "granted"
	AccessDenied  AccessResult = "denied"
)

// AccessLog is a per-person access record. PersonID must reference an existing person.
type AccessLog struct {
	ID         int64        `json:"id" db:"id"`
	PersonID   int64        `json:"personId" db:"person_id"`
	AccessTime time.Time    `json:"accessTime" db:"access_time"`
	Method     string       `json:"method" db:"method"`
	Confidence float64      `json:"confidence" db:"confidence"`
	Result     AccessResult `json:"result" db:"result"`
}
