package models

import "time"

// GenesisHash is the previous hash of the first audit event.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEvent is one link of the hash-chained audit log. Immutable once written.
type AuditEvent struct {
	ID         int64     `json:"id" db:"id"`
	EventTime  time.Time `json:"eventTime" db:"event_time"`
	Actor      string    `json:"actor" db:"actor"`
	Action     string    `json:"action" db:"action"`
	Resource   string    `json:"resource" db:"resource"`
	Details    string    `json:"details" db:"details"`
	PrevHash   string    `json:"prevHash" db:"prev_hash"`
	RecordHash string    `json:"recordHash" db:"record_hash"`
}

// VoteRecord is a persisted ballot. At most one exists per (PersonID, ElectionID).
type VoteRecord struct {
	ID                 int64     `json:"id" db:"id"`
	PersonID           int64     `json:"personId" db:"person_id"`
	ElectionID         string    `json:"electionId" db:"election_id"`
	ConfidenceScore    float64   `json:"confidenceScore" db:"confidence_score"`
	VerificationMethod string    `json:"verificationMethod" db:"verification_method"`
	VoteHash           string    `json:"voteHash" db:"vote_hash"`
	VoteTime           time.Time `json:"voteTime" db:"vote_time"`
}
