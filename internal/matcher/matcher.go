// Package matcher runs live recognition sessions: it polls camera frames,
// extracts and classifies iris crops, smooths consecutive matches and ends in
// exactly one terminal outcome.
package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/irisballot/backend/internal/models"
)

type Mode string

const (
	ModeIdentify Mode = "identify"
	ModeVerify   Mode = "verify"
)

type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateVerified  State = "verified"
	StateRejected  State = "rejected"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateVerified, StateRejected, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Verification methods recorded with a verified outcome.
const (
	MethodIris         = "iris"
	MethodIrisTemplate = "iris+template"
)

var (
	ErrSessionActive     = errors.New("a match session is already active")
	ErrSessionNotFound   = errors.New("match session not found")
	ErrInvalidMode       = errors.New("invalid match mode")
	ErrTargetRequired    = errors.New("verification requires a target person")
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrMismatchLimit     = errors.New("identity mismatch limit reached")
	ErrSessionAborted    = errors.New("match session aborted")
)

// Frame is one captured image; the concrete type belongs to the camera.
type Frame interface {
	Close() error
}

type Camera interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// CameraOpener acquires the device for one session.
type CameraOpener func(ctx context.Context) (Camera, error)

type Extractor interface {
	ExtractFrame(Frame) (*models.IrisCrop, bool)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(Frame) (*models.IrisCrop, bool)

func (f ExtractorFunc) ExtractFrame(frame Frame) (*models.IrisCrop, bool) {
	return f(frame)
}

type Classifier interface {
	Classify(*models.IrisCrop) (int64, float64, error)
}

// TemplateSource returns a person's stored iris template, nil when none.
type TemplateSource interface {
	IrisTemplate(ctx context.Context, personID int64) ([]byte, error)
}

// Admission vets the identity a session verified before it is reported.
type Admission interface {
	AdmitPerson(ctx context.Context, personID int64) error
}

type StatusPublisher interface {
	Publish(ctx context.Context, st Status) error
}

// Profile tunes one mode.
type Profile struct {
	ConfidenceThreshold float64
	RequiredMatches     int
	Timeout             time.Duration
}

type Config struct {
	Identify Profile
	Verify   Profile

	// MaxMismatches rejects a 1:1 session after that many consecutive frames
	// classified as someone else. Zero disables it.
	MaxMismatches          int
	TemplateMatchThreshold float64
	FrameInterval          time.Duration

	// Retain bounds how many finished sessions stay queryable.
	Retain int
}

func DefaultConfig() Config {
	return Config{
		Identify:               Profile{ConfidenceThreshold: 0.75, RequiredMatches: 3, Timeout: 20 * time.Second},
		Verify:                 Profile{ConfidenceThreshold: 0.65, RequiredMatches: 1, Timeout: 15 * time.Second},
		TemplateMatchThreshold: 0.02,
		FrameInterval:          30 * time.Millisecond,
		Retain:                 64,
	}
}

func (c Config) profile(mode Mode) (Profile, error) {
	switch mode {
	case ModeIdentify:
		return c.Identify, nil
	case ModeVerify:
		return c.Verify, nil
	}
	return Profile{}, ErrInvalidMode
}

// Outcome is the single terminal result of a session. Person fields are set
// only for Verified, and for Rejected when admission refused a verified
// identity.
type Outcome struct {
	SessionID      string           `json:"sessionId"`
	Mode           Mode             `json:"mode"`
	TargetPersonID *int64           `json:"targetPersonId,omitempty"`
	State          State            `json:"state"`
	PersonID       int64            `json:"personId,omitempty"`
	Confidence     float64          `json:"confidence,omitempty"`
	Method         string           `json:"method,omitempty"`
	Frames         int              `json:"frames"`
	StartedAt      time.Time        `json:"startedAt"`
	EndedAt        time.Time        `json:"endedAt"`
	Crop           *models.IrisCrop `json:"-"`
	Err            error            `json:"-"`
}

// Status is the snapshot the shell polls.
type Status struct {
	SessionID      string    `json:"sessionId"`
	Mode           Mode      `json:"mode"`
	State          State     `json:"state"`
	Phase          string    `json:"phase"`
	TargetPersonID *int64    `json:"targetPersonId,omitempty"`
	Consecutive    int       `json:"consecutive"`
	Required       int       `json:"required"`
	Frames         int       `json:"frames"`
	StartedAt      time.Time `json:"startedAt"`
	Deadline       time.Time `json:"deadline"`
	PersonID       int64     `json:"personId,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Phases reported while capturing.
const (
	PhaseSearching = "searching"
	PhaseMatched   = "matched"
)
