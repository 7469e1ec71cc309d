package matcher

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irisballot/backend/internal/models"
)

// Observation is the per-frame result fed into the state machine. OK is
// false when extraction or classification failed.
type Observation struct {
	OK          bool
	PersonID    int64
	Confidence  float64
	Crop        *models.IrisCrop
	ViaTemplate bool
}

// Session is one capture run. The worker goroutine owns the camera; other
// goroutines only read snapshots under mu.
type Session struct {
	id            string
	mode          Mode
	target        *int64
	profile       Profile
	maxMismatches int
	startedAt     time.Time
	deadline      time.Time

	template          *image.Gray
	templateThreshold float64

	mu          sync.Mutex
	state       State
	consecutive int
	mismatches  int
	frames      int
	candidate   *Observation
	matched     *Observation
	lastCrop    *models.IrisCrop
	outcome     Outcome
	published   string

	cancelled   atomic.Bool
	stop        context.CancelFunc
	done        chan struct{}
	camera      Camera
	releaseOnce sync.Once
	releaseErr  error
}

func (s *Session) ID() string {
	return s.id
}

// apply runs the per-frame transition rules and reports a terminal state
// when one is reached. Deadline and cancellation are checked by the loop.
func (s *Session) apply(obs Observation) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return s.state
	}
	s.frames++
	if obs.Crop != nil {
		s.lastCrop = obs.Crop
	}

	if !obs.OK {
		// failures break a 1:1 run but not an open identification run
		if s.mode == ModeVerify {
			s.consecutive = 0
		}
		return ""
	}

	if s.mode == ModeVerify && obs.PersonID != *s.target {
		s.consecutive = 0
		s.mismatches++
		if s.maxMismatches > 0 && s.mismatches >= s.maxMismatches {
			return StateRejected
		}
		return ""
	}

	if obs.Confidence < s.profile.ConfidenceThreshold {
		s.consecutive = 0
		return ""
	}

	if s.candidate == nil || s.candidate.PersonID != obs.PersonID {
		s.consecutive = 1
	} else {
		s.consecutive++
	}
	s.mismatches = 0
	o := obs
	s.candidate = &o
	if s.consecutive >= s.profile.RequiredMatches {
		s.matched = &o
		return StateVerified
	}
	return ""
}

// finish records the terminal outcome once. withMatch carries the matched
// identity into the outcome.
func (s *Session) finish(state State, err error, at time.Time, withMatch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.state = state
	out := Outcome{
		SessionID:      s.id,
		Mode:           s.mode,
		TargetPersonID: s.target,
		State:          state,
		Frames:         s.frames,
		StartedAt:      s.startedAt,
		EndedAt:        at,
		Crop:           s.lastCrop,
		Err:            err,
	}
	if withMatch && s.matched != nil {
		out.PersonID = s.matched.PersonID
		out.Confidence = s.matched.Confidence
		out.Crop = s.matched.Crop
		out.Method = MethodIris
		if s.matched.ViaTemplate {
			out.Method = MethodIrisTemplate
		}
	}
	s.outcome = out
}

func (s *Session) matchedPerson() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matched == nil {
		return 0, false
	}
	return s.matched.PersonID, true
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:      s.id,
		Mode:           s.mode,
		State:          s.state,
		TargetPersonID: s.target,
		Consecutive:    s.consecutive,
		Required:       s.profile.RequiredMatches,
		Frames:         s.frames,
		StartedAt:      s.startedAt,
		Deadline:       s.deadline,
	}
	switch {
	case s.state.Terminal():
		st.Phase = string(s.state)
		st.PersonID = s.outcome.PersonID
		st.Confidence = s.outcome.Confidence
		if s.outcome.Err != nil {
			st.Error = s.outcome.Err.Error()
		}
	case s.consecutive > 0 && s.candidate != nil:
		st.Phase = PhaseMatched
		st.PersonID = s.candidate.PersonID
		st.Confidence = s.candidate.Confidence
	default:
		st.Phase = PhaseSearching
	}
	return st
}

func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.state.Terminal()
}

// release closes the camera exactly once.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		if s.camera != nil {
			s.releaseErr = s.camera.Close()
		}
	})
	return s.releaseErr
}

func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// changed reports whether st differs from the last published snapshot.
func (s *Session) changed(st Status) bool {
	key := fmt.Sprintf("%s/%d/%d", st.Phase, st.Consecutive, st.PersonID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.published {
		return false
	}
	s.published = key
	return true
}
