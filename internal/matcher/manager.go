package matcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/biometric"
	"github.com/irisballot/backend/internal/metrics"
)

const hookTimeout = 5 * time.Second

// OutcomeHandler is called once per session after the camera is released
// and before waiters are woken.
type OutcomeHandler func(ctx context.Context, out Outcome)

type Deps struct {
	OpenCamera CameraOpener
	Extractor  Extractor
	Classifier Classifier
	Templates  TemplateSource
	Admission  Admission
	Publisher  StatusPublisher
}

// Manager owns the single camera and the sessions run on it.
type Manager struct {
	cfg  Config
	deps Deps

	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	active   *Session
	starting bool
	sessions map[string]*Session
	order    []string
	hooks    []OutcomeHandler
}

func NewManager(cfg Config, deps Deps, m *metrics.Metrics, log zerolog.Logger) *Manager {
	if cfg.Retain <= 0 {
		cfg.Retain = 64
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		metrics:  m,
		log:      log.With().Str("component", "matcher").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// OnOutcome registers a handler for terminal outcomes.
func (m *Manager) OnOutcome(h OutcomeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// StartSession acquires the camera and starts capturing. target is required
// for ModeVerify and ignored for ModeIdentify.
func (m *Manager) StartSession(ctx context.Context, mode Mode, target *int64) (string, error) {
	profile, err := m.cfg.profile(mode)
	if err != nil {
		return "", err
	}
	if mode == ModeVerify && target == nil {
		return "", ErrTargetRequired
	}
	if mode == ModeIdentify {
		target = nil
	}
	if m.deps.OpenCamera == nil || m.deps.Extractor == nil || m.deps.Classifier == nil {
		return "", fmt.Errorf("%w: pipeline not configured", ErrCameraUnavailable)
	}

	if err := m.reserve(); err != nil {
		return "", err
	}
	installed := false
	defer func() {
		if !installed {
			m.unreserve()
		}
	}()

	// slow setup runs outside mu; the reservation keeps other starts out
	var tpl *image.Gray
	if target != nil {
		tpl = m.loadTemplate(ctx, *target)
	}

	cam, err := m.deps.OpenCamera(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	now := m.now()
	deadline := now.Add(profile.Timeout)
	runCtx, stop := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	s := &Session{
		id:                uuid.NewString(),
		mode:              mode,
		target:            target,
		profile:           profile,
		maxMismatches:     m.cfg.MaxMismatches,
		startedAt:         now,
		deadline:          deadline,
		template:          tpl,
		templateThreshold: m.cfg.TemplateMatchThreshold,
		state:             StateCapturing,
		stop:              stop,
		done:              make(chan struct{}),
		camera:            cam,
	}

	m.mu.Lock()
	m.starting = false
	installed = true
	m.active = s
	m.sessions[s.id] = s
	m.order = append(m.order, s.id)
	m.pruneLocked()
	m.mu.Unlock()

	ev := m.log.Info().Str("session_id", s.id).Str("mode", string(mode))
	if target != nil {
		ev = ev.Int64("target_person_id", *target).Bool("template", tpl != nil)
	}
	ev.Dur("timeout", profile.Timeout).Msg("match session started")

	go m.run(runCtx, s)
	return s.id, nil
}

// reserve claims the camera slot while a session is being set up.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.starting || (m.active != nil && !m.active.finished()) {
		return ErrSessionActive
	}
	m.starting = true
	return nil
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
}

func (m *Manager) loadTemplate(ctx context.Context, personID int64) *image.Gray {
	if m.deps.Templates == nil {
		return nil
	}
	raw, err := m.deps.Templates.IrisTemplate(ctx, personID)
	if err != nil {
		m.log.Warn().Err(err).Int64("person_id", personID).Msg("stored template unavailable, classifier only")
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	img, err := biometric.Decode(raw)
	if err != nil {
		m.log.Warn().Err(err).Int64("person_id", personID).Msg("stored template unreadable, classifier only")
		return nil
	}
	return img
}

// pruneLocked drops the oldest finished sessions beyond the retain limit.
func (m *Manager) pruneLocked() {
	for len(m.order) > m.cfg.Retain {
		oldest := m.sessions[m.order[0]]
		if oldest != nil && !oldest.finished() {
			return
		}
		delete(m.sessions, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Status(id string) (Status, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// Outcome returns the terminal outcome, false while still capturing.
func (m *Manager) Outcome(id string) (Outcome, bool, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Outcome{}, false, err
	}
	out, done := s.Outcome()
	return out, done, nil
}

// Cancel stops the session and returns after its camera has been released.
// Cancelling a finished session is a no-op.
func (m *Manager) Cancel(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.cancelled.Store(true)
	s.stop()
	<-s.done
	return nil
}

// Wait blocks until the session ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Outcome, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case <-s.done:
		out, _ := s.Outcome()
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close cancels the active session, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return nil
	}
	return m.Cancel(active.id)
}

func (m *Manager) run(ctx context.Context, s *Session) {
	defer close(s.done)
	defer m.finalize(s)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("session_id", s.id).Msg("match session panicked")
			m.end(s, StateRejected, fmt.Errorf("%w: %v", ErrSessionAborted, r), false)
		}
	}()
	defer s.stop()

	m.publish(ctx, s)
	for {
		if s.cancelled.Load() {
			m.end(s, StateCancelled, nil, false)
			return
		}
		if m.expired(ctx, s) {
			m.end(s, StateTimedOut, nil, false)
			return
		}
		if ctx.Err() != nil {
			m.end(s, StateCancelled, nil, false)
			return
		}

		frame, err := s.camera.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.metrics.IncFrame("read_error")
				m.log.Debug().Err(err).Str("session_id", s.id).Msg("frame read failed")
			}
			m.pause(ctx)
			continue
		}

		obs := m.observe(s, frame)
		if err := frame.Close(); err != nil {
			m.log.Debug().Err(err).Msg("frame close failed")
		}

		// a frame that arrives after the deadline does not count
		if m.expired(ctx, s) {
			m.end(s, StateTimedOut, nil, false)
			return
		}

		switch s.apply(obs) {
		case StateVerified:
			personID, _ := s.matchedPerson()
			if err := m.admit(ctx, personID); err != nil {
				if m.expired(ctx, s) {
					m.end(s, StateTimedOut, nil, false)
					return
				}
				m.end(s, StateRejected, err, true)
				return
			}
			m.end(s, StateVerified, nil, true)
			return
		case StateRejected:
			m.end(s, StateRejected, ErrMismatchLimit, false)
			return
		}

		m.publish(ctx, s)
		m.pause(ctx)
	}
}

// expired reports whether the session deadline has passed.
func (m *Manager) expired(ctx context.Context, s *Session) bool {
	return !m.now().Before(s.deadline) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// end releases the camera before the terminal state becomes visible.
func (m *Manager) end(s *Session, state State, err error, withMatch bool) {
	if rerr := s.release(); rerr != nil {
		m.log.Warn().Err(rerr).Str("session_id", s.id).Msg("camera release failed")
	}
	s.finish(state, err, m.now(), withMatch)
}

// observe extracts and identifies one frame. In 1:1 mode a close match to
// the stored template assigns the target without consulting the model.
func (m *Manager) observe(s *Session, frame Frame) Observation {
	crop, ok := m.deps.Extractor.ExtractFrame(frame)
	if !ok || crop.Empty() {
		m.metrics.IncFrame("no_iris")
		return Observation{}
	}

	if s.template != nil && s.target != nil {
		d, err := biometric.Distance(s.template, crop.Image)
		if err == nil && d < s.templateThreshold {
			m.metrics.IncFrame("template")
			return Observation{OK: true, PersonID: *s.target, Confidence: 1.0, Crop: crop, ViaTemplate: true}
		}
	}

	personID, confidence, err := m.deps.Classifier.Classify(crop)
	if err != nil {
		m.metrics.IncFrame("model_error")
		return Observation{Crop: crop}
	}
	m.metrics.IncFrame("classified")
	return Observation{OK: true, PersonID: personID, Confidence: confidence, Crop: crop}
}

func (m *Manager) admit(ctx context.Context, personID int64) error {
	if m.deps.Admission == nil {
		return nil
	}
	return m.deps.Admission.AdmitPerson(ctx, personID)
}

// finalize reports the outcome of a session whose camera is released.
func (m *Manager) finalize(s *Session) {
	// a panic inside end must still leave a terminal state
	if _, done := s.Outcome(); !done {
		m.end(s, StateRejected, ErrSessionAborted, false)
	}
	out, _ := s.Outcome()

	m.metrics.ObserveSession(string(out.Mode), string(out.State), out.StartedAt)
	ev := m.log.Info()
	if out.Err != nil && !errors.Is(out.Err, ErrMismatchLimit) {
		ev = m.log.Warn().Err(out.Err)
	}
	ev.Str("session_id", out.SessionID).
		Str("mode", string(out.Mode)).
		Str("state", string(out.State)).
		Int64("person_id", out.PersonID).
		Float64("confidence", out.Confidence).
		Int("frames", out.Frames).
		Dur("elapsed", out.EndedAt.Sub(out.StartedAt)).
		Msg("match session finished")

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	m.publish(ctx, s)

	m.mu.Lock()
	hooks := append([]OutcomeHandler(nil), m.hooks...)
	m.mu.Unlock()
	for _, h := range hooks {
		m.runHook(ctx, h, out)
	}
}

func (m *Manager) runHook(ctx context.Context, h OutcomeHandler, out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("session_id", out.SessionID).Msg("outcome handler panicked")
		}
	}()
	h(ctx, out)
}

func (m *Manager) publish(ctx context.Context, s *Session) {
	if m.deps.Publisher == nil {
		return
	}
	st := s.Status()
	if !s.changed(st) {
		return
	}
	if err := m.deps.Publisher.Publish(ctx, st); err != nil {
		m.log.Warn().Err(err).Str("session_id", s.id).Msg("status publish failed")
	}
}

func (m *Manager) pause(ctx context.Context) {
	if m.cfg.FrameInterval <= 0 {
		return
	}
	t := time.NewTimer(m.cfg.FrameInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
