package matcher

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irisballot/backend/internal/biometric"
	"github.com/irisballot/backend/internal/models"
)

type fakeFrame struct{}

func (fakeFrame) Close() error { return nil }

type fakeCamera struct {
	mu        sync.Mutex
	reads     int
	failFirst int
	block     bool
	delay     time.Duration
	closing   chan struct{}
	gate      chan struct{}
	closes    atomic.Int32
}

func (c *fakeCamera) Read(ctx context.Context) (Frame, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.delay > 0 {
		// a slow device that ignores ctx
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.reads++
	n := c.reads
	c.mu.Unlock()
	if n <= c.failFirst {
		return nil, errors.New("device busy")
	}
	return fakeFrame{}, nil
}

func (c *fakeCamera) Close() error {
	if c.closing != nil {
		close(c.closing)
	}
	if c.gate != nil {
		<-c.gate
	}
	c.closes.Add(1)
	return nil
}

type step struct {
	noIris bool
	id     int64
	conf   float64
	err    error
	panic  bool
}

// pipeline plays a fixed script of per-frame results, repeating the last.
type pipeline struct {
	mu    sync.Mutex
	steps []step
	i     int
	cur   step
	crop  *models.IrisCrop
}

func (p *pipeline) ExtractFrame(Frame) (*models.IrisCrop, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.i
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	p.cur = p.steps[idx]
	p.i++
	if p.cur.noIris {
		return nil, false
	}
	return p.crop, true
}

func (p *pipeline) Classify(*models.IrisCrop) (int64, float64, error) {
	p.mu.Lock()
	cur := p.cur
	p.mu.Unlock()
	if cur.panic {
		panic("model exploded")
	}
	return cur.id, cur.conf, cur.err
}

func newPipeline(steps ...step) *pipeline {
	return &pipeline{steps: steps, crop: uniformCrop(16, 100)}
}

func uniformCrop(size int, v uint8) *models.IrisCrop {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return &models.IrisCrop{Image: img}
}

type templateMap map[int64][]byte

func (m templateMap) IrisTemplate(_ context.Context, id int64) ([]byte, error) {
	return m[id], nil
}

// gatedTemplates blocks template loads until gate is closed.
type gatedTemplates struct {
	entered chan struct{}
	gate    chan struct{}
}

func (g gatedTemplates) IrisTemplate(context.Context, int64) ([]byte, error) {
	close(g.entered)
	<-g.gate
	return nil, nil
}

type admissionFunc func(ctx context.Context, id int64) error

func (f admissionFunc) AdmitPerson(ctx context.Context, id int64) error { return f(ctx, id) }

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []Status
}

func (p *recordingPublisher) Publish(_ context.Context, st Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, st)
	return nil
}

func (p *recordingPublisher) phases() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.statuses))
	for _, st := range p.statuses {
		out = append(out, st.Phase)
	}
	return out
}

func testConfig() Config {
	return Config{
		Identify:               Profile{ConfidenceThreshold: 0.75, RequiredMatches: 3, Timeout: 3 * time.Second},
		Verify:                 Profile{ConfidenceThreshold: 0.65, RequiredMatches: 1, Timeout: 3 * time.Second},
		TemplateMatchThreshold: 0.02,
		FrameInterval:          time.Millisecond,
	}
}

func newTestManager(cfg Config, p *pipeline, cam *fakeCamera, extra func(*Deps)) *Manager {
	deps := Deps{
		OpenCamera: func(context.Context) (Camera, error) { return cam, nil },
		Extractor:  p,
		Classifier: p,
	}
	if extra != nil {
		extra(&deps)
	}
	return NewManager(cfg, deps, nil, zerolog.Nop())
}

func runToEnd(t *testing.T, m *Manager, mode Mode, target *int64) Outcome {
	t.Helper()
	id, err := m.StartSession(context.Background(), mode, target)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return out
}

func ptr(v int64) *int64 { return &v }

func TestVerifyOtherPersonTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Verify.Timeout = 150 * time.Millisecond
	cam := &fakeCamera{}
	m := newTestManager(cfg, newPipeline(step{id: 3, conf: 0.9}), cam, nil)

	start := time.Now()
	out := runToEnd(t, m, ModeVerify, ptr(7))

	assert.Equal(t, StateTimedOut, out.State)
	assert.Zero(t, out.PersonID)
	assert.Empty(t, out.Method)
	assert.Greater(t, out.Frames, 0)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, int32(1), cam.closes.Load())
}

func TestIdentifySingleFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	m := newTestManager(cfg, newPipeline(step{id: 5, conf: 0.8}), &fakeCamera{}, nil)

	out := runToEnd(t, m, ModeIdentify, nil)
	assert.Equal(t, StateVerified, out.State)
	assert.Equal(t, int64(5), out.PersonID)
	assert.InDelta(t, 0.8, out.Confidence, 1e-9)
	assert.Equal(t, MethodIris, out.Method)
	assert.Equal(t, 1, out.Frames)
	assert.NotNil(t, out.Crop)
	assert.Nil(t, out.TargetPersonID)
}

func TestFrameRules(t *testing.T) {
	cases := []struct {
		name      string
		mode      Mode
		required  int
		steps     []step
		wantState State
		wantID    int64
		wantFrame int
	}{
		{
			name:     "identity change restarts count",
			mode:     ModeIdentify,
			required: 3,
			steps: []step{
				{id: 5, conf: 0.9}, {id: 5, conf: 0.9}, {id: 6, conf: 0.9}, {id: 6, conf: 0.9}, {id: 6, conf: 0.9},
			},
			wantState: StateVerified, wantID: 6, wantFrame: 5,
		},
		{
			name:     "identify failures keep the run",
			mode:     ModeIdentify,
			required: 3,
			steps: []step{
				{id: 5, conf: 0.9}, {noIris: true}, {id: 5, conf: 0.9}, {err: errors.New("model offline")}, {id: 5, conf: 0.9},
			},
			wantState: StateVerified, wantID: 5, wantFrame: 5,
		},
		{
			name:     "verify failures reset the run",
			mode:     ModeVerify,
			required: 2,
			steps: []step{
				{id: 7, conf: 0.9}, {noIris: true}, {id: 7, conf: 0.9}, {id: 7, conf: 0.9},
			},
			wantState: StateVerified, wantID: 7, wantFrame: 4,
		},
		{
			name:     "verify mismatch resets the run",
			mode:     ModeVerify,
			required: 2,
			steps: []step{
				{id: 7, conf: 0.9}, {id: 3, conf: 0.9}, {id: 7, conf: 0.9}, {id: 7, conf: 0.9},
			},
			wantState: StateVerified, wantID: 7, wantFrame: 4,
		},
		{
			name:     "low confidence breaks the run",
			mode:     ModeIdentify,
			required: 2,
			steps: []step{
				{id: 5, conf: 0.9}, {id: 5, conf: 0.5}, {id: 5, conf: 0.9}, {id: 5, conf: 0.9},
			},
			wantState: StateVerified, wantID: 5, wantFrame: 4,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Identify.RequiredMatches = tc.required
			cfg.Verify.RequiredMatches = tc.required
			m := newTestManager(cfg, newPipeline(tc.steps...), &fakeCamera{}, nil)

			var target *int64
			if tc.mode == ModeVerify {
				target = ptr(7)
			}
			out := runToEnd(t, m, tc.mode, target)
			assert.Equal(t, tc.wantState, out.State)
			assert.Equal(t, tc.wantID, out.PersonID)
			assert.Equal(t, tc.wantFrame, out.Frames)
		})
	}
}

func TestMismatchLimitRejects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMismatches = 2
	m := newTestManager(cfg, newPipeline(step{id: 3, conf: 0.9}), &fakeCamera{}, nil)

	out := runToEnd(t, m, ModeVerify, ptr(7))
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrMismatchLimit)
	assert.Equal(t, 2, out.Frames)
	assert.Zero(t, out.PersonID)
}

func TestTemplateOverride(t *testing.T) {
	p := newPipeline(step{id: 3, conf: 0.99})
	stored, err := biometric.Encode(p.crop.Image)
	require.NoError(t, err)

	m := newTestManager(testConfig(), p, &fakeCamera{}, func(d *Deps) {
		d.Templates = templateMap{7: stored}
	})

	out := runToEnd(t, m, ModeVerify, ptr(7))
	assert.Equal(t, StateVerified, out.State)
	assert.Equal(t, int64(7), out.PersonID)
	assert.Equal(t, 1.0, out.Confidence)
	assert.Equal(t, MethodIrisTemplate, out.Method)
}

func TestTemplateTooFarFallsBackToModel(t *testing.T) {
	p := newPipeline(step{id: 7, conf: 0.7})
	stored, err := biometric.Encode(uniformCrop(16, 250).Image)
	require.NoError(t, err)

	m := newTestManager(testConfig(), p, &fakeCamera{}, func(d *Deps) {
		d.Templates = templateMap{7: stored}
	})

	out := runToEnd(t, m, ModeVerify, ptr(7))
	assert.Equal(t, StateVerified, out.State)
	assert.Equal(t, MethodIris, out.Method)
	assert.InDelta(t, 0.7, out.Confidence, 1e-9)
}

func TestAdmissionRefusalRejects(t *testing.T) {
	errInactive := errors.New("person inactive")
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	m := newTestManager(cfg, newPipeline(step{id: 5, conf: 0.9}), &fakeCamera{}, func(d *Deps) {
		d.Admission = admissionFunc(func(_ context.Context, id int64) error {
			if id == 5 {
				return errInactive
			}
			return nil
		})
	})

	out := runToEnd(t, m, ModeIdentify, nil)
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, errInactive)
	assert.Equal(t, int64(5), out.PersonID)
}

func TestReadErrorsAreRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	cam := &fakeCamera{failFirst: 5}
	m := newTestManager(cfg, newPipeline(step{id: 9, conf: 0.95}), cam, nil)

	out := runToEnd(t, m, ModeIdentify, nil)
	assert.Equal(t, StateVerified, out.State)
	assert.Equal(t, int64(9), out.PersonID)
	assert.Equal(t, 1, out.Frames)
}

func TestPanicEndsSessionAndReleasesCamera(t *testing.T) {
	cam := &fakeCamera{}
	m := newTestManager(testConfig(), newPipeline(step{panic: true}), cam, nil)

	out := runToEnd(t, m, ModeIdentify, nil)
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrSessionAborted)
	assert.Equal(t, int32(1), cam.closes.Load())
}

func TestCancelReleasesCameraBeforeReturning(t *testing.T) {
	cam := &fakeCamera{block: true}
	m := newTestManager(testConfig(), newPipeline(step{id: 1, conf: 1}), cam, nil)

	id, err := m.StartSession(context.Background(), ModeIdentify, nil)
	require.NoError(t, err)

	st, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCapturing, st.State)
	assert.Equal(t, PhaseSearching, st.Phase)

	require.NoError(t, m.Cancel(id))
	assert.Equal(t, int32(1), cam.closes.Load())

	out, done, err := m.Outcome(id)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StateCancelled, out.State)

	// idempotent
	require.NoError(t, m.Cancel(id))
	assert.Equal(t, int32(1), cam.closes.Load())
}

func TestOneActiveSessionPerCamera(t *testing.T) {
	cam := &fakeCamera{block: true}
	m := newTestManager(testConfig(), newPipeline(step{id: 1, conf: 1}), cam, nil)
	ctx := context.Background()

	first, err := m.StartSession(ctx, ModeIdentify, nil)
	require.NoError(t, err)

	_, err = m.StartSession(ctx, ModeVerify, ptr(3))
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, m.Cancel(first))

	second, err := m.StartSession(ctx, ModeVerify, ptr(3))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, m.Close())
	assert.Equal(t, int32(2), cam.closes.Load())
}

func TestStartSessionValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(testConfig(), newPipeline(step{}), &fakeCamera{}, nil)

	_, err := m.StartSession(ctx, "guess", nil)
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = m.StartSession(ctx, ModeVerify, nil)
	assert.ErrorIs(t, err, ErrTargetRequired)

	_, err = m.Status("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrSessionNotFound)
	_, err = m.Wait(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	broken := NewManager(testConfig(), Deps{
		OpenCamera: func(context.Context) (Camera, error) { return nil, errors.New("no /dev/video0") },
		Extractor:  newPipeline(step{}),
		Classifier: newPipeline(step{}),
	}, nil, zerolog.Nop())
	_, err = broken.StartSession(ctx, ModeIdentify, nil)
	assert.ErrorIs(t, err, ErrCameraUnavailable)
}

func TestWaitHonoursContext(t *testing.T) {
	cam := &fakeCamera{block: true}
	m := newTestManager(testConfig(), newPipeline(step{}), cam, nil)
	id, err := m.StartSession(context.Background(), ModeIdentify, nil)
	require.NoError(t, err)
	defer m.Cancel(id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusPublishingAndHooks(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 2
	pub := &recordingPublisher{}
	m := newTestManager(cfg, newPipeline(step{id: 4, conf: 0.9}), &fakeCamera{}, func(d *Deps) {
		d.Publisher = pub
	})

	var (
		mu    sync.Mutex
		calls []Outcome
	)
	m.OnOutcome(func(_ context.Context, out Outcome) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, out)
	})

	out := runToEnd(t, m, ModeIdentify, nil)
	require.Equal(t, StateVerified, out.State)

	mu.Lock()
	require.Len(t, calls, 1)
	assert.Equal(t, out.SessionID, calls[0].SessionID)
	mu.Unlock()

	phases := pub.phases()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseSearching, phases[0])
	assert.Contains(t, phases, PhaseMatched)
	assert.Equal(t, string(StateVerified), phases[len(phases)-1])

	st, err := m.Status(out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.PersonID)
	assert.Equal(t, string(StateVerified), st.Phase)
}

func TestSessionApplyIgnoresFramesAfterTerminal(t *testing.T) {
	s := &Session{mode: ModeIdentify, profile: Profile{ConfidenceThreshold: 0.5, RequiredMatches: 1}, state: StateCapturing}
	assert.Equal(t, StateVerified, s.apply(Observation{OK: true, PersonID: 2, Confidence: 0.9}))
	s.finish(StateVerified, nil, time.Now(), true)
	assert.Equal(t, StateVerified, s.apply(Observation{OK: true, PersonID: 3, Confidence: 0.9}))

	out, done := s.Outcome()
	assert.True(t, done)
	assert.Equal(t, int64(2), out.PersonID)
	assert.Equal(t, 1, out.Frames)
}

func TestRetainPrunesFinishedSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	cfg.Retain = 2
	m := newTestManager(cfg, newPipeline(step{id: 1, conf: 0.9}), &fakeCamera{}, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		out := runToEnd(t, m, ModeIdentify, nil)
		ids = append(ids, out.SessionID)
	}
	_, err := m.Status(ids[0])
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Status(ids[2])
	assert.NoError(t, err)
}

func TestFrameAfterDeadlineDoesNotVerify(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	cfg.Identify.Timeout = 100 * time.Millisecond
	cam := &fakeCamera{delay: 250 * time.Millisecond}
	m := newTestManager(cfg, newPipeline(step{id: 5, conf: 0.9}), cam, nil)

	out := runToEnd(t, m, ModeIdentify, nil)
	assert.Equal(t, StateTimedOut, out.State)
	assert.Zero(t, out.PersonID)
	assert.Equal(t, 0, out.Frames)
	assert.Equal(t, int32(1), cam.closes.Load())
}

func TestBlockedReadEndsAtDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Verify.Timeout = 100 * time.Millisecond
	cam := &fakeCamera{block: true}
	m := newTestManager(cfg, newPipeline(step{id: 7, conf: 0.9}), cam, nil)

	id, err := m.StartSession(context.Background(), ModeVerify, ptr(7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, out.State)
	assert.Equal(t, int32(1), cam.closes.Load())

	st, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, st.State)
}

func TestOutcomeHiddenUntilCameraReleased(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	cam := &fakeCamera{closing: make(chan struct{}), gate: make(chan struct{})}
	m := newTestManager(cfg, newPipeline(step{id: 5, conf: 0.9}), cam, nil)

	id, err := m.StartSession(context.Background(), ModeIdentify, nil)
	require.NoError(t, err)

	select {
	case <-cam.closing:
	case <-time.After(2 * time.Second):
		t.Fatal("camera was never closed")
	}

	st, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCapturing, st.State)
	_, done, err := m.Outcome(id)
	require.NoError(t, err)
	assert.False(t, done)

	close(cam.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, out.State)
	assert.Equal(t, int64(5), out.PersonID)
	assert.Equal(t, int32(1), cam.closes.Load())
}

func TestSlowStartDoesNotBlockStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Identify.RequiredMatches = 1
	tpl := gatedTemplates{entered: make(chan struct{}), gate: make(chan struct{})}
	m := newTestManager(cfg, newPipeline(step{id: 1, conf: 0.9}), &fakeCamera{}, func(d *Deps) {
		d.Templates = tpl
	})

	first := runToEnd(t, m, ModeIdentify, nil)
	require.Equal(t, StateVerified, first.State)

	type started struct {
		id  string
		err error
	}
	result := make(chan started, 1)
	go func() {
		id, err := m.StartSession(context.Background(), ModeVerify, ptr(7))
		result <- started{id, err}
	}()

	select {
	case <-tpl.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("template was never loaded")
	}

	polled := make(chan error, 1)
	go func() {
		_, err := m.Status(first.SessionID)
		polled <- err
	}()
	select {
	case err := <-polled:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("status blocked behind a starting session")
	}

	_, err := m.StartSession(context.Background(), ModeIdentify, nil)
	assert.ErrorIs(t, err, ErrSessionActive)

	close(tpl.gate)
	res := <-result
	require.NoError(t, res.err)
	require.NoError(t, m.Cancel(res.id))

	out, done, err := m.Outcome(res.id)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StateCancelled, out.State)
}
