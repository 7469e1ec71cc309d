package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks recognition sessions, authentication and ledger integrity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionOutcomes     *prometheus.CounterVec
	SessionDuration     *prometheus.HistogramVec
	FramesProcessed     *prometheus.CounterVec
	AuthResults         *prometheus.CounterVec
	VotesCast           prometheus.Counter
	Enrollments         prometheus.Counter
	IntegrityViolations *prometheus.CounterVec
	ChainVerifications  *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irisballot_match_sessions_total",
			Help: "Terminal match session outcomes by mode and state",
		}, []string{"mode", "state"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irisballot_match_session_duration_seconds",
			Help:    "Wall-clock duration of match sessions",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30},
		}, []string{"mode"}),
		FramesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irisballot_frames_processed_total",
			Help: "Camera frames processed by result",
		}, []string{"result"}),
		AuthResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irisballot_auth_attempts_total",
			Help: "Password authentication attempts by result",
		}, []string{"result"}),
		VotesCast: f.NewCounter(prometheus.CounterOpts{
			Name: "irisballot_votes_cast_total",
			Help: "Ballots persisted",
		}),
		Enrollments: f.NewCounter(prometheus.CounterOpts{
			Name: "irisballot_enrollments_total",
			Help: "Persons enrolled",
		}),
		IntegrityViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irisballot_integrity_violations_total",
			Help: "Rejected duplicate votes, duplicate enrollments and chain breaks",
		}, []string{"kind"}),
		ChainVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irisballot_audit_chain_verifications_total",
			Help: "Audit chain verification runs by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveSession(mode, state string, start time.Time) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(mode, state).Inc()
	m.SessionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncFrame(result string) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAuth(result string) {
	if m == nil {
		return
	}
	m.AuthResults.WithLabelValues(result).Inc()
}

func (m *Metrics) IncVote() {
	if m == nil {
		return
	}
	m.VotesCast.Inc()
}

func (m *Metrics) IncEnrollment() {
	if m == nil {
		return
	}
	m.Enrollments.Inc()
}

func (m *Metrics) IncIntegrityViolation(kind string) {
	if m == nil {
		return
	}
	m.IntegrityViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncChainVerification(intact bool) {
	if m == nil {
		return
	}
	result := "intact"
	if !intact {
		result = "broken"
	}
	m.ChainVerifications.WithLabelValues(result).Inc()
}
