package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/biometric"
	"github.com/irisballot/backend/internal/metrics"
	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
	"github.com/irisballot/backend/internal/vault"
)

// DefaultDuplicateThreshold is the MSE below which two templates are treated
// as the same eye. It is a coarse screen, not a biometric matcher.
const DefaultDuplicateThreshold = 0.0015

type IdentityConfig struct {
	DuplicateThreshold float64
}

type IdentityService struct {
	persons   store.PersonStore
	sealer    Sealer
	audit     Auditor
	validator *ValidationHelper
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       IdentityConfig
	now       func() time.Time
}

func NewIdentityService(persons store.PersonStore, sealer Sealer, audit Auditor, m *metrics.Metrics, log zerolog.Logger, cfg IdentityConfig) *IdentityService {
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = DefaultDuplicateThreshold
	}
	return &IdentityService{
		persons:   persons,
		sealer:    sealer,
		audit:     audit,
		validator: NewValidationHelper(),
		metrics:   m,
		log:       log.With().Str("component", "identity").Logger(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Enroll registers a person, optionally with an iris template. Duplicates by
// biometric or by case-insensitive name among active persons are rejected,
// never merged. The check and insert run under the store's enrollment lock.
func (s *IdentityService) Enroll(ctx context.Context, actor string, person *models.Person, template []byte) (int64, error) {
	p := *person
	p.Name = strings.TrimSpace(p.Name)
	if err := s.validator.ValidateStruct(&p); err != nil {
		return 0, err
	}

	var sealed []byte
	if len(template) > 0 {
		if _, err := biometric.Decode(template); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		var err error
		if sealed, err = s.sealer.Seal(vault.PurposeIrisTemplate, template); err != nil {
			return 0, fmt.Errorf("seal iris template: %w", err)
		}
	}
	p.IrisTemplate = sealed
	p.FaceTemplate = nil
	if len(person.FaceTemplate) > 0 {
		face, err := s.sealer.Seal(vault.PurposeFaceTemplate, person.FaceTemplate)
		if err != nil {
			return 0, fmt.Errorf("seal face template: %w", err)
		}
		p.FaceTemplate = face
	}
	p.EnrollmentDate = s.now().UTC()

	var conflict int64
	id, err := s.persons.EnrollPerson(ctx, &p, func(active []store.PersonRecord) error {
		if len(template) > 0 {
			if match := s.closest(active, template, 0); match != nil {
				conflict = *match
				return ErrDuplicateBiometric
			}
		}
		for _, rec := range active {
			if strings.EqualFold(strings.TrimSpace(rec.Name), p.Name) {
				conflict = rec.ID
				return ErrDuplicateName
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrDuplicateBiometric), errors.Is(err, ErrDuplicateName):
		kind := "duplicate_biometric"
		if errors.Is(err, ErrDuplicateName) {
			kind = "duplicate_name"
		}
		s.metrics.IncIntegrityViolation(kind)
		s.log.Error().
			Str("voter_id", p.VoterID).
			Int64("existing_person_id", conflict).
			Str("kind", kind).
			Msg("enrollment rejected")
		record(ctx, s.audit, s.log, actor, ActionDuplicateEnroll, "person:"+strconv.FormatInt(conflict, 10), kind)
		return 0, err
	case errors.Is(err, store.ErrDuplicate):
		return 0, ErrDuplicateVoterID
	case err != nil:
		return 0, fmt.Errorf("enroll person: %w", err)
	}

	s.metrics.IncEnrollment()
	s.log.Info().Int64("person_id", id).Bool("iris", len(template) > 0).Msg("person enrolled")
	record(ctx, s.audit, s.log, actor, ActionPersonEnroll, "person:"+strconv.FormatInt(id, 10), "voter_id="+p.VoterID)
	return id, nil
}

// CheckDuplicate returns the id of an active person whose template is within
// the duplicate threshold, or nil.
func (s *IdentityService) CheckDuplicate(ctx context.Context, template []byte) (*int64, error) {
	if _, err := biometric.Decode(template); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	active, err := s.persons.ListActivePersons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active persons: %w", err)
	}
	return s.closest(active, template, 0), nil
}

// closest scans active templates for the nearest one under the threshold.
// skip excludes a person id (0 excludes nothing).
func (s *IdentityService) closest(active []store.PersonRecord, template []byte, skip int64) *int64 {
	var (
		best     *int64
		bestDist = s.cfg.DuplicateThreshold
	)
	for _, rec := range active {
		if rec.ID == skip || len(rec.IrisTemplate) == 0 {
			continue
		}
		plain, err := s.sealer.Open(vault.PurposeIrisTemplate, rec.IrisTemplate)
		if err != nil {
			s.log.Warn().Err(err).Int64("person_id", rec.ID).Msg("skipping unreadable template")
			continue
		}
		dist, err := biometric.TemplateDistance(template, plain)
		if err != nil {
			s.log.Warn().Err(err).Int64("person_id", rec.ID).Msg("skipping malformed template")
			continue
		}
		if dist < bestDist {
			id := rec.ID
			best, bestDist = &id, dist
		}
	}
	return best
}

// GetPerson returns the person with templates opened.
func (s *IdentityService) GetPerson(ctx context.Context, id int64) (*models.Person, error) {
	p, err := s.persons.GetPerson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.IrisTemplate, err = s.sealer.Open(vault.PurposeIrisTemplate, p.IrisTemplate); err != nil {
		return nil, fmt.Errorf("open iris template for person %d: %w", id, err)
	}
	if p.FaceTemplate, err = s.sealer.Open(vault.PurposeFaceTemplate, p.FaceTemplate); err != nil {
		return nil, fmt.Errorf("open face template for person %d: %w", id, err)
	}
	return p, nil
}

// AdmitPerson passes only for an existing, active person.
func (s *IdentityService) AdmitPerson(ctx context.Context, id int64) error {
	p, err := s.persons.GetPerson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrPersonNotFound
	}
	if err != nil {
		return err
	}
	if !p.IsActive {
		return ErrPersonInactive
	}
	return nil
}

// IrisTemplate returns the opened template of a person, nil when none is
// enrolled.
func (s *IdentityService) IrisTemplate(ctx context.Context, id int64) ([]byte, error) {
	p, err := s.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.IrisTemplate, nil
}

func (s *IdentityService) UpdatePerson(ctx context.Context, actor string, person *models.Person) error {
	p := *person
	p.Name = strings.TrimSpace(p.Name)
	if err := s.validator.ValidateStruct(&p); err != nil {
		return err
	}

	switch err := s.persons.UpdatePerson(ctx, &p); {
	case errors.Is(err, store.ErrNotFound):
		return ErrPersonNotFound
	case errors.Is(err, store.ErrDuplicate):
		return ErrDuplicateVoterID
	case err != nil:
		return fmt.Errorf("update person %d: %w", p.ID, err)
	}
	record(ctx, s.audit, s.log, actor, ActionPersonUpdate, "person:"+strconv.FormatInt(p.ID, 10), "")
	return nil
}

func (s *IdentityService) Deactivate(ctx context.Context, actor string, id int64) error {
	if err := s.persons.SetPersonActive(ctx, id, false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPersonNotFound
		}
		return fmt.Errorf("deactivate person %d: %w", id, err)
	}
	s.log.Info().Int64("person_id", id).Str("actor", actor).Msg("person deactivated")
	record(ctx, s.audit, s.log, actor, ActionPersonDeactivate, "person:"+strconv.FormatInt(id, 10), "")
	return nil
}

// UpdateIrisTemplate replaces a person's template after checking it does
// not collide with any other active person.
func (s *IdentityService) UpdateIrisTemplate(ctx context.Context, actor string, id int64, template []byte) error {
	if _, err := biometric.Decode(template); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if err := s.AdmitPerson(ctx, id); err != nil {
		return err
	}

	active, err := s.persons.ListActivePersons(ctx)
	if err != nil {
		return fmt.Errorf("list active persons: %w", err)
	}
	if match := s.closest(active, template, id); match != nil {
		s.metrics.IncIntegrityViolation("duplicate_biometric")
		s.log.Error().Int64("person_id", id).Int64("existing_person_id", *match).Msg("template update rejected")
		return ErrDuplicateBiometric
	}

	sealed, err := s.sealer.Seal(vault.PurposeIrisTemplate, template)
	if err != nil {
		return fmt.Errorf("seal iris template: %w", err)
	}
	if err := s.persons.SetIrisTemplate(ctx, id, sealed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPersonNotFound
		}
		return err
	}
	record(ctx, s.audit, s.log, actor, ActionTemplateUpdate, "person:"+strconv.FormatInt(id, 10), "")
	return nil
}

// RecordAccess appends an access log row. The person must exist.
func (s *IdentityService) RecordAccess(ctx context.Context, personID int64, method string, confidence float64, result models.AccessResult) (int64, error) {
	id, err := s.persons.RecordAccess(ctx, &models.AccessLog{
		PersonID:   personID,
		AccessTime: s.now().UTC(),
		Method:     method,
		Confidence: confidence,
		Result:     result,
	})
	if errors.Is(err, store.ErrReferenceNotFound) {
		return 0, ErrPersonNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record access: %w", err)
	}
	return id, nil
}

func (s *IdentityService) ListAccessLogs(ctx context.Context, personID int64, limit int) ([]models.AccessLog, error) {
	return s.persons.ListAccessLogs(ctx, personID, limit)
}

// DeletePersonPermanently purges the person and cascades to access logs,
// votes and any linked account reference.
func (s *IdentityService) DeletePersonPermanently(ctx context.Context, actor string, id int64) error {
	if err := s.persons.PurgePerson(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPersonNotFound
		}
		return fmt.Errorf("purge person %d: %w", id, err)
	}
	s.log.Warn().Int64("person_id", id).Str("actor", actor).Msg("person purged")
	record(ctx, s.audit, s.log, actor, ActionPersonPurge, "person:"+strconv.FormatInt(id, 10), "")
	return nil
}
