package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/vault"
)

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)

	id, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "  Ada Lovelace ", VoterID: "V001"}, pattern(t, 0, 0))
	require.NoError(t, err)

	stored, err := f.store.GetPerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.Name)
	assert.True(t, stored.IsActive)
	assert.True(t, vault.IsSealed(stored.IrisTemplate), "template must be sealed at rest")

	p, err := f.identity.GetPerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pattern(t, 0, 0), p.IrisTemplate)

	t.Run("biometric duplicate rejected", func(t *testing.T) {
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Someone Else", VoterID: "V002"}, pattern(t, 0, 2))
		assert.ErrorIs(t, err, ErrDuplicateBiometric)
	})

	t.Run("name duplicate rejected", func(t *testing.T) {
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "ada lovelace", VoterID: "V003"}, pattern(t, 1, 0))
		assert.ErrorIs(t, err, ErrDuplicateName)
	})

	t.Run("voter id duplicate rejected", func(t *testing.T) {
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Grace Hopper", VoterID: "V001"}, pattern(t, 1, 0))
		assert.ErrorIs(t, err, ErrDuplicateVoterID)
	})

	t.Run("malformed template", func(t *testing.T) {
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Grace Hopper", VoterID: "V004"}, []byte("not a template"))
		assert.ErrorIs(t, err, ErrInvalidTemplate)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "G", VoterID: "bad id!"}, nil)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("distinct person accepted", func(t *testing.T) {
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Grace Hopper", VoterID: "V005"}, pattern(t, 1, 0))
		require.NoError(t, err)
	})

	t.Run("deactivated persons do not block", func(t *testing.T) {
		require.NoError(t, f.identity.Deactivate(ctx, "admin", id))
		_, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Ada Lovelace", VoterID: "V006"}, pattern(t, 0, 1))
		require.NoError(t, err)
	})

	events, err := f.audit.List(ctx, 0, 100)
	require.NoError(t, err)
	var rejected int
	for _, e := range events {
		if e.Action == ActionDuplicateEnroll {
			rejected++
		}
	}
	assert.Equal(t, 2, rejected)
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)

	id, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Ada Lovelace", VoterID: "V001"}, pattern(t, 2, 0))
	require.NoError(t, err)
	_, err = f.identity.Enroll(ctx, "admin", &models.Person{Name: "No Iris", VoterID: "V002"}, nil)
	require.NoError(t, err)

	match, err := f.identity.CheckDuplicate(ctx, pattern(t, 2, 3))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, id, *match)

	match, err = f.identity.CheckDuplicate(ctx, pattern(t, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, match)

	_, err = f.identity.CheckDuplicate(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestUpdateIrisTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)

	a, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Ada Lovelace", VoterID: "V001"}, pattern(t, 0, 0))
	require.NoError(t, err)
	b, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Grace Hopper", VoterID: "V002"}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.identity.UpdateIrisTemplate(ctx, "admin", b, pattern(t, 0, 1)), ErrDuplicateBiometric)

	// a person may re-enroll a template close to their own
	require.NoError(t, f.identity.UpdateIrisTemplate(ctx, "admin", a, pattern(t, 0, 1)))
	require.NoError(t, f.identity.UpdateIrisTemplate(ctx, "admin", b, pattern(t, 1, 0)))

	tpl, err := f.identity.IrisTemplate(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, pattern(t, 1, 0), tpl)

	assert.ErrorIs(t, f.identity.UpdateIrisTemplate(ctx, "admin", 999, pattern(t, 2, 0)), ErrPersonNotFound)
}

func TestPersonLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lockoutConfig)

	id, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Ada Lovelace", VoterID: "V001"}, nil)
	require.NoError(t, err)
	other, err := f.identity.Enroll(ctx, "admin", &models.Person{Name: "Grace Hopper", VoterID: "V002"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.identity.UpdatePerson(ctx, "admin", &models.Person{ID: id, Name: "Ada King", VoterID: "V001", Phone: "+44 20 0000"}))
	p, err := f.identity.GetPerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada King", p.Name)

	assert.ErrorIs(t, f.identity.UpdatePerson(ctx, "admin", &models.Person{ID: other, Name: "Grace Hopper", VoterID: "V001"}), ErrDuplicateVoterID)
	assert.ErrorIs(t, f.identity.UpdatePerson(ctx, "admin", &models.Person{ID: 404, Name: "Nobody Here", VoterID: "V404"}), ErrPersonNotFound)

	_, err = f.identity.RecordAccess(ctx, id, "iris", 0.91, models.AccessGranted)
	require.NoError(t, err)
	_, err = f.identity.RecordAccess(ctx, id, "iris", 0.12, models.AccessDenied)
	require.NoError(t, err)
	_, err = f.identity.RecordAccess(ctx, 404, "iris", 0.5, models.AccessGranted)
	assert.ErrorIs(t, err, ErrPersonNotFound)

	logs, err := f.identity.ListAccessLogs(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	p, err = f.identity.GetPerson(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.LastAccess)

	require.NoError(t, f.identity.AdmitPerson(ctx, id))
	require.NoError(t, f.identity.Deactivate(ctx, "admin", id))
	assert.ErrorIs(t, f.identity.AdmitPerson(ctx, id), ErrPersonInactive)
	assert.ErrorIs(t, f.identity.AdmitPerson(ctx, 404), ErrPersonNotFound)

	require.NoError(t, f.identity.DeletePersonPermanently(ctx, "admin", id))
	_, err = f.identity.GetPerson(ctx, id)
	assert.ErrorIs(t, err, ErrPersonNotFound)
	assert.ErrorIs(t, f.identity.DeletePersonPermanently(ctx, "admin", id), ErrPersonNotFound)

	logs, err = f.identity.ListAccessLogs(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
