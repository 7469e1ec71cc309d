package services

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irisballot/backend/internal/biometric"
	"github.com/irisballot/backend/internal/store/memory"
	"github.com/irisballot/backend/internal/vault"
)

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Append(ctx context.Context, actor, action, resource, details string) (int64, error) {
	args := m.Called(ctx, actor, action, resource, details)
	return args.Get(0).(int64), args.Error(1)
}

// testClock is a settable time source shared by the services under test.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(vault.Config{MasterKey: "test-master-key", Salt: "test-salt"})
	require.NoError(t, err)
	return v
}

// newFastHasher skips the production iteration floor to keep tests quick.
func newFastHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h := &PasswordHasher{iterations: 1000}
	dummy, err := h.Hash("dummy")
	require.NoError(t, err)
	h.dummy = dummy
	return h
}

type fixture struct {
	store    *memory.Store
	vault    *vault.Vault
	clock    *testClock
	audit    *AuditService
	creds    *CredentialService
	identity *IdentityService
	votes    *VoteService
}

func newFixture(t *testing.T, cfg CredentialConfig) *fixture {
	t.Helper()
	st := memory.New()
	v := newTestVault(t)
	clock := newTestClock()
	log := zerolog.Nop()

	audit := NewAuditService(st, log, nil)
	audit.now = clock.Now

	creds := NewCredentialService(st, newFastHasher(t), v, NewMemoryReplayGuard(), audit, nil, log, cfg)
	creds.now = clock.Now

	identity := NewIdentityService(st, v, audit, nil, log, IdentityConfig{})
	identity.now = clock.Now

	votes := NewVoteService(st, st, audit, nil, log)
	votes.now = clock.Now

	return &fixture{store: st, vault: v, clock: clock, audit: audit, creds: creds, identity: identity, votes: votes}
}

// pattern returns a 32x32 template. kind picks the structure, bias shifts
// every pixel so near-duplicates can be produced.
func pattern(t *testing.T, kind int, bias uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			var v int
			switch kind {
			case 0:
				v = x * 7
			case 1:
				v = y * 7
			default:
				v = ((x / 4) + (y / 4)) % 2 * 220
			}
			img.SetGray(x, y, grayOf(v+int(bias)))
		}
	}
	data, err := biometric.Encode(img)
	require.NoError(t, err)
	return data
}

func grayOf(v int) color.Gray {
	if v > 255 {
		v = 255
	}
	return color.Gray{Y: uint8(v)}
}
