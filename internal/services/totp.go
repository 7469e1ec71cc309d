package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"image/png"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPEnrollment is handed to the user once; only the sealed secret is kept.
type TOTPEnrollment struct {
	Secret    string `json:"secret"`
	URI       string `json:"uri"`
	QRCodePNG string `json:"qrCodePng"` // base64
}

// matchTOTP returns the time step the code belongs to, searching
// ±totpSkew steps around at.
func matchTOTP(code, secret string, at time.Time) (int64, bool) {
	if len(code) != int(otp.DigitsSix) {
		return 0, false
	}
	for offset := -totpSkew; offset <= totpSkew; offset++ {
		t := at.Add(time.Duration(offset*totpPeriod) * time.Second)
		want, err := totp.GenerateCodeCustom(secret, t, totpOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return t.Unix() / totpPeriod, true
		}
	}
	return 0, false
}

func newTOTPEnrollment(issuer, username string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: username,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("render totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, fmt.Errorf("encode totp qr: %w", err)
	}

	return &TOTPEnrollment{
		Secret:    key.Secret(),
		URI:       key.URL(),
		QRCodePNG: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// ReplayGuard remembers accepted (user, step) pairs so a code cannot be used
// twice inside its validity window.
type ReplayGuard interface {
	Claim(ctx context.Context, username string, step int64) (bool, error)
}

// replayTTL covers the skew window on both sides of an accepted step.
const replayTTL = (2*totpSkew + 1) * totpPeriod * time.Second

type RedisReplayGuard struct {
	redis *redis.Client
}

func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{redis: client}
}

func (g *RedisReplayGuard) Claim(ctx context.Context, username string, step int64) (bool, error) {
	key := fmt.Sprintf("totp:used:%s:%d", username, step)
	ok, err := g.redis.SetNX(ctx, key, "1", replayTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim totp step: %w", err)
	}
	return ok, nil
}

// MemoryReplayGuard is the single-process fallback when Redis is absent.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{used: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryReplayGuard) Claim(_ context.Context, username string, step int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.used {
		if now.After(exp) {
			delete(g.used, k)
		}
	}

	key := fmt.Sprintf("%s:%d", username, step)
	if _, seen := g.used[key]; seen {
		return false, nil
	}
	g.used[key] = now.Add(replayTTL)
	return true, nil
}
