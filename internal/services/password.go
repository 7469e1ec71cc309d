package services

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultPBKDF2Iterations = 260000
	MinPBKDF2Iterations     = 200000
	MinPasswordLength       = 8

	pbkdf2Prefix = "pbkdf2_sha256"
	argon2Prefix = "argon2id"
	saltLength   = 16
	keyLength    = 32
)

// PasswordHasher produces self-describing pbkdf2_sha256 hashes:
// pbkdf2_sha256$<iterations>$<salt b64>$<hash b64>.
type PasswordHasher struct {
	iterations int
	dummy      string
}

func NewPasswordHasher(iterations int) (*PasswordHasher, error) {
	if iterations == 0 {
		iterations = DefaultPBKDF2Iterations
	}
	if iterations < MinPBKDF2Iterations {
		return nil, fmt.Errorf("pbkdf2 iterations %d below minimum %d", iterations, MinPBKDF2Iterations)
	}

	h := &PasswordHasher{iterations: iterations}
	dummy, err := h.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(plain), salt, h.iterations, keyLength, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", pbkdf2Prefix, h.iterations,
		base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(key)), nil
}

// BurnDummy spends the same work as a real verification. Used for unknown
// usernames so response time does not reveal which accounts exist.
func (h *PasswordHasher) BurnDummy(plain string) {
	VerifyPassword(plain, h.dummy)
}

// VerifyPassword dispatches on the algorithm prefix of stored. Unknown or
// malformed hashes never verify.
func VerifyPassword(plain, stored string) bool {
	switch {
	case strings.HasPrefix(stored, pbkdf2Prefix+"$"):
		return verifyPBKDF2(plain, stored)
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
	case strings.HasPrefix(stored, argon2Prefix+"$"):
		return verifyArgon2(plain, stored)
	}
	return false
}

func verifyPBKDF2(plain, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(plain), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// argon2id$<time>$<memory KiB>$<threads>$<salt b64>$<hash b64>
func verifyArgon2(plain, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 {
		return false
	}
	t, err1 := strconv.ParseUint(parts[1], 10, 32)
	m, err2 := strconv.ParseUint(parts[2], 10, 32)
	p, err3 := strconv.ParseUint(parts[3], 10, 8)
	if err1 != nil || err2 != nil || err3 != nil || t == 0 || p == 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := argon2.IDKey([]byte(plain), salt, uint32(t), uint32(m), uint8(p), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
