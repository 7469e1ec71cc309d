package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irisballot/backend/internal/models"
	"github.com/irisballot/backend/internal/store"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
	ErrUnknownUser  = errors.New("token account no longer exists")
)

type ctxKey int

const claimsKey ctxKey = iota

// Claims is what a login token carries. Subject is the username.
type Claims struct {
	Role     models.Role `json:"role"`
	PersonID *int64      `json:"person_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Username() string {
	return c.Subject
}

type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, expiry time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if expiry <= 0 {
		expiry = 8 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// Issue signs an HS256 token for u and returns it with its expiry.
func (t *TokenIssuer) Issue(u *models.User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.expiry)
	claims := Claims{
		Role:     u.Role,
		PersonID: u.PersonID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" || !claims.Role.IsValid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revocation remembers logged-out token ids until they would have expired.
type Revocation interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type RedisRevocation struct {
	client *redis.Client
}

func NewRedisRevocation(client *redis.Client) *RedisRevocation {
	return &RedisRevocation{client: client}
}

func revocationKey(tokenID string) string {
	return "blacklist:" + tokenID
}

func (r *RedisRevocation) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

func (r *RedisRevocation) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type MemoryRevocation struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocation() *MemoryRevocation {
	return &MemoryRevocation{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocation) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, id)
		}
	}
	m.revoked[tokenID] = until
	return nil
}

func (m *MemoryRevocation) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[tokenID]
	return ok && m.now().Before(exp), nil
}

// UserLookup reads the current state of the account a token was issued to.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type Authenticator struct {
	tokens  *TokenIssuer
	revoked Revocation
	users   UserLookup
	log     zerolog.Logger
}

// NewAuthenticator builds the bearer token check. With users set, every
// request takes its role and person link from the account, not the token.
func NewAuthenticator(tokens *TokenIssuer, revoked Revocation, users UserLookup, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		tokens:  tokens,
		revoked: revoked,
		users:   users,
		log:     log.With().Str("component", "auth").Logger(),
	}
}

// Middleware rejects requests without a valid, unrevoked bearer token and
// stores the claims on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := a.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenRevoked) && !errors.Is(err, ErrUnknownUser) {
				a.log.Error().Err(err).Msg("token lookup failed")
				http.Error(w, "Authentication unavailable", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Verify parses token, checks it has not been revoked and refreshes role and
// person link from the account.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	if a.revoked != nil {
		revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	if a.users != nil {
		u, err := a.users.GetUserByUsername(ctx, claims.Username())
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		if err != nil {
			return nil, fmt.Errorf("load token account: %w", err)
		}
		claims.Role = u.Role
		claims.PersonID = u.PersonID
	}
	return claims, nil
}

func (a *Authenticator) Revoke(ctx context.Context, claims *Claims) error {
	if a.revoked == nil || claims.ExpiresAt == nil {
		return nil
	}
	return a.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// RequireRole lets through only callers whose token carries one of roles.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}
