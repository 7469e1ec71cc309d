package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinPBKDF2Iterations is the floor enforced on the password KDF work factor.
const MinPBKDF2Iterations = 200000

type Config struct {
	Store     string
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	KDF       KDFConfig
	Lockout   LockoutConfig
	TOTP      TOTPConfig
	Match     MatchConfig
	Biometric BiometricConfig
	Camera    CameraConfig
	Model     ModelConfig
	Vault     VaultConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Password  string
	DB        int
	StatusTTL time.Duration
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	SecretKey string
	Expiry    time.Duration
}

type KDFConfig struct {
	PBKDF2Iterations int
}

type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

type TOTPConfig struct {
	Issuer      string
	Required    bool
	ReplayGuard bool
}

// MatchProfile is the tuning of one recognition mode.
type MatchProfile struct {
	ConfidenceThreshold float64
	RequiredMatches     int
	Timeout             time.Duration
}

type MatchConfig struct {
	Identify      MatchProfile
	Verify        MatchProfile
	MaxMismatches int
	FrameInterval time.Duration
}

type BiometricConfig struct {
	CropSize               int
	DuplicateThreshold     float64
	TemplateMatchThreshold float64
}

type CameraConfig struct {
	DeviceID       int
	EyeCascadePath string
}

type ModelConfig struct {
	Path         string
	ManifestPath string
}

type VaultConfig struct {
	MasterKey string
	Salt      string
}

var bindings = map[string]string{
	"store":                         "STORE_BACKEND",
	"server.host":                   "SERVER_HOST",
	"server.port":                   "PORT",
	"server.allowed_origins":        "SERVER_ALLOWED_ORIGINS",
	"log.level":                     "LOG_LEVEL",
	"log.pretty":                    "LOG_PRETTY",
	"database.host":                 "DATABASE_HOST",
	"database.port":                 "DATABASE_PORT",
	"database.user":                 "DATABASE_USER",
	"database.password":             "DATABASE_PASSWORD",
	"database.name":                 "DATABASE_NAME",
	"database.ssl_mode":             "DATABASE_SSL_MODE",
	"database.migrate":              "DATABASE_MIGRATE",
	"redis.enabled":                 "REDIS_ENABLED",
	"redis.host":                    "REDIS_HOST",
	"redis.port":                    "REDIS_PORT",
	"redis.password":                "REDIS_PASSWORD",
	"redis.db":                      "REDIS_DB",
	"jwt.secret_key":                "JWT_SECRET_KEY",
	"jwt.expiry":                    "JWT_EXPIRY",
	"kdf.pbkdf2_iterations":         "KDF_PBKDF2_ITERATIONS",
	"lockout.max_attempts":          "LOCKOUT_MAX_ATTEMPTS",
	"lockout.duration":              "LOCKOUT_DURATION",
	"totp.issuer":                   "TOTP_ISSUER",
	"totp.required":                 "TOTP_REQUIRED",
	"totp.replay_guard":             "TOTP_REPLAY_GUARD",
	"match.identify.threshold":      "MATCH_IDENTIFY_THRESHOLD",
	"match.identify.required":       "MATCH_IDENTIFY_REQUIRED",
	"match.identify.timeout":        "MATCH_IDENTIFY_TIMEOUT",
	"match.verify.threshold":        "MATCH_VERIFY_THRESHOLD",
	"match.verify.required":         "MATCH_VERIFY_REQUIRED",
	"match.verify.timeout":          "MATCH_VERIFY_TIMEOUT",
	"match.max_mismatches":          "MATCH_MAX_MISMATCHES",
	"biometric.duplicate_threshold": "BIOMETRIC_DUPLICATE_THRESHOLD",
	"biometric.template_threshold":  "BIOMETRIC_TEMPLATE_THRESHOLD",
	"camera.device_id":              "CAMERA_DEVICE_ID",
	"camera.eye_cascade_path":       "CAMERA_EYE_CASCADE_PATH",
	"model.path":                    "MODEL_PATH",
	"model.manifest_path":           "MODEL_MANIFEST_PATH",
	"vault.master_key":              "VAULT_MASTER_KEY",
	"vault.salt":                    "VAULT_SALT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", "postgres")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "iris_ballot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.status_ttl", 10*time.Minute)

	v.SetDefault("jwt.expiry", 8*time.Hour)

	v.SetDefault("kdf.pbkdf2_iterations", 260000)

	v.SetDefault("lockout.max_attempts", 5)
	v.SetDefault("lockout.duration", 15*time.Minute)

	v.SetDefault("totp.issuer", "IrisBallot")
	v.SetDefault("totp.required", false)
	v.SetDefault("totp.replay_guard", true)

	v.SetDefault("match.identify.threshold", 0.75)
	v.SetDefault("match.identify.required", 3)
	v.SetDefault("match.identify.timeout", 20*time.Second)
	v.SetDefault("match.verify.threshold", 0.65)
	v.SetDefault("match.verify.required", 1)
	v.SetDefault("match.verify.timeout", 15*time.Second)
	v.SetDefault("match.max_mismatches", 0)
	v.SetDefault("match.frame_interval", 30*time.Millisecond)

	v.SetDefault("biometric.crop_size", 64)
	v.SetDefault("biometric.duplicate_threshold", 0.0015)
	v.SetDefault("biometric.template_threshold", 0.02)

	v.SetDefault("camera.device_id", 0)
	v.SetDefault("camera.eye_cascade_path", "")

	v.SetDefault("model.path", "models/iris.onnx")
	v.SetDefault("model.manifest_path", "models/iris.json")
}

// Load reads an optional dotenv file and the environment into a Config.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
		// dotenv keys arrive flat (database_host); fold them under their
		// dotted key as defaults so the process environment still wins.
		for key, env := range bindings {
			if flat := strings.ToLower(env); v.InConfig(flat) {
				v.SetDefault(key, v.Get(flat))
			}
		}
	}

	cfg := &Config{
		Store: strings.ToLower(v.GetString("store")),
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetString("server.port"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			AllowedOrigins: splitList(v.GetStringSlice("server.allowed_origins")),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			Migrate:         v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetString("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			StatusTTL: v.GetDuration("redis.status_ttl"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
			Expiry:    v.GetDuration("jwt.expiry"),
		},
		KDF: KDFConfig{
			PBKDF2Iterations: v.GetInt("kdf.pbkdf2_iterations"),
		},
		Lockout: LockoutConfig{
			MaxAttempts: v.GetInt("lockout.max_attempts"),
			Duration:    v.GetDuration("lockout.duration"),
		},
		TOTP: TOTPConfig{
			Issuer:      v.GetString("totp.issuer"),
			Required:    v.GetBool("totp.required"),
			ReplayGuard: v.GetBool("totp.replay_guard"),
		},
		Match: MatchConfig{
			Identify: MatchProfile{
				ConfidenceThreshold: v.GetFloat64("match.identify.threshold"),
				RequiredMatches:     v.GetInt("match.identify.required"),
				Timeout:             v.GetDuration("match.identify.timeout"),
			},
			Verify: MatchProfile{
				ConfidenceThreshold: v.GetFloat64("match.verify.threshold"),
				RequiredMatches:     v.GetInt("match.verify.required"),
				Timeout:             v.GetDuration("match.verify.timeout"),
			},
			MaxMismatches: v.GetInt("match.max_mismatches"),
			FrameInterval: v.GetDuration("match.frame_interval"),
		},
		Biometric: BiometricConfig{
			CropSize:               v.GetInt("biometric.crop_size"),
			DuplicateThreshold:     v.GetFloat64("biometric.duplicate_threshold"),
			TemplateMatchThreshold: v.GetFloat64("biometric.template_threshold"),
		},
		Camera: CameraConfig{
			DeviceID:       v.GetInt("camera.device_id"),
			EyeCascadePath: v.GetString("camera.eye_cascade_path"),
		},
		Model: ModelConfig{
			Path:         v.GetString("model.path"),
			ManifestPath: v.GetString("model.manifest_path"),
		},
		Vault: VaultConfig{
			MasterKey: v.GetString("vault.master_key"),
			Salt:      v.GetString("vault.salt"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would weaken the security or matching floor.
func (c *Config) Validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.KDF.PBKDF2Iterations < MinPBKDF2Iterations {
		return fmt.Errorf("kdf.pbkdf2_iterations must be at least %d, got %d", MinPBKDF2Iterations, c.KDF.PBKDF2Iterations)
	}
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("lockout.max_attempts must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("lockout.duration must be positive")
	}
	for name, p := range map[string]MatchProfile{"identify": c.Match.Identify, "verify": c.Match.Verify} {
		if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
			return fmt.Errorf("match.%s.threshold must be in (0,1], got %v", name, p.ConfidenceThreshold)
		}
		if p.RequiredMatches < 1 {
			return fmt.Errorf("match.%s.required must be at least 1", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("match.%s.timeout must be positive", name)
		}
	}
	if c.Match.MaxMismatches < 0 {
		return errors.New("match.max_mismatches must not be negative")
	}
	if c.Biometric.CropSize < 8 {
		return fmt.Errorf("biometric.crop_size too small: %d", c.Biometric.CropSize)
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
