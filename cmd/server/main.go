package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/irisballot/backend/docs"
	"github.com/irisballot/backend/internal/camera"
	"github.com/irisballot/backend/internal/classify"
	"github.com/irisballot/backend/internal/classify/onnx"
	"github.com/irisballot/backend/internal/config"
	"github.com/irisballot/backend/internal/database"
	"github.com/irisballot/backend/internal/handlers"
	"github.com/irisballot/backend/internal/iris"
	"github.com/irisballot/backend/internal/logger"
	"github.com/irisballot/backend/internal/matcher"
	"github.com/irisballot/backend/internal/metrics"
	mw "github.com/irisballot/backend/internal/middleware"
	"github.com/irisballot/backend/internal/services"
	"github.com/irisballot/backend/internal/store"
	"github.com/irisballot/backend/internal/store/memory"
	"github.com/irisballot/backend/internal/store/postgres"
	"github.com/irisballot/backend/internal/vault"
)

// @title Iris Ballot Kiosk API
// @version 1.0
// @description Local shell API for iris-verified voting kiosks
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	envFile := flag.String("config", ".env", "dotenv file, empty to skip")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := database.InitRedis(ctx, cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
	}

	v, err := vault.New(vault.Config{MasterKey: cfg.Vault.MasterKey, Salt: cfg.Vault.Salt})
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	hasher, err := services.NewPasswordHasher(cfg.KDF.PBKDF2Iterations)
	if err != nil {
		return err
	}

	var replay services.ReplayGuard = services.NewMemoryReplayGuard()
	var revocation mw.Revocation = mw.NewMemoryRevocation()
	if rdb != nil {
		if cfg.TOTP.ReplayGuard {
			replay = services.NewRedisReplayGuard(rdb)
		}
		revocation = mw.NewRedisRevocation(rdb)
	}

	audit := services.NewAuditService(st, log, m)
	creds := services.NewCredentialService(st, hasher, v, replay, audit, m, log, services.CredentialConfig{
		MaxAttempts:     cfg.Lockout.MaxAttempts,
		LockoutDuration: cfg.Lockout.Duration,
		TOTPIssuer:      cfg.TOTP.Issuer,
		RequireTOTP:     cfg.TOTP.Required,
	})
	identity := services.NewIdentityService(st, v, audit, m, log, services.IdentityConfig{
		DuplicateThreshold: cfg.Biometric.DuplicateThreshold,
	})
	votes := services.NewVoteService(st, st, audit, m, log)

	sessions, closePipeline, err := newManager(cfg, identity, rdb, m, log)
	if err != nil {
		return err
	}
	defer closePipeline()
	kiosk := services.NewKioskService(sessions, identity, votes, audit, log)

	tokens, err := mw.NewTokenIssuer(cfg.JWT.SecretKey, cfg.JWT.Expiry)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	docs.SwaggerInfo.Host = addr

	router := handlers.NewRouter(handlers.RouterConfig{
		Credentials:    creds,
		Identity:       identity,
		Audit:          audit,
		Kiosk:          kiosk,
		Tokens:         tokens,
		Auth:           mw.NewAuthenticator(tokens, revocation, st, log),
		Health:         st,
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SwaggerURL:     "http://" + addr + "/swagger/doc.json",
		Log:            log,
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("store", cfg.Store).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return sessions.Close()
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, func(), error) {
	if cfg.Store == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}

	db, err := database.InitDB(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return postgres.New(db), func() { db.Close() }, nil
}

// newManager builds the capture pipeline. A missing model leaves the
// classifier failing every frame, so only stored-template matches verify.
func newManager(cfg *config.Config, identity *services.IdentityService, rdb *redis.Client, m *metrics.Metrics, log zerolog.Logger) (*matcher.Manager, func(), error) {
	extractor, err := iris.NewExtractor(cfg.Biometric.CropSize, cfg.Camera.EyeCascadePath)
	if err != nil {
		return nil, nil, fmt.Errorf("iris extractor: %w", err)
	}

	var model classify.Model
	loaded, err := onnx.Load(cfg.Model.Path, cfg.Model.ManifestPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Model.Path).Msg("model unavailable, classification disabled")
	} else {
		model = loaded
		log.Info().Str("version", loaded.Version()).Msg("model loaded")
	}

	deviceID := strconv.Itoa(cfg.Camera.DeviceID)
	deps := matcher.Deps{
		OpenCamera: func(context.Context) (matcher.Camera, error) {
			dev, err := camera.Open(deviceID)
			if err != nil {
				return nil, err
			}
			return dev, nil
		},
		Extractor:  iris.FrameExtractor{Extractor: extractor},
		Classifier: classify.NewAdapter(model),
		Templates:  identity,
		Admission:  identity,
	}
	if rdb != nil {
		deps.Publisher = matcher.NewRedisPublisher(rdb, cfg.Redis.StatusTTL)
	}

	mcfg := matcher.DefaultConfig()
	mcfg.Identify = matcher.Profile(cfg.Match.Identify)
	mcfg.Verify = matcher.Profile(cfg.Match.Verify)
	mcfg.MaxMismatches = cfg.Match.MaxMismatches
	mcfg.TemplateMatchThreshold = cfg.Biometric.TemplateMatchThreshold
	if cfg.Match.FrameInterval > 0 {
		mcfg.FrameInterval = cfg.Match.FrameInterval
	}

	closeAll := func() {
		extractor.Close()
		if loaded != nil {
			loaded.Close()
		}
	}
	return matcher.NewManager(mcfg, deps, m, log), closeAll, nil
}
