package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"

	brokerapi "go.pilab.hu/idfed/api/echo"
	"go.pilab.hu/idfed/cache"
	redisstore "go.pilab.hu/idfed/cache/redis"
	"go.pilab.hu/idfed/config"
	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/broker"
	"go.pilab.hu/idfed/internal/crypto"
	"go.pilab.hu/idfed/internal/federation"
	"go.pilab.hu/idfed/mongodb"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	initLogger(cfg)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("store_backend", cfg.StoreBackend).
		Str("mongo_db", cfg.MongoDBName).
		Msg("Starting identity federation broker")

	ctx := context.Background()

	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(shutdownCtx)
	}()

	idpRepo, err := mongodb.NewIdentityProviderRepositoryMongo(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize identity provider repository")
	}
	linkRepo, err := mongodb.NewIdentityLinkRepositoryMongo(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize identity link repository")
	}
	userRepo, err := mongodb.NewUserRepositoryMongo(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user repository")
	}

	sessionRepo, err := newSessionStore(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize broker session store")
	}

	tokenIssuer, err := crypto.NewTokenIssuer([]byte(cfg.JWTSecretKey), cfg.JWTIssuer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token issuer")
	}

	brokerSvc := broker.NewService(
		idpRepo,
		sessionRepo,
		linkRepo,
		userRepo,
		federation.NewOAuthClient(0),
		federation.NewDirectoryAdapter(),
		tokenIssuer,
		broker.Config{
			CallbackBaseURL: cfg.CallbackBaseURL,
			SessionTTL:      time.Duration(cfg.SessionTTLMin) * time.Minute,
			TokenTTL:        time.Duration(cfg.AccessTokenTTLMin) * time.Minute,
		},
	)
	defer brokerSvc.Stop()

	// Backends with TTL eviction make this a no-op; for the rest it keeps
	// the session collection from accumulating dead rows.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepSessions(sweepCtx, sessionRepo)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	brokerapi.NewBrokerAPI(brokerSvc).RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil {
			log.Info().Err(err).Msg("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Broker stopped")
}

func initLogger(cfg *config.BrokerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// newSessionStore selects the broker session backend. Memory suits a single
// dev instance, Redis and Mongo both give multi-instance deployments an
// atomic consume.
func newSessionStore(ctx context.Context, cfg *config.BrokerConfig, db *mongo.Database) (domain.AuthSessionRepository, error) {
	switch cfg.StoreBackend {
	case "memory":
		return cache.NewMemorySessionStore(), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return redisstore.NewSessionStore(client, cfg.RedisPrefix), nil
	default:
		return mongodb.NewAuthSessionRepositoryMongo(ctx, db)
	}
}

func sweepSessions(ctx context.Context, sessions domain.AuthSessionRepository) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.DeleteExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("Session sweep failed")
			}
		}
	}
}
