// Command demo wires the engine against a real sqlite/postgres store and a
// real Redis session backend and drives a handful of steps end to end: a
// standalone debug program exercised directly against running
// infrastructure rather than through a transport layer, since the engine
// itself is transport-agnostic.
package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nocturneauth/authengine/internal/cleanup"
	"github.com/nocturneauth/authengine/internal/config"
	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/logger"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/anonymous"
	"github.com/nocturneauth/authengine/internal/plugins/apikey"
	"github.com/nocturneauth/authengine/internal/plugins/core"
	"github.com/nocturneauth/authengine/internal/plugins/emailpassword"
	"github.com/nocturneauth/authengine/internal/plugins/passwordless"
	"github.com/nocturneauth/authengine/internal/security"
	"github.com/nocturneauth/authengine/internal/session"
	"github.com/nocturneauth/authengine/internal/store/postgres"
	"github.com/nocturneauth/authengine/internal/store/sqlite"
	"github.com/nocturneauth/authengine/internal/token"
)

func buildEngine(cfg *config.Config, lg zerolog.Logger) (*engine.Engine, func(), error) {
	db, err := config.NewDB(cfg.DBDriver, cfg.DBAddr, cfg.DBDebug)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	if err := config.Migrate(db, cfg.DBDriver); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	dao := postgres.New(db)
	if cfg.DBDriver == "sqlite" {
		dao = sqlite.New(db)
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	sessions := session.NewService(session.NewRedisStore(rdb), 24*time.Hour)

	keyring, err := token.NewKeyring(cfg.KeyGracePeriod)
	if err != nil {
		return nil, nil, fmt.Errorf("new keyring: %w", err)
	}
	jwtCodec := token.NewJWTCodec(keyring, cfg.JWTIssuer)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.RabbitURL != "" {
		rmq, err := notify.NewRabbitMQNotifier(cfg.RabbitURL, lg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		notifier = rmq
	}

	scheduler := cleanup.New(dao, lg)

	e, err := engine.New(engine.Options{
		Env:      engine.Environment(cfg.Env),
		DB:       dao,
		Hasher:   security.NewHasher(security.DefaultParams()),
		Breach:   security.NewHIBPChecker(),
		JWT:      jwtCodec,
		Sessions: sessions,
		Cleanup:  scheduler,
		Log:      lg,
	},
		emailpassword.New(emailpassword.Config{
			VerificationCodeTTL:      time.Hour,
			PasswordResetCodeTTL:     time.Hour,
			RequireEmailVerification: false,
		}, notifier),
		passwordless.New(passwordless.Config{
			MagicLinkTTL: 15 * time.Minute,
			CodeTTL:      10 * time.Minute,
			MaxAttempts:  5,
		}, notifier),
		apikey.New(apikey.Config{
			AllowedScopes:  []string{"read", "write", "admin"},
			MaxKeysPerUser: 10,
			KeyPrefix:      "ak_",
		}),
		anonymous.New(anonymous.Config{
			SessionTTL:               24 * time.Hour,
			MaxGuestsPerFingerprint:  5,
			MaxSessionExtensions:     3,
			AllowedConversionPlugins: []string{"emailpassword"},
			ConversionTargets: map[string]anonymous.ConversionTarget{
				"emailpassword": {Step: "register"},
			},
		}),
		core.New(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}

	scheduler.Start()
	cleanupFn := func() {
		scheduler.Stop()
		_ = rdb.Close()
		_ = db.Close()
	}
	return e, cleanupFn, nil
}

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("config load failed")
	}

	e, cleanupFn, err := buildEngine(cfg, logger.Logger)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("engine bootstrap failed")
	}
	defer cleanupFn()

	ctx := context.Background()
	email := fmt.Sprintf("demo-%d@example.com", time.Now().UnixNano())

	register := e.ExecuteStep(ctx, "emailpassword", "register", engine.Input{
		"email": email, "password": "correct-horse-battery-staple",
	})
	logger.Logger.Info().Interface("result", register).Msg("register")

	login := e.ExecuteStep(ctx, "emailpassword", "login", engine.Input{
		"email": email, "password": "correct-horse-battery-staple",
	})
	logger.Logger.Info().Interface("result", login).Msg("login")

	if login.Success {
		key := e.ExecuteStep(ctx, "apikey", "create-api-key", engine.Input{
			"token": login.Token, "name": "demo-key", "scopes": []string{"read"},
		})
		logger.Logger.Info().Interface("result", key).Msg("create-api-key")
	}

	guest := e.ExecuteStep(ctx, "anonymous", "create-guest", engine.Input{"user_agent": "demo-cli"})
	logger.Logger.Info().Interface("result", guest).Msg("create-guest")
}
