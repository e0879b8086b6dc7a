package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phucdat/portal/backend/internal/config"
	"github.com/phucdat/portal/backend/internal/handler"
	"github.com/phucdat/portal/backend/internal/logging"
	"github.com/phucdat/portal/backend/internal/middleware"
	"github.com/phucdat/portal/backend/internal/model/account"
	"github.com/phucdat/portal/backend/internal/model/invoice"
	"github.com/phucdat/portal/backend/internal/service/accounting"
	"github.com/phucdat/portal/backend/internal/service/ai"
	"github.com/phucdat/portal/backend/internal/service/auth"
	"github.com/phucdat/portal/backend/internal/service/authprovider"
	"github.com/phucdat/portal/backend/internal/service/chat"
	"github.com/phucdat/portal/backend/internal/storage/cache"
	"github.com/phucdat/portal/backend/internal/storage/postgres"
)

const businessTimezone = "Asia/Ho_Chi_Minh"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build logger")
	}
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	loc, err := time.LoadLocation(businessTimezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load business timezone")
	}

	store, closeCache := openCache(ctx, cfg.Redis, logger)
	defer closeCache()

	invoices, closeDB := openInvoiceStore(ctx, cfg.Database, logger)
	defer closeDB()

	authSvc := newAuthService(cfg.Auth, store, logger)
	chatSvc := newChatService(ctx, cfg, store, logger)
	accountingSvc := accounting.NewService(invoices, loc, logging.Component(logger, "accounting"))

	scheduler := cron.New(cron.WithLocation(loc))
	if _, err := accountingSvc.ScheduleOverdue(scheduler, cfg.Jobs.OverdueSchedule); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Jobs.OverdueSchedule).Msg("invalid overdue schedule")
	}
	scheduler.Start()

	limiter := middleware.NewRateLimiter(cfg.Auth.LoginRatePerMinute, 0)
	go limiter.Run(ctx, time.Minute)

	proxies, err := middleware.ParseTrustedOrigins(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid trusted proxies")
	}

	// Requests run on their own base context so a signal lets them drain.
	// Streams end when Shutdown starts, anything left when it returns.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	streamsCtx, closeStreams := context.WithCancel(baseCtx)
	defer closeStreams()

	deps := handler.Deps{
		Logger:         logger,
		Auth:           authSvc,
		Chat:           chatSvc,
		Accounting:     accountingSvc,
		LoginLimiter:   limiter,
		RealIP:         &middleware.RealIPConfig{TrustedOrigins: proxies, TrustedHeaders: cfg.Server.RealIPHeaders},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Shutdown:       streamsCtx,
		Checks: map[string]handler.HealthCheck{
			"cache":    store.Ping,
			"database": accountingSvc.Ping,
		},
	}
	if cfg.Server.StaticDir != "" {
		deps.Static = os.DirFS(cfg.Server.StaticDir)
		logger.Info().Str("dir", cfg.Server.StaticDir).Msg("serving pages")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// Shutdown does not track hijacked websockets or wait for streams to
	// finish on their own.
	srv.RegisterOnShutdown(closeStreams)

	logger.Info().Str("addr", srv.Addr).Msg("portal backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	cancelBase()

	<-scheduler.Stop().Done()
	logger.Info().Msg("shutdown complete")
}

func openCache(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (cache.Store, func()) {
	if !cfg.Enabled() {
		mem := cache.NewMemory()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mem.Sweep()
				}
			}
		}()
		logger.Info().Msg("using in-memory cache")
		return mem, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis not reachable yet")
	}
	logger.Info().Str("addr", cfg.Addr).Msg("using redis cache")

	return cache.NewRedis(client, "portal:"), func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis")
		}
	}
}

func openInvoiceStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (invoice.Store, func()) {
	if !cfg.Enabled() {
		logger.Warn().Msg("DATABASE_URL not set, invoices are kept in memory")
		return invoice.NewMemoryStore(), func() {}
	}

	if cfg.AutoMigrate {
		version, err := postgres.Migrate(cfg.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
		logger.Info().Uint("version", version).Msg("database schema up to date")
	}

	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	return postgres.NewInvoiceStore(db), func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}
}

func newAuthService(cfg config.AuthConfig, store cache.Store, logger zerolog.Logger) *auth.Service {
	logger = logging.Component(logger, "auth")

	var provider auth.Provider
	if cfg.ProviderEnabled() {
		client, err := authprovider.New(authprovider.Config{BaseURL: cfg.ProviderURL, AnonKey: cfg.AnonKey})
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid auth provider configuration")
		}
		provider = client
		logger.Info().Str("url", cfg.ProviderURL).Msg("auth provider enabled")
	}

	var users []account.User
	if cfg.UsersFile != "" {
		loaded, err := account.LoadFile(cfg.UsersFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", cfg.UsersFile).Msg("failed to load user directory")
		}
		users = loaded
		logger.Info().Int("users", len(users)).Msg("user directory loaded")
	}
	if provider == nil && len(users) == 0 {
		logger.Warn().Msg("no auth provider and no USERS_FILE: nobody can log in")
	}

	svc, err := auth.NewService(provider, account.NewMemoryStore(users), store, auth.Options{
		AdminEmails:   cfg.AdminEmails,
		SessionSecret: cfg.SessionSecret,
		SessionTTL:    cfg.SessionTTL,
		CacheTTL:      time.Minute,
		CookieSecure:  cfg.CookieSecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build auth service")
	}
	return svc
}

func newChatService(ctx context.Context, cfg *config.Config, store cache.Store, logger zerolog.Logger) *chat.Service {
	logger = logging.Component(logger, "chat")

	client, err := chat.NewClient(chat.ClientConfig{
		BaseURL: cfg.Chat.BaseURL,
		APIKey:  cfg.Chat.APIKey,
		Timeout: cfg.Chat.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid chat backend configuration")
	}

	opts := chat.Options{CacheTTL: cfg.Chat.CacheTTL, PollInterval: cfg.Chat.PollInterval}
	if cfg.AI.Enabled() {
		summarizer, err := ai.NewSummarizer(ctx, cfg.AI, logging.Component(logger, "ai"))
		if err != nil {
			logger.Warn().Err(err).Msg("conversation summaries disabled")
		} else {
			opts.Summarizer = summarizer
			logger.Info().Str("model", cfg.AI.Model).Msg("conversation summaries enabled")
		}
	}

	return chat.NewService(client, store, opts, logger)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
