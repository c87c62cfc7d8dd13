package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"movedit/backend/internal/auth"
	"movedit/backend/internal/cache"
	"movedit/backend/internal/config"
	"movedit/backend/internal/gateway"
	"movedit/backend/internal/gateway/httpclient"
	"movedit/backend/internal/gateway/memory"
	"movedit/backend/internal/gateway/postgres"
	"movedit/backend/internal/httpapi"
	"movedit/backend/internal/logging"
	"movedit/backend/internal/service"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	signer := auth.NewSigner(cfg.AuthSecret, 5*time.Minute)
	backend, closers, err := openGateway(ctx, cfg, signer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend unavailable")
	}

	searchCache := cache.SearchCache(cache.NoopSearchCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSearchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop cache")
		} else {
			searchCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Msg("cache: redis")
		}
	} else {
		logger.Info().Msg("cache: noop")
	}
	backend = gateway.NewCachedSearch(backend, searchCache, cfg.SearchCacheTTL(), "company-"+strconv.FormatInt(cfg.CompanyID, 10), logger)

	ws := service.New(backend, service.Options{
		DocumentID:  cfg.DocumentID,
		SearchDelay: cfg.SearchDebounce(),
		SearchLimit: cfg.SearchLimit,
		Timeout:     cfg.RequestTimeout(),
		Logger:      logger,
	})
	if err := ws.Load(ctx); err != nil {
		// The page still opens; the next refresh retries.
		logger.Warn().Err(err).Msg("initial document load failed")
	}

	api := httpapi.New(ws, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Signer:        signer,
		UserID:        cfg.UserID,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Int64("document_id", cfg.DocumentID).Msg("movement editor listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	ws.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// openGateway picks the backend: Postgres when DATABASE_URL is set, the REST
// backend when BACKEND_URL is set, the seeded in-memory one otherwise.
func openGateway(ctx context.Context, cfg config.Config, signer *auth.Signer, logger zerolog.Logger) (gateway.Gateway, []func() error, error) {
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Scope{
			CompanyID:  cfg.CompanyID,
			DocumentID: cfg.DocumentID,
			UserID:     cfg.UserID,
			Username:   cfg.Username,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info().Msg("backend: postgres")
		return pg, append(closers, pg.Close), nil

	case cfg.BackendURL != "":
		client, err := httpclient.New(httpclient.Options{
			BaseURL: cfg.BackendURL,
			Endpoints: httpclient.Endpoints{
				DocumentDetail: cfg.Expand(cfg.URLs.DocumentDetail),
				ItemList:       cfg.Expand(cfg.URLs.ItemList),
				MovementForm:   cfg.Expand(cfg.URLs.MovementForm),
				MovementDelete: cfg.Expand(cfg.URLs.MovementDelete),
				NoteCreate:     cfg.Expand(cfg.URLs.NoteCreate),
				NoteDelete:     cfg.Expand(cfg.URLs.NoteDelete),
			},
			CSRFToken: cfg.CSRFToken,
			Signer:    signer,
			Actor:     auth.Actor{UserID: cfg.UserID, CompanyID: cfg.CompanyID},
			Timeout:   cfg.RequestTimeout(),
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("url", cfg.BackendURL).Msg("backend: rest")
		return client, closers, nil

	default:
		userID := cfg.UserID
		if userID == 0 {
			userID = 1
		}
		logger.Info().Msg("backend: in-memory demo")
		return memory.NewSeeded(cfg.DocumentID, userID), closers, nil
	}
}

func validateConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DatabaseURL != "" && cfg.BackendURL != "" {
		return fmt.Errorf("set either DATABASE_URL or BACKEND_URL, not both")
	}
	if cfg.BackendURL != "" && cfg.CSRFToken == "" {
		return fmt.Errorf("CSRF_TOKEN must be set when BACKEND_URL is set")
	}
	if (cfg.DatabaseURL != "" || cfg.BackendURL != "") && cfg.UserID == 0 {
		return fmt.Errorf("USER_ID must be set when a backend is configured")
	}
	if cfg.AllowedOrigin == "*" && cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET must be set when ALLOWED_ORIGIN is *")
	}
	return nil
}
