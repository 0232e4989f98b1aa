package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backoffice/api/internal/app"
	"backoffice/api/internal/authpw"
	"backoffice/api/internal/blob"
	"backoffice/api/internal/config"
	"backoffice/api/internal/email"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/export"
	"backoffice/api/internal/metrics"
	"backoffice/api/internal/revisions"
	"backoffice/api/internal/search"
	"backoffice/api/internal/session"
	"backoffice/api/internal/store"
	"backoffice/api/internal/tracing"
)

const (
	shutdownTimeout  = 15 * time.Second
	limiterSweep     = time.Minute
	limiterIdleAfter = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		return serve(ctx, rt)
	},
}

func serve(ctx context.Context, rt *cliEnv) error {
	cfg, logger := rt.cfg, rt.logger

	if cfg.MigrateOnBoot {
		if err := store.ApplyMigrations(ctx, rt.db, logger); err != nil {
			return err
		}
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		Enabled:      cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	m := metrics.New()
	dataStore := store.NewPostgresStore(rt.db)

	var redisStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		logger.Info("refresh sessions in redis")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(rt.db), logger)
	if meili != nil {
		go func() {
			if err := searchService.ReindexAllFromPG(ctx); err != nil {
				logger.Warn("initial reindex failed", zap.Error(err))
			}
		}()
	}

	blobs, err := openBlobs(ctx, cfg, logger)
	if err != nil {
		return err
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}, logger, m)

	runner, err := newRunner(cfg, dataStore, mail, redisStore, logger, m, tracer)
	if err != nil {
		return err
	}

	deps := app.Deps{
		Store:      dataStore,
		Auth:       authpw.NewService(dataStore, logger),
		Email:      mail,
		Blobs:      blobs,
		Revisions:  revisions.New(cfg.RevisionsDir),
		Search:     searchService,
		Exporter:   export.NewService(dataStore, blobs, logger),
		Escalation: runner,
		Metrics:    m,
		Tracer:     tracer,
		Logger:     logger,
	}
	if redisStore != nil {
		deps.Sessions = redisStore
	}
	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	scheduler := escalation.NewScheduler(runner, cfg.Escalation.Interval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if limiter := httpServer.Limiter(); limiter != nil {
		go func() {
			ticker := time.NewTicker(limiterSweep)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					limiter.Cleanup(limiterIdleAfter)
				}
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	searchService.Wait()
	return nil
}

// openBlobs returns MinIO when configured. Development falls back to memory
// so uploads work without object storage; production refuses to start.
func openBlobs(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.BlobStore, error) {
	if cfg.StorageConfigured() {
		objects, err := blob.NewMinioStore(ctx, blob.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return objects, nil
	}
	if cfg.Env == "production" {
		return nil, errors.New("object storage is required in production")
	}
	logger.Warn("object storage not configured, keeping uploads in memory")
	return blob.NewMemoryStore(strings.TrimSuffix(cfg.APIBaseURL, "/") + "/files"), nil
}

func newRunner(cfg config.Config, s *store.PostgresStore, mail *email.Service, redisStore *session.RedisStore, logger *zap.Logger, m *metrics.Metrics, tracer *tracing.Provider) (*escalation.Runner, error) {
	base := escalation.DefaultPolicy(cfg.Escalation.ReminderAfter, cfg.Escalation.ManagementAfter, cfg.Escalation.FounderAfter)
	// Without a policy file this still validates the thresholds from config.
	policy, err := escalation.LoadPolicy(cfg.Escalation.PolicyFile, base)
	if err != nil {
		return nil, err
	}
	var locker escalation.Locker
	if redisStore != nil {
		locker = redisStore
	}
	return escalation.NewRunner(escalation.RunnerConfig{
		Policy:    policy,
		BatchSize: cfg.Escalation.BatchSize,
		LockTTL:   cfg.Escalation.LockTTL,
	}, s, app.NewEscalationNotifier(mail, cfg), locker, logger, m, tracer), nil
}
