package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tasklane/api/internal/app"
	"tasklane/api/internal/config"
	"tasklane/api/internal/docstore"
	"tasklane/api/internal/logutils"
	"tasklane/api/internal/media"
	"tasklane/api/internal/search"
	"tasklane/api/internal/session"
	"tasklane/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logutils.Log.WithError(err).Error("tasklane-api exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tasklane-api",
		Short:         "Tasklane workspace and task board API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context())
		},
	})
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := logutils.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := docstore.Open(ctx, cfg.DatabaseURL, docstore.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := docstore.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, version := range applied {
		logutils.Log.WithField("version", version).Info("applied migration")
	}
	return db, nil
}

func migrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to migrate")
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	return db.Close()
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var docs docstore.Store
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		docs = docstore.NewPostgres(db)
	} else {
		logutils.Log.Warn("DATABASE_URL is empty, using the in-memory document store")
		docs = store.NewMemoryDocs()
	}

	opts := app.Options{}
	if opts.Location, err = cfg.AnalyticsLocation(); err != nil {
		return err
	}

	if cfg.RedisURL != "" {
		logutils.Log.Info("using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		opts.Sessions = redisStore
	}

	var meiliClient *search.Meili
	if cfg.MeiliURL != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	opts.Search = search.NewService(meiliClient, search.NewStoreSearcher(docs))
	defer opts.Search.Close()

	if cfg.MinioEndpoint != "" {
		minioStore, err := media.NewMinioStore(ctx, media.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MediaPublicURL,
			MaxBytes:  cfg.MaxImageBytes,
		})
		if err != nil {
			return fmt.Errorf("minio setup failed: %w", err)
		}
		opts.Media = minioStore
	}

	service := app.New(cfg, store.NewRepository(docs), opts)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logutils.Log.WithField("addr", cfg.Addr).Info("Tasklane API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logutils.Log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logutils.Log.WithError(err).Warn("shutdown error")
	}
	return nil
}
