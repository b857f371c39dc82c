package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"ediportal.org/internal/auth"
	"ediportal.org/internal/blob"
	"ediportal.org/internal/config"
	"ediportal.org/internal/httpapi"
	"ediportal.org/internal/janitor"
	"ediportal.org/internal/mail"
	"ediportal.org/internal/migrate"
	"ediportal.org/internal/obs"
	"ediportal.org/internal/portal"
	"ediportal.org/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to $EDIPORTAL_CONFIG)")
	runMigrations := flag.Bool("migrate", false, "Apply database migrations before serving")
	flag.Parse()

	if err := run(*configPath, *runMigrations); err != nil {
		obs.Logger().WithError(err).Fatal("ediportal-api stopped")
	}
}

func run(configPath string, runMigrations bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	obs.ConfigureLogger(cfg.LogLevel, os.Stdout)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.WithError(err).Warn("close failed")
			}
		}
	}()

	var db *sql.DB
	if cfg.Store.PostgresDSN != "" {
		db, err = store.OpenDB(cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		closers = append(closers, db.Close)
		if runMigrations {
			if err := migrate.Up(ctx, db); err != nil {
				return err
			}
		}
	}

	backend, err := openBackend(ctx, cfg, db)
	if err != nil {
		return err
	}
	if cfg.Store.Kind == config.StoreRedis {
		closers = append(closers, backend.Close)
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	mailer, err := openMailer(cfg)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret,
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithAccessTTL(cfg.JWT.AccessTTL),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL),
	)
	if err != nil {
		return err
	}
	var credentials auth.Store = auth.NewMemoryStore()
	if db != nil {
		credentials = auth.NewPGStore(db)
	}
	authSvc, err := auth.NewService(credentials, tokens,
		auth.WithMailer(mailer),
		auth.WithAppURL(cfg.AppURL),
		auth.WithResetTTL(cfg.ResetTTL),
	)
	if err != nil {
		return err
	}

	portalSvc, err := portal.NewService(backend, blobs)
	if err != nil {
		return err
	}
	if err := portalSvc.LoadDocuments(ctx); err != nil {
		return err
	}
	if cfg.SeedDemo {
		if err := portalSvc.SeedDemo(ctx); err != nil {
			return err
		}
	}

	jan, err := janitor.New(authSvc, cfg.Janitor.Schedule)
	if err != nil {
		return err
	}
	jan.Start()

	ready := httpapi.ReadyProbe{Checks: []httpapi.Pinger{backend}}
	if db != nil && cfg.Store.Kind != config.StorePostgres {
		ready.Checks = append(ready.Checks, store.NewPostgres(db))
	}
	api, err := httpapi.New(httpapi.Options{
		Auth:           authSvc,
		Portal:         portalSvc,
		Ready:          ready,
		Version:        version,
		RequireAuth:    cfg.RequireAuth,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"version": version,
		"addr":    srv.Addr,
		"store":   cfg.Store.Kind,
		"blob":    cfg.Blob.Kind,
	}).Info("starting ediportal-api")

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = httpapi.NewGRPCServer(ready)
		log.WithField("addr", cfg.GRPCAddr).Info("grpc health listening")
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-stop:
	}
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := jan.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("janitor shutdown")
	}
	log.Info("stopped")
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, db *sql.DB) (store.Backend, error) {
	switch cfg.Store.Kind {
	case config.StorePostgres:
		return store.NewPostgres(db), nil
	case config.StoreRedis:
		return store.NewRedis(ctx, cfg.Store.RedisURL)
	default:
		return store.NewMemory(), nil
	}
}

func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.Blob.Kind != config.BlobS3 {
		return blob.NewMemory(), nil
	}
	return blob.NewS3(ctx, blob.S3Config{
		Bucket:    cfg.Blob.Bucket,
		Region:    cfg.Blob.Region,
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
	})
}

func openMailer(cfg config.Config) (auth.Mailer, error) {
	if cfg.SMTP.Host == "" {
		return mail.Log{}, nil
	}
	return mail.NewSMTP(mail.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		SSL:      cfg.SMTP.SSL,
	})
}
