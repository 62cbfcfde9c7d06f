package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"pixvault/internal/asset"
	"pixvault/internal/config"
	"pixvault/internal/core"
	"pixvault/internal/records"
	"pixvault/internal/storage"
)

const defaultS3Endpoint = "s3.amazonaws.com"

// splitEndpoint accepts either a bare host[:port] or a URL and returns the
// host and whether TLS should be used.
func splitEndpoint(raw string, secure bool) (string, bool, error) {
	if raw == "" {
		return defaultS3Endpoint, true, nil
	}
	if !strings.Contains(raw, "://") {
		return raw, secure, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid S3 endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("invalid S3 endpoint scheme %q", u.Scheme)
	}
}

func openBlobStore(ctx context.Context, cfg config.Blobs) (asset.BlobStore, error) {
	switch cfg.Driver {
	case config.BlobDriverS3:
		endpoint, secure, err := splitEndpoint(cfg.Endpoint, cfg.Secure)
		if err != nil {
			return nil, err
		}

		client, err := storage.NewMinioClient(storage.MinioOptions{
			Endpoint:  endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    secure,
			PathStyle: cfg.PathStyle,
		})
		if err != nil {
			return nil, err
		}

		blobs := storage.NewMinioStorage(client, cfg.Bucket)
		if cfg.CreateBucket {
			if err := blobs.EnsureBucket(ctx, cfg.Region); err != nil {
				return nil, err
			}
		}
		slog.Info("Using S3 blob store", "endpoint", endpoint, "bucket", cfg.Bucket)
		return blobs, nil

	case config.BlobDriverLocal:
		slog.Info("Using local blob store", "directory", cfg.Directory)
		return storage.NewLocalFileStorage(cfg.Directory), nil

	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// openRecordStore returns the record store and a function releasing it.
func openRecordStore(ctx context.Context, cfg config.Records) (asset.RecordStore, func() error, error) {
	switch cfg.Driver {
	case config.RecordDriverSQLite:
		store, err := records.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using SQLite record store", "path", cfg.Path)
		return store, store.Close, nil

	case config.RecordDriverMemory:
		store, err := records.NewMemoryStore()
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("Using in-memory record store; records are lost on exit")
		return store, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown record driver %q", cfg.Driver)
	}
}

func Run(ctx context.Context) error {

	configPath := flag.String("config", "", "path to a YAML config file")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn or error (overrides config)")
	httpsListen := flag.String("https-listen", ":8443", "HTTPS listen address")
	certFile := flag.String("tls-cert", "", "TLS certificate file; HTTPS is disabled without one")
	keyFile := flag.String("tls-key", "", "TLS key file")
	useEC2 := flag.Bool("ec2-metadata", false, "report placement from the EC2 instance metadata service")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	blobs, err := openBlobStore(ctx, cfg.Blobs)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	recs, closeRecords, err := openRecordStore(ctx, cfg.Records)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}

	defer closeRecords()

	var instance core.InstanceInfo = core.StaticInstanceInfo{Region: cfg.Blobs.Region}
	if *useEC2 {
		ec2, err := core.NewEC2InstanceInfo("")
		if err != nil {
			return fmt.Errorf("failed to create instance metadata client: %w", err)
		}
		instance = ec2
	}

	coordinator := asset.NewCoordinator(blobs, recs, asset.WithLogger(slog.Default()))

	server := core.NewServer(coordinator, core.NewConfig(
		core.WithMaxUploadBytes(cfg.MaxUploadBytes),
		core.WithPageSize(cfg.PageSize),
		core.WithRegion(cfg.Blobs.Region),
		core.WithInstanceInfo(instance),
	))

	router := server.Handler()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              *httpsListen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpsServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		if *certFile == "" || *keyFile == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting pixvault HTTPS server", "addr", *httpsListen)
		err := httpsServer.ListenAndServeTLS(*certFile, *keyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting pixvault HTTP server", "addr", cfg.Listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("pixvault started")
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("pixvault exited with error", "error", err)
		os.Exit(1)
	}
}
