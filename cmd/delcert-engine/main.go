package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certstack/delcert/internal/api"
	"github.com/certstack/delcert/internal/artifacts"
	"github.com/certstack/delcert/internal/cache"
	"github.com/certstack/delcert/internal/calibrate"
	"github.com/certstack/delcert/internal/certify"
	"github.com/certstack/delcert/internal/checkpoint"
	"github.com/certstack/delcert/internal/classifier"
	"github.com/certstack/delcert/internal/config"
	"github.com/certstack/delcert/internal/estimator"
	"github.com/certstack/delcert/internal/metrics"
	"github.com/certstack/delcert/internal/noise"
	"github.com/certstack/delcert/internal/services"
	"github.com/certstack/delcert/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting delcert-engine",
		slog.String("address", cfg.Server.Address),
		slog.Float64("deletion_prob", cfg.Noise.DeletionProb),
		slog.Int("repeats", cfg.Estimator.Repeats))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	cls, closeCls, err := buildClassifier(cfg, cacheProvider)
	if err != nil {
		logger.Error("failed to build classifier", slog.Any("error", err))
		os.Exit(1)
	}
	if closeCls != nil {
		defer closeCls()
	}

	sampler, err := noise.NewSampler(noise.Config{
		DeletionProb: cfg.Noise.DeletionProb,
		Policy:       noise.RegionPolicy(cfg.Noise.RegionPolicy),
	})
	if err != nil {
		logger.Error("invalid noise channel", slog.Any("error", err))
		os.Exit(1)
	}

	var checkpoints checkpoint.Store
	if cfg.Cache.Enabled {
		checkpoints = checkpoint.NewCacheStore(cacheProvider, cfg.Cache.ClaimTTL)
	}

	est, err := estimator.New(estimator.Config{
		Repeats:   cfg.Estimator.Repeats,
		BatchSize: cfg.Estimator.BatchSize,
		Workers:   cfg.Estimator.Workers,
		RunID:     cfg.Estimator.RunID,
		RunSeed:   cfg.Estimator.RunSeed,
	}, sampler, cls, checkpoints, logger)
	if err != nil {
		logger.Error("failed to build estimator", slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := certify.New(certify.Config{
		Threshold:    cfg.Certification.Threshold,
		Confidence:   cfg.Certification.Confidence,
		MinEffective: cfg.Certification.MinEffective,
		DeletionProb: cfg.Noise.DeletionProb,
		Workers:      cfg.Certification.Workers,
	}, logger)
	if err != nil {
		logger.Error("failed to build certification engine", slog.Any("error", err))
		os.Exit(1)
	}

	signingKey, err := loadSigningKey(cfg.Artifacts.SigningKeyPath)
	if err != nil {
		logger.Error("failed to load signing key", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := artifacts.NewStore(cfg.Artifacts.Dir, signingKey, logger)
	if err != nil {
		logger.Error("failed to open artifact store", slog.Any("error", err))
		os.Exit(1)
	}

	calibrator := calibrate.New(cfg.Classifier.ModelID, cfg.Noise.DeletionProb, logger)
	svc := services.NewCertifierService(logger, est, engine, calibrator, store, cfg.Estimator.Partitions)

	server, err := api.NewServer(cfg.Server, svc, logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("api server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("delcert-engine stopped")
}

func buildClassifier(cfg *config.Config, provider cache.Provider) (classifier.Classifier, func() error, error) {
	switch cfg.Classifier.Kind {
	case "onnx":
		cls, err := classifier.NewONNXClassifier(classifier.ONNXConfig{
			ModelPath: cfg.Classifier.ModelPath,
			SeqLen:    cfg.Classifier.SeqLen,
			PadToken:  int32(cfg.Classifier.PadToken),
		})
		if err != nil {
			return nil, nil, err
		}
		return cls, cls.Close, nil
	case "remote":
		cls := classifier.NewRemoteClassifier(
			cfg.Classifier.BaseURL,
			cfg.Classifier.ScorePath,
			cfg.Classifier.ModelID,
			cfg.Classifier.Timeout,
			provider,
			cfg.Classifier.CacheTTL,
		)
		return cls, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown classifier kind %q", cfg.Classifier.Kind)
	}
}

// loadSigningKey reads an Ed25519 key file: either a 32-byte seed or a
// 64-byte expanded private key. An empty path disables signing.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("signing key %s: %d bytes, want %d or %d", path, len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}
