// Package main is the NDW generation gateway CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/category"
	"github.com/ndwlabs/ndw-gateway/internal/config"
	"github.com/ndwlabs/ndw-gateway/internal/generate"
	"github.com/ndwlabs/ndw-gateway/internal/metrics"
	"github.com/ndwlabs/ndw-gateway/internal/prefetch"
	"github.com/ndwlabs/ndw-gateway/internal/provider"
	"github.com/ndwlabs/ndw-gateway/internal/ratelimit"
	"github.com/ndwlabs/ndw-gateway/internal/review"
	"github.com/ndwlabs/ndw-gateway/internal/server"
	"github.com/ndwlabs/ndw-gateway/internal/sigstore"
	"github.com/ndwlabs/ndw-gateway/internal/topup"
	"github.com/ndwlabs/ndw-gateway/pkg/ndwutil"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ndw-gateway/config.yaml"

// loadConfig loads config from path. If path is the default and the file
// does not exist, it tries config.yaml in the current directory (development
// convenience).
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path == defaultConfigPath {
			if unwrap := errors.Unwrap(err); unwrap != nil && os.IsNotExist(unwrap) {
				if cwd, cwdErr := os.Getwd(); cwdErr == nil {
					fallback := filepath.Join(cwd, "config.yaml")
					if _, statErr := os.Stat(fallback); statErr == nil {
						return config.Load(fallback)
					}
				}
			}
		}
		return nil, err
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		runServe()
	case "prewarm":
		runPrewarm()
	case "version", "--version", "-v":
		fmt.Printf("ndw-gateway version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// sqliteSigAdapter drops SQLiteStore.Add's error return so a *SQLiteStore
// satisfies the Has/Add-only SignatureStore contract shared by generate and
// prefetch.
type sqliteSigAdapter struct{ store *sigstore.SQLiteStore }

func (a sqliteSigAdapter) Has(sig string) bool { return a.store.Has(sig) }
func (a sqliteSigAdapter) Add(sig string)      { _ = a.store.Add(sig) }

func openSignatureStore(cfg *config.Config, logger *zap.Logger) (interface {
	Has(sig string) bool
	Add(sig string)
}, error) {
	capacity := sigstore.DefaultCap
	if cfg.Prefetch.FillTo > capacity {
		capacity = cfg.Prefetch.FillTo
	}
	if cfg.Storage.SignatureBackend == "sqlite" {
		store, err := sigstore.NewSQLiteStore(cfg.Storage.SignatureStore, capacity)
		if err != nil {
			return nil, fmt.Errorf("open signature store: %w", err)
		}
		return sqliteSigAdapter{store: store}, nil
	}
	return sigstore.NewStore(cfg.Storage.SignatureStore, sigstore.WithCap(capacity), sigstore.WithLogger(logger)), nil
}

func buildProviders(cfg *config.Config, logger *zap.Logger) []provider.Client {
	if cfg.Server.TestMode || len(cfg.Providers) == 0 {
		return []provider.Client{provider.NewStubClient("stub", true)}
	}
	clients := make([]provider.Client, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		httpCfg := provider.Config{
			Name:          pc.Name,
			APIKey:        os.Getenv(pc.APIKeyEnv),
			BaseURL:       pc.BaseURL,
			Model:         pc.Model,
			FallbackModel: pc.FallbackModel,
			Burst:         pc.Burst,
			Timeout:        time.Duration(pc.TimeoutSecs) * time.Second,
			BackoffInitial: time.Duration(pc.BackoffSecs) * time.Second,
		}
		var client provider.Client
		switch pc.Kind {
		case "gemini":
			client = provider.NewGeminiCompatible(httpCfg, logger)
		default:
			client = provider.NewOpenAICompatible(httpCfg, logger)
		}
		if pc.Forced {
			client = forcedClient{Client: client}
		}
		clients = append(clients, client)
	}
	return clients
}

// forcedClient overrides Configured() to always report true, honoring the
// spec's force-provider flag: a provider credentialed out-of-band (e.g. a
// locally reachable model with no API key) still participates in selection.
type forcedClient struct{ provider.Client }

func (forcedClient) Configured() bool { return true }

func providerByName(clients []provider.Client, name string) provider.Client {
	if name == "" {
		return nil
	}
	for _, c := range clients {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// components holds every wired-up dependency the server needs, so serve and
// prewarm share the exact same construction path.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers []provider.Client
	queue     *prefetch.Queue
	rotator   *category.Rotator
	engine    *generate.Engine
	scheduler *topup.Scheduler
	bucket    *ratelimit.Bucket
	counter   *metrics.Counter
}

func initialize(cfg *config.Config, logger *zap.Logger) (*components, error) {
	sigs, err := openSignatureStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	providers := buildProviders(cfg, logger)
	rotator := category.NewRotator()
	queue := prefetch.New(cfg.Storage.PrefetchDir, sigs)

	var reviewer *review.Reviewer
	if cfg.Review.Enabled {
		primary := providerByName(providers, cfg.Review.ProviderName)
		var opts []review.Option
		if repair := providerByName(providers, cfg.Review.RepairName); repair != nil {
			opts = append(opts, review.WithRepairProvider(repair))
		}
		opts = append(opts, review.WithLogger(logger))
		reviewer = review.NewReviewer(primary, opts...)
	} else {
		reviewer = review.NewReviewer(nil)
	}

	genProviders := make([]generate.Provider, len(providers))
	for i, p := range providers {
		genProviders[i] = p
	}
	engine := generate.NewEngine(genProviders, rotator, sigs, reviewer, sigstore.Signature, generate.WithLogger(logger))

	burstSources := make([]topup.BurstSource, len(providers))
	for i, p := range providers {
		burstSources[i] = p
	}
	schedCfg := topup.Config{
		LowWater:    cfg.Prefetch.LowWater,
		FillTo:      cfg.Prefetch.FillTo,
		ReviewBatch: cfg.Prefetch.ReviewBatch,
		MaxWorkers:  cfg.Prefetch.MaxWorkers,
	}
	scheduler := topup.New(queue, burstSources, rotator, reviewer, schedCfg, topup.WithLogger(logger))

	bucket := ratelimit.NewBucket("gen", cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst)
	counter := metrics.NewCounter(cfg.Storage.CounterPath)

	return &components{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		queue:     queue,
		rotator:   rotator,
		engine:    engine,
		scheduler: scheduler,
		bucket:    bucket,
		counter:   counter,
	}, nil
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	comps, err := initialize(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}

	startCtx, startCancel := context.WithCancel(context.Background())
	defer startCancel()
	comps.scheduler.Start(startCtx)
	comps.scheduler.Prewarm(context.Background(), "", cfg.Prefetch.PrewarmCount)

	srv := server.New(
		&cfg.Server,
		server.PrefetchConfig{LowWater: cfg.Prefetch.LowWater, ServeDelayMS: cfg.Prefetch.ServeDelayMS},
		logger,
		comps.providers,
		comps.queue,
		comps.rotator,
		comps.engine,
		comps.scheduler,
		comps.bucket,
		comps.counter,
		cfg.Review.Enabled,
	)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runPrewarm() {
	fs := flag.NewFlagSet("prewarm", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	count := fs.Int("count", 0, "number of pages to prewarm (default: prefetch.prewarm_count from config)")
	brief := fs.String("brief", "", "optional brief steering the prewarmed pages")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	comps, err := initialize(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}

	desired := *count
	if desired <= 0 {
		desired = cfg.Prefetch.PrewarmCount
	}
	comps.scheduler.Prewarm(context.Background(), *brief, desired)
	fmt.Printf("prefetch queue size: %d\n", comps.queue.Size())
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, err := ndwutil.NewDevelopmentLogger()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	logger, err := ndwutil.NewProductionLogger()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printUsage() {
	fmt.Println(`ndw-gateway - NDW generation gateway

Usage:
  ndw serve [flags]     Start the HTTP server
  ndw prewarm [flags]   Fill the prefetch queue and exit
  ndw version           Show version
  ndw help              Show this help

Serve Flags:
  --config string    Config file path (default: /usr/local/etc/ndw-gateway/config.yaml)

Prewarm Flags:
  --config string    Config file path
  --count int        Number of pages to prewarm (default: prefetch.prewarm_count)
  --brief string     Optional brief steering the prewarmed pages

Examples:
  ndw serve
  ndw serve --config ./config.yaml
  ndw prewarm --count 20`)
}
