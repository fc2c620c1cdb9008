// Package app wires configuration into the scrape pipeline and its HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/api"
	"github.com/JakeFAU/voyage-scraper/internal/browser"
	"github.com/JakeFAU/voyage-scraper/internal/captcha"
	"github.com/JakeFAU/voyage-scraper/internal/clock/system"
	"github.com/JakeFAU/voyage-scraper/internal/config"
	"github.com/JakeFAU/voyage-scraper/internal/extract"
	"github.com/JakeFAU/voyage-scraper/internal/hash/sha256"
	"github.com/JakeFAU/voyage-scraper/internal/id/uuid"
	"github.com/JakeFAU/voyage-scraper/internal/metrics"
	"github.com/JakeFAU/voyage-scraper/internal/pipeline"
	"github.com/JakeFAU/voyage-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/voyage-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/voyage-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/voyage-scraper/internal/search"
	"github.com/JakeFAU/voyage-scraper/internal/storage/gcs"
	"github.com/JakeFAU/voyage-scraper/internal/storage/local"
	"github.com/JakeFAU/voyage-scraper/internal/timeconv"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
	"github.com/JakeFAU/voyage-scraper/internal/writer"
)

// recentNotifications bounds the in-process notification log.
const recentNotifications = 100

// App holds the wired service graph.
type App struct {
	Logger   *zap.Logger
	Pipeline *pipeline.Service
	Server   *api.Server
	// Solver is nil when no 2Captcha key is configured.
	Solver *captcha.Solver
	// Notifications holds recent run notifications when no Pub/Sub topic is configured.
	Notifications *memory.Publisher

	closers []func() error
}

// New builds every collaborator described by cfg. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.close(); closeErr != nil {
				logger.Warn("release partial app", zap.Error(closeErr))
			}
		}
	}()

	a.Solver, err = captcha.NewSolver(captcha.Config{
		APIKey:          cfg.Captcha.APIKey,
		Timeout:         cfg.CaptchaTimeout(),
		PollingInterval: cfg.CaptchaPolling(),
	}, logger.Named("captcha"))
	if errors.Is(err, captcha.ErrNotConfigured) {
		logger.Info("captcha solver disabled")
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("captcha solver: %w", err)
	}

	browserCfg, err := a.browserConfig(cfg)
	if err != nil {
		return nil, err
	}
	launch := func() (voyage.SessionFactory, pipeline.Sweeper, error) {
		reaper := browser.NewReaper(cfg.CloseGrace(), logger.Named("reaper"))
		factory, factoryErr := browser.NewFactory(browserCfg, reaper, logger.Named("browser"))
		if factoryErr != nil {
			return nil, nil, factoryErr
		}
		return factory, reaper, nil
	}
	// Surface proxy and extension mistakes at startup instead of on the first request.
	if _, _, err = launch(); err != nil {
		return nil, fmt.Errorf("browser config: %w", err)
	}

	sources, err := a.sources(cfg)
	if err != nil {
		return nil, err
	}

	store, err := a.blobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var notifier voyage.Publisher
	if cfg.PubSub.TopicName != "" {
		notifier, err = a.publisher(ctx, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		a.Notifications = memory.NewLimited(recentNotifications)
		notifier = a.Notifications
	}

	a.Pipeline, err = pipeline.New(pipeline.Config{
		Parallel: cfg.Scraper.Parallel,
		Reuse:    cfg.Scraper.ReuseBrowser,
	}, pipeline.Deps{
		Launch:  launch,
		Sources: sources,
		Writer:  writer.New(store, notifier, sha256.New(), cfg.Storage.Prefix, logger.Named("writer")),
		Pacer:   ratelimit.New(ratelimit.Config{TasksPerSecond: cfg.Scraper.TasksPerSecond}),
		IDs:     uuid.New(),
	}, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	opts := api.Options{RequestTimeout: cfg.RequestTimeout()}
	if a.Solver != nil {
		opts.Captcha = a.Solver
	}
	a.Server = api.NewServer(a.Pipeline, opts, logger.Named("api"))
	return a, nil
}

func (a *App) browserConfig(cfg config.Config) (browser.Config, error) {
	out := browser.Config{
		Headless:       cfg.Browser.Headless,
		ExecPath:       cfg.Browser.ExecPath,
		Proxies:        cfg.Browser.Proxies,
		UserAgents:     cfg.Browser.UserAgents,
		BlockResources: cfg.Browser.BlockResources,
		NavTimeout:     cfg.NavTimeout(),
		CloseGrace:     cfg.CloseGrace(),
		ScreenshotDir:  cfg.Scraper.ScreenshotDir,
		WindowWidth:    cfg.Browser.WindowWidth,
		WindowHeight:   cfg.Browser.WindowHeight,
	}
	if cfg.Captcha.ExtensionDir == "" {
		return out, nil
	}

	dst := cfg.Captcha.ExtensionWorkingDir
	if dst == "" {
		tmp, err := os.MkdirTemp("", "voyage-captcha-*")
		if err != nil {
			return browser.Config{}, fmt.Errorf("extension working dir: %w", err)
		}
		a.closers = append(a.closers, func() error { return os.RemoveAll(tmp) })
		dst = filepath.Join(tmp, "extension")
	}
	dir, err := captcha.PrepareExtension(cfg.Captcha.ExtensionDir, dst, cfg.Captcha.APIKey)
	if err != nil {
		return browser.Config{}, fmt.Errorf("prepare captcha extension: %w", err)
	}
	a.Logger.Info("captcha extension prepared", zap.String("dir", dir))
	out.ExtensionDir = dir
	return out, nil
}

func (a *App) sources(cfg config.Config) (map[voyage.Source]pipeline.SourceHandlers, error) {
	clock := system.New()
	times := timeconv.New(clock, a.Logger.Named("timeconv"))
	links := map[voyage.Source]string{
		voyage.SourceVesselFinder:  cfg.Sources.VesselFinder.Link,
		voyage.SourceMarineTraffic: cfg.Sources.MarineTraffic.Link,
	}

	opts := search.Options{
		ChallengePoll:    cfg.ChallengePoll(),
		ChallengeMaxWait: cfg.ChallengeMaxWait(),
		Clock:            clock,
	}
	if a.Solver != nil && cfg.Captcha.SolveWhileWaiting {
		opts.Solver = a.Solver
	}

	out := make(map[voyage.Source]pipeline.SourceHandlers, len(links))
	for _, source := range voyage.Sources() {
		site, err := search.SiteFor(source)
		if err != nil {
			return nil, err
		}
		automator, err := search.New(site, opts, a.Logger.Named("search"))
		if err != nil {
			return nil, fmt.Errorf("automator %s: %w", source, err)
		}
		extractor, err := extract.ForSource(source, times, a.Logger.Named("extract"))
		if err != nil {
			return nil, fmt.Errorf("extractor %s: %w", source, err)
		}
		out[source] = pipeline.SourceHandlers{
			Link:      links[source],
			Automator: automator,
			Extractor: extractor,
		}
	}
	return out, nil
}

func (a *App) blobStore(ctx context.Context, cfg config.Config) (voyage.BlobStore, error) {
	if cfg.Storage.GCSBucket == "" {
		store, err := local.New(local.Config{BaseDir: cfg.Scraper.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		a.Logger.Info("writing results locally", zap.String("dir", cfg.Scraper.OutputDir))
		return store, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("gcs store: %w", err)
	}
	a.Logger.Info("writing results to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
	return store, nil
}

func (a *App) publisher(ctx context.Context, cfg config.Config) (voyage.Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	pub := pubsubpublisher.New(client.Publisher(cfg.PubSub.TopicName))
	a.closers = append(a.closers, func() error {
		pub.Stop()
		return nil
	})
	a.Logger.Info("publishing run notifications", zap.String("topic", cfg.PubSub.TopicName))
	return pub, nil
}

// Close terminates browsers still owned by running requests and releases cloud clients.
func (a *App) Close(ctx context.Context) error {
	if a.Pipeline != nil {
		if n := a.Pipeline.Shutdown(ctx); n > 0 {
			a.Logger.Warn("terminated browsers on shutdown", zap.Int("count", n))
		}
	}
	return a.close()
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
