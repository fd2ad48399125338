// Command codesearchd is the code search daemon: it wires the registry,
// search index, progress tracker, crawl engine, and scheduler together
// and serves the REST surface over HTTP. Grounded on the teacher's
// cmd/api/main.go, which loaded secrets and started a single API server;
// generalized here to also start the crawl engine and scheduler the
// teacher's main.go ran as a one-shot CLI instead of a long-lived daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codegrove/codesearch/internal/api"
	"github.com/codegrove/codesearch/internal/cache"
	"github.com/codegrove/codesearch/internal/config"
	"github.com/codegrove/codesearch/internal/crawler/fs"
	"github.com/codegrove/codesearch/internal/crawler/git"
	"github.com/codegrove/codesearch/internal/crawler/git/githost"
	"github.com/codegrove/codesearch/internal/crawler/svn"
	"github.com/codegrove/codesearch/internal/index"
	"github.com/codegrove/codesearch/internal/logging"
	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/pipeline"
	"github.com/codegrove/codesearch/internal/progresstracker"
	"github.com/codegrove/codesearch/internal/registry"
	"github.com/codegrove/codesearch/internal/scheduler"
	"github.com/codegrove/codesearch/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: "codesearchd"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	log := logging.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
			ServiceName:   cfg.Telemetry.ServiceName,
			OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
			SamplingRatio: 1.0,
		})
		if err != nil {
			log.Error().Err(err).Msg("telemetry disabled: failed to start tracer provider")
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	idxSvc, err := index.New(index.Config{
		Addresses: cfg.Index.Addresses,
		Username:  cfg.Index.Username,
		Password:  cfg.Index.Password,
		IndexName: cfg.Index.IndexName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("construct search index service")
	}
	redisCache := cache.New(cfg.Cache.Addr, cfg.Cache.DB)
	defer redisCache.Close()
	cachedIdx := index.NewCached(idxSvc, redisCache, cfg.Cache.TTL)

	reg, err := registry.NewPostgres(cfg.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("connect to repository registry")
	}
	defer reg.Close()

	tracker := progresstracker.New()

	crawlerFactory := newCrawlerFactory(cfg, tracker)
	rulesFactory := func(models.Repository) pipeline.Rules {
		return pipeline.Rules{
			DirsToExclude:       cfg.Crawl.DirsToExclude,
			FilesToExclude:      cfg.Crawl.FilesToExclude,
			ExtensionsToExclude: cfg.Crawl.ExtensionsToExclude,
			MimesToExclude:      cfg.Crawl.MimesToExclude,
			ReadableExtensions:  cfg.Crawl.ReadableExtensions,
			MinFileSizeBytes:    cfg.Crawl.MinFileSizeBytes,
			MaxFileSizeBytes:    cfg.Crawl.MaxFileSizeBytes,
		}
	}

	engine := scheduler.NewEngine(reg, cachedIdx, tracker, crawlerFactory, rulesFactory,
		cfg.Crawl.BatchSize, cfg.Crawl.WorkerCount)

	sched := scheduler.New(engine, reg)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start scheduler")
		}
		defer sched.Stop()
	}

	server := api.NewServer(api.Config{Addr: cfg.API.ListenAddr}, cachedIdx, tracker, sched, engine)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	case err := <-errCh:
		log.Error().Err(err).Msg("api server failed")
	}
}

// newCrawlerFactory dispatches on a repository's Kind to build the
// pipeline.Crawler that knows how to read its source, wrapping
// host-level kinds in a githost.Crawler that fans out discovered
// projects to an inner git.Crawler.
func newCrawlerFactory(cfg *config.Config, tracker *progresstracker.Tracker) scheduler.CrawlerFactory {
	gitCrawler := git.New(cfg.Crawl.WorkspaceDir)

	return func(repo models.Repository) (pipeline.Crawler, error) {
		switch repo.Kind {
		case models.KindFileSystem:
			return fs.New(), nil
		case models.KindGit:
			return gitCrawler, nil
		case models.KindGitHub:
			return githost.NewGitHub(cfg.GitHost.GitHubToken, gitCrawler, tracker), nil
		case models.KindGitLab:
			return githost.NewGitLab(cfg.GitHost.GitLabToken, cfg.GitHost.GitLabBaseURL, gitCrawler, tracker)
		case models.KindSVN:
			return svn.New(), nil
		default:
			return nil, fmt.Errorf("unsupported repository kind: %s", repo.Kind)
		}
	}
}
