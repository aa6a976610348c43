package commands

import (
	"database/sql"

	"github.com/sakaguchi/xbot/config"
	"github.com/sakaguchi/xbot/creds"
	"github.com/sakaguchi/xbot/db"
	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/logger"
	"github.com/sakaguchi/xbot/operator"
	"github.com/sakaguchi/xbot/pipeline"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/translate/openai"
	"github.com/sakaguchi/xbot/xclient"
	"github.com/sakaguchi/xbot/xclient/local"
)

// app bundles the wired components every command needs. Close releases the
// database; the scheduler loop is only started by `xbot run`.
type app struct {
	cfg       *config.Config
	database  *sql.DB
	threads   *thread.Store
	scheduler *sched.Scheduler
	processor *operator.Processor
}

func (a *app) Close() {
	a.database.Close()
}

// openApp loads config, opens and migrates the database, and wires the
// pipeline behind a scheduler.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	threads := thread.NewStore(database)
	jobStore := sched.NewStore(database)
	dedup := sched.NewDedupIndex(database)

	scraper := local.NewScraper(cfg.Scrape.SpoolDir, logger.Named("scraper"))
	provider := openai.NewClient(cfg.ToOpenAI(), logger.Named("openai"))
	pool := creds.NewPool(cfg.ToCredentials(), cfg.Publish.CallsPerMinute)
	factory := func(cred creds.Credential) xclient.Publisher {
		return local.NewPublisher(cfg.Publish.OutboxPath, logger.Named("publisher").With("credential", cred.Name))
	}

	registry := sched.NewHandlerRegistry()
	scheduler := sched.New(jobStore, dedup, registry, cfg.ToSched(), logger.Named("sched"))

	registry.Register(pipeline.NewScrapeHandler(threads, scraper, scheduler, logger.Named("scrape")))
	registry.Register(pipeline.NewTranslateHandler(threads, provider, cfg.ToProfile(), logger.Named("translate")))
	registry.Register(pipeline.NewPublishHandler(threads, pool, factory, logger.Named("publish")))

	scheduler.SetChainer(&pipeline.PublishChainer{DryRun: cfg.Publish.DryRun})

	processor := operator.NewProcessor(scheduler, threads, cfg.ScrapeInterval(), cfg.ToProfile(), logger.Named("operator"))
	scheduler.SetAuthSignaler(processor)

	return &app{
		cfg:       cfg,
		database:  database,
		threads:   threads,
		scheduler: scheduler,
		processor: processor,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
