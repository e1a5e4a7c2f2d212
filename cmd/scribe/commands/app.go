package commands

import (
	"database/sql"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/db"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/identity"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/media"
	"github.com/teranos/scribe/provider"
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/remote"
)

// app is everything a processing command needs, built from one loaded config.
type app struct {
	cfg          *am.Config
	db           *sql.DB
	identity     *identity.Service
	history      *async.HistoryStore
	orchestrator *async.Orchestrator
}

func (a *app) Close() error {
	return a.db.Close()
}

// openStore loads the configuration and opens the migrated database.
// Commands that only read records or history stop here.
func openStore() (*am.Config, *sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	path, err := am.GetDatabasePath()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.OpenWithMigrations(path, logger.Logger.Named("db"))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	return cfg, database, nil
}

func newApp() (*app, error) {
	cfg, database, err := openStore()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	log := logger.Logger
	ident := identity.NewService(identity.NewSQLRecordStore(database), cfg.Pipeline.OutputDir, log.Named("identity"))

	toolkit, err := media.NewFFmpeg(cfg.Media, media.ExecRunner{}, log.Named("media"))
	if err != nil {
		database.Close()
		return nil, err
	}

	client, err := remote.NewFromConfig(cfg.Remote, log.Named("remote"))
	if err != nil {
		database.Close()
		return nil, err
	}

	history := async.NewHistoryStore(database)
	orch := async.NewOrchestrator(async.Dependencies{
		Identity: ident,
		Media:    toolkit,
		Provider: provider.NewHTTPProvider(client, log.Named("provider")),
		History:  history,
	}, async.OrchestratorConfigFromConfig(cfg), log)

	return &app{
		cfg:          cfg,
		db:           database,
		identity:     ident,
		history:      history,
		orchestrator: orch,
	}, nil
}

// pruneFinished drops completed jobs from the visible set so a long watch
// session does not grow without bound. Failed jobs stay visible.
func (a *app) pruneFinished() {
	for _, j := range a.orchestrator.Jobs() {
		if j.Phase == async.PhaseCompleted {
			_ = a.orchestrator.RemoveOne(j.ID)
		}
	}
}
