package main

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/caracterizacion-sync/internal/config"
	"github.com/chmdznr/caracterizacion-sync/internal/connectivity"
	"github.com/chmdznr/caracterizacion-sync/internal/db"
	"github.com/chmdznr/caracterizacion-sync/internal/ingest"
	"github.com/chmdznr/caracterizacion-sync/internal/logging"
	"github.com/chmdznr/caracterizacion-sync/internal/records"
	"github.com/chmdznr/caracterizacion-sync/internal/session"
	syncer "github.com/chmdznr/caracterizacion-sync/internal/sync"
	"github.com/chmdznr/caracterizacion-sync/pkg/version"
)

// app holds what every command needs: configuration, logger, the open
// store and the session
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	logs    io.Closer
	store   *db.DB
	records *records.Service
	session *session.Session
}

func open(c *cli.Context) (*app, error) {
	cfg, err := config.FromCLI(c)
	if err != nil {
		return nil, err
	}

	logger, logs, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := db.New(cfg.DBPath, logger)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		logs:    logs,
		store:   store,
		records: records.NewService(store, logger),
		session: session.New(logger),
	}

	if cfg.Token != "" {
		if _, err := a.session.SignInWithToken(cfg.Token); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	a.store.Close()
	a.logs.Close()
}

func (a *app) newMonitor(signal connectivity.Signal) (*connectivity.Monitor, error) {
	if err := a.cfg.RequireAPI(); err != nil {
		return nil, err
	}
	return connectivity.NewMonitor(a.cfg.Connectivity(), signal, a.logger), nil
}

func (a *app) newSyncer(monitor *connectivity.Monitor, sc syncer.SyncerConfig) (*syncer.Syncer, error) {
	if err := a.cfg.RequireAPI(); err != nil {
		return nil, err
	}
	client, err := ingest.NewClient(a.cfg.Ingest(userAgent()), a.session, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion client: %w", err)
	}
	return syncer.NewSyncer(a.records, client, monitor, a.session, &sc, a.logger), nil
}

func userAgent() string {
	return fmt.Sprintf("csync/%s (%s/%s)", version.Version, runtime.GOOS, runtime.GOARCH)
}
