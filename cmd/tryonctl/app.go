package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/tryonkit/internal/adapter/driven/eventbus"
	"github.com/ericfisherdev/tryonkit/internal/adapter/driven/imaging"
	"github.com/ericfisherdev/tryonkit/internal/adapter/driven/objectstore"
	"github.com/ericfisherdev/tryonkit/internal/adapter/driven/remote"
	sqliteadapter "github.com/ericfisherdev/tryonkit/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/tryonkit/internal/application"
	"github.com/ericfisherdev/tryonkit/internal/config"
	"github.com/ericfisherdev/tryonkit/internal/domain/port/driven"
	"github.com/ericfisherdev/tryonkit/internal/observability"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg *config.Config
	db  *sqliteadapter.DB

	bus          *eventbus.Bus
	jobs         *sqliteadapter.JobRepo
	session      *application.SessionManager
	ledger       *application.CreditLedger
	intake       *application.AssetIntake
	orchestrator *application.Orchestrator
	// materializer is nil when no object store is configured.
	materializer *application.ResultMaterializer

	closers []func()
}

func newApp(ctx context.Context) (_ *app, err error) {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.Info("config loaded",
		"api_url", cfg.APIURL,
		"db_path", cfg.DBPath,
		"encrypted_store", cfg.SecretKey != nil,
		"object_store", cfg.MinIO.Enabled(),
	)

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 2. Tracing.
	shutdownTracing, err := observability.InitTracing(ctx, "tryonctl", cfg.OTelExporter)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("error shutting down tracing", "error", err)
		}
	})

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	})

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return nil, err
	}

	// 5. Wire storage adapters and convert records left by older releases.
	kv := sqliteadapter.NewKVRepo(db, cfg.SecretKey)
	assets := sqliteadapter.NewAssetRepo(db)
	a.jobs = sqliteadapter.NewJobRepo(db)
	journal := sqliteadapter.NewJournalRepo(db)

	if _, err := application.MigrateLegacy(ctx, kv); err != nil {
		return nil, fmt.Errorf("migrate legacy records: %w", err)
	}

	// 6. Event bus with a logging subscriber.
	a.bus = eventbus.New()
	events, cancelEvents := a.bus.Subscribe(16)
	a.closers = append(a.closers, cancelEvents)
	go logEvents(events)

	// 7. Remote services.
	client, err := remote.NewClient(cfg.APIURL, cfg.AuthURL)
	if err != nil {
		return nil, err
	}
	fetcher := remote.NewResultFetcher(http.DefaultTransport)

	// 8. Object store (optional): durable results and the shared asset index.
	var index driven.RemoteAssetIndex
	if cfg.MinIO.Enabled() {
		store, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		index = store
		a.materializer = application.NewResultMaterializer(fetcher, store, a.jobs, cfg.MaterializeRate)
	}

	// 9. Application services.
	a.session = application.NewSessionManager(kv, client, a.bus,
		application.WithCheckInterval(cfg.RenewalCheckInterval),
	)
	a.ledger = application.NewCreditLedger(kv, client, a.session, a.jobs, journal, a.bus)
	a.intake = application.NewAssetIntake(assets, index)

	deps := application.OrchestratorDeps{
		Session:    a.session,
		Ledger:     a.ledger,
		Compute:    client,
		KeepAlive:  client,
		Assets:     assets,
		Compressor: imaging.NewCompressor(0),
		Jobs:       a.jobs,
		Fetcher:    fetcher,
	}
	if a.materializer != nil {
		deps.Materializer = a.materializer
	}
	a.orchestrator = application.NewOrchestrator(deps, application.OrchestratorConfig{
		Timeout:           cfg.JobTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
		CompressThreshold: cfg.CompressThresholdBytes,
		Pricing:           cfg.Pricing,
	})

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
