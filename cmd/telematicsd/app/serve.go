package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"fleet-monitor/telematics/internal/analytics"
	"fleet-monitor/telematics/internal/auth"
	"fleet-monitor/telematics/internal/command"
	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/firmware"
	"fleet-monitor/telematics/internal/ingest"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/notify"
	"fleet-monitor/telematics/internal/pipeline"
	"fleet-monitor/telematics/internal/store"
	transport "fleet-monitor/telematics/internal/transport/http"
	"fleet-monitor/telematics/internal/violation"
	"fleet-monitor/telematics/internal/zone"
)

// Store is everything the services need from the relational backend.
type Store interface {
	ingest.Store
	command.Store
	zone.Store
	violation.Store
	analytics.Store
	InsertAuditEntries(ctx context.Context, entries []domain.AuditEntry) error
	Ping(ctx context.Context) error
}

func newServeCommand(ctx context.Context, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, log.Std())
		},
	}
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger log.Logger) (Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using the in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	default:
		pg, err := store.NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres", "host", cfg.DBHost, "db", cfg.DBName)
		return pg, pg.Close, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	var archive *store.ClickHouseArchive
	archiveSize := 0
	if cfg.ClickHouse.Enabled {
		archive, err = store.NewClickHouseArchive(ctx, &cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer archive.Close()
		archiveSize = cfg.ArchiveChannelSize
		logger.Info("telemetry archive enabled", "addr", cfg.ClickHouse.Addr)
	}

	notifier, err := notify.Build(ctx, cfg, rdb, logger)
	if err != nil {
		return fmt.Errorf("failed to build notifiers: %w", err)
	}
	defer notifier.Close()

	disp := pipeline.NewDispatcher(cfg.StateChannelSize, archiveSize, cfg.NotifyChannelSize, cfg.AuditChannelSize)
	mgr := NewManager(logger)

	for i := 0; i < cfg.StateWriterWorkers; i++ {
		mgr.Add(RunnableFunc(pipeline.NewStateWriter(disp.StateChan, rdb, logger).Run))
	}
	for i := 0; i < cfg.NotifyWorkers; i++ {
		mgr.Add(RunnableFunc(pipeline.NewNotifyWorker(disp.NotifyChan, notifier, rdb,
			time.Duration(cfg.NotifyDedupSeconds)*time.Second, cfg.NotifyTimeout, logger).Run))
	}
	mgr.Add(RunnableFunc(pipeline.NewBatchWriter[domain.AuditEntry]("audit", disp.AuditChan, st.InsertAuditEntries,
		cfg.AuditBatchSize, cfg.AuditFlushIntervalMS, logger).Run))
	if archive != nil {
		flush := func(ctx context.Context, batch []*domain.PointEvent) error {
			events := make([]domain.PointEvent, len(batch))
			for i, ev := range batch {
				events[i] = *ev
			}
			return archive.InsertBatch(ctx, events)
		}
		mgr.Add(RunnableFunc(pipeline.NewBatchWriter[*domain.PointEvent]("archive", disp.ArchiveChan, flush,
			cfg.ArchiveBatchSize, cfg.ArchiveFlushIntervalMS, logger).Run))
	}

	sketches, watch, err := openFirmware(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open firmware storage: %w", err)
	}
	cache := firmware.NewCache(sketches, logger)
	if err := cache.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load sketch: %w", err)
	}
	if watch != nil {
		mgr.Add(RunnableFunc(func(ctx context.Context) {
			refresh := func() {
				if err := cache.Refresh(ctx); err != nil {
					logger.Error(err, "sketch refresh failed")
				}
			}
			if err := watch(ctx, refresh, logger); err != nil {
				logger.Error(err, "sketch watcher stopped")
			}
		}))
	}

	queue := command.NewQueue(st, disp, logger)
	handler := transport.NewHandler(transport.Services{
		Ingest:     ingest.NewService(st, disp, cfg.MergeRadiusMeters, logger),
		Commands:   queue,
		Zones:      zone.NewManager(st, disp, logger),
		Violations: violation.NewDetector(st, queue, disp, disp, logger),
		Analytics:  analytics.NewEngine(st, logger),
		Firmware:   firmware.NewService(sketches, cache, disp, logger),
		Live:       rdb,
	}, logger)

	resolver := auth.NewResolver(cfg, rdb)
	ready := func(ctx context.Context) error {
		return errors.Join(st.Ping(ctx), rdb.Ping(ctx))
	}
	router := transport.NewRouter(handler, transport.NewAuthMiddleware(resolver, logger), ready, logger)
	mgr.Add(transport.NewServer(net.JoinHostPort("", cfg.HTTPPort), router, logger))

	return mgr.Start(ctx)
}

type watchFunc func(ctx context.Context, onChange func(), logger log.Logger) error

// openFirmware returns the sketch storage and, for directories, a watcher
// that picks up sketches replaced by hand.
func openFirmware(ctx context.Context, cfg *config.Config) (firmware.Storage, watchFunc, error) {
	switch cfg.FirmwareBackend {
	case "s3":
		s3, err := firmware.NewS3Storage(&cfg.S3, cfg.FirmwareObject)
		if err != nil {
			return nil, nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	default:
		fs := firmware.NewFSStorage(cfg.FirmwareDir, cfg.FirmwareObject)
		return fs, fs.Watch, nil
	}
}
