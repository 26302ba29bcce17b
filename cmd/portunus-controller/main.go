package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/config"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/db"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/gateway"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/grpcapi"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/httpapi"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/logging"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/mqtt"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/notify"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store/flatfile"
	sqlitestore "github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store/sqlite"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "portunus-controller",
		Short:        "Door controller: access gateway, token sync and entry validation",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("PORTUNUS_CONFIG"), "YAML config file (env: PORTUNUS_CONFIG)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	handler := logging.NewHandler(cfg.Logging, logOutput(cfg.Logging.Output), version)
	baseLogger := slog.New(handler)

	// ── MQTT (before the notifying logger, which may publish through it) ──
	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix, Site: cfg.Site.ID}
	var mq *mqtt.Client
	if cfg.MQTT.Enabled {
		c, err := mqtt.Connect(cfg.MQTT, topics, cfg.Door.ID, baseLogger)
		if err != nil {
			baseLogger.Warn("mqtt unavailable, continuing without broker", "err", err)
		} else {
			mq = c
			defer mq.Close()
		}
	}

	// ── Notification channel and logger ──
	var sink notify.Notifier = notify.Discard{}
	if mq != nil {
		sink = mqtt.NewLogSink(mq, topics, mq.QoS())
	}
	history := notify.NewHistory(sink, 100)
	async := notify.NewAsync(history, cfg.Logging.NotifyBuffer, baseLogger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = async.Close(closeCtx)
	}()

	logger := slog.New(logging.NewNotifyHandler(handler, async, cfg.Logging.NotifyLevel))
	slog.SetDefault(logger)
	logger.Info("starting", "site", cfg.Site.ID, "door_id", cfg.Door.ID, "env", cfg.Env)

	// ── Database (audit log, optional credential backend) ──
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.Database.Path, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()
	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	eventStore := sqlitestore.NewAccessEventStore(sqlDB, writer)

	// ── Credential store and gateway dispatcher ──
	credStore, err := openCredentialStore(ctx, cfg, sqlDB, writer, logger)
	if err != nil {
		return err
	}

	credChanged := service.NewSignal("credentials", service.Sequential, logger)
	dispatcher := gateway.NewDispatcher(credStore, credChanged, logger)

	admin := types.Record{
		Name:     types.Name{Last: cfg.Store.Admin.LastName, First: cfg.Store.Admin.FirstName},
		Identity: types.Identifier(cfg.Store.Admin.Identity),
		Password: cfg.Store.Admin.Password,
	}
	if created, err := dispatcher.EnsureRecord(ctx, admin); err != nil {
		return fmt.Errorf("bootstrap admin record: %w", err)
	} else if created {
		logger.Info("created bootstrap admin record", "identity", admin.Identity)
	}

	// ── Synchronization ──
	source, err := tokenSource(cfg, dispatcher)
	if err != nil {
		return err
	}
	cache := service.NewAuthCache()
	agent := service.NewSyncAgent(source, cache, service.SyncConfig{
		DoorID:   cfg.Door.ID,
		Interval: cfg.SyncInterval(),
	}, logger)
	if err := credChanged.Subscribe(agent); err != nil {
		return err
	}

	// ── Door ──
	doorEvents := service.NewSignal("door_events", service.FanOut, logger)
	opener := service.NewTimedOpener(cfg.OpenDuration(), doorEvents, logger)
	access := service.NewAccessService(cfg.Door.ID, cache, opener, eventStore, logger)

	if mq != nil {
		if err := wireMQTT(mq, topics, cfg.Door.ID, credChanged, doorEvents, agent, opener, logger); err != nil {
			logger.Error("mqtt subscriptions failed", "err", err)
		}
	}

	if err := agent.Start(ctx); err != nil {
		logger.Error("initial token sync failed", "err", err)
	}
	defer agent.Stop()

	pruner := service.NewEventPruner(eventStore, service.PrunerConfig{
		RetentionDays: cfg.Audit.RetentionDays,
		IntervalHours: cfg.Audit.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// ── Servers ──
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if cfg.Gateway.Addr != "" {
		tlsCfg, err := gateway.LoadServerTLS(cfg.Gateway.CertFile, cfg.Gateway.KeyFile)
		if err != nil {
			return err
		}
		srv := gateway.NewServer(gateway.ServerConfig{
			Addr:         cfg.Gateway.Addr,
			TLS:          tlsCfg,
			IdleTimeout:  cfg.IdleTimeout(),
			MaxLineBytes: cfg.Gateway.MaxLineBytes,
		}, dispatcher, logger)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if cfg.HTTP.Addr != "" {
		api := httpapi.NewServer(httpapi.Dependencies{
			Logger:        logger,
			Addr:          cfg.HTTP.Addr,
			AccessService: access,
			Opener:        opener,
			Sync:          agent,
			Status:        agent,
			Logs:          history,
		})
		g.Go(api.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return api.Shutdown(shutdownCtx)
		})
	}

	if cfg.GRPC.Addr != "" {
		checks := []grpcapi.Check{
			{Service: grpcapi.ServiceGateway, Healthy: dispatcher.Healthy},
			{Service: grpcapi.ServiceSync, Healthy: agent.Healthy},
		}
		if mq != nil {
			checks = append(checks, grpcapi.Check{Service: grpcapi.ServiceMQTT, Healthy: mq.IsConnected})
		}
		health := grpcapi.NewServer(grpcapi.Config{Addr: cfg.GRPC.Addr}, checks, logger)
		g.Go(func() error { return health.ListenAndServe(gctx) })
	}

	err = g.Wait()
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logOutput(name string) *os.File {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func openCredentialStore(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, writer *db.Worker, logger *slog.Logger) (store.CredentialStore, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		cs := sqlitestore.NewCredentialStore(sqlDB, writer, logger)
		if err := importCredentialFile(ctx, cs, cfg.Store.Path, logger); err != nil {
			return nil, err
		}
		return cs, nil
	default:
		ff := flatfile.New(cfg.Store.Path, logger)
		if err := ff.Init(ctx); err != nil {
			return nil, fmt.Errorf("init credential file: %w", err)
		}
		return ff, nil
	}
}

// importCredentialFile seeds an empty sqlite store from the flat file at
// path, so a site can switch backends without losing its users.
func importCredentialFile(ctx context.Context, cs *sqlitestore.CredentialStore, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	recs, err := flatfile.New(path, logger).Records(ctx)
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}
	n, err := cs.Import(ctx, recs)
	if err != nil {
		return fmt.Errorf("import credential file: %w", err)
	}
	if n > 0 {
		logger.Info("imported credential file into sqlite", "path", path, "records", n)
	}
	return nil
}

func tokenSource(cfg *config.Config, d *gateway.Dispatcher) (service.TokenSource, error) {
	admin := types.Identifier(cfg.Sync.Identity)
	if cfg.Sync.Source != "remote" {
		return gateway.LocalSource{Dispatcher: d, Admin: admin, Password: cfg.Sync.Password}, nil
	}
	tlsCfg, err := gateway.ClientTLS(cfg.Sync.CAFile, "", cfg.Sync.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	client := gateway.NewClient(gateway.ClientConfig{Addr: cfg.Sync.RemoteAddr, TLS: tlsCfg})
	return gateway.RemoteSource{Client: client, Admin: admin, Password: cfg.Sync.Password}, nil
}

// wireMQTT connects the door to the site broker: local credential changes
// are broadcast, other doors' broadcasts refresh the cache, door openings
// are published and the open topic releases the door.
func wireMQTT(
	mq *mqtt.Client,
	topics mqtt.Topics,
	doorID string,
	credChanged, doorEvents *service.Signal,
	agent *service.SyncAgent,
	opener service.Opener,
	logger *slog.Logger,
) error {
	qos := mq.QoS()
	if err := credChanged.Subscribe(mqtt.NewChangeBroadcaster(mq, topics, doorID, qos)); err != nil {
		return err
	}
	if err := doorEvents.Subscribe(mqtt.NewDoorEvents(mq, topics, doorID, qos)); err != nil {
		return err
	}
	if err := mqtt.ListenForChanges(mq, topics, doorID, qos, agent, logger); err != nil {
		return err
	}
	return mqtt.ListenForOpen(mq, topics, doorID, qos, opener, logger)
}
