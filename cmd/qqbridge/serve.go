package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/qqbridge/internal/allowlist"
	"github.com/memohai/qqbridge/internal/bridge"
	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/db"
	"github.com/memohai/qqbridge/internal/gateway"
	"github.com/memohai/qqbridge/internal/handlers"
	"github.com/memohai/qqbridge/internal/healthcheck"
	channelchecker "github.com/memohai/qqbridge/internal/healthcheck/checkers/channel"
	depchecker "github.com/memohai/qqbridge/internal/healthcheck/checkers/dependency"
	"github.com/memohai/qqbridge/internal/logger"
	"github.com/memohai/qqbridge/internal/media"
	"github.com/memohai/qqbridge/internal/media/providers/localfs"
	"github.com/memohai/qqbridge/internal/outbound"
	"github.com/memohai/qqbridge/internal/policy"
	"github.com/memohai/qqbridge/internal/relay"
	"github.com/memohai/qqbridge/internal/server"
)

const amqpDialAttempts = 5

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway listener, policy pipeline and admin API",
		RunE: func(_ *cobra.Command, _ []string) error {
			app := newApp(*configPath)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newApp(configPath string) *fx.App {
	return fx.New(appOptions(configPath))
}

func appOptions(configPath string) fx.Option {
	return fx.Options(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			provideLogger,
			provideDBConn,
			provideAMQPConn,
			provideAllowlistStore,
			gateway.NewRegistry,
			gateway.NewHub,
			provideCorrelator,
			provideGatewayServer,
			provideIngester,
			provideGate,
			provideLoader,
			provideSender,
			provideDeliverer,
			provideProcessor,
			provideMonitor,
			provideHealthChecker,
			provideSweeper,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideAccountsHandler),
			provideServerHandler(handlers.NewAllowlistHandler),
			provideServer,
		),
		fx.Invoke(
			startMonitors,
			startReplyConsumer,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideDBConn returns a nil pool when Postgres is disabled.
func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if !cfg.Postgres.Enabled {
		return nil, nil
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

// provideAMQPConn returns a nil connection when the relay is disabled.
func provideAMQPConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*amqp.Connection, error) {
	if !cfg.AMQP.Enabled {
		return nil, nil
	}
	conn, err := relay.DialWithRetry(context.Background(), relay.DialOptions{
		URL:           cfg.AMQP.URL,
		RetryAttempts: amqpDialAttempts,
		Delay:         time.Second,
		Logger:        log.With(slog.String("component", "amqp")),
	})
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return conn.Close() }})
	return conn, nil
}

func provideAllowlistStore(log *slog.Logger, conn *pgxpool.Pool) (allowlist.Store, error) {
	if conn == nil {
		log.Info("allow list store is in memory; runtime approvals are lost on restart")
		return allowlist.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := allowlist.NewPostgresStore(ctx, log, conn)
	if err != nil {
		return nil, fmt.Errorf("allow list store: %w", err)
	}
	return store, nil
}

func provideCorrelator(log *slog.Logger, registry *gateway.Registry, cfg config.Config) *gateway.Correlator {
	return gateway.NewCorrelator(log, registry, cfg.Gateway.SendTimeout)
}

func provideGatewayServer(log *slog.Logger, registry *gateway.Registry, hub *gateway.Hub, correlator *gateway.Correlator, cfg config.Config) *gateway.Server {
	return gateway.NewServer(log, registry, hub, correlator, gateway.Options{
		Heartbeat: gateway.Heartbeat{
			Interval:    cfg.Gateway.HeartbeatInterval,
			PingAfter:   cfg.Gateway.PingAfter,
			IdleTimeout: cfg.Gateway.IdleTimeout,
		},
		MaxFrameBytes:    cfg.Gateway.MaxFrameBytes,
		DefaultAccountID: cfg.Gateway.DefaultAccountID,
	})
}

func provideIngester(log *slog.Logger, cfg config.Config) (*media.Ingester, error) {
	provider, err := localfs.New(cfg.Media.Root)
	if err != nil {
		return nil, fmt.Errorf("media storage: %w", err)
	}
	return media.NewIngester(log, provider, media.WithFetchTimeout(cfg.Media.FetchTimeout)), nil
}

func provideGate(log *slog.Logger, store allowlist.Store, cfg config.Config) *policy.Gate {
	return policy.NewGate(log, store, policy.Commands{
		UseAccessGroups: cfg.Commands.UseAccessGroups,
		TextCommands:    cfg.Commands.TextCommands,
		Prefix:          cfg.Commands.Prefix,
	})
}

func provideLoader(cfg config.Config) *outbound.Loader {
	return outbound.NewLoader(cfg.Media.FetchTimeout, cfg.Media.Root)
}

func provideSender(log *slog.Logger, correlator *gateway.Correlator, cfg config.Config, loader *outbound.Loader) *outbound.Sender {
	return outbound.NewSender(log, correlator, cfg, loader)
}

func provideDeliverer(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, conn *amqp.Connection) (bridge.Deliverer, error) {
	if conn == nil {
		deliverLog := log.With(slog.String("component", "deliver"))
		return bridge.DelivererFunc(func(_ context.Context, msg bridge.Inbound) error {
			deliverLog.Info("inbound message accepted",
				slog.String("account_id", msg.AccountID),
				slog.String("session_key", msg.Routing.SessionKey),
				slog.String("sender_id", msg.Routing.SenderID),
				slog.Int("attachments", len(msg.Message.MediaAttachments)),
			)
			return nil
		}), nil
	}
	publisher, err := relay.NewPublisher(log, conn, cfg.AMQP.Exchange, cfg.AMQP.InboundRoutingKey)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return publisher.Close() }})
	return publisher, nil
}

func provideProcessor(log *slog.Logger, gate *policy.Gate, ingester *media.Ingester, deliverer bridge.Deliverer, cfg config.Config) *bridge.Processor {
	return bridge.NewProcessor(log, gate, ingester, deliverer, cfg)
}

func provideMonitor(log *slog.Logger, gw *gateway.Server, processor *bridge.Processor, cfg config.Config) *bridge.Monitor {
	return bridge.NewMonitor(log, gw, processor, cfg.Gateway, cfg)
}

func provideHealthChecker(log *slog.Logger, monitor *bridge.Monitor, pool *pgxpool.Pool, conn *amqp.Connection) *healthcheck.Aggregator {
	pings := map[string]depchecker.PingFunc{}
	if pool != nil {
		pings["postgres"] = pool.Ping
	}
	if conn != nil {
		pings["amqp"] = func(context.Context) error {
			if conn.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		}
	}
	return healthcheck.NewAggregator(
		channelchecker.NewChecker(log, monitor),
		depchecker.NewChecker(log, pings),
	)
}

func provideSweeper(log *slog.Logger, checker *healthcheck.Aggregator, cfg config.Config) (*healthcheck.Sweeper, error) {
	return healthcheck.NewSweeper(log, checker, cfg.AccountIDs, cfg.Health.ProbeSchedule)
}

func providePingHandler() *handlers.PingHandler {
	return handlers.NewPingHandler(version)
}

func provideHealthHandler(checker *healthcheck.Aggregator, sweeper *healthcheck.Sweeper, cfg config.Config) *handlers.HealthHandler {
	return handlers.NewHealthHandler(checker, cfg.AccountIDs, sweeper)
}

func provideAccountsHandler(log *slog.Logger, monitor *bridge.Monitor, sender *outbound.Sender) *handlers.AccountsHandler {
	return handlers.NewAccountsHandler(log, monitor, sender)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// startMonitors arms every enabled account. Monitors stop before the gateway
// listener shuts down.
func startMonitors(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, monitor *bridge.Monitor, gw *gateway.Server, sender *outbound.Sender) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sender.Observe(monitor.MarkOutbound)
			started := 0
			for _, id := range cfg.AccountIDs() {
				if reason := skipReason(cfg.ResolveAccount(id)); reason != "" {
					log.Warn("account not monitored",
						slog.String("account_id", id),
						slog.String("reason", reason),
					)
					continue
				}
				err := monitor.Start(ctx, id)
				if errors.Is(err, bridge.ErrAccountDisabled) {
					continue
				}
				if err != nil {
					return fmt.Errorf("start account %s: %w", id, err)
				}
				started++
			}
			log.Info("gateway ready",
				slog.String("addr", "ws://"+cfg.Gateway.Addr()),
				slog.Int("accounts", started),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			monitor.StopAll()
			return gw.Shutdown(stopCtx)
		},
	})
}

// skipReason explains why serve leaves an account unmonitored, or returns "".
func skipReason(acct config.Account) string {
	switch {
	case !acct.Enabled:
		return "account disabled"
	case acct.Token == "":
		return "no gateway token configured"
	}
	return ""
}

func startReplyConsumer(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, conn *amqp.Connection, sender *outbound.Sender) {
	if conn == nil {
		return
	}
	consumer := relay.NewReplyConsumer(log, conn, sender, relay.ConsumerOptions{
		Exchange:   cfg.AMQP.Exchange,
		Queue:      cfg.AMQP.ReplyQueue,
		RoutingKey: cfg.AMQP.ReplyRoutingKey,
	})
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return consumer.Start(ctx) },
		OnStop:  func(context.Context) error { cancel(); return consumer.Close() },
	})
}

func startSweeper(lc fx.Lifecycle, sweeper *healthcheck.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { sweeper.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	log.Info("starting qqbridge", slog.String("version", version))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("admin server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
