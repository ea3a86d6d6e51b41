package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/terarelay/internal/boot"
	"github.com/memohai/terarelay/internal/channel"
	"github.com/memohai/terarelay/internal/channel/adapters/telegram"
	"github.com/memohai/terarelay/internal/config"
	"github.com/memohai/terarelay/internal/download"
	"github.com/memohai/terarelay/internal/handlers"
	"github.com/memohai/terarelay/internal/link"
	"github.com/memohai/terarelay/internal/logger"
	"github.com/memohai/terarelay/internal/metrics"
	"github.com/memohai/terarelay/internal/pipeline"
	"github.com/memohai/terarelay/internal/relay"
	"github.com/memohai/terarelay/internal/resolver"
	"github.com/memohai/terarelay/internal/schedule"
	"github.com/memohai/terarelay/internal/server"
	"github.com/memohai/terarelay/internal/session"
)

func newApp(configPath string) *fx.App {
	return fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			boot.ProvideRuntimeConfig,
			provideLogger,

			metrics.New,
			provideLinkValidator,
			provideResolver,
			provideDownloader,
			provideSessionStore,
			provideTelegramAdapter,
			provideMessenger,
			provideUploader,
			provideOrchestrator,
			provideScheduleService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideMetricsHandler),
			provideServerHandler(provideWebhookHandler),

			provideServer,
		),
		fx.Invoke(
			startScheduleService,
			startChannelAdapter,
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

func provideLinkValidator(rc *boot.RuntimeConfig) *link.Validator {
	return link.NewValidator(rc.AllowedPrefixes)
}

func provideResolver(log *slog.Logger, rc *boot.RuntimeConfig) (*resolver.Client, error) {
	return resolver.NewClient(log, rc.Resolver, nil)
}

func provideDownloader(log *slog.Logger, rc *boot.RuntimeConfig) (*download.Downloader, error) {
	return download.NewDownloader(log, rc.Download, nil)
}

func provideSessionStore(rc *boot.RuntimeConfig) *session.Store {
	return session.NewStore(rc.SessionTTL)
}

func provideTelegramAdapter(log *slog.Logger, rc *boot.RuntimeConfig) (*telegram.TelegramAdapter, error) {
	return telegram.NewTelegramAdapter(log, rc.Telegram, nil)
}

func provideMessenger(adapter *telegram.TelegramAdapter) channel.Messenger {
	return adapter
}

func provideUploader(log *slog.Logger, messenger channel.Messenger, rc *boot.RuntimeConfig) *relay.Uploader {
	return relay.NewUploader(log, messenger, rc.Relay)
}

type orchestratorParams struct {
	fx.In

	Logger        *slog.Logger
	RuntimeConfig *boot.RuntimeConfig
	Validator     *link.Validator
	Resolver      *resolver.Client
	Downloader    *download.Downloader
	Uploader      *relay.Uploader
	Sessions      *session.Store
	Messenger     channel.Messenger
	Metrics       *metrics.Metrics
}

func provideOrchestrator(p orchestratorParams) (*pipeline.Orchestrator, error) {
	return pipeline.New(p.Logger, p.RuntimeConfig.Pipeline, pipeline.Deps{
		Validator: p.Validator,
		Resolver:  p.Resolver,
		Fetcher:   p.Downloader,
		Deliverer: p.Uploader,
		Sessions:  p.Sessions,
		Messenger: p.Messenger,
		Metrics:   p.Metrics,
	})
}

func provideScheduleService(log *slog.Logger, rc *boot.RuntimeConfig, sessions *session.Store, downloader *download.Downloader, m *metrics.Metrics) (*schedule.Service, error) {
	return schedule.NewService(log, rc.Sweep, sessions, downloader, m)
}

func provideMetricsHandler(m *metrics.Metrics) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(m.Handler())
}

// provideWebhookHandler returns nil in polling mode; a nil handler registers no route.
func provideWebhookHandler(log *slog.Logger, adapter *telegram.TelegramAdapter) *handlers.WebhookHandler {
	if adapter.Mode() != telegram.ModeWebhook {
		return nil
	}
	return handlers.NewWebhookHandler(log, adapter.WebhookPath(), adapter)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.ServerHandlers...)
}

func startScheduleService(lc fx.Lifecycle, svc *schedule.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start()
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
}

func startChannelAdapter(lc fx.Lifecycle, logger *slog.Logger, adapter *telegram.TelegramAdapter, orchestrator *pipeline.Orchestrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := adapter.Start(ctx, orchestrator); err != nil {
				return fmt.Errorf("start telegram adapter: %w", err)
			}
			logger.Info("telegram adapter started", slog.String("mode", string(adapter.Mode())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := adapter.Stop(ctx); err != nil {
				logger.Warn("stop telegram adapter", slog.Any("error", err))
			}
			// Let in-flight requests report their outcome before the process exits.
			return orchestrator.Wait(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
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
