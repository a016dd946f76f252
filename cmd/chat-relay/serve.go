package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"twitch-chat-relay/auth"
	"twitch-chat-relay/config"
	"twitch-chat-relay/emote"
	"twitch-chat-relay/errutil"
	"twitch-chat-relay/hub"
	"twitch-chat-relay/logging"
	"twitch-chat-relay/observability"
	"twitch-chat-relay/server"
	"twitch-chat-relay/service"
	"twitch-chat-relay/storage"
	"twitch-chat-relay/subscription"
	"twitch-chat-relay/tokens"
	"twitch-chat-relay/twitch"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить ретранслятор",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.SetDefault("chat-relay", cfg.Log.Format, cfg.Log.Level)
	metrics := observability.NewMetrics()

	irc := twitch.NewClient(cfg.Twitch, twitch.WithLogger(logger))
	subs := subscription.NewManager(irc,
		subscription.WithLogger(logger),
		subscription.WithMetrics(metrics),
		subscription.WithJoinRetry(cfg.Relay.JoinRetries, cfg.Relay.JoinRetryDelay),
	)
	registry := hub.NewRegistry(subs,
		hub.WithLogger(logger),
		hub.WithMetrics(metrics),
		hub.WithQueueSize(cfg.Relay.QueueSize),
		hub.WithSendTimeout(cfg.Relay.SendTimeout),
	)
	engine := newEmoteEngine(cfg, logger, metrics)

	pipelineOpts := []service.PipelineOption{
		service.WithEnricher(engine),
		service.WithPipelineLogger(logger),
		service.WithPipelineMetrics(metrics),
	}
	if cfg.Archive.Enabled {
		archive, err := storage.Open(ctx, cfg.Postgres.DSN(), storage.BatchConfig{
			MaxBatch:      cfg.Batch.MaxBatch,
			FlushEvery:    cfg.Batch.FlushEvery,
			ChanBuffer:    cfg.Batch.ChanBuffer,
			StatsLogEvery: cfg.Batch.StatsLogEvery,
			FlushTimeout:  cfg.Batch.FlushTimeout,
		}, logger)
		if err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts, service.WithArchive(archive))
	}
	pipeline := service.NewPipeline(subs, registry, pipelineOpts...)

	for _, channel := range cfg.Twitch.Channels {
		if err := subs.Subscribe(ctx, channel, subscription.Global); err != nil {
			errutil.LogError(logger, "serve: стартовая подписка не удалась", err, "channel", channel)
		}
	}

	svc := service.New(irc, pipeline,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithBackoff(cfg.Upstream.BackoffBase, cfg.Upstream.BackoffMax, cfg.Upstream.StableAfter),
	)
	srv := server.New(registry, subs,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithOriginPatterns(cfg.HTTP.OriginPatterns),
		server.WithWriteTimeout(cfg.Relay.WriteTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.HTTP.Addr)
	})
	g.Go(func() error {
		if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := engine.Refresh(gctx); err != nil {
			logger.Warn("serve: глобальные эмоуты загружены не полностью", "error", err)
		}
		engine.RunRefresher(gctx, cfg.Emotes.RefreshEvery)
		return nil
	})

	logger.Info("serve: запущен", "addr", cfg.HTTP.Addr, "anonymous", cfg.Twitch.Anonymous(), "emote_providers", engine.Providers())
	err := g.Wait()
	logger.Info("serve: остановлен")
	return err
}

func newEmoteEngine(cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) *emote.Engine {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	opts := []emote.Option{emote.WithLogger(logger), emote.WithMetrics(metrics)}

	if cfg.Emotes.HelixEnabled() {
		opts = append(opts, emote.WithProvider(emote.NewHelixProvider(
			cfg.Emotes.HelixBaseURL,
			cfg.Emotes.ClientID,
			newTokenManager(cfg.Emotes, httpClient),
			httpClient,
			logger,
		)))
	}
	if cfg.Emotes.FFZEnabled {
		opts = append(opts, emote.WithProvider(emote.NewFFZProvider(cfg.Emotes.FFZBaseURL, httpClient, logger)))
	}
	return emote.NewEngine(opts...)
}

func newTokenManager(cfg config.EmoteConfig, httpClient *http.Client) *tokens.AppTokenManager {
	creds := auth.AppCredentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.OAuthURL,
	}
	return tokens.NewAppTokenManager(tokens.FileTokenStore{Path: cfg.TokenFile}, func(ctx context.Context) (string, time.Duration, error) {
		return auth.GetAppToken(ctx, httpClient, creds)
	})
}
