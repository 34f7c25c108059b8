// Package app composes the engine into an fx application.
package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Akgit99/message-dash-f/internal/api"
	"github.com/Akgit99/message-dash-f/internal/bot"
	"github.com/Akgit99/message-dash-f/internal/bus"
	"github.com/Akgit99/message-dash-f/internal/channel"
	"github.com/Akgit99/message-dash-f/internal/chat"
	"github.com/Akgit99/message-dash-f/internal/config"
	"github.com/Akgit99/message-dash-f/internal/conn"
	"github.com/Akgit99/message-dash-f/internal/lock"
	"github.com/Akgit99/message-dash-f/internal/logging"
	"github.com/Akgit99/message-dash-f/internal/loop"
	"github.com/Akgit99/message-dash-f/internal/metrics"
	"github.com/Akgit99/message-dash-f/internal/presence"
	"github.com/Akgit99/message-dash-f/internal/profile"
	"github.com/Akgit99/message-dash-f/internal/status"
	"github.com/Akgit99/message-dash-f/internal/store"
	"github.com/Akgit99/message-dash-f/internal/typing"
)

// Params holds the resolved profile and configuration passed to the module.
type Params struct {
	Profile string
	Config  *config.Config
	// BaseDir overrides ~/.msgdash for testing; empty = use default.
	BaseDir string
	// Interactive limits stderr to warnings so log lines do not interleave
	// with the chat session.
	Interactive bool
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("msgdash",
		fx.Supply(p),
		fx.Provide(
			providePaths,
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideStateMachine,
			provideLock,
			provideStore,
			provideLoop,
			provideScheduler,
			provideChannel,
			provideAPI,
			provideDirectory,
			provideTyping,
			provideSynchronizer,
			provideManager,
			provideMetricsServer,
			NewClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func providePaths(p Params) profile.Paths {
	if p.BaseDir != "" {
		return profile.Paths{Base: p.BaseDir, Name: p.Profile}
	}
	return profile.For(p.Profile)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, cfg.Validate()
}

func provideLogger(p Params, paths profile.Paths, cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	stderrLevel := level
	if p.Interactive && stderrLevel < zapcore.WarnLevel {
		stderrLevel = zapcore.WarnLevel
	}
	return logging.New(paths.LogPath(), paths.Name, level, stderrLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(paths profile.Paths, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", paths.Name))
	l, err := lock.Acquire(paths.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second process.
func provideStore(paths profile.Paths, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideLoop(logger *zap.Logger) *loop.Loop {
	return loop.New(logger.Named("loop"), 256)
}

func provideScheduler(l *loop.Loop) loop.Scheduler {
	return l
}

func provideChannel(cfg *config.Config, l *loop.Loop, logger *zap.Logger) channel.Channel {
	wsCfg := channel.DefaultWSConfig(cfg.ServerURL)
	wsCfg.BaseDelay = cfg.Reconnect.BaseDelay.Duration
	wsCfg.MaxDelay = cfg.Reconnect.MaxDelay.Duration
	wsCfg.MaxAttempts = cfg.Reconnect.MaxAttempts
	return channel.NewWS(wsCfg, logger.Named("channel"), l.PostContext)
}

func provideAPI(cfg *config.Config, db *store.DB, logger *zap.Logger) *api.Client {
	return api.New(cfg.ServerURL, db, logger.Named("api"))
}

func provideDirectory(ch channel.Channel, b *bus.Bus, logger *zap.Logger) *presence.Directory {
	return presence.New(ch, b, logger.Named("presence"))
}

func provideTyping(cfg *config.Config, sched loop.Scheduler, ch channel.Channel, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *typing.Coordinator {
	return typing.New(sched, ch, b, m, logger.Named("typing"), typing.Options{
		Timeout:  cfg.TypingTimeout.Duration,
		Coalesce: cfg.TypingCoalesce.Duration,
	})
}

func provideSynchronizer(cfg *config.Config, sched loop.Scheduler, ch channel.Channel, client *api.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *chat.Synchronizer {
	return chat.NewSynchronizer(sched, ch, client, b, m, logger.Named("chat"), chat.Options{
		BotReplyDelay:     cfg.BotReplyDelay.Duration,
		PersistBotReplies: cfg.PersistBotReplies,
		Reply:             bot.Reply,
	})
}

type managerIn struct {
	fx.In

	Config  *config.Config
	Sched   loop.Scheduler
	Channel channel.Channel
	API     *api.Client
	DB      *store.DB
	Machine *status.Machine
	Sync    *chat.Synchronizer
	Dir     *presence.Directory
	Typing  *typing.Coordinator
	Bus     *bus.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func provideManager(in managerIn) *conn.Manager {
	return conn.New(conn.Deps{
		Sched:   in.Sched,
		Channel: in.Channel,
		Auth:    in.API,
		Tokens:  in.DB,
		Machine: in.Machine,
		Sync:    in.Sync,
		Dir:     in.Dir,
		Typing:  in.Typing,
		Bus:     in.Bus,
		Metrics: in.Metrics,
		Logger:  in.Logger.Named("conn"),
	}, conn.Options{KeepaliveInterval: in.Config.KeepaliveInterval.Duration})
}

func provideMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	if cfg.MetricsAddr == "" {
		return nil
	}
	return NewMetricsServer(cfg.MetricsAddr, m, logger.Named("metrics"))
}

func registerLifecycle(lc fx.Lifecycle, l *loop.Loop, mgr *conn.Manager, srv *MetricsServer, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			l.Start(context.Background())
			if err := srv.Start(); err != nil {
				return err
			}
			logger.Info("msgdash started", zap.Int("pid", os.Getpid()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Shutdown()
			l.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("msgdash stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
