package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/lock"
	"github.com/matheus3301/inbox/internal/logging"
	"github.com/matheus3301/inbox/internal/metrics"
	"github.com/matheus3301/inbox/internal/notify"
	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/restapi"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
	intsync "github.com/matheus3301/inbox/internal/sync"
	"github.com/matheus3301/inbox/internal/wsclient"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideSessionConfig,
			provideLogger,
			provideIdentity,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRESTClient,
			provideSocket,
			provideSyncEngine,
			provideSender,
			provideNotifier,
			provideCollector,
			provideControl,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSessionConfig(p Params) (*config.Session, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	cfg, err := config.LoadSession(session.SessionConfigPath(p.SessionName))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", p.SessionName, err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Session) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideIdentity(cfg *config.Session) *session.Identity {
	return session.NewIdentity(cfg.Server.UserID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by the daemon
// that holds it.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRESTClient(cfg *config.Session, identity *session.Identity, logger *zap.Logger) *restapi.Client {
	return restapi.NewClient(cfg.Server.Host, cfg.Server.Secure, identity, restapi.DefaultTimeout, logger)
}

func provideSocket(cfg *config.Session, identity *session.Identity, b *bus.Bus, m *status.Machine, logger *zap.Logger) *wsclient.Client {
	return wsclient.New(wsclient.NewConfig(cfg.Server, cfg.Socket), identity, b, logger, wsclient.WithMachine(m))
}

func provideSyncEngine(db *store.DB, b *bus.Bus, identity *session.Identity, rest *restapi.Client, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, identity, rest, logger)
}

func provideSender(cfg *config.Session, db *store.DB, rest *restapi.Client, identity *session.Identity, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, rest, identity, b, cfg.Outbox.PollInterval(), logger)
}

func provideNotifier(cfg *config.Session, db *store.DB, rest *restapi.Client, b *bus.Bus, logger *zap.Logger) *notify.Service {
	return notify.NewService(db, rest, b, cfg.Notifications.PollInterval(), logger)
}

func provideCollector(logger *zap.Logger) *metrics.Collector {
	return metrics.NewCollector(logger)
}

type controlDeps struct {
	fx.In

	Params   Params
	Config   *config.Session
	Socket   *wsclient.Client
	Identity *session.Identity
	DB       *store.DB
	Engine   *intsync.Engine
	Sender   *outbox.Sender
	REST     *restapi.Client
	Notifier *notify.Service
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func provideControl(d controlDeps) *api.Control {
	name := d.Params.SessionName
	save := func(userID string) error {
		cfg := *d.Config
		cfg.Server.UserID = userID
		return config.SaveSession(session.SessionConfigPath(name), &cfg)
	}
	return &api.Control{
		SessionService:      api.NewSessionService(name, d.Socket, d.Identity, d.DB, d.Engine.Reconciler(), save, d.Logger),
		MessageService:      api.NewMessageService(d.DB, d.Sender, d.REST, d.Identity, d.Logger),
		NotificationService: api.NewNotificationService(d.Notifier, d.Logger),
		EventService:        api.NewEventService(name, d.Bus, d.Logger),
	}
}

type lifecycleDeps struct {
	fx.In

	Server    *Server
	Metrics   *MetricsServer
	Lock      *lock.Lock
	DB        *store.DB
	Socket    *wsclient.Client
	Identity  *session.Identity
	Engine    *intsync.Engine
	Sender    *outbox.Sender
	Notifier  *notify.Service
	Collector *metrics.Collector
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// A mirror left behind by another user is dropped before anything reads it.
			if id := d.Identity.UserID(); id != "" {
				reset, err := d.Engine.Reconciler().ClaimMirror(id)
				if err != nil {
					return fmt.Errorf("claim mirror: %w", err)
				}
				if reset {
					logger.Info("local mirror reset for new user", zap.String("user_id", id))
				}
			}

			// Collectors and the sync engine subscribe before anything publishes.
			d.Collector.Start(context.Background(), d.Bus)
			d.Engine.Start(context.Background())

			if err := d.Metrics.Start(); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			d.Sender.Start(context.Background())
			d.Notifier.Start(context.Background())

			if d.Identity.UserID() == "" {
				logger.Info("no user id configured; run inboxctl login")
				return nil
			}
			go func() {
				if err := d.Socket.Connect(context.Background()); err != nil {
					logger.Warn("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Notifier.Stop()
			d.Sender.Stop()
			d.Socket.Disconnect()
			d.Engine.Stop()
			d.Collector.Stop()
			d.Metrics.Stop(ctx)
			d.Server.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
