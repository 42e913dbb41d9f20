package engine

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/amoria-app/chatsync/internal/bus"
	"github.com/amoria-app/chatsync/internal/lock"
	"github.com/amoria-app/chatsync/internal/logging"
	"github.com/amoria-app/chatsync/internal/notify"
	"github.com/amoria-app/chatsync/internal/outbox"
	"github.com/amoria-app/chatsync/internal/persist"
	"github.com/amoria-app/chatsync/internal/reconcile"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/store"
	"github.com/amoria-app/chatsync/internal/subs"
	"github.com/amoria-app/chatsync/internal/transport"
	"github.com/amoria-app/chatsync/internal/unread"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	UserID      string

	// WorkDir overrides the session directory (testing); empty = default.
	WorkDir string

	// Zero values select component defaults.
	MatchWindow     time.Duration
	StaleAfter      time.Duration
	PersistDebounce time.Duration

	Notifications notify.Settings
	NotifySink    notify.Sink
}

func (p Params) dir() string {
	if p.WorkDir != "" {
		return p.WorkDir
	}
	return session.Dir(p.SessionName)
}

// Module returns the fx module for the engine, composing all providers and
// lifecycle hooks around the supplied transport and resync loader.
func Module(p Params, t transport.Transport, l subs.Loader) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			func() transport.Transport { return t },
			func() subs.Loader { return l },
			provideLogger,
			provideBus,
			provideSession,
			provideLock,
			provideStore,
			provideTracker,
			provideReconciler,
			provideMachine,
			provideManager,
			provideSender,
			provideAdapter,
			provideSaver,
			provideDispatcher,
			New,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	logPath := session.LogPath(p.SessionName)
	if p.WorkDir != "" {
		logPath = filepath.Join(p.WorkDir, "logs", "chatsyncd.log")
	}
	return logging.New(logPath, p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideSession(p Params) *session.Context {
	return session.NewContext(p.UserID)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(b *bus.Bus) *store.Store {
	return store.New(b)
}

func provideTracker(s *store.Store, sess *session.Context) *unread.Tracker {
	return unread.NewTracker(s, sess)
}

func provideReconciler(p Params, s *store.Store, t *unread.Tracker, sess *session.Context, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.NewReconciler(s, t, sess, b, logger, p.MatchWindow)
}

func provideMachine(b *bus.Bus) *subs.Machine {
	return subs.NewMachine(b)
}

func provideManager(t transport.Transport, r *reconcile.Reconciler, l subs.Loader, s *store.Store, sess *session.Context, m *subs.Machine, b *bus.Bus, logger *zap.Logger) *subs.Manager {
	return subs.NewManager(t, r, l, s, sess, m, b, logger)
}

func provideSender(p Params, s *store.Store, t transport.Transport, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(s, t, b, logger, p.StaleAfter)
}

func provideAdapter(p Params, logger *zap.Logger) (*persist.SQLite, error) {
	dbPath := session.SnapshotDBPath(p.SessionName)
	if p.WorkDir != "" {
		dbPath = filepath.Join(p.WorkDir, "chatsync.db")
	}
	adapter, err := persist.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info("snapshot store ready", zap.String("path", dbPath))
	return adapter, nil
}

func provideSaver(p Params, adapter *persist.SQLite, s *store.Store, b *bus.Bus, logger *zap.Logger) *persist.Saver {
	return persist.NewSaver(adapter, s, b, logger, snapshotKey(p.UserID), p.PersistDebounce)
}

func provideDispatcher(p Params, b *bus.Bus, sess *session.Context, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(b, sess, p.Notifications, p.NotifySink, logger)
}

func snapshotKey(userID string) string {
	return "conversations:" + userID
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	lk *lock.Lock,
	adapter *persist.SQLite,
	s *store.Store,
	saver *persist.Saver,
	sender *outbox.Sender,
	manager *subs.Manager,
	dispatcher *notify.Dispatcher,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Reload the previous session's conversation set before any
			// live event can land.
			data, err := adapter.Load(snapshotKey(p.UserID))
			switch {
			case errors.Is(err, persist.ErrNotFound):
				logger.Info("no previous snapshot")
			case err != nil:
				// Snapshot is a cache; a broken one must not stop the engine.
				logger.Error("snapshot load failed", zap.Error(err))
			default:
				convs, decErr := persist.Decode(data)
				if decErr != nil {
					logger.Error("snapshot decode failed", zap.Error(decErr))
				} else {
					s.Replace(convs)
					logger.Info("snapshot restored", zap.Int("conversations", len(convs)))
				}
			}

			saver.Start(context.Background())
			dispatcher.Start(context.Background())
			sender.Start(context.Background())
			manager.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.Close()
			sender.Stop()
			dispatcher.Stop()
			saver.Stop()
			saver.Flush()
			if err := adapter.Close(); err != nil {
				logger.Warn("error closing snapshot store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
