package state

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/cache"
	"github.com/five82/hackops/internal/metrics"
	"github.com/five82/hackops/internal/netcall"
	"github.com/five82/hackops/internal/outbox"
	"github.com/five82/hackops/internal/session"
)

const maxNotices = 50

// Notice is a non-blocking message for the operator.
type Notice struct {
	At      time.Time
	Message string
}

// Options wire a Store to its collaborators. Client and Session are required.
type Options struct {
	Client  *api.Client
	Session *session.Store
	Monitor *netcall.Monitor // nil means always online
	Outbox  *outbox.Queue    // nil disables deferred writes
	Log     *logrus.Entry
	Metrics *metrics.Recorder

	// QueueOfflineWrites keeps optimistic changes made while offline and
	// defers their writes to the outbox instead of rolling them back.
	QueueOfflineWrites bool
}

// Store is the client-side sync context: one per process, passed to whoever
// needs it, torn down with Dispose.
type Store struct {
	client       *api.Client
	session      *session.Store
	monitor      *netcall.Monitor
	outbox       *outbox.Queue
	caller       *netcall.Caller
	log          *logrus.Entry
	metrics      *metrics.Recorder
	queueOffline bool

	participants    *entity[api.Participant]
	coordinators    *entity[api.Coordinator]
	labs            *entity[api.Lab]
	supportRequests *entity[api.SupportRequest]
	logs            *entity[api.LogEntry]
	settings        *cache.Value[api.Settings]
	currentUser     *cache.Value[api.Participant]

	conflicts  atomic.Int64
	refreshing atomic.Int32

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	bgMu     sync.Mutex
	bg       sync.WaitGroup
	disposed bool

	mu          sync.Mutex
	notices     []Notice
	lastRefresh time.Time
	refreshErr  string
}

// New builds a Store and subscribes it to reconnect events.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("state store requires an api client")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("state store requires a session store")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		client:       opts.Client,
		session:      opts.Session,
		monitor:      opts.Monitor,
		outbox:       opts.Outbox,
		log:          log.WithField("component", "state"),
		metrics:      opts.Metrics,
		queueOffline: opts.QueueOfflineWrites,
		settings:     cache.NewValue[api.Settings]("settings"),
		currentUser:  cache.NewValue[api.Participant]("current user"),
		ctx:          ctx,
		cancel:       cancel,
	}

	var reach netcall.Reachability
	if opts.Monitor != nil {
		reach = opts.Monitor
	}
	s.caller = netcall.New(netcall.Options{
		Reachability: reach,
		Notifier:     s,
		Log:          log,
		Metrics:      opts.Metrics,
	})
	s.bindEntities()

	if opts.Monitor != nil {
		s.unsubscribe = opts.Monitor.OnChange(func(online bool) {
			if online {
				s.goBackground(s.reconnect)
			}
		})
	}
	return s, nil
}

// Dispose detaches from the monitor, cancels background work and waits for it
// to finish. The Store must not be used afterwards.
func (s *Store) Dispose() {
	s.bgMu.Lock()
	if s.disposed {
		s.bgMu.Unlock()
		return
	}
	s.disposed = true
	s.bgMu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.bg.Wait()
}

// Participants returns the participant cache.
func (s *Store) Participants() *cache.List[api.Participant] { return s.participants.cache }

// Coordinators returns the coordinator cache.
func (s *Store) Coordinators() *cache.List[api.Coordinator] { return s.coordinators.cache }

// Labs returns the lab cache.
func (s *Store) Labs() *cache.List[api.Lab] { return s.labs.cache }

// SupportRequests returns the support request cache.
func (s *Store) SupportRequests() *cache.List[api.SupportRequest] { return s.supportRequests.cache }

// Logs returns the audit log cache.
func (s *Store) Logs() *cache.List[api.LogEntry] { return s.logs.cache }

// Settings returns the settings singleton.
func (s *Store) Settings() *cache.Value[api.Settings] { return s.settings }

// CurrentUser returns the participant record of a participant-role session.
func (s *Store) CurrentUser() *cache.Value[api.Participant] { return s.currentUser }

// Session returns the session store.
func (s *Store) Session() *session.Store { return s.session }

// Caller returns the call wrapper, which owns the loading and error state.
func (s *Store) Caller() *netcall.Caller { return s.caller }

// Outbox returns the offline queue, or nil.
func (s *Store) Outbox() *outbox.Queue { return s.outbox }

// Monitor returns the reachability monitor, or nil.
func (s *Store) Monitor() *netcall.Monitor { return s.monitor }

// SetForcedOffline pins the client offline, or releases it. Without a
// monitor it does nothing.
func (s *Store) SetForcedOffline(forced bool) {
	if s.monitor == nil {
		return
	}
	s.monitor.SetForced(forced)
}

// Conflicts returns how many rollbacks were discarded because the cache had
// moved on.
func (s *Store) Conflicts() int64 { return s.conflicts.Load() }

// Notify implements netcall.Notifier.
func (s *Store) Notify(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, Notice{At: time.Now(), Message: msg})
	if len(s.notices) > maxNotices {
		s.notices = append([]Notice(nil), s.notices[len(s.notices)-maxNotices:]...)
	}
}

// Notices returns the retained notices, oldest first.
func (s *Store) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notice(nil), s.notices...)
}

// Login activates sess and starts a background refresh for its role.
func (s *Store) Login(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return fmt.Errorf("login requires a session")
	}
	if err := s.session.Set(ctx, sess); err != nil {
		return err
	}
	s.goBackground(func(ctx context.Context) { _ = s.Refresh(ctx) })
	return nil
}

// Logout clears the session and the current-user projection.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.session.Logout(ctx); err != nil {
		return err
	}
	s.currentUser.Clear()
	return nil
}

// Snapshot is an immutable view for display.
type Snapshot struct {
	Session         *session.Session
	Online          bool
	Forced          bool
	Loading         bool
	InFlight        int64
	LastError       string
	LastErrorAt     time.Time
	Caches          []cache.Status
	Settings        api.Settings
	HasSettings     bool
	SupportRequests []api.SupportRequest
	Pending         []outbox.Entry
	Dead            []outbox.Entry
	Draining        bool
	Refreshing      bool
	LastRefresh     time.Time
	RefreshError    string
	Conflicts       int64
	Notices         []Notice
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Session:   s.session.Current(),
		Online:    s.caller.Online(),
		Loading:   s.caller.Loading(),
		InFlight:  s.caller.InFlight(),
		Conflicts: s.conflicts.Load(),
		Caches: []cache.Status{
			s.settings.Status(),
			s.participants.cache.Status(),
			s.coordinators.cache.Status(),
			s.labs.cache.Status(),
			s.supportRequests.cache.Status(),
			s.logs.cache.Status(),
			s.currentUser.Status(),
		},
		SupportRequests: s.supportRequests.cache.Items(),
		Refreshing:      s.refreshing.Load() > 0,
		Notices:         s.Notices(),
	}
	snap.LastError, snap.LastErrorAt = s.caller.LastError()
	snap.Settings, snap.HasSettings = s.settings.Get()
	if s.monitor != nil {
		snap.Forced = s.monitor.Forced()
	}
	if s.outbox != nil {
		snap.Pending = s.outbox.Pending()
		snap.Dead = s.outbox.Dead()
		snap.Draining = s.outbox.Draining()
	}
	s.mu.Lock()
	snap.LastRefresh = s.lastRefresh
	snap.RefreshError = s.refreshErr
	s.mu.Unlock()
	return snap
}

// goBackground runs fn on the store's lifetime context unless disposed.
func (s *Store) goBackground(fn func(ctx context.Context)) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.disposed {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.ctx)
	}()
}

// waitBackground blocks until all background work started so far is done.
func (s *Store) waitBackground() {
	s.bg.Wait()
}
