// Package presence runs the per-user ONLINE/OFFLINE state machine.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/broadcast"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const (
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultGracePeriod      = 5 * time.Second
	DefaultSettleDelay      = DefaultGracePeriod + 500*time.Millisecond

	storeTimeout = 5 * time.Second
)

type Config struct {
	HeartbeatTimeout time.Duration
	GracePeriod      time.Duration
	// SettleDelay is measured from the disconnect and must exceed
	// GracePeriod; the OFFLINE broadcast re-reads status at that point.
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SettleDelay <= c.GracePeriod {
		c.SettleDelay = c.GracePeriod + c.GracePeriod/10
	}
	return c
}

// Store is the slice of the repository the tracker writes through.
type Store interface {
	GetUser(ctx context.Context, id string) (model.Identity, error)
	SetPresence(ctx context.Context, id string, status model.PresenceStatus, lastSeen time.Time) error
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Cache mirrors presence into a fast lookup store for other services.
type Cache interface {
	MarkOnline(ctx context.Context, userID string, conversationIDs []string) error
	MarkOffline(ctx context.Context, userID string, conversationIDs []string) error
}

// Closer force-closes every live connection of a user.
type Closer func(userID string)

type Option func(*Tracker)

func WithCache(c Cache) Option { return func(t *Tracker) { t.cache = c } }

func WithCloser(c Closer) Option { return func(t *Tracker) { t.closer = c } }

// WithObserver is called after every committed transition.
func WithObserver(fn func(model.PresenceStatus)) Option {
	return func(t *Tracker) { t.observe = fn }
}

type Tracker struct {
	cfg     Config
	store   Store
	out     broadcast.Broadcaster
	log     *slog.Logger
	cache   Cache
	closer  Closer
	observe func(model.PresenceStatus)

	heartbeats *timerSlot
	offline    *timerSlot

	mu    sync.Mutex
	conns map[string]int
}

func NewTracker(cfg Config, store Store, out broadcast.Broadcaster, log *slog.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		cfg:        cfg.withDefaults(),
		store:      store,
		out:        out,
		log:        log,
		heartbeats: newTimerSlot(),
		offline:    newTimerSlot(),
		conns:      make(map[string]int),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetCloser installs the force-close hook after construction; the gateway
// that owns the connections is usually built after the tracker.
func (t *Tracker) SetCloser(c Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closer = c
}

// Connect marks userID ONLINE, broadcasts it, and starts heartbeat
// monitoring. A pending offline transition is cancelled.
func (t *Tracker) Connect(ctx context.Context, userID string) error {
	cancelled := t.offline.Cancel(userID)

	t.mu.Lock()
	t.conns[userID]++
	t.mu.Unlock()

	t.heartbeats.Start(userID, t.cfg.HeartbeatTimeout, func() { t.heartbeatExpired(userID) })

	now := time.Now().UTC()
	if err := t.store.SetPresence(ctx, userID, model.StatusOnline, now); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	if cancelled {
		t.log.Debug("reconnect within grace period", "user", userID)
	}
	t.commit(ctx, userID, model.StatusOnline, now)
	return nil
}

// Heartbeat refreshes last-seen and resets the heartbeat timeout.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	t.heartbeats.Start(userID, t.cfg.HeartbeatTimeout, func() { t.heartbeatExpired(userID) })
	if err := t.store.SetPresence(ctx, userID, model.StatusOnline, time.Now().UTC()); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Disconnect records that one connection of userID went away. Once no
// connection remains, the user goes OFFLINE: immediately, or after the
// grace period so a quick reconnect produces no visible flicker.
func (t *Tracker) Disconnect(ctx context.Context, userID string, immediate bool) {
	t.mu.Lock()
	if t.conns[userID] > 0 {
		t.conns[userID]--
	}
	remaining := t.conns[userID]
	if remaining == 0 {
		delete(t.conns, userID)
	}
	t.mu.Unlock()
	if remaining > 0 {
		return
	}

	t.heartbeats.Cancel(userID)
	if immediate {
		t.offline.Cancel(userID)
		t.goOffline(ctx, userID, 0)
		return
	}
	if !t.offline.StartIfIdle(userID, t.cfg.GracePeriod, func() { t.graceExpired(userID) }) {
		t.log.Debug("offline transition already pending", "user", userID)
	}
}

// Online reports whether the tracker holds a live connection for userID.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID] > 0
}

// Close cancels every pending timer.
func (t *Tracker) Close() {
	t.heartbeats.StopAll()
	t.offline.StopAll()
}

func (t *Tracker) heartbeatExpired(userID string) {
	t.log.Info("heartbeat timeout", "user", userID)
	t.mu.Lock()
	delete(t.conns, userID)
	closer := t.closer
	t.mu.Unlock()

	t.offline.Start(userID, t.cfg.GracePeriod, func() { t.graceExpired(userID) })
	if closer != nil {
		closer(userID)
	}
}

func (t *Tracker) graceExpired(userID string) {
	if t.Online(userID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	t.goOffline(ctx, userID, t.cfg.SettleDelay-t.cfg.GracePeriod)
}

// goOffline writes OFFLINE, then broadcasts after settle. The broadcast
// re-reads status so a reconnect in between is not reported as OFFLINE.
func (t *Tracker) goOffline(ctx context.Context, userID string, settle time.Duration) {
	now := time.Now().UTC()
	if err := t.store.SetPresence(ctx, userID, model.StatusOffline, now); err != nil {
		t.log.Error("set offline failed", "user", userID, "error", err)
		return
	}
	if t.Online(userID) {
		// A reconnect landed while OFFLINE was being written. It already
		// broadcast ONLINE, so only the stored status needs repair.
		t.restoreOnline(ctx, userID)
		return
	}
	if settle <= 0 {
		t.commit(ctx, userID, model.StatusOffline, now)
		return
	}
	t.offline.Start(userID, settle, func() {
		if t.Online(userID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		user, err := t.store.GetUser(ctx, userID)
		if err != nil {
			t.log.Error("re-read presence failed", "user", userID, "error", err)
			return
		}
		if user.Status != model.StatusOffline {
			return
		}
		t.commit(ctx, userID, user.Status, user.LastSeenAt)
	})
}

func (t *Tracker) restoreOnline(ctx context.Context, userID string) {
	t.log.Debug("reconnect raced offline write", "user", userID)
	if err := t.store.SetPresence(ctx, userID, model.StatusOnline, time.Now().UTC()); err != nil {
		t.log.Error("restore online failed", "user", userID, "error", err)
	}
}

func (t *Tracker) commit(ctx context.Context, userID string, status model.PresenceStatus, lastSeen time.Time) {
	if t.observe != nil {
		t.observe(status)
	}
	rooms, err := t.store.ConversationIDsForUser(ctx, userID)
	if err != nil {
		t.log.Error("load presence rooms failed", "user", userID, "error", err)
		return
	}
	if t.cache != nil {
		var cerr error
		if status == model.StatusOnline {
			cerr = t.cache.MarkOnline(ctx, userID, rooms)
		} else {
			cerr = t.cache.MarkOffline(ctx, userID, rooms)
		}
		if cerr != nil {
			t.log.Warn("presence cache update failed", "user", userID, "error", cerr)
		}
	}
	update := model.PresenceUpdate{UserID: userID, Status: status, LastSeenAt: lastSeen, Timestamp: time.Now().UTC()}
	for _, room := range rooms {
		if err := t.out.ToRoom(ctx, room, model.EventPresenceUpdate, update); err != nil {
			t.log.Warn("presence broadcast failed", "user", userID, "room", room, "error", err)
		}
	}
}
