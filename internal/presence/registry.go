// ABOUTME: In-memory registry of live real-time connections per user
// ABOUTME: Detects online/offline edges and fans events out without holding the lock during sends

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/huddle/internal/metrics"
)

// ErrClosed is returned by Register after the registry has been closed.
var ErrClosed = errors.New("presence registry closed")

// Connection is a live client connection. Implementations must be
// comparable (typically pointers) since they are used as set members.
//
// A connection whose Send fails is closed and removed from its user's set,
// so the transport's own Unregister for it later is a no-op.
type Connection interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// forceCloser is implemented by connections that can be dropped without a
// close handshake. Close falls back to it once its context expires.
type forceCloser interface {
	CloseNow() error
}

// target is one connection picked for delivery
type target struct {
	userID string
	conn   Connection
}

// Registry tracks which users are connected and delivers events to them.
// Delivery is best effort: a failed send drops that connection and is
// otherwise ignored.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]map[Connection]struct{} // userID -> live connections
	presence map[string]Presence
	edges    map[string]uint64 // userID -> sequence of the latest presence edge
	closed   bool

	// emitMu serializes presence_changed sends so a user's edges reach
	// observers in the order they happened. Never taken while holding mu.
	emitMu sync.Mutex

	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:    make(map[string]map[Connection]struct{}),
		presence: make(map[string]Presence),
		edges:    make(map[string]uint64),
		now:      time.Now,
		logger:   logger.With("component", "presence"),
	}
}

// Register attaches conn to userID and sends it a connected frame. If it is
// the user's first live connection, a presence_changed event goes out to
// every connected user. Registering a connection twice is a no-op.
func (r *Registry) Register(ctx context.Context, userID string, conn Connection) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[Connection]struct{})
		r.conns[userID] = set
	}
	if _, dup := set[conn]; dup {
		r.mu.Unlock()
		return nil
	}
	wasOffline := len(set) == 0
	set[conn] = struct{}{}

	now := r.now().UTC()
	r.presence[userID] = Presence{IsOnline: true, LastSeenAt: now}
	var edge uint64
	if wasOffline {
		edge = r.stampEdgeLocked(userID)
	}
	r.mu.Unlock()

	metrics.LiveConnections.Inc()
	r.logger.Debug("connection registered", "user_id", userID)
	failed := r.deliver(ctx, []target{{userID: userID, conn: conn}}, mustMarshal(Event{Type: EventConnected}), EventConnected)

	if wasOffline {
		metrics.OnlineUsers.Inc()
		r.logger.Info("user online", "user_id", userID)
		failed = append(failed, r.emitPresence(ctx, userID, edge, true, now)...)
	}
	r.drop(ctx, failed)
	return nil
}

// Unregister detaches conn. When the user's last connection goes away the
// user is marked offline and a presence_changed event is broadcast.
// Unknown connections are ignored.
func (r *Registry) Unregister(ctx context.Context, userID string, conn Connection) {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := set[conn]; !ok {
		r.mu.Unlock()
		return
	}

	delete(set, conn)
	wentOffline := len(set) == 0
	now := r.now().UTC()
	var edge uint64
	if wentOffline {
		delete(r.conns, userID)
		r.presence[userID] = Presence{IsOnline: false, LastSeenAt: now}
		edge = r.stampEdgeLocked(userID)
	}
	r.mu.Unlock()

	metrics.LiveConnections.Dec()
	r.logger.Debug("connection unregistered", "user_id", userID)

	if wentOffline {
		metrics.OnlineUsers.Dec()
		r.logger.Info("user offline", "user_id", userID)
		r.drop(ctx, r.emitPresence(ctx, userID, edge, false, now))
	}
}

// Broadcast delivers event to the connections of its recipients, or to
// every connection when it has none. It returns once every send attempt
// has finished.
func (r *Registry) Broadcast(ctx context.Context, event Event) {
	r.drop(ctx, r.broadcast(ctx, event))
}

// UserPresence returns the last known presence of a user. Users never seen
// report offline with a zero LastSeenAt.
func (r *Registry) UserPresence(userID string) Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence[userID]
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID]) > 0
}

// OnlineUserIDs returns the sorted ids of users with a live connection.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id, set := range r.conns {
		if len(set) > 0 {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Close closes every live connection concurrently and rejects further
// registrations. If ctx expires first, connections still closing are
// dropped without a handshake when they support it, and ctx's error is
// returned.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	var all []Connection
	now := r.now().UTC()
	for userID, set := range r.conns {
		for conn := range set {
			all = append(all, conn)
		}
		r.presence[userID] = Presence{IsOnline: false, LastSeenAt: now}
		metrics.OnlineUsers.Dec()
	}
	r.conns = make(map[string]map[Connection]struct{})
	r.mu.Unlock()

	metrics.LiveConnections.Sub(float64(len(all)))

	var wg sync.WaitGroup
	for _, conn := range all {
		wg.Add(1)
		go func(conn Connection) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				r.logger.Debug("closing connection", "error", err)
			}
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Debug("registry closed", "connections", len(all))
		return nil
	case <-ctx.Done():
	}

	forced := 0
	for _, conn := range all {
		if fc, ok := conn.(forceCloser); ok {
			_ = fc.CloseNow()
			forced++
		}
	}
	r.logger.Warn("registry close timed out, dropped connections",
		"connections", len(all),
		"forced", forced)
	return fmt.Errorf("closing connections: %w", ctx.Err())
}

// stampEdgeLocked records a new presence edge for userID and returns its
// sequence. Must be called with mu held.
func (r *Registry) stampEdgeLocked(userID string) uint64 {
	r.edges[userID]++
	return r.edges[userID]
}

// emitPresence broadcasts a presence edge unless a later edge for the same
// user has been recorded since, in which case that edge is the one
// observers must end on. Returns the connections whose send failed.
func (r *Registry) emitPresence(ctx context.Context, userID string, edge uint64, online bool, at time.Time) []target {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	superseded := r.edges[userID] != edge
	r.mu.Unlock()
	if superseded {
		r.logger.Debug("skipping superseded presence edge", "user_id", userID, "online", online)
		return nil
	}

	return r.broadcast(ctx, Event{
		Type:       EventPresenceChanged,
		UserID:     userID,
		IsOnline:   &online,
		LastSeenAt: &at,
	})
}

// broadcast is Broadcast without dropping the failed connections, which
// are returned instead.
func (r *Registry) broadcast(ctx context.Context, event Event) []target {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to encode event", "type", event.Type, "error", err)
		return nil
	}

	targets := r.snapshot(event.Recipients)
	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	if len(targets) == 0 {
		return nil
	}
	return r.deliver(ctx, targets, data, event.Type)
}

// snapshot copies the target connections under the lock so sends can
// happen without it.
func (r *Registry) snapshot(recipients []string) []target {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []target
	if len(recipients) == 0 {
		for userID, set := range r.conns {
			for conn := range set {
				targets = append(targets, target{userID: userID, conn: conn})
			}
		}
		return targets
	}

	seen := make(map[string]bool, len(recipients))
	for _, userID := range recipients {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		for conn := range r.conns[userID] {
			targets = append(targets, target{userID: userID, conn: conn})
		}
	}
	return targets
}

// deliver sends data to each connection concurrently, closes the ones that
// fail and returns them.
func (r *Registry) deliver(ctx context.Context, targets []target, data []byte, eventType EventType) []target {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []target
	)
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			if err := t.conn.Send(ctx, data); err != nil {
				metrics.EventDeliveries.WithLabelValues("failed").Inc()
				r.logger.Warn("dropping connection after failed send",
					"user_id", t.userID,
					"type", eventType,
					"error", err)
				closeNow(t.conn)
				mu.Lock()
				failed = append(failed, t)
				mu.Unlock()
				return
			}
			metrics.EventDeliveries.WithLabelValues("ok").Inc()
		}(t)
	}
	wg.Wait()
	return failed
}

// drop removes connections whose send failed. Must not be called while
// holding mu or emitMu.
func (r *Registry) drop(ctx context.Context, failed []target) {
	for _, t := range failed {
		r.Unregister(ctx, t.userID, t.conn)
	}
}

// closeNow skips the close handshake when the connection supports it; a
// connection that just failed a write will not answer one.
func closeNow(conn Connection) {
	if fc, ok := conn.(forceCloser); ok {
		_ = fc.CloseNow()
		return
	}
	_ = conn.Close()
}

func mustMarshal(e Event) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	return data
}
