// Package session owns one logical trading session: it opens or resumes
// the single active session row, feeds restored state into the engine,
// mirrors engine events into the journal, and closes the session with its
// final totals.
package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrade/pkg/id"
	"github.com/rustyeddy/papertrade/pkg/journal"
	"github.com/rustyeddy/papertrade/pkg/paper"
)

// Controller coordinates the execution engine and the persistence gateway
// for one session. It implements paper.Recorder (synchronous status
// mirroring) and paper.Listener (throttled P&L snapshots, subscription
// hints).
type Controller struct {
	store *journal.SQLite
	log   *zap.Logger

	sessionID string
	resumed   bool
	engine    *paper.Engine

	// Unrealized-P&L session writes are throttled to at most one per
	// persistEvery; status transitions go through Recorder and are never
	// throttled.
	persistEvery time.Duration
	mu           sync.Mutex
	lastPersist  time.Time
}

// Open looks up the single active session and resumes it, or creates a new
// one if none is active. A store failure here is fatal to startup by
// design: silently starting with empty state would break the resume
// contract.
func Open(store *journal.SQLite, persistEvery time.Duration, log *zap.Logger) (*Controller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if persistEvery <= 0 {
		persistEvery = 5 * time.Second
	}

	c := &Controller{store: store, log: log, persistEvery: persistEvery}

	active, err := store.ActiveSession()
	if err != nil {
		return nil, fmt.Errorf("look up active session: %w", err)
	}

	if active != nil {
		c.sessionID = active.ID
		c.resumed = true
		log.Info("resuming session",
			zap.String("session_id", active.ID),
			zap.Time("started_at", active.StartedAt),
			zap.Float64("realized_pnl", active.RealizedPnL))
		return c, nil
	}

	c.sessionID = id.New()
	if err := store.CreateSession(c.sessionID, time.Now()); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info("started new session", zap.String("session_id", c.sessionID))
	return c, nil
}

// Bind attaches the engine, restores persisted state when resuming, and
// subscribes the controller for event mirroring. It returns the set of
// instrument tokens the tick feed must re-subscribe.
func (c *Controller) Bind(e *paper.Engine) ([]journal.Subscription, error) {
	c.engine = e
	e.Subscribe(c)

	if !c.resumed {
		return nil, nil
	}

	active, err := c.store.ActiveSession()
	if err != nil {
		return nil, fmt.Errorf("reload active session: %w", err)
	}
	if active == nil {
		return nil, fmt.Errorf("active session %s vanished during resume", c.sessionID)
	}

	pending, err := c.store.OrdersByStatus(c.sessionID, paper.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("restore pending orders: %w", err)
	}
	open, err := c.store.OrdersByStatus(c.sessionID, paper.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("restore open positions: %w", err)
	}

	e.Restore(pending, open, active.RealizedPnL, active.UnrealizedPnL, active.TotalFees, active.OrderCounter)

	subs, err := c.store.Subscriptions(c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("restore subscriptions: %w", err)
	}

	// Union with the restored orders' tokens in case a subscription write
	// was lost; symbols come from the order when the hint is missing.
	seen := make(map[int64]bool, len(subs))
	for _, s := range subs {
		seen[s.Token] = true
	}
	for _, orders := range [][]*paper.Order{pending, open} {
		for _, o := range orders {
			if !seen[o.Token] {
				seen[o.Token] = true
				subs = append(subs, journal.Subscription{Token: o.Token, Symbol: o.Symbol})
			}
		}
	}

	c.log.Info("session state restored",
		zap.String("session_id", c.sessionID),
		zap.Int("pending", len(pending)),
		zap.Int("open", len(open)),
		zap.Int("subscriptions", len(subs)))
	return subs, nil
}

func (c *Controller) SessionID() string { return c.sessionID }
func (c *Controller) Resumed() bool     { return c.resumed }

// Close marks the session inactive and writes its final totals.
func (c *Controller) Close() error {
	var s paper.PnLSummary
	if c.engine != nil {
		s = c.engine.Summary()
	}
	if err := c.store.CloseSession(c.sessionID, time.Now(), s.Realized, s.Unrealized, s.TotalFees); err != nil {
		return fmt.Errorf("close session %s: %w", c.sessionID, err)
	}
	c.log.Info("session closed",
		zap.String("session_id", c.sessionID),
		zap.Float64("realized_pnl", s.Realized),
		zap.Float64("total_fees", s.TotalFees))
	return nil
}

// ==================== paper.Recorder ====================

func (c *Controller) RecordOrder(o paper.Order) error {
	if err := c.store.SaveOrder(c.sessionID, o); err != nil {
		return err
	}
	// The counter advance rides with the placement write so restored
	// sessions never reuse an order id.
	return c.store.IncrementOrderCounter(c.sessionID)
}

func (c *Controller) RecordOrderUpdate(orderID string, fields map[string]any) error {
	return c.store.UpdateOrder(orderID, fields)
}

// ==================== paper.Listener ====================

// OnEvent mirrors subscription hints on placement and throttles aggregate
// P&L writes. Order status transitions are already persisted synchronously
// through the Recorder path before this runs.
func (c *Controller) OnEvent(ev paper.Event) {
	switch ev.Type {
	case paper.EventOrderPlaced:
		if err := c.store.SaveSubscription(c.sessionID, ev.Order.Token, ev.Order.Symbol); err != nil {
			c.log.Error("persist subscription failed",
				zap.Int64("token", ev.Order.Token), zap.Error(err))
		}

	case paper.EventPnLUpdated:
		c.mu.Lock()
		due := time.Since(c.lastPersist) >= c.persistEvery
		if due {
			c.lastPersist = time.Now()
		}
		c.mu.Unlock()
		if !due {
			return
		}

		counter := 0
		if c.engine != nil {
			counter = c.engine.Counter()
		}
		if err := c.store.UpdateSessionPnL(c.sessionID, ev.PnL.Realized, ev.PnL.Unrealized, ev.PnL.TotalFees, counter); err != nil {
			c.log.Error("persist session P&L failed", zap.Error(err))
		}
	}
}

// FlushPnL writes the current aggregates immediately, bypassing the
// throttle. Called on shutdown so the last snapshot is never lost.
func (c *Controller) FlushPnL() error {
	if c.engine == nil {
		return nil
	}
	s := c.engine.Summary()
	return c.store.UpdateSessionPnL(c.sessionID, s.Realized, s.Unrealized, s.TotalFees, c.engine.Counter())
}
