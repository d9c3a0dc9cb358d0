package paper

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrade/pkg/fees"
	"github.com/rustyeddy/papertrade/pkg/lots"
	"github.com/rustyeddy/papertrade/pkg/market"
)

// Recorder mirrors committed order state to durable storage. It never
// originates state: the engine mutates first, then records. Write failures
// are logged and do not roll back in-memory state.
type Recorder interface {
	RecordOrder(o Order) error
	RecordOrderUpdate(id string, fields map[string]any) error
}

type nopRecorder struct{}

func (nopRecorder) RecordOrder(Order) error                        { return nil }
func (nopRecorder) RecordOrderUpdate(string, map[string]any) error { return nil }

// Config holds the engine's trading parameters.
type Config struct {
	// SlippagePercent is applied against the trader on both legs:
	// buys pay price*(1+s/100), sells receive price*(1-s/100).
	SlippagePercent float64

	EnforceMarketHours bool
	AllowAMO           bool
	Hours              market.Hours

	Fees fees.Schedule

	// Now is the engine clock; nil means time.Now. Tests inject fixed times.
	Now func() time.Time
}

// Engine consumes ticks one at a time and owns every order transition.
// A single mutex serializes tick processing with the order-management API,
// so no two operations ever race on the same order.
type Engine struct {
	mu   sync.Mutex
	cfg  Config
	lots *lots.Table
	tick *market.TickStore
	book *Book
	rec  Recorder
	log  *zap.Logger

	listeners []Listener

	counter    int
	realized   float64
	unrealized float64
	totalFees  float64
}

func NewEngine(cfg Config, table *lots.Table, rec Recorder, log *zap.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if table == nil {
		table = lots.NewTable()
	}
	return &Engine{
		cfg:  cfg,
		lots: table,
		tick: market.NewTickStore(),
		book: NewBook(),
		rec:  rec,
		log:  log,
	}
}

// Subscribe registers an observer for lifecycle and P&L events.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// notify delivers events after the lock is released so a listener can call
// back into the engine without deadlocking.
func (e *Engine) notify(events []Event) {
	e.mu.Lock()
	ls := make([]Listener, len(e.listeners))
	copy(ls, e.listeners)
	e.mu.Unlock()

	for _, ev := range events {
		for _, l := range ls {
			l.OnEvent(ev)
		}
	}
}

// ==================== ORDER MANAGEMENT ====================

// Place validates and registers a new pending order. On validation failure
// it returns a Rejection and creates no state.
func (e *Engine) Place(spec OrderSpec) (string, *Rejection) {
	e.mu.Lock()

	if spec.Validity == "" {
		spec.Validity = Day
	}
	if spec.SLOrderType == "" {
		spec.SLOrderType = "MARKET"
	}

	if reason := e.validateLocked(spec); reason != "" {
		rej := &Rejection{Symbol: spec.Symbol, Side: spec.Side, Quantity: spec.Quantity, Reason: reason}
		e.mu.Unlock()

		e.log.Info("order rejected",
			zap.String("symbol", spec.Symbol),
			zap.String("side", string(spec.Side)),
			zap.String("reason", reason))
		e.notify([]Event{{Type: EventOrderRejected, Order: Order{
			Token:      spec.Token,
			Symbol:     spec.Symbol,
			Side:       spec.Side,
			LimitPrice: spec.LimitPrice,
			Quantity:   spec.Quantity,
			Validity:   spec.Validity,
			Status:     StatusRejected,
			ExitReason: reason,
		}}})
		return "", rej
	}

	now := e.cfg.Now()
	lot := e.lots.LotSize(spec.Symbol)
	e.counter++

	o := &Order{
		ID:          fmt.Sprintf("ORD_%d_%s", e.counter, now.Format("150405.000")),
		Token:       spec.Token,
		Symbol:      spec.Symbol,
		Side:        spec.Side,
		Validity:    spec.Validity,
		LimitPrice:  spec.LimitPrice,
		Quantity:    spec.Quantity,
		LotSize:     lot,
		Lots:        spec.Quantity / lot,
		StopLoss:    spec.StopLoss,
		Target:      spec.Target,
		SLOrderType: spec.SLOrderType,
		Status:      StatusPending,
		PlacedAt:    now,
	}
	e.book.addPending(o)
	e.record(o.Snapshot())
	ev := Event{Type: EventOrderPlaced, Order: o.Snapshot()}
	e.mu.Unlock()

	e.log.Info("order placed",
		zap.String("id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.Float64("limit", o.LimitPrice),
		zap.Int("quantity", o.Quantity),
		zap.String("validity", string(o.Validity)))
	e.notify([]Event{ev})
	return o.ID, nil
}

func (e *Engine) validateLocked(spec OrderSpec) string {
	if spec.Side != Buy && spec.Side != Sell {
		return fmt.Sprintf("invalid side %q", spec.Side)
	}
	if ok, reason := e.lots.ValidateQuantity(spec.Symbol, spec.Quantity); !ok {
		return reason
	}
	if spec.Validity != AMO && e.cfg.EnforceMarketHours && !e.cfg.Hours.OpenAt(e.cfg.Now()) {
		if e.cfg.AllowAMO {
			return "market is closed; use AMO instead"
		}
		return "market is closed; orders not allowed"
	}
	return ""
}

// Cancel cancels a pending order. Unknown or non-pending ids return false.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	ev, ok := e.cancelLocked(id)
	e.mu.Unlock()

	if ok {
		e.notify([]Event{ev})
	}
	return ok
}

func (e *Engine) cancelLocked(id string) (Event, bool) {
	o, ok := e.book.Get(id)
	if !ok || o.Status != StatusPending {
		return Event{}, false
	}

	e.book.removePending(o)
	o.Status = StatusCancelled
	delete(e.book.index, id)

	e.update(id, map[string]any{"status": string(StatusCancelled)})
	e.log.Info("order cancelled", zap.String("id", id), zap.String("symbol", o.Symbol))
	return Event{Type: EventOrderCancelled, Order: o.Snapshot()}, true
}

// Modify changes fields of a pending order. Quantity changes are
// re-validated against the lot table. Each changed field is persisted
// individually so a partial failure loses at most one field.
func (e *Engine) Modify(id string, req ModifyRequest) bool {
	e.mu.Lock()

	o, ok := e.book.Get(id)
	if !ok || o.Status != StatusPending {
		e.mu.Unlock()
		return false
	}

	if req.Quantity != nil {
		if ok, reason := e.lots.ValidateQuantity(o.Symbol, *req.Quantity); !ok {
			e.mu.Unlock()
			e.log.Info("modify rejected", zap.String("id", id), zap.String("reason", reason))
			return false
		}
	}

	changed := false
	if req.LimitPrice != nil {
		o.LimitPrice = *req.LimitPrice
		e.update(id, map[string]any{"limit_price": o.LimitPrice})
		changed = true
	}
	if req.Quantity != nil {
		o.Quantity = *req.Quantity
		o.Lots = o.Quantity / o.LotSize
		e.update(id, map[string]any{"quantity": o.Quantity})
		e.update(id, map[string]any{"lots": o.Lots})
		changed = true
	}
	if req.StopLoss != nil {
		sl := *req.StopLoss
		o.StopLoss = &sl
		e.update(id, map[string]any{"stop_loss": sl})
		changed = true
	}
	if req.Target != nil {
		tg := *req.Target
		o.Target = &tg
		e.update(id, map[string]any{"target": tg})
		changed = true
	}

	var ev Event
	if changed {
		ev = Event{Type: EventOrderModified, Order: o.Snapshot()}
	}
	e.mu.Unlock()

	if changed {
		e.log.Info("order modified", zap.String("id", id), zap.String("symbol", o.Symbol))
		e.notify([]Event{ev})
	}
	return true
}

// ==================== TICK PROCESSING ====================

// OnTick processes one tick to completion: pending fills, mark-to-market,
// stop-loss/target exits, and the aggregate P&L snapshot. Ticks for one
// engine must arrive serially; the lock enforces that against the
// order-management API.
func (e *Engine) OnTick(t market.Tick) {
	e.mu.Lock()
	e.tick.Set(t)

	var events []Event
	events = append(events, e.checkExecutionLocked(t)...)
	events = append(events, e.updateOpenLocked(t)...)

	e.recomputeUnrealizedLocked()
	events = append(events, Event{Type: EventPnLUpdated, PnL: e.summaryLocked()})
	e.mu.Unlock()

	e.notify(events)
}

// checkExecutionLocked fills pending orders whose limit condition the tick
// satisfies. IOC orders get exactly this one evaluation: unfilled means
// cancelled, and cancellation removes them from the pending index for good.
func (e *Engine) checkExecutionLocked(t market.Tick) []Event {
	var toFill, toCancel []*Order

	for _, o := range e.book.pending[t.Token] {
		switch {
		case o.Side == Buy && t.LTP <= o.LimitPrice:
			toFill = append(toFill, o)
		case o.Side == Sell && t.LTP >= o.LimitPrice:
			toFill = append(toFill, o)
		case o.Validity == IOC:
			toCancel = append(toCancel, o)
		}
	}

	var events []Event
	for _, o := range toFill {
		events = append(events, e.fillLocked(o, t)...)
	}
	for _, o := range toCancel {
		if ev, ok := e.cancelLocked(o.ID); ok {
			e.log.Info("IOC order expired", zap.String("id", o.ID), zap.String("symbol", o.Symbol))
			events = append(events, ev)
		}
	}
	return events
}

func (e *Engine) fillLocked(o *Order, t market.Tick) []Event {
	fillPrice := e.slip(t.LTP, o.Side == Buy)
	entry := fees.Calculate(fillPrice, o.Quantity, o.Side == Buy, e.cfg.Fees)

	o.Status = StatusOpen
	o.EntryPrice = fillPrice
	o.EntryTime = e.cfg.Now()
	o.EntryFees = entry.Total()
	o.LTP = t.LTP
	e.totalFees = round2(e.totalFees + o.EntryFees)

	e.book.removePending(o)
	e.update(o.ID, map[string]any{
		"status":      string(StatusOpen),
		"entry_price": o.EntryPrice,
		"entry_time":  o.EntryTime,
		"entry_fees":  o.EntryFees,
		"ltp":         o.LTP,
	})

	e.log.Info("order executed",
		zap.String("id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.Float64("fill_price", fillPrice),
		zap.Float64("entry_fees", o.EntryFees))

	events := []Event{{Type: EventOrderFilled, Order: o.Snapshot()}}

	if existing := e.book.matchingOpen(o.Token, o.Side); existing != nil {
		e.mergeLocked(existing, o)
	} else {
		e.book.addOpen(o)
	}
	return events
}

// mergeLocked folds a fresh fill into an existing same-direction position:
// quantity-weighted average entry, summed entry fees, and the more
// protective stop-loss/target. The absorbed order ends in the terminal
// MERGED state so a resumed session reconstructs exactly one position.
func (e *Engine) mergeLocked(existing, incoming *Order) {
	totalQty := existing.Quantity + incoming.Quantity
	avg := (float64(existing.Quantity)*existing.EntryPrice + float64(incoming.Quantity)*incoming.EntryPrice) / float64(totalQty)

	existing.Quantity = totalQty
	existing.Lots = totalQty / existing.LotSize
	existing.EntryPrice = round2(avg)
	existing.EntryFees = round2(existing.EntryFees + incoming.EntryFees)
	existing.StopLoss = protective(existing.Side, existing.StopLoss, incoming.StopLoss)
	existing.Target = protective(existing.Side, existing.Target, incoming.Target)

	incoming.Status = StatusMerged
	delete(e.book.index, incoming.ID)

	e.update(incoming.ID, map[string]any{"status": string(StatusMerged)})
	upd := map[string]any{
		"quantity":    existing.Quantity,
		"lots":        existing.Lots,
		"entry_price": existing.EntryPrice,
		"entry_fees":  existing.EntryFees,
	}
	if existing.StopLoss != nil {
		upd["stop_loss"] = *existing.StopLoss
	}
	if existing.Target != nil {
		upd["target"] = *existing.Target
	}
	e.update(existing.ID, upd)

	e.log.Info("position averaged",
		zap.String("id", existing.ID),
		zap.String("symbol", existing.Symbol),
		zap.Int("quantity", totalQty),
		zap.Float64("avg_price", existing.EntryPrice))
}

// protective picks the stop/target that exits earlier for the position's
// direction: max for longs, min for shorts.
func protective(side Side, a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	v := *a
	if side == Buy {
		v = math.Max(*a, *b)
	} else {
		v = math.Min(*a, *b)
	}
	return &v
}

// updateOpenLocked marks open positions to the tick and closes any whose
// stop-loss or target the tick triggers.
func (e *Engine) updateOpenLocked(t market.Tick) []Event {
	type exit struct {
		o      *Order
		reason string
	}
	var exits []exit

	for _, o := range e.book.open[t.Token] {
		if o.Status != StatusOpen {
			continue
		}

		gross := grossPnL(o.Side, o.EntryPrice, t.LTP, o.Quantity)
		estExit := fees.Total(t.LTP, o.Quantity, o.Side.Opposite() == Buy, e.cfg.Fees)

		o.LTP = t.LTP
		o.GrossPnL = round2(gross)
		o.NetPnL = round2(gross - o.EntryFees - estExit)

		if reason := checkTrigger(o, t.LTP); reason != "" {
			exits = append(exits, exit{o, reason})
		}
	}

	var events []Event
	for _, x := range exits {
		events = append(events, e.closeLocked(x.o, x.o.LTP, x.reason)...)
	}
	return events
}

// checkTrigger applies the same directional logic as fills: a long exits
// when price falls to the stop or rises to the target, a short inverts both.
func checkTrigger(o *Order, ltp float64) string {
	if o.Side == Buy {
		if o.StopLoss != nil && ltp <= *o.StopLoss {
			return ExitStopLoss
		}
		if o.Target != nil && ltp >= *o.Target {
			return ExitTarget
		}
		return ""
	}
	if o.StopLoss != nil && ltp >= *o.StopLoss {
		return ExitStopLoss
	}
	if o.Target != nil && ltp <= *o.Target {
		return ExitTarget
	}
	return ""
}

func (e *Engine) closeLocked(o *Order, rawPrice float64, reason string) []Event {
	exitSide := o.Side.Opposite()
	finalPrice := e.slip(rawPrice, exitSide == Buy)
	exitFees := fees.Calculate(finalPrice, o.Quantity, exitSide == Buy, e.cfg.Fees)

	gross := round2(grossPnL(o.Side, o.EntryPrice, finalPrice, o.Quantity))
	net := round2(gross - o.EntryFees - exitFees.Total())

	o.Status = StatusClosed
	o.ExitPrice = finalPrice
	o.ExitTime = e.cfg.Now()
	o.ExitFees = exitFees.Total()
	o.GrossPnL = gross
	o.NetPnL = net
	o.ExitReason = reason

	e.realized = round2(e.realized + net)
	e.totalFees = round2(e.totalFees + o.ExitFees)

	e.book.removeOpen(o)
	e.book.history = append(e.book.history, o)
	delete(e.book.index, o.ID)

	e.update(o.ID, map[string]any{
		"status":      string(StatusClosed),
		"exit_price":  o.ExitPrice,
		"exit_time":   o.ExitTime,
		"exit_fees":   o.ExitFees,
		"gross_pnl":   o.GrossPnL,
		"net_pnl":     o.NetPnL,
		"exit_reason": reason,
	})

	e.log.Info("position closed",
		zap.String("id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit_price", finalPrice),
		zap.Float64("net_pnl", net))

	events := make([]Event, 0, 2)
	switch reason {
	case ExitStopLoss:
		events = append(events, Event{Type: EventSLHit, Order: o.Snapshot()})
	case ExitTarget:
		events = append(events, Event{Type: EventTargetHit, Order: o.Snapshot()})
	}
	return append(events, Event{Type: EventPositionClosed, Order: o.Snapshot()})
}

// ==================== MANUAL EXITS & SWEEPS ====================

// SquareOff manually closes one open position at the latest tick price.
// If no tick was ever observed for the instrument it degrades to the entry
// price, which reports zero gross P&L regardless of true market movement;
// that weak approximation is logged as a warning.
func (e *Engine) SquareOff(id string) bool {
	e.mu.Lock()

	o, ok := e.book.Get(id)
	if !ok || o.Status != StatusOpen {
		e.mu.Unlock()
		return false
	}

	price, seen := e.tick.Last(o.Token)
	if !seen {
		price = o.EntryPrice
		e.log.Warn("no tick observed; closing at entry price",
			zap.String("id", id),
			zap.String("symbol", o.Symbol),
			zap.Float64("entry_price", price))
	}

	events := e.closeLocked(o, price, ExitManual)
	e.recomputeUnrealizedLocked()
	events = append(events, Event{Type: EventPnLUpdated, PnL: e.summaryLocked()})
	e.mu.Unlock()

	e.notify(events)
	return true
}

// SquareOffAll closes every open position and returns the count closed.
func (e *Engine) SquareOffAll() int {
	e.mu.Lock()
	open := e.book.Open()

	var events []Event
	for _, o := range open {
		price, seen := e.tick.Last(o.Token)
		if !seen {
			price = o.EntryPrice
			e.log.Warn("no tick observed; closing at entry price",
				zap.String("id", o.ID),
				zap.String("symbol", o.Symbol),
				zap.Float64("entry_price", price))
		}
		events = append(events, e.closeLocked(o, price, ExitManual)...)
	}

	count := len(open)
	if count > 0 {
		e.recomputeUnrealizedLocked()
		events = append(events, Event{Type: EventPnLUpdated, PnL: e.summaryLocked()})
	}
	e.mu.Unlock()

	e.notify(events)
	return count
}

// ExpireDayOrders cancels all still-pending DAY orders once the wall clock
// passes market close. Safe to run repeatedly: a second sweep finds nothing
// left to cancel. AMO orders are untouched; they rest for the next open.
func (e *Engine) ExpireDayOrders() int {
	e.mu.Lock()

	if !e.cfg.Hours.ClosedAt(e.cfg.Now()) {
		e.mu.Unlock()
		return 0
	}

	var expired []*Order
	for _, o := range e.book.Pending() {
		if o.Validity == Day {
			expired = append(expired, o)
		}
	}

	var events []Event
	for _, o := range expired {
		if ev, ok := e.cancelLocked(o.ID); ok {
			e.log.Info("DAY order expired", zap.String("id", o.ID), zap.String("symbol", o.Symbol))
			events = append(events, ev)
		}
	}
	e.mu.Unlock()

	e.notify(events)
	return len(events)
}

// ==================== STATE & ACCESSORS ====================

// Restore loads a previously persisted session's order collections and
// aggregate counters. It must run before any ticks are processed.
func (e *Engine) Restore(pending, open []*Order, realized, unrealized, totalFees float64, counter int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range pending {
		e.book.addPending(o)
	}
	for _, o := range open {
		e.book.addOpen(o)
		e.book.index[o.ID] = o
	}
	e.realized = realized
	e.unrealized = unrealized
	e.totalFees = totalFees
	e.counter = counter

	e.log.Info("state restored",
		zap.Int("pending", len(pending)),
		zap.Int("open", len(open)),
		zap.Float64("realized_pnl", realized))
}

// Order returns a snapshot of the order with the given id, pending or open.
func (e *Engine) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.book.Get(id)
	if !ok {
		return Order{}, false
	}
	return o.Snapshot(), true
}

// PendingOrders returns snapshots of all pending orders.
func (e *Engine) PendingOrders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshots(e.book.Pending())
}

// OpenPositions returns snapshots of all open positions.
func (e *Engine) OpenPositions() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshots(e.book.Open())
}

// History returns snapshots of closed orders.
func (e *Engine) History() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshots(e.book.History())
}

// Tokens returns the instruments a restarted session must re-subscribe.
func (e *Engine) Tokens() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Tokens()
}

// Summary returns the aggregate P&L counters.
func (e *Engine) Summary() PnLSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked()
}

// Counter returns the per-session order counter, persisted with the
// session so restored ids never collide with new ones.
func (e *Engine) Counter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

func (e *Engine) summaryLocked() PnLSummary {
	return PnLSummary{
		Realized:   e.realized,
		Unrealized: e.unrealized,
		Total:      round2(e.realized + e.unrealized),
		TotalFees:  e.totalFees,
	}
}

func (e *Engine) recomputeUnrealizedLocked() {
	var sum float64
	for _, o := range e.book.Open() {
		sum += o.NetPnL
	}
	e.unrealized = round2(sum)
}

// ==================== HELPERS ====================

func (e *Engine) slip(price float64, buyLeg bool) float64 {
	if e.cfg.SlippagePercent <= 0 {
		return price
	}
	f := e.cfg.SlippagePercent / 100
	if buyLeg {
		return round2(price * (1 + f))
	}
	return round2(price * (1 - f))
}

func grossPnL(side Side, entry, price float64, qty int) float64 {
	if side == Buy {
		return (price - entry) * float64(qty)
	}
	return (entry - price) * float64(qty)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func snapshots(orders []*Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Snapshot())
	}
	return out
}

// record and update funnel persistence failures into the log; live
// correctness is authoritative, resume fidelity degrades.
func (e *Engine) record(o Order) {
	if err := e.rec.RecordOrder(o); err != nil {
		e.log.Error("persist order failed", zap.String("id", o.ID), zap.Error(err))
	}
}

func (e *Engine) update(id string, fields map[string]any) {
	if err := e.rec.RecordOrderUpdate(id, fields); err != nil {
		e.log.Error("persist order update failed", zap.String("id", id), zap.Error(err))
	}
}
