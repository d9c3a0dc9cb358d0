// Package paper implements the simulated order lifecycle for options paper
// trading: a pending/open order store, a tick-driven execution engine with
// slippage and transaction costs, stop-loss/target auto-exits, and an
// observer event surface.
package paper

import "time"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Status is the order lifecycle state.
//
//	PENDING -> OPEN -> CLOSED
//	PENDING -> CANCELLED
//	PENDING -> OPEN -> MERGED (absorbed into an existing position on fill)
//
// REJECTED orders are never stored; a Rejection value is returned instead.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
	StatusMerged    Status = "MERGED"
)

type Validity string

const (
	// Day orders rest until filled or the market-close sweep cancels them.
	Day Validity = "DAY"
	// IOC orders get exactly one fill evaluation, then self-cancel.
	IOC Validity = "IOC"
	// AMO orders may be placed outside market hours and rest until the
	// next session's ticks reach them.
	AMO Validity = "AMO"
)

// Exit reasons recorded when an open order closes.
const (
	ExitStopLoss = "SL_HIT"
	ExitTarget   = "TARGET_HIT"
	ExitManual   = "MANUAL"
)

// Order is the central entity: a filled order is the position. Entry fields
// are set exactly once at PENDING->OPEN, exit fields exactly once at
// OPEN->CLOSED.
type Order struct {
	ID       string
	Token    int64
	Symbol   string
	Side     Side
	Validity Validity

	LimitPrice float64
	Quantity   int
	LotSize    int
	Lots       int

	StopLoss    *float64
	Target      *float64
	SLOrderType string // MARKET or LIMIT; informational for the exit order type

	Status   Status
	PlacedAt time.Time

	EntryPrice float64
	EntryTime  time.Time
	EntryFees  float64

	ExitPrice  float64
	ExitTime   time.Time
	ExitFees   float64
	ExitReason string

	// Marked to the latest tick while OPEN, frozen at close.
	LTP      float64
	GrossPnL float64
	NetPnL   float64
}

// Snapshot returns a copy safe to hand to observers after the engine lock
// is released.
func (o *Order) Snapshot() Order {
	cp := *o
	if o.StopLoss != nil {
		sl := *o.StopLoss
		cp.StopLoss = &sl
	}
	if o.Target != nil {
		tg := *o.Target
		cp.Target = &tg
	}
	return cp
}

// OrderSpec is a placement request. Validation happens synchronously in
// Place before any state is created.
type OrderSpec struct {
	Token       int64
	Symbol      string
	Side        Side
	LimitPrice  float64
	Quantity    int
	StopLoss    *float64
	Target      *float64
	Validity    Validity
	SLOrderType string
}

// Rejection is the typed non-error outcome of failed placement validation.
type Rejection struct {
	Symbol   string
	Side     Side
	Quantity int
	Reason   string
}

// ModifyRequest carries the fields a pending order may change. Nil means
// leave unchanged.
type ModifyRequest struct {
	LimitPrice *float64
	Quantity   *int
	StopLoss   *float64
	Target     *float64
}
