package paper

import (
	"math"
	"testing"
	"time"

	"github.com/rustyeddy/papertrade/pkg/fees"
	"github.com/rustyeddy/papertrade/pkg/lots"
	"github.com/rustyeddy/papertrade/pkg/market"
)

const niftyToken = 100001

// tradingDay is a Tuesday well inside market hours.
var tradingDay = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

type capture struct {
	events []Event
}

func (c *capture) OnEvent(ev Event) { c.events = append(c.events, ev) }

func (c *capture) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// newTestEngine builds an engine with zero slippage and zero fees so
// lifecycle tests can assert exact prices. Fee math gets its own test.
func newTestEngine(t *testing.T) (*Engine, *capture) {
	t.Helper()
	e := NewEngine(Config{
		Now: func() time.Time { return tradingDay },
	}, lots.NewTable(), nil, nil)
	c := &capture{}
	e.Subscribe(c)
	return e, c
}

func place(t *testing.T, e *Engine, spec OrderSpec) string {
	t.Helper()
	id, rej := e.Place(spec)
	if rej != nil {
		t.Fatalf("place %s %s: rejected: %s", spec.Side, spec.Symbol, rej.Reason)
	}
	return id
}

func tick(e *Engine, price float64) {
	e.OnTick(market.Tick{Token: niftyToken, LTP: price, Time: tradingDay})
}

func fptr(v float64) *float64 { return &v }

func approxEqual(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func TestPlaceRejectsNonLotQuantity(t *testing.T) {
	e, c := newTestEngine(t)

	id, rej := e.Place(OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 30,
	})
	if rej == nil {
		t.Fatalf("expected rejection for quantity 30 (NIFTY lot is 25)")
	}
	if id != "" {
		t.Fatalf("rejected placement must not return an id, got %q", id)
	}
	if len(e.PendingOrders()) != 0 {
		t.Fatalf("rejected placement must not create state")
	}
	if got := c.ofType(EventOrderRejected); len(got) != 1 {
		t.Fatalf("expected 1 ORDER_REJECTED event, got %d", len(got))
	}
}

func TestBuyFillsAtOrBelowLimit(t *testing.T) {
	e, c := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
	})

	tick(e, 105) // above limit: no fill
	if o, _ := e.Order(id); o.Status != StatusPending {
		t.Fatalf("buy must not fill above limit, status %s", o.Status)
	}

	tick(e, 99.5)
	o, ok := e.Order(id)
	if !ok || o.Status != StatusOpen {
		t.Fatalf("expected OPEN after favorable tick, got %v %s", ok, o.Status)
	}
	if !approxEqual(o.EntryPrice, 99.5) {
		t.Fatalf("entry price: got %v want 99.5", o.EntryPrice)
	}
	if len(c.ofType(EventOrderFilled)) != 1 {
		t.Fatalf("expected exactly one ORDER_FILLED event")
	}
}

func TestSellFillsAtOrAboveLimit(t *testing.T) {
	e, _ := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Sell,
		LimitPrice: 100, Quantity: 25,
	})

	tick(e, 95)
	if o, _ := e.Order(id); o.Status != StatusPending {
		t.Fatalf("sell must not fill below limit")
	}

	tick(e, 100)
	if o, _ := e.Order(id); o.Status != StatusOpen {
		t.Fatalf("sell must fill at the limit price")
	}
}

func TestIOCCancelsAfterOneMiss(t *testing.T) {
	e, c := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Sell,
		LimitPrice: 50, Quantity: 25, Validity: IOC,
	})

	tick(e, 40) // sell limit 50: unfavorable, IOC cancels
	if _, ok := e.Order(id); ok {
		t.Fatalf("cancelled IOC order must leave the book")
	}
	if len(c.ofType(EventOrderCancelled)) != 1 {
		t.Fatalf("expected ORDER_CANCELLED for missed IOC")
	}

	tick(e, 55) // would have filled; the order must stay dead
	if len(c.ofType(EventOrderFilled)) != 0 {
		t.Fatalf("cancelled IOC order must never fill")
	}
}

func TestIOCFillsWhenFavorable(t *testing.T) {
	e, _ := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Sell,
		LimitPrice: 50, Quantity: 25, Validity: IOC,
	})

	tick(e, 60)
	if o, _ := e.Order(id); o.Status != StatusOpen {
		t.Fatalf("favorable IOC tick must fill")
	}
}

func TestAveragingMergesSameDirectionFills(t *testing.T) {
	e, _ := newTestEngine(t)

	first := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25, StopLoss: fptr(80),
	})
	tick(e, 100)

	second := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 110, Quantity: 25, StopLoss: fptr(90),
	})
	tick(e, 110)

	open := e.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected one merged position, got %d", len(open))
	}
	pos := open[0]
	if pos.ID != first {
		t.Fatalf("surviving position must be the earlier order")
	}
	if pos.Quantity != 50 || pos.Lots != 2 {
		t.Fatalf("merged quantity: got %d/%d lots", pos.Quantity, pos.Lots)
	}
	if !approxEqual(pos.EntryPrice, 105) {
		t.Fatalf("weighted average entry: got %v want 105", pos.EntryPrice)
	}
	if pos.StopLoss == nil || *pos.StopLoss != 90 {
		t.Fatalf("long merge must keep the higher stop, got %v", pos.StopLoss)
	}

	if _, ok := e.Order(second); ok {
		t.Fatalf("absorbed order must leave the live book")
	}
}

func TestStopLossTriggersForLong(t *testing.T) {
	e, c := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
		StopLoss: fptr(90), Target: fptr(120),
	})

	tick(e, 105) // no fill
	tick(e, 95)  // fills at 95
	tick(e, 88)  // breaches the stop

	if _, ok := e.Order(id); ok {
		t.Fatalf("stopped-out position must leave the live book")
	}

	hist := e.History()
	if len(hist) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(hist))
	}
	closed := hist[0]
	if closed.ExitReason != ExitStopLoss {
		t.Fatalf("exit reason: got %s want %s", closed.ExitReason, ExitStopLoss)
	}
	want := (88.0 - 95.0) * 25
	if !approxEqual(closed.NetPnL, want) {
		t.Fatalf("net pnl: got %v want %v", closed.NetPnL, want)
	}
	if len(c.ofType(EventSLHit)) != 1 || len(c.ofType(EventPositionClosed)) != 1 {
		t.Fatalf("expected SL_HIT and POSITION_CLOSED events")
	}

	sum := e.Summary()
	if !approxEqual(sum.Realized, want) || !approxEqual(sum.Unrealized, 0) {
		t.Fatalf("summary after stop: %+v", sum)
	}
}

func TestTargetTriggersForShort(t *testing.T) {
	e, c := newTestEngine(t)

	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Sell,
		LimitPrice: 100, Quantity: 25,
		StopLoss: fptr(115), Target: fptr(85),
	})

	tick(e, 100) // fills short at 100
	tick(e, 84)  // falls through the target

	hist := e.History()
	if len(hist) != 1 || hist[0].ExitReason != ExitTarget {
		t.Fatalf("expected TARGET_HIT close, got %+v", hist)
	}
	want := (100.0 - 84.0) * 25
	if !approxEqual(hist[0].NetPnL, want) {
		t.Fatalf("short target pnl: got %v want %v", hist[0].NetPnL, want)
	}
	if len(c.ofType(EventTargetHit)) != 1 {
		t.Fatalf("expected TARGET_HIT event")
	}
}

func TestNetEqualsGrossMinusFees(t *testing.T) {
	e := NewEngine(Config{
		SlippagePercent: 0.1,
		Fees:            fees.AliceBlue,
		Now:             func() time.Time { return tradingDay },
	}, lots.NewTable(), nil, nil)

	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25, Target: fptr(120),
	})

	tick(e, 100) // fill with slippage: 100 * 1.001 = 100.1
	tick(e, 120) // target exit with slippage: 120 * 0.999 = 119.88

	hist := e.History()
	if len(hist) != 1 {
		t.Fatalf("expected one closed trade")
	}
	o := hist[0]

	if !approxEqual(o.EntryPrice, 100.1) {
		t.Fatalf("buy slippage: entry got %v want 100.1", o.EntryPrice)
	}
	if !approxEqual(o.ExitPrice, 119.88) {
		t.Fatalf("sell slippage: exit got %v want 119.88", o.ExitPrice)
	}

	wantEntry := fees.Total(100.1, 25, true, fees.AliceBlue)
	wantExit := fees.Total(119.88, 25, false, fees.AliceBlue)
	if !approxEqual(o.EntryFees, wantEntry) || !approxEqual(o.ExitFees, wantExit) {
		t.Fatalf("fees: got %v/%v want %v/%v", o.EntryFees, o.ExitFees, wantEntry, wantExit)
	}

	wantGross := math.Round((119.88-100.1)*25*100) / 100
	wantNet := math.Round((wantGross-wantEntry-wantExit)*100) / 100
	if !approxEqual(o.GrossPnL, wantGross) {
		t.Fatalf("gross: got %v want %v", o.GrossPnL, wantGross)
	}
	if !approxEqual(o.NetPnL, wantNet) {
		t.Fatalf("net must equal gross minus both fee legs: got %v want %v", o.NetPnL, wantNet)
	}

	sum := e.Summary()
	if !approxEqual(sum.TotalFees, math.Round((wantEntry+wantExit)*100)/100) {
		t.Fatalf("total fees: got %v", sum.TotalFees)
	}
}

func TestUnrealizedDeductsEstimatedExitFees(t *testing.T) {
	e := NewEngine(Config{
		Fees: fees.AliceBlue,
		Now:  func() time.Time { return tradingDay },
	}, lots.NewTable(), nil, nil)

	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
	})
	tick(e, 100)
	tick(e, 110)

	open := e.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected one open position")
	}
	o := open[0]

	gross := (110.0 - 100.0) * 25
	estExit := fees.Total(110, 25, false, fees.AliceBlue)
	wantNet := math.Round((gross-o.EntryFees-estExit)*100) / 100
	if !approxEqual(o.NetPnL, wantNet) {
		t.Fatalf("open net pnl: got %v want %v", o.NetPnL, wantNet)
	}
	if !approxEqual(e.Summary().Unrealized, wantNet) {
		t.Fatalf("unrealized summary: got %v want %v", e.Summary().Unrealized, wantNet)
	}
}

func TestMarketHoursRejectionAndAMOBypass(t *testing.T) {
	sunday := time.Date(2024, 1, 7, 10, 0, 0, 0, time.UTC)
	e := NewEngine(Config{
		EnforceMarketHours: true,
		AllowAMO:           true,
		Hours:              market.DefaultHours(),
		Now:                func() time.Time { return sunday },
	}, lots.NewTable(), nil, nil)

	_, rej := e.Place(OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25, Validity: Day,
	})
	if rej == nil {
		t.Fatalf("weekend DAY order must be rejected")
	}
	if rej.Reason != "market is closed; use AMO instead" {
		t.Fatalf("rejection reason: got %q", rej.Reason)
	}

	id, rej := e.Place(OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25, Validity: AMO,
	})
	if rej != nil {
		t.Fatalf("AMO must bypass market hours: %s", rej.Reason)
	}
	if o, _ := e.Order(id); o.Status != StatusPending {
		t.Fatalf("AMO order must rest as pending")
	}
}

func TestExpireDayOrdersSweepsOnceAfterClose(t *testing.T) {
	now := tradingDay
	e := NewEngine(Config{
		Hours: market.DefaultHours(),
		Now:   func() time.Time { return now },
	}, lots.NewTable(), nil, nil)

	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25, Validity: Day,
	})
	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Sell,
		LimitPrice: 200, Quantity: 25, Validity: Day,
	})
	amoID := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 90, Quantity: 25, Validity: AMO,
	})

	if n := e.ExpireDayOrders(); n != 0 {
		t.Fatalf("sweep before close must be a no-op, cancelled %d", n)
	}

	now = time.Date(2024, 1, 2, 15, 31, 0, 0, time.UTC)
	if n := e.ExpireDayOrders(); n != 2 {
		t.Fatalf("expected 2 DAY orders swept, got %d", n)
	}
	if n := e.ExpireDayOrders(); n != 0 {
		t.Fatalf("second sweep must find nothing, got %d", n)
	}

	if o, ok := e.Order(amoID); !ok || o.Status != StatusPending {
		t.Fatalf("AMO order must survive the sweep")
	}
}

func TestSquareOffUsesLastTick(t *testing.T) {
	e, _ := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
	})
	tick(e, 100)
	tick(e, 107)

	if !e.SquareOff(id) {
		t.Fatalf("square off open position failed")
	}

	hist := e.History()
	if len(hist) != 1 {
		t.Fatalf("expected one closed trade")
	}
	o := hist[0]
	if o.ExitReason != ExitManual {
		t.Fatalf("manual close reason: got %s", o.ExitReason)
	}
	if !approxEqual(o.ExitPrice, 107) {
		t.Fatalf("manual close must use last tick: got %v", o.ExitPrice)
	}
}

func TestSquareOffFallsBackToEntryPrice(t *testing.T) {
	e, _ := newTestEngine(t)

	// A restored position whose instrument has not ticked this session.
	restored := &Order{
		ID: "ORD_1_091500.000", Token: niftyToken, Symbol: "NIFTY24000CE",
		Side: Buy, Validity: Day, LimitPrice: 100, Quantity: 25,
		LotSize: 25, Lots: 1, Status: StatusOpen,
		EntryPrice: 98.5, EntryTime: tradingDay,
	}
	e.Restore(nil, []*Order{restored}, 0, 0, 0, 1)

	if !e.SquareOff("ORD_1_091500.000") {
		t.Fatalf("square off restored position failed")
	}

	hist := e.History()
	if len(hist) != 1 {
		t.Fatalf("expected one closed trade")
	}
	o := hist[0]
	if !approxEqual(o.ExitPrice, 98.5) {
		t.Fatalf("no-tick close must degrade to entry price, got %v", o.ExitPrice)
	}
	if !approxEqual(o.GrossPnL, 0) {
		t.Fatalf("entry-price close reports zero gross, got %v", o.GrossPnL)
	}
}

func TestSquareOffAllClosesEverything(t *testing.T) {
	e, _ := newTestEngine(t)

	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
	})
	place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Sell,
		LimitPrice: 95, Quantity: 25,
	})
	tick(e, 98) // fills both: buy under 100, sell over 95

	if n := e.SquareOffAll(); n != 2 {
		t.Fatalf("expected 2 positions closed, got %d", n)
	}
	if len(e.OpenPositions()) != 0 {
		t.Fatalf("open book must be empty after square-off-all")
	}
	if len(e.History()) != 2 {
		t.Fatalf("both trades must land in history")
	}
}

func TestModifyPendingOrder(t *testing.T) {
	e, c := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
	})

	qty := 30 // not a lot multiple
	if e.Modify(id, ModifyRequest{Quantity: &qty}) {
		t.Fatalf("modify must re-validate quantity against the lot table")
	}

	limit, good := 95.0, 50
	if !e.Modify(id, ModifyRequest{LimitPrice: &limit, Quantity: &good, StopLoss: fptr(85)}) {
		t.Fatalf("valid modify failed")
	}

	o, _ := e.Order(id)
	if o.LimitPrice != 95 || o.Quantity != 50 || o.Lots != 2 {
		t.Fatalf("modified order: %+v", o)
	}
	if o.StopLoss == nil || *o.StopLoss != 85 {
		t.Fatalf("stop loss not applied")
	}
	if len(c.ofType(EventOrderModified)) != 1 {
		t.Fatalf("expected ORDER_MODIFIED event")
	}

	tick(e, 95)
	if o, _ := e.Order(id); o.Status != StatusOpen {
		t.Fatalf("modified order must fill at the new limit")
	}
	if e.Modify(id, ModifyRequest{LimitPrice: fptr(90)}) {
		t.Fatalf("open orders must not be modifiable")
	}
}

func TestCancelOnlyPending(t *testing.T) {
	e, _ := newTestEngine(t)

	id := place(t, e, OrderSpec{
		Token: niftyToken, Symbol: "NIFTY24000CE", Side: Buy,
		LimitPrice: 100, Quantity: 25,
	})
	tick(e, 99)

	if e.Cancel(id) {
		t.Fatalf("filled orders must not be cancellable")
	}
	if e.Cancel("ORD_404_000000.000") {
		t.Fatalf("unknown ids must not cancel")
	}
}

func TestRestoreRebuildsState(t *testing.T) {
	e, _ := newTestEngine(t)

	pending := &Order{
		ID: "ORD_1_091500.000", Token: niftyToken, Symbol: "NIFTY24000CE",
		Side: Buy, Validity: Day, LimitPrice: 100, Quantity: 25,
		LotSize: 25, Lots: 1, Status: StatusPending, PlacedAt: tradingDay,
	}
	open := &Order{
		ID: "ORD_2_091501.000", Token: niftyToken, Symbol: "NIFTY24000CE",
		Side: Sell, Validity: Day, LimitPrice: 120, Quantity: 25,
		LotSize: 25, Lots: 1, Status: StatusOpen,
		EntryPrice: 121, EntryTime: tradingDay,
	}

	e.Restore([]*Order{pending}, []*Order{open}, 42.5, -3.25, 61.1, 2)

	if len(e.PendingOrders()) != 1 || len(e.OpenPositions()) != 1 {
		t.Fatalf("restore must rebuild both collections")
	}
	if e.Counter() != 2 {
		t.Fatalf("restored counter: got %d", e.Counter())
	}
	sum := e.Summary()
	if !approxEqual(sum.Realized, 42.5) || !approxEqual(sum.TotalFees, 61.1) {
		t.Fatalf("restored aggregates: %+v", sum)
	}

	// Restored orders participate in normal tick processing.
	tick(e, 99)
	if o, _ := e.Order("ORD_1_091500.000"); o.Status != StatusOpen {
		t.Fatalf("restored pending order must fill")
	}
}

func TestPnLEventEmittedEveryTick(t *testing.T) {
	e, c := newTestEngine(t)
	tick(e, 100)
	tick(e, 101)
	if got := len(c.ofType(EventPnLUpdated)); got != 2 {
		t.Fatalf("expected a PNL_UPDATED per tick, got %d", got)
	}
}
