package paper

type EventType string

const (
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderRejected  EventType = "ORDER_REJECTED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventOrderModified  EventType = "ORDER_MODIFIED"
	EventSLHit          EventType = "SL_HIT"
	EventTargetHit      EventType = "TARGET_HIT"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventPnLUpdated     EventType = "PNL_UPDATED"
)

// PnLSummary is the aggregate P&L snapshot emitted after every tick.
type PnLSummary struct {
	Realized   float64
	Unrealized float64
	Total      float64
	TotalFees  float64
}

// Event is a lifecycle or P&L notification. Lifecycle events carry a full
// order snapshot; PnLUpdated carries the aggregate summary instead.
type Event struct {
	Type  EventType
	Order Order
	PnL   PnLSummary
}

// Listener observes engine events. Listeners are invoked after the engine
// lock is released; they must not assume they run on any particular
// goroutine, but events for one engine are always delivered in order.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }
