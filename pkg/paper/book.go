package paper

// Book holds the in-memory order collections: pending orders and open
// positions indexed by instrument token, plus an id index across both.
// It is passive; only the engine mutates it, under the engine lock.
type Book struct {
	pending map[int64][]*Order
	open    map[int64][]*Order
	index   map[string]*Order
	history []*Order
}

func NewBook() *Book {
	return &Book{
		pending: make(map[int64][]*Order),
		open:    make(map[int64][]*Order),
		index:   make(map[string]*Order),
	}
}

func (b *Book) addPending(o *Order) {
	b.pending[o.Token] = append(b.pending[o.Token], o)
	b.index[o.ID] = o
}

func (b *Book) addOpen(o *Order) {
	b.open[o.Token] = append(b.open[o.Token], o)
}

func (b *Book) removePending(o *Order) {
	b.pending[o.Token] = remove(b.pending[o.Token], o.ID)
	if len(b.pending[o.Token]) == 0 {
		delete(b.pending, o.Token)
	}
}

func (b *Book) removeOpen(o *Order) {
	b.open[o.Token] = remove(b.open[o.Token], o.ID)
	if len(b.open[o.Token]) == 0 {
		delete(b.open, o.Token)
	}
}

func remove(orders []*Order, id string) []*Order {
	out := orders[:0]
	for _, o := range orders {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}

// Get returns the order with the given id, pending or open.
func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// matchingOpen finds an open position on the same token and side, the
// averaging partner for a new fill.
func (b *Book) matchingOpen(token int64, side Side) *Order {
	for _, o := range b.open[token] {
		if o.Side == side && o.Status == StatusOpen {
			return o
		}
	}
	return nil
}

// Pending returns all pending orders across tokens.
func (b *Book) Pending() []*Order {
	var out []*Order
	for _, orders := range b.pending {
		out = append(out, orders...)
	}
	return out
}

// Open returns all open positions across tokens.
func (b *Book) Open() []*Order {
	var out []*Order
	for _, orders := range b.open {
		out = append(out, orders...)
	}
	return out
}

// History returns closed orders in close order.
func (b *Book) History() []*Order {
	return b.history
}

// Tokens returns every token referenced by a pending or open order — the
// set a restarted session must re-subscribe on the tick feed.
func (b *Book) Tokens() []int64 {
	seen := make(map[int64]struct{}, len(b.pending)+len(b.open))
	for token := range b.pending {
		seen[token] = struct{}{}
	}
	for token := range b.open {
		seen[token] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for token := range seen {
		out = append(out, token)
	}
	return out
}
