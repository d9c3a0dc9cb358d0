package market

import (
	"errors"
	"sync"
	"time"
)

// Tick is a single last-traded-price observation for an instrument token.
// Ticks are ephemeral: they drive order transitions but are never persisted.
type Tick struct {
	Token int64
	LTP   float64
	Time  time.Time
}

var ErrNoTick = errors.New("no tick observed for token")

// TickStore keeps the latest tick per token.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[int64]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[int64]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Token] = t
}

func (ts *TickStore) Get(token int64) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[token]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}

// Last returns the latest LTP for token, or ok=false if no tick was ever seen.
func (ts *TickStore) Last(token int64) (float64, bool) {
	t, err := ts.Get(token)
	if err != nil {
		return 0, false
	}
	return t.LTP, true
}
