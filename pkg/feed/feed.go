// Package feed supplies the live tick stream: either a websocket client
// against a broker quote feed or a simulated price engine for use outside
// market hours. Both deliver market.Tick values on a channel with strict
// per-token ordering.
package feed

import (
	"context"

	"github.com/rustyeddy/papertrade/pkg/market"
)

// Instrument identifies one subscribable contract.
type Instrument struct {
	Token        int64
	Symbol       string
	InitialPrice float64 // seed price for the simulator; ignored by live feeds
}

// Source is a tick stream. Run blocks until ctx is cancelled or the stream
// fails; Ticks is closed when Run returns.
type Source interface {
	Subscribe(instruments []Instrument)
	Ticks() <-chan market.Tick
	Run(ctx context.Context) error
}
