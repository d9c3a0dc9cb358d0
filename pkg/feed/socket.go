package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrade/pkg/market"
)

// Socket is a tick Source backed by a broker quote websocket. The wire
// format follows the common Indian-broker convention: JSON frames with
// "tk" (token) and "lp" (last price) fields, sent as strings or numbers;
// frames without both fields are heartbeats and are dropped.
type Socket struct {
	url string
	log *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []Instrument

	out chan market.Tick
}

func NewSocket(url string, log *zap.Logger) *Socket {
	if log == nil {
		log = zap.NewNop()
	}
	return &Socket{
		url: url,
		log: log,
		out: make(chan market.Tick, 64),
	}
}

func (s *Socket) Ticks() <-chan market.Tick { return s.out }

// Subscribe requests ticks for the given instruments. Safe to call before
// Run; subscriptions queue until the connection is up.
func (s *Socket) Subscribe(instruments []Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, instruments...)
	if s.conn != nil {
		s.sendSubscribeLocked(instruments)
	}
}

func (s *Socket) sendSubscribeLocked(instruments []Instrument) {
	tokens := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		tokens = append(tokens, strconv.FormatInt(inst.Token, 10))
	}
	msg := map[string]any{"k": tokens, "t": "t"}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.Error("subscribe write failed", zap.Error(err))
		return
	}
	for _, inst := range instruments {
		s.log.Info("subscribed", zap.Int64("token", inst.Token), zap.String("symbol", inst.Symbol))
	}
}

// Run connects and pumps ticks until ctx is cancelled or the connection
// drops. Reconnection policy belongs to the caller.
func (s *Socket) Run(ctx context.Context) error {
	defer close(s.out)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial quote feed %q: %w", s.url, err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	if len(s.pending) > 0 {
		s.sendSubscribeLocked(s.pending)
	}
	s.mu.Unlock()

	s.log.Info("quote feed connected", zap.String("url", s.url))

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("quote feed read: %w", err)
		}

		tick, ok := parseTick(payload)
		if !ok {
			continue // heartbeat or unrecognized frame
		}

		select {
		case s.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseTick normalizes a raw frame into a Tick. Returns ok=false for
// heartbeats and frames missing token or price.
func parseTick(payload []byte) (market.Tick, bool) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		return market.Tick{}, false
	}

	rawToken, okT := frame["tk"]
	rawPrice, okP := frame["lp"]
	if !okT || !okP {
		return market.Tick{}, false
	}

	token, err := asInt64(rawToken)
	if err != nil {
		return market.Tick{}, false
	}
	price, err := asFloat64(rawPrice)
	if err != nil {
		return market.Tick{}, false
	}

	return market.Tick{Token: token, LTP: price, Time: time.Now()}, true
}

func asInt64(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	var n int64
	err := json.Unmarshal(raw, &n)
	return n, err
}

func asFloat64(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	err := json.Unmarshal(raw, &f)
	return f, err
}
