package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrade/pkg/market"
)

// SimConfig tunes the simulated price engine. Volatility and trend are
// daily figures; they are rescaled per tick assuming ~7200 ticks/day.
type SimConfig struct {
	TickInterval time.Duration

	BaseVolatility       float64 // daily, e.g. 0.015 = 1.5%
	VolatilityClustering float64 // GARCH alpha, 0..1
	MeanReversionSpeed   float64
	MeanReversionWindow  int
	JumpProbability      float64 // per tick
	JumpMagnitude        float64
	Trend                float64 // daily drift; 0 = sideways
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		TickInterval:         500 * time.Millisecond,
		BaseVolatility:       0.015,
		VolatilityClustering: 0.7,
		MeanReversionSpeed:   0.05,
		MeanReversionWindow:  50,
		JumpProbability:      0.001,
		JumpMagnitude:        0.02,
	}
}

// Scenario returns a named preset for off-hours testing. Unknown names
// fall back to the default sideways configuration.
func Scenario(name string) SimConfig {
	cfg := DefaultSimConfig()
	switch name {
	case "trending_up":
		cfg.Trend = 0.002
		cfg.BaseVolatility = 0.01
		cfg.MeanReversionSpeed = 0.02
	case "trending_down":
		cfg.Trend = -0.002
		cfg.BaseVolatility = 0.01
		cfg.MeanReversionSpeed = 0.02
	case "high_volatility":
		cfg.BaseVolatility = 0.03
		cfg.VolatilityClustering = 0.8
		cfg.JumpProbability = 0.002
	case "sl_test":
		cfg.Trend = -0.003
		cfg.MeanReversionSpeed = 0.01
	case "target_test":
		cfg.Trend = 0.003
		cfg.MeanReversionSpeed = 0.01
	case "flash_crash":
		cfg.Trend = -0.001
		cfg.BaseVolatility = 0.02
		cfg.JumpProbability = 0.01
		cfg.JumpMagnitude = 0.05
	case "sideways", "":
		cfg.BaseVolatility = 0.01
		cfg.JumpProbability = 0.0005
	}
	return cfg
}

const ticksPerDay = 7200 // 6h at one tick per 500ms

// priceEngine generates one instrument's price path: geometric brownian
// motion with volatility clustering, mean reversion, and jump diffusion.
type priceEngine struct {
	cfg       SimConfig
	rng       *rand.Rand
	price     float64
	vol       float64
	lastShock float64
	history   []float64
	tickScale float64
}

func newPriceEngine(initial float64, cfg SimConfig, rng *rand.Rand) *priceEngine {
	if cfg.MeanReversionWindow <= 0 {
		cfg.MeanReversionWindow = 50
	}
	return &priceEngine{
		cfg:       cfg,
		rng:       rng,
		price:     initial,
		vol:       cfg.BaseVolatility,
		history:   []float64{initial},
		tickScale: 1.0 / math.Sqrt(ticksPerDay),
	}
}

func (p *priceEngine) next() float64 {
	// Volatility clustering: high-volatility shocks persist, clamped to
	// [0.5x, 3x] of base.
	alpha := p.cfg.VolatilityClustering
	p.vol = alpha*math.Abs(p.lastShock) + (1-alpha)*p.cfg.BaseVolatility
	p.vol = math.Max(p.cfg.BaseVolatility*0.5, math.Min(p.vol, p.cfg.BaseVolatility*3))

	drift := p.cfg.Trend * p.tickScale

	shock := p.rng.NormFloat64()
	p.lastShock = shock
	diffusion := p.vol * p.tickScale * shock

	var jump float64
	if p.rng.Float64() < p.cfg.JumpProbability {
		direction := 1.0
		if p.rng.Intn(2) == 0 {
			direction = -1.0
		}
		jump = direction * p.cfg.JumpMagnitude * (0.5 + p.rng.Float64())
	}

	var reversion float64
	if len(p.history) >= 2 {
		var mean float64
		for _, v := range p.history {
			mean += v
		}
		mean /= float64(len(p.history))
		deviation := (p.price - mean) / mean
		reversion = -p.cfg.MeanReversionSpeed * deviation * p.tickScale
	}

	p.price *= 1 + drift + diffusion + jump + reversion
	p.price = math.Max(p.price, 0.05)

	p.history = append(p.history, p.price)
	if len(p.history) > p.cfg.MeanReversionWindow {
		p.history = p.history[1:]
	}

	return math.Round(p.price*100) / 100
}

// Simulator is a tick Source that walks each subscribed instrument's price
// independently on a shared wall-clock interval.
type Simulator struct {
	cfg SimConfig
	log *zap.Logger

	mu      sync.Mutex
	engines map[int64]*priceEngine
	rng     *rand.Rand

	out chan market.Tick
}

func NewSimulator(cfg SimConfig, seed int64, log *zap.Logger) *Simulator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:     cfg,
		log:     log,
		engines: make(map[int64]*priceEngine),
		rng:     rand.New(rand.NewSource(seed)),
		out:     make(chan market.Tick, 64),
	}
}

func (s *Simulator) Subscribe(instruments []Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range instruments {
		if _, ok := s.engines[inst.Token]; ok {
			continue
		}
		initial := inst.InitialPrice
		if initial <= 0 {
			initial = 100
		}
		s.engines[inst.Token] = newPriceEngine(initial, s.cfg, s.rng)
		s.log.Info("simulator subscribed",
			zap.Int64("token", inst.Token),
			zap.String("symbol", inst.Symbol),
			zap.Float64("initial_price", initial))
	}
}

func (s *Simulator) Ticks() <-chan market.Tick { return s.out }

// Run emits one tick per subscribed instrument every interval until ctx is
// cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	defer close(s.out)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, t := range s.step(now) {
				select {
				case s.out <- t:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Simulator) step(now time.Time) []market.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]market.Tick, 0, len(s.engines))
	for token, eng := range s.engines {
		out = append(out, market.Tick{Token: token, LTP: eng.next(), Time: now})
	}
	return out
}
