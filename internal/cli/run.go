package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/pkg/feed"
	"github.com/rustyeddy/papertrade/pkg/journal"
	"github.com/rustyeddy/papertrade/pkg/logutil"
	"github.com/rustyeddy/papertrade/pkg/lots"
	"github.com/rustyeddy/papertrade/pkg/market"
	"github.com/rustyeddy/papertrade/pkg/paper"
	"github.com/rustyeddy/papertrade/pkg/session"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		scenario string
		seed     int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the paper trading session against a live or simulated feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if scenario != "" {
				cfg.Feed.Scenario = scenario
			}

			log, err := logutil.New(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, err := journal.NewSQLite(cfg.Journal.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctl, err := session.Open(store, cfg.Journal.PnLPersistInterval.Std(), log)
			if err != nil {
				return err
			}

			engine := paper.NewEngine(paper.Config{
				SlippagePercent:    cfg.Trading.SlippagePercent,
				EnforceMarketHours: cfg.Trading.EnforceMarketHours,
				AllowAMO:           cfg.Trading.AllowAMO,
				Hours: market.Hours{
					OpenHour:    cfg.Trading.MarketOpenHour,
					OpenMinute:  cfg.Trading.MarketOpenMinute,
					CloseHour:   cfg.Trading.MarketCloseHour,
					CloseMinute: cfg.Trading.MarketCloseMinute,
				},
				Fees: cfg.Fees.Schedule(),
			}, lots.NewTable(), ctl, log)

			subs, err := ctl.Bind(engine)
			if err != nil {
				return err
			}

			src := newSource(cfg, seed, log)
			src.Subscribe(instruments(cfg, subs))

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := src.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("feed stopped", zap.Error(err))
					stop()
				}
			}()

			// Pending DAY orders are swept once the market closes.
			sweep := time.NewTicker(time.Minute)
			defer sweep.Stop()

			log.Info("session running",
				zap.String("session", ctl.SessionID()),
				zap.Bool("resumed", ctl.Resumed()),
				zap.String("feed", cfg.Feed.Mode),
			)

			for {
				select {
				case <-ctx.Done():
					if err := ctl.FlushPnL(); err != nil {
						log.Error("flush pnl", zap.Error(err))
					}
					if err := ctl.Close(); err != nil {
						log.Error("close session", zap.Error(err))
					}
					log.Info("session stopped", zap.String("session", ctl.SessionID()))
					return nil
				case t, ok := <-src.Ticks():
					if !ok {
						stop()
						continue
					}
					engine.OnTick(t)
				case <-sweep.C:
					if n := engine.ExpireDayOrders(); n > 0 {
						log.Info("expired day orders", zap.Int("count", n))
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "Simulator scenario (overrides config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Simulator RNG seed (0 = time-based)")

	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFromFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.DBPath != "" {
		cfg.Journal.DBPath = opts.DBPath
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}

func newSource(cfg *config.Config, seed int64, log *zap.Logger) feed.Source {
	if cfg.Feed.Mode == "socket" {
		return feed.NewSocket(cfg.Feed.URL, log)
	}
	sim := feed.Scenario(cfg.Feed.Scenario)
	if cfg.Feed.TickInterval > 0 {
		sim.TickInterval = cfg.Feed.TickInterval.Std()
	}
	return feed.NewSimulator(sim, seed, log)
}

// instruments merges the configured instrument list with subscriptions
// restored from a resumed session, so open positions keep receiving ticks.
func instruments(cfg *config.Config, subs []journal.Subscription) []feed.Instrument {
	byToken := make(map[int64]feed.Instrument)
	for _, inst := range cfg.Feed.Instruments {
		byToken[inst.Token] = feed.Instrument{
			Token:        inst.Token,
			Symbol:       inst.Symbol,
			InitialPrice: inst.InitialPrice,
		}
	}
	for _, s := range subs {
		if _, ok := byToken[s.Token]; !ok {
			byToken[s.Token] = feed.Instrument{Token: s.Token, Symbol: s.Symbol}
		}
	}
	out := make([]feed.Instrument, 0, len(byToken))
	for _, inst := range byToken {
		out = append(out, inst)
	}
	return out
}
