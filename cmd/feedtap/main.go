package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/peter-kozarec/feedsim/internal/cfg"
	"github.com/peter-kozarec/feedsim/internal/dashboard"
	"github.com/peter-kozarec/feedsim/internal/dbg"
	"github.com/peter-kozarec/feedsim/internal/feed"
	"github.com/peter-kozarec/feedsim/internal/wsfeed"
	"github.com/peter-kozarec/feedsim/pkg/cache"
	"github.com/peter-kozarec/feedsim/pkg/latency"
)

const statInterval = 5 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "feedtap"
	app.Usage = "market data feed consumer with terminal dashboard"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to YAML config"},
		cli.StringFlag{Name: "addr, a", Usage: "server address to connect to"},
		cli.IntFlag{Name: "symbols, s", Usage: "symbol slots in the snapshot cache"},
		cli.IntFlag{Name: "top, n", Usage: "symbols shown on the dashboard"},
		cli.StringFlag{Name: "ws", Usage: "serve websocket snapshots on this address"},
		cli.BoolFlag{Name: "no-dashboard", Usage: "log statistics instead of rendering"},
		cli.BoolFlag{Name: "no-checksum", Usage: "disable checksum validation"},
		cli.BoolFlag{Name: "no-sequence", Usage: "disable sequence validation"},
		cli.StringFlag{Name: "log-file", Usage: "rotate logs into this file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	conf, err := cfg.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		conf.Client.Addr = c.String("addr")
	}
	if c.IsSet("symbols") {
		conf.Server.Symbols = c.Int("symbols")
	}
	if c.IsSet("top") {
		conf.Client.TopSymbols = c.Int("top")
	}
	if c.IsSet("ws") {
		conf.Client.WSListen = c.String("ws")
	}
	if c.Bool("no-checksum") {
		conf.Client.ValidateChecksum = false
	}
	if c.Bool("no-sequence") {
		conf.Client.ValidateSequence = false
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	showDashboard := !c.Bool("no-dashboard")
	logger := newLogger(c, conf, showDashboard)
	defer func() { _ = logger.Sync() }()

	snapshots := cache.New(conf.Server.Symbols)
	tracker := latency.NewDefaultTracker()

	client := feed.New(logger, conf.Client.Addr, snapshots, feed.Options{
		ValidateChecksum: conf.Client.ValidateChecksum,
		ValidateSequence: conf.Client.ValidateSequence,
		Recorder:         tracker,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if conf.Client.WSListen != "" {
		hub := wsfeed.NewHub(logger, snapshots, time.Duration(conf.Client.UpdateIntervalMS)*time.Millisecond)
		go hub.Run(ctx)
		go func() {
			if err := hub.Listen(ctx, conf.Client.WSListen); err != nil {
				logger.Error("ws bridge failed", zap.Error(err))
			}
		}()
	}

	if showDashboard {
		view := dashboard.New(os.Stdout, snapshots, client.Stats, tracker,
			conf.Client.TopSymbols,
			time.Duration(conf.Client.UpdateIntervalMS)*time.Millisecond)
		go view.Run(ctx)
	} else {
		go statLoop(ctx, logger, client, snapshots, tracker)
	}

	if err := client.Run(ctx); err != nil {
		return err
	}
	logger.Info("feedtap finished")
	return nil
}

// newLogger keeps stdout clean while the dashboard owns it.
func newLogger(c *cli.Context, conf cfg.Config, dashboardActive bool) *zap.Logger {
	file := conf.Logging.File
	if c.IsSet("log-file") {
		file = c.String("log-file")
	}
	if file == "" && dashboardActive {
		file = "feedtap.log"
	}
	if file != "" {
		return dbg.NewRotatingLogger(file, dbg.ParseLevel(conf.Logging.Level))
	}
	return dbg.NewProdLogger()
}

func statLoop(ctx context.Context, logger *zap.Logger, client *feed.Client, snapshots *cache.Cache, tracker *latency.Tracker) {
	ticker := time.NewTicker(statInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := client.Stats()
			lat := tracker.Stats()
			logger.Info("feed statistics",
				zap.Uint64("messages_parsed", stats.MessagesParsed),
				zap.Uint64("trades_parsed", stats.TradesParsed),
				zap.Uint64("quotes_parsed", stats.QuotesParsed),
				zap.Uint64("heartbeats_parsed", stats.HeartbeatsParsed),
				zap.Uint64("sequence_gaps", stats.SequenceGaps),
				zap.Uint64("checksum_errors", stats.ChecksumErrors),
				zap.Uint64("malformed", stats.Malformed),
				zap.Uint64("cache_updates", snapshots.TotalUpdates()),
				zap.Uint64("latency_p50_ns", lat.P50Ns),
				zap.Uint64("latency_p99_ns", lat.P99Ns))
		}
	}
}
