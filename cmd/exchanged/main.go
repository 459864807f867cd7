package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/peter-kozarec/feedsim/internal/cfg"
	"github.com/peter-kozarec/feedsim/internal/dbg"
	"github.com/peter-kozarec/feedsim/internal/server"
	"github.com/peter-kozarec/feedsim/pkg/synth"
)

const statInterval = 5 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "exchanged"
	app.Usage = "simulated market data feed server"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to YAML config"},
		cli.IntFlag{Name: "port, p", Usage: "TCP port to listen on"},
		cli.IntFlag{Name: "symbols, s", Usage: "number of simulated symbols"},
		cli.UintFlag{Name: "rate, r", Usage: "tick rate in ticks/sec"},
		cli.StringFlag{Name: "log-file", Usage: "rotate logs into this file"},
		cli.BoolFlag{Name: "dev", Usage: "verbose development logging"},
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
	if c.IsSet("port") {
		conf.Server.Port = c.Int("port")
	}
	if c.IsSet("symbols") {
		conf.Server.Symbols = c.Int("symbols")
	}
	if c.IsSet("rate") {
		conf.Server.TickRate = uint32(c.Uint("rate"))
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	logger := newLogger(c, conf)
	defer func() { _ = logger.Sync() }()

	logger.Info("exchanged starting",
		zap.Int("port", conf.Server.Port),
		zap.Int("symbols", conf.Server.Symbols),
		zap.Uint32("tick_rate", conf.Server.TickRate))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	gen := synth.NewGenerator(logger, rng, conf.Server.Symbols)

	srv, err := server.New(logger, gen, server.Config{
		Port:     conf.Server.Port,
		TickRate: conf.Server.TickRate,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go statLoop(ctx, logger, srv)

	srv.Run(ctx)
	logger.Info("exchanged finished")
	return nil
}

func newLogger(c *cli.Context, conf cfg.Config) *zap.Logger {
	file := conf.Logging.File
	if c.IsSet("log-file") {
		file = c.String("log-file")
	}
	if file != "" {
		return dbg.NewRotatingLogger(file, dbg.ParseLevel(conf.Logging.Level))
	}
	if c.Bool("dev") {
		return dbg.NewDevLogger()
	}
	return dbg.NewProdLogger()
}

// statLoop reports throughput every statInterval.
func statLoop(ctx context.Context, logger *zap.Logger, srv *server.Server) {
	ticker := time.NewTicker(statInterval)
	defer ticker.Stop()

	var lastMessages uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			messages := srv.TotalMessagesSent()
			rate := float64(messages-lastMessages) / statInterval.Seconds()
			lastMessages = messages

			logger.Info("server statistics",
				zap.Int("clients", srv.ConnectedClients()),
				zap.Uint64("total_messages_sent", messages),
				zap.Uint64("total_bytes_sent", srv.TotalBytesSent()),
				zap.Float64("msg_rate", rate))
		}
	}
}
