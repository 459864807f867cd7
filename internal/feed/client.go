// Package feed is the consumer side of the stream: it dials the
// broadcast server, pumps socket bytes through the frame parser and
// materializes records into the snapshot cache. The parser and the
// cache writer share one goroutine; snapshot readers live elsewhere.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/peter-kozarec/feedsim/internal/middleware"
	"github.com/peter-kozarec/feedsim/pkg/cache"
	"github.com/peter-kozarec/feedsim/pkg/parser"
	"github.com/peter-kozarec/feedsim/pkg/wire"
)

const (
	readBufferSize = 64 * 1024
	readPollPeriod = 250 * time.Millisecond
)

// Options tunes the client; the zero value is usable.
type Options struct {
	ValidateChecksum bool
	ValidateSequence bool
	// Recorder receives per-record wire-to-parse latency when set.
	Recorder middleware.Recorder
}

// Client owns the connection, the parser and the single cache writer.
type Client struct {
	logger *zap.Logger
	addr   string
	cache  *cache.Cache
	parser *parser.Parser
}

// New wires parser callbacks into the cache. Quote records update both
// sides under one write epoch; trades update the execution fields.
func New(logger *zap.Logger, addr string, c *cache.Cache, opts Options) *Client {
	p := parser.New()
	p.SetValidateChecksum(opts.ValidateChecksum)
	p.SetValidateSequence(opts.ValidateSequence)

	onTrade := func(t wire.Trade) {
		c.UpdateTrade(t.Header.SymbolID, t.Price, t.Quantity)
	}
	onQuote := func(q wire.Quote) {
		c.UpdateQuote(q.Header.SymbolID, q.BidPrice, q.BidQuantity, q.AskPrice, q.AskQuantity)
	}
	onHeartbeat := func(wire.Heartbeat) {}

	if opts.Recorder != nil {
		l := middleware.NewLatency(opts.Recorder)
		p.OnTrade = l.WithTrade(onTrade)
		p.OnQuote = l.WithQuote(onQuote)
		p.OnHeartbeat = l.WithHeartbeat(onHeartbeat)
	} else {
		p.OnTrade = onTrade
		p.OnQuote = onQuote
		p.OnHeartbeat = onHeartbeat
	}

	return &Client{
		logger: logger,
		addr:   addr,
		cache:  c,
		parser: p,
	}
}

// Run connects and pumps the stream until ctx is cancelled or the
// server closes the connection. The parser is reset on entry so a
// reconnect starts from a clean sequence state.
func (c *Client) Run(ctx context.Context) error {
	c.parser.Reset()

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer func() { _ = conn.Close() }()

	c.logger.Info("connected", zap.String("addr", c.addr))

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Bounded reads keep the loop responsive to cancellation.
		_ = conn.SetReadDeadline(time.Now().Add(readPollPeriod))
		n, err := conn.Read(buf)
		// A read can exceed the parser's buffer; feed the rest until
		// every byte is taken.
		for data := buf[:n]; len(data) > 0; {
			data = data[c.parser.Parse(data):]
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("server closed the stream")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// Stats exposes the parser counters for the dashboard and stat loops.
func (c *Client) Stats() parser.Stats {
	return c.parser.Stats()
}
