package server

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/peter-kozarec/feedsim/pkg/parser"
	"github.com/peter-kozarec/feedsim/pkg/synth"
	"github.com/peter-kozarec/feedsim/pkg/wire"
)

func newTestServer(t *testing.T, tickRate uint32) *Server {
	t.Helper()

	gen := synth.NewGenerator(zap.NewNop(), rand.New(rand.NewSource(1)), 10)
	s, err := New(zap.NewNop(), gen, Config{Port: 0, TickRate: tickRate})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func TestServer_RejectsBadConfig(t *testing.T) {
	gen := synth.NewGenerator(zap.NewNop(), rand.New(rand.NewSource(1)), 1)

	if _, err := New(zap.NewNop(), gen, Config{Port: 70000, TickRate: 100}); err == nil {
		t.Error("expected error for out-of-range port")
	}
	if _, err := New(zap.NewNop(), gen, Config{Port: 9876, TickRate: 0}); err == nil {
		t.Error("expected error for zero tick rate")
	}

	empty := synth.NewGenerator(zap.NewNop(), rand.New(rand.NewSource(1)), 0)
	if _, err := New(zap.NewNop(), empty, Config{Port: 9876, TickRate: 100}); err == nil {
		t.Error("expected error for empty generator")
	}
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer(t, 1000)

	if s.Port() == 0 {
		t.Error("ephemeral port not resolved")
	}
	s.Stop()
	if s.listenFD != -1 || s.epollFD != -1 {
		t.Error("Stop must close listener and multiplexer")
	}
	// Idempotent.
	s.Stop()
}

func TestServer_BroadcastsParsableStream(t *testing.T) {
	s := newTestServer(t, 10_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	p := parser.New()
	var trades, quotes int
	var lastSeq uint32
	p.OnTrade = func(tr wire.Trade) {
		trades++
		lastSeq = tr.Header.Sequence
	}
	p.OnQuote = func(q wire.Quote) {
		quotes++
		lastSeq = q.Header.Sequence
		if q.BidPrice >= q.AskPrice {
			t.Errorf("quote with bid %v >= ask %v", q.BidPrice, q.AskPrice)
		}
	}

	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(5 * time.Second)
	for trades+quotes < 200 && time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			p.Parse(buf[:n])
		}
		if err != nil {
			break
		}
	}

	cancel()
	<-done

	if trades+quotes < 200 {
		t.Fatalf("received %d records, want at least 200", trades+quotes)
	}
	if trades == 0 || quotes == 0 {
		t.Errorf("stream should mix kinds, got %d trades / %d quotes", trades, quotes)
	}

	stats := p.Stats()
	if stats.ChecksumErrors != 0 || stats.Malformed != 0 {
		t.Errorf("stream carried invalid records: %+v", stats)
	}
	if stats.SequenceGaps != 0 {
		t.Errorf("single consumer stream should not gap: %+v", stats)
	}
	if lastSeq == 0 {
		t.Error("sequence numbers not stamped")
	}
	if s.TotalMessagesSent() == 0 || s.TotalBytesSent() == 0 {
		t.Error("broadcast counters not incremented")
	}
}

func TestServer_TracksConnectedClients(t *testing.T) {
	s := newTestServer(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", s.Port())
	c1, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return s.ConnectedClients() == 2 }, "two clients accepted")

	_ = c1.Close()
	_ = c2.Close()

	// A closed peer surfaces on the next write attempt.
	waitFor(t, func() bool { return s.ConnectedClients() == 0 }, "clients reaped after close")

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
