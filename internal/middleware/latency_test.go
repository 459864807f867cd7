package middleware

import (
	"testing"
	"time"

	"github.com/peter-kozarec/feedsim/pkg/wire"
)

type captureRecorder struct {
	samples []uint64
}

func (c *captureRecorder) Record(latencyNs uint64) {
	c.samples = append(c.samples, latencyNs)
}

func TestLatency_WithTrade(t *testing.T) {
	rec := &captureRecorder{}
	l := NewLatency(rec)

	var handled bool
	wrapped := l.WithTrade(func(wire.Trade) { handled = true })

	wrapped(wire.Trade{Header: wire.Header{
		Timestamp: uint64(time.Now().Add(-time.Millisecond).UnixNano()),
	}})

	if !handled {
		t.Fatal("wrapped handler not invoked")
	}
	if len(rec.samples) != 1 {
		t.Fatalf("recorded %d samples, want 1", len(rec.samples))
	}
	if rec.samples[0] < uint64(time.Millisecond) {
		t.Errorf("latency %dns, want at least 1ms", rec.samples[0])
	}
}

func TestLatency_SkipsFutureTimestamps(t *testing.T) {
	rec := &captureRecorder{}
	l := NewLatency(rec)

	wrapped := l.WithQuote(func(wire.Quote) {})
	wrapped(wire.Quote{Header: wire.Header{
		Timestamp: uint64(time.Now().Add(time.Hour).UnixNano()),
	}})

	if len(rec.samples) != 0 {
		t.Errorf("future-stamped record produced %d samples, want 0", len(rec.samples))
	}
}

func TestLatency_WithHeartbeat(t *testing.T) {
	rec := &captureRecorder{}
	l := NewLatency(rec)

	var count int
	wrapped := l.WithHeartbeat(func(wire.Heartbeat) { count++ })
	wrapped(wire.Heartbeat{Header: wire.Header{
		Timestamp: uint64(time.Now().Add(-time.Microsecond).UnixNano()),
	}})

	if count != 1 || len(rec.samples) != 1 {
		t.Errorf("handled %d recorded %d, want 1/1", count, len(rec.samples))
	}
}
