package middleware

import (
	"time"

	"github.com/peter-kozarec/feedsim/pkg/parser"
	"github.com/peter-kozarec/feedsim/pkg/wire"
)

// Recorder is the latency sink the wrappers feed. Implementations must
// accept concurrent calls without locking the caller.
type Recorder interface {
	Record(latencyNs uint64)
}

// Latency wraps parser handlers and records the wire-to-parse age of
// every record before handing it on. Records whose timestamp is not in
// the past are handed on without a sample.
type Latency struct {
	recorder Recorder
}

func NewLatency(recorder Recorder) *Latency {
	return &Latency{recorder: recorder}
}

func (l *Latency) WithTrade(handler parser.TradeHandler) parser.TradeHandler {
	return func(t wire.Trade) {
		l.record(t.Header.Timestamp)
		handler(t)
	}
}

func (l *Latency) WithQuote(handler parser.QuoteHandler) parser.QuoteHandler {
	return func(q wire.Quote) {
		l.record(q.Header.Timestamp)
		handler(q)
	}
}

func (l *Latency) WithHeartbeat(handler parser.HeartbeatHandler) parser.HeartbeatHandler {
	return func(hb wire.Heartbeat) {
		l.record(hb.Header.Timestamp)
		handler(hb)
	}
}

func (l *Latency) record(sentNs uint64) {
	now := uint64(time.Now().UnixNano())
	if now > sentNs {
		l.recorder.Record(now - sentNs)
	}
}
