// Package dashboard renders the snapshot cache and feed statistics as
// an ANSI terminal view. Pure consumer: it only reads snapshots,
// parser counters and latency stats.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/peter-kozarec/feedsim/pkg/cache"
	"github.com/peter-kozarec/feedsim/pkg/latency"
	"github.com/peter-kozarec/feedsim/pkg/parser"
	"github.com/peter-kozarec/feedsim/pkg/utility/fixed"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"

	ansiClear = "\033[2J\033[H"
)

// StatsFunc supplies the current parser counters.
type StatsFunc func() parser.Stats

type row struct {
	symbolID uint16
	snap     cache.Snapshot
	change   fixed.Point
}

// Visualizer repaints a top-N symbol table at a fixed interval.
type Visualizer struct {
	out      io.Writer
	cache    *cache.Cache
	stats    StatsFunc
	tracker  *latency.Tracker
	topN     int
	interval time.Duration

	start time.Time
	// First-seen price per symbol (last trade, or bid/ask mid before any
	// trade), for the change column.
	initial map[uint16]fixed.Point
}

func New(out io.Writer, c *cache.Cache, stats StatsFunc, tracker *latency.Tracker, topN int, interval time.Duration) *Visualizer {
	if topN > c.NumSymbols() {
		topN = c.NumSymbols()
	}
	return &Visualizer{
		out:      out,
		cache:    c,
		stats:    stats,
		tracker:  tracker,
		topN:     topN,
		interval: interval,
		start:    time.Now(),
		initial:  make(map[uint16]fixed.Point),
	}
}

// Run repaints until ctx is cancelled.
func (v *Visualizer) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.render()
		}
	}
}

func (v *Visualizer) render() {
	var b strings.Builder

	b.WriteString(ansiClear)
	v.drawHeader(&b)
	v.drawStatistics(&b)
	v.drawSymbolTable(&b)
	b.WriteString(ansiReset)

	_, _ = io.WriteString(v.out, b.String())
}

func (v *Visualizer) drawHeader(b *strings.Builder) {
	uptime := time.Since(v.start).Truncate(time.Second)
	fmt.Fprintf(b, "%s%s  MARKET DATA FEED  %s  uptime %s%s\n\n",
		ansiBold, ansiCyan, time.Now().Format("15:04:05"), uptime, ansiReset)
}

func (v *Visualizer) drawStatistics(b *strings.Builder) {
	s := v.stats()
	fmt.Fprintf(b, "messages %-10d trades %-10d quotes %-10d heartbeats %-8d\n",
		s.MessagesParsed, s.TradesParsed, s.QuotesParsed, s.HeartbeatsParsed)
	fmt.Fprintf(b, "gaps     %-10d checksum errors %-6d malformed %-8d cache updates %d\n",
		s.SequenceGaps, s.ChecksumErrors, s.Malformed, v.cache.TotalUpdates())

	if v.tracker != nil {
		l := v.tracker.Stats()
		fmt.Fprintf(b, "latency  p50 %-8s p95 %-8s p99 %-8s max %-8s samples %d\n",
			formatNs(l.P50Ns), formatNs(l.P95Ns), formatNs(l.P99Ns), formatNs(l.MaxNs), l.SampleCount)
	}
	b.WriteString("\n")
}

func (v *Visualizer) drawSymbolTable(b *strings.Builder) {
	rows := v.topSymbols()

	fmt.Fprintf(b, "%s%-8s %12s %12s %12s %10s %10s %10s%s\n",
		ansiBold, "SYMBOL", "BID", "ASK", "LAST", "BIDQTY", "ASKQTY", "CHG%", ansiReset)

	for _, r := range rows {
		color := ansiYellow
		if r.change.Gt(fixed.Zero) {
			color = ansiGreen
		} else if r.change.IsNeg() {
			color = ansiRed
		}

		fmt.Fprintf(b, "%-8d %12s %12s %12s %10d %10d %s%10s%s\n",
			r.symbolID,
			formatPrice(r.snap.BestBid),
			formatPrice(r.snap.BestAsk),
			formatPrice(r.snap.LastTradedPrice),
			r.snap.BidQuantity,
			r.snap.AskQuantity,
			color, r.change.Rescale(2).String(), ansiReset)
	}
}

// topSymbols snapshots every slot and keeps the topN most active.
func (v *Visualizer) topSymbols() []row {
	rows := make([]row, 0, v.cache.NumSymbols())

	for i := 0; i < v.cache.NumSymbols(); i++ {
		id := uint16(i)
		snap := v.cache.Snapshot(id)
		if snap.UpdateCount == 0 {
			continue
		}
		rows = append(rows, row{symbolID: id, snap: snap, change: v.changePercent(id, snap)})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].snap.UpdateCount > rows[j].snap.UpdateCount
	})
	if len(rows) > v.topN {
		rows = rows[:v.topN]
	}
	return rows
}

// changePercent compares the last trade (the bid/ask mid while the
// symbol has no trade) against the first price seen for the symbol.
func (v *Visualizer) changePercent(id uint16, snap cache.Snapshot) fixed.Point {
	price := snap.LastTradedPrice
	if price == 0 {
		price = (snap.BestBid + snap.BestAsk) / 2
	}
	if price == 0 {
		return fixed.Zero
	}

	p := fixed.FromFloat64(price)
	first, ok := v.initial[id]
	if !ok {
		v.initial[id] = p
		return fixed.Zero
	}
	return p.Sub(first).Div(first).Mul(fixed.Hundred)
}

func formatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return fixed.FromFloat64(p).Rescale(2).String()
}

func formatNs(ns uint64) string {
	return time.Duration(ns).String()
}
