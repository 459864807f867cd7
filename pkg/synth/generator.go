package synth

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/peter-kozarec/feedsim/pkg/wire"
)

const (
	tradeProbability = 0.3

	minStartPrice   = 100.0
	startPriceRange = 4900.0

	minVolatility   = 0.01
	volatilityRange = 0.05

	minSpreadPct   = 0.0005
	spreadPctRange = 0.0015

	minBaseVolume   = 1000
	baseVolumeRange = 9001

	minVolume = 100
)

// SymbolState is the writer-owned price process for one symbol. It is
// mutated exclusively by the generator that created it.
type SymbolState struct {
	SymbolID     uint16
	CurrentPrice float64
	Volatility   float64 // sigma
	Drift        float64 // mu, neutral by default
	DeltaT       float64
	SpreadPct    float64
	BaseVolume   uint32
}

// Generator evolves per-symbol prices with geometric Brownian motion
// and emits a mixed trade/quote stream under one strictly monotonic
// sequence counter. Not safe for concurrent use; one goroutine owns it.
type Generator struct {
	logger  *zap.Logger
	rng     *rand.Rand
	symbols []SymbolState

	sequence uint32

	// Box-Muller produces normals in pairs; the second is cached.
	hasSpare bool
	spare    float64
}

// NewGenerator seeds numSymbols price processes from rng.
func NewGenerator(logger *zap.Logger, rng *rand.Rand, numSymbols int) *Generator {
	g := &Generator{
		logger:  logger,
		rng:     rng,
		symbols: make([]SymbolState, 0, numSymbols),
	}

	for i := 0; i < numSymbols; i++ {
		g.symbols = append(g.symbols, SymbolState{
			SymbolID:     uint16(i),
			CurrentPrice: minStartPrice + rng.Float64()*startPriceRange,
			Volatility:   minVolatility + rng.Float64()*volatilityRange,
			Drift:        0.0,
			DeltaT:       0.001,
			SpreadPct:    minSpreadPct + rng.Float64()*spreadPctRange,
			BaseVolume:   minBaseVolume + uint32(rng.Intn(baseVolumeRange)),
		})
	}

	logger.Info("tick generator initialized", zap.Int("symbols", numSymbols))
	for i := 0; i < numSymbols && i < 3; i++ {
		s := g.symbols[i]
		logger.Debug("sample symbol",
			zap.Uint16("symbol_id", s.SymbolID),
			zap.Float64("price", s.CurrentPrice),
			zap.Float64("volatility", s.Volatility),
			zap.Float64("spread_pct", s.SpreadPct))
	}

	return g
}

func (g *Generator) NumSymbols() int {
	return len(g.symbols)
}

// Emit advances the price of symbolID by one step and stamps the
// header for the next record. The returned kind is MsgTrade with 30%
// probability, MsgQuote otherwise. An out-of-range symbol id is a
// silent no-op yielding a zero header and MsgQuote.
func (g *Generator) Emit(symbolID uint16) (wire.Header, wire.MsgType) {
	if int(symbolID) >= len(g.symbols) {
		return wire.Header{}, wire.MsgQuote
	}

	g.stepPrice(&g.symbols[symbolID])

	kind := wire.MsgQuote
	if g.rng.Float64() < tradeProbability {
		kind = wire.MsgTrade
	}

	g.sequence++
	return wire.Header{
		MsgType:   kind,
		Sequence:  g.sequence,
		Timestamp: uint64(time.Now().UnixNano()),
		SymbolID:  symbolID,
	}, kind
}

// FillTrade populates the trade payload for symbolID. The trade prints
// at the mid price. Out-of-range ids leave the payload untouched.
func (g *Generator) FillTrade(symbolID uint16, t *wire.Trade) {
	if int(symbolID) >= len(g.symbols) {
		return
	}
	s := &g.symbols[symbolID]
	t.Price = s.CurrentPrice
	t.Quantity = g.volume(s)
}

// FillQuote populates the quote payload for symbolID with a two-sided
// book around the mid price. Out-of-range ids leave the payload
// untouched.
func (g *Generator) FillQuote(symbolID uint16, q *wire.Quote) {
	if int(symbolID) >= len(g.symbols) {
		return
	}
	s := &g.symbols[symbolID]

	bid, ask := g.bidAsk(s)
	q.BidPrice = bid
	q.BidQuantity = g.volume(s)
	q.AskPrice = ask
	q.AskQuantity = g.volume(s)
}

// CurrentPrice returns the mid price of symbolID, zero when out of
// range.
func (g *Generator) CurrentPrice(symbolID uint16) float64 {
	if int(symbolID) >= len(g.symbols) {
		return 0
	}
	return g.symbols[symbolID].CurrentPrice
}

// stepPrice applies one GBM increment:
//
//	dS = mu*S*dt + sigma*S*sqrt(dt)*dW, dW ~ N(0,1)
//
// The clamp bounds are derived from the already-updated price, so they
// only ever bite through the absolute 1.0 floor. Kept that way on
// purpose; a pre-step circuit breaker would change the process.
func (g *Generator) stepPrice(s *SymbolState) {
	dW := g.normal()
	dS := s.Drift*s.CurrentPrice*s.DeltaT +
		s.Volatility*s.CurrentPrice*math.Sqrt(s.DeltaT)*dW
	s.CurrentPrice += dS

	minPrice := s.CurrentPrice * 0.5
	maxPrice := s.CurrentPrice * 2.0
	if s.CurrentPrice < minPrice {
		s.CurrentPrice = minPrice
	} else if s.CurrentPrice > maxPrice {
		s.CurrentPrice = maxPrice
	}

	if s.CurrentPrice < 1.0 {
		s.CurrentPrice = 1.0
	}
}

// normal draws a standard normal via the Box-Muller transform,
// caching the sine leg for the next call.
func (g *Generator) normal() float64 {
	if g.hasSpare {
		g.hasSpare = false
		return g.spare
	}

	var u1 float64
	for {
		u1 = g.rng.Float64()
		if u1 > 0 {
			break
		}
	}
	u2 := g.rng.Float64()

	r := math.Sqrt(-2.0 * math.Log(u1))
	theta := 2.0 * math.Pi * u2

	g.spare = r * math.Sin(theta)
	g.hasSpare = true
	return r * math.Cos(theta)
}

func (g *Generator) bidAsk(s *SymbolState) (bid, ask float64) {
	mid := s.CurrentPrice
	half := mid * s.SpreadPct / 2.0

	bid = mid - half
	ask = mid + half
	if bid >= ask {
		bid = mid - 0.01
		ask = mid + 0.01
	}
	return bid, ask
}

func (g *Generator) volume(s *SymbolState) uint32 {
	v := uint32(float64(s.BaseVolume) * (0.5 + g.rng.Float64()))
	if v < minVolume {
		v = minVolume
	}
	return v
}
