package fixed

import (
	"github.com/govalues/decimal"
)

// Point is an unsafe wrapper around the decimal implementation. Caller
// must make sure the calculations will not result in an error state,
// otherwise it will panic. Used for display math only; the feed hot
// path stays on float64.
type Point struct {
	v decimal.Decimal
}

var (
	Zero    = FromInt(0, 0)
	Hundred = FromInt(100, 0)
)

func FromInt(value int, scale int) Point {
	return Point{must(decimal.New(int64(value), scale))}
}

func FromFloat64(value float64) Point {
	return Point{must(decimal.NewFromFloat64(value))}
}

func (p Point) String() string           { return p.v.String() }
func (p Point) Float64() (float64, bool) { return p.v.Float64() }

func (p Point) Abs() Point { return Point{p.v.Abs()} }
func (p Point) Neg() Point { return Point{p.v.Neg()} }

func (p Point) Add(o Point) Point { return Point{must(p.v.Add(o.v))} }
func (p Point) Sub(o Point) Point { return Point{must(p.v.Sub(o.v))} }
func (p Point) Mul(o Point) Point { return Point{must(p.v.Mul(o.v))} }
func (p Point) Div(o Point) Point { return Point{must(p.v.Quo(o.v))} }

func (p Point) Eq(o Point) bool { return p.v.Cmp(o.v) == 0 }
func (p Point) Gt(o Point) bool { return p.v.Cmp(o.v) > 0 }
func (p Point) Lt(o Point) bool { return p.v.Cmp(o.v) < 0 }

func (p Point) IsZero() bool            { return p.v.IsZero() }
func (p Point) IsNeg() bool             { return p.v.IsNeg() }
func (p Point) Rescale(scale int) Point { return Point{p.v.Rescale(scale)} }

func must(v decimal.Decimal, err error) decimal.Decimal {
	if err == nil {
		// Return in the happy path
		return v
	}
	panic(err)
}
