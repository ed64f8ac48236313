package levels

import "github.com/shopspring/decimal"

// tickSize is the minimum price increment of exchange-traded derivatives.
var tickSize = decimal.RequireFromString("0.05")

// roundTick rounds p to the nearest multiple of the exchange tick size.
func roundTick(p float64) float64 {
	return RoundToTick(p, tickSize)
}

// RoundToTick rounds p to the nearest multiple of tick.
func RoundToTick(p float64, tick decimal.Decimal) float64 {
	if tick.IsZero() {
		return p
	}
	return decimal.NewFromFloat(p).Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// Scale multiplies p by ratio and rounds the result to the tick size.
func Scale(p, ratio float64) float64 {
	if p == 0 {
		return 0
	}
	return RoundToTick(decimal.NewFromFloat(p).Mul(decimal.NewFromFloat(ratio)).InexactFloat64(), tickSize)
}
