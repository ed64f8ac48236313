package levels

import "github.com/alanyoungcy/papertrader/internal/domain"

// SwingLevels extracts swing highs and lows from candles. A swing high is a
// candle whose high is strictly greater than both neighbours' highs; a swing
// low is the mirror image on lows. Results are in candle order, highs first.
func SwingLevels(candles []domain.Candle) (highs, lows []float64) {
	for i := 1; i+1 < len(candles); i++ {
		prev, cur, next := candles[i-1], candles[i], candles[i+1]
		if cur.High > prev.High && cur.High > next.High {
			highs = append(highs, cur.High)
		}
		if cur.Low > 0 && cur.Low < prev.Low && cur.Low < next.Low {
			lows = append(lows, cur.Low)
		}
	}
	return highs, lows
}

// Swings returns all swing highs and lows as a single slice.
func Swings(candles []domain.Candle) []float64 {
	highs, lows := SwingLevels(candles)
	return append(highs, lows...)
}
