package domain

import "time"

// OIInterpretation is the directional reading derived from price and
// open-interest movement.
type OIInterpretation string

const (
	OILongBuildup   OIInterpretation = "LONG_BUILDUP"
	OIShortBuildup  OIInterpretation = "SHORT_BUILDUP"
	OILongUnwinding OIInterpretation = "LONG_UNWINDING"
	OIShortCovering OIInterpretation = "SHORT_COVERING"
	OINeutral       OIInterpretation = "NEUTRAL"
)

// OIMetrics is the latest open-interest interpretation published upstream
// for an instrument.
type OIMetrics struct {
	Interpretation OIInterpretation `json:"interpretation"`
	ChangePercent  float64          `json:"changePercent"`
	Confidence     float64          `json:"confidence"`
	Timestamp      time.Time        `json:"timestamp"`
}

// OIReading is one entry of a TargetSet's sliding OI window.
type OIReading struct {
	Timestamp      time.Time        `json:"timestamp"`
	Interpretation OIInterpretation `json:"interpretation"`
	ChangePercent  float64          `json:"change_percent"`
	Confidence     float64          `json:"confidence"`
}
