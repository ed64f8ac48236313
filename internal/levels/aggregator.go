// Package levels turns pivot, swing and round-number levels into a small set
// of confluence-scored profit targets and a stop loss for a long derivative
// position.
package levels

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// Source names a candidate's origin.
type Source string

const (
	SourcePivot Source = "pivot"
	SourceSwing Source = "swing"
	SourceRound Source = "round"
)

// Config tunes the clustering. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	DefaultDelta  float64 // used when the option delta is absent
	PivotWeight   int
	SwingWeight   int
	RoundWeight   int
	MergePct      float64 // candidate joins a cluster within this fraction of its centre
	SnapPct       float64 // centre snaps to a round figure within this fraction
	SideBandPct   float64 // minimum distance from entry for above/below clusters
	StepsBelow    int     // round figures generated below the rounded entry
	StepsAbove    int     // round figures generated above the rounded entry
	MinAbove      int     // above-entry clusters required for a result
	MinStopScore  int     // minimum score for a cluster to become the stop
	ConfluenceTol float64 // pivot prices equal at this precision count as confluent
}

// DefaultConfig returns the production clustering parameters.
func DefaultConfig() Config {
	return Config{
		DefaultDelta:  0.5,
		PivotWeight:   2,
		SwingWeight:   1,
		RoundWeight:   1,
		MergePct:      0.02,
		SnapPct:       0.01,
		SideBandPct:   0.005,
		StepsBelow:    3,
		StepsAbove:    8,
		MinAbove:      2,
		MinStopScore:  2,
		ConfluenceTol: 0.1,
	}
}

// Input carries everything needed to compute targets at entry time.
type Input struct {
	Entry        float64
	Delta        float64
	Spot         float64 // underlying price at entry
	Pivots       domain.PivotLevels
	Swings       []float64
	FallbackStop float64
}

// Result is the computed target ladder. Unavailable targets are zero.
type Result struct {
	Targets  [domain.MaxTargets]float64
	StopLoss float64
	// Scores holds the confluence score of each target; synthesized targets
	// score zero.
	Scores [domain.MaxTargets]int
}

// Candidate is a single price level proposed by one source.
type Candidate struct {
	Price  float64
	Weight int
	Source Source
}

// Cluster is a group of nearby candidates.
type Cluster struct {
	Center float64
	Score  int
}

// Aggregator computes smart targets.
type Aggregator struct {
	cfg Config
}

// New returns an Aggregator using cfg.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// RoundStep returns the round-figure spacing for an instrument priced at
// entry.
func RoundStep(entry float64) float64 {
	switch {
	case entry < 50:
		return 5
	case entry < 200:
		return 10
	default:
		return 25
	}
}

// Aggregate computes targets and stop for in. It returns
// domain.ErrNoSmartTargets when too few levels exist above entry; callers
// fall back to their own levels in that case.
func (a *Aggregator) Aggregate(in Input) (Result, error) {
	if in.Entry <= 0 {
		return Result{}, fmt.Errorf("levels: entry %.2f: %w", in.Entry, domain.ErrInvalidRequest)
	}
	step := RoundStep(in.Entry)

	cands := a.Candidates(in)
	clusters := a.cluster(cands, step)

	var above, below []Cluster
	for _, c := range clusters {
		switch {
		case c.Center >= in.Entry*(1+a.cfg.SideBandPct):
			above = append(above, c)
		case c.Center <= in.Entry*(1-a.cfg.SideBandPct):
			below = append(below, c)
		}
	}
	sort.SliceStable(above, func(i, j int) bool {
		di, dj := above[i].Center-in.Entry, above[j].Center-in.Entry
		if di != dj {
			return di < dj
		}
		return above[i].Score > above[j].Score
	})
	sort.SliceStable(below, func(i, j int) bool {
		return below[i].Center > below[j].Center
	})

	var res Result
	n := 0
	for _, c := range above {
		if n == domain.MaxTargets {
			break
		}
		if n > 0 && c.Center <= res.Targets[n-1] {
			continue
		}
		res.Targets[n] = c.Center
		res.Scores[n] = c.Score
		n++
	}
	if n < a.cfg.MinAbove {
		return Result{}, domain.ErrNoSmartTargets
	}
	for ; n < domain.MaxTargets; n++ {
		res.Targets[n] = roundTick(res.Targets[n-1] + step)
	}

	res.StopLoss = in.FallbackStop
	for _, c := range below {
		if c.Score >= a.cfg.MinStopScore {
			res.StopLoss = c.Center
			break
		}
	}
	return res, nil
}

// Candidates generates every weighted candidate for in, sorted by price.
func (a *Aggregator) Candidates(in Input) []Candidate {
	var out []Candidate
	out = append(out, a.pivotCandidates(in)...)
	for _, s := range in.Swings {
		if s > 0 {
			out = append(out, Candidate{Price: s, Weight: a.cfg.SwingWeight, Source: SourceSwing})
		}
	}
	out = append(out, a.roundCandidates(in.Entry)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func (a *Aggregator) pivotCandidates(in Input) []Candidate {
	if in.Spot <= 0 || len(in.Pivots) == 0 {
		return nil
	}
	delta := in.Delta
	if delta <= 0 {
		delta = a.cfg.DefaultDelta
	}

	timeframes := make([]string, 0, len(in.Pivots))
	for tf := range in.Pivots {
		timeframes = append(timeframes, tf)
	}
	sort.Strings(timeframes)

	type translated struct {
		tf    string
		price float64
	}
	var all []translated
	seen := make(map[int64]map[string]bool)
	for _, tf := range timeframes {
		labels := make([]string, 0, len(in.Pivots[tf]))
		for l := range in.Pivots[tf] {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			lvl := in.Pivots[tf][l]
			if lvl <= 0 {
				continue
			}
			p := roundTick(in.Entry + delta*(lvl-in.Spot))
			if p <= 0 {
				continue
			}
			all = append(all, translated{tf: tf, price: p})
			k := confluenceKey(p, a.cfg.ConfluenceTol)
			if seen[k] == nil {
				seen[k] = make(map[string]bool)
			}
			seen[k][tf] = true
		}
	}

	out := make([]Candidate, 0, len(all))
	for _, t := range all {
		w := a.cfg.PivotWeight
		if len(seen[confluenceKey(t.price, a.cfg.ConfluenceTol)]) >= 2 {
			w++
		}
		out = append(out, Candidate{Price: t.price, Weight: w, Source: SourcePivot})
	}
	return out
}

func (a *Aggregator) roundCandidates(entry float64) []Candidate {
	step := RoundStep(entry)
	base := math.Ceil(entry/step) * step
	var out []Candidate
	for i := -a.cfg.StepsBelow; i <= a.cfg.StepsAbove; i++ {
		p := base + float64(i)*step
		if p <= 0 {
			continue
		}
		out = append(out, Candidate{Price: p, Weight: a.cfg.RoundWeight, Source: SourceRound})
	}
	return out
}

// cluster merges price-sorted candidates. A candidate joins the open cluster
// when it lies within MergePct of the cluster's weighted-mean centre.
func (a *Aggregator) cluster(cands []Candidate, step float64) []Cluster {
	var (
		out          []Cluster
		sumW, sumWP  float64
		score, count int
	)
	flush := func() {
		if count == 0 {
			return
		}
		out = append(out, Cluster{
			Center: a.finalCenter(sumWP/sumW, step),
			Score:  score,
		})
		sumW, sumWP, score, count = 0, 0, 0, 0
	}

	for _, c := range cands {
		if count > 0 {
			center := sumWP / sumW
			if math.Abs(c.Price-center) > center*a.cfg.MergePct {
				flush()
			}
		}
		w := float64(c.Weight)
		sumW += w
		sumWP += w * c.Price
		score += c.Weight
		count++
	}
	flush()
	return out
}

func (a *Aggregator) finalCenter(center, step float64) float64 {
	rf := math.Round(center/step) * step
	if rf > 0 && math.Abs(center-rf) <= center*a.cfg.SnapPct {
		center = rf
	}
	return roundTick(center)
}

func confluenceKey(p, tol float64) int64 {
	return int64(math.Round(p / tol))
}
