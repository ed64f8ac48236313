// Package lots splits a position's lot count across profit-target tranches.
package lots

import "sort"

// DefaultPercents is the 40/30/20/10 tranche split used when none is
// configured.
var DefaultPercents = []int{40, 30, 20, 10}

// Allocate splits totalLots across len(percents) tranches using the
// largest-remainder method. Each tranche receives floor(share) lots and the
// leftover is handed out one lot at a time to the largest fractional
// remainders, ties going to the later tranche. The result always sums to
// totalLots.
//
// Percents are normalised by their sum, so they need not add up to 100.
// All-zero or negative weights are treated as an even split.
func Allocate(totalLots int, percents []int) []int {
	n := len(percents)
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	if totalLots <= 0 {
		return out
	}

	weights := make([]int, n)
	sum := 0
	for i, p := range percents {
		if p > 0 {
			weights[i] = p
			sum += p
		}
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = n
	}

	// share_i = weights[i]*totalLots/sum, kept as an exact integer quotient
	// and remainder so ties compare exactly.
	rem := make([]int, n)
	assigned := 0
	for i, w := range weights {
		num := w * totalLots
		out[i] = num / sum
		rem[i] = num % sum
		assigned += out[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if rem[ia] != rem[ib] {
			return rem[ia] > rem[ib]
		}
		return ia > ib
	})

	for k := 0; assigned < totalLots; k++ {
		out[order[k%n]]++
		assigned++
	}
	return out
}

// Quantities converts a unit quantity into per-tranche unit quantities,
// allocating whole lots. totalQty is expected to be a multiple of lotSize.
func Quantities(totalQty, lotSize int, percents []int) []int {
	if lotSize <= 0 {
		lotSize = 1
	}
	alloc := Allocate(totalQty/lotSize, percents)
	for i := range alloc {
		alloc[i] *= lotSize
	}
	return alloc
}

// AlignQuantity rounds qty down to a whole number of lots, never below one
// lot. The second return value reports whether qty was changed.
func AlignQuantity(qty, lotSize int) (int, bool) {
	if lotSize <= 1 {
		if qty < 1 {
			return 1, true
		}
		return qty, false
	}
	if qty >= lotSize && qty%lotSize == 0 {
		return qty, false
	}
	aligned := (qty / lotSize) * lotSize
	if aligned < lotSize {
		aligned = lotSize
	}
	return aligned, true
}
