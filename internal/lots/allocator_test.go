package lots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

func TestAllocate_Examples(t *testing.T) {
	tests := []struct {
		name     string
		lots     int
		percents []int
		want     []int
	}{
		{"seven lots", 7, []int{40, 30, 20, 10}, []int{3, 2, 1, 1}},
		{"three lots", 3, []int{40, 30, 20, 10}, []int{1, 1, 1, 0}},
		{"ten lots exact", 10, []int{40, 30, 20, 10}, []int{4, 3, 2, 1}},
		{"one lot", 1, []int{40, 30, 20, 10}, []int{1, 0, 0, 0}},
		{"zero lots", 0, []int{40, 30, 20, 10}, []int{0, 0, 0, 0}},
		{"even tie goes to later", 1, []int{50, 50}, []int{0, 1}},
		{"two tranches", 5, []int{60, 40}, []int{3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allocate(tt.lots, tt.percents))
		})
	}
}

func TestAllocate_SumsToTotal(t *testing.T) {
	weightSets := [][]int{
		{40, 30, 20, 10},
		{25, 25, 25, 25},
		{70, 20, 10},
		{33, 33, 34},
		{1, 99},
		{100},
	}
	for _, w := range weightSets {
		for total := 0; total <= 200; total++ {
			got := Allocate(total, w)
			require.Len(t, got, len(w))
			require.Equal(t, total, sum(got), "weights=%v total=%d", w, total)
			for _, g := range got {
				require.GreaterOrEqual(t, g, 0)
			}
		}
	}
}

func TestAllocate_Degenerate(t *testing.T) {
	assert.Nil(t, Allocate(5, nil))
	assert.Equal(t, []int{1, 2, 2}, Allocate(5, []int{0, 0, 0}))
	assert.Equal(t, []int{0, 0}, Allocate(-3, []int{50, 50}))
}

func TestQuantities(t *testing.T) {
	assert.Equal(t, []int{25, 25, 25, 0}, Quantities(75, 25, DefaultPercents))
	assert.Equal(t, []int{150, 100, 50, 50}, Quantities(350, 50, DefaultPercents))
}

func TestAlignQuantity(t *testing.T) {
	tests := []struct {
		qty, lot int
		want     int
		changed  bool
	}{
		{75, 25, 75, false},
		{80, 25, 75, true},
		{10, 25, 25, true},
		{0, 25, 25, true},
		{7, 1, 7, false},
		{7, 0, 7, false},
	}
	for _, tt := range tests {
		got, changed := AlignQuantity(tt.qty, tt.lot)
		assert.Equal(t, tt.want, got, "qty=%d lot=%d", tt.qty, tt.lot)
		assert.Equal(t, tt.changed, changed, "qty=%d lot=%d", tt.qty, tt.lot)
	}
}
