package postage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountForDuration(t *testing.T) {
	// 30 days at 24000 PLUR per chunk per block.
	assert.Equal(t, int64(24000*17280*30), AmountForDuration(30, 24000))
	// 31-day renewals buy slightly more runway than the initial 30 days.
	assert.Greater(t, AmountForDuration(31, 24000), AmountForDuration(30, 24000))
}

func TestDepthForSize(t *testing.T) {
	tests := []struct {
		gigabytes float64
		depth     uint8
	}{
		{1, 22},
		{4.93, 22},
		{5, 23},
		{17.03, 23},
		{100, 25},
		{1000, 28},
		{5000, 31},
		{1 << 20, 34}, // beyond the table saturates at the ceiling
	}
	for _, tc := range tests {
		assert.Equal(t, tc.depth, DepthForSize(tc.gigabytes), "size %f GB", tc.gigabytes)
	}
}

func TestDepthForSizeMonotonic(t *testing.T) {
	prev := DepthForSize(0.1)
	for gb := 1.0; gb < 100000; gb *= 1.5 {
		depth := DepthForSize(gb)
		assert.GreaterOrEqual(t, depth, prev, "size %f GB", gb)
		assert.LessOrEqual(t, depth, MaxDepth)
		prev = depth
	}
}

func TestPlanBZZPrice(t *testing.T) {
	p := Plan{Depth: 22, Amount: AmountForDuration(30, 24000)}
	// amount * 2^22 / 1e16
	assert.InDelta(t, 5.218, p.BZZPrice(), 0.01)
}
