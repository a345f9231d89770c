package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleNoScarcity(t *testing.T) {
	result := Scale([]Allocation{
		{Symbol: "BTC", Amount: 300},
		{Symbol: "ETH", Amount: 200},
	}, 1000, 1000, 1)

	assert.Equal(t, 1.0, result.Scale)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, 300.0, result.Allocations[0].Notional)
	assert.Equal(t, 200.0, result.Allocations[1].Notional)
}

func TestScaleFundScarcity(t *testing.T) {
	// Five 200 EUR signals against 1000 EUR unallocated after one is
	// oversized: total 1250 -> scale 0.8.
	allocations := []Allocation{
		{Symbol: "BTC", Amount: 250},
		{Symbol: "ETH", Amount: 250},
		{Symbol: "ADA", Amount: 250},
		{Symbol: "DOT", Amount: 250},
		{Symbol: "SOL", Amount: 250},
	}
	result := Scale(allocations, 1000, 1000, 1)

	assert.InDelta(t, 0.8, result.Scale, 1e-9)
	require.Len(t, result.Allocations, 5)
	var total float64
	for _, a := range result.Allocations {
		assert.InDelta(t, 200.0, a.Notional, 1e-9)
		total += a.Notional
	}
	assert.LessOrEqual(t, total, 1000.0+1e-9)
}

func TestScaleExactlyFunded(t *testing.T) {
	// Five 200 EUR signals against exactly 1000 EUR: nothing scales.
	allocations := make([]Allocation, 5)
	for i := range allocations {
		allocations[i] = Allocation{Symbol: "X", Amount: 200}
	}
	result := Scale(allocations, 1000, 1000, 1)
	assert.Equal(t, 1.0, result.Scale)
}

func TestScaleUniformFactor(t *testing.T) {
	allocations := []Allocation{
		{Symbol: "BTC", Amount: 700},
		{Symbol: "ETH", Amount: 300},
		{Symbol: "ADA", Amount: 500},
	}
	result := Scale(allocations, 600, 600, 1)

	require.Len(t, result.Allocations, 3)
	for i, a := range result.Allocations {
		assert.InDelta(t, allocations[i].Amount*result.Scale, a.Notional, 1e-9)
	}
	var total float64
	for _, a := range result.Allocations {
		total += a.Notional
	}
	assert.LessOrEqual(t, total, 600.0+1e-9)
}

func TestScalePercentageAllocations(t *testing.T) {
	result := Scale([]Allocation{
		{Symbol: "BTC", Percentage: 50},
		{Symbol: "ETH", Percentage: 25},
	}, 2000, 2000, 1)

	require.Len(t, result.Allocations, 2)
	assert.Equal(t, 1000.0, result.Allocations[0].Notional)
	assert.Equal(t, 500.0, result.Allocations[1].Notional)
}

func TestScaleDropsBelowMinimum(t *testing.T) {
	result := Scale([]Allocation{
		{Symbol: "BTC", Amount: 1000},
		{Symbol: "DUST", Amount: 10},
	}, 101, 101, 5)

	// Scale = 0.1: DUST becomes 1.0, below the 5 minimum, dropped
	// rather than rounded up.
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "BTC", result.Allocations[0].Symbol)
	assert.InDelta(t, 100.0, result.Allocations[0].Notional, 1e-9)
}

func TestScaleIgnoresNonPositive(t *testing.T) {
	result := Scale([]Allocation{
		{Symbol: "BTC", Amount: 0},
		{Symbol: "ETH", Amount: -10},
	}, 100, 100, 1)
	assert.Empty(t, result.Allocations)
	assert.Equal(t, 1.0, result.Scale)
}
