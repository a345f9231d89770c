// Package sizing converts a strategy's desired allocations into concrete
// order notionals, scaling them down proportionally when the portfolio
// cannot fund all of them.
package sizing

// Allocation is one desired position, expressed either as a fixed
// notional in the trading symbol or as a percentage of total portfolio
// value.
type Allocation struct {
	Symbol string

	// Notional in the trading symbol. Ignored when Percentage > 0.
	Amount float64

	// Percentage of total portfolio value, 0-100.
	Percentage float64
}

// Sized is one allocation after scaling.
type Sized struct {
	Symbol   string
	Notional float64
}

// Result carries the scaled allocations and the shared scale factor.
type Result struct {
	Allocations []Sized
	Scale       float64
}

// Scale resolves percentages against totalValue, then applies one shared
// factor min(1, unallocated/sum(desired)) to every allocation so fairness
// across symbols does not depend on evaluation order. Allocations whose
// scaled notional falls below minNotional are dropped, never rounded up.
func Scale(allocations []Allocation, unallocated, totalValue, minNotional float64) Result {
	desired := make([]Sized, 0, len(allocations))
	var sum float64
	for _, a := range allocations {
		notional := a.Amount
		if a.Percentage > 0 {
			notional = totalValue * a.Percentage / 100
		}
		if notional <= 0 {
			continue
		}
		desired = append(desired, Sized{Symbol: a.Symbol, Notional: notional})
		sum += notional
	}

	scale := 1.0
	if sum > unallocated && sum > 0 {
		scale = unallocated / sum
	}

	out := make([]Sized, 0, len(desired))
	for _, d := range desired {
		scaled := d.Notional * scale
		if scaled < minNotional {
			continue
		}
		out = append(out, Sized{Symbol: d.Symbol, Notional: scaled})
	}
	return Result{Allocations: out, Scale: scale}
}
