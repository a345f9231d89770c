package pricefeed

import (
	"strings"
)

// MarketData is the shared result of one scheduler iteration's fetches.
// Each data source is fetched exactly once per iteration; every consumer
// (risk evaluator, strategies) reads from the same MarketData.
type MarketData struct {
	// Quotes holds the latest quote per symbol.
	Quotes map[string]*Quote

	// Windows holds OHLCV windows keyed by "SYMBOL/timeframe".
	Windows map[string][]Candle

	// Errors holds per-source fetch failures. A missing symbol never
	// aborts the iteration; consumers skip it.
	Errors map[string]error
}

// NewMarketData creates an empty MarketData.
func NewMarketData() *MarketData {
	return &MarketData{
		Quotes:  make(map[string]*Quote),
		Windows: make(map[string][]Candle),
		Errors:  make(map[string]error),
	}
}

// WindowKey builds the Windows map key for a symbol and time frame.
func WindowKey(symbol, timeFrame string) string {
	return strings.ToUpper(symbol) + "/" + timeFrame
}

// Quote returns the latest quote for a symbol, nil when uncovered.
func (m *MarketData) Quote(symbol string) *Quote {
	return m.Quotes[strings.ToUpper(symbol)]
}

// Window returns the OHLCV window for a symbol and time frame.
func (m *MarketData) Window(symbol, timeFrame string) []Candle {
	return m.Windows[WindowKey(symbol, timeFrame)]
}

// AnyWindow returns some loaded window for the symbol, preferring the
// finest time frame. The backtest evaluator uses it when a rule does not
// care which granularity produced the bars.
func (m *MarketData) AnyWindow(symbol string) []Candle {
	prefix := strings.ToUpper(symbol) + "/"
	best := ""
	var bestDur int64
	for key := range m.Windows {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		dur, err := ParseTimeFrame(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		if best == "" || int64(dur) < bestDur {
			best, bestDur = key, int64(dur)
		}
	}
	if best == "" {
		return nil
	}
	return m.Windows[best]
}
