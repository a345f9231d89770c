// Package pricefeed provides market data to the risk evaluator and the
// scheduler: latest quotes in live mode, OHLCV windows in backtests.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoData signals missing price coverage for a symbol. It is surfaced
// per-symbol and never aborts a scheduler iteration.
var ErrNoData = errors.New("no price data")

// Quote is the latest observed price of a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Feed is the price data abstraction shared by live and backtest modes.
type Feed interface {
	// GetLatest returns the most recent quote for the symbol.
	GetLatest(ctx context.Context, symbol string) (*Quote, error)

	// GetOHLCVWindow returns up to size bars of the given time frame
	// ending at end, oldest first.
	GetOHLCVWindow(ctx context.Context, symbol, timeFrame string, end time.Time, size int) ([]Candle, error)
}

// ParseTimeFrame converts a time frame label such as "15m", "2h" or "1d"
// into a duration.
func ParseTimeFrame(timeFrame string) (time.Duration, error) {
	if len(timeFrame) < 2 {
		return 0, fmt.Errorf("invalid time frame %q", timeFrame)
	}
	unit := timeFrame[len(timeFrame)-1]
	var n int
	if _, err := fmt.Sscanf(timeFrame[:len(timeFrame)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid time frame %q", timeFrame)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid time frame %q", timeFrame)
	}
}
