package pricefeed

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Compile-time interface check.
var _ Feed = (*HistoryFeed)(nil)

// BarRecord is the Parquet schema for stored bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// HistoryFeed serves backtests from Parquet bar files on disk. The
// scheduler advances its notion of "now" each iteration so GetLatest
// never leaks future bars into a simulation.
type HistoryFeed struct {
	dataDir string

	mu      sync.RWMutex
	now     time.Time
	candles map[string][]Candle // key: SYMBOL/timeframe
}

// NewHistoryFeed creates a HistoryFeed rooted at the given directory.
// Files are laid out as <dataDir>/<SYMBOL>_<timeframe>.parquet.
func NewHistoryFeed(dataDir string) *HistoryFeed {
	return &HistoryFeed{
		dataDir: dataDir,
		candles: make(map[string][]Candle),
	}
}

// SetNow moves the simulated clock. Bars after now are invisible.
func (f *HistoryFeed) SetNow(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// LoadCandles injects bars directly, bypassing disk. Backtests that
// already hold data in memory (and tests) use this instead of files.
func (f *HistoryFeed) LoadCandles(symbol, timeFrame string, candles []Candle) {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Datetime.Before(sorted[j].Datetime) })

	f.mu.Lock()
	f.candles[f.key(symbol, timeFrame)] = sorted
	f.mu.Unlock()
}

// GetLatest derives a quote from the last bar at or before the
// simulated now.
func (f *HistoryFeed) GetLatest(_ context.Context, symbol string) (*Quote, error) {
	f.mu.RLock()
	now := f.now
	f.mu.RUnlock()

	bars, err := f.barsFor(symbol, f.anyTimeFrame(symbol))
	if err != nil {
		return nil, err
	}

	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Datetime.After(now) })
	if idx == 0 {
		return nil, fmt.Errorf("%w: %s before %s", ErrNoData, symbol, now)
	}
	bar := bars[idx-1]
	return &Quote{
		Symbol:    strings.ToUpper(symbol),
		Bid:       bar.Close,
		Ask:       bar.Close,
		Last:      bar.Close,
		Timestamp: bar.Datetime,
	}, nil
}

// GetOHLCVWindow returns up to size bars ending at end, oldest first.
func (f *HistoryFeed) GetOHLCVWindow(_ context.Context, symbol, timeFrame string, end time.Time, size int) ([]Candle, error) {
	bars, err := f.barsFor(symbol, timeFrame)
	if err != nil {
		return nil, err
	}

	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Datetime.After(end) })
	window := bars[:idx]
	if size > 0 && len(window) > size {
		window = window[len(window)-size:]
	}
	out := make([]Candle, len(window))
	copy(out, window)
	return out, nil
}

func (f *HistoryFeed) barsFor(symbol, timeFrame string) ([]Candle, error) {
	key := f.key(symbol, timeFrame)

	f.mu.RLock()
	bars, ok := f.candles[key]
	f.mu.RUnlock()
	if ok {
		return bars, nil
	}

	loaded, err := f.readFile(symbol, timeFrame)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.candles[key] = loaded
	f.mu.Unlock()
	return loaded, nil
}

func (f *HistoryFeed) readFile(symbol, timeFrame string) ([]Candle, error) {
	path := filepath.Join(f.dataDir, fmt.Sprintf("%s_%s.parquet", strings.ToUpper(symbol), timeFrame))
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNoData, symbol, timeFrame, err)
	}

	candles := make([]Candle, 0, len(records))
	for _, r := range records {
		candles = append(candles, Candle{
			Datetime: time.UnixMilli(r.Timestamp),
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Datetime.Before(candles[j].Datetime) })
	return candles, nil
}

// WriteBars writes bars for a symbol and time frame, merging with any
// existing file. Data ingestion tooling uses it to prepare backtests.
func (f *HistoryFeed) WriteBars(symbol, timeFrame string, candles []Candle) error {
	path := filepath.Join(f.dataDir, fmt.Sprintf("%s_%s.parquet", strings.ToUpper(symbol), timeFrame))

	existing, _ := parquet.ReadFile[BarRecord](path)
	merged := make(map[int64]BarRecord, len(existing)+len(candles))
	for _, r := range existing {
		merged[r.Timestamp] = r
	}
	for _, c := range candles {
		merged[c.Datetime.UnixMilli()] = BarRecord{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: c.Datetime.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}

	records := make([]BarRecord, 0, len(merged))
	for _, r := range merged {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing bars for %s %s: %w", symbol, timeFrame, err)
	}

	f.mu.Lock()
	delete(f.candles, f.key(symbol, timeFrame))
	f.mu.Unlock()
	return nil
}

func (f *HistoryFeed) key(symbol, timeFrame string) string {
	return strings.ToUpper(symbol) + "/" + timeFrame
}

// anyTimeFrame picks the finest loaded time frame for a symbol, so
// GetLatest works regardless of which granularity a backtest loaded.
func (f *HistoryFeed) anyTimeFrame(symbol string) string {
	prefix := strings.ToUpper(symbol) + "/"

	f.mu.RLock()
	defer f.mu.RUnlock()

	best := ""
	var bestDur time.Duration
	for key := range f.candles {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		tf := strings.TrimPrefix(key, prefix)
		dur, err := ParseTimeFrame(tf)
		if err != nil {
			continue
		}
		if best == "" || dur < bestDur {
			best, bestDur = tf, dur
		}
	}
	return best
}
