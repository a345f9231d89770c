// Package strategy defines the Strategy interface for trading strategies
// and provides a Registry resolved explicitly at startup.
package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/pricefeed"
	"go.uber.org/zap"
)

// TimeUnit is the unit a strategy's interval is expressed in.
type TimeUnit string

const (
	UnitSecond TimeUnit = "SECOND"
	UnitMinute TimeUnit = "MINUTE"
	UnitHour   TimeUnit = "HOUR"
	UnitDay    TimeUnit = "DAY"
)

// Duration returns the wall-clock length of one unit.
func (u TimeUnit) Duration() time.Duration {
	switch u {
	case UnitSecond:
		return time.Second
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// DataSource declares one market data requirement of a strategy. A zero
// TimeFrame requests only the latest quote; otherwise an OHLCV window of
// WindowSize bars at that time frame is fetched.
type DataSource struct {
	Symbol     string
	TimeFrame  string
	WindowSize int
}

// Context carries the explicit dependencies a strategy may use while
// running. Strategies receive it as an argument instead of reaching for
// shared global state.
type Context struct {
	PortfolioID uint
	Engine      *engine.Engine
	Logger      *zap.Logger
}

// Strategy is the interface all trading strategies implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// TimeUnit and Interval together define the run cadence:
	// Interval * TimeUnit between runs.
	TimeUnit() TimeUnit
	Interval() int

	// DataSources returns the market data this strategy needs per run.
	DataSources() []DataSource

	// Run executes one strategy pass. It may create orders through the
	// engine in app.
	Run(ctx context.Context, app *Context, data *pricefeed.MarketData) error
}

// Registry holds a named collection of strategies for lookup and
// enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates
// whether the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered strategy in name order.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.strategies))
	for _, name := range r.List() {
		out = append(out, r.strategies[name])
	}
	return out
}
