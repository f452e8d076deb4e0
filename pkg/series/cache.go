package series

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ============================================================================
// INDICATOR CACHE
// ============================================================================

// Cache holds calendar-aligned bars for a fixed set of tickers and
// memoizes indicator series per (ticker, metric, window) key. All bars
// are loaded and indexed at construction; Get never performs I/O, so the
// cache is safe to share across concurrently running backtests. Each
// optimization run builds its own cache.
type Cache struct {
	calendar []time.Time
	bars     map[string][]Bar

	mu      sync.Mutex
	entries map[Key]*cacheEntry

	computations atomic.Int64
}

type cacheEntry struct {
	once   sync.Once
	series *Series
	err    error
}

// NewCache loads bars for every ticker and aligns them on the shared
// trading calendar (the intersection of all tickers' trading dates).
// A missing or empty ticker series fails construction with ErrNoData.
func NewCache(provider Provider, tickers []string) (*Cache, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers requested")
	}

	raw := make(map[string][]Bar, len(tickers))
	for _, ticker := range tickers {
		bars, err := provider.Bars(ticker)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ticker, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("load %s: %w", ticker, ErrNoData)
		}
		sorted := make([]Bar, len(bars))
		copy(sorted, bars)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
		raw[ticker] = sorted
	}

	calendar := sharedCalendar(raw)
	if len(calendar) == 0 {
		return nil, fmt.Errorf("tickers share no trading dates: %w", ErrNoData)
	}

	aligned := make(map[string][]Bar, len(raw))
	for ticker, bars := range raw {
		byDate := make(map[time.Time]Bar, len(bars))
		for _, b := range bars {
			byDate[b.Date] = b
		}
		row := make([]Bar, len(calendar))
		for i, d := range calendar {
			row[i] = byDate[d]
		}
		aligned[ticker] = row
	}

	log.Debug().
		Int("tickers", len(aligned)).
		Int("days", len(calendar)).
		Time("start", calendar[0]).
		Time("end", calendar[len(calendar)-1]).
		Msg("Series cache warmed")

	return &Cache{
		calendar: calendar,
		bars:     aligned,
		entries:  make(map[Key]*cacheEntry),
	}, nil
}

// sharedCalendar returns the sorted intersection of trading dates
func sharedCalendar(raw map[string][]Bar) []time.Time {
	counts := make(map[time.Time]int)
	for _, bars := range raw {
		for _, b := range bars {
			counts[b.Date]++
		}
	}
	var calendar []time.Time
	for d, n := range counts {
		if n == len(raw) {
			calendar = append(calendar, d)
		}
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })
	return calendar
}

// Days returns the number of shared trading days
func (c *Cache) Days() int {
	return len(c.calendar)
}

// Dates returns the shared trading calendar
func (c *Cache) Dates() []time.Time {
	return c.calendar
}

// HasTicker reports whether the ticker was preloaded
func (c *Cache) HasTicker(ticker string) bool {
	_, ok := c.bars[ticker]
	return ok
}

// Bar returns the raw bar for a ticker at day index i
func (c *Cache) Bar(ticker string, i int) (Bar, error) {
	bars, ok := c.bars[ticker]
	if !ok {
		return Bar{}, fmt.Errorf("%s: %w", ticker, ErrNoData)
	}
	if i < 0 || i >= len(bars) {
		return Bar{}, fmt.Errorf("%s day %d out of range", ticker, i)
	}
	return bars[i], nil
}

// Get returns the memoized indicator series for a key, computing it on
// first access. Concurrent first access computes exactly once.
func (c *Cache) Get(ticker string, metric Metric, window int) (*Series, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	if metric.NeedsWindow() && window < 1 {
		return nil, fmt.Errorf("metric %q requires a positive window, got %d", metric, window)
	}
	bars, ok := c.bars[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoData)
	}

	key := Key{Ticker: ticker, Metric: metric, Window: window}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		c.computations.Add(1)
		values, err := compute(metric, window, bars)
		if err != nil {
			entry.err = fmt.Errorf("compute %s: %w", key, err)
			return
		}
		entry.series = NewSeries(values)
	})

	return entry.series, entry.err
}

// Computations reports how many indicator series have actually been
// computed, as opposed to served from memo. Used by tests to observe
// compute-once behavior.
func (c *Cache) Computations() int64 {
	return c.computations.Load()
}
