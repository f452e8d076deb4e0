package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// ============================================================================
// TIMING MODES
// ============================================================================

// Timing selects which day's open/close prices the enter and exit legs
// of each holding period use. It changes only the price lookup, never
// the control flow of the simulation.
type Timing string

const (
	TimingCloseToClose Timing = "closeToClose"
	TimingOpenToOpen   Timing = "openToOpen"
	TimingCloseToOpen  Timing = "closeToOpen"
	TimingOpenToClose  Timing = "openToClose"
)

// Valid reports whether t names a timing mode
func (t Timing) Valid() bool {
	switch t {
	case TimingCloseToClose, TimingOpenToOpen, TimingCloseToOpen, TimingOpenToClose:
		return true
	}
	return false
}

// ============================================================================
// RUNNER
// ============================================================================

// RunConfig configures one backtest simulation
type RunConfig struct {
	InitialCapital float64
	CostBps        float64 // flat transaction cost per unit turnover
	Timing         Timing
	Benchmark      string // optional, enables the Treynor ratio
}

// DefaultRunConfig mirrors the CLI defaults
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialCapital: 10000.0,
		CostBps:        0,
		Timing:         TimingCloseToClose,
	}
}

// DayRecord is one day of simulation output
type DayRecord struct {
	Date     time.Time  `json:"date"`
	Equity   float64    `json:"equity"`
	Drawdown float64    `json:"drawdown"` // peak-to-trough, percent
	Turnover float64    `json:"turnover"`
	Return   float64    `json:"return"` // net daily return
	Holdings Allocation `json:"holdings"`
}

// Result holds the full simulation output for one backtest run
type Result struct {
	Config     RunConfig   `json:"config"`
	Days       []DayRecord `json:"days"`
	StartIndex int         `json:"startIndex"`
	EndIndex   int         `json:"endIndex"`

	// Benchmark daily returns aligned to Days, when a benchmark is set
	BenchmarkReturns []float64 `json:"-"`
}

// Runner drives the day-by-day simulation of one strategy tree. Days
// are strictly sequential: each day's allocation depends on prior
// equity and on AltExit hysteresis state.
type Runner struct {
	cache  *series.Cache
	tree   *strategy.Tree
	config RunConfig
}

// NewRunner builds a runner over a warmed series cache
func NewRunner(cache *series.Cache, tree *strategy.Tree, config RunConfig) *Runner {
	if config.InitialCapital <= 0 {
		config.InitialCapital = 10000.0
	}
	if !config.Timing.Valid() {
		config.Timing = TimingCloseToClose
	}
	return &Runner{cache: cache, tree: tree, config: config}
}

// Run simulates the day-index range [start, end). A fresh evaluator
// (and fresh AltExit state) is created per run. The context is checked
// each day; cancellation abandons the run with no partial result.
func (r *Runner) Run(ctx context.Context, start, end int) (*Result, error) {
	days := r.cache.Days()
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > days {
		end = days
	}
	if end-start < 2 {
		return nil, fmt.Errorf("range [%d,%d) too short to simulate", start, end)
	}

	evaluator := NewEvaluator(r.cache, r.tree)
	dates := r.cache.Dates()

	result := &Result{
		Config:     r.config,
		StartIndex: start,
		EndIndex:   end,
		Days:       make([]DayRecord, 0, end-start),
	}

	equity := r.config.InitialCapital
	peak := equity
	costRate := r.config.CostBps / 10000.0
	prev := Allocation{}

	for day := start; day < end-1; day++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		target, err := evaluator.EvaluateDay(day)
		if err != nil {
			return nil, err
		}

		turnover := turnover(prev, target)
		gross, err := r.periodReturn(target, day)
		if err != nil {
			return nil, err
		}
		net := gross - turnover*costRate

		equity *= 1.0 + net
		if equity > peak {
			peak = equity
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - equity) / peak * 100.0
		}

		result.Days = append(result.Days, DayRecord{
			Date:     dates[day+1],
			Equity:   equity,
			Drawdown: drawdown,
			Turnover: turnover,
			Return:   net,
			Holdings: target,
		})

		if r.config.Benchmark != "" {
			br, err := r.tickerReturn(r.config.Benchmark, day)
			if err != nil {
				return nil, err
			}
			result.BenchmarkReturns = append(result.BenchmarkReturns, br)
		}

		prev = target
	}

	log.Debug().
		Int("days", len(result.Days)).
		Float64("final_equity", equity).
		Msg("Backtest run complete")

	return result, nil
}

// periodReturn is the weighted return of holding alloc over the period
// beginning at day, under the configured timing mode
func (r *Runner) periodReturn(alloc Allocation, day int) (float64, error) {
	var total float64
	for ticker, w := range alloc {
		ret, err := r.tickerReturn(ticker, day)
		if err != nil {
			return 0, err
		}
		total += w * ret
	}
	return total, nil
}

// tickerReturn computes one ticker's period return starting at day.
// Only the price lookup varies by timing mode.
func (r *Runner) tickerReturn(ticker string, day int) (float64, error) {
	cur, err := r.cache.Bar(ticker, day)
	if err != nil {
		return 0, err
	}
	next, err := r.cache.Bar(ticker, day+1)
	if err != nil {
		return 0, err
	}

	var enter, exit float64
	switch r.config.Timing {
	case TimingOpenToOpen:
		enter, exit = cur.Open, next.Open
	case TimingCloseToOpen:
		enter, exit = cur.Close, next.Open
	case TimingOpenToClose:
		enter, exit = next.Open, next.Close
	default: // closeToClose
		enter, exit = cur.Close, next.Close
	}
	if enter == 0 {
		return 0, fmt.Errorf("%s: zero price at day %d", ticker, day)
	}
	return exit/enter - 1.0, nil
}

// turnover is half the L1 distance between consecutive allocation
// vectors, with uninvested capital treated as an explicit cash position
func turnover(prev, cur Allocation) float64 {
	var l1 float64
	seen := make(map[string]struct{}, len(prev)+len(cur))
	for ticker, w := range cur {
		l1 += math.Abs(w - prev[ticker])
		seen[ticker] = struct{}{}
	}
	for ticker, w := range prev {
		if _, ok := seen[ticker]; !ok {
			l1 += w
		}
	}
	l1 += math.Abs(cur.Cash() - prev.Cash())
	return l1 / 2.0
}
