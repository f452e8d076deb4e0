// Package series provides per-ticker daily price series and lazily
// computed, memoized rolling indicators for strategy evaluation.
package series

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ============================================================================
// DATA STRUCTURES
// ============================================================================

// Bar represents one trading day of OHLCV data
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Provider supplies raw daily bars for a ticker. Implementations live
// outside the evaluation core (CSV files, databases, upstream APIs).
type Provider interface {
	Bars(ticker string) ([]Bar, error)
}

// ErrNoData indicates a ticker has no usable series
var ErrNoData = errors.New("no data for ticker")

// Metric identifies an indicator family
type Metric string

// Price-derived metrics
const (
	MetricPrice      Metric = "price" // daily close
	MetricOpen       Metric = "open"
	MetricSMA        Metric = "sma"
	MetricEMA        Metric = "ema"
	MetricWMA        Metric = "wma"
	MetricHull       Metric = "hull"
	MetricRSI        Metric = "rsi"
	MetricMomentum   Metric = "momentum"   // rate of change, percent
	MetricVolatility Metric = "volatility" // annualized stddev of daily returns
	MetricDrawdown   Metric = "drawdown"   // rolling max peak-to-trough, percent
	MetricRegSlope   Metric = "regSlope"   // linear regression slope of closes
	MetricAroonUp    Metric = "aroonUp"
	MetricAroonDown  Metric = "aroonDown"
	MetricAroonOsc   Metric = "aroonOsc"
	MetricMACD       Metric = "macd"
	MetricMACDSignal Metric = "macdSignal"
	MetricPPO        Metric = "ppo"
)

// Volume-derived metrics
const (
	MetricMFI       Metric = "mfi"
	MetricOBVRoC    Metric = "obvRoc"
	MetricVWAPRatio Metric = "vwapRatio" // close / cumulative volume-weighted typical price
)

// Valid reports whether m names a known indicator family
func (m Metric) Valid() bool {
	switch m {
	case MetricPrice, MetricOpen, MetricSMA, MetricEMA, MetricWMA, MetricHull,
		MetricRSI, MetricMomentum, MetricVolatility, MetricDrawdown,
		MetricRegSlope, MetricAroonUp, MetricAroonDown, MetricAroonOsc,
		MetricMACD, MetricMACDSignal, MetricPPO,
		MetricMFI, MetricOBVRoC, MetricVWAPRatio:
		return true
	}
	return false
}

// NeedsWindow reports whether m requires a positive lookback window
func (m Metric) NeedsWindow() bool {
	switch m {
	case MetricPrice, MetricOpen, MetricMACD, MetricMACDSignal, MetricPPO, MetricVWAPRatio:
		return false
	}
	return true
}

// ============================================================================
// SERIES
// ============================================================================

// Series is a read-only indicator series aligned to a ticker's trading
// days. Indices before the warm-up window holds NaN and report !ok.
type Series struct {
	values []float64
}

// NewSeries wraps a value slice. NaN marks unavailable entries.
func NewSeries(values []float64) *Series {
	return &Series{values: values}
}

// Len returns the number of trading days in the series
func (s *Series) Len() int {
	return len(s.values)
}

// At returns the value at day index i. ok is false when the index is out
// of range or the value is not yet available (warm-up).
func (s *Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s.values) {
		return math.NaN(), false
	}
	v := s.values[i]
	if math.IsNaN(v) {
		return v, false
	}
	return v, true
}

// Last returns the most recent available value
func (s *Series) Last() (float64, bool) {
	for i := len(s.values) - 1; i >= 0; i-- {
		if !math.IsNaN(s.values[i]) {
			return s.values[i], true
		}
	}
	return math.NaN(), false
}

// Key identifies one memoized indicator computation
type Key struct {
	Ticker string
	Metric Metric
	Window int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Ticker, k.Metric, k.Window)
}

// nanSlice returns a slice of n NaN values
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
