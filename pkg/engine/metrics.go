package engine

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ============================================================================
// PERFORMANCE METRICS
// ============================================================================

// Metrics holds the closed-form performance statistics of one backtest.
// Ratio metrics whose denominator is undefined are nil, never Inf.
type Metrics struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Days      int       `json:"days"`

	TotalReturnPct float64 `json:"totalReturnPct"`
	CAGR           float64 `json:"cagr"`
	Volatility     float64 `json:"volatility"` // annualized, percent
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`

	SharpeRatio  *float64 `json:"sharpeRatio"`
	SortinoRatio *float64 `json:"sortinoRatio"`
	TreynorRatio *float64 `json:"treynorRatio"`
	CalmarRatio  *float64 `json:"calmarRatio"`

	WinRate         float64 `json:"winRate"` // percent of positive days
	AverageTurnover float64 `json:"averageTurnover"`
	AverageHoldings float64 `json:"averageHoldings"`

	// Exposure statistics: TimeInMarket is the average invested
	// fraction; AdjustedReturn is CAGR scaled by time in market.
	TimeInMarket   float64  `json:"timeInMarket"`
	AdjustedReturn *float64 `json:"adjustedReturn"`

	FinalEquity float64 `json:"finalEquity"`
}

// CalculateMetrics computes metrics over the day-record subrange
// [from, to) of a result. Pass (0, len) for the full range.
func CalculateMetrics(result *Result, from, to int) (*Metrics, error) {
	if result == nil || len(result.Days) == 0 {
		return nil, fmt.Errorf("no simulation days")
	}
	if from < 0 {
		from = 0
	}
	if to <= 0 || to > len(result.Days) {
		to = len(result.Days)
	}
	if to-from < 2 {
		return nil, fmt.Errorf("metrics range [%d,%d) too short", from, to)
	}

	days := result.Days[from:to]
	m := &Metrics{
		StartDate:   days[0].Date,
		EndDate:     days[len(days)-1].Date,
		Days:        len(days),
		FinalEquity: days[len(days)-1].Equity,
	}

	startEquity := result.Config.InitialCapital
	if from > 0 {
		startEquity = result.Days[from-1].Equity
	}

	returns := make([]float64, len(days))
	var (
		wins            int
		sumTurnover     float64
		sumHoldings     float64
		sumExposure     float64
		peak, maxDD     float64
		downside        []float64
		benchmarkSlice  []float64
		haveBenchmark   = len(result.BenchmarkReturns) == len(result.Days)
		equityOverStart = 1.0
	)
	peak = startEquity

	for i, d := range days {
		returns[i] = d.Return
		if d.Return > 0 {
			wins++
		}
		if d.Return < 0 {
			downside = append(downside, d.Return)
		}
		sumTurnover += d.Turnover
		sumHoldings += float64(len(d.Holdings))
		sumExposure += d.Holdings.Total()
		if d.Equity > peak {
			peak = d.Equity
		}
		if peak > 0 {
			dd := (peak - d.Equity) / peak * 100.0
			if dd > maxDD {
				maxDD = dd
			}
		}
		equityOverStart *= 1.0 + d.Return
	}
	if haveBenchmark {
		benchmarkSlice = result.BenchmarkReturns[from:to]
	}

	m.TotalReturnPct = (equityOverStart - 1.0) * 100.0
	m.MaxDrawdownPct = maxDD
	m.WinRate = float64(wins) / float64(len(days)) * 100.0
	m.AverageTurnover = sumTurnover / float64(len(days))
	m.AverageHoldings = sumHoldings / float64(len(days))
	m.TimeInMarket = sumExposure / float64(len(days))

	years := float64(len(days)) / 252.0
	if years > 0 && equityOverStart > 0 {
		m.CAGR = (math.Pow(equityOverStart, 1.0/years) - 1.0) * 100.0
	}

	sd := stat.StdDev(returns, nil)
	m.Volatility = sd * math.Sqrt(252) * 100.0

	if m.Volatility > 0 {
		m.SharpeRatio = ptr(m.CAGR / m.Volatility)
	}

	if len(downside) > 0 {
		var sumSq float64
		for _, r := range downside {
			sumSq += r * r
		}
		downsideDev := math.Sqrt(sumSq/float64(len(downside))) * math.Sqrt(252) * 100.0
		if downsideDev > 0 {
			m.SortinoRatio = ptr(m.CAGR / downsideDev)
		}
	}

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = ptr(m.CAGR / m.MaxDrawdownPct)
	}

	if haveBenchmark {
		if beta, ok := benchmarkBeta(returns, benchmarkSlice); ok && beta != 0 {
			m.TreynorRatio = ptr(m.CAGR / beta)
		}
	}

	if m.TimeInMarket > 0 {
		m.AdjustedReturn = ptr(m.CAGR / m.TimeInMarket)
	}

	return m, nil
}

// benchmarkBeta regresses portfolio returns on benchmark returns and
// reports the slope
func benchmarkBeta(portfolio, benchmark []float64) (float64, bool) {
	if len(portfolio) != len(benchmark) || len(portfolio) < 2 {
		return 0, false
	}
	if stat.Variance(benchmark, nil) == 0 {
		return 0, false
	}
	_, beta := stat.LinearRegression(benchmark, portfolio, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, false
	}
	return beta, true
}

func ptr(v float64) *float64 {
	return &v
}

// AverageMetrics averages a set of metrics records, as produced by the
// walk-forward split (one record per window). Scalar fields average
// over all records; nullable ratios average over the records where they
// are defined and stay nil when none defines them.
func AverageMetrics(all []*Metrics) *Metrics {
	defined := make([]*Metrics, 0, len(all))
	for _, m := range all {
		if m != nil {
			defined = append(defined, m)
		}
	}
	if len(defined) == 0 {
		return nil
	}

	out := &Metrics{
		StartDate:   defined[0].StartDate,
		EndDate:     defined[len(defined)-1].EndDate,
		FinalEquity: defined[len(defined)-1].FinalEquity,
	}
	n := float64(len(defined))
	for _, m := range defined {
		out.Days += m.Days
		out.TotalReturnPct += m.TotalReturnPct / n
		out.CAGR += m.CAGR / n
		out.Volatility += m.Volatility / n
		out.MaxDrawdownPct += m.MaxDrawdownPct / n
		out.WinRate += m.WinRate / n
		out.AverageTurnover += m.AverageTurnover / n
		out.AverageHoldings += m.AverageHoldings / n
		out.TimeInMarket += m.TimeInMarket / n
	}
	out.SharpeRatio = averageRatio(defined, func(m *Metrics) *float64 { return m.SharpeRatio })
	out.SortinoRatio = averageRatio(defined, func(m *Metrics) *float64 { return m.SortinoRatio })
	out.TreynorRatio = averageRatio(defined, func(m *Metrics) *float64 { return m.TreynorRatio })
	out.CalmarRatio = averageRatio(defined, func(m *Metrics) *float64 { return m.CalmarRatio })
	out.AdjustedReturn = averageRatio(defined, func(m *Metrics) *float64 { return m.AdjustedReturn })
	return out
}

func averageRatio(all []*Metrics, field func(*Metrics) *float64) *float64 {
	var sum float64
	var count int
	for _, m := range all {
		if v := field(m); v != nil {
			sum += *v
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return ptr(sum / float64(count))
}
