package main

import (
	"fmt"

	"github.com/Belfering/QuantNexus-sub009/pkg/engine"
)

// generateReport formats a human-readable performance report
func generateReport(m *engine.Metrics, cfg engine.RunConfig) string {
	return fmt.Sprintf(`
================================================================================
BACKTEST PERFORMANCE REPORT
================================================================================

OVERVIEW
--------
Period:            %s to %s (%d trading days)
Initial Capital:   $%.2f
Final Equity:      $%.2f
Timing:            %s
Cost:              %.1f bps of turnover

RETURNS
-------
Total Return:      %.2f%%
CAGR:              %.2f%%

RISK METRICS
------------
Max Drawdown:      %.2f%%
Volatility:        %.2f%%
Sharpe Ratio:      %s
Sortino Ratio:     %s
Calmar Ratio:      %s
Treynor Ratio:     %s

PORTFOLIO STATISTICS
--------------------
Win Rate:          %.2f%%
Average Turnover:  %.4f
Average Holdings:  %.2f
Time in Market:    %.2f%%
Adjusted Return:   %s

================================================================================
`,
		m.StartDate.Format("2006-01-02"),
		m.EndDate.Format("2006-01-02"),
		m.Days,
		cfg.InitialCapital,
		m.FinalEquity,
		cfg.Timing,
		cfg.CostBps,
		m.TotalReturnPct,
		m.CAGR,
		m.MaxDrawdownPct,
		m.Volatility,
		ratio(m.SharpeRatio),
		ratio(m.SortinoRatio),
		ratio(m.CalmarRatio),
		ratio(m.TreynorRatio),
		m.WinRate,
		m.AverageTurnover,
		m.AverageHoldings,
		m.TimeInMarket*100,
		ratio(m.AdjustedReturn),
	)
}

// ratio renders a nullable ratio; undefined ratios print as n/a
// rather than a misleading zero or infinity
func ratio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}
