package optimize

import (
	"fmt"

	"github.com/Belfering/QuantNexus-sub009/pkg/engine"
)

// ============================================================================
// ELIGIBILITY REQUIREMENTS
// ============================================================================

// RequirementKind discriminates eligibility checks
type RequirementKind string

const (
	ReqMetricThreshold     RequirementKind = "metricThreshold"
	ReqMinimumLiveDuration RequirementKind = "minimumLiveDuration"
	ReqAssetClassRestrict  RequirementKind = "assetClassRestriction"
)

// Op is the comparison direction of a requirement
type Op string

const (
	OpAtLeast Op = "atLeast"
	OpAtMost  Op = "atMost"
)

// Requirement is one pass/fail filter applied to a branch's in-sample
// metrics
type Requirement struct {
	Kind   RequirementKind `json:"kind"`
	Metric string          `json:"metric,omitempty"` // metricThreshold
	Op     Op              `json:"op"`
	Value  float64         `json:"value"`

	// AllowedTickers restricts the instruments a branch may hold
	// (assetClassRestriction)
	AllowedTickers []string `json:"allowedTickers,omitempty"`
}

// CheckAll evaluates every requirement against a branch's in-sample
// metrics. A branch with no computable metrics fails all requirements
// unconditionally. The returned reasons are human-readable.
func CheckAll(reqs []Requirement, metrics *engine.Metrics, tickers []string) (bool, []string) {
	if len(reqs) == 0 {
		return true, nil
	}
	var failed []string
	for _, req := range reqs {
		if reason := check(req, metrics, tickers); reason != "" {
			failed = append(failed, reason)
		}
	}
	return len(failed) == 0, failed
}

func check(req Requirement, metrics *engine.Metrics, tickers []string) string {
	switch req.Kind {
	case ReqMetricThreshold:
		if metrics == nil {
			return fmt.Sprintf("%s: no metrics available", req.Metric)
		}
		value, ok := metricByName(metrics, req.Metric)
		if !ok {
			return fmt.Sprintf("%s: metric undefined", req.Metric)
		}
		if req.Op == OpAtMost {
			if value > req.Value {
				return fmt.Sprintf("%s %.4f exceeds maximum %.4f", req.Metric, value, req.Value)
			}
		} else if value < req.Value {
			return fmt.Sprintf("%s %.4f below minimum %.4f", req.Metric, value, req.Value)
		}
		return ""

	case ReqMinimumLiveDuration:
		if metrics == nil {
			return "live duration: no metrics available"
		}
		if float64(metrics.Days) < req.Value {
			return fmt.Sprintf("live duration %d days below minimum %.0f", metrics.Days, req.Value)
		}
		return ""

	case ReqAssetClassRestrict:
		allowed := make(map[string]struct{}, len(req.AllowedTickers))
		for _, t := range req.AllowedTickers {
			allowed[t] = struct{}{}
		}
		for _, t := range tickers {
			if _, ok := allowed[t]; !ok {
				return fmt.Sprintf("ticker %s outside allowed asset set", t)
			}
		}
		return ""

	default:
		return fmt.Sprintf("unknown requirement kind %q", req.Kind)
	}
}

// metricByName resolves a named metric; nullable ratios report ok=false
// when undefined
func metricByName(m *engine.Metrics, name string) (float64, bool) {
	switch name {
	case "cagr":
		return m.CAGR, true
	case "totalReturn":
		return m.TotalReturnPct, true
	case "volatility":
		return m.Volatility, true
	case "maxDrawdown":
		return m.MaxDrawdownPct, true
	case "winRate":
		return m.WinRate, true
	case "averageTurnover":
		return m.AverageTurnover, true
	case "averageHoldings":
		return m.AverageHoldings, true
	case "timeInMarket":
		return m.TimeInMarket, true
	case "sharpe":
		return deref(m.SharpeRatio)
	case "sortino":
		return deref(m.SortinoRatio)
	case "treynor":
		return deref(m.TreynorRatio)
	case "calmar":
		return deref(m.CalmarRatio)
	case "adjustedReturn":
		return deref(m.AdjustedReturn)
	default:
		return 0, false
	}
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
