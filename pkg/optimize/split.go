package optimize

import (
	"fmt"
)

// ============================================================================
// IS/OOS SPLITTING
// ============================================================================

// SplitKind selects the sample-partitioning strategy
type SplitKind string

const (
	SplitPercentage  SplitKind = "percentage"
	SplitWalkForward SplitKind = "walkForward"
)

// Granularity sizes walk-forward windows in calendar-ish units,
// translated to trading-day counts
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
	GranularityYearly  Granularity = "yearly"
)

// tradingDaysPer translates a granularity unit into trading days
func tradingDaysPer(g Granularity) int {
	switch g {
	case GranularityYearly:
		return 252
	case GranularityMonthly:
		return 21
	default:
		return 1
	}
}

// SplitConfig configures how history is partitioned into in-sample and
// out-of-sample ranges
type SplitConfig struct {
	Kind SplitKind `json:"kind"`

	// InSamplePct is the chronological share of trading days assigned
	// to the in-sample partition (percentage kind), 0..1
	InSamplePct float64 `json:"inSamplePct,omitempty"`

	// Walk-forward window lengths, in Granularity units
	ISLength    int         `json:"isLength,omitempty"`
	OOSLength   int         `json:"oosLength,omitempty"`
	Granularity Granularity `json:"granularity,omitempty"`
}

// Window is one IS/OOS pair of half-open day-index ranges
type Window struct {
	ISStart  int `json:"isStart"`
	ISEnd    int `json:"isEnd"`
	OOSStart int `json:"oosStart"`
	OOSEnd   int `json:"oosEnd"`
}

// HasOOS reports whether the window carries an out-of-sample segment
func (w Window) HasOOS() bool {
	return w.OOSEnd > w.OOSStart
}

// BuildWindows partitions totalDays trading days per the config.
// Percentage yields a single window; walk-forward yields fixed-size
// IS/OOS pairs advanced by the OOS length across the full history.
func BuildWindows(cfg SplitConfig, totalDays int) ([]Window, error) {
	if totalDays < 2 {
		return nil, fmt.Errorf("not enough trading days to split: %d", totalDays)
	}

	switch cfg.Kind {
	case SplitPercentage, "":
		pct := cfg.InSamplePct
		if pct <= 0 || pct > 1 {
			return nil, fmt.Errorf("inSamplePct must be in (0,1], got %v", pct)
		}
		isEnd := int(float64(totalDays) * pct)
		if isEnd < 2 {
			isEnd = 2
		}
		if isEnd > totalDays {
			isEnd = totalDays
		}
		return []Window{{ISStart: 0, ISEnd: isEnd, OOSStart: isEnd, OOSEnd: totalDays}}, nil

	case SplitWalkForward:
		unit := tradingDaysPer(cfg.Granularity)
		isLen := cfg.ISLength * unit
		oosLen := cfg.OOSLength * unit
		if isLen < 2 || oosLen < 1 {
			return nil, fmt.Errorf("walk-forward lengths must be positive, got is=%d oos=%d", cfg.ISLength, cfg.OOSLength)
		}
		var windows []Window
		for start := 0; start+isLen+oosLen <= totalDays; start += oosLen {
			windows = append(windows, Window{
				ISStart:  start,
				ISEnd:    start + isLen,
				OOSStart: start + isLen,
				OOSEnd:   start + isLen + oosLen,
			})
		}
		if len(windows) == 0 {
			return nil, fmt.Errorf("history too short for walk-forward windows (%d days, need %d)", totalDays, isLen+oosLen)
		}
		return windows, nil

	default:
		return nil, fmt.Errorf("unknown split kind %q", cfg.Kind)
	}
}
