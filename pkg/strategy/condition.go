package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
)

// Combinator chains a condition line into the boolean expression.
// AND binds tighter than OR: `A or B and C` parses as `A or (B and C)`.
type Combinator string

const (
	CombinatorStart Combinator = "start"
	CombinatorAnd   Combinator = "and"
	CombinatorOr    Combinator = "or"
)

// Comparator compares the left indicator value to the right side
type Comparator string

const (
	CompGT  Comparator = "gt"
	CompGTE Comparator = "gte"
	CompLT  Comparator = "lt"
	CompLTE Comparator = "lte"
)

// ConditionLine is one comparison in an ordered condition chain. The
// right side is either a fixed Threshold or another indicator reference
// (RightTicker/RightMetric/RightWindow). Evaluation at a day index
// yields true, false, or unknown when warm-up history is insufficient.
type ConditionLine struct {
	ID         string     `json:"id"`
	Combinator Combinator `json:"combinator"`

	Ticker string        `json:"ticker"`
	Metric series.Metric `json:"metric"`
	Window int           `json:"window,omitempty"`

	Comparator Comparator `json:"comparator"`

	Threshold   *float64      `json:"threshold,omitempty"`
	RightTicker string        `json:"rightTicker,omitempty"`
	RightMetric series.Metric `json:"rightMetric,omitempty"`
	RightWindow int           `json:"rightWindow,omitempty"`

	// SustainDays requires the comparison to hold for N consecutive
	// days ending at the evaluation day
	SustainDays int `json:"sustainDays,omitempty"`

	// Optional date restriction; outside the range the line is false
	From  *time.Time `json:"from,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// IndicatorVsIndicator reports whether the right side is a reference
func (c *ConditionLine) IndicatorVsIndicator() bool {
	return c.RightTicker != ""
}

func (c *ConditionLine) validate() error {
	if c.ID == "" {
		return fmt.Errorf("condition missing id")
	}
	switch c.Combinator {
	case CombinatorStart, CombinatorAnd, CombinatorOr:
	default:
		return fmt.Errorf("condition %s: invalid combinator %q", c.ID, c.Combinator)
	}
	switch c.Comparator {
	case CompGT, CompGTE, CompLT, CompLTE:
	default:
		return fmt.Errorf("condition %s: invalid comparator %q", c.ID, c.Comparator)
	}
	if c.Ticker == "" {
		return fmt.Errorf("condition %s: missing ticker", c.ID)
	}
	if !c.Metric.Valid() {
		return fmt.Errorf("condition %s: unknown metric %q", c.ID, c.Metric)
	}
	if c.Threshold == nil && !c.IndicatorVsIndicator() {
		return fmt.Errorf("condition %s: needs a threshold or a right-side reference", c.ID)
	}
	if c.Threshold != nil && c.IndicatorVsIndicator() {
		return fmt.Errorf("condition %s: threshold and right-side reference are mutually exclusive", c.ID)
	}
	if c.IndicatorVsIndicator() && !c.RightMetric.Valid() {
		return fmt.Errorf("condition %s: unknown right metric %q", c.ID, c.RightMetric)
	}
	if c.SustainDays < 0 {
		return fmt.Errorf("condition %s: negative sustainDays", c.ID)
	}
	return nil
}

// sortedSlots returns child slot names in deterministic order
func sortedSlots(children map[string]*Node) []string {
	slots := make([]string, 0, len(children))
	for slot, child := range children {
		if child != nil {
			slots = append(slots, slot)
		}
	}
	sort.Strings(slots)
	return slots
}

func sortStrings(s []string) {
	sort.Strings(s)
}
