package engine

import (
	"fmt"

	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// ============================================================================
// CONDITION CHAIN EVALUATION
// ============================================================================

// evalChain evaluates an ordered condition chain at one day index with
// standard boolean precedence: AND binds tighter than OR, so
// `A or B and C` means `A or (B and C)`.
//
// A running AND-accumulator folds `and` lines; `start` and `or` flush
// the accumulator into the OR terms and begin a new one. The result is
// the OR of all flushed terms plus the trailing accumulator. Any
// unknown line forces the overall result to unknown, even mid-chain.
// An empty chain is false.
//
// The returned ticker is the left reference of the first line whose own
// comparison held true; leaf positions in matchIndicator mode adopt it.
func (e *Evaluator) evalChain(lines []strategy.ConditionLine, day int) (Tristate, string) {
	if len(lines) == 0 {
		return TriFalse, ""
	}

	sawUnknown := false
	matched := ""
	orResult := false
	acc := false

	flush := func() {
		orResult = orResult || acc
	}

	for i := range lines {
		line := &lines[i]
		v := e.evalLine(line, day)
		if v == TriUnknown {
			sawUnknown = true
		}
		b := v == TriTrue
		if b && matched == "" {
			matched = line.Ticker
		}

		if i == 0 {
			acc = b
			continue
		}
		switch line.Combinator {
		case strategy.CombinatorAnd:
			acc = acc && b
		default: // start and or both flush and reseed
			flush()
			acc = b
		}
	}
	flush()

	if sawUnknown {
		return TriUnknown, matched
	}
	return FromBool(orResult), matched
}

// evalLine evaluates one comparison, honoring date restrictions and
// sustain windows. Insufficient history on either side yields unknown.
func (e *Evaluator) evalLine(line *strategy.ConditionLine, day int) Tristate {
	if line.From != nil || line.Until != nil {
		date := e.cache.Dates()[day]
		if line.From != nil && date.Before(*line.From) {
			return TriFalse
		}
		if line.Until != nil && date.After(*line.Until) {
			return TriFalse
		}
	}

	sustain := line.SustainDays
	if sustain < 1 {
		sustain = 1
	}
	if day-sustain+1 < 0 {
		return TriUnknown
	}

	for d := day - sustain + 1; d <= day; d++ {
		v := e.compareAt(line, d)
		if v != TriTrue {
			return v
		}
	}
	return TriTrue
}

// compareAt resolves both sides of the comparison at one day
func (e *Evaluator) compareAt(line *strategy.ConditionLine, day int) Tristate {
	leftSeries, err := e.cache.Get(line.Ticker, line.Metric, line.Window)
	if err != nil {
		e.recordErr(fmt.Errorf("condition %s: %w", line.ID, err))
		return TriUnknown
	}
	left, ok := leftSeries.At(day)
	if !ok {
		return TriUnknown
	}

	var right float64
	if line.IndicatorVsIndicator() {
		rightSeries, err := e.cache.Get(line.RightTicker, line.RightMetric, line.RightWindow)
		if err != nil {
			e.recordErr(fmt.Errorf("condition %s: %w", line.ID, err))
			return TriUnknown
		}
		right, ok = rightSeries.At(day)
		if !ok {
			return TriUnknown
		}
	} else {
		right = *line.Threshold
	}

	switch line.Comparator {
	case strategy.CompGT:
		return FromBool(left > right)
	case strategy.CompGTE:
		return FromBool(left >= right)
	case strategy.CompLT:
		return FromBool(left < right)
	case strategy.CompLTE:
		return FromBool(left <= right)
	default:
		e.recordErr(fmt.Errorf("condition %s: invalid comparator %q", line.ID, line.Comparator))
		return TriUnknown
	}
}
