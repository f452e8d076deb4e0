// Package engine evaluates strategy trees against daily series: condition
// logic, allocation weighting, the day-by-day backtest loop and metrics.
package engine

// Tristate is a condition result: true, false, or unknown when the
// warm-up history needed to decide is not yet available. Unknown always
// propagates; it is never coerced to false.
type Tristate int8

const (
	TriFalse Tristate = iota
	TriTrue
	TriUnknown
)

// FromBool lifts a bool into a Tristate
func FromBool(b bool) Tristate {
	if b {
		return TriTrue
	}
	return TriFalse
}

func (t Tristate) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "unknown"
	}
}
