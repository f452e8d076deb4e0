// Package optimize enumerates strategy-tree parameter combinations and
// classifies their backtest results against eligibility requirements.
package optimize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// ============================================================================
// PARAMETER SPACE
// ============================================================================

// ErrTooManyBranches is returned at submission when the cartesian
// product exceeds the configured cap
var ErrTooManyBranches = errors.New("parameter space exceeds branch cap")

// ErrImpossibleRange marks a range no value can satisfy
var ErrImpossibleRange = errors.New("impossible parameter range")

// TreePath addressing targets, exact-id based:
//
//	condition:<condID>:threshold
//	condition:<condID>:window
//	condition:<condID>:sustainDays
//	node:<nodeID>:filter.window
//	node:<nodeID>:filter.count
//	node:<nodeID>:scaling.thresholdLo
//	node:<nodeID>:scaling.thresholdHi
//	node:<nodeID>:weighting.volWindow

// ParameterRange sweeps one numeric field of the tree. Values run from
// Min to Max by Step; Max is always included even when the step does
// not land on it exactly. A disabled range contributes no dimension.
type ParameterRange struct {
	ID       string  `json:"id"`
	TreePath string  `json:"treePath"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Step     float64 `json:"step"`
	Enabled  bool    `json:"enabled"`
}

// Count reports how many values the range holds without materializing
// them, so oversized sweeps can be rejected in O(1)
func (r ParameterRange) Count() (int, error) {
	if r.Step <= 0 {
		return 0, fmt.Errorf("%w: %s step %v", ErrImpossibleRange, r.ID, r.Step)
	}
	if r.Max < r.Min {
		return 0, fmt.Errorf("%w: %s max %v below min %v", ErrImpossibleRange, r.ID, r.Max, r.Min)
	}
	n := int((r.Max-r.Min+1e-9)/r.Step) + 1
	if r.Min+float64(n-1)*r.Step < r.Max-1e-9 {
		n++
	}
	return n, nil
}

// Values materializes the range's value set
func (r ParameterRange) Values() ([]float64, error) {
	count, err := r.Count()
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, count)
	for i := 0; ; i++ {
		v := r.Min + float64(i)*r.Step
		if v > r.Max+1e-9 {
			break
		}
		values = append(values, v)
	}
	if values[len(values)-1] < r.Max-1e-9 {
		values = append(values, r.Max)
	}
	return values, nil
}

// TickerChoice is a substitution dimension: the leaf node holding the
// named list takes each ticker in turn
type TickerChoice struct {
	LeafID  string   `json:"leafId"`
	List    string   `json:"list"`
	Tickers []string `json:"tickers"`
}

// BranchCombination is one concrete assignment of values to all enabled
// parameters, plus ticker substitutions
type BranchCombination struct {
	ID              string             `json:"id"`
	Label           string             `json:"label"`
	ParameterValues map[string]float64 `json:"parameterValues"`
	Substitutions   map[string]string  `json:"tickerSubstitutions,omitempty"` // leaf node id -> ticker
}

// ============================================================================
// ENUMERATION
// ============================================================================

// ProductSize reports the total combination count without materializing
// the set, so callers can reject oversized sweeps before running.
func ProductSize(ranges []ParameterRange, choices []TickerChoice) (int, error) {
	size := 1
	for _, r := range ranges {
		if !r.Enabled {
			continue
		}
		count, err := r.Count()
		if err != nil {
			return 0, err
		}
		size *= count
	}
	for _, c := range choices {
		if len(c.Tickers) > 0 {
			size *= len(c.Tickers)
		}
	}
	return size, nil
}

// Enumerate produces the deterministic cartesian product of all enabled
// ranges crossed with all ticker choices. maxBranches caps the product;
// zero means no cap.
func Enumerate(ranges []ParameterRange, choices []TickerChoice, maxBranches int) ([]BranchCombination, error) {
	size, err := ProductSize(ranges, choices)
	if err != nil {
		return nil, err
	}
	if maxBranches > 0 && size > maxBranches {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyBranches, size, maxBranches)
	}

	enabled := make([]ParameterRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	combos := []BranchCombination{{
		ParameterValues: map[string]float64{},
		Substitutions:   map[string]string{},
	}}

	for _, r := range enabled {
		values, err := r.Values()
		if err != nil {
			return nil, err
		}
		next := make([]BranchCombination, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				next = append(next, combo.with(r.ID, v, "", ""))
			}
		}
		combos = next
	}

	for _, c := range choices {
		if len(c.Tickers) == 0 {
			continue
		}
		next := make([]BranchCombination, 0, len(combos)*len(c.Tickers))
		for _, combo := range combos {
			for _, ticker := range c.Tickers {
				next = append(next, combo.with("", 0, c.LeafID, ticker))
			}
		}
		combos = next
	}

	for i := range combos {
		combos[i].ID = fmt.Sprintf("branch-%04d", i)
		combos[i].Label = labelFor(combos[i])
	}
	return combos, nil
}

// with copies the combination extended by one assignment
func (b BranchCombination) with(paramID string, value float64, leafID, ticker string) BranchCombination {
	out := BranchCombination{
		ParameterValues: make(map[string]float64, len(b.ParameterValues)+1),
		Substitutions:   make(map[string]string, len(b.Substitutions)+1),
	}
	for k, v := range b.ParameterValues {
		out.ParameterValues[k] = v
	}
	for k, v := range b.Substitutions {
		out.Substitutions[k] = v
	}
	if paramID != "" {
		out.ParameterValues[paramID] = value
	}
	if leafID != "" {
		out.Substitutions[leafID] = ticker
	}
	return out
}

func labelFor(b BranchCombination) string {
	parts := make([]string, 0, len(b.ParameterValues)+len(b.Substitutions))
	keys := make([]string, 0, len(b.ParameterValues))
	for k := range b.ParameterValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, b.ParameterValues[k]))
	}
	leafIDs := make([]string, 0, len(b.Substitutions))
	for k := range b.Substitutions {
		leafIDs = append(leafIDs, k)
	}
	sort.Strings(leafIDs)
	for _, k := range leafIDs {
		parts = append(parts, fmt.Sprintf("%s=%s", k, b.Substitutions[k]))
	}
	return strings.Join(parts, " ")
}

// ============================================================================
// APPLICATION
// ============================================================================

// Apply clones the tree (preserving every node and condition id) and
// writes the combination's numeric overwrites and ticker substitutions
// into the clone. The original tree is never mutated. Lookups are exact
// by id; re-applying the same combination to independent clones yields
// identical trees.
func Apply(tree *strategy.Tree, combo BranchCombination, ranges []ParameterRange) (*strategy.Tree, error) {
	clone := tree.Clone()

	byID := make(map[string]ParameterRange, len(ranges))
	for _, r := range ranges {
		byID[r.ID] = r
	}

	for paramID, value := range combo.ParameterValues {
		r, ok := byID[paramID]
		if !ok {
			return nil, fmt.Errorf("combination %s references unknown parameter %q", combo.ID, paramID)
		}
		if err := applyPath(clone, r.TreePath, value); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", paramID, err)
		}
	}

	for leafID, ticker := range combo.Substitutions {
		node := clone.FindNode(leafID)
		if node == nil || node.Kind != strategy.KindLeafPosition {
			return nil, fmt.Errorf("combination %s: no leaf node %q to substitute", combo.ID, leafID)
		}
		if node.Leaf == nil {
			node.Leaf = &strategy.LeafSpec{}
		}
		node.Leaf.Ticker = ticker
		node.Leaf.List = ""
	}

	return clone, nil
}

func applyPath(tree *strategy.Tree, path string, value float64) error {
	parts := strings.SplitN(path, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("malformed tree path %q", path)
	}
	kind, id, field := parts[0], parts[1], parts[2]

	switch kind {
	case "condition":
		cond := tree.FindCondition(id)
		if cond == nil {
			return fmt.Errorf("no condition %q", id)
		}
		switch field {
		case "threshold":
			cond.Threshold = &value
			cond.RightTicker = ""
		case "window":
			cond.Window = int(value)
		case "sustainDays":
			cond.SustainDays = int(value)
		default:
			return fmt.Errorf("unknown condition field %q", field)
		}
		return nil

	case "node":
		node := tree.FindNode(id)
		if node == nil {
			return fmt.Errorf("no node %q", id)
		}
		switch field {
		case "filter.window":
			if node.Filter == nil {
				return fmt.Errorf("node %q has no filter", id)
			}
			node.Filter.Window = int(value)
		case "filter.count":
			if node.Filter == nil {
				return fmt.Errorf("node %q has no filter", id)
			}
			node.Filter.Count = int(value)
		case "scaling.thresholdLo":
			if node.Scaling == nil {
				return fmt.Errorf("node %q has no scaling", id)
			}
			node.Scaling.ThresholdLo = value
		case "scaling.thresholdHi":
			if node.Scaling == nil {
				return fmt.Errorf("node %q has no scaling", id)
			}
			node.Scaling.ThresholdHi = value
		case "weighting.volWindow":
			if node.Weighting == nil {
				return fmt.Errorf("node %q has no weighting", id)
			}
			node.Weighting.VolWindow = int(value)
		default:
			return fmt.Errorf("unknown node field %q", field)
		}
		return nil

	default:
		return fmt.Errorf("unknown tree path kind %q", kind)
	}
}
