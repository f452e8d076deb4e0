package strategy

import (
	"errors"
	"fmt"
)

// ErrInvalidTree indicates a structurally unusable strategy document
var ErrInvalidTree = errors.New("invalid strategy tree")

// maxDepth bounds recursion so a malformed document cannot blow the stack
const maxDepth = 64

// Validate checks the whole tree: exactly one root, unique node ids,
// bounded depth, and per-kind required fields. Unresolved template
// references are rejected; call ResolveReferences first.
func (t *Tree) Validate() error {
	if t == nil || t.Root == nil {
		return fmt.Errorf("%w: missing root", ErrInvalidTree)
	}
	seen := make(map[string]struct{})
	if err := validateNode(t.Root, seen, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	return nil
}

func validateNode(n *Node, seen map[string]struct{}, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("tree exceeds maximum depth %d", maxDepth)
	}
	if n.ID == "" {
		return fmt.Errorf("node missing id")
	}
	if _, dup := seen[n.ID]; dup {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	seen[n.ID] = struct{}{}

	if n.Ref != "" {
		return fmt.Errorf("node %s: unresolved template reference %q", n.ID, n.Ref)
	}

	if err := validateKind(n); err != nil {
		return err
	}
	if err := validateWeighting(n.ID, n.Weighting); err != nil {
		return err
	}
	if err := validateWeighting(n.ID, n.ThenWeighting); err != nil {
		return err
	}
	if err := validateWeighting(n.ID, n.ElseWeighting); err != nil {
		return err
	}

	for _, slot := range sortedSlots(n.Children) {
		if err := validateNode(n.Children[slot], seen, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validateKind(n *Node) error {
	switch n.Kind {
	case KindAllocator:
		// Childless allocators are legal and evaluate to cash

	case KindConditional:
		if len(n.Conditions) == 0 {
			return fmt.Errorf("node %s: conditional requires conditions", n.ID)
		}
		for i := range n.Conditions {
			if err := n.Conditions[i].validate(); err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
		}

	case KindQuantified:
		q := n.Quantified
		if q == nil || len(q.Groups) == 0 {
			return fmt.Errorf("node %s: quantified requires condition groups", n.ID)
		}
		switch q.Mode {
		case QuantAny, QuantAll, QuantNone, QuantLadder:
		case QuantExactly, QuantAtLeast, QuantAtMost:
			if q.Count < 0 || q.Count > len(q.Groups) {
				return fmt.Errorf("node %s: quantified count %d out of range", n.ID, q.Count)
			}
		default:
			return fmt.Errorf("node %s: invalid quantified mode %q", n.ID, q.Mode)
		}
		for _, g := range q.Groups {
			for i := range g {
				if err := g[i].validate(); err != nil {
					return fmt.Errorf("node %s: %w", n.ID, err)
				}
			}
		}

	case KindFilter:
		f := n.Filter
		if f == nil {
			return fmt.Errorf("node %s: filter requires a filter spec", n.ID)
		}
		if !f.Metric.Valid() {
			return fmt.Errorf("node %s: unknown filter metric %q", n.ID, f.Metric)
		}
		if f.Count < 1 {
			return fmt.Errorf("node %s: filter count must be positive", n.ID)
		}

	case KindLeafPosition:
		l := n.Leaf
		if l == nil {
			// Bare leaf is a cash placeholder
			break
		}
		set := 0
		if l.Ticker != "" {
			set++
		}
		if l.List != "" {
			set++
		}
		if l.MatchIndicator {
			set++
		}
		if set > 1 {
			return fmt.Errorf("node %s: leaf ticker, list and matchIndicator are mutually exclusive", n.ID)
		}

	case KindAltExit:
		a := n.AltExit
		if a == nil || len(a.Entry) == 0 || len(a.Exit) == 0 {
			return fmt.Errorf("node %s: altExit requires entry and exit conditions", n.ID)
		}
		for i := range a.Entry {
			if err := a.Entry[i].validate(); err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
		}
		for i := range a.Exit {
			if err := a.Exit[i].validate(); err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
		}

	case KindScaling:
		s := n.Scaling
		if s == nil {
			return fmt.Errorf("node %s: scaling requires a scaling spec", n.ID)
		}
		if s.Ticker == "" || !s.Metric.Valid() {
			return fmt.Errorf("node %s: scaling requires a ticker and metric", n.ID)
		}
		if s.ThresholdLo == s.ThresholdHi {
			return fmt.Errorf("node %s: scaling thresholds must differ", n.ID)
		}

	default:
		return fmt.Errorf("node %s: unknown kind %q", n.ID, n.Kind)
	}
	return nil
}

func validateWeighting(nodeID string, w *WeightingSpec) error {
	if w == nil {
		return nil
	}
	switch w.Mode {
	case WeightEqual, WeightInverseVol, WeightProRataVol:
	case WeightDefined:
		if len(w.Weights) == 0 {
			return fmt.Errorf("node %s: defined weighting requires weights", nodeID)
		}
		for slot, weight := range w.Weights {
			if weight < 0 {
				return fmt.Errorf("node %s: negative weight for slot %q", nodeID, slot)
			}
		}
	case WeightCapped:
		if w.CapPct <= 0 || w.CapPct > 1 {
			return fmt.Errorf("node %s: capped weighting requires capPct in (0,1]", nodeID)
		}
	default:
		return fmt.Errorf("node %s: unknown weighting mode %q", nodeID, w.Mode)
	}
	return nil
}
