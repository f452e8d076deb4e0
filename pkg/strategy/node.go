// Package strategy defines the declarative trading-strategy tree: a
// typed, acyclic node graph evaluated day by day by the engine package.
package strategy

import (
	"fmt"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
)

// ============================================================================
// NODE KINDS
// ============================================================================

// Kind discriminates the node union
type Kind string

const (
	KindAllocator    Kind = "allocator"
	KindFilter       Kind = "filter"
	KindConditional  Kind = "conditional"
	KindQuantified   Kind = "quantified"
	KindLeafPosition Kind = "leafPosition"
	KindAltExit      Kind = "altExit"
	KindScaling      Kind = "scaling"
)

// Child slot names
const (
	SlotNext = "next"
	SlotThen = "then"
	SlotElse = "else"
	// Ladder rungs use SlotRung(i)
	slotRungPrefix = "rung"
)

// SlotRung names the ladder slot for a given true-count
func SlotRung(i int) string {
	return fmt.Sprintf("%s%d", slotRungPrefix, i)
}

// ============================================================================
// WEIGHTING
// ============================================================================

// WeightMode selects the portfolio-weighting algorithm of an allocator
type WeightMode string

const (
	WeightEqual      WeightMode = "equal"
	WeightDefined    WeightMode = "defined"
	WeightInverseVol WeightMode = "inverseVolatility"
	WeightProRataVol WeightMode = "proRataVolatility"
	WeightCapped     WeightMode = "capped"
)

// DefaultVolWindow is the lookback for volatility-based weighting
const DefaultVolWindow = 20

// WeightingSpec configures how children's allocations are combined
type WeightingSpec struct {
	Mode WeightMode `json:"mode"`

	// Weights maps child slot names to manual weights (defined mode)
	Weights map[string]float64 `json:"weights,omitempty"`

	// VolWindow is the lookback for volatility modes; 0 means DefaultVolWindow
	VolWindow int `json:"volWindow,omitempty"`

	// CapPct caps each child's share in capped mode (0..1)
	CapPct float64 `json:"capPct,omitempty"`

	// FallbackTicker receives any unallocated remainder in capped mode;
	// empty leaves the remainder as cash
	FallbackTicker string `json:"fallbackTicker,omitempty"`
}

// Window returns the effective volatility lookback
func (w *WeightingSpec) Window() int {
	if w == nil || w.VolWindow <= 0 {
		return DefaultVolWindow
	}
	return w.VolWindow
}

// ============================================================================
// KIND PAYLOADS
// ============================================================================

// QuantMode aggregates independent condition groups by true-count
type QuantMode string

const (
	QuantAny     QuantMode = "any"
	QuantAll     QuantMode = "all"
	QuantNone    QuantMode = "none"
	QuantExactly QuantMode = "exactly"
	QuantAtLeast QuantMode = "atLeast"
	QuantAtMost  QuantMode = "atMost"
	QuantLadder  QuantMode = "ladder"
)

// QuantifiedSpec holds the condition groups of a quantified node
type QuantifiedSpec struct {
	Mode   QuantMode         `json:"mode"`
	Count  int               `json:"count,omitempty"` // exactly/atLeast/atMost
	Groups [][]ConditionLine `json:"groups"`
}

// FilterSpec ranks candidate tickers and keeps the top or bottom N
type FilterSpec struct {
	Metric series.Metric `json:"metric"`
	Window int           `json:"window"`
	Count  int           `json:"count"`
	Bottom bool          `json:"bottom,omitempty"`
}

// LeafSpec resolves the position held by a leaf node. An empty spec is
// a cash placeholder. List names a ticker list filled in by the branch
// generator; MatchIndicator adopts whichever ticker satisfied the
// nearest ancestor condition.
type LeafSpec struct {
	Ticker         string `json:"ticker,omitempty"`
	List           string `json:"list,omitempty"`
	MatchIndicator bool   `json:"matchIndicator,omitempty"`
}

// AltExitSpec is a two-state hysteresis gate: the node stays invested
// until Exit holds, then stays out until Entry holds again.
type AltExitSpec struct {
	Entry []ConditionLine `json:"entry"`
	Exit  []ConditionLine `json:"exit"`
}

// ScalingSpec linearly interpolates an allocation fraction between
// AllocLo and AllocHi based on where the indicator value falls between
// ThresholdLo and ThresholdHi, clamped to [0,1].
type ScalingSpec struct {
	Ticker      string        `json:"ticker"`
	Metric      series.Metric `json:"metric"`
	Window      int           `json:"window"`
	ThresholdLo float64       `json:"thresholdLo"`
	ThresholdHi float64       `json:"thresholdHi"`
	AllocLo     float64       `json:"allocLo"`
	AllocHi     float64       `json:"allocHi"`
}

// ============================================================================
// NODE
// ============================================================================

// Node is one strategy-tree node. Kind selects which payload fields are
// meaningful; Validate enforces the per-kind requirements. Child slots
// may hold nil, which evaluates to zero allocation.
type Node struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Ref names a template to substitute for this node at resolution
	// time; all other fields are ignored when set.
	Ref string `json:"ref,omitempty"`

	Children map[string]*Node `json:"children,omitempty"`

	Weighting *WeightingSpec `json:"weighting,omitempty"`

	// Per-branch overrides for conditional/quantified nodes
	ThenWeighting *WeightingSpec `json:"thenWeighting,omitempty"`
	ElseWeighting *WeightingSpec `json:"elseWeighting,omitempty"`

	Conditions []ConditionLine `json:"conditions,omitempty"` // conditional
	Quantified *QuantifiedSpec `json:"quantified,omitempty"`
	Filter     *FilterSpec     `json:"filter,omitempty"`
	Leaf       *LeafSpec       `json:"leaf,omitempty"`
	AltExit    *AltExitSpec    `json:"altExit,omitempty"`
	Scaling    *ScalingSpec    `json:"scaling,omitempty"`
}

// Tree wraps the single root node of a strategy document
type Tree struct {
	Root *Node `json:"root"`
}

// Walk visits every non-nil node depth-first in deterministic slot order
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, slot := range sortedSlots(n.Children) {
		n.Children[slot].Walk(fn)
	}
}

// Tickers collects every ticker the tree references, in sorted order.
// The benchmark ticker and substitution lists are the caller's concern.
func (t *Tree) Tickers() []string {
	set := make(map[string]struct{})
	add := func(ticker string) {
		if ticker != "" {
			set[ticker] = struct{}{}
		}
	}
	addLines := func(lines []ConditionLine) {
		for _, l := range lines {
			add(l.Ticker)
			add(l.RightTicker)
		}
	}
	t.Root.Walk(func(n *Node) {
		addLines(n.Conditions)
		if n.Quantified != nil {
			for _, g := range n.Quantified.Groups {
				addLines(g)
			}
		}
		if n.AltExit != nil {
			addLines(n.AltExit.Entry)
			addLines(n.AltExit.Exit)
		}
		if n.Leaf != nil {
			add(n.Leaf.Ticker)
		}
		if n.Scaling != nil {
			add(n.Scaling.Ticker)
		}
		if n.Weighting != nil {
			add(n.Weighting.FallbackTicker)
		}
		if n.ThenWeighting != nil {
			add(n.ThenWeighting.FallbackTicker)
		}
		if n.ElseWeighting != nil {
			add(n.ElseWeighting.FallbackTicker)
		}
	})
	out := make([]string, 0, len(set))
	for ticker := range set {
		out = append(out, ticker)
	}
	sortStrings(out)
	return out
}

// FindNode returns the node with the given id, or nil
func (t *Tree) FindNode(id string) *Node {
	var found *Node
	t.Root.Walk(func(n *Node) {
		if n.ID == id {
			found = n
		}
	})
	return found
}
