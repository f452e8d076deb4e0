package engine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

// ============================================================================
// ALLOCATION
// ============================================================================

// Allocation maps tickers to portfolio weights for one day. Weights are
// non-negative and sum to at most 1; the remainder is implicit cash.
type Allocation map[string]float64

// Total returns the invested fraction
func (a Allocation) Total() float64 {
	var sum float64
	for _, w := range a {
		sum += w
	}
	return sum
}

// Cash returns the uninvested fraction
func (a Allocation) Cash() float64 {
	c := 1.0 - a.Total()
	if c < 0 {
		return 0
	}
	return c
}

// scale returns a copy with every weight multiplied by f
func (a Allocation) scale(f float64) Allocation {
	out := make(Allocation, len(a))
	for t, w := range a {
		if w*f > 0 {
			out[t] = w * f
		}
	}
	return out
}

// merge adds other's weights into a
func (a Allocation) merge(other Allocation) {
	for t, w := range other {
		a[t] += w
	}
}

// ============================================================================
// EVALUATOR
// ============================================================================

// Evaluator walks a strategy tree day by day over a shared read-only
// series cache. AltExit hysteresis state is threaded per evaluator (one
// per backtest run) keyed by node id, never stored on the nodes, so
// concurrent backtests over the same tree never interfere.
type Evaluator struct {
	cache *series.Cache
	tree  *strategy.Tree

	// altExited[nodeID] is true while the node sits in its exited state
	altExited map[string]bool

	// probing suppresses altExit state transitions while the weighting
	// code re-evaluates children on historical days
	probing bool

	err error
}

// NewEvaluator builds an evaluator for one backtest run
func NewEvaluator(cache *series.Cache, tree *strategy.Tree) *Evaluator {
	return &Evaluator{
		cache:     cache,
		tree:      tree,
		altExited: make(map[string]bool),
	}
}

func (e *Evaluator) recordErr(err error) {
	if e.err == nil {
		e.err = err
	}
}

// EvaluateDay produces the target allocation for one day index
func (e *Evaluator) EvaluateDay(day int) (Allocation, error) {
	e.err = nil
	alloc := e.evalNode(e.tree.Root, day, "", nil)
	if e.err != nil {
		return nil, fmt.Errorf("day %d: %w", day, e.err)
	}
	return alloc, nil
}

// evalNode dispatches on node kind. matched carries the ticker that
// satisfied the nearest ancestor condition; inherited carries a
// weighting override from a conditional/quantified branch.
func (e *Evaluator) evalNode(n *strategy.Node, day int, matched string, inherited *strategy.WeightingSpec) Allocation {
	if n == nil {
		return Allocation{}
	}

	switch n.Kind {
	case strategy.KindAllocator:
		return e.evalAllocator(n, day, matched, inherited)

	case strategy.KindConditional:
		return e.evalConditional(n, day, matched)

	case strategy.KindQuantified:
		return e.evalQuantified(n, day, matched)

	case strategy.KindFilter:
		return e.evalFilter(n, day)

	case strategy.KindLeafPosition:
		return e.evalLeaf(n, matched)

	case strategy.KindAltExit:
		return e.evalAltExit(n, day, matched)

	case strategy.KindScaling:
		return e.evalScaling(n, day, matched)

	default:
		e.recordErr(fmt.Errorf("node %s: unknown kind %q", n.ID, n.Kind))
		return Allocation{}
	}
}

// ============================================================================
// ALLOCATOR WEIGHTING
// ============================================================================

type childAlloc struct {
	slot  string
	alloc Allocation
}

func (e *Evaluator) evalAllocator(n *strategy.Node, day int, matched string, inherited *strategy.WeightingSpec) Allocation {
	spec := n.Weighting
	if spec == nil {
		spec = inherited
	}

	children := make([]childAlloc, 0, len(n.Children))
	for _, slot := range sortedSlots(n.Children) {
		alloc := e.evalNode(n.Children[slot], day, matched, nil)
		if alloc.Total() > 0 {
			children = append(children, childAlloc{slot: slot, alloc: alloc})
		}
	}
	if len(children) == 0 {
		return Allocation{}
	}

	mode := strategy.WeightEqual
	if spec != nil {
		mode = spec.Mode
	}

	switch mode {
	case strategy.WeightDefined:
		return e.combineDefined(children, spec)
	case strategy.WeightInverseVol, strategy.WeightProRataVol:
		return e.combineVolatility(n, children, day, matched, spec)
	case strategy.WeightCapped:
		return e.combineCapped(children, spec)
	default:
		return combineWeights(children, equalWeights(len(children)))
	}
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

func combineWeights(children []childAlloc, weights []float64) Allocation {
	out := make(Allocation)
	for i, c := range children {
		out.merge(c.alloc.scale(weights[i]))
	}
	return out
}

// combineDefined normalizes the user-specified per-slot weights over
// the children that produced a nonzero allocation
func (e *Evaluator) combineDefined(children []childAlloc, spec *strategy.WeightingSpec) Allocation {
	weights := make([]float64, len(children))
	var sum float64
	for i, c := range children {
		weights[i] = spec.Weights[c.slot]
		sum += weights[i]
	}
	if sum <= 0 {
		return combineWeights(children, equalWeights(len(children)))
	}
	for i := range weights {
		weights[i] /= sum
	}
	return combineWeights(children, weights)
}

// combineVolatility weights children by the realized volatility of
// their own sub-allocation's return series over the lookback window:
// proportional to 1/sigma for inverse mode, to sigma for pro-rata mode.
// Children without measurable volatility get no weight; if none is
// measurable the combination falls back to equal weighting.
func (e *Evaluator) combineVolatility(n *strategy.Node, children []childAlloc, day int, matched string, spec *strategy.WeightingSpec) Allocation {
	window := spec.Window()
	sigmas := make([]float64, len(children))
	measurable := false

	if day >= window {
		for i, c := range children {
			sigma, ok := e.childVolatility(n.Children[c.slot], day, matched, window)
			if ok && sigma > 0 {
				sigmas[i] = sigma
				measurable = true
			}
		}
	}

	if !measurable {
		return combineWeights(children, equalWeights(len(children)))
	}

	weights := make([]float64, len(children))
	var sum float64
	for i, sigma := range sigmas {
		if sigma <= 0 {
			continue
		}
		if spec.Mode == strategy.WeightInverseVol {
			weights[i] = 1.0 / sigma
		} else {
			weights[i] = sigma
		}
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return combineWeights(children, weights)
}

// childVolatility re-evaluates the child's allocation over the trailing
// window and measures the stddev of its realized daily returns. AltExit
// state is frozen during the probe.
func (e *Evaluator) childVolatility(child *strategy.Node, day int, matched string, window int) (float64, bool) {
	wasProbing := e.probing
	e.probing = true
	defer func() { e.probing = wasProbing }()

	returns := make([]float64, 0, window)
	for d := day - window; d < day; d++ {
		alloc := e.evalNode(child, d, matched, nil)
		r, ok := e.allocationReturn(alloc, d+1)
		if !ok {
			return 0, false
		}
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return 0, false
	}
	return stat.StdDev(returns, nil), true
}

// allocationReturn is the close-to-close return of holding alloc from
// day-1 to day
func (e *Evaluator) allocationReturn(alloc Allocation, day int) (float64, bool) {
	var r float64
	for ticker, w := range alloc {
		prev, err1 := e.cache.Bar(ticker, day-1)
		cur, err2 := e.cache.Bar(ticker, day)
		if err1 != nil || err2 != nil || prev.Close == 0 {
			return 0, false
		}
		r += w * (cur.Close/prev.Close - 1.0)
	}
	return r, true
}

// combineCapped fills children in slot order up to CapPct each and
// routes any unallocated remainder to the fallback ticker, or leaves it
// as cash when no fallback is configured
func (e *Evaluator) combineCapped(children []childAlloc, spec *strategy.WeightingSpec) Allocation {
	out := make(Allocation)
	remaining := 1.0
	for _, c := range children {
		if remaining <= 0 {
			break
		}
		w := spec.CapPct
		if w > remaining {
			w = remaining
		}
		out.merge(c.alloc.scale(w))
		remaining -= w
	}
	if remaining > 1e-12 && spec.FallbackTicker != "" {
		out[spec.FallbackTicker] += remaining
	}
	return out
}

// ============================================================================
// BRANCHING KINDS
// ============================================================================

// evalConditional routes to then/else by the condition chain. Unknown
// keeps the node out of the market entirely: insufficient warm-up
// history allocates to cash rather than guessing a branch.
func (e *Evaluator) evalConditional(n *strategy.Node, day int, matched string) Allocation {
	result, hit := e.evalChain(n.Conditions, day)
	switch result {
	case TriTrue:
		if hit != "" {
			matched = hit
		}
		return e.evalNode(n.Children[strategy.SlotThen], day, matched, n.ThenWeighting)
	case TriFalse:
		return e.evalNode(n.Children[strategy.SlotElse], day, matched, n.ElseWeighting)
	default:
		return Allocation{}
	}
}

// evalQuantified counts how many independent condition groups hold and
// routes by the aggregate. A nil or unknown-valued group makes the
// aggregate unknown, which allocates to cash.
func (e *Evaluator) evalQuantified(n *strategy.Node, day int, matched string) Allocation {
	q := n.Quantified
	trueCount := 0
	hit := ""
	for _, group := range q.Groups {
		if group == nil {
			return Allocation{}
		}
		v, groupHit := e.evalChain(group, day)
		if v == TriUnknown {
			return Allocation{}
		}
		if v == TriTrue {
			trueCount++
			if hit == "" {
				hit = groupHit
			}
		}
	}

	if q.Mode == strategy.QuantLadder {
		return e.evalNode(n.Children[strategy.SlotRung(trueCount)], day, matched, nil)
	}

	var taken bool
	switch q.Mode {
	case strategy.QuantAny:
		taken = trueCount > 0
	case strategy.QuantAll:
		taken = trueCount == len(q.Groups)
	case strategy.QuantNone:
		taken = trueCount == 0
	case strategy.QuantExactly:
		taken = trueCount == q.Count
	case strategy.QuantAtLeast:
		taken = trueCount >= q.Count
	case strategy.QuantAtMost:
		taken = trueCount <= q.Count
	}

	if taken {
		if hit != "" {
			matched = hit
		}
		return e.evalNode(n.Children[strategy.SlotThen], day, matched, n.ThenWeighting)
	}
	return e.evalNode(n.Children[strategy.SlotElse], day, matched, n.ElseWeighting)
}

// ============================================================================
// FILTER / RANK
// ============================================================================

// evalFilter scores the candidate tickers below the node and keeps the
// top-N (or bottom-N), weighting the kept set by the node's weighting
// spec (equal by default). Candidates without an available score are
// excluded from the ranking.
func (e *Evaluator) evalFilter(n *strategy.Node, day int) Allocation {
	candidates := subtreeTickers(n)
	if len(candidates) == 0 {
		return Allocation{}
	}

	type scored struct {
		ticker string
		score  float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, ticker := range candidates {
		s, err := e.cache.Get(ticker, n.Filter.Metric, n.Filter.Window)
		if err != nil {
			e.recordErr(fmt.Errorf("filter %s: %w", n.ID, err))
			return Allocation{}
		}
		v, ok := s.At(day)
		if !ok {
			continue
		}
		ranked = append(ranked, scored{ticker: ticker, score: v})
	}
	if len(ranked) == 0 {
		return Allocation{}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			if n.Filter.Bottom {
				return ranked[i].score < ranked[j].score
			}
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].ticker < ranked[j].ticker
	})

	keep := n.Filter.Count
	if keep > len(ranked) {
		keep = len(ranked)
	}

	kept := make([]childAlloc, keep)
	for i := 0; i < keep; i++ {
		kept[i] = childAlloc{
			slot:  ranked[i].ticker,
			alloc: Allocation{ranked[i].ticker: 1.0},
		}
	}

	spec := n.Weighting
	if spec == nil {
		return combineWeights(kept, equalWeights(keep))
	}
	switch spec.Mode {
	case strategy.WeightInverseVol, strategy.WeightProRataVol:
		return e.combineVolatility(&strategy.Node{Children: keptAsChildren(kept)}, kept, day, "", spec)
	case strategy.WeightCapped:
		return e.combineCapped(kept, spec)
	default:
		return combineWeights(kept, equalWeights(keep))
	}
}

func keptAsChildren(kept []childAlloc) map[string]*strategy.Node {
	children := make(map[string]*strategy.Node, len(kept))
	for _, c := range kept {
		children[c.slot] = &strategy.Node{
			ID:   "filter-" + c.slot,
			Kind: strategy.KindLeafPosition,
			Leaf: &strategy.LeafSpec{Ticker: c.slot},
		}
	}
	return children
}

// subtreeTickers gathers fixed leaf tickers below a node in sorted order
func subtreeTickers(n *strategy.Node) []string {
	set := make(map[string]struct{})
	n.Walk(func(child *strategy.Node) {
		if child.Kind == strategy.KindLeafPosition && child.Leaf != nil && child.Leaf.Ticker != "" {
			set[child.Leaf.Ticker] = struct{}{}
		}
	})
	out := make([]string, 0, len(set))
	for ticker := range set {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// LEAF, ALT-EXIT, SCALING
// ============================================================================

// evalLeaf resolves a leaf position. A bare leaf or an unresolved list
// is a cash placeholder; matchIndicator adopts the ancestor-matched
// ticker when one was propagated.
func (e *Evaluator) evalLeaf(n *strategy.Node, matched string) Allocation {
	l := n.Leaf
	if l == nil {
		return Allocation{}
	}
	switch {
	case l.Ticker != "":
		return Allocation{l.Ticker: 1.0}
	case l.MatchIndicator && matched != "":
		return Allocation{matched: 1.0}
	default:
		return Allocation{}
	}
}

// evalAltExit applies two-state hysteresis: invested until the exit
// conditions hold, then out until the entry conditions hold again.
// Unknown never flips state, and probes never advance it.
func (e *Evaluator) evalAltExit(n *strategy.Node, day int, matched string) Allocation {
	exited := e.altExited[n.ID]

	if exited {
		entry, _ := e.evalChain(n.AltExit.Entry, day)
		if entry == TriTrue {
			exited = false
		}
	} else {
		exit, _ := e.evalChain(n.AltExit.Exit, day)
		if exit == TriTrue {
			exited = true
		}
	}

	if !e.probing {
		e.altExited[n.ID] = exited
	}

	if exited {
		return Allocation{}
	}
	return e.evalNode(n.Children[strategy.SlotNext], day, matched, nil)
}

// evalScaling interpolates the invested fraction between AllocLo and
// AllocHi by where the indicator sits between the two thresholds,
// clamped to [0,1]. Unknown indicator values allocate to cash.
func (e *Evaluator) evalScaling(n *strategy.Node, day int, matched string) Allocation {
	s := n.Scaling
	indicator, err := e.cache.Get(s.Ticker, s.Metric, s.Window)
	if err != nil {
		e.recordErr(fmt.Errorf("scaling %s: %w", n.ID, err))
		return Allocation{}
	}
	v, ok := indicator.At(day)
	if !ok {
		return Allocation{}
	}

	frac := (v - s.ThresholdLo) / (s.ThresholdHi - s.ThresholdLo)
	frac = clamp01(frac)
	mult := clamp01(s.AllocLo + (s.AllocHi-s.AllocLo)*frac)

	child := e.evalNode(n.Children[strategy.SlotNext], day, matched, nil)
	return child.scale(mult)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// sortedSlots mirrors strategy's deterministic child ordering
func sortedSlots(children map[string]*strategy.Node) []string {
	slots := make([]string, 0, len(children))
	for slot, child := range children {
		if child != nil {
			slots = append(slots, slot)
		}
	}
	sort.Strings(slots)
	return slots
}
