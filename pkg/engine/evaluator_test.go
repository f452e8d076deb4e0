package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
	"github.com/Belfering/QuantNexus-sub009/pkg/strategy"
)

func TestAllocationTotalAndCash(t *testing.T) {
	a := Allocation{"SPY": 0.6, "AGG": 0.3}
	assert.InDelta(t, 0.9, a.Total(), 1e-12)
	assert.InDelta(t, 0.1, a.Cash(), 1e-12)

	empty := Allocation{}
	assert.Zero(t, empty.Total())
	assert.Equal(t, 1.0, empty.Cash())
}

func TestEqualWeighting(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 10),
		"B": constSlice(20, 10),
		"C": constSlice(30, 10),
	})
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "root",
		Kind: strategy.KindAllocator,
		Children: map[string]*strategy.Node{
			"a": leaf("la", "A"),
			"b": leaf("lb", "B"),
			"c": leaf("lc", "C"),
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, alloc["A"], 1e-12)
	assert.InDelta(t, 1.0/3, alloc["B"], 1e-12)
	assert.InDelta(t, 1.0/3, alloc["C"], 1e-12)
	assert.InDelta(t, 1.0, alloc.Total(), 1e-12)
}

func TestEqualWeightingExcludesInactiveChildren(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 10),
		"B": constSlice(20, 10),
	})
	// One child is a cash placeholder and must not dilute the others
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "root",
		Kind: strategy.KindAllocator,
		Children: map[string]*strategy.Node{
			"a": leaf("la", "A"),
			"b": leaf("lb", "B"),
			"c": {ID: "lc", Kind: strategy.KindLeafPosition, Leaf: &strategy.LeafSpec{}},
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, alloc["A"], 1e-12)
	assert.InDelta(t, 0.5, alloc["B"], 1e-12)
}

func TestDefinedWeighting(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 10),
		"B": constSlice(20, 10),
	})
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "root",
		Kind: strategy.KindAllocator,
		Weighting: &strategy.WeightingSpec{
			Mode:    strategy.WeightDefined,
			Weights: map[string]float64{"a": 3, "b": 1},
		},
		Children: map[string]*strategy.Node{
			"a": leaf("la", "A"),
			"b": leaf("lb", "B"),
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, alloc["A"], 1e-12)
	assert.InDelta(t, 0.25, alloc["B"], 1e-12)
}

func TestCappedWeighting(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(1, 10), "B": constSlice(1, 10), "C": constSlice(1, 10),
		"D": constSlice(1, 10), "E": constSlice(1, 10), "BIL": constSlice(1, 10),
	})

	children := map[string]*strategy.Node{
		"1a": leaf("la", "A"), "2b": leaf("lb", "B"), "3c": leaf("lc", "C"),
		"4d": leaf("ld", "D"), "5e": leaf("le", "E"),
	}

	t.Run("cap exceeds demand routes remainder to fallback", func(t *testing.T) {
		tree := &strategy.Tree{Root: &strategy.Node{
			ID:   "root",
			Kind: strategy.KindAllocator,
			Weighting: &strategy.WeightingSpec{
				Mode:           strategy.WeightCapped,
				CapPct:         0.1,
				FallbackTicker: "BIL",
			},
			Children: children,
		}}
		e := NewEvaluator(cache, tree)
		alloc, err := e.EvaluateDay(5)
		require.NoError(t, err)
		for _, ticker := range []string{"A", "B", "C", "D", "E"} {
			assert.InDelta(t, 0.1, alloc[ticker], 1e-12)
		}
		assert.InDelta(t, 0.5, alloc["BIL"], 1e-12)
		assert.InDelta(t, 1.0, alloc.Total(), 1e-12)
	})

	t.Run("cap binds in slot order", func(t *testing.T) {
		tree := &strategy.Tree{Root: &strategy.Node{
			ID:   "root",
			Kind: strategy.KindAllocator,
			Weighting: &strategy.WeightingSpec{
				Mode:   strategy.WeightCapped,
				CapPct: 0.3,
			},
			Children: children,
		}}
		e := NewEvaluator(cache, tree)
		alloc, err := e.EvaluateDay(5)
		require.NoError(t, err)
		// Slots fill alphabetically: 1a, 2b, 3c get 0.3, 0.3, 0.3;
		// 4d gets the residual 0.1, 5e nothing
		assert.InDelta(t, 0.3, alloc["A"], 1e-12)
		assert.InDelta(t, 0.3, alloc["B"], 1e-12)
		assert.InDelta(t, 0.3, alloc["C"], 1e-12)
		assert.InDelta(t, 0.1, alloc["D"], 1e-12)
		assert.Zero(t, alloc["E"])
	})
}

func TestInverseVolatilityWeighting(t *testing.T) {
	// A is twice as volatile as B; inverse-vol gives B twice the weight
	volatile := make([]float64, 40)
	calm := make([]float64, 40)
	for i := range volatile {
		base := 100.0
		if i%2 == 0 {
			volatile[i] = base * 1.02
			calm[i] = base * 1.01
		} else {
			volatile[i] = base * 0.98
			calm[i] = base * 0.99
		}
	}
	cache := newTestCache(t, map[string][]float64{"VOL": volatile, "CALM": calm})

	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "root",
		Kind: strategy.KindAllocator,
		Weighting: &strategy.WeightingSpec{
			Mode:      strategy.WeightInverseVol,
			VolWindow: 20,
		},
		Children: map[string]*strategy.Node{
			"a": leaf("la", "VOL"),
			"b": leaf("lb", "CALM"),
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(30)
	require.NoError(t, err)
	assert.Greater(t, alloc["CALM"], alloc["VOL"])
	assert.InDelta(t, 1.0, alloc.Total(), 1e-9)

	// Pro-rata flips the ordering
	tree.Root.Weighting.Mode = strategy.WeightProRataVol
	e = NewEvaluator(cache, tree)
	alloc, err = e.EvaluateDay(30)
	require.NoError(t, err)
	assert.Greater(t, alloc["VOL"], alloc["CALM"])
}

func TestVolatilityWeightingFallsBackToEqual(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 30),
		"B": constSlice(20, 30),
	})
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "root",
		Kind: strategy.KindAllocator,
		Weighting: &strategy.WeightingSpec{
			Mode:      strategy.WeightInverseVol,
			VolWindow: 20,
		},
		Children: map[string]*strategy.Node{
			"a": leaf("la", "A"),
			"b": leaf("lb", "B"),
		},
	}}
	e := NewEvaluator(cache, tree)

	// Day 5 has no full lookback window; flat prices later have zero
	// sigma. Both cases fall back to equal weighting.
	for _, day := range []int{5, 25} {
		alloc, err := e.EvaluateDay(day)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, alloc["A"], 1e-12, "day %d", day)
		assert.InDelta(t, 0.5, alloc["B"], 1e-12, "day %d", day)
	}
}

func TestConditionalRouting(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"UP":   {10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
		"SAFE": constSlice(50, 10),
	})
	threshold := 15.0
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "cond",
		Kind: strategy.KindConditional,
		Conditions: []strategy.ConditionLine{{
			ID:         "c1",
			Combinator: strategy.CombinatorStart,
			Ticker:     "UP",
			Metric:     series.MetricPrice,
			Comparator: strategy.CompGT,
			Threshold:  &threshold,
		}},
		Children: map[string]*strategy.Node{
			strategy.SlotThen: leaf("then", "UP"),
			strategy.SlotElse: leaf("else", "SAFE"),
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(2) // price 12, condition false
	require.NoError(t, err)
	assert.Equal(t, Allocation{"SAFE": 1.0}, alloc)

	alloc, err = e.EvaluateDay(8) // price 18, condition true
	require.NoError(t, err)
	assert.Equal(t, Allocation{"UP": 1.0}, alloc)
}

func TestConditionalUnknownGoesToCash(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{"X": constSlice(10, 30)})
	threshold := 5.0
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "cond",
		Kind: strategy.KindConditional,
		Conditions: []strategy.ConditionLine{{
			ID:         "c1",
			Combinator: strategy.CombinatorStart,
			Ticker:     "X",
			Metric:     series.MetricSMA,
			Window:     20,
			Comparator: strategy.CompGT,
			Threshold:  &threshold,
		}},
		Children: map[string]*strategy.Node{
			strategy.SlotThen: leaf("then", "X"),
			strategy.SlotElse: leaf("else", "X"),
		},
	}}
	e := NewEvaluator(cache, tree)

	// Day 5 lacks SMA(20) warm-up: neither branch is taken
	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.Zero(t, alloc.Total())

	alloc, err = e.EvaluateDay(25)
	require.NoError(t, err)
	assert.Equal(t, Allocation{"X": 1.0}, alloc)
}

func TestQuantifiedModes(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 10), // group A true vs threshold 5
		"B": constSlice(20, 10), // group B false vs threshold 25
		"C": constSlice(30, 10), // group C true vs threshold 25
		"R": constSlice(1, 10),
		"S": constSlice(1, 10),
	})

	groups := [][]strategy.ConditionLine{
		{priceLine("g1", strategy.CombinatorStart, "A", strategy.CompGT, 5)},  // true
		{priceLine("g2", strategy.CombinatorStart, "B", strategy.CompGT, 25)}, // false
		{priceLine("g3", strategy.CombinatorStart, "C", strategy.CompGT, 25)}, // true
	}

	build := func(mode strategy.QuantMode, count int) *Evaluator {
		tree := &strategy.Tree{Root: &strategy.Node{
			ID:   "quant",
			Kind: strategy.KindQuantified,
			Quantified: &strategy.QuantifiedSpec{
				Mode:   mode,
				Count:  count,
				Groups: groups,
			},
			Children: map[string]*strategy.Node{
				strategy.SlotThen: leaf("then", "R"),
				strategy.SlotElse: leaf("else", "S"),
			},
		}}
		return NewEvaluator(cache, tree)
	}

	tests := []struct {
		mode  strategy.QuantMode
		count int
		then  bool
	}{
		{strategy.QuantAny, 0, true},
		{strategy.QuantAll, 0, false},
		{strategy.QuantNone, 0, false},
		{strategy.QuantExactly, 2, true},
		{strategy.QuantExactly, 3, false},
		{strategy.QuantAtLeast, 2, true},
		{strategy.QuantAtLeast, 3, false},
		{strategy.QuantAtMost, 2, true},
		{strategy.QuantAtMost, 1, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			alloc, err := build(tt.mode, tt.count).EvaluateDay(5)
			require.NoError(t, err)
			want := "S"
			if tt.then {
				want = "R"
			}
			assert.Equal(t, Allocation{want: 1.0}, alloc)
		})
	}
}

func TestQuantifiedLadder(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 10),
		"B": constSlice(20, 10),
		"R0": constSlice(1, 10), "R1": constSlice(1, 10), "R2": constSlice(1, 10),
	})
	// Both groups true: two rungs up
	groups := [][]strategy.ConditionLine{
		{priceLine("g1", strategy.CombinatorStart, "A", strategy.CompGT, 5)},
		{priceLine("g2", strategy.CombinatorStart, "B", strategy.CompGT, 5)},
	}
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "ladder",
		Kind: strategy.KindQuantified,
		Quantified: &strategy.QuantifiedSpec{
			Mode:   strategy.QuantLadder,
			Groups: groups,
		},
		Children: map[string]*strategy.Node{
			strategy.SlotRung(0): leaf("r0", "R0"),
			strategy.SlotRung(1): leaf("r1", "R1"),
			strategy.SlotRung(2): leaf("r2", "R2"),
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.Equal(t, Allocation{"R2": 1.0}, alloc)
}

func TestQuantifiedUnknownGroupGoesToCash(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 30),
		"R": constSlice(1, 30),
		"S": constSlice(1, 30),
	})
	threshold := 5.0
	groups := [][]strategy.ConditionLine{
		{priceLine("g1", strategy.CombinatorStart, "A", strategy.CompGT, 5)},
		{{
			ID:         "g2",
			Combinator: strategy.CombinatorStart,
			Ticker:     "A",
			Metric:     series.MetricSMA,
			Window:     20,
			Comparator: strategy.CompGT,
			Threshold:  &threshold,
		}},
	}
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "quant",
		Kind: strategy.KindQuantified,
		Quantified: &strategy.QuantifiedSpec{
			Mode:   strategy.QuantAny,
			Groups: groups,
		},
		Children: map[string]*strategy.Node{
			strategy.SlotThen: leaf("then", "R"),
			strategy.SlotElse: leaf("else", "S"),
		},
	}}
	e := NewEvaluator(cache, tree)

	// One group true is enough for any, but the unknown second group
	// still forces cash
	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.Zero(t, alloc.Total())
}

func TestFilterTopN(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10},      // strong momentum
		"B": constSlice(100, 10),                  // flat
		"C": {10, 9, 8, 7, 6, 5, 4, 3, 2, 1},      // falling
	})
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:     "filter",
		Kind:   strategy.KindFilter,
		Filter: &strategy.FilterSpec{Metric: series.MetricMomentum, Window: 5, Count: 2},
		Children: map[string]*strategy.Node{
			"a": leaf("la", "A"),
			"b": leaf("lb", "B"),
			"c": leaf("lc", "C"),
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(8)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, alloc["A"], 1e-12)
	assert.InDelta(t, 0.5, alloc["B"], 1e-12)
	assert.Zero(t, alloc["C"])

	// Bottom-2 keeps the losers instead
	tree.Root.Filter.Bottom = true
	e = NewEvaluator(cache, tree)
	alloc, err = e.EvaluateDay(8)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, alloc["B"], 1e-12)
	assert.InDelta(t, 0.5, alloc["C"], 1e-12)
	assert.Zero(t, alloc["A"])
}

func TestLeafMatchIndicator(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{
		"A": constSlice(10, 10),
		"B": constSlice(20, 10),
	})
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "cond",
		Kind: strategy.KindConditional,
		Conditions: []strategy.ConditionLine{
			priceLine("c1", strategy.CombinatorStart, "A", strategy.CompGT, 15), // false
			priceLine("c2", strategy.CombinatorOr, "B", strategy.CompGT, 15),    // true
		},
		Children: map[string]*strategy.Node{
			strategy.SlotThen: {
				ID:   "match",
				Kind: strategy.KindLeafPosition,
				Leaf: &strategy.LeafSpec{MatchIndicator: true},
			},
		},
	}}
	e := NewEvaluator(cache, tree)

	alloc, err := e.EvaluateDay(5)
	require.NoError(t, err)
	assert.Equal(t, Allocation{"B": 1.0}, alloc)
}

func TestAltExitHysteresis(t *testing.T) {
	// Price dips below 90 on days 4-5 (exit), recovers above 110 on day 8
	closes := []float64{100, 100, 100, 100, 80, 80, 100, 100, 120, 120}
	cache := newTestCache(t, map[string][]float64{"X": closes})

	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "gate",
		Kind: strategy.KindAltExit,
		AltExit: &strategy.AltExitSpec{
			Exit:  []strategy.ConditionLine{priceLine("ex", strategy.CombinatorStart, "X", strategy.CompLT, 90)},
			Entry: []strategy.ConditionLine{priceLine("en", strategy.CombinatorStart, "X", strategy.CompGT, 110)},
		},
		Children: map[string]*strategy.Node{
			strategy.SlotNext: leaf("pos", "X"),
		},
	}}
	e := NewEvaluator(cache, tree)

	invested := make([]bool, len(closes))
	for day := range closes {
		alloc, err := e.EvaluateDay(day)
		require.NoError(t, err)
		invested[day] = alloc.Total() > 0
	}

	// In, out at the dip, stays out during the 100s, back in above 110
	assert.Equal(t, []bool{true, true, true, true, false, false, false, false, true, true}, invested)
}

func TestAltExitStateFrozenDuringProbes(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 80, 80, 100, 100, 120, 120}
	cache := newTestCache(t, map[string][]float64{"X": closes})

	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "gate",
		Kind: strategy.KindAltExit,
		AltExit: &strategy.AltExitSpec{
			Exit:  []strategy.ConditionLine{priceLine("ex", strategy.CombinatorStart, "X", strategy.CompLT, 90)},
			Entry: []strategy.ConditionLine{priceLine("en", strategy.CombinatorStart, "X", strategy.CompGT, 110)},
		},
		Children: map[string]*strategy.Node{
			strategy.SlotNext: leaf("pos", "X"),
		},
	}}
	e := NewEvaluator(cache, tree)

	// Probe the dip days: real state must not change
	e.probing = true
	for day := 3; day <= 6; day++ {
		_, err := e.EvaluateDay(day)
		require.NoError(t, err)
	}
	e.probing = false

	assert.False(t, e.altExited["gate"])
}

func TestScalingInterpolation(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{"X": constSlice(50, 10)})

	build := func(lo, hi, allocLo, allocHi float64) *Evaluator {
		tree := &strategy.Tree{Root: &strategy.Node{
			ID:   "scale",
			Kind: strategy.KindScaling,
			Scaling: &strategy.ScalingSpec{
				Ticker:      "X",
				Metric:      series.MetricPrice,
				ThresholdLo: lo,
				ThresholdHi: hi,
				AllocLo:     allocLo,
				AllocHi:     allocHi,
			},
			Children: map[string]*strategy.Node{
				strategy.SlotNext: leaf("pos", "X"),
			},
		}}
		return NewEvaluator(cache, tree)
	}

	// Price 50 sits midway between 0 and 100
	alloc, err := build(0, 100, 0, 1).EvaluateDay(5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, alloc["X"], 1e-12)

	// Below the low threshold clamps to AllocLo
	alloc, err = build(60, 100, 0.2, 1).EvaluateDay(5)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, alloc["X"], 1e-12)

	// Above the high threshold clamps to AllocHi
	alloc, err = build(0, 40, 0, 0.8).EvaluateDay(5)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, alloc["X"], 1e-12)
}

func TestEvaluateDayMissingTicker(t *testing.T) {
	cache := newTestCache(t, map[string][]float64{"A": constSlice(10, 10)})
	tree := &strategy.Tree{Root: &strategy.Node{
		ID:   "cond",
		Kind: strategy.KindConditional,
		Conditions: []strategy.ConditionLine{
			priceLine("c1", strategy.CombinatorStart, "MISSING", strategy.CompGT, 5),
		},
		Children: map[string]*strategy.Node{
			strategy.SlotThen: leaf("then", "A"),
		},
	}}
	e := NewEvaluator(cache, tree)

	_, err := e.EvaluateDay(5)
	assert.Error(t, err)
}
