package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Belfering/QuantNexus-sub009/pkg/series"
)

func ptrFloat(v float64) *float64 { return &v }

func simpleLine(id string) ConditionLine {
	return ConditionLine{
		ID:         id,
		Combinator: CombinatorStart,
		Ticker:     "SPY",
		Metric:     series.MetricRSI,
		Window:     14,
		Comparator: CompGT,
		Threshold:  ptrFloat(70),
	}
}

func validTree() *Tree {
	return &Tree{Root: &Node{
		ID:         "cond",
		Kind:       KindConditional,
		Conditions: []ConditionLine{simpleLine("c1")},
		Children: map[string]*Node{
			SlotThen: {ID: "then", Kind: KindLeafPosition, Leaf: &LeafSpec{Ticker: "SPY"}},
			SlotElse: {ID: "else", Kind: KindLeafPosition, Leaf: &LeafSpec{Ticker: "AGG"}},
		},
	}}
}

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	require.NoError(t, validTree().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Tree)
		want   string
	}{
		{
			name:   "missing root",
			mutate: func(tr *Tree) { tr.Root = nil },
			want:   "missing root",
		},
		{
			name:   "missing node id",
			mutate: func(tr *Tree) { tr.Root.ID = "" },
			want:   "missing id",
		},
		{
			name: "duplicate node id",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotElse].ID = "then"
			},
			want: "duplicate node id",
		},
		{
			name:   "unresolved reference",
			mutate: func(tr *Tree) { tr.Root.Children[SlotThen].Ref = "tpl" },
			want:   "unresolved template reference",
		},
		{
			name:   "conditional without conditions",
			mutate: func(tr *Tree) { tr.Root.Conditions = nil },
			want:   "requires conditions",
		},
		{
			name: "condition missing threshold",
			mutate: func(tr *Tree) {
				tr.Root.Conditions[0].Threshold = nil
			},
			want: "needs a threshold",
		},
		{
			name: "condition threshold and reference",
			mutate: func(tr *Tree) {
				tr.Root.Conditions[0].RightTicker = "QQQ"
				tr.Root.Conditions[0].RightMetric = series.MetricPrice
			},
			want: "mutually exclusive",
		},
		{
			name: "unknown kind",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen].Kind = "portal"
			},
			want: "unknown kind",
		},
		{
			name: "leaf with conflicting modes",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen].Leaf = &LeafSpec{Ticker: "SPY", MatchIndicator: true}
			},
			want: "mutually exclusive",
		},
		{
			name: "negative defined weight",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen] = &Node{
					ID:   "alloc",
					Kind: KindAllocator,
					Weighting: &WeightingSpec{
						Mode:    WeightDefined,
						Weights: map[string]float64{"a": -1},
					},
				}
			},
			want: "negative weight",
		},
		{
			name: "capped weighting out of range",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen] = &Node{
					ID:        "alloc",
					Kind:      KindAllocator,
					Weighting: &WeightingSpec{Mode: WeightCapped, CapPct: 1.5},
				}
			},
			want: "capPct",
		},
		{
			name: "filter without count",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen] = &Node{
					ID:     "filter",
					Kind:   KindFilter,
					Filter: &FilterSpec{Metric: series.MetricMomentum, Window: 20},
				}
			},
			want: "filter count",
		},
		{
			name: "quantified count out of range",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen] = &Node{
					ID:   "quant",
					Kind: KindQuantified,
					Quantified: &QuantifiedSpec{
						Mode:   QuantAtLeast,
						Count:  5,
						Groups: [][]ConditionLine{{simpleLine("q1")}},
					},
				}
			},
			want: "out of range",
		},
		{
			name: "altExit missing exit",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen] = &Node{
					ID:      "gate",
					Kind:    KindAltExit,
					AltExit: &AltExitSpec{Entry: []ConditionLine{simpleLine("en")}},
				}
			},
			want: "altExit requires",
		},
		{
			name: "scaling with equal thresholds",
			mutate: func(tr *Tree) {
				tr.Root.Children[SlotThen] = &Node{
					ID:   "scale",
					Kind: KindScaling,
					Scaling: &ScalingSpec{
						Ticker: "SPY", Metric: series.MetricRSI, Window: 14,
						ThresholdLo: 50, ThresholdHi: 50,
					},
				}
			},
			want: "thresholds must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := validTree()
			tt.mutate(tree)
			err := tree.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTree)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateDepthBound(t *testing.T) {
	root := &Node{ID: "n0", Kind: KindAllocator}
	cur := root
	for i := 1; i <= maxDepth+1; i++ {
		child := &Node{ID: fmt.Sprintf("n%d", i), Kind: KindAllocator}
		cur.Children = map[string]*Node{SlotNext: child}
		cur = child
	}
	err := (&Tree{Root: root}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum depth")
}
