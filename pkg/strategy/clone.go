package strategy

import (
	"fmt"

	"github.com/google/uuid"
)

// ============================================================================
// CLONING
// ============================================================================

// Clone deep-copies the tree. Every node and condition id is preserved,
// so downstream matching by id keeps working on the copy. The branch
// generator clones before applying each combination; the original tree
// is never mutated.
func (t *Tree) Clone() *Tree {
	return &Tree{Root: cloneNode(t.Root, nil)}
}

// CloneRegenerate deep-copies the tree with freshly generated node and
// condition ids and returns the remap table (old id -> new id). Lookups
// on regenerated clones go through the table exactly; no substring or
// suffix matching is ever applied.
func (t *Tree) CloneRegenerate() (*Tree, map[string]string) {
	remap := make(map[string]string)
	return &Tree{Root: cloneNode(t.Root, remap)}, remap
}

func cloneNode(n *Node, remap map[string]string) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		ID:   remapID(n.ID, remap),
		Kind: n.Kind,
		Ref:  n.Ref,
	}
	if n.Children != nil {
		out.Children = make(map[string]*Node, len(n.Children))
		for slot, child := range n.Children {
			out.Children[slot] = cloneNode(child, remap)
		}
	}
	out.Weighting = cloneWeighting(n.Weighting)
	out.ThenWeighting = cloneWeighting(n.ThenWeighting)
	out.ElseWeighting = cloneWeighting(n.ElseWeighting)
	out.Conditions = cloneLines(n.Conditions, remap)
	if n.Quantified != nil {
		q := &QuantifiedSpec{Mode: n.Quantified.Mode, Count: n.Quantified.Count}
		for _, g := range n.Quantified.Groups {
			q.Groups = append(q.Groups, cloneLines(g, remap))
		}
		out.Quantified = q
	}
	if n.Filter != nil {
		f := *n.Filter
		out.Filter = &f
	}
	if n.Leaf != nil {
		l := *n.Leaf
		out.Leaf = &l
	}
	if n.AltExit != nil {
		out.AltExit = &AltExitSpec{
			Entry: cloneLines(n.AltExit.Entry, remap),
			Exit:  cloneLines(n.AltExit.Exit, remap),
		}
	}
	if n.Scaling != nil {
		s := *n.Scaling
		out.Scaling = &s
	}
	return out
}

func cloneWeighting(w *WeightingSpec) *WeightingSpec {
	if w == nil {
		return nil
	}
	out := *w
	if w.Weights != nil {
		out.Weights = make(map[string]float64, len(w.Weights))
		for slot, weight := range w.Weights {
			out.Weights[slot] = weight
		}
	}
	return &out
}

func cloneLines(lines []ConditionLine, remap map[string]string) []ConditionLine {
	if lines == nil {
		return nil
	}
	out := make([]ConditionLine, len(lines))
	for i, l := range lines {
		c := l
		c.ID = remapID(l.ID, remap)
		if l.Threshold != nil {
			v := *l.Threshold
			c.Threshold = &v
		}
		if l.From != nil {
			v := *l.From
			c.From = &v
		}
		if l.Until != nil {
			v := *l.Until
			c.Until = &v
		}
		out[i] = c
	}
	return out
}

func remapID(id string, remap map[string]string) string {
	if remap == nil {
		return id
	}
	fresh := uuid.NewString()
	remap[id] = fresh
	return fresh
}

// ============================================================================
// CONDITION LOOKUP
// ============================================================================

// FindCondition returns a pointer to the condition with the given id,
// searching conditional chains, quantified groups and altExit lists.
// Matching is exact by id.
func (t *Tree) FindCondition(id string) *ConditionLine {
	var found *ConditionLine
	t.Root.Walk(func(n *Node) {
		if found != nil {
			return
		}
		if c := findLine(n.Conditions, id); c != nil {
			found = c
			return
		}
		if n.Quantified != nil {
			for gi := range n.Quantified.Groups {
				if c := findLine(n.Quantified.Groups[gi], id); c != nil {
					found = c
					return
				}
			}
		}
		if n.AltExit != nil {
			if c := findLine(n.AltExit.Entry, id); c != nil {
				found = c
				return
			}
			if c := findLine(n.AltExit.Exit, id); c != nil {
				found = c
				return
			}
		}
	})
	return found
}

func findLine(lines []ConditionLine, id string) *ConditionLine {
	for i := range lines {
		if lines[i].ID == id {
			return &lines[i]
		}
	}
	return nil
}

// ============================================================================
// TEMPLATE RESOLUTION
// ============================================================================

// TemplateSet maps template names to shareable sub-trees. References
// are resolved into independent clones with regenerated ids, so two
// references to the same template never alias mutable state.
type TemplateSet map[string]*Node

// ResolveReferences replaces every ref node in the tree with a fresh
// clone of the named template. Must run before Validate.
func (t *Tree) ResolveReferences(templates TemplateSet) error {
	resolved, err := resolveNode(t.Root, templates, 0)
	if err != nil {
		return err
	}
	t.Root = resolved
	return nil
}

func resolveNode(n *Node, templates TemplateSet, depth int) (*Node, error) {
	if n == nil {
		return nil, nil
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("template nesting exceeds maximum depth %d", maxDepth)
	}
	if n.Ref != "" {
		tpl, ok := templates[n.Ref]
		if !ok {
			return nil, fmt.Errorf("node %s: unknown template %q", n.ID, n.Ref)
		}
		remap := make(map[string]string)
		clone := cloneNode(tpl, remap)
		// A resolved reference may itself contain references
		return resolveNode(clone, templates, depth+1)
	}
	for slot, child := range n.Children {
		resolved, err := resolveNode(child, templates, depth+1)
		if err != nil {
			return nil, err
		}
		n.Children[slot] = resolved
	}
	return n, nil
}
