// Package catalogue is the searchable, typed store of classified gadgets
// the Scheduler queries to assemble chains.
//
// Grounded on pyrop/rop_compiler/gadget.py's GadgetList (insert/dedup by
// identity, find/find_load_stack/find_load_const with complexity
// ordering), and on the teacher's convention of a single mutex-guarded
// store (internal/engine/wazevo/backend/regalloc keeps allocator state on
// one struct rather than scattering locks) — insertion is the only
// concurrent-write path (spec.md §5), so one mutex covers it.
package catalogue

import (
	"sync"

	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/regset"
)

// Catalogue is an append-only, deduplicated store of classified gadgets.
type Catalogue struct {
	mu    sync.Mutex
	byKey map[gadget.Identity]*gadget.Gadget
	order []*gadget.Gadget
}

// New returns an empty Catalogue.
func New() *Catalogue {
	return &Catalogue{byKey: map[gadget.Identity]*gadget.Gadget{}}
}

// Insert adds g unless a gadget with the same Identity is already present.
// It reports whether g was newly inserted.
func (c *Catalogue) Insert(g *gadget.Gadget) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := g.Identity()
	if _, exists := c.byKey[id]; exists {
		return false
	}
	c.byKey[id] = g
	c.order = append(c.order, g)
	return true
}

// Len returns the number of distinct catalogued gadgets.
func (c *Catalogue) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// ForEach calls f for every catalogued gadget in insertion order. The
// scheduler runs strictly after classification completes (spec.md §5), so
// ForEach is called without concurrent Insert calls in flight.
func (c *Catalogue) ForEach(f func(*gadget.Gadget)) {
	for _, g := range c.order {
		f(g)
	}
}

// ForEachOf calls f for every catalogued gadget of the given variant, in
// insertion order.
func (c *Catalogue) ForEachOf(variant gadget.Variant, f func(*gadget.Gadget)) {
	for _, g := range c.order {
		if g.Variant == variant {
			f(g)
		}
	}
}

// Filter is an element-wise optional match over a gadget's Inputs: a nil
// entry matches any register id at that position; a non-nil entry must
// equal it exactly. A Filter shorter than the candidate's Inputs only
// constrains the leading positions.
type Filter []*regset.ID

func (f Filter) matches(inputs []regset.ID) bool {
	if len(f) > len(inputs) {
		return false
	}
	for i, want := range f {
		if want != nil && inputs[i] != *want {
			return false
		}
	}
	return true
}

// better reports whether candidate beats current under the catalogue's
// complexity + lowest-address tie-break ordering (spec.md §4.3, with the
// source's find_load_stack_gadget `<` bug treated as a bug per §9: every
// query here always prefers strictly lower complexity).
func better(candidate, current *gadget.Gadget) bool {
	if current == nil {
		return true
	}
	cc, bc := candidate.Complexity(), current.Complexity()
	if cc != bc {
		return cc < bc
	}
	return candidate.Address < current.Address
}

// Find returns the lowest-complexity gadget of variant matching
// inputsFilter and outputFilter (either may be nil/empty to mean "no
// constraint") whose Clobbers is disjoint from noClobber.
func (c *Catalogue) Find(variant gadget.Variant, inputsFilter Filter, outputFilter *regset.ID, noClobber regset.Set) *gadget.Gadget {
	var best *gadget.Gadget
	c.ForEachOf(variant, func(g *gadget.Gadget) {
		if len(inputsFilter) > 0 && !inputsFilter.matches(g.Inputs) {
			return
		}
		if outputFilter != nil && (!g.HasOutput || g.Output != *outputFilter) {
			return
		}
		if g.Clobbers.Intersects(noClobber) {
			return
		}
		if better(g, best) {
			best = g
		}
	})
	return best
}

// FindLoadStack returns the best LoadMem gadget whose sole base register is
// sp and whose output is reg, at any stack displacement — the
// "pop reg; ret"-shaped primitive the scheduler uses for argument setup.
func (c *Catalogue) FindLoadStack(sp regset.ID, reg regset.ID, noClobber regset.Set) *gadget.Gadget {
	var best *gadget.Gadget
	c.ForEachOf(gadget.LoadMem, func(g *gadget.Gadget) {
		if len(g.Inputs) != 1 || g.Inputs[0] != sp {
			return
		}
		if !g.HasOutput || g.Output != reg {
			return
		}
		if g.Clobbers.Intersects(noClobber) {
			return
		}
		if better(g, best) {
			best = g
		}
	})
	return best
}

// FindLoadConst returns the best LoadConst gadget that writes const into
// reg.
func (c *Catalogue) FindLoadConst(reg regset.ID, constValue int64, noClobber regset.Set) *gadget.Gadget {
	var best *gadget.Gadget
	c.ForEachOf(gadget.LoadConst, func(g *gadget.Gadget) {
		if !g.HasOutput || g.Output != reg {
			return
		}
		if len(g.Params) != 1 || g.Params[0] != constValue {
			return
		}
		if g.Clobbers.Intersects(noClobber) {
			return
		}
		if better(g, best) {
			best = g
		}
	})
	return best
}
