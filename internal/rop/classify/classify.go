package classify

import (
	"ropforge/internal/logging"
	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/ir"
	"ropforge/internal/rop/regset"
)

// DefaultRounds is NUM_VALIDATIONS from spec.md §4.2: the number of
// independent random-seed emulation rounds a candidate must survive.
const DefaultRounds = 5

// Classifier turns a candidate byte window into zero or more classified
// gadgets, via repeated concrete emulation and cross-round intersection.
type Classifier struct {
	Arch   *arch.Arch
	Lifter ir.Lifter
	Rounds int
	Log    *logging.Logger
}

// New builds a Classifier using the default round count.
func New(a *arch.Arch, lifter ir.Lifter, log *logging.Logger) *Classifier {
	return &Classifier{Arch: a, Lifter: lifter, Rounds: DefaultRounds, Log: log}
}

// Classify attempts to classify the bytes at address, returning every
// variant the window consistently implements across all rounds. A nil,
// nil result means the candidate was discarded (lift failure, unsupported
// IR, or nothing survived the post-classification filter) — not an error:
// the Finder moves on to the next window.
func (c *Classifier) Classify(code []byte, address uint64) ([]*gadget.Gadget, error) {
	rounds := c.Rounds
	if rounds <= 0 {
		rounds = DefaultRounds
	}

	block, err := c.Lifter.Lift(code, address, c.Arch.WordBits)
	if err != nil {
		c.Log.Debugf("lift failure at %#x: %v", address, err)
		return nil, nil
	}

	var (
		candidates   map[string]fact
		stackOffset  int
		haveOffset   bool
		lastState    *evalState
	)

	for round := 0; round < rounds; round++ {
		seed := int64(address)*1000003 + int64(round)
		state := newEvalState(c.Arch, seed)

		if err := runBlock(state, block); err != nil {
			c.Log.Debugf("unsupported IR at %#x round %d: %v", address, round, err)
			return nil, nil
		}
		lastState = state

		so := stackOffsetOf(state, c.Arch)
		if !haveOffset {
			stackOffset = so
			haveOffset = true
		} else if so != stackOffset {
			c.Log.Debugf("stack offset disagreement at %#x: %d vs %d", address, stackOffset, so)
			return nil, nil
		}

		facts := enumerateFacts(state, c.Arch)
		if round == 0 {
			facts = filterAcceptableFacts(state, facts, c.Arch)
			if len(facts) == 0 {
				return nil, nil
			}
			candidates = factsToMap(facts)
		} else {
			candidates = intersectFacts(candidates, factsToMap(facts))
			if len(candidates) == 0 {
				return nil, nil
			}
		}
	}

	if len(candidates) == 0 || lastState == nil {
		return nil, nil
	}

	gadgets := c.buildGadgets(candidates, lastState, address, stackOffset)
	gadgets = postClassificationFilter(gadgets, c.Arch)

	var out []*gadget.Gadget
	for _, g := range gadgets {
		if err := g.Validate(); err != nil {
			c.Log.Debugf("rejected %s@%#x: %v", g.Variant, address, err)
			continue
		}
		if err := g.Invariants(c.Arch); err != nil {
			c.Log.Debugf("rejected %s@%#x: %v", g.Variant, address, err)
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func stackOffsetOf(s *evalState, a *arch.Arch) int {
	vOut, wroteSP := s.outputRegs[a.SP]
	vIn, readSP := s.inputRegs[a.SP]
	if !wroteSP || !readSP {
		return 0
	}
	return int(int64(vOut) - int64(vIn))
}

// clobbersOf is every register the round wrote other than output, IP, SP
// and ignored registers (spec.md §4.2 step 5).
func clobbersOf(s *evalState, a *arch.Arch, output regset.ID, hasOutput bool) regset.Set {
	var set regset.Set
	for id := range s.outputRegs {
		if hasOutput && id == output {
			continue
		}
		if id == a.IP || id == a.SP || a.IsIgnored(id) {
			continue
		}
		set = set.Add(id)
	}
	return set
}

func (c *Classifier) buildGadgets(candidates map[string]fact, s *evalState, address uint64, stackOffset int) []*gadget.Gadget {
	var out []*gadget.Gadget
	for _, f := range candidates {
		out = append(out, &gadget.Gadget{
			Variant:     f.variant,
			Address:     address,
			Inputs:      f.inputs,
			Output:      f.output,
			HasOutput:   f.hasOut,
			Params:      f.params,
			Clobbers:    clobbersOf(s, c.Arch, f.output, f.hasOut),
			StackOffset: stackOffset,
		})
	}
	return out
}

// postClassificationFilter applies spec.md §4.2 steps 1-3: drop stray
// IP-output candidates that aren't Jump, require a terminating IP-consuming
// companion for everything else, and upgrade a qualifying LoadMem to
// LoadMemJump.
func postClassificationFilter(gadgets []*gadget.Gadget, a *arch.Arch) []*gadget.Gadget {
	var ipFromReg regset.ID
	haveIPFromReg := false
	ipInStackOffset := -1

	for _, g := range gadgets {
		if g.Variant == gadget.MoveReg && g.HasOutput && g.Output == a.IP {
			ipFromReg = g.Inputs[0]
			haveIPFromReg = true
		}
		if g.Variant == gadget.LoadMem && g.HasOutput && g.Output == a.IP &&
			len(g.Inputs) == 1 && g.Inputs[0] == a.SP && len(g.Params) == 1 {
			ipInStackOffset = int(g.Params[0])
		}
	}

	var out []*gadget.Gadget
	for _, g := range gadgets {
		if g.HasOutput && g.Output == a.IP && g.Variant != gadget.Jump {
			// Step 1: these exist only to drive steps 2-3 above; they are
			// not themselves catalogued gadgets.
			continue
		}
		if g.Variant == gadget.Jump {
			out = append(out, g)
			continue
		}

		// Step 2: require a terminating companion.
		switch {
		case ipInStackOffset >= 0:
			g.IPInStackOffset = ipInStackOffset
			g.HasIPInStackOffset = true
		case haveIPFromReg:
			// Step 3: upgrade LoadMem -> LoadMemJump when its own
			// displacement lands within the consumed frame.
			if g.Variant == gadget.LoadMem && len(g.Params) == 1 && int(g.Params[0]) < g.StackOffset {
				g.Variant = gadget.LoadMemJump
				g.Inputs = append(g.Inputs, ipFromReg)
			}
			g.HasIPInStackOffset = false
		default:
			// No terminating companion: this window never reaches a
			// recognisable control-flow transfer, discard.
			continue
		}
		out = append(out, g)
	}
	return out
}
