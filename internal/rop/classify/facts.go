package classify

import (
	"fmt"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/regset"
)

// fact is one candidate classification: a gadget shape the current round's
// observed input/output relation could witness. Facts are pure data so
// cross-round intersection can compare them structurally (spec.md §9).
type fact struct {
	variant gadget.Variant
	inputs  []regset.ID
	output  regset.ID
	hasOut  bool
	params  []int64
}

func (f fact) key() string {
	s := fmt.Sprintf("%d|%v|%t:%d|", f.variant, f.inputs, f.hasOut, f.output)
	for _, p := range f.params {
		s += fmt.Sprintf("%d,", p)
	}
	return s
}

type arithOp struct {
	variantReg, variantLoad, variantStore gadget.Variant
	apply                                 func(a, b uint64) uint64
}

func arithOps(mask uint64) []arithOp {
	return []arithOp{
		{gadget.AddReg, gadget.LoadAdd, gadget.StoreAdd, func(a, b uint64) uint64 { return (a + b) & mask }},
		{gadget.SubReg, gadget.LoadSub, gadget.StoreSub, func(a, b uint64) uint64 { return (a - b) & mask }},
		{gadget.MulReg, gadget.LoadMul, gadget.StoreMul, func(a, b uint64) uint64 { return (a * b) & mask }},
		{gadget.AndReg, gadget.LoadAnd, gadget.StoreAnd, func(a, b uint64) uint64 { return (a & b) & mask }},
		{gadget.OrReg, gadget.LoadOr, gadget.StoreOr, func(a, b uint64) uint64 { return (a | b) & mask }},
		{gadget.XorReg, gadget.LoadXor, gadget.StoreXor, func(a, b uint64) uint64 { return (a ^ b) & mask }},
	}
}

// enumerateFacts applies spec.md §4.2 step 4 over one round's final state.
func enumerateFacts(s *evalState, a *arch.Arch) []fact {
	var facts []fact
	ops := arithOps(s.wordMask)

	for o, vO := range s.outputRegs {
		if a.IsIgnored(o) {
			continue
		}
		// 1. LoadConst
		facts = append(facts, fact{variant: gadget.LoadConst, output: o, hasOut: true, params: []int64{int64(vO)}})

		// 2/3. MoveReg / Jump
		for i, vI := range s.inputRegs {
			if vO == vI {
				facts = append(facts, fact{variant: gadget.MoveReg, inputs: []regset.ID{i}, output: o, hasOut: true})
			}
			if o == a.IP {
				facts = append(facts, fact{variant: gadget.Jump, inputs: []regset.ID{i}, output: o, hasOut: true,
					params: []int64{int64(vO) - int64(vI)}})
			}
		}

		// 4. Register arithmetic: the accumulator I shares an id with O.
		if vAcc, ok := s.inputRegs[o]; ok {
			for j, vJ := range s.inputRegs {
				if j == o {
					continue
				}
				for _, op := range ops {
					if vO == op.apply(vAcc, vJ) {
						facts = append(facts, fact{variant: op.variantReg, inputs: []regset.ID{o, j}, output: o, hasOut: true})
					}
				}
			}
		}

		// 5. LoadMem / load-arithmetic from every read memory cell.
		for _, addr := range s.readOrder {
			vm := s.inputMem[addr]
			if vO == vm {
				for i, vI := range s.inputRegs {
					disp := int64(addr) - int64(vI)
					facts = append(facts, fact{variant: gadget.LoadMem, inputs: []regset.ID{i}, output: o, hasOut: true,
						params: []int64{disp}})
				}
			}
			if vAcc, ok := s.inputRegs[o]; ok {
				for base, vBase := range s.inputRegs {
					disp := int64(addr) - int64(vBase)
					for _, op := range ops {
						if vO == op.apply(vAcc, vm) {
							facts = append(facts, fact{variant: op.variantLoad, inputs: []regset.ID{o, base}, output: o, hasOut: true,
								params: []int64{disp}})
						}
					}
				}
			}
		}
	}

	// 6. StoreMem / store-arithmetic from every written memory cell.
	for _, addr := range s.writeOrder {
		v := s.outputMem[addr]
		for i, vI := range s.inputRegs {
			if v != vI {
				continue
			}
			for base, vBase := range s.inputRegs {
				disp := int64(addr) - int64(vBase)
				facts = append(facts, fact{variant: gadget.StoreMem, inputs: []regset.ID{base, i}, params: []int64{disp}})
			}
		}
		if vm, wasRead := s.inputMem[addr]; wasRead {
			for val, vVal := range s.inputRegs {
				for base, vBase := range s.inputRegs {
					disp := int64(addr) - int64(vBase)
					for _, op := range ops {
						if v == op.apply(vm, vVal) {
							facts = append(facts, fact{variant: op.variantStore, inputs: []regset.ID{base, val}, params: []int64{disp}})
						}
					}
				}
			}
		}
	}

	return facts
}

func factsToMap(facts []fact) map[string]fact {
	m := make(map[string]fact, len(facts))
	for _, f := range facts {
		m[f.key()] = f
	}
	return m
}

func intersectFacts(a, b map[string]fact) map[string]fact {
	out := make(map[string]fact, len(a))
	for k, f := range a {
		if _, ok := b[k]; ok {
			out[k] = f
		}
	}
	return out
}

// explainsAddr reports whether f's own address formula, evaluated against
// s's register values, accounts for addr. Facts with no memory-access
// semantics of their own (LoadConst, MoveReg, Jump, register arithmetic)
// never explain an address — they have no formula to check it against.
func (f fact) explainsAddr(addr uint64, s *evalState) bool {
	var baseReg regset.ID
	switch {
	case f.variant == gadget.LoadMem && len(f.inputs) == 1 && len(f.params) == 1:
		baseReg = f.inputs[0]
	case f.variant.IsLoadArithmetic() && len(f.inputs) == 2 && len(f.params) == 1:
		baseReg = f.inputs[1]
	case f.variant == gadget.StoreMem && len(f.inputs) == 2 && len(f.params) == 1:
		baseReg = f.inputs[0]
	case f.variant.IsStoreArithmetic() && len(f.inputs) == 2 && len(f.params) == 1:
		baseReg = f.inputs[0]
	default:
		return false
	}
	vBase, ok := s.inputRegs[baseReg]
	return ok && addr == uint64(int64(vBase)+f.params[0])
}

// acceptableMemoryAccess implements the round-1 filter table in spec.md
// §4.2, gated per candidate: f survives only if every memory read and write
// this round is either explained by f's own address formula, or falls
// within a stack frame's worth of bytes around the input stack pointer
// (incidental spill/fill traffic) — matching classifier.py's per-candidate
// gate rather than accepting a candidate because some other candidate's
// formula happened to explain an access.
func acceptableMemoryAccess(s *evalState, f fact, a *arch.Arch) bool {
	spVal, spKnown := s.inputRegs[a.SP]

	nearStack := func(addr uint64) bool {
		if !spKnown {
			return false
		}
		d := int64(addr) - int64(spVal)
		return d > -4096 && d < 4096
	}

	for addr := range s.inputMem {
		if !f.explainsAddr(addr, s) && !nearStack(addr) {
			return false
		}
	}
	for addr := range s.outputMem {
		if !f.explainsAddr(addr, s) && !nearStack(addr) {
			return false
		}
	}
	return true
}

// filterAcceptableFacts keeps only the facts from a round-1 batch that pass
// acceptableMemoryAccess individually.
func filterAcceptableFacts(s *evalState, facts []fact, a *arch.Arch) []fact {
	var kept []fact
	for _, f := range facts {
		if acceptableMemoryAccess(s, f, a) {
			kept = append(kept, f)
		}
	}
	return kept
}
