package validator

import (
	"fmt"
	"math/rand"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/ir"
	"ropforge/internal/rop/regset"
)

// replayState is an independent emulation engine for the Validator's
// cross-check, deliberately not shared with classify.evalState: the source
// tool keeps GadgetClassifier's EvaluateState and the validator's
// PyvexToZ3Converter as two separate classes with two separate evaluation
// strategies (concrete sampling vs. symbolic encoding), and this module
// preserves that separation even though both are, in the absence of a real
// SMT backend, concrete-sampling engines underneath.
type replayState struct {
	arch *arch.Arch
	rng  *rand.Rand

	inputRegs, outputRegs map[regset.ID]uint64
	inputMem, outputMem   map[uint64]uint64
	tmps                  map[uint32]uint64
	wordMask              uint64
}

func newReplayState(a *arch.Arch, seed int64) *replayState {
	mask := uint64(1)<<uint(a.WordBits) - 1
	if a.WordBits >= 64 {
		mask = ^uint64(0)
	}
	return &replayState{
		arch: a, rng: rand.New(rand.NewSource(seed)),
		inputRegs: map[regset.ID]uint64{}, outputRegs: map[regset.ID]uint64{},
		inputMem: map[uint64]uint64{}, outputMem: map[uint64]uint64{},
		tmps: map[uint32]uint64{}, wordMask: mask,
	}
}

func (s *replayState) randomValue() uint64 {
	return uint64(s.rng.Int63()) & s.wordMask
}

func (s *replayState) readReg(id regset.ID) uint64 {
	if v, ok := s.outputRegs[id]; ok {
		return v
	}
	if v, ok := s.inputRegs[id]; ok {
		return v
	}
	v := s.randomValue()
	s.inputRegs[id] = v
	return v
}

func (s *replayState) writeReg(id regset.ID, v uint64) { s.outputRegs[id] = v & s.wordMask }

func (s *replayState) readMem(addr uint64) uint64 {
	if v, ok := s.outputMem[addr]; ok {
		return v
	}
	if v, ok := s.inputMem[addr]; ok {
		return v
	}
	v := s.randomValue()
	s.inputMem[addr] = v
	return v
}

func (s *replayState) writeMem(addr, v uint64) { s.outputMem[addr] = v & s.wordMask }

func runBlock(s *replayState, block *ir.Block) error {
	for _, st := range block.Statements {
		if err := runStmt(s, st); err != nil {
			return err
		}
	}
	return nil
}

func runStmt(s *replayState, st ir.Stmt) error {
	switch st.Tag {
	case ir.IMark, ir.NoOp, ir.AbiHint, ir.Exit:
		return nil
	case ir.WrTmp:
		v, err := evalExpr(s, st.Data)
		if err != nil {
			return err
		}
		s.tmps[st.Tmp] = v
		return nil
	case ir.Put:
		v, err := evalExpr(s, st.Data)
		if err != nil {
			return err
		}
		s.writeReg(st.Offset, v)
		return nil
	case ir.Store:
		addr, err := evalExpr(s, st.Addr)
		if err != nil {
			return err
		}
		v, err := evalExpr(s, st.Data)
		if err != nil {
			return err
		}
		s.writeMem(addr, v)
		return nil
	default:
		return fmt.Errorf("unsupported IR statement tag %s", st.Tag)
	}
}

func evalExpr(s *replayState, e *ir.Expr) (uint64, error) {
	if e == nil {
		return 0, fmt.Errorf("unsupported IR: nil expression")
	}
	switch e.Tag {
	case ir.Get:
		return s.readReg(e.Offset), nil
	case ir.RdTmp:
		v, ok := s.tmps[e.Tmp]
		if !ok {
			return 0, fmt.Errorf("unsupported IR: read of undefined tmp %d", e.Tmp)
		}
		return v, nil
	case ir.Load:
		addr, err := evalExpr(s, e.Addr)
		if err != nil {
			return 0, err
		}
		return s.readMem(addr), nil
	case ir.Const:
		if e.ConstSize <= 0 || e.ConstSize >= 64 {
			return e.ConstValue, nil
		}
		return e.ConstValue & (uint64(1)<<uint(e.ConstSize) - 1), nil
	case ir.Unop:
		if len(e.Args) != 1 {
			return 0, fmt.Errorf("unsupported IR: Unop arity")
		}
		a, err := evalExpr(s, e.Args[0])
		if err != nil {
			return 0, err
		}
		return applyUnop(e.Op, a, s.wordMask)
	case ir.Binop:
		if len(e.Args) != 2 {
			return 0, fmt.Errorf("unsupported IR: Binop arity")
		}
		a, err := evalExpr(s, e.Args[0])
		if err != nil {
			return 0, err
		}
		b, err := evalExpr(s, e.Args[1])
		if err != nil {
			return 0, err
		}
		return applyBinop(e.Op, a, b, s.wordMask)
	default:
		return 0, fmt.Errorf("unsupported IR expression tag %s", e.Tag)
	}
}

func applyUnop(op ir.Op, a uint64, wordMask uint64) (uint64, error) {
	switch op {
	case ir.OpTo32, ir.Op32Uto64:
		return a & 0xFFFFFFFF, nil
	case ir.Op8Uto64:
		return a & 0xFF, nil
	case ir.Op32Sto64:
		return uint64(int64(int32(a&0xFFFFFFFF))) & wordMask, nil
	default:
		return 0, fmt.Errorf("unsupported IR: unop %s", op)
	}
}

func applyBinop(op ir.Op, a, b, wordMask uint64) (uint64, error) {
	switch op {
	case ir.OpAnd64, ir.OpAnd32:
		return (a & b) & wordMask, nil
	case ir.OpXor64, ir.OpXor32:
		return (a ^ b) & wordMask, nil
	case ir.OpAdd64, ir.OpAdd32, ir.OpAdd8:
		return (a + b) & wordMask, nil
	case ir.OpSub64, ir.OpSub32:
		return (a - b) & wordMask, nil
	case ir.OpShl64, ir.OpShl32:
		return (a << (b & 63)) & wordMask, nil
	case ir.OpCmpEQ64, ir.OpCmpEQ32:
		if a == b {
			return 1, nil
		}
		return 0, nil
	case ir.OpCmpNE64, ir.OpCmpNE32:
		if a != b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported IR: binop %s", op)
	}
}

// arithApply evaluates the register/load/store-arithmetic family's shared
// op table (spec.md §3), regardless of which of the three forms v is.
func arithApply(v gadget.Variant, a, b, mask uint64) (uint64, bool) {
	switch v {
	case gadget.AddReg, gadget.LoadAdd, gadget.StoreAdd:
		return (a + b) & mask, true
	case gadget.SubReg, gadget.LoadSub, gadget.StoreSub:
		return (a - b) & mask, true
	case gadget.MulReg, gadget.LoadMul, gadget.StoreMul:
		return (a * b) & mask, true
	case gadget.AndReg, gadget.LoadAnd, gadget.StoreAnd:
		return (a & b) & mask, true
	case gadget.OrReg, gadget.LoadOr, gadget.StoreOr:
		return (a | b) & mask, true
	case gadget.XorReg, gadget.LoadXor, gadget.StoreXor:
		return (a ^ b) & mask, true
	default:
		return 0, false
	}
}

// expectedOutput computes what g claims its Output register holds, as a
// pure function of st's (possibly freshly sampled) input registers and
// memory — independent of whether the block's real execution actually
// produced that value. Comparing this against st.outputRegs[g.Output]
// (what replay actually computed) is the cross-check.
func expectedOutput(g *gadget.Gadget, st *replayState) (uint64, bool) {
	switch g.Variant {
	case gadget.LoadConst:
		if len(g.Params) != 1 {
			return 0, false
		}
		return uint64(g.Params[0]) & st.wordMask, true
	case gadget.MoveReg:
		if len(g.Inputs) != 1 {
			return 0, false
		}
		return st.readReg(g.Inputs[0]), true
	case gadget.LoadMem, gadget.LoadMemJump:
		if len(g.Inputs) < 1 || len(g.Params) != 1 {
			return 0, false
		}
		addr := uint64(int64(st.readReg(g.Inputs[0])) + g.Params[0])
		return st.readMem(addr), true
	case gadget.Jump:
		if len(g.Inputs) != 1 || len(g.Params) != 1 {
			return 0, false
		}
		return uint64(int64(st.readReg(g.Inputs[0]))+g.Params[0]) & st.wordMask, true
	default:
		if g.Variant.IsRegisterArithmetic() {
			if len(g.Inputs) != 2 {
				return 0, false
			}
			v, ok := arithApply(g.Variant, st.readReg(g.Inputs[0]), st.readReg(g.Inputs[1]), st.wordMask)
			return v, ok
		}
		if g.Variant.IsLoadArithmetic() {
			if len(g.Inputs) != 2 || len(g.Params) != 1 {
				return 0, false
			}
			acc := st.readReg(g.Inputs[0])
			addr := uint64(int64(st.readReg(g.Inputs[1])) + g.Params[0])
			v, ok := arithApply(g.Variant, acc, st.readMem(addr), st.wordMask)
			return v, ok
		}
		return 0, false
	}
}

// expectedStore checks a store-family gadget's claimed memory write against
// what replay actually wrote, when replay happened to write anything at
// all this round; it reports "checked=false" when the round gave no
// evidence either way.
func expectedStore(g *gadget.Gadget, st *replayState) (matches, checked bool) {
	var addrReg regset.ID
	var want uint64
	switch {
	case g.Variant == gadget.StoreMem:
		if len(g.Inputs) != 2 || len(g.Params) != 1 {
			return true, false
		}
		addrReg = g.Inputs[0]
		want = st.readReg(g.Inputs[1])
	case g.Variant.IsStoreArithmetic():
		if len(g.Inputs) != 2 || len(g.Params) != 1 {
			return true, false
		}
		addrReg = g.Inputs[0]
		addr := uint64(int64(st.readReg(addrReg)) + g.Params[0])
		mv := st.readMem(addr)
		v, ok := arithApply(g.Variant, mv, st.readReg(g.Inputs[1]), st.wordMask)
		if !ok {
			return true, false
		}
		want = v
	default:
		return true, false
	}
	addr := uint64(int64(st.readReg(addrReg)) + g.Params[0])
	got, wrote := st.outputMem[addr]
	if !wrote {
		return true, false
	}
	return got == want, true
}

// BruteForceSolver looks for a counterexample to g's claimed semantics by
// sampling random before-environments and replaying the block's IR against
// each — the stdlib stand-in for the source tool's z3-backed Solver (no SMT
// library exists in the retrieved corpus; see DESIGN.md).
type BruteForceSolver struct{}

// NewBruteForceSolver returns the default Solver implementation.
func NewBruteForceSolver() *BruteForceSolver { return &BruteForceSolver{} }

// Check implements Solver.
func (*BruteForceSolver) Check(a *arch.Arch, block *ir.Block, g *gadget.Gadget, rounds int, seed int64) (bool, error) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < rounds; i++ {
		st := newReplayState(a, rng.Int63())
		if err := runBlock(st, block); err != nil {
			return false, fmt.Errorf("unsupported IR: %w", err)
		}

		if g.HasOutput {
			want, ok := expectedOutput(g, st)
			if ok {
				got, wrote := st.outputRegs[g.Output]
				if wrote && got != want {
					return false, nil
				}
			}
		}
		if matches, checked := expectedStore(g, st); checked && !matches {
			return false, nil
		}
		if !unlistedRegistersUnchanged(a, g, st) {
			return false, nil
		}
	}
	return true, nil
}

// unlistedRegistersUnchanged enforces that every register the block wrote
// is either g's Output or a declared Clobber — a gadget that silently
// stomps a register it didn't admit to is invalid regardless of what its
// Output claim says.
func unlistedRegistersUnchanged(a *arch.Arch, g *gadget.Gadget, st *replayState) bool {
	for id := range st.outputRegs {
		if id == a.SP || id == a.IP || a.IsIgnored(id) {
			continue
		}
		if g.HasOutput && id == g.Output {
			continue
		}
		if g.Clobbers.Has(id) {
			continue
		}
		return false
	}
	return true
}
