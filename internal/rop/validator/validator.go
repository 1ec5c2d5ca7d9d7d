// Package validator implements the optional correctness cross-check
// (spec.md §4.6): given a classified Gadget and the IR block it was
// classified from, prove (or find a counterexample to) the claim that the
// gadget's declared Variant/Inputs/Output/Params summarize everything the
// block does to registers and memory.
//
// Grounded on pyrop/rop_compiler/validator.py's Validator/
// PyvexToZ3Converter: that code lowers the IR into z3 bitvector
// expressions named "<reg>_before"/"<reg>_after" and asks z3 to prove the
// negation of the gadget's claim is unsatisfiable. No SMT library appears
// anywhere in the retrieved corpus, so the external collaborator here is a
// Solver interface; the bundled BruteForceSolver looks for a counterexample
// by sampling random before-environments instead of deciding satisfiability
// exactly — it can prove a gadget WRONG (first mismatch found) but only
// raises confidence, never proves CORRECT, the way the real SMT-backed tool
// would.
package validator

import (
	"fmt"

	"ropforge/internal/logging"
	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/asmfmt"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/ir"
)

// Solver decides whether a gadget's claimed semantics can be contradicted
// by the block's actual IR execution. Check reports valid=false, err=nil on
// a found counterexample; valid=true, err=nil if none was found within the
// solver's budget; and a non-nil err if the solver could not run at all
// (e.g. unsupported IR).
type Solver interface {
	Check(a *arch.Arch, block *ir.Block, g *gadget.Gadget, rounds int, seed int64) (valid bool, err error)
}

// Validator drives a Solver against one classified gadget.
type Validator struct {
	Arch   *arch.Arch
	Lifter ir.Lifter
	Solver Solver
	Rounds int
	Log    *logging.Logger
}

// DefaultRounds is the number of random trials per gadget, five times
// classify.DefaultRounds: enough to catch most counterexamples without
// becoming the dominant cost of a run.
const DefaultRounds = 25

// New builds a Validator backed by solver (use NewBruteForceSolver() absent
// a real SMT binding).
func New(a *arch.Arch, lifter ir.Lifter, solver Solver, log *logging.Logger) *Validator {
	return &Validator{Arch: a, Lifter: lifter, Solver: solver, Rounds: DefaultRounds, Log: log}
}

// Validate re-lifts code at address and asks the Solver to confirm g's
// claimed semantics against it.
func (v *Validator) Validate(g *gadget.Gadget, code []byte, address uint64) (bool, error) {
	block, err := v.Lifter.Lift(code, address, v.Arch.WordBits)
	if err != nil {
		return false, fmt.Errorf("validator: lift: %w", err)
	}
	rounds := v.Rounds
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	valid, err := v.Solver.Check(v.Arch, block, g, rounds, seedFor(address))
	if err != nil {
		return false, fmt.Errorf("validator: %w", err)
	}
	if !valid && v.Log != nil {
		v.Log.Debugf("validator: gadget %s@%#x failed cross-check\n%s", g.Variant, g.Address, asmfmt.Dump(v.Arch, g, code))
	}
	return valid, nil
}

// addrSeed derives a deterministic rand seed from an address so repeated
// validation runs for the same gadget sample the same sequence.
type addrSeed uint64

func (a addrSeed) hashSeed() int64 { return int64(a*2654435761 + 1) }

func seedFor(address uint64) int64 { return addrSeed(address).hashSeed() }
