// Package gadget defines the classified-gadget algebra: a closed set of
// variants sharing one header struct, each with its own structural
// validation, complexity score and chain-assembly behaviour.
//
// The source tool models this as a class hierarchy (Gadget -> LoadMem,
// StoreMem, ...). Go has no sum types, so — following the same flattened-
// struct convention the teacher uses for its own closed instruction sets
// (internal/engine/wazevo/backend/isa/amd64/instr.go's instruction, and
// ssa.Instruction before it) — every variant is one Gadget struct with a
// Variant tag selecting which fields are meaningful, and per-variant
// behaviour is a switch on that tag rather than virtual dispatch.
package gadget

import (
	"fmt"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/regset"
)

// Variant names one member of the gadget algebra (spec.md §3).
type Variant uint8

const (
	LoadConst Variant = iota
	MoveReg
	LoadMem
	StoreMem
	LoadMemJump
	Jump
	AddReg
	SubReg
	MulReg
	AndReg
	OrReg
	XorReg
	LoadAdd
	LoadSub
	LoadMul
	LoadAnd
	LoadOr
	LoadXor
	StoreAdd
	StoreSub
	StoreMul
	StoreAnd
	StoreOr
	StoreXor
)

var variantNames = [...]string{
	"LoadConst", "MoveReg", "LoadMem", "StoreMem", "LoadMemJump", "Jump",
	"Add", "Sub", "Mul", "And", "Or", "Xor",
	"LoadAdd", "LoadSub", "LoadMul", "LoadAnd", "LoadOr", "LoadXor",
	"StoreAdd", "StoreSub", "StoreMul", "StoreAnd", "StoreOr", "StoreXor",
}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return "Variant(?)"
}

// IsRegisterArithmetic reports whether v is one of Add/Sub/Mul/And/Or/Xor on
// two registers, where one operand register is also the output.
func (v Variant) IsRegisterArithmetic() bool {
	return v >= AddReg && v <= XorReg
}

// IsLoadArithmetic reports whether v is a load-then-arithmetic variant
// (acc, base, disp -> acc).
func (v Variant) IsLoadArithmetic() bool {
	return v >= LoadAdd && v <= LoadXor
}

// IsStoreArithmetic reports whether v is a store-arithmetic variant
// (addr, val, disp, reading and then writing mem[addr+disp]).
func (v Variant) IsStoreArithmetic() bool {
	return v >= StoreAdd && v <= StoreXor
}

// Gadget is one classified candidate. Every field not meaningful for
// Variant holds its zero value; see the per-field comments below for which
// variants populate which fields.
type Gadget struct {
	Variant Variant
	// Address is the absolute load address of the gadget's first instruction.
	Address uint64

	// Inputs is the ordered list of register ids read. Meaning depends on
	// Variant:
	//   MoveReg: [in]               LoadMem/LoadMemJump: [base] (+[jmp_reg])
	//   StoreMem/StoreArith: [addr, val]
	//   Jump: [target_reg]          RegisterArithmetic/LoadArith: [a, b] / [acc, base]
	Inputs []regset.ID

	// Output is the register written, valid when HasOutput. Jump always
	// reports Output == arch IP.
	Output    regset.ID
	HasOutput bool

	// Params holds ordered integer parameters: an immediate (LoadConst), a
	// displacement (LoadMem/StoreMem/LoadArith/StoreArith/LoadMemJump), or
	// a jump's constant operand (Jump).
	Params []int64

	// Clobbers is the set of registers written and discarded: never
	// contains Output, IP, SP, or an ignored register.
	Clobbers regset.Set

	// StackOffset is the number of bytes SP advances during execution.
	StackOffset int

	// IPInStackOffset is the byte offset, within the post-gadget stack,
	// where the next gadget's address is consumed. Defined for every
	// variant except Jump.
	IPInStackOffset    int
	HasIPInStackOffset bool
}

// Complexity is stack_offset + |clobbers|; lower is better. Ties between
// equal-complexity gadgets are broken by the caller comparing Address.
func (g *Gadget) Complexity() int {
	return g.StackOffset + len(g.Clobbers.Slice())
}

// Identity is the deduplication key the Catalogue uses for insert: gadgets
// with an equal Identity are the same catalogued entry.
type Identity struct {
	Variant Variant
	Inputs  string
	Output  regset.ID
	Params  string
	Address uint64
}

func (g *Gadget) Identity() Identity {
	return Identity{
		Variant: g.Variant,
		Inputs:  formatIDs(g.Inputs),
		Output:  g.Output,
		Params:  formatParams(g.Params),
		Address: g.Address,
	}
}

func formatIDs(ids []regset.ID) string {
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte(id)
	}
	return string(b)
}

func formatParams(params []int64) string {
	s := ""
	for _, p := range params {
		s += fmt.Sprintf("%d,", p)
	}
	return s
}

// Validate checks the structural shape required of Variant: input/output/
// param arity. It does not check architecture-specific invariants (§3
// invariants 1-6); call Invariants for those once an Arch is known.
func (g *Gadget) Validate() error {
	want := func(inputs, params int, hasOutput bool) error {
		if len(g.Inputs) != inputs {
			return fmt.Errorf("gadget %s: want %d inputs, got %d", g.Variant, inputs, len(g.Inputs))
		}
		if len(g.Params) != params {
			return fmt.Errorf("gadget %s: want %d params, got %d", g.Variant, params, len(g.Params))
		}
		if g.HasOutput != hasOutput {
			return fmt.Errorf("gadget %s: output presence mismatch", g.Variant)
		}
		return nil
	}

	switch g.Variant {
	case LoadConst:
		return want(0, 1, true)
	case MoveReg:
		return want(1, 0, true)
	case LoadMem:
		return want(1, 1, true)
	case StoreMem:
		return want(2, 1, false)
	case LoadMemJump:
		return want(2, 1, true)
	case Jump:
		return want(1, 1, true)
	default:
		switch {
		case g.Variant.IsRegisterArithmetic():
			return want(2, 0, true)
		case g.Variant.IsLoadArithmetic():
			return want(2, 1, true)
		case g.Variant.IsStoreArithmetic():
			return want(2, 1, false)
		}
		return fmt.Errorf("gadget: unknown variant %d", g.Variant)
	}
}

// Invariants checks the six catalogue-admission invariants from spec.md §3
// against a's register tables. A gadget failing any of these must never be
// inserted into the Catalogue.
func (g *Gadget) Invariants(a *arch.Arch) error {
	if g.StackOffset < 0 {
		return fmt.Errorf("gadget %s@%#x: negative stack_offset %d", g.Variant, g.Address, g.StackOffset)
	}
	// LoadMemJump consumes its continuation address from a register, not
	// the stack, so it carries no ip_in_stack_offset, same as Jump.
	if g.Variant != Jump && g.Variant != LoadMemJump {
		if !g.HasIPInStackOffset {
			return fmt.Errorf("gadget %s@%#x: missing ip_in_stack_offset", g.Variant, g.Address)
		}
		if g.IPInStackOffset > g.StackOffset {
			return fmt.Errorf("gadget %s@%#x: ip_in_stack_offset %d > stack_offset %d", g.Variant, g.Address, g.IPInStackOffset, g.StackOffset)
		}
	}
	if g.Variant == LoadMem {
		baseIsSP := len(g.Inputs) > 0 && g.Inputs[0] == a.SP
		if baseIsSP && len(g.Params) > 0 && g.Params[0] > int64(g.StackOffset) {
			return fmt.Errorf("gadget %s@%#x: load displacement %d exceeds stack_offset %d with SP base", g.Variant, g.Address, g.Params[0], g.StackOffset)
		}
		if baseIsSP && g.HasIPInStackOffset && len(g.Params) > 0 && g.Params[0] == int64(g.IPInStackOffset) {
			return fmt.Errorf("gadget %s@%#x: load displacement overwrites ip_in_stack_offset slot", g.Variant, g.Address)
		}
	}
	if g.HasOutput {
		if g.Output == a.SP {
			return fmt.Errorf("gadget %s@%#x: output is SP", g.Variant, g.Address)
		}
		if a.IsIgnored(g.Output) {
			return fmt.Errorf("gadget %s@%#x: output is an ignored register", g.Variant, g.Address)
		}
		if g.Output == a.IP && g.Variant != Jump {
			return fmt.Errorf("gadget %s@%#x: output is IP but variant is not Jump", g.Variant, g.Address)
		}
	}
	if g.Clobbers.Has(a.SP) || g.Clobbers.Has(a.IP) {
		return fmt.Errorf("gadget %s@%#x: clobbers include SP or IP", g.Variant, g.Address)
	}
	if g.HasOutput && g.Clobbers.Has(g.Output) {
		return fmt.Errorf("gadget %s@%#x: clobbers include output", g.Variant, g.Address)
	}
	var ignoredClobber error
	g.Clobbers.Range(func(id regset.ID) {
		if ignoredClobber == nil && a.IsIgnored(id) {
			ignoredClobber = fmt.Errorf("gadget %s@%#x: clobbers include ignored register %s", g.Variant, g.Address, a.RegisterName(id))
		}
	})
	if ignoredClobber != nil {
		return ignoredClobber
	}
	return nil
}

// Chain returns the stack_offset/wordBytes filler words for one chain link:
// every slot defaults to filler, the slot at IPInStackOffset (if any) is
// replaced by next, and, when hasValue, the slot at Params[0] (the
// displacement of a pop-style LoadMem/LoadMemJump) is replaced by value.
func (g *Gadget) Chain(wordBytes int, filler, next uint64, value uint64, hasValue bool) []uint64 {
	if wordBytes <= 0 || g.StackOffset%wordBytes != 0 {
		wordBytes = 1
	}
	n := g.StackOffset / wordBytes
	words := make([]uint64, n)
	for i := range words {
		words[i] = filler
	}
	if g.HasIPInStackOffset {
		if idx := g.IPInStackOffset / wordBytes; idx < len(words) {
			words[idx] = next
		}
	}
	if hasValue && len(g.Params) > 0 && g.Params[0] >= 0 {
		if idx := int(g.Params[0]) / wordBytes; idx < len(words) {
			words[idx] = value
		}
	}
	return words
}
