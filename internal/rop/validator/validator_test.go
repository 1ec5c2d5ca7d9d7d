package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/ir"
	"ropforge/internal/rop/regset"
)

// blockLifter returns a fixed Block regardless of its arguments, standing
// in for a real disassembler/lifter in these tests.
type blockLifter struct{ block *ir.Block }

func (l blockLifter) Lift(code []byte, address uint64, wordBits int) (*ir.Block, error) {
	return l.block, nil
}

func constExpr(v uint64) *ir.Expr { return &ir.Expr{Tag: ir.Const, ConstValue: v, ConstSize: 64} }
func getExpr(reg regset.ID) *ir.Expr { return &ir.Expr{Tag: ir.Get, Offset: reg} }

func TestValidatorAcceptsMatchingLoadConst(t *testing.T) {
	rbx := arch.AMD64.MustRegister("rbx").ID
	block := &ir.Block{Statements: []ir.Stmt{
		{Tag: ir.Put, Offset: rbx, Data: constExpr(0x1234)},
	}}
	g := &gadget.Gadget{Variant: gadget.LoadConst, Output: rbx, HasOutput: true, Params: []int64{0x1234}}

	v := New(arch.AMD64, blockLifter{block}, NewBruteForceSolver(), nil)
	v.Rounds = 3
	valid, err := v.Validate(g, nil, 0x401000)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidatorRejectsWrongLoadConst(t *testing.T) {
	rbx := arch.AMD64.MustRegister("rbx").ID
	block := &ir.Block{Statements: []ir.Stmt{
		{Tag: ir.Put, Offset: rbx, Data: constExpr(0x1234)},
	}}
	g := &gadget.Gadget{Variant: gadget.LoadConst, Output: rbx, HasOutput: true, Params: []int64{0x9999}}

	v := New(arch.AMD64, blockLifter{block}, NewBruteForceSolver(), nil)
	v.Rounds = 3
	valid, err := v.Validate(g, nil, 0x401000)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidatorAcceptsMatchingMoveReg(t *testing.T) {
	rax := arch.AMD64.MustRegister("rax").ID
	rbx := arch.AMD64.MustRegister("rbx").ID
	block := &ir.Block{Statements: []ir.Stmt{
		{Tag: ir.WrTmp, Tmp: 0, Data: getExpr(rax)},
		{Tag: ir.Put, Offset: rbx, Data: &ir.Expr{Tag: ir.RdTmp, Tmp: 0}},
	}}
	g := &gadget.Gadget{Variant: gadget.MoveReg, Output: rbx, HasOutput: true, Inputs: []regset.ID{rax}}

	v := New(arch.AMD64, blockLifter{block}, NewBruteForceSolver(), nil)
	v.Rounds = 5
	valid, err := v.Validate(g, nil, 0x401004)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidatorRejectsUndeclaredClobber(t *testing.T) {
	rbx := arch.AMD64.MustRegister("rbx").ID
	rdx := arch.AMD64.MustRegister("rdx").ID
	block := &ir.Block{Statements: []ir.Stmt{
		{Tag: ir.Put, Offset: rbx, Data: constExpr(0x1234)},
		{Tag: ir.Put, Offset: rdx, Data: constExpr(0x5678)},
	}}
	// Claims only rbx is touched; rdx is an undeclared clobber.
	g := &gadget.Gadget{Variant: gadget.LoadConst, Output: rbx, HasOutput: true, Params: []int64{0x1234}}

	v := New(arch.AMD64, blockLifter{block}, NewBruteForceSolver(), nil)
	v.Rounds = 3
	valid, err := v.Validate(g, nil, 0x401008)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestValidatorAcceptsDeclaredClobber(t *testing.T) {
	rbx := arch.AMD64.MustRegister("rbx").ID
	rdx := arch.AMD64.MustRegister("rdx").ID
	block := &ir.Block{Statements: []ir.Stmt{
		{Tag: ir.Put, Offset: rbx, Data: constExpr(0x1234)},
		{Tag: ir.Put, Offset: rdx, Data: constExpr(0x5678)},
	}}
	g := &gadget.Gadget{
		Variant: gadget.LoadConst, Output: rbx, HasOutput: true, Params: []int64{0x1234},
		Clobbers: regset.Of(rdx),
	}

	v := New(arch.AMD64, blockLifter{block}, NewBruteForceSolver(), nil)
	v.Rounds = 3
	valid, err := v.Validate(g, nil, 0x40100c)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSeedForIsDeterministic(t *testing.T) {
	assert.Equal(t, seedFor(0x401000), seedFor(0x401000))
	assert.NotEqual(t, seedFor(0x401000), seedFor(0x401008))
}
