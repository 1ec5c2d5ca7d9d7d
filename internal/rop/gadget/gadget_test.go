package gadget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/regset"
)

// popRDIRet models "pop rdi; ret" (spec.md §8 scenario 2): stack_offset=16
// because ret consumes 8 more bytes after the pop.
func popRDIRet() *Gadget {
	rdi := arch.AMD64.MustRegister("rdi").ID
	rsp := arch.AMD64.SP
	return &Gadget{
		Variant:            LoadMem,
		Address:            0x1000,
		Inputs:             []regset.ID{rsp},
		Output:             rdi,
		HasOutput:          true,
		Params:             []int64{0},
		StackOffset:        16,
		IPInStackOffset:    8,
		HasIPInStackOffset: true,
	}
}

func TestValidateArity(t *testing.T) {
	g := popRDIRet()
	require.NoError(t, g.Validate())

	bad := &Gadget{Variant: StoreMem, Inputs: []regset.ID{1}, Params: []int64{0}}
	assert.Error(t, bad.Validate())

	loadConst := &Gadget{Variant: LoadConst, HasOutput: true, Params: []int64{42}}
	assert.NoError(t, loadConst.Validate())

	jump := &Gadget{Variant: Jump, Inputs: []regset.ID{0}, HasOutput: true, Params: []int64{0}}
	assert.NoError(t, jump.Validate())
}

func TestInvariantsPopRDIRet(t *testing.T) {
	g := popRDIRet()
	assert.NoError(t, g.Invariants(arch.AMD64))
}

func TestInvariantsRejectOutputIsSP(t *testing.T) {
	g := popRDIRet()
	g.Output = arch.AMD64.SP
	assert.Error(t, g.Invariants(arch.AMD64))
}

func TestInvariantsRejectIgnoredClobber(t *testing.T) {
	g := popRDIRet()
	g.Clobbers = regset.Of(arch.AMD64.MustRegister("cc_op").ID)
	assert.Error(t, g.Invariants(arch.AMD64))
}

func TestInvariantsRejectLoadOverwritesIPSlot(t *testing.T) {
	g := popRDIRet()
	g.Params = []int64{8} // same as ip_in_stack_offset
	assert.Error(t, g.Invariants(arch.AMD64))
}

func TestInvariantsJumpHasNoIPInStackOffset(t *testing.T) {
	rax := arch.AMD64.MustRegister("rax").ID
	g := &Gadget{
		Variant:     Jump,
		Address:     0x2000,
		Inputs:      []regset.ID{rax},
		Output:      arch.AMD64.IP,
		HasOutput:   true,
		Params:      []int64{0},
		StackOffset: 0,
	}
	assert.NoError(t, g.Invariants(arch.AMD64))
}

func TestComplexity(t *testing.T) {
	g := popRDIRet()
	assert.Equal(t, 16, g.Complexity())

	g.Clobbers = regset.Of(arch.AMD64.MustRegister("rax").ID, arch.AMD64.MustRegister("rbx").ID)
	assert.Equal(t, 18, g.Complexity())
}

func TestChainFillsAndPlacesNextAndValue(t *testing.T) {
	g := popRDIRet()
	words := g.Chain(8, 0x4B4B4B4B4B4B4B4B, 0xDEADBEEF, 0x1122334455667788, true)
	require.Len(t, words, 2)
	assert.Equal(t, uint64(0x1122334455667788), words[0]) // params[0]==0 -> word index 0
	assert.Equal(t, uint64(0xDEADBEEF), words[1])          // ip_in_stack_offset==8 -> word index 1
}

func TestChainWithoutValueLeavesFiller(t *testing.T) {
	g := popRDIRet()
	filler := uint64(0x4B4B4B4B4B4B4B4B)
	words := g.Chain(8, filler, 0xCAFE, 0, false)
	assert.Equal(t, filler, words[0])
	assert.Equal(t, uint64(0xCAFE), words[1])
}

func TestIdentityDedup(t *testing.T) {
	g1 := popRDIRet()
	g2 := popRDIRet()
	assert.Equal(t, g1.Identity(), g2.Identity())

	g3 := popRDIRet()
	g3.Address = 0x9999
	assert.NotEqual(t, g1.Identity(), g3.Identity())
}

func TestVariantFamilies(t *testing.T) {
	assert.True(t, AddReg.IsRegisterArithmetic())
	assert.True(t, LoadXor.IsLoadArithmetic())
	assert.True(t, StoreAnd.IsStoreArithmetic())
	assert.False(t, LoadMem.IsRegisterArithmetic())
}
