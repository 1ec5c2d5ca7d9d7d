package catalogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/regset"
)

func loadMem(address uint64, disp int64, clobbers regset.Set) *gadget.Gadget {
	rdi := arch.AMD64.MustRegister("rdi").ID
	return &gadget.Gadget{
		Variant:            gadget.LoadMem,
		Address:            address,
		Inputs:             []regset.ID{arch.AMD64.SP},
		Output:             rdi,
		HasOutput:          true,
		Params:             []int64{disp},
		Clobbers:           clobbers,
		StackOffset:        16,
		IPInStackOffset:    8,
		HasIPInStackOffset: true,
	}
}

func TestInsertDedup(t *testing.T) {
	c := New()
	g1 := loadMem(0x1000, 0, 0)
	g2 := loadMem(0x1000, 0, 0)

	assert.True(t, c.Insert(g1))
	assert.False(t, c.Insert(g2))
	assert.Equal(t, 1, c.Len())
}

func TestFindLoadStackPrefersLowestComplexity(t *testing.T) {
	c := New()
	cheap := loadMem(0x2000, 0, 0)
	expensive := loadMem(0x1000, 0, regset.Of(arch.AMD64.MustRegister("rax").ID))
	c.Insert(cheap)
	c.Insert(expensive)

	rdi := arch.AMD64.MustRegister("rdi").ID
	best := c.FindLoadStack(arch.AMD64.SP, rdi, 0)
	require.NotNil(t, best)
	assert.Equal(t, cheap.Address, best.Address)
}

func TestFindLoadStackTieBreaksByAddress(t *testing.T) {
	c := New()
	lower := loadMem(0x1000, 0, 0)
	higher := loadMem(0x9000, 8, 0) // different params -> different identity, same complexity
	c.Insert(lower)
	c.Insert(higher)

	rdi := arch.AMD64.MustRegister("rdi").ID
	best := c.FindLoadStack(arch.AMD64.SP, rdi, 0)
	require.NotNil(t, best)
	assert.Equal(t, lower.Address, best.Address)
}

func TestFindLoadStackRespectsNoClobber(t *testing.T) {
	c := New()
	rax := arch.AMD64.MustRegister("rax").ID
	clobbersRax := loadMem(0x1000, 0, regset.Of(rax))
	c.Insert(clobbersRax)

	rdi := arch.AMD64.MustRegister("rdi").ID
	assert.Nil(t, c.FindLoadStack(arch.AMD64.SP, rdi, regset.Of(rax)))
	assert.NotNil(t, c.FindLoadStack(arch.AMD64.SP, rdi, 0))
}

func TestFindLoadConst(t *testing.T) {
	c := New()
	rdi := arch.AMD64.MustRegister("rdi").ID
	c.Insert(&gadget.Gadget{Variant: gadget.LoadConst, Address: 0x3000, Output: rdi, HasOutput: true, Params: []int64{42}})

	g := c.FindLoadConst(rdi, 42, 0)
	require.NotNil(t, g)
	assert.Equal(t, uint64(0x3000), g.Address)

	assert.Nil(t, c.FindLoadConst(rdi, 7, 0))
}

func TestForEachOfFiltersVariant(t *testing.T) {
	c := New()
	c.Insert(loadMem(0x1000, 0, 0))
	c.Insert(&gadget.Gadget{Variant: gadget.Jump, Address: 0x2000, Inputs: []regset.ID{0}, Output: arch.AMD64.IP, HasOutput: true, Params: []int64{0}})

	var count int
	c.ForEachOf(gadget.LoadMem, func(g *gadget.Gadget) { count++ })
	assert.Equal(t, 1, count)
}
