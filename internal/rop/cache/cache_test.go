package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/catalogue"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/regset"
)

func sampleCatalogue() *catalogue.Catalogue {
	cat := catalogue.New()
	rdi := arch.AMD64.MustRegister("rdi").ID
	cat.Insert(&gadget.Gadget{
		Variant:            gadget.LoadMem,
		Address:            0x401234,
		Inputs:             []regset.ID{arch.AMD64.SP},
		Output:             rdi,
		HasOutput:          true,
		Params:             []int64{0},
		Clobbers:           regset.Of(arch.AMD64.MustRegister("rax").ID),
		StackOffset:        16,
		IPInStackOffset:    8,
		HasIPInStackOffset: true,
	})
	cat.Insert(&gadget.Gadget{Variant: gadget.Jump, Address: 0x402000, Inputs: []regset.ID{rdi}, Output: arch.AMD64.IP, HasOutput: true, Params: []int64{0}})
	return cat
}

func TestSerializeParseRoundTrip(t *testing.T) {
	cat := sampleCatalogue()
	data := Serialize(cat, arch.AMD64)

	parsed, err := Parse(data, arch.AMD64)
	require.NoError(t, err)
	assert.Equal(t, cat.Len(), parsed.Len())

	reSerialized := Serialize(parsed, arch.AMD64)
	assert.Equal(t, data, reSerialized)
}

func TestParseRejectsWrongArch(t *testing.T) {
	data := Serialize(sampleCatalogue(), arch.AMD64)
	_, err := Parse(data, arch.ARM)
	assert.Error(t, err)
}

func TestRebaseShiftsAddresses(t *testing.T) {
	data := Serialize(sampleCatalogue(), arch.AMD64)

	rebased, err := Rebase(data, 0x10000, arch.AMD64)
	require.NoError(t, err)

	cat, err := Parse(rebased, arch.AMD64)
	require.NoError(t, err)

	var addrs []uint64
	cat.ForEach(func(g *gadget.Gadget) { addrs = append(addrs, g.Address) })
	assert.ElementsMatch(t, []uint64{0x411234, 0x412000}, addrs)
}
