package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAMD64Registers(t *testing.T) {
	rdi := AMD64.MustRegister("rdi")
	assert.Equal(t, 8, rdi.SizeBytes)

	assert.Equal(t, AMD64.MustRegister("rsp").ID, AMD64.SP)
	assert.Equal(t, AMD64.MustRegister("rip").ID, AMD64.IP)
	assert.False(t, AMD64.IsIgnored(rdi.ID))
	assert.True(t, AMD64.IsIgnored(AMD64.MustRegister("cc_op").ID))
	assert.False(t, AMD64.HasLR)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, le32(0x12345678))
}

func TestCallingConventions(t *testing.T) {
	assert.Len(t, AMD64.CallingConvention, 6)
	assert.Len(t, AMD64.SyscallCallingConvention, 6)
	assert.NotEqual(t, AMD64.CallingConvention[3], AMD64.SyscallCallingConvention[3])

	assert.Len(t, ARM.CallingConvention, 4)
	assert.True(t, ARM.HasLR)
}

func TestAlignedRISCArchitectures(t *testing.T) {
	for _, a := range []*Arch{ARM, ARM64, PPC32} {
		assert.Equal(t, 4, a.InstructionAlignment, a.Name)
		assert.Equal(t, 20, a.MaxGadgetSize, a.Name)
	}
	for _, a := range []*Arch{AMD64, X86} {
		assert.Equal(t, 1, a.InstructionAlignment, a.Name)
		assert.Equal(t, 10, a.MaxGadgetSize, a.Name)
	}
}

func TestLookup(t *testing.T) {
	a, err := Lookup("amd64")
	require.NoError(t, err)
	assert.Same(t, AMD64, a)

	_, err = Lookup("vax")
	assert.Error(t, err)
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	AMD64.ByteOrder.PutUint32(b, v)
	return b
}
