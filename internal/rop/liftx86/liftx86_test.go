package liftx86

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/ir"
)

func TestLiftPopRdiRet(t *testing.T) {
	l := New(arch.AMD64)
	// 5f c3: pop rdi; ret
	block, err := l.Lift([]byte{0x5f, 0xc3}, 0x401000, 64)
	require.NoError(t, err)
	require.Len(t, block.Statements, 4)

	rdi := arch.AMD64.MustRegister("rdi").ID
	assert.Equal(t, ir.Put, block.Statements[0].Tag)
	assert.Equal(t, rdi, block.Statements[0].Offset)
	assert.Equal(t, ir.Load, block.Statements[0].Data.Tag)

	assert.Equal(t, ir.Put, block.Statements[1].Tag)
	assert.Equal(t, arch.AMD64.SP, block.Statements[1].Offset)

	assert.Equal(t, ir.Put, block.Statements[2].Tag)
	assert.Equal(t, arch.AMD64.IP, block.Statements[2].Offset)

	assert.Equal(t, ir.Put, block.Statements[3].Tag)
	assert.Equal(t, arch.AMD64.SP, block.Statements[3].Offset)
}

func TestLiftMovRaxRbxRet(t *testing.T) {
	l := New(arch.AMD64)
	// 48 89 d8: mov rax, rbx; c3: ret
	block, err := l.Lift([]byte{0x48, 0x89, 0xd8, 0xc3}, 0x401010, 64)
	require.NoError(t, err)
	require.Len(t, block.Statements, 3)

	rax := arch.AMD64.MustRegister("rax").ID
	rbx := arch.AMD64.MustRegister("rbx").ID
	assert.Equal(t, ir.Put, block.Statements[0].Tag)
	assert.Equal(t, rax, block.Statements[0].Offset)
	assert.Equal(t, ir.Get, block.Statements[0].Data.Tag)
	assert.Equal(t, rbx, block.Statements[0].Data.Offset)
}

func TestLiftTwoPopsThenRet(t *testing.T) {
	l := New(arch.AMD64)
	// 5f: pop rdi; 5e: pop rsi; c3: ret
	block, err := l.Lift([]byte{0x5f, 0x5e, 0xc3}, 0x401020, 64)
	require.NoError(t, err)
	require.Len(t, block.Statements, 6)

	rdi := arch.AMD64.MustRegister("rdi").ID
	rsi := arch.AMD64.MustRegister("rsi").ID
	assert.Equal(t, rdi, block.Statements[0].Offset)
	assert.Equal(t, rsi, block.Statements[2].Offset)
}

func TestLiftRejectsUnknownFirstByte(t *testing.T) {
	l := New(arch.AMD64)
	_, err := l.Lift([]byte{0x0f, 0xff, 0xff, 0xff}, 0x401030, 64)
	assert.Error(t, err)
}

func TestLiftRejectsWindowWithoutTerminator(t *testing.T) {
	l := New(arch.AMD64)
	// 5f: pop rdi, with nothing after it in the window.
	_, err := l.Lift([]byte{0x5f}, 0x401040, 64)
	assert.Error(t, err)
}
