package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/binaryio"
	"ropforge/internal/rop/catalogue"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/goalspec"
	"ropforge/internal/rop/regset"
	"ropforge/internal/rop/symbol"
)

func popReg(address uint64, reg regset.ID) *gadget.Gadget {
	return &gadget.Gadget{
		Variant: gadget.LoadMem, Address: address,
		Inputs: []regset.ID{arch.AMD64.SP}, Output: reg, HasOutput: true,
		Params: []int64{0}, StackOffset: 16, IPInStackOffset: 8, HasIPInStackOffset: true,
	}
}

func storeMem(address uint64, addrReg, valReg regset.ID) *gadget.Gadget {
	return &gadget.Gadget{
		Variant: gadget.StoreMem, Address: address,
		Inputs: []regset.ID{addrReg, valReg}, Params: []int64{0},
		StackOffset: 8, IPInStackOffset: 0, HasIPInStackOffset: true,
	}
}

func newFixture() (*catalogue.Catalogue, *symbol.Resolver) {
	cat := catalogue.New()
	rdi := arch.AMD64.MustRegister("rdi").ID
	rsi := arch.AMD64.MustRegister("rsi").ID
	rdx := arch.AMD64.MustRegister("rdx").ID
	rax := arch.AMD64.MustRegister("rax").ID
	rbx := arch.AMD64.MustRegister("rbx").ID

	cat.Insert(popReg(0x401000, rdi))
	cat.Insert(popReg(0x401010, rsi))
	cat.Insert(popReg(0x401020, rdx))
	cat.Insert(popReg(0x401030, rax))
	cat.Insert(storeMem(0x401040, rax, rbx))
	cat.Insert(popReg(0x401050, rbx))

	resolver := &symbol.Resolver{}
	return cat, resolver
}

// TestCompileFunctionGoalPopChain mirrors spec.md §8 scenario 5: a
// system(addr_of_binsh) call built from "pop rdi; ret" plus a known
// function address, producing [pop_rdi, addr_of_binsh, system_addr,
// sentinel]. addr_of_binsh is a literal address already present in the
// target (e.g. a libc string), not one this chain writes.
func TestCompileFunctionGoalPopChain(t *testing.T) {
	cat, resolver := newFixture()
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	const binshAddr = 0x402500
	goals := []goalspec.Goal{{
		Tag: goalspec.FunctionGoal, Name: "system", Address: 0x402000, HasAddress: true,
		Arguments: []goalspec.Argument{{Int: binshAddr}},
	}}

	payload, firstAddr, err := sched.Compile(goals)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401000), firstAddr)

	words := decodeWords(t, payload)
	require.Len(t, words, 4)
	assert.Equal(t, uint64(0x401000), words[0])
	assert.Equal(t, uint64(binshAddr), words[1])
	assert.Equal(t, uint64(0x402000), words[2])
	assert.Equal(t, uint64(sentinelNextAddress), words[3])
}

func TestCompileFunctionGoalThreeRegisterArgs(t *testing.T) {
	cat, resolver := newFixture()
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	goals := []goalspec.Goal{{
		Tag: goalspec.FunctionGoal, Name: "mprotect", Address: 0x403000, HasAddress: true,
		Arguments: []goalspec.Argument{{Int: 0x1000}, {Int: 0x2000}, {Int: 7}},
	}}

	payload, _, err := sched.Compile(goals)
	require.NoError(t, err)
	words := decodeWords(t, payload)

	// pop_rdi, 0x1000, pop_rsi, 0x2000, pop_rdx, 7, mprotect_addr, sentinel
	assert.Equal(t, uint64(0x401000), words[0])
	assert.Equal(t, uint64(0x1000), words[1])
	assert.Equal(t, uint64(0x401010), words[2])
	assert.Equal(t, uint64(0x2000), words[3])
	assert.Equal(t, uint64(0x401020), words[4])
	assert.Equal(t, uint64(7), words[5])
	assert.Equal(t, uint64(0x403000), words[6])
	assert.Equal(t, uint64(sentinelNextAddress), words[7])
}

func TestCompileFunctionGoalMissingRegisterGadgetFails(t *testing.T) {
	cat := catalogue.New()
	resolver := &symbol.Resolver{}
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	goals := []goalspec.Goal{{
		Tag: goalspec.FunctionGoal, Name: "system", Address: 0x402000, HasAddress: true,
		Arguments: []goalspec.Argument{{Int: 1}},
	}}

	_, _, err := sched.Compile(goals)
	assert.ErrorIs(t, err, ErrNoGadgetForRegister)
}

func TestCompileUnresolvedSymbolFails(t *testing.T) {
	cat, _ := newFixture()
	resolver := &symbol.Resolver{}
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	goals := []goalspec.Goal{{Tag: goalspec.FunctionGoal, Name: "nonexistent"}}
	_, _, err := sched.Compile(goals)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestCompileShellcodeGoalWritesBytesAndCallsMprotect(t *testing.T) {
	cat, resolver := newFixture()
	resolver.Files = []symbol.File{{Reader: stubReader{syms: map[string]uint64{"mprotect": 0x404000}}}}
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	goals := []goalspec.Goal{{Tag: goalspec.ShellcodeGoal, Bytes: []byte{0x90, 0x90, 0xc3}}}
	payload, _, err := sched.Compile(goals)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestWriteMemoryChainNoStrategyFails(t *testing.T) {
	cat := catalogue.New()
	resolver := &symbol.Resolver{}
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	_, _, err := sched.writeMemoryChain(0x500000, []byte("hi"), 0x1000, fillerByte, 0)
	assert.ErrorIs(t, err, ErrNoWriteMemoryStrategy)
}

func TestPickWriteTripleReturnsCompleteTriple(t *testing.T) {
	cat, resolver := newFixture()
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	triple, err := sched.pickWriteTriple(0)
	require.NoError(t, err)
	assert.NotNil(t, triple.setAddr)
	assert.NotNil(t, triple.setVal)
	assert.NotNil(t, triple.store)
}

func TestUnknownGoalTagFails(t *testing.T) {
	cat, resolver := newFixture()
	sched := New(arch.AMD64, cat, resolver, 0x500000, nil)

	_, _, err := sched.Compile([]goalspec.Goal{{Tag: goalspec.Tag(99)}})
	assert.ErrorIs(t, err, ErrUnknownGoal)
}

type stubReader struct {
	syms map[string]uint64
}

func (r stubReader) Segments() []binaryio.Segment        { return nil }
func (r stubReader) WritableRegion() (uint64, int, bool) { return 0, 0, false }
func (r stubReader) Symbol(name string) (uint64, bool) {
	v, ok := r.syms[name]
	return v, ok
}
func (r stubReader) IsPIE() bool                           { return false }
func (r stubReader) GOTEntry(symbol string) (uint64, bool) { return 0, false }
func (r stubReader) LibcOffset(fromFunc, toFunc, libcVersion string) (int64, bool) {
	return 0, false
}

func decodeWords(t *testing.T, payload []byte) []uint64 {
	t.Helper()
	wb := arch.AMD64.WordBytes()
	require.Equal(t, 0, len(payload)%wb)
	n := len(payload) / wb
	words := make([]uint64, n)
	for i := 0; i < n; i++ {
		chunk := payload[i*wb : (i+1)*wb]
		words[i] = arch.AMD64.ByteOrder.Uint64(chunk)
	}
	return words
}
