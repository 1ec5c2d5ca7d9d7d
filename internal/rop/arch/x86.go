package arch

import (
	"encoding/binary"

	"ropforge/internal/rop/regset"
)

// X86 describes the 32-bit x86 architecture. extra_archinfo.py's
// IGNORED_REGISTERS["X86"] table is considerably larger than AMD64's (it
// predates the lifter's 64-bit cleanup and still lists FPU/MMX/SSE state),
// so we keep the same, wider ignore list here.
var X86 = buildX86()

func buildX86() *Arch {
	a := newArch("x86", 32, 1, 10, binary.LittleEndian)

	general := []string{"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp"}
	var id regset.ID
	for _, name := range general {
		a.addRegister(name, id, 4)
		id++
	}
	a.addRegister("esp", id, 4)
	a.SP = id
	id++
	a.addRegister("eip", id, 4)
	a.IP = id
	id++

	ignoredNames := []string{
		"cc_dep1", "cc_dep2", "cc_ndep", "cc_op", "cs", "d", "ds", "es",
		"fc3210", "fpround", "fpu_t0", "fpu_t1", "fpu_t2", "fpu_t3",
		"fpu_t4", "fpu_t5", "fpu_t6", "fpu_t7", "fs", "ftop", "gdt", "gs",
		"id", "ldt", "mm0", "mm1", "mm2", "mm3", "mm4", "mm5", "mm6",
		"mm7", "ss", "sseround", "st0", "st1", "st2", "st3", "st4",
		"st5", "st6", "st7", "xmm0", "xmm1", "xmm2", "xmm3", "xmm4",
		"xmm5", "xmm6", "xmm7",
	}
	for _, name := range ignoredNames {
		a.addRegister(name, id, 4)
		a.addIgnored(id)
		id++
	}

	// The original tool's func_calling_convention table has no "X86" entry
	// (32-bit targets weren't wired for FunctionGoal synthesis); stack-only
	// argument passing is the correct cdecl default, so CallingConvention
	// is left empty and the scheduler falls back to stack-passed args for
	// every argument on this architecture.
	return a
}
