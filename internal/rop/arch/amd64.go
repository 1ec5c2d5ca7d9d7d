package arch

import (
	"encoding/binary"

	"ropforge/internal/rop/regset"
)

// AMD64 describes the x86-64 architecture, with register ids, ignored
// registers and calling conventions taken from the original tool's
// extra_archinfo.py table for "AMD64".
var AMD64 = buildAMD64()

func buildAMD64() *Arch {
	a := newArch("amd64", 64, 1, 10, binary.LittleEndian)

	general := []string{
		"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	}
	var id regset.ID
	for _, name := range general {
		a.addRegister(name, id, 8)
		id++
	}
	a.addRegister("rsp", id, 8)
	a.SP = id
	id++
	a.addRegister("rip", id, 8)
	a.IP = id
	id++

	// cc_dep1/cc_dep2/cc_ndep/cc_op/d/fpround/fs/sseround: condition-code
	// and FPU/segment scratch the lifter may surface as pseudo-registers,
	// ignored per extra_archinfo.py's IGNORED_REGISTERS["AMD64"].
	ignoredNames := []string{"cc_dep1", "cc_dep2", "cc_ndep", "cc_op", "d", "fpround", "fs", "sseround"}
	for _, name := range ignoredNames {
		a.addRegister(name, id, 8)
		a.addIgnored(id)
		id++
	}

	a.CallingConvention = regIDs(a, "rdi", "rsi", "rdx", "rcx", "r8", "r9")
	a.SyscallCallingConvention = regIDs(a, "rdi", "rsi", "rdx", "r10", "r8", "r9")
	a.MprotectSyscallNumber = 10
	a.HasMprotectSyscall = true
	return a
}

func regIDs(a *Arch, names ...string) []regset.ID {
	out := make([]regset.ID, len(names))
	for i, n := range names {
		out[i] = a.MustRegister(n).ID
	}
	return out
}
