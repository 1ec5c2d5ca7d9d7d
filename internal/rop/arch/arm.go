package arch

import (
	"encoding/binary"
	"strconv"

	"ropforge/internal/rop/regset"
)

// ARM describes the 32-bit ARM (ARMEL) architecture: 4-byte instruction
// alignment, link-register return convention, and the r0-r3 calling
// convention from extra_archinfo.py's func_calling_convention["ARMEL"].
var ARM = buildARM()

func buildARM() *Arch {
	a := newArch("arm", 32, 4, 20, binary.LittleEndian)

	var id regset.ID
	for i := 0; i <= 12; i++ {
		a.addRegister(regName("r", i), id, 4)
		id++
	}
	a.addRegister("sp", id, 4) // r13
	a.SP = id
	id++
	a.addRegister("lr", id, 4) // r14
	a.LR = id
	a.HasLR = true
	id++
	a.addRegister("pc", id, 4) // r15
	a.IP = id
	id++

	for _, name := range []string{"cc_dep1", "cc_dep2", "cc_ndep", "cc_op", "fpscr", "nf", "qf", "vf"} {
		a.addRegister(name, id, 4)
		a.addIgnored(id)
		id++
	}

	a.CallingConvention = regIDs(a, "r0", "r1", "r2", "r3")
	return a
}

func regName(prefix string, i int) string {
	return prefix + strconv.Itoa(i)
}
