package arch

import (
	"encoding/binary"

	"ropforge/internal/rop/regset"
)

// ARM64 describes AArch64. The original tool never tabulated a calling
// convention for it, so CallingConvention mirrors the AAPCS64 integer-argument
// registers (x0-x7) as the natural completion.
var ARM64 = buildARM64()

func buildARM64() *Arch {
	a := newArch("arm64", 64, 4, 20, binary.LittleEndian)

	var id regset.ID
	for i := 0; i <= 28; i++ {
		a.addRegister(regName("x", i), id, 8)
		id++
	}
	a.addRegister("x29", id, 8) // frame pointer
	id++
	a.addRegister("lr", id, 8) // x30
	a.LR = id
	a.HasLR = true
	id++
	a.addRegister("sp", id, 8)
	a.SP = id
	id++
	a.addRegister("pc", id, 8)
	a.IP = id
	id++

	for _, name := range []string{"nzcv", "fpcr", "fpsr", "tpidr"} {
		a.addRegister(name, id, 8)
		a.addIgnored(id)
		id++
	}

	a.CallingConvention = regIDs(a, "x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7")
	return a
}
