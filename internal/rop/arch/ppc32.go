package arch

import (
	"encoding/binary"

	"ropforge/internal/rop/regset"
)

// PPC32 describes 32-bit big-endian PowerPC, the architecture behind the
// literal "pop {r3,pc}"-style amd64/ARM/PPC test vectors in spec.md §8 and
// the only entry in extra_archinfo.py's ALIGNED_ARCHS list: PPC32 requires
// 4-byte instruction-aligned candidate windows even though the lifter
// doesn't enforce it elsewhere.
var PPC32 = buildPPC32()

func buildPPC32() *Arch {
	a := newArch("ppc32", 32, 4, 20, binary.BigEndian)

	var id regset.ID
	for i := 0; i <= 31; i++ {
		a.addRegister(regName("r", i), id, 4)
		id++
	}
	a.SP = a.MustRegister("r1").ID // r1 is SP by PPC32 ABI convention
	a.addRegister("lr", id, 4)
	a.LR = id
	a.HasLR = true
	id++
	a.addRegister("pc", id, 4)
	a.IP = id
	id++
	a.addRegister("ctr", id, 4)
	a.addIgnored(id)
	id++
	a.addRegister("cr", id, 4)
	a.addIgnored(id)
	id++

	a.CallingConvention = regIDs(a, "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10")
	return a
}
