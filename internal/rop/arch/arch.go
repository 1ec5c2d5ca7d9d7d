// Package arch describes the architecture-specific facts the rest of
// ropforge needs: register tables, word size, endianness, instruction
// alignment and calling conventions. Everything here is an immutable value
// table, following the teacher's convention of keeping ISA facts
// (internal/engine/wazevo/backend/isa/amd64/reg.go's real-register tables)
// as package-level data rather than runtime-constructed state.
package arch

import (
	"encoding/binary"
	"fmt"
	"sort"

	"ropforge/internal/rop/regset"
)

// RegInfo describes one named register: its id and width in bytes.
type RegInfo struct {
	ID        regset.ID
	SizeBytes int
}

// Arch is an immutable descriptor for one target architecture.
type Arch struct {
	// Name identifies the architecture, e.g. "amd64", "arm".
	Name string
	// WordBits is the native word size in bits (32 or 64).
	WordBits int
	// InstructionAlignment is the step, in bytes, the Finder advances
	// between candidate windows.
	InstructionAlignment int
	// MaxGadgetSize bounds a candidate window's length in bytes.
	MaxGadgetSize int
	// ByteOrder is this architecture's memory byte order.
	ByteOrder binary.ByteOrder

	// byName maps a register name to its descriptor.
	byName map[string]RegInfo
	// byID maps a register id back to its canonical name, for logging.
	byID map[regset.ID]string

	// SP and IP are the stack-pointer and instruction-pointer register ids.
	SP, IP regset.ID
	// LR is the link-register id, or HasLR == false on architectures
	// without one (e.g. amd64, where the return address always travels on
	// the stack).
	LR    regset.ID
	HasLR bool

	// Ignored is the set of register ids the classifier must never report
	// as an output or meaningful input: flags, vector scratch, and other
	// architecture state the spec explicitly excludes from its data model.
	Ignored regset.Set

	// CallingConvention is the ordered list of registers used to pass the
	// first N integer/pointer arguments to a function.
	CallingConvention []regset.ID
	// SyscallCallingConvention is the ordered register list used for a raw
	// syscall, which on some architectures differs from the function ABI
	// (e.g. amd64 swaps rcx for r10).
	SyscallCallingConvention []regset.ID

	// MprotectSyscallNumber is this architecture's mprotect syscall number,
	// used by the scheduler's syscall-based shellcode-address fallback.
	// HasMprotectSyscall is false for architectures the original tool never
	// tabulated one for.
	MprotectSyscallNumber int64
	HasMprotectSyscall    bool
}

// WordBytes is WordBits/8.
func (a *Arch) WordBytes() int { return a.WordBits / 8 }

// Register looks up a register by name.
func (a *Arch) Register(name string) (RegInfo, bool) {
	r, ok := a.byName[name]
	return r, ok
}

// MustRegister is Register but panics on an unknown name; used only at
// package-init time to build the built-in architecture tables below.
func (a *Arch) MustRegister(name string) RegInfo {
	r, ok := a.byName[name]
	if !ok {
		panic(fmt.Sprintf("arch %s: unknown register %q", a.Name, name))
	}
	return r
}

// RegisterName returns the canonical name for id, or a placeholder if id is
// not part of this architecture's table.
func (a *Arch) RegisterName(id regset.ID) string {
	if name, ok := a.byID[id]; ok {
		return name
	}
	return fmt.Sprintf("r%d?", id)
}

// IsIgnored reports whether id is a flags/vector/scratch register this
// architecture's classifier must never treat as meaningful.
func (a *Arch) IsIgnored(id regset.ID) bool {
	return a.Ignored.Has(id)
}

// AllRegisters returns every general-purpose register id this architecture
// exposes to the scheduler: every registered id except SP, IP, LR and
// ignored registers, in ascending order. Used to enumerate candidate
// address/value register pairs for the write-memory triple cache.
func (a *Arch) AllRegisters() []regset.ID {
	var ids []regset.ID
	for id := range a.byID {
		if id == a.SP || id == a.IP || (a.HasLR && id == a.LR) || a.IsIgnored(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func newArch(name string, wordBits, alignment, maxGadget int, order binary.ByteOrder) *Arch {
	return &Arch{
		Name:                  name,
		WordBits:              wordBits,
		InstructionAlignment:  alignment,
		MaxGadgetSize:         maxGadget,
		ByteOrder:             order,
		byName:                map[string]RegInfo{},
		byID:                  map[regset.ID]string{},
		MprotectSyscallNumber: -1,
	}
}

func (a *Arch) addRegister(name string, id regset.ID, sizeBytes int) {
	a.byName[name] = RegInfo{ID: id, SizeBytes: sizeBytes}
	a.byID[id] = name
}

func (a *Arch) addIgnored(ids ...regset.ID) {
	for _, id := range ids {
		a.Ignored = a.Ignored.Add(id)
	}
}
