// Package binaryio specifies the Binary Reader external collaborator
// (spec.md §6): everything the Finder, Classifier driver and Scheduler need
// to know about a loaded target file, without this module owning any
// particular executable-format parser.
package binaryio

// Segment is one executable or writable region of a loaded binary.
type Segment struct {
	Bytes     []byte
	Address   uint64
	Writable  bool
	Executable bool
}

// Reader is the Binary Reader external collaborator. Its concrete
// implementations own format parsing (ELF, PE, Mach-O, ...); this module
// only depends on the interface.
type Reader interface {
	// Segments returns every loaded segment, executable or writable.
	Segments() []Segment

	// WritableRegion reports one writable region's base address and size,
	// used to seed the Scheduler's bump allocator. ok is false if the
	// binary has no writable segment at all.
	WritableRegion() (address uint64, size int, ok bool)

	// Symbol resolves name in the static symbol table, the dynamic symbol
	// table, or the dynamic segment, in that order.
	Symbol(name string) (address uint64, ok bool)

	// IsPIE reports whether the binary is position-independent (presence
	// of a dynamic segment / ET_DYN), meaning its reported addresses are
	// only meaningful relative to a caller-supplied load base.
	IsPIE() bool

	// GOTEntry returns the address of symbol's Global Offset Table slot,
	// for the scheduler's read-add-jump shellcode-address fallback.
	GOTEntry(symbol string) (address uint64, ok bool)

	// LibcOffset returns the byte offset from fromFunc to toFunc within
	// the named libc version's symbol table, used to compute mprotect's
	// address from another resolved libc function's address.
	LibcOffset(fromFunc, toFunc, libcVersion string) (offset int64, ok bool)
}
