// Package symbol resolves goal-file function names against one or more
// loaded binaries, and supplies the GOT/libc-offset lookups the Scheduler's
// read-add-jump shellcode-address fallback needs.
//
// Grounded on pyrop/rop_compiler/goal.py's GoalResolver.resolve_function,
// which walks a caller-supplied list of (binary, base_address) pairs in
// order and returns the first hit.
package symbol

import (
	"fmt"

	"ropforge/internal/rop/binaryio"
)

// File pairs one opened binary with the base address it was (or will be)
// loaded at: base + reader-reported address is the absolute runtime
// address of anything resolved against reader.
type File struct {
	Reader binaryio.Reader
	Base   uint64
}

// Resolver resolves names against an ordered list of files, first match
// wins — mirroring the goals JSON's "files" list order (spec.md §6).
type Resolver struct {
	Files []File
}

// ErrNotFound is returned when no file resolves the requested name.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("symbol: %q not found in any supplied file", e.Name)
}

// Resolve returns name's absolute runtime address: the first file to
// report it wins, rebased by that file's Base.
func (r *Resolver) Resolve(name string) (uint64, error) {
	for _, f := range r.Files {
		if addr, ok := f.Reader.Symbol(name); ok {
			return addr + f.Base, nil
		}
	}
	return 0, &ErrNotFound{Name: name}
}

// GOTEntry returns the absolute address of symbol's GOT slot in the first
// file that has one.
func (r *Resolver) GOTEntry(symbol string) (uint64, bool) {
	for _, f := range r.Files {
		if addr, ok := f.Reader.GOTEntry(symbol); ok {
			return addr + f.Base, true
		}
	}
	return 0, false
}

// LibcOffset returns the byte offset between fromFunc and toFunc in the
// first file that knows libcVersion.
func (r *Resolver) LibcOffset(fromFunc, toFunc, libcVersion string) (int64, bool) {
	for _, f := range r.Files {
		if off, ok := f.Reader.LibcOffset(fromFunc, toFunc, libcVersion); ok {
			return off, true
		}
	}
	return 0, false
}

// AnyPIEWithoutBase reports whether any file is position-independent and
// was not given an explicit non-zero base — the NoBaseAddress warning
// condition (spec.md §7).
func (r *Resolver) AnyPIEWithoutBase() bool {
	for _, f := range r.Files {
		if f.Reader.IsPIE() && f.Base == 0 {
			return true
		}
	}
	return false
}
