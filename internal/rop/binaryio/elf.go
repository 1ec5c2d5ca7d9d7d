package binaryio

import (
	"debug/elf"
	"fmt"
)

// ELFReader is the concrete Reader backing the finder/scheduler CLIs. ELF
// parsing itself is out of scope for the core (spec.md §1); this file is a
// thin adaptation of the standard library's debug/elf reader to the Reader
// interface, since no third-party ELF library appears anywhere in the
// example corpus (confirmed by grep across _examples/ for elf/capstone
// equivalents — none ship one; debug/elf is the only available option).
type ELFReader struct {
	file *elf.File

	staticSyms  map[string]uint64
	dynamicSyms map[string]uint64

	// libcPaths maps a libc version string (as named in goals JSON / CLI
	// flags) to a path of that libc's ELF file on disk, used to answer
	// LibcOffset without this module embedding any libc database.
	libcPaths  map[string]string
	libcSyms   map[string]map[string]uint64
}

// OpenELF opens path and indexes its symbol tables. libcPaths may be nil;
// when set, LibcOffset resolves against the named libc file.
func OpenELF(path string, libcPaths map[string]string) (*ELFReader, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("binaryio: open %s: %w", path, err)
	}

	r := &ELFReader{
		file:       f,
		libcPaths:  libcPaths,
		libcSyms:   map[string]map[string]uint64{},
	}
	r.staticSyms = symbolMap(f.Symbols())
	r.dynamicSyms = symbolMap(f.DynamicSymbols())
	return r, nil
}

func symbolMap(syms []elf.Symbol, err error) map[string]uint64 {
	m := map[string]uint64{}
	if err != nil {
		return m
	}
	for _, s := range syms {
		if s.Name != "" && s.Value != 0 {
			m[s.Name] = s.Value
		}
	}
	return m
}

func (r *ELFReader) Segments() []Segment {
	var out []Segment
	for _, prog := range r.file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			continue
		}
		out = append(out, Segment{
			Bytes:      data,
			Address:    prog.Vaddr,
			Writable:   prog.Flags&elf.PF_W != 0,
			Executable: prog.Flags&elf.PF_X != 0,
		})
	}
	return out
}

func (r *ELFReader) WritableRegion() (uint64, int, bool) {
	for _, prog := range r.file.Progs {
		if prog.Type == elf.PT_LOAD && prog.Flags&elf.PF_W != 0 {
			return prog.Vaddr, int(prog.Memsz), true
		}
	}
	return 0, 0, false
}

func (r *ELFReader) Symbol(name string) (uint64, bool) {
	if v, ok := r.staticSyms[name]; ok {
		return v, true
	}
	if v, ok := r.dynamicSyms[name]; ok {
		return v, true
	}
	// The dynamic segment itself (DT_NEEDED / DT_SONAME et al.) carries no
	// further name->address entries beyond what DynamicSymbols reports.
	return 0, false
}

func (r *ELFReader) IsPIE() bool {
	return r.file.Type == elf.ET_DYN
}

func (r *ELFReader) GOTEntry(symbol string) (uint64, bool) {
	sect := r.file.Section(".got")
	if sect == nil {
		return 0, false
	}
	// Without full relocation parsing, fall back to the symbol's own
	// recorded address, which for most GOT-only imports is the PLT stub's
	// referenced slot in the dynamic symbol table.
	addr, ok := r.dynamicSyms[symbol]
	if !ok || addr < sect.Addr || addr >= sect.Addr+sect.Size {
		return 0, false
	}
	return addr, true
}

func (r *ELFReader) LibcOffset(fromFunc, toFunc, libcVersion string) (int64, bool) {
	syms, ok := r.libcSymbols(libcVersion)
	if !ok {
		return 0, false
	}
	from, ok := syms[fromFunc]
	if !ok {
		return 0, false
	}
	to, ok := syms[toFunc]
	if !ok {
		return 0, false
	}
	return int64(to) - int64(from), true
}

func (r *ELFReader) libcSymbols(version string) (map[string]uint64, bool) {
	if syms, ok := r.libcSyms[version]; ok {
		return syms, true
	}
	path, ok := r.libcPaths[version]
	if !ok {
		return nil, false
	}
	f, err := elf.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	syms := symbolMap(f.DynamicSymbols())
	r.libcSyms[version] = syms
	return syms, true
}
