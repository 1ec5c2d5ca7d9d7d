package arch

import "fmt"

// byName indexes the built-in descriptors by their CLI-facing name, used by
// the `-arch` flag of both `finder` and `scheduler`.
var byName = map[string]*Arch{
	AMD64.Name: AMD64,
	X86.Name:   X86,
	ARM.Name:   ARM,
	ARM64.Name: ARM64,
	PPC32.Name: PPC32,
}

// Lookup resolves an architecture by name, e.g. "amd64", "arm64".
func Lookup(name string) (*Arch, error) {
	a, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q", name)
	}
	return a, nil
}
