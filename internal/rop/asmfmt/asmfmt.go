// Package asmfmt renders a classified gadget's underlying byte window for
// -v/debug CLI output, the way the teacher's cmd/wazero exposes compiled
// machine code for inspection.
//
// golang-asm (github.com/twitchyliquid64/golang-asm) is an assembler, not a
// disassembler — it has no API to decode raw bytes back into mnemonics, so
// a full AT&T-style printer is out of reach without reimplementing a
// decoder. What it does offer is the Builder used to validate an
// architecture token, the same way the teacher wraps goasm.NewBuilder(arch,
// size) to construct an arch-specific assembler: this package reuses that
// to fail fast on an architecture golang-asm itself doesn't recognize, and
// falls back to an address-prefixed hex/ASCII dump for the actual byte
// rendering. Wired into cmd/finder's -v output and the validator's
// failed-cross-check diagnostics.
package asmfmt

import (
	"fmt"
	"strings"

	goasm "github.com/twitchyliquid64/golang-asm"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/gadget"
)

// goasmArchName maps an Arch.Name to the token golang-asm's NewBuilder
// expects; architectures this module models that golang-asm has no token
// for fall back to "" (skip validation).
var goasmArchName = map[string]string{
	"amd64": "amd64",
	"x86":   "386",
	"arm64": "arm64",
	"arm":   "arm",
}

// CheckArch validates that a's name is one golang-asm's Builder recognizes,
// by attempting to construct a throwaway Builder for it. ppc32, which this
// module also models, has no golang-asm token and always reports ok with a
// nil error.
func CheckArch(a *arch.Arch) error {
	token, known := goasmArchName[a.Name]
	if !known {
		return nil
	}
	if _, err := goasm.NewBuilder(token, 8); err != nil {
		return fmt.Errorf("asmfmt: golang-asm does not support %q: %w", a.Name, err)
	}
	return nil
}

// Dump renders a gadget's byte window as an address-prefixed hex/ASCII
// listing, one line of up to 16 bytes, for -v output.
func Dump(a *arch.Arch, g *gadget.Gadget, code []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "gadget %s @ %#x (%s, %d bytes)\n", g.Variant, g.Address, a.Name, len(code))
	for off := 0; off < len(code); off += 16 {
		end := off + 16
		if end > len(code) {
			end = len(code)
		}
		line := code[off:end]
		fmt.Fprintf(&b, "  %#08x  %-47s  %s\n", g.Address+uint64(off), hexColumns(line), asciiColumn(line))
	}
	return b.String()
}

func hexColumns(line []byte) string {
	parts := make([]string, len(line))
	for i, c := range line {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

func asciiColumn(line []byte) string {
	b := make([]byte, len(line))
	for i, c := range line {
		if c >= 0x20 && c < 0x7f {
			b[i] = c
		} else {
			b[i] = '.'
		}
	}
	return string(b)
}
