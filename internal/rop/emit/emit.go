// Package emit packs integer values into architecture-endian words — the
// Payload Emitter stage (spec.md §4.5). It is deliberately the smallest
// package in the module: a few pure functions, no state.
package emit

import "ropforge/internal/rop/arch"

// Word packs v into a's word size and byte order, two's-complement
// wrapping v into range first.
func Word(a *arch.Arch, v uint64) []byte {
	n := a.WordBytes()
	buf := make([]byte, n)
	switch n {
	case 4:
		a.ByteOrder.PutUint32(buf, uint32(v))
	case 8:
		a.ByteOrder.PutUint64(buf, v)
	default:
		// No built-in architecture has any other word width; fall back to
		// a manual byte-at-a-time pack so an unexpected width still
		// produces bytes rather than panicking.
		packManual(buf, v, a.ByteOrder == arch.AMD64.ByteOrder)
	}
	return buf
}

func packManual(buf []byte, v uint64, little bool) {
	for i := range buf {
		shift := uint(i) * 8
		if !little {
			shift = uint(len(buf)-1-i) * 8
		}
		buf[i] = byte(v >> shift)
	}
}

// Words packs a slice of values back to back, in order.
func Words(a *arch.Arch, vs []uint64) []byte {
	out := make([]byte, 0, len(vs)*a.WordBytes())
	for _, v := range vs {
		out = append(out, Word(a, v)...)
	}
	return out
}

// WrapSigned two's-complement wraps a signed value into a's word width.
func WrapSigned(a *arch.Arch, v int64) uint64 {
	mask := uint64(1)<<uint(a.WordBits) - 1
	if a.WordBits >= 64 {
		mask = ^uint64(0)
	}
	return uint64(v) & mask
}
