// Package finder sweeps a binary's executable segments for candidate byte
// windows and forwards each to the Classifier.
//
// The source ships two implementations: finder.py's nested loop re-invokes
// classification inside its own instruction-walking loop, inflating the
// gadget list, while pyrop/rop_compiler/memory_finder.py steps strictly by
// the architecture's instruction alignment. spec.md §9 resolves this in
// favour of the aligned-step design; that is the only one implemented here.
package finder

import (
	"ropforge/internal/logging"
	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/binaryio"
	"ropforge/internal/rop/catalogue"
	"ropforge/internal/rop/gadget"
)

// Classifier is the subset of classify.Classifier the Finder depends on.
type Classifier interface {
	Classify(code []byte, address uint64) ([]*gadget.Gadget, error)
}

// Finder sweeps segments and feeds every candidate window to a Classifier.
type Finder struct {
	Arch       *arch.Arch
	Classifier Classifier
	Log        *logging.Logger
}

// New builds a Finder.
func New(a *arch.Arch, c Classifier, log *logging.Logger) *Finder {
	return &Finder{Arch: a, Classifier: c, Log: log}
}

// Scan sweeps every executable segment, starting each window at
// segment.Address+base and stepping by the architecture's instruction
// alignment, inserting every gadget the Classifier accepts into cat. It
// returns the count of windows classified. The error result is always nil:
// segment iteration cannot fail, and an error returned by the Classifier
// is logged at debug level and only skips that window.
func (f *Finder) Scan(segments []binaryio.Segment, base uint64, cat *catalogue.Catalogue) (int, error) {
	if base == 0 {
		for _, seg := range segments {
			if seg.Executable && seg.Address == 0 {
				f.Log.Warnf("segment has no base address; PIE/shared-object without a supplied load base, addresses will be wrong")
				break
			}
		}
	}

	windows := 0
	for _, seg := range segments {
		if !seg.Executable {
			continue
		}
		loadAddr := seg.Address + base
		windows += f.scanSegment(seg.Bytes, loadAddr, cat)
	}
	return windows, nil
}

func (f *Finder) scanSegment(code []byte, loadAddr uint64, cat *catalogue.Catalogue) int {
	align := f.Arch.InstructionAlignment
	if align <= 0 {
		align = 1
	}
	maxSize := f.Arch.MaxGadgetSize

	windows := 0
	for offset := 0; offset < len(code); offset += align {
		end := offset + maxSize
		if end > len(code) {
			end = len(code)
		}
		window := code[offset:end]
		if len(window) == 0 {
			break
		}
		windows++

		address := loadAddr + uint64(offset)
		gadgets, err := f.Classifier.Classify(window, address)
		if err != nil {
			f.Log.Debugf("classify error at %#x: %v", address, err)
			continue
		}
		for _, g := range gadgets {
			cat.Insert(g)
		}
	}
	return windows
}
