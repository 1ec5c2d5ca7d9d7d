// Command finder sweeps a target binary's executable segments for ROP
// gadgets and writes a gadget-cache file (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ropforge/internal/logging"
	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/asmfmt"
	"ropforge/internal/rop/binaryio"
	"ropforge/internal/rop/cache"
	"ropforge/internal/rop/catalogue"
	"ropforge/internal/rop/classify"
	"ropforge/internal/rop/finder"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/ir"
	"ropforge/internal/rop/liftx86"
	"ropforge/internal/version"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("finder", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	target := flags.String("target", "", "Path to the binary to scan (required).")
	gadgetsFile := flags.String("gadgets_file", "", "Existing gadget-cache file to load and merge new hits into.")
	baseAddress := flags.String("base_address", "", "Hex load base for a PIE/shared-object target, e.g. 0x400000.")
	archName := flags.String("arch", "amd64", "Target architecture: amd64, x86, arm, arm64, ppc32.")
	out := flags.String("o", "", "Output path for the gadget-cache file; stdout if unset.")
	verbose := flags.Bool("v", false, "Enable debug logging to stderr.")
	showVersion := flags.Bool("version", false, "Print the finder version and exit.")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdOut, version.GetRopforgeVersion())
		return 0
	}
	if *target == "" {
		fmt.Fprintln(stdErr, "finder: -target is required")
		flags.PrintDefaults()
		return 2
	}

	level := logging.LevelWarn
	if *verbose {
		level = logging.LevelDebug
	}
	log := logging.New(stdErr, level)

	a, err := arch.Lookup(*archName)
	if err != nil {
		fmt.Fprintf(stdErr, "finder: %v\n", err)
		return 1
	}

	base, err := parseHex(*baseAddress)
	if err != nil {
		fmt.Fprintf(stdErr, "finder: -base_address: %v\n", err)
		return 2
	}

	lifter, err := newLifter(a)
	if err != nil {
		fmt.Fprintf(stdErr, "finder: %v\n", err)
		return 1
	}

	reader, err := binaryio.OpenELF(*target, nil)
	if err != nil {
		fmt.Fprintf(stdErr, "finder: open %s: %v\n", *target, err)
		return 1
	}

	if base == 0 && reader.IsPIE() {
		log.Warnf("%s is position-independent and no -base_address was given; addresses will be wrong", *target)
	}

	cat := catalogue.New()
	if *gadgetsFile != "" {
		if data, err := os.ReadFile(*gadgetsFile); err == nil {
			if loaded, err := cache.Parse(data, a); err != nil {
				fmt.Fprintf(stdErr, "finder: parse %s: %v\n", *gadgetsFile, err)
				return 1
			} else {
				loaded.ForEach(func(g *gadget.Gadget) { cat.Insert(g) })
			}
		} else if !os.IsNotExist(err) {
			fmt.Fprintf(stdErr, "finder: read %s: %v\n", *gadgetsFile, err)
			return 1
		}
	}

	classifier := classify.New(a, lifter, log)
	f := finder.New(a, classifier, log)

	segments := reader.Segments()
	windows, err := f.Scan(segments, base, cat)
	if err != nil {
		fmt.Fprintf(stdErr, "finder: scan: %v\n", err)
		return 1
	}

	count := 0
	cat.ForEach(func(g *gadget.Gadget) {
		count++
		if *verbose {
			if window, ok := gadgetBytes(segments, base, a, g); ok {
				log.Debugf("%s", asmfmt.Dump(a, g, window))
			}
		}
	})
	if *verbose {
		log.Debugf("scanned %d windows, catalogued %d gadgets", windows, count)
	}

	data := cache.Serialize(cat, a)
	if *out == "" {
		if _, err := stdOut.Write(data); err != nil {
			fmt.Fprintf(stdErr, "finder: write stdout: %v\n", err)
			return 1
		}
		return 0
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(stdErr, "finder: write %s: %v\n", *out, err)
		return 1
	}
	return 0
}

// gadgetBytes slices g's raw byte window back out of the segment it was
// found in, for -v diagnostic dumps; the catalogue only keeps the
// classified Gadget, not its source bytes, so this re-locates them by
// address the same way the finder found them in the first place.
func gadgetBytes(segments []binaryio.Segment, base uint64, a *arch.Arch, g *gadget.Gadget) ([]byte, bool) {
	for _, seg := range segments {
		if !seg.Executable {
			continue
		}
		loadAddr := seg.Address + base
		if g.Address < loadAddr || g.Address >= loadAddr+uint64(len(seg.Bytes)) {
			continue
		}
		offset := int(g.Address - loadAddr)
		end := offset + a.MaxGadgetSize
		if end > len(seg.Bytes) {
			end = len(seg.Bytes)
		}
		return seg.Bytes[offset:end], true
	}
	return nil, false
}

func parseHex(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// newLifter returns this module's own IR-lifter implementation for
// architectures it has one for (amd64, x86); others have no concrete
// lifter in this module (the disassembler is an external collaborator per
// spec.md §6) and fail with a clear error rather than silently doing
// nothing.
func newLifter(a *arch.Arch) (ir.Lifter, error) {
	switch a.Name {
	case "amd64", "x86":
		return liftx86.New(a), nil
	default:
		return nil, fmt.Errorf("no built-in lifter for architecture %q (supply one via the library API)", a.Name)
	}
}
