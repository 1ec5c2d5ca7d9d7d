// Command scheduler compiles a goals JSON document (spec.md §6) into a ROP
// payload, using a gadget-cache file produced by the finder command.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"ropforge/internal/logging"
	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/binaryio"
	"ropforge/internal/rop/cache"
	"ropforge/internal/rop/goalspec"
	"ropforge/internal/rop/scheduler"
	"ropforge/internal/rop/symbol"
	"ropforge/internal/version"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	gadgetsFile := flags.String("gadgets_file", "", "Gadget-cache file produced by finder (required).")
	goalsFile := flags.String("goals", "", "Path to a goals JSON document (required).")
	archName := flags.String("arch", "amd64", "Target architecture: amd64, x86, arm, arm64, ppc32.")
	out := flags.String("o", "", "Output path for the compiled payload; stdout if unset.")
	verbose := flags.Bool("v", false, "Enable debug logging to stderr.")
	showVersion := flags.Bool("version", false, "Print the scheduler version and exit.")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdOut, version.GetRopforgeVersion())
		return 0
	}
	if *gadgetsFile == "" || *goalsFile == "" {
		fmt.Fprintln(stdErr, "scheduler: -gadgets_file and -goals are required")
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
		fmt.Fprintf(stdErr, "scheduler: %v\n", err)
		return 1
	}

	gadgetsData, err := os.ReadFile(*gadgetsFile)
	if err != nil {
		fmt.Fprintf(stdErr, "scheduler: read %s: %v\n", *gadgetsFile, err)
		return 1
	}
	cat, err := cache.Parse(gadgetsData, a)
	if err != nil {
		fmt.Fprintf(stdErr, "scheduler: parse %s: %v\n", *gadgetsFile, err)
		return 1
	}

	goalsData, err := os.ReadFile(*goalsFile)
	if err != nil {
		fmt.Fprintf(stdErr, "scheduler: read %s: %v\n", *goalsFile, err)
		return 1
	}
	doc, err := goalspec.Parse(goalsData)
	if err != nil {
		fmt.Fprintf(stdErr, "scheduler: parse %s: %v\n", *goalsFile, err)
		return 1
	}
	goals, err := goalspec.LoadShellcodeFiles(doc.Goals, os.ReadFile)
	if err != nil {
		fmt.Fprintf(stdErr, "scheduler: %v\n", err)
		return 1
	}

	resolver := &symbol.Resolver{}
	var writableBase uint64
	var haveWritable bool
	for _, f := range doc.Files {
		reader, err := binaryio.OpenELF(f.Path, nil)
		if err != nil {
			fmt.Fprintf(stdErr, "scheduler: open %s: %v\n", f.Path, err)
			return 1
		}
		resolver.Files = append(resolver.Files, symbol.File{Reader: reader, Base: f.Base})
		if !haveWritable {
			if addr, _, ok := reader.WritableRegion(); ok {
				writableBase = addr + f.Base
				haveWritable = true
			}
		}
	}
	if !haveWritable {
		fmt.Fprintln(stdErr, "scheduler: no supplied file has a writable region for the payload's scratch memory")
		return 1
	}
	if resolver.AnyPIEWithoutBase() {
		log.Warnf("one or more supplied files are position-independent with no base address; resolved addresses will be wrong")
	}

	sched := scheduler.New(a, cat, resolver, writableBase, log)
	payload, firstAddr, err := sched.Compile(goals)
	if err != nil {
		fmt.Fprintf(stdErr, "scheduler: compile: %v\n", err)
		return 1
	}
	if *verbose {
		log.Debugf("compiled %d-byte payload, entry point %#x", len(payload), firstAddr)
	}

	if *out == "" {
		if _, err := stdOut.Write(payload); err != nil {
			fmt.Fprintf(stdErr, "scheduler: write stdout: %v\n", err)
			return 1
		}
		return 0
	}
	if err := os.WriteFile(*out, payload, 0o644); err != nil {
		fmt.Fprintf(stdErr, "scheduler: write %s: %v\n", *out, err)
		return 1
	}
	return 0
}
