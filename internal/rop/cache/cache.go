// Package cache (de)serialises a Catalogue to a deterministic, self-
// describing on-disk format, so a finder run's results can be reused by a
// later scheduler run without re-classifying (the "-gadgets_file" CLI
// flag), and rebased when the same binary is reloaded at a different base
// address.
package cache

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/catalogue"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/regset"
)

const formatVersion = "1"

// Serialize writes every gadget in cat as one deterministic line, preceded
// by a header line naming the format version and architecture. Gadgets are
// sorted by (address, variant) so that re-serialising an unchanged
// catalogue is byte-identical (spec.md §8's round-trip property).
func Serialize(cat *catalogue.Catalogue, a *arch.Arch) []byte {
	var gadgets []*gadget.Gadget
	cat.ForEach(func(g *gadget.Gadget) { gadgets = append(gadgets, g) })
	sort.Slice(gadgets, func(i, j int) bool {
		if gadgets[i].Address != gadgets[j].Address {
			return gadgets[i].Address < gadgets[j].Address
		}
		return gadgets[i].Variant < gadgets[j].Variant
	})

	var b strings.Builder
	fmt.Fprintf(&b, "ropforge-gadgets %s %s\n", formatVersion, a.Name)
	for _, g := range gadgets {
		b.WriteString(encodeGadget(g))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Parse reads a Serialize-produced byte stream back into a Catalogue. a
// must be the same architecture named in the header.
func Parse(data []byte, a *arch.Arch) (*catalogue.Catalogue, error) {
	cat := catalogue.New()
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, fmt.Errorf("cache: empty file")
	}
	header := strings.Fields(scanner.Text())
	if len(header) != 3 || header[0] != "ropforge-gadgets" {
		return nil, fmt.Errorf("cache: unrecognised header %q", scanner.Text())
	}
	if header[1] != formatVersion {
		return nil, fmt.Errorf("cache: unsupported format version %q", header[1])
	}
	if header[2] != a.Name {
		return nil, fmt.Errorf("cache: file was written for architecture %q, not %q", header[2], a.Name)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		g, err := decodeGadget(line)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		cat.Insert(g)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return cat, nil
}

// Rebase parses data, adds delta to every gadget's address, and
// re-serialises — used when the same gadget file is replayed against a
// binary loaded at a different base address.
func Rebase(data []byte, delta int64, a *arch.Arch) ([]byte, error) {
	cat, err := Parse(data, a)
	if err != nil {
		return nil, err
	}
	rebased := catalogue.New()
	cat.ForEach(func(g *gadget.Gadget) {
		shifted := *g
		shifted.Address = uint64(int64(g.Address) + delta)
		rebased.Insert(&shifted)
	})
	return Serialize(rebased, a), nil
}

// one line: variant|address|inputs|output|hasOutput|params|clobbers|stackOffset|ipInStackOffset|hasIPInStackOffset
const fieldSep = "|"
const listSep = ","

func encodeGadget(g *gadget.Gadget) string {
	fields := []string{
		strconv.Itoa(int(g.Variant)),
		strconv.FormatUint(g.Address, 16),
		encodeIDs(g.Inputs),
		strconv.Itoa(int(g.Output)),
		strconv.FormatBool(g.HasOutput),
		encodeParams(g.Params),
		encodeIDs(g.Clobbers.Slice()),
		strconv.Itoa(g.StackOffset),
		strconv.Itoa(g.IPInStackOffset),
		strconv.FormatBool(g.HasIPInStackOffset),
	}
	return strings.Join(fields, fieldSep)
}

func decodeGadget(line string) (*gadget.Gadget, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != 10 {
		return nil, fmt.Errorf("malformed line %q", line)
	}
	variant, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, err
	}
	address, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return nil, err
	}
	inputs, err := decodeIDs(fields[2])
	if err != nil {
		return nil, err
	}
	output, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, err
	}
	hasOutput, err := strconv.ParseBool(fields[4])
	if err != nil {
		return nil, err
	}
	params, err := decodeParams(fields[5])
	if err != nil {
		return nil, err
	}
	clobberIDs, err := decodeIDs(fields[6])
	if err != nil {
		return nil, err
	}
	stackOffset, err := strconv.Atoi(fields[7])
	if err != nil {
		return nil, err
	}
	ipInStackOffset, err := strconv.Atoi(fields[8])
	if err != nil {
		return nil, err
	}
	hasIPInStackOffset, err := strconv.ParseBool(fields[9])
	if err != nil {
		return nil, err
	}

	return &gadget.Gadget{
		Variant:            gadget.Variant(variant),
		Address:            address,
		Inputs:             inputs,
		Output:             regset.ID(output),
		HasOutput:          hasOutput,
		Params:             params,
		Clobbers:           regset.Of(clobberIDs...),
		StackOffset:        stackOffset,
		IPInStackOffset:    ipInStackOffset,
		HasIPInStackOffset: hasIPInStackOffset,
	}, nil
}

func encodeIDs(ids []regset.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, listSep)
}

func decodeIDs(s string) ([]regset.ID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, listSep)
	ids := make([]regset.ID, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		ids[i] = regset.ID(v)
	}
	return ids, nil
}

func encodeParams(params []int64) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.FormatInt(p, 10)
	}
	return strings.Join(parts, listSep)
}

func decodeParams(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, listSep)
	params := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		params[i] = v
	}
	return params, nil
}
