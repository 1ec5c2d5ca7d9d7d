// Package liftx86 is ropforge's own implementation of the disassembler/IR
// lifter collaborator spec.md §6 describes as external, for amd64 and x86.
// golang.org/x/arch/x86/x86asm is the decoder — the one real x86 decoder
// anywhere in the retrieved corpus (other_examples' mewmew/x86 wraps the
// same package). Only the instruction forms that actually occur as ROP
// gadgets are translated: register moves, stack pop/push, a single-base-
// register memory load/store, lea, simple register/immediate ALU ops, and
// a register-indirect ret/jmp. Anything else — an unrecognised opcode, a
// scaled-index memory operand, a rip-relative operand — is reported back
// as a lift failure, which the Finder treats as a silent skip (spec.md §7).
package liftx86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"ropforge/internal/rop/arch"
	"ropforge/internal/rop/ir"
	"ropforge/internal/rop/regset"
)

// Lifter implements ir.Lifter for one architecture (amd64 or x86).
type Lifter struct {
	Arch *arch.Arch
}

// New returns a Lifter bound to a.
func New(a *arch.Arch) *Lifter { return &Lifter{Arch: a} }

func (l *Lifter) mode() int {
	if l.Arch.WordBits == 64 {
		return 64
	}
	return 32
}

var reg64Name = map[x86asm.Reg]string{
	x86asm.RAX: "rax", x86asm.RCX: "rcx", x86asm.RDX: "rdx", x86asm.RBX: "rbx",
	x86asm.RSP: "rsp", x86asm.RBP: "rbp", x86asm.RSI: "rsi", x86asm.RDI: "rdi",
	x86asm.R8: "r8", x86asm.R9: "r9", x86asm.R10: "r10", x86asm.R11: "r11",
	x86asm.R12: "r12", x86asm.R13: "r13", x86asm.R14: "r14", x86asm.R15: "r15",
}

var reg32Name = map[x86asm.Reg]string{
	x86asm.EAX: "eax", x86asm.ECX: "ecx", x86asm.EDX: "edx", x86asm.EBX: "ebx",
	x86asm.ESP: "esp", x86asm.EBP: "ebp", x86asm.ESI: "esi", x86asm.EDI: "edi",
}

func (l *Lifter) reg(r x86asm.Reg) (regset.ID, bool) {
	name, ok := reg64Name[r]
	if !ok {
		if l.mode() == 32 {
			name, ok = reg32Name[r]
		}
		if !ok {
			return 0, false
		}
	}
	info, ok := l.Arch.Register(name)
	if !ok {
		return 0, false
	}
	return info.ID, true
}

// Lift implements ir.Lifter: decode instructions starting at address,
// stopping at the first recognised control-flow terminator (ret, or a
// register-indirect jmp). Any decode failure or unsupported instruction —
// at any position in the window, not just the first — fails the whole
// window, since a window this lifter cannot account for in full cannot be
// trusted to behave as claimed past the point it stopped understanding it.
func (l *Lifter) Lift(code []byte, address uint64, wordBits int) (*ir.Block, error) {
	var stmts []ir.Stmt
	pos := 0
	wordBytes := int64(l.Arch.WordBytes())

	for pos < len(code) {
		inst, err := x86asm.Decode(code[pos:], l.mode())
		if err != nil {
			return nil, fmt.Errorf("liftx86: decode at %#x+%d: %w", address, pos, err)
		}
		terminal, err := l.translate(&stmts, inst, wordBytes)
		if err != nil {
			return nil, err
		}
		pos += inst.Len
		if terminal {
			return &ir.Block{Statements: stmts}, nil
		}
	}
	return nil, fmt.Errorf("liftx86: no control-flow terminator found in window at %#x", address)
}

func getExpr(id regset.ID) *ir.Expr   { return &ir.Expr{Tag: ir.Get, Offset: id} }
func constExpr(v int64) *ir.Expr      { return &ir.Expr{Tag: ir.Const, ConstValue: uint64(v), ConstSize: 64} }
func loadExpr(addr *ir.Expr) *ir.Expr    { return &ir.Expr{Tag: ir.Load, Addr: addr} }
func binExpr(op ir.Op, a, b *ir.Expr) *ir.Expr {
	return &ir.Expr{Tag: ir.Binop, Op: op, Args: []*ir.Expr{a, b}}
}

func putStmt(id regset.ID, data *ir.Expr) ir.Stmt {
	return ir.Stmt{Tag: ir.Put, Offset: id, Data: data}
}

func storeStmt(addr, data *ir.Expr) ir.Stmt {
	return ir.Stmt{Tag: ir.Store, Addr: addr, Data: data}
}

// memAddr translates a Mem operand with a single base register (no scaled
// index, no segment override, no rip-relative addressing) into the
// equivalent IR address expression.
func (l *Lifter) memAddr(m x86asm.Mem) (*ir.Expr, error) {
	if m.Index != 0 || m.Segment != 0 {
		return nil, fmt.Errorf("liftx86: unsupported scaled-index or segment memory operand %v", m)
	}
	baseID, ok := l.reg(m.Base)
	if !ok {
		return nil, fmt.Errorf("liftx86: unsupported memory base %v", m.Base)
	}
	return binExpr(ir.OpAdd64, getExpr(baseID), constExpr(m.Disp)), nil
}

func (l *Lifter) valueExpr(arg x86asm.Arg) (*ir.Expr, error) {
	switch v := arg.(type) {
	case x86asm.Reg:
		id, ok := l.reg(v)
		if !ok {
			return nil, fmt.Errorf("liftx86: unsupported register %v", v)
		}
		return getExpr(id), nil
	case x86asm.Imm:
		return constExpr(int64(v)), nil
	default:
		return nil, fmt.Errorf("liftx86: unsupported operand %v", arg)
	}
}

func aluOp(op x86asm.Op) (ir.Op, bool) {
	switch op {
	case x86asm.ADD:
		return ir.OpAdd64, true
	case x86asm.SUB:
		return ir.OpSub64, true
	case x86asm.AND:
		return ir.OpAnd64, true
	case x86asm.XOR:
		return ir.OpXor64, true
	default:
		return "", false
	}
}

// translate appends the IR for one decoded instruction and reports whether
// it is a control-flow terminator for this window.
func (l *Lifter) translate(stmts *[]ir.Stmt, inst x86asm.Inst, wordBytes int64) (bool, error) {
	switch inst.Op {
	case x86asm.NOP:
		*stmts = append(*stmts, ir.Stmt{Tag: ir.NoOp})
		return false, nil

	case x86asm.RET:
		addr := binExpr(ir.OpAdd64, getExpr(l.Arch.SP), constExpr(0))
		*stmts = append(*stmts, putStmt(l.Arch.IP, loadExpr(addr)))
		adj := wordBytes
		if imm, ok := inst.Args[0].(x86asm.Imm); ok {
			adj += int64(imm)
		}
		*stmts = append(*stmts, putStmt(l.Arch.SP, binExpr(ir.OpAdd64, getExpr(l.Arch.SP), constExpr(adj))))
		return true, nil

	case x86asm.POP:
		dst, ok := inst.Args[0].(x86asm.Reg)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported pop operand %v", inst.Args[0])
		}
		dstID, ok := l.reg(dst)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported register %v", dst)
		}
		addr := binExpr(ir.OpAdd64, getExpr(l.Arch.SP), constExpr(0))
		*stmts = append(*stmts, putStmt(dstID, loadExpr(addr)))
		*stmts = append(*stmts, putStmt(l.Arch.SP, binExpr(ir.OpAdd64, getExpr(l.Arch.SP), constExpr(wordBytes))))
		return false, nil

	case x86asm.PUSH:
		val, err := l.valueExpr(inst.Args[0])
		if err != nil {
			return false, err
		}
		*stmts = append(*stmts, putStmt(l.Arch.SP, binExpr(ir.OpSub64, getExpr(l.Arch.SP), constExpr(wordBytes))))
		*stmts = append(*stmts, storeStmt(getExpr(l.Arch.SP), val))
		return false, nil

	case x86asm.JMP:
		src, ok := inst.Args[0].(x86asm.Reg)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported jmp operand %v", inst.Args[0])
		}
		srcID, ok := l.reg(src)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported register %v", src)
		}
		*stmts = append(*stmts, putStmt(l.Arch.IP, getExpr(srcID)))
		return true, nil

	case x86asm.LEA:
		dst, ok := inst.Args[0].(x86asm.Reg)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported lea destination %v", inst.Args[0])
		}
		dstID, ok := l.reg(dst)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported register %v", dst)
		}
		mem, ok := inst.Args[1].(x86asm.Mem)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported lea source %v", inst.Args[1])
		}
		addr, err := l.memAddr(mem)
		if err != nil {
			return false, err
		}
		*stmts = append(*stmts, putStmt(dstID, addr))
		return false, nil

	case x86asm.MOV:
		return false, l.translateMov(stmts, inst)

	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.XOR:
		dst, ok := inst.Args[0].(x86asm.Reg)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported alu destination %v", inst.Args[0])
		}
		dstID, ok := l.reg(dst)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported register %v", dst)
		}
		rhs, err := l.valueExpr(inst.Args[1])
		if err != nil {
			return false, err
		}
		op, ok := aluOp(inst.Op)
		if !ok {
			return false, fmt.Errorf("liftx86: unsupported alu opcode %v", inst.Op)
		}
		*stmts = append(*stmts, putStmt(dstID, binExpr(op, getExpr(dstID), rhs)))
		return false, nil

	default:
		return false, fmt.Errorf("liftx86: unsupported opcode %v", inst.Op)
	}
}

func (l *Lifter) translateMov(stmts *[]ir.Stmt, inst x86asm.Inst) error {
	switch dst := inst.Args[0].(type) {
	case x86asm.Reg:
		dstID, ok := l.reg(dst)
		if !ok {
			return fmt.Errorf("liftx86: unsupported register %v", dst)
		}
		switch src := inst.Args[1].(type) {
		case x86asm.Reg:
			srcID, ok := l.reg(src)
			if !ok {
				return fmt.Errorf("liftx86: unsupported register %v", src)
			}
			*stmts = append(*stmts, putStmt(dstID, getExpr(srcID)))
		case x86asm.Mem:
			addr, err := l.memAddr(src)
			if err != nil {
				return err
			}
			*stmts = append(*stmts, putStmt(dstID, loadExpr(addr)))
		case x86asm.Imm:
			*stmts = append(*stmts, putStmt(dstID, constExpr(int64(src))))
		default:
			return fmt.Errorf("liftx86: unsupported mov source %v", inst.Args[1])
		}
		return nil
	case x86asm.Mem:
		addr, err := l.memAddr(dst)
		if err != nil {
			return err
		}
		val, err := l.valueExpr(inst.Args[1])
		if err != nil {
			return err
		}
		*stmts = append(*stmts, storeStmt(addr, val))
		return nil
	default:
		return fmt.Errorf("liftx86: unsupported mov destination %v", inst.Args[0])
	}
}
