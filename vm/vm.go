package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"stackvm/opcode"
)

// DefaultGlobalMemoryWords is the fixed global-memory size spec.md
// names: 65,535 32-bit words.
const DefaultGlobalMemoryWords = 65535

// VM holds the program image, the value stack, the call stack, the
// current call frame, and a fixed-size global memory array. One VM
// instance owns all of this state for the duration of a single run; it
// is never shared and never kept as package-level state.
type VM struct {
	Program      *Program
	Stack        *Stack
	CallStack    *CallStack
	CurrentFrame *CallFrame
	GlobalMemory []uint32
	MaxSteps     uint64
	Tracer       Tracer

	// Output is where `print` writes; nil means os.Stdout.
	Output io.Writer

	steps uint64
}

// New constructs a VM over an assembled image. dataWords is the number
// of big-endian 32-bit words occupying the image's @data region
// (immediately after the 6-byte preamble); that many words are
// published into global memory before execution starts, resolving the
// data-publication rule the assembler and VM share. memoryWords sizes
// the global memory array; pass DefaultGlobalMemoryWords for the
// spec's literal 65,535.
func New(image []byte, dataWords int, memoryWords int) *VM {
	if memoryWords <= 0 {
		memoryWords = DefaultGlobalMemoryWords
	}
	v := &VM{
		Program:      NewProgram(image),
		Stack:        NewStack(),
		CallStack:    NewCallStack(),
		CurrentFrame: NewCallFrame(0),
		GlobalMemory: make([]uint32, memoryWords),
	}
	v.publishData(image, dataWords)
	return v
}

func (v *VM) publishData(image []byte, dataWords int) {
	const preambleSize = 6
	for i := 0; i < dataWords && i < len(v.GlobalMemory); i++ {
		off := preambleSize + i*4
		if off+4 > len(image) {
			break
		}
		word := uint32(image[off])<<24 | uint32(image[off+1])<<16 | uint32(image[off+2])<<8 | uint32(image[off+3])
		v.GlobalMemory[i] = word
	}
}

// Run executes the fetch-decode-dispatch loop until halt or a fatal
// error. The returned exit code is 1 on a normal halt, matching
// spec.md's process-interface contract; err is non-nil on any runtime
// fault.
func (v *VM) Run() (int, error) {
	for {
		if v.MaxSteps > 0 && v.steps >= v.MaxSteps {
			return 0, NewError(v.Program.PC(), "exceeded maximum step count")
		}
		halted, code, err := v.step()
		if err != nil {
			return 0, err
		}
		if halted {
			return code, nil
		}
		v.steps++
	}
}

func (v *VM) step() (halted bool, exitCode int, err error) {
	pc := v.Program.PC()
	base := v.Program.NextByte()

	hasOperand := opcode.HasOperand(base)
	var operand uint32
	if hasOperand {
		operand = v.Program.NextWord()
	}

	if v.Tracer != nil {
		mnemonic := opcode.Code(base).String()
		v.Tracer.Trace(TraceEvent{
			PC: pc, Opcode: base, Mnemonic: mnemonic,
			HasOperand: hasOperand, Operand: operand,
			Stack: v.Stack.Snapshot(),
		})
	}

	d, ok := opcode.FromByte(base)
	if !ok {
		return false, 0, NewError(pc, "unknown opcode byte")
	}

	switch d.Code {
	case opcode.Noop:
		// none

	case opcode.Const:
		v.Stack.Push(operand)

	case opcode.Load:
		v.Stack.Push(v.CurrentFrame.GetLocal(int(operand)))

	case opcode.GLoad:
		word, gerr := v.readGlobal(pc, operand)
		if gerr != nil {
			return false, 0, gerr
		}
		v.Stack.Push(word)

	case opcode.Store:
		val, perr := v.Stack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.CurrentFrame.SetLocal(int(operand), val)

	case opcode.GStore:
		val, perr := v.Stack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		if serr := v.writeGlobal(pc, operand, val); serr != nil {
			return false, 0, serr
		}

	case opcode.Call:
		v.CallStack.Push(v.CurrentFrame)
		v.CurrentFrame = NewCallFrame(v.Program.PC())
		v.Program.JumpTo(int(operand))

	case opcode.Ret:
		frame, perr := v.CallStack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Program.JumpTo(v.CurrentFrame.ReturnPC)
		v.CurrentFrame = frame

	case opcode.Dup:
		top, perr := v.Stack.Peek(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(top)

	case opcode.Swap:
		a, err1 := v.Stack.Pop(pc)
		if err1 != nil {
			return false, 0, err1
		}
		b, err2 := v.Stack.Pop(pc)
		if err2 != nil {
			return false, 0, err2
		}
		v.Stack.Push(a)
		v.Stack.Push(b)

	case opcode.Add:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(b + a)

	case opcode.Sub:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(toU32(float32(b) - float32(a)))

	case opcode.Mul:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(toU32(float32(a) * float32(b)))

	case opcode.Div:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(toU32(float32(b) / float32(a)))

	case opcode.Pow:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(toU32(float32(math.Pow(float64(a), float64(b)))))

	case opcode.Mod:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(toU32(float32(math.Mod(float64(a), float64(b)))))

	case opcode.Shl:
		top, perr := v.Stack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(top << 1)

	case opcode.Shr:
		top, perr := v.Stack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(top >> 1)

	case opcode.And:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(a & b)

	case opcode.Or:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(a | b)

	case opcode.Xor:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(a ^ b)

	case opcode.Not:
		top, perr := v.Stack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(^top)

	case opcode.CmpEq:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(boolWord(a == b))

	case opcode.CmpNe:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(boolWord(a != b))

	case opcode.CmpGt:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(boolWord(float32(a) > float32(b)))

	case opcode.CmpLt:
		a, b, perr := v.popTwo(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.Stack.Push(boolWord(float32(a) < float32(b)))

	case opcode.Jmp:
		v.Program.JumpTo(int(operand))

	case opcode.JmpRel:
		v.Program.JumpRelative(int32(operand))

	case opcode.JmpRelEq:
		if taken, perr := v.popTwoPredicate(pc, func(a, b uint32) bool { return a == b }); perr != nil {
			return false, 0, perr
		} else if taken {
			v.Program.JumpRelative(int32(operand))
		}

	case opcode.JmpRelNe:
		if taken, perr := v.popTwoPredicate(pc, func(a, b uint32) bool { return a != b }); perr != nil {
			return false, 0, perr
		} else if taken {
			v.Program.JumpRelative(int32(operand))
		}

	case opcode.JmpRelGt:
		if taken, perr := v.popTwoPredicate(pc, func(a, b uint32) bool { return a > b }); perr != nil {
			return false, 0, perr
		} else if taken {
			v.Program.JumpRelative(int32(operand))
		}

	case opcode.JmpRelLt:
		if taken, perr := v.popTwoPredicate(pc, func(a, b uint32) bool { return a < b }); perr != nil {
			return false, 0, perr
		} else if taken {
			v.Program.JumpRelative(int32(operand))
		}

	case opcode.JmpNz:
		top, perr := v.Stack.Pop(pc)
		if perr != nil {
			return false, 0, perr
		}
		if top != 0 {
			v.Program.JumpTo(int(operand))
		}

	case opcode.Print:
		top, perr := v.Stack.Peek(pc)
		if perr != nil {
			return false, 0, perr
		}
		v.print(float32(top))

	case opcode.Halt:
		return true, 1, nil

	default:
		return false, 0, NewError(pc, "unhandled opcode in dispatch")
	}

	return false, 0, nil
}

// popTwo pops a then b, matching the vm.rs convention that names the
// first-popped value a and the second-popped (the one originally below
// it) b.
func (v *VM) popTwo(pc int) (a, b uint32, err error) {
	a, err = v.Stack.Pop(pc)
	if err != nil {
		return 0, 0, err
	}
	b, err = v.Stack.Pop(pc)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (v *VM) popTwoPredicate(pc int, pred func(a, b uint32) bool) (bool, error) {
	a, b, err := v.popTwo(pc)
	if err != nil {
		return false, err
	}
	return pred(a, b), nil
}

func (v *VM) readGlobal(pc int, addr uint32) (uint32, error) {
	if int(addr) >= len(v.GlobalMemory) {
		return 0, NewError(pc, "global memory read out of range")
	}
	return v.GlobalMemory[addr], nil
}

func (v *VM) writeGlobal(pc int, addr, val uint32) error {
	if int(addr) >= len(v.GlobalMemory) {
		return NewError(pc, "global memory write out of range")
	}
	v.GlobalMemory[addr] = val
	return nil
}

func (v *VM) print(f float32) {
	w := v.Output
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w, f)
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// toU32 mirrors the Rust `as u32` cast the original VM performs on
// every transient-float arithmetic result: negative values and NaN
// saturate to 0, values at or above the uint32 range saturate to
// math.MaxUint32, everything else truncates toward zero. This is what
// makes division by zero, and a sub/mul/div/pow/mod result that goes
// negative, well-defined instead of a crash.
func toU32(f float32) uint32 {
	switch {
	case math.IsNaN(float64(f)):
		return 0
	case f <= 0:
		return 0
	case f >= float32(math.MaxUint32):
		return math.MaxUint32
	default:
		return uint32(f)
	}
}
