package vm

// CallFrame holds a return program counter and a sparse mapping from
// local index to value. Reading an undefined local is undefined
// behavior per spec.md; a zero value is returned rather than faulting.
type CallFrame struct {
	ReturnPC int
	locals   map[int]uint32
}

// NewCallFrame creates a frame that resumes at returnPC on ret.
func NewCallFrame(returnPC int) *CallFrame {
	return &CallFrame{ReturnPC: returnPC, locals: make(map[int]uint32)}
}

// SetLocal stores a value at a local index.
func (f *CallFrame) SetLocal(index int, v uint32) {
	f.locals[index] = v
}

// GetLocal reads a local index, zero if never set.
func (f *CallFrame) GetLocal(index int) uint32 {
	return f.locals[index]
}

// CallStack is a LIFO of call frames. The VM keeps one "current frame"
// outside this stack at all times; call pushes the old current frame
// here before installing a fresh one, ret pops it back.
type CallStack struct {
	frames []*CallFrame
}

// NewCallStack returns an empty call stack.
func NewCallStack() *CallStack {
	return &CallStack{}
}

// Push adds a frame to the top of the call stack.
func (c *CallStack) Push(f *CallFrame) {
	c.frames = append(c.frames, f)
}

// Pop removes and returns the top frame, or a runtime error if the call
// stack is empty ("returning with no frame" in spec.md's failure model).
func (c *CallStack) Pop(pc int) (*CallFrame, error) {
	if len(c.frames) == 0 {
		return nil, NewError(pc, "ret with no active call frame")
	}
	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	return f, nil
}
