package vm

// Program is the flat, byte-addressable image the VM executes: a byte
// buffer plus a program counter, with big-endian multi-byte readers.
// Reading past the end is undefined, as spec.md allows — the VM relies
// on halt to terminate before that ever happens.
type Program struct {
	bytes []byte
	pc    int
}

// NewProgram wraps an assembled image, pc starting at 0.
func NewProgram(image []byte) *Program {
	return &Program{bytes: image}
}

// PC returns the current program counter.
func (p *Program) PC() int {
	return p.pc
}

// NextByte reads one byte and advances pc by 1.
func (p *Program) NextByte() byte {
	v := p.bytes[p.pc]
	p.pc++
	return v
}

// NextHalfword reads two big-endian bytes and advances pc by 2.
func (p *Program) NextHalfword() uint16 {
	hi := uint16(p.NextByte())
	lo := uint16(p.NextByte())
	return hi<<8 | lo
}

// NextWord reads four big-endian bytes and advances pc by 4.
func (p *Program) NextWord() uint32 {
	hi := uint32(p.NextHalfword())
	lo := uint32(p.NextHalfword())
	return hi<<16 | lo
}

// JumpTo sets pc to an absolute address.
func (p *Program) JumpTo(addr int) {
	p.pc = addr
}

// JumpRelative adjusts pc by a signed delta.
func (p *Program) JumpRelative(delta int32) {
	p.pc = int(int32(p.pc) + delta)
}
