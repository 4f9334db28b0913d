package assembler

import (
	"strings"

	"github.com/pkg/errors"

	"stackvm/opcode"
	"stackvm/parser"
)

// preambleSize is the fixed 6-byte prefix: the jmp opcode, a 4-byte
// absolute address of ._entry, and one pad byte.
const preambleSize = 6

const entryLabel = "_entry"

// Image is the assembled result: the flat byte image spec.md's external
// interface describes, plus the one piece of layout metadata the VM
// needs that the image itself cannot self-describe — how many 32-bit
// words of @data precede the code region, so the VM knows how much of
// its global memory to preload at startup.
type Image struct {
	Bytes     []byte
	DataWords int
}

// Assemble runs the full lex-and-assemble pipeline over source, named
// filename purely for diagnostics, and returns the flat bytecode image
// alone, matching spec.md's external bytecode-image contract exactly.
func Assemble(source, filename string) ([]byte, error) {
	img, err := AssembleImage(source, filename)
	if err != nil {
		return nil, err
	}
	return img.Bytes, nil
}

// AssembleImage is Assemble plus the data-region word count a VM needs
// to publish @data into global memory before it starts running.
func AssembleImage(source, filename string) (Image, error) {
	tokens, err := parser.NewLexer(source, filename).Lex()
	if err != nil {
		return Image{}, errors.Wrap(err, "lexing source")
	}
	return assembleTokens(tokens)
}

func assembleTokens(tokens []parser.Token) (Image, error) {
	buckets, err := partitionDirectives(tokens)
	if err != nil {
		return Image{}, errors.Wrap(err, "partitioning directives")
	}

	if err := rejectNonEmptySpace(buckets[parser.Space]); err != nil {
		return Image{}, errors.Wrap(err, "checking @space")
	}

	dataBytes, dataSymbols, err := layoutData(buckets[parser.Data])
	if err != nil {
		return Image{}, errors.Wrap(err, "laying out @data")
	}

	sections, err := partitionCode(buckets[parser.Code])
	if err != nil {
		return Image{}, errors.Wrap(err, "partitioning @code")
	}

	for _, s := range sections {
		if err := computeSectionLayout(s); err != nil {
			return Image{}, errors.Wrapf(err, "computing layout of global %s", s.name)
		}
	}

	globalAddr, err := assignAddresses(sections, dataSymbols, len(dataBytes))
	if err != nil {
		return Image{}, errors.Wrap(err, "assigning global addresses")
	}

	imageBytes, err := emit(globalAddr, dataSymbols, dataBytes, sections)
	if err != nil {
		return Image{}, errors.Wrap(err, "emitting bytecode image")
	}
	return Image{Bytes: imageBytes, DataWords: len(dataBytes) / 4}, nil
}

// partitionDirectives is pass 0: route every non-comment token into the
// bucket for the currently open directive. Newlines are kept (pass 1
// needs them to track line starts in @data); comments are dropped here
// so no later pass has to special-case them.
func partitionDirectives(tokens []parser.Token) (map[parser.DirectiveKind][]parser.Token, error) {
	buckets := make(map[parser.DirectiveKind][]parser.Token)
	seen := make(map[parser.DirectiveKind]bool)

	var cur *parser.DirectiveKind
	var curVec []parser.Token

	flush := func() {
		if cur != nil {
			buckets[*cur] = curVec
		}
	}

	for _, t := range tokens {
		switch t.Kind {
		case parser.TokenDirective:
			flush()
			if seen[t.Directive] {
				return nil, NewError(t.Pos, ErrorDirective, t.Directive.String()+" declared more than once")
			}
			seen[t.Directive] = true
			d := t.Directive
			cur = &d
			curVec = nil

		case parser.TokenEndOfInput:
			flush()

		case parser.TokenComment:
			// dropped

		default:
			if cur == nil {
				if t.Kind == parser.TokenNewLine {
					continue
				}
				return nil, NewError(t.Pos, ErrorDirective, "token appears before any @directive")
			}
			curVec = append(curVec, t)
		}
	}
	return buckets, nil
}

// rejectNonEmptySpace enforces the resolved @space semantics: reserved,
// and fatal if it carries anything but blank lines.
func rejectNonEmptySpace(tokens []parser.Token) error {
	for _, t := range tokens {
		if t.Kind != parser.TokenNewLine {
			return NewError(t.Pos, ErrorEncoding, "@space is reserved and may not contain tokens")
		}
	}
	return nil
}

// layoutData is pass 1.
func layoutData(tokens []parser.Token) ([]byte, map[string]int, error) {
	var buf []byte
	symbols := make(map[string]int)
	lineStart := true
	total := 0

	for _, t := range tokens {
		switch t.Kind {
		case parser.TokenNewLine:
			lineStart = true

		case parser.TokenLabel:
			if t.LabelKind != parser.Global {
				return nil, nil, NewError(t.Pos, ErrorEncoding, "only global labels are permitted in @data")
			}
			if !lineStart {
				return nil, nil, NewError(t.Pos, ErrorDirective, "global labels must be first on the line")
			}
			if _, exists := symbols[t.Name]; exists {
				return nil, nil, NewError(t.Pos, ErrorSymbol, "duplicate data label ."+t.Name)
			}
			symbols[t.Name] = total
			lineStart = false

		case parser.TokenConstant:
			buf = append(buf, encodeWord(uint32(t.Value))...)
			total += 4
			lineStart = false

		case parser.TokenReference:
			return nil, nil, NewError(t.Pos, ErrorEncoding, "reference not permitted in @data")

		case parser.TokenInstruction:
			return nil, nil, NewError(t.Pos, ErrorEncoding, "instruction not permitted in @data")
		}
	}
	return buf, symbols, nil
}

// partitionCode is pass 2: split @code on global-label definitions.
// Newlines kept by pass 0 are dropped here, since pass 3 has no case
// for them.
func partitionCode(tokens []parser.Token) ([]*section, error) {
	var sections []*section
	index := make(map[string]int)
	var current *section

	for _, t := range tokens {
		if t.Kind == parser.TokenNewLine {
			continue
		}
		if t.Kind == parser.TokenLabel && t.LabelKind == parser.Global {
			if _, exists := index[t.Name]; exists {
				return nil, NewError(t.Pos, ErrorSymbol, "duplicate global label ."+t.Name)
			}
			current = newSection(t.Name)
			index[t.Name] = len(sections)
			sections = append(sections, current)
			continue
		}
		if current == nil {
			return nil, NewError(t.Pos, ErrorEncoding, "token outside any global label in @code")
		}
		current.tokens = append(current.tokens, t)
	}

	if len(sections) == 0 {
		return nil, NewError(parser.Position{}, ErrorEncoding, "@code must define at least one global label")
	}
	return sections, nil
}

// computeSectionLayout is pass 3.
func computeSectionLayout(s *section) error {
	count := 0
	for _, t := range s.tokens {
		switch t.Kind {
		case parser.TokenLabel:
			if t.LabelKind != parser.Local {
				return NewError(t.Pos, ErrorEncoding, "global label nested inside a global section")
			}
			if _, exists := s.locals[t.Name]; exists {
				return NewError(t.Pos, ErrorSymbol, "duplicate local label '"+t.Name)
			}
			s.locals[t.Name] = count

		case parser.TokenReference, parser.TokenConstant:
			count += 4

		case parser.TokenInstruction:
			count++

		default:
			return NewError(t.Pos, ErrorEncoding, "unexpected token in @code")
		}
	}
	s.size = count
	return nil
}

// assignAddresses is pass 4.
func assignAddresses(sections []*section, dataSymbols map[string]int, dataSize int) (map[string]int, error) {
	addr := make(map[string]int, len(sections)+len(dataSymbols))
	cursor := preambleSize + dataSize
	for _, s := range sections {
		addr[s.name] = cursor
		s.address = cursor
		cursor += s.size
	}
	for name, offset := range dataSymbols {
		if _, exists := addr[name]; exists {
			return nil, NewError(parser.Position{}, ErrorSymbol, "global label ."+name+" defined in both @code and @data")
		}
		addr[name] = offset + preambleSize
	}
	return addr, nil
}

// emit is pass 5. References used as the operand of g_load/g_store
// resolve through the data symbol table to a word index (the
// [EXPANSION] data-publication rule); every other reference resolves
// through the unified byte-address global map.
func emit(globalAddr map[string]int, dataSymbols map[string]int, dataBytes []byte, sections []*section) ([]byte, error) {
	entryAddr, ok := globalAddr[entryLabel]
	if !ok {
		return nil, NewError(parser.Position{}, ErrorSymbol, "missing required global label ._entry")
	}

	out := make([]byte, 0, preambleSize+len(dataBytes))
	out = append(out, byte(opcode.Jmp))
	out = append(out, encodeWord(uint32(entryAddr))...)
	out = append(out, 0x00)
	out = append(out, dataBytes...)

	for _, s := range sections {
		sectionBytes, err := emitSection(s, globalAddr, dataSymbols)
		if err != nil {
			return nil, errors.Wrapf(err, "emitting global %s", s.name)
		}
		out = append(out, sectionBytes...)
	}
	return out, nil
}

func emitSection(s *section, globalAddr, dataSymbols map[string]int) ([]byte, error) {
	out := make([]byte, 0, s.size)
	lastMnemonic := ""

	addressesGlobalMemory := func(mnemonic string) bool {
		return mnemonic == "g_load" || mnemonic == "g_store"
	}

	for _, t := range s.tokens {
		switch t.Kind {
		case parser.TokenInstruction:
			d, ok := opcode.Lookup(strings.ToLower(t.Name))
			if !ok {
				return nil, NewError(t.Pos, ErrorEncoding, "unknown mnemonic "+t.Name)
			}
			out = append(out, byte(d.Code))
			lastMnemonic = d.Mnemonic

		case parser.TokenConstant:
			out = append(out, encodeWord(uint32(t.Value))...)
			lastMnemonic = ""

		case parser.TokenReference:
			addr, err := resolveReference(t, s, globalAddr, dataSymbols, addressesGlobalMemory(lastMnemonic))
			if err != nil {
				return nil, err
			}
			out = append(out, encodeWord(uint32(addr))...)
			lastMnemonic = ""

		case parser.TokenLabel:
			lastMnemonic = ""
		}
	}
	return out, nil
}

func resolveReference(t parser.Token, s *section, globalAddr, dataSymbols map[string]int, wantsWordIndex bool) (int, error) {
	if t.LabelKind == parser.Local {
		off, ok := s.locals[t.Name]
		if !ok {
			return 0, NewError(t.Pos, ErrorSymbol, "undefined local label '"+t.Name)
		}
		return s.address + off, nil
	}

	if wantsWordIndex {
		off, ok := dataSymbols[t.Name]
		if !ok {
			return 0, NewError(t.Pos, ErrorSymbol, "undefined data label ."+t.Name)
		}
		if off%4 != 0 {
			return 0, NewError(t.Pos, ErrorEncoding, "data label ."+t.Name+" is not word-aligned")
		}
		return off / 4, nil
	}

	addr, ok := globalAddr[t.Name]
	if !ok {
		return 0, NewError(t.Pos, ErrorSymbol, "undefined global label ."+t.Name)
	}
	return addr, nil
}

// encodeWord is the big-endian encoder the spec fixes: most significant
// byte first, the value narrowed to 32 bits before shifting.
func encodeWord(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
