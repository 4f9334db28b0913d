package assembler

import "stackvm/parser"

// section is the per-global-label record spec.md calls a "global
// section": the ordered tokens belonging to that global label in
// @code, its local-label -> offset map, and the layout computed by
// later passes. Tokens are copied out of the shared token stream at
// partitioning time rather than aliased, so a section owns its slice
// outright.
type section struct {
	name    string
	tokens  []parser.Token
	locals  map[string]int
	size    int // byte size, computed by computeSectionLayout
	address int // absolute image address, assigned by assignAddresses
}

func newSection(name string) *section {
	return &section{name: name, locals: make(map[string]int)}
}
