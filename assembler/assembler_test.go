package assembler_test

import (
	"testing"

	"stackvm/assembler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_AddPrintHalt(t *testing.T) {
	src := "@code\n._entry:\nconst 5\nconst 7\nadd\nprint\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)

	want := []byte{
		0x88, 0x00, 0x00, 0x00, 0x06, 0x00, // preamble, entry at 6
		0x10, 0x00, 0x00, 0x00, 0x05, // const 5
		0x10, 0x00, 0x00, 0x00, 0x07, // const 7
		0x40, // add
		0xE0, // print
		0xF0, // halt
	}
	assert.Equal(t, want, img)
}

func TestAssemble_DataPublishedToGlobalMemory(t *testing.T) {
	src := "@data\n.x:\n3\n@code\n._entry:\ng_load .x\nconst 4\nmul\nprint\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)

	want := []byte{
		0x88, 0x00, 0x00, 0x00, 0x0A, 0x00, // preamble, entry at 10 (6 + 4 data bytes)
		0x00, 0x00, 0x00, 0x03, // data: .x = 3
		0x12, 0x00, 0x00, 0x00, 0x00, // g_load word index 0
		0x10, 0x00, 0x00, 0x00, 0x04, // const 4
		0x42, // mul
		0xE0, // print
		0xF0, // halt
	}
	assert.Equal(t, want, img)
}

func TestAssemble_CmpEq(t *testing.T) {
	src := "@code\n._entry:\nconst 1\nconst 1\ncmp_eq\nprint\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	assert.Equal(t, byte(0x61), img[len(img)-3])
}

func TestAssemble_DupMul(t *testing.T) {
	src := "@code\n._entry:\nconst 2\ndup\nmul\nprint\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), img[11]) // dup, right after the 5-byte const 2
}

func TestAssemble_CallRet(t *testing.T) {
	src := "@code\n._entry:\ncall .f\nhalt\n.f:\nconst 9\nprint\nret\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)

	want := []byte{
		0x88, 0x00, 0x00, 0x00, 0x06, 0x00,
		0x18, 0x00, 0x00, 0x00, 0x0C, // call .f -> addr 12
		0xF0,                         // halt
		0x10, 0x00, 0x00, 0x00, 0x09, // const 9
		0xE0, // print
		0xA0, // ret
	}
	assert.Equal(t, want, img)
}

func TestAssemble_MissingEntryLabelIsFatal(t *testing.T) {
	src := "@code\n.other:\nnoop\nhalt\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.Error(t, err)
	var aerr *assembler.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, assembler.ErrorSymbol, aerr.Kind)
}

func TestAssemble_InstructionOutsideGlobalLabelIsFatal(t *testing.T) {
	src := "@code\nnoop\n._entry:\nhalt\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.Error(t, err)
}

func TestAssemble_ReferenceInDataIsFatal(t *testing.T) {
	src := "@data\n.x:\n.y\n@code\n._entry:\nhalt\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.Error(t, err)
}

func TestAssemble_NonGlobalFirstOnLineInDataIsFatal(t *testing.T) {
	src := "@data\n3 .x:\n@code\n._entry:\nhalt\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.Error(t, err)
}

func TestAssemble_NonEmptySpaceIsFatal(t *testing.T) {
	src := "@space\nconst 1\n@code\n._entry:\nhalt\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.Error(t, err)
}

func TestAssemble_EmptySpaceIsAccepted(t *testing.T) {
	src := "@space\n\n@code\n._entry:\nhalt\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
}

func TestAssemble_LocalLabelVisibleOnlyInOwnSection(t *testing.T) {
	src := "@code\n._entry:\njmp 'x\nhalt\n.g:\n'x:\nret\n"
	_, err := assembler.Assemble(src, "t.asm")
	require.Error(t, err, "'x is local to .g and must not resolve inside ._entry")
}

func TestAssemble_Idempotent(t *testing.T) {
	src := "@code\n._entry:\nconst 1\nconst 2\nadd\nprint\nhalt\n"
	first, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	second, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAssemble_LengthLaw(t *testing.T) {
	src := "@data\n.x:\n1\n2\n@code\n._entry:\nconst 1\nadd\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	// preamble(6) + data(2*4) + section(const=5, add=1, halt=1)
	assert.Len(t, img, 6+8+5+1+1)
}

func TestAssemble_NegativeOneEncodesAsAllOnes(t *testing.T) {
	src := "@code\n._entry:\nconst -1\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, img[7:11])
}

func TestAssemble_LargeConstantEncodesBigEndian(t *testing.T) {
	src := "@code\n._entry:\nconst 999999\nhalt\n"
	img, err := assembler.Assemble(src, "t.asm")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0F, 0x42, 0x3F}, img[7:11])
}
