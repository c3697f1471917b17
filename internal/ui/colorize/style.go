// Package colorize provides syntax highlighting for trace and disassembly
// output. Colour is off when stdout is not a terminal or NO_COLOR is set.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// Theme colors
const (
	ColorText     = "#FFFFFF"
	ColorRegister = "#87CEEB"
	ColorNumber   = "#FF80C0"
	ColorLabel    = "#FFC800"
	ColorComment  = "#FF8000"
	ColorString   = "#00FF00"
)

// DisasmDark is the style used for Intel-syntax x86 lines.
var DisasmDark = styles.Register(chroma.MustNewStyle("disasm-dark", chroma.StyleEntries{
	chroma.Text:           ColorText,
	chroma.Background:     "bg:#000000",
	chroma.Comment:        ColorComment,
	chroma.CommentPreproc: ColorComment,

	// nasm lexer: mnemonics are keywords, registers are builtins
	chroma.Keyword:       ColorText,
	chroma.KeywordPseudo: ColorText,
	chroma.KeywordType:   ColorText, // dword, ptr
	chroma.Name:          ColorRegister,
	chroma.NameBuiltin:   ColorRegister,
	chroma.NameVariable:  ColorRegister,

	chroma.LiteralNumber:        ColorNumber,
	chroma.LiteralNumberHex:     ColorNumber,
	chroma.LiteralNumberBin:     ColorNumber,
	chroma.LiteralNumberOct:     ColorNumber,
	chroma.LiteralNumberInteger: ColorNumber,
	chroma.LiteralNumberFloat:   ColorNumber,

	chroma.NameLabel:    ColorLabel,
	chroma.NameFunction: ColorText,

	chroma.Operator:    ColorText,
	chroma.Punctuation: ColorText,

	chroma.String: ColorString,
}))
