package colorize

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"golang.org/x/term"
)

// getAssemblyLexer returns an Intel-syntax x86 lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// mode is 0 for automatic detection, 1 forced on, 2 forced off.
var mode atomic.Int32

// SetEnabled forces colour on or off regardless of the terminal.
func SetEnabled(on bool) {
	if on {
		mode.Store(1)
	} else {
		mode.Store(2)
	}
}

var stdoutIsTerminal = sync.OnceValue(func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
})

// IsDisabled returns true if colors are disabled via environment, by
// SetEnabled, or because stdout is not a terminal.
func IsDisabled() bool {
	switch mode.Load() {
	case 1:
		return false
	case 2:
		return true
	}
	if os.Getenv("WINEMU_NO_COLOR") != "" || os.Getenv("NO_COLOR") != "" {
		return true
	}
	return !stdoutIsTerminal()
}

// Instruction colorizes an Intel-syntax instruction using Chroma
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return insn
	}

	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return insn
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

func paint(rgb, s string) string {
	if IsDisabled() {
		return s
	}
	return "\033[38;2;" + rgb + "m" + s + "\033[0m"
}

// Address formats an address in yellow
func Address(addr uint32) string {
	return paint("255;200;0", fmt.Sprintf("%08X", addr))
}

// Tag formats a hashtag in light pink
func Tag(tag string) string {
	return paint("255;180;200", tag)
}

// FuncName formats a function name in yellow (IDA style labels)
func FuncName(name string) string {
	return paint("255;200;0", name)
}

// Detail formats detail text in light gray
func Detail(detail string) string {
	return paint("180;180;180", detail)
}

// Fault formats a fatal halt in red
func Fault(s string) string {
	return paint("255;80;80", s)
}

// Border formats border characters in dark gray
func Border(s string) string {
	return paint("80;80;80", s)
}

// Comment formats comments in white
func Comment(s string) string {
	return paint("255;255;255", s)
}

// Header formats header text in blue (IDA style)
func Header(s string) string {
	return paint("86;156;214", s)
}

// HexBytes formats hex opcode bytes in light gray
func HexBytes(s string) string {
	return paint("180;180;180", s)
}

// Error formats error messages in pink
func Error(s string) string {
	return paint("255;128;192", s)
}

// String formats string values in pink/magenta
func String(s string) string {
	return paint("255;128;192", s)
}
