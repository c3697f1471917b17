package stubs

import (
	"fmt"
	"strings"

	"github.com/zboralski/winemu/internal/emulator"
)

// MaxString bounds guest string reads done on behalf of stubs.
const MaxString = 4096

// Sprintf formats a guest format string. Arguments are consecutive stack
// dwords starting at argp. Supported: %d %i %u %x %X %c %s %%, the l and h
// length prefixes, the - and 0 flags, a width (or *) and a precision.
// Unknown conversions are copied through.
func Sprintf(emu *emulator.Emulator, format string, argp uint32) string {
	var sb strings.Builder
	next := func() uint32 {
		v := emu.Mem.ReadDword(argp)
		argp += 4
		return v
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		start := i
		i++
		if i >= len(format) {
			sb.WriteByte('%')
			break
		}

		spec := []byte{'%'}
		for i < len(format) && (format[i] == '-' || format[i] == '0') {
			spec = append(spec, format[i])
			i++
		}
		if i < len(format) && format[i] == '*' {
			spec = append(spec, fmt.Sprint(int32(next()))...)
			i++
		}
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			spec = append(spec, format[i])
			i++
		}
		if i < len(format) && format[i] == '.' {
			spec = append(spec, '.')
			i++
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				spec = append(spec, format[i])
				i++
			}
		}
		short := false
		for i < len(format) && (format[i] == 'l' || format[i] == 'h') {
			short = format[i] == 'h'
			i++
		}
		if i >= len(format) {
			sb.WriteString(format[start:])
			break
		}

		switch verb := format[i]; verb {
		case '%':
			sb.WriteByte('%')
		case 'd', 'i':
			v := next()
			if short {
				fmt.Fprintf(&sb, string(append(spec, 'd')), int16(v))
			} else {
				fmt.Fprintf(&sb, string(append(spec, 'd')), int32(v))
			}
		case 'u', 'x', 'X':
			v := next()
			if short {
				v &= 0xFFFF
			}
			if verb == 'u' {
				verb = 'd'
			}
			fmt.Fprintf(&sb, string(append(spec, verb)), v)
		case 'c':
			fmt.Fprintf(&sb, string(append(spec, 'c')), rune(byte(next())))
		case 's':
			p := next()
			s := "(null)"
			if p != 0 {
				s = emu.Mem.ReadString(p, MaxString)
			}
			fmt.Fprintf(&sb, string(append(spec, 's')), s)
		default:
			sb.WriteString(format[start : i+1])
		}
	}
	return sb.String()
}
