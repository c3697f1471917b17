package selftest

import "github.com/zboralski/winemu/internal/x86"

type regs = map[x86.Reg]uint32

type dwords = map[uint32]uint32

// Vectors returns the built-in instruction vectors.
func Vectors() []Vector {
	return []Vector{
		{
			Name: "add signed overflow",
			Code: []byte{
				0xB8, 0xFF, 0xFF, 0xFF, 0x7F, // mov eax, 0x7fffffff
				0x83, 0xC0, 0x01, // add eax, 1
			},
			Want:      regs{x86.EAX: 0x80000000},
			WantFlags: x86.FlagOF | x86.FlagSF | x86.FlagAF | x86.FlagPF,
			FlagMask:  ArithFlags,
		},
		{
			Name: "sub borrow",
			Code: []byte{
				0xB8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
				0x83, 0xE8, 0x02, // sub eax, 2
			},
			Want:      regs{x86.EAX: 0xFFFFFFFF},
			WantFlags: x86.FlagCF | x86.FlagSF | x86.FlagAF | x86.FlagPF,
			FlagMask:  ArithFlags,
		},
		{
			Name:      "xor zeroes and clears carry",
			Code:      []byte{0x31, 0xC0}, // xor eax, eax
			Regs:      regs{x86.EAX: 0x1234},
			Flags:     x86.FlagCF | x86.FlagOF,
			Want:      regs{x86.EAX: 0},
			WantFlags: x86.FlagZF | x86.FlagPF,
			FlagMask:  x86.FlagCF | x86.FlagPF | x86.FlagZF | x86.FlagSF | x86.FlagOF,
		},
		{
			Name: "inc keeps carry",
			Code: []byte{
				0xF9,                         // stc
				0xB9, 0xFF, 0xFF, 0xFF, 0xFF, // mov ecx, -1
				0x41, // inc ecx
			},
			Want:      regs{x86.ECX: 0},
			WantFlags: x86.FlagCF | x86.FlagZF | x86.FlagPF | x86.FlagAF,
			FlagMask:  ArithFlags,
		},
		{
			Name: "shl by one",
			Code: []byte{
				0xB8, 0x01, 0x00, 0x00, 0x80, // mov eax, 0x80000001
				0xD1, 0xE0, // shl eax, 1
			},
			Want:      regs{x86.EAX: 2},
			WantFlags: x86.FlagCF | x86.FlagOF,
			FlagMask:  x86.FlagCF | x86.FlagPF | x86.FlagZF | x86.FlagSF | x86.FlagOF,
		},
		{
			Name: "sar keeps sign",
			Code: []byte{
				0xB8, 0x00, 0xFF, 0xFF, 0xFF, // mov eax, 0xffffff00
				0xC1, 0xF8, 0x04, // sar eax, 4
			},
			Want:      regs{x86.EAX: 0xFFFFFFF0},
			WantFlags: x86.FlagSF | x86.FlagPF,
			FlagMask:  x86.FlagCF | x86.FlagPF | x86.FlagZF | x86.FlagSF,
		},
		{
			Name: "shld",
			Code: []byte{
				0xB8, 0x78, 0x56, 0x34, 0x12, // mov eax, 0x12345678
				0xBA, 0xF0, 0xDE, 0xBC, 0x9A, // mov edx, 0x9abcdef0
				0x0F, 0xA4, 0xD0, 0x08, // shld eax, edx, 8
			},
			Want: regs{x86.EAX: 0x3456789A, x86.EDX: 0x9ABCDEF0},
		},
		{
			Name: "imul two operand",
			Code: []byte{
				0xB8, 0xFD, 0xFF, 0xFF, 0xFF, // mov eax, -3
				0xB9, 0x07, 0x00, 0x00, 0x00, // mov ecx, 7
				0x0F, 0xAF, 0xC1, // imul eax, ecx
			},
			Want:     regs{x86.EAX: 0xFFFFFFEB},
			FlagMask: x86.FlagCF | x86.FlagOF,
		},
		{
			Name: "mul into edx",
			Code: []byte{
				0xB8, 0x00, 0x00, 0x00, 0x80, // mov eax, 0x80000000
				0xB9, 0x04, 0x00, 0x00, 0x00, // mov ecx, 4
				0xF7, 0xE1, // mul ecx
			},
			Want:      regs{x86.EAX: 0, x86.EDX: 2},
			WantFlags: x86.FlagCF | x86.FlagOF,
			FlagMask:  x86.FlagCF | x86.FlagOF,
		},
		{
			Name: "div",
			Code: []byte{
				0xBA, 0x00, 0x00, 0x00, 0x00, // mov edx, 0
				0xB8, 0x64, 0x00, 0x00, 0x00, // mov eax, 100
				0xB9, 0x07, 0x00, 0x00, 0x00, // mov ecx, 7
				0xF7, 0xF1, // div ecx
			},
			Want: regs{x86.EAX: 14, x86.EDX: 2},
		},
		{
			Name: "idiv negative",
			Code: []byte{
				0xB8, 0x9C, 0xFF, 0xFF, 0xFF, // mov eax, -100
				0x99,                         // cdq
				0xB9, 0x07, 0x00, 0x00, 0x00, // mov ecx, 7
				0xF7, 0xF9, // idiv ecx
			},
			Want: regs{x86.EAX: 0xFFFFFFF2, x86.EDX: 0xFFFFFFFE},
		},
		{
			Name: "neg and not",
			Code: []byte{
				0xB8, 0x05, 0x00, 0x00, 0x00, // mov eax, 5
				0xF7, 0xD8, // neg eax
				0xF7, 0xD0, // not eax
			},
			Want:      regs{x86.EAX: 4},
			WantFlags: x86.FlagCF | x86.FlagSF,
			FlagMask:  x86.FlagCF | x86.FlagZF | x86.FlagSF | x86.FlagOF,
		},
		{
			Name: "adc carry chain",
			Code: []byte{
				0xF9,                         // stc
				0xB8, 0xFF, 0xFF, 0xFF, 0xFF, // mov eax, -1
				0xBA, 0x00, 0x00, 0x00, 0x00, // mov edx, 0
				0x83, 0xD0, 0x00, // adc eax, 0
				0x83, 0xD2, 0x00, // adc edx, 0
			},
			Want:     regs{x86.EAX: 0, x86.EDX: 1},
			FlagMask: x86.FlagCF | x86.FlagZF,
		},
		{
			Name: "cmp and setcc",
			Code: []byte{
				0xB8, 0x05, 0x00, 0x00, 0x00, // mov eax, 5
				0x83, 0xF8, 0x07, // cmp eax, 7
				0x0F, 0x9C, 0xC3, // setl bl
				0x0F, 0x92, 0xC1, // setb cl
			},
			Want:      regs{x86.EAX: 5, x86.EBX: 1, x86.ECX: 1},
			WantFlags: x86.FlagCF | x86.FlagSF | x86.FlagAF,
			FlagMask:  ArithFlags,
		},
		{
			Name: "cmov",
			Code: []byte{
				0xB8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
				0xB9, 0x02, 0x00, 0x00, 0x00, // mov ecx, 2
				0x39, 0xC8, // cmp eax, ecx
				0x0F, 0x4C, 0xC1, // cmovl eax, ecx
			},
			Want: regs{x86.EAX: 2},
		},
		{
			Name: "xadd",
			Code: []byte{
				0xB8, 0x03, 0x00, 0x00, 0x00, // mov eax, 3
				0xB9, 0x04, 0x00, 0x00, 0x00, // mov ecx, 4
				0x0F, 0xC1, 0xC8, // xadd eax, ecx
			},
			Want: regs{x86.EAX: 7, x86.ECX: 3},
		},
		{
			Name: "bsf",
			Code: []byte{
				0xB9, 0x50, 0x00, 0x00, 0x00, // mov ecx, 0x50
				0x0F, 0xBC, 0xC1, // bsf eax, ecx
			},
			Want:     regs{x86.EAX: 4},
			FlagMask: x86.FlagZF,
		},
		{
			Name: "bswap",
			Code: []byte{
				0xB8, 0x44, 0x33, 0x22, 0x11, // mov eax, 0x11223344
				0x0F, 0xC8, // bswap eax
			},
			Want: regs{x86.EAX: 0x44332211},
		},
		{
			Name: "movsx and movzx",
			Code: []byte{
				0xB8, 0x80, 0x00, 0x00, 0x00, // mov eax, 0x80
				0x0F, 0xBE, 0xD8, // movsx ebx, al
				0x0F, 0xB6, 0xC8, // movzx ecx, al
			},
			Want: regs{x86.EBX: 0xFFFFFF80, x86.ECX: 0x80},
		},
		{
			Name: "cwde and cdq",
			Code: []byte{
				0xB8, 0x00, 0x80, 0x00, 0x00, // mov eax, 0x8000
				0x98, // cwde
				0x99, // cdq
			},
			Want: regs{x86.EAX: 0xFFFF8000, x86.EDX: 0xFFFFFFFF},
		},
		{
			Name: "operand size prefix",
			Code: []byte{
				0xB8, 0xFF, 0xFF, 0x34, 0x12, // mov eax, 0x1234ffff
				0x66, 0x83, 0xC0, 0x01, // add ax, 1
			},
			Want:      regs{x86.EAX: 0x12340000},
			WantFlags: x86.FlagCF | x86.FlagZF,
			FlagMask:  x86.FlagCF | x86.FlagZF,
		},
		{
			Name: "high byte register",
			Code: []byte{
				0xB8, 0x34, 0x12, 0x00, 0x00, // mov eax, 0x1234
				0x00, 0xC4, // add ah, al
			},
			Want: regs{x86.EAX: 0x4634},
		},
		{
			Name: "lea scaled index",
			Code: []byte{
				0xBE, 0x00, 0x10, 0x00, 0x00, // mov esi, 0x1000
				0xB9, 0x03, 0x00, 0x00, 0x00, // mov ecx, 3
				0x8D, 0x44, 0x8E, 0x10, // lea eax, [esi+ecx*4+0x10]
			},
			Want: regs{x86.EAX: 0x101C},
		},
		{
			Name: "push and pop",
			Code: []byte{
				0xB8, 0x44, 0x33, 0x22, 0x11, // mov eax, 0x11223344
				0x50, // push eax
				0x5B, // pop ebx
			},
			Want: regs{x86.EBX: 0x11223344, x86.ESP: StackTop},
		},
		{
			Name: "call and ret",
			Code: []byte{
				0xE8, 0x02, 0x00, 0x00, 0x00, // call +2
				0xEB, 0x06, // jmp end
				0xB8, 0x2A, 0x00, 0x00, 0x00, // mov eax, 42
				0xC3, // ret
			},
			Want: regs{x86.EAX: 42, x86.ESP: StackTop},
		},
		{
			Name: "stack frame",
			Code: []byte{
				0x55,             // push ebp
				0x89, 0xE5, // mov ebp, esp
				0x83, 0xEC, 0x08, // sub esp, 8
				0xC7, 0x45, 0xFC, 0x2A, 0x00, 0x00, 0x00, // mov dword [ebp-4], 42
				0x8B, 0x45, 0xFC, // mov eax, [ebp-4]
				0xC9, // leave
			},
			Regs: regs{x86.EBP: 0x1234},
			Want: regs{x86.EAX: 42, x86.EBP: 0x1234, x86.ESP: StackTop},
		},
		{
			Name: "loop",
			Code: []byte{
				0xB9, 0x05, 0x00, 0x00, 0x00, // mov ecx, 5
				0x31, 0xC0, // xor eax, eax
				0x01, 0xC8, // add eax, ecx
				0xE2, 0xFC, // loop -4
			},
			Want: regs{x86.EAX: 15, x86.ECX: 0},
		},
		{
			Name: "add to memory",
			Code: []byte{
				0x83, 0x05, 0x00, 0x40, 0x00, 0x00, 0x03, // add dword [0x4000], 3
			},
			Mem:      dwords{DataBase: 5},
			WantMem:  dwords{DataBase: 8},
			FlagMask: x86.FlagCF | x86.FlagZF | x86.FlagSF,
		},
		{
			Name: "rep stosd",
			Code: []byte{
				0xBF, 0x00, 0x40, 0x00, 0x00, // mov edi, 0x4000
				0xB9, 0x04, 0x00, 0x00, 0x00, // mov ecx, 4
				0xB8, 0xDD, 0xCC, 0xBB, 0xAA, // mov eax, 0xaabbccdd
				0xFC,       // cld
				0xF3, 0xAB, // rep stosd
			},
			Want:    regs{x86.EDI: 0x4010, x86.ECX: 0},
			WantMem: dwords{0x4000: 0xAABBCCDD, 0x400C: 0xAABBCCDD, 0x4010: 0},
		},
		{
			Name: "rep movsb",
			Code: []byte{
				0xBE, 0x00, 0x40, 0x00, 0x00, // mov esi, 0x4000
				0xBF, 0x00, 0x41, 0x00, 0x00, // mov edi, 0x4100
				0xB9, 0x04, 0x00, 0x00, 0x00, // mov ecx, 4
				0xFC,       // cld
				0xF3, 0xA4, // rep movsb
			},
			Mem:     dwords{0x4000: 0x64636261},
			Want:    regs{x86.ESI: 0x4004, x86.EDI: 0x4104, x86.ECX: 0},
			WantMem: dwords{0x4100: 0x64636261},
		},
		{
			Name: "repe cmpsb stops at mismatch",
			Code: []byte{
				0xBE, 0x00, 0x40, 0x00, 0x00, // mov esi, 0x4000
				0xBF, 0x00, 0x41, 0x00, 0x00, // mov edi, 0x4100
				0xB9, 0x04, 0x00, 0x00, 0x00, // mov ecx, 4
				0xFC,       // cld
				0xF3, 0xA6, // repe cmpsb
			},
			Mem:      dwords{0x4000: 0x64636261, 0x4100: 0x64586261}, // "abcd", "abXd"
			Want:     regs{x86.ESI: 0x4003, x86.EDI: 0x4103, x86.ECX: 1},
			FlagMask: x86.FlagZF | x86.FlagCF,
		},
	}
}
