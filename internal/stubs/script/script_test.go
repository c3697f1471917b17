package script_test

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/stubs"
	"github.com/zboralski/winemu/internal/stubs/all"
	"github.com/zboralski/winemu/internal/stubs/script"
	"github.com/zboralski/winemu/internal/stubs/stubtest"
)

const messageBox = `
stub("user32", "MessageBoxA", {args: 4}, function (ctx) {
	ctx.log("scripted " + ctx.str(ctx.arg(1)));
	return 7;
});
`

func TestScriptOverridesBuiltin(t *testing.T) {
	p := stubtest.New(t, all.Register)
	s, err := script.Load(p.Reg, "box.js", messageBox)
	require.NoError(t, err)
	assert.Equal(t, []string{"MessageBoxA"}, s.Stubs)

	def, ok := p.Reg.Lookup("MessageBoxA")
	require.True(t, ok)
	assert.Equal(t, 4, def.Args)

	var logged []string
	p.Reg.OnCall = func(category, name, detail string) { logged = append(logged, detail) }

	res := p.Call(t, "MessageBoxA", 0, p.String("hi"), p.String("cap"), 0)
	assert.Equal(t, uint32(7), res.EAX)
	assert.Equal(t, 4, res.Released)
	assert.Empty(t, p.Host.MessageBoxes(), "the host is not consulted")
	assert.Equal(t, []string{"scripted hi"}, logged)
}

func TestScriptCdecl(t *testing.T) {
	p := stubtest.New(t, func(*stubs.Registry, host.Host) {})
	_, err := script.Load(p.Reg, "sum.js", `
		stub("msvcrt", "sum3", {convention: "cdecl"}, function (ctx) {
			return ctx.arg(0) + ctx.arg(1) + ctx.arg(2);
		});
	`)
	require.NoError(t, err)

	res := p.Call(t, "sum3", 1, 2, 3)
	assert.Equal(t, uint32(6), res.EAX)
	assert.Equal(t, 0, res.Released)
}

func TestScriptMemoryAccess(t *testing.T) {
	p := stubtest.New(t, func(*stubs.Registry, host.Host) {})
	_, err := script.Load(p.Reg, "mem.js", `
		stub("kernel32", "Fill", {args: 1}, function (ctx) {
			var p = ctx.alloc(16);
			ctx.writeString(p, "from js");
			ctx.write32(ctx.arg(0), p);
			return ctx.read32(ctx.arg(0)) === p ? 1 : 0;
		});
		stub("kernel32", "WideLen", {args: 1}, function (ctx) {
			return ctx.wstr(ctx.arg(0)).length;
		});
	`)
	require.NoError(t, err)

	out := p.Buffer(4)
	res := p.Call(t, "Fill", out)
	assert.Equal(t, uint32(1), res.EAX)
	assert.Equal(t, "from js", p.Emu.Mem.ReadString(p.Emu.Mem.ReadDword(out), 64))

	assert.Equal(t, uint32(5), p.Call(t, "WideLen", p.WideString("hello")).EAX)
}

func TestScriptNegativeReturn(t *testing.T) {
	p := stubtest.New(t, func(*stubs.Registry, host.Host) {})
	_, err := script.Load(p.Reg, "neg.js", `stub("kernel32", "Neg", function () { return -1; });`)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), p.Call(t, "Neg").EAX)

	_, err = script.Load(p.Reg, "void.js", `stub("kernel32", "Void", {}, function () {});`)
	require.NoError(t, err)
	p.Emu.SetEAX(0x55)
	assert.Equal(t, uint32(0), p.Call(t, "Void").EAX)
}

func TestScriptExit(t *testing.T) {
	p := stubtest.New(t, func(*stubs.Registry, host.Host) {})
	_, err := script.Load(p.Reg, "exit.js", `stub("kernel32", "Quit", {args: 1}, function (ctx) { ctx.exit(ctx.arg(0)); });`)
	require.NoError(t, err)

	p.Call(t, "Quit", 9)
	exited, code := p.Emu.Exited()
	assert.True(t, exited)
	assert.Equal(t, uint32(9), code)
}

func TestScriptErrors(t *testing.T) {
	r := stubs.NewRegistry()

	_, err := script.Load(r, "syntax.js", `stub(`)
	assert.Error(t, err)

	_, err = script.Load(r, "notfn.js", `stub("a", "b", {}, 42);`)
	assert.ErrorContains(t, err, "not a function")

	_, err = script.Load(r, "conv.js", `stub("a", "b", {convention: "fastcall"}, function () {});`)
	assert.ErrorContains(t, err, "fastcall")
}

func TestScriptThrowFailsProcess(t *testing.T) {
	p := stubtest.New(t, func(*stubs.Registry, host.Host) {})
	_, err := script.Load(p.Reg, "throw.js", `stub("kernel32", "Boom", function () { throw new Error("boom"); });`)
	require.NoError(t, err)

	addr, _ := p.Emu.ResolveAPI("Boom")
	p.Reg.Bind(p.Emu, "Boom", addr)
	require.NoError(t, p.Emu.CPU.Push(0))
	p.Emu.CPU.SetEIP(addr)

	out, err := p.Emu.Step()
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
	require.NotNil(t, out)
	assert.False(t, out.Normal())
}

func TestLoadFile(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "scripts/box.js", []byte(messageBox), 0o644))

	r := stubs.NewRegistry()
	s, err := script.LoadFile(r, fs, "scripts/box.js")
	require.NoError(t, err)
	assert.Equal(t, "scripts/box.js", s.Name)
	_, ok := r.Lookup("MessageBoxA")
	assert.True(t, ok)

	_, err = script.LoadFile(r, fs, "missing.js")
	assert.Error(t, err)
}
