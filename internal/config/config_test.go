package config

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/zboralski/winemu/internal/emulator"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(1_000_000), cfg.MaxInstructions)
	assert.Equal(t, Address(0x130000), cfg.StackTop)
	assert.Equal(t, Address(0x100000), cfg.StackSize)
	assert.Equal(t, Address(0x10000000), cfg.HeapBase)
	assert.Equal(t, 16, cfg.ZeroRunLimit)
	assert.True(t, cfg.BoundToImage)
	assert.False(t, cfg.ProtectCode)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
max_instructions: 5000
stack_top: 0x00200000
stack_size: 65536
heap_base: "0x20000000"
protect_code: true
command_line: 'hello.exe -v'
scripts: [a.js, b.js]
trace:
  enabled: true
  limit: 50
log:
  debug: true
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), cfg.MaxInstructions)
	assert.Equal(t, Address(0x200000), cfg.StackTop)
	assert.Equal(t, Address(0x10000), cfg.StackSize)
	assert.Equal(t, Address(0x20000000), cfg.HeapBase)
	assert.True(t, cfg.ProtectCode)
	assert.Equal(t, "hello.exe -v", cfg.CommandLine)
	assert.Equal(t, []string{"a.js", "b.js"}, cfg.Scripts)
	assert.Equal(t, Trace{Enabled: true, Limit: 50}, cfg.Trace)
	assert.True(t, cfg.Log.Debug)
	// untouched keys keep their defaults
	assert.Equal(t, 16, cfg.ZeroRunLimit)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("stack_tpo: 0x1000\n"))
	assert.ErrorContains(t, err, "stack_tpo")
}

func TestParseRejectsBadAddress(t *testing.T) {
	_, err := Parse([]byte("heap_base: nowhere\n"))
	assert.ErrorContains(t, err, `invalid address "nowhere"`)

	_, err = Parse([]byte("heap_base: 0x100000000\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.HeapBase = 0x120000
	cfg.ZeroRunLimit = -1
	cfg.Scripts = []string{""}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.ErrorContains(t, err, "heap_base 0x00120000 is inside the stack")
	assert.ErrorContains(t, err, "scripts[0] is empty")

	cfg = Default()
	cfg.StackSize = 0
	assert.ErrorContains(t, cfg.Validate(), "stack_size must not be zero")

	cfg = Default()
	cfg.StackTop = 0x1000
	assert.ErrorContains(t, cfg.Validate(), "is below stack_size")
}

func TestLoad(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "winemu.yaml", []byte("zero_run_limit: 4\n"), 0o644))

	cfg, err := Load(fs, "winemu.yaml")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ZeroRunLimit)

	_, err = Load(fs, "missing.yaml")
	assert.ErrorContains(t, err, "read config")
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.MaxInstructions = 77
	cfg.CommandLine = "x.exe"
	cfg.ProtectCode = true

	o := emulator.DefaultOptions()
	for _, opt := range cfg.Options() {
		opt(&o)
	}
	assert.Equal(t, uint64(77), o.MaxInstructions)
	assert.Equal(t, "x.exe", o.CommandLine)
	assert.True(t, o.ProtectCode)
	assert.Equal(t, uint32(emulator.DefaultStackTop), o.StackTop)
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0x00401000", Address(0x401000).String())
}
