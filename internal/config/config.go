// Package config loads winemu run settings from YAML.
//
//	max_instructions: 1000000
//	stack_top: 0x00130000
//	stack_size: 0x00100000
//	command_line: 'hello.exe --verbose'
//	scripts: [stubs/messagebox.js]
//	trace: {enabled: true, limit: 500}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/zboralski/winemu/internal/emulator"
)

// Address is a 32-bit guest address. In YAML it is an integer or a string
// such as "0x00400000".
type Address uint32

func (a *Address) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", n.Line)
	}
	v, err := strconv.ParseUint(n.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid address %q", n.Line, n.Value)
	}
	*a = Address(v)
	return nil
}

func (a Address) MarshalYAML() (any, error) {
	return a.String(), nil
}

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// Trace controls API trace collection.
type Trace struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

// Log controls logging.
type Log struct {
	Debug bool `yaml:"debug"`
}

// Config holds the settings for one run.
type Config struct {
	MaxInstructions uint64   `yaml:"max_instructions"`
	StackTop        Address  `yaml:"stack_top"`
	StackSize       Address  `yaml:"stack_size"`
	HeapBase        Address  `yaml:"heap_base"`
	ProtectCode     bool     `yaml:"protect_code"`
	ZeroRunLimit    int      `yaml:"zero_run_limit"`
	MinCodeAddress  Address  `yaml:"min_code_address"`
	ReturnThreshold Address  `yaml:"return_threshold"`
	BoundToImage    bool     `yaml:"bound_to_image"`
	CommandLine     string   `yaml:"command_line"`
	Scripts         []string `yaml:"scripts"`
	Trace           Trace    `yaml:"trace"`
	Log             Log      `yaml:"log"`
}

// Default returns the built-in settings.
func Default() *Config {
	o := emulator.DefaultOptions()
	return &Config{
		MaxInstructions: o.MaxInstructions,
		StackTop:        Address(o.StackTop),
		StackSize:       Address(o.StackSize),
		HeapBase:        Address(o.HeapBase),
		ProtectCode:     o.ProtectCode,
		ZeroRunLimit:    o.ZeroRunLimit,
		MinCodeAddress:  Address(o.MinCodeAddress),
		ReturnThreshold: Address(o.ReturnThreshold),
		BoundToImage:    o.BoundToImage,
		Trace:           Trace{Limit: 10000},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the config file at path.
func Load(fs billy.Filesystem, path string) (*Config, error) {
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var err error
	if c.StackSize == 0 {
		err = multierr.Append(err, errors.New("stack_size must not be zero"))
	}
	if c.StackTop < c.StackSize {
		err = multierr.Append(err, fmt.Errorf("stack_top %s is below stack_size %s", c.StackTop, c.StackSize))
	}
	low := uint64(c.StackTop) - uint64(min(c.StackSize, c.StackTop))
	if uint64(c.HeapBase) >= low && uint64(c.HeapBase) < uint64(c.StackTop) {
		err = multierr.Append(err, fmt.Errorf("heap_base %s is inside the stack", c.HeapBase))
	}
	if c.ZeroRunLimit < 0 {
		err = multierr.Append(err, errors.New("zero_run_limit must not be negative"))
	}
	if c.Trace.Limit < 0 {
		err = multierr.Append(err, errors.New("trace.limit must not be negative"))
	}
	for i, s := range c.Scripts {
		if s == "" {
			err = multierr.Append(err, fmt.Errorf("scripts[%d] is empty", i))
		}
	}
	return err
}

// Options converts the settings to emulator options.
func (c *Config) Options() []emulator.Option {
	return []emulator.Option{
		emulator.WithMaxInstructions(c.MaxInstructions),
		emulator.WithStack(uint32(c.StackTop), uint32(c.StackSize)),
		emulator.WithHeapBase(uint32(c.HeapBase)),
		emulator.WithProtectCode(c.ProtectCode),
		emulator.WithZeroRunLimit(c.ZeroRunLimit),
		emulator.WithMinCodeAddress(uint32(c.MinCodeAddress)),
		emulator.WithReturnThreshold(uint32(c.ReturnThreshold)),
		emulator.WithBoundToImage(c.BoundToImage),
		emulator.WithCommandLine(c.CommandLine),
	}
}
