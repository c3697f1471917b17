package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/zboralski/winemu/internal/config"
	"github.com/zboralski/winemu/internal/debugger"
	"github.com/zboralski/winemu/internal/emulator"
	"github.com/zboralski/winemu/internal/host"
	glog "github.com/zboralski/winemu/internal/log"
	"github.com/zboralski/winemu/internal/stubs"
	"github.com/zboralski/winemu/internal/stubs/all"
	"github.com/zboralski/winemu/internal/stubs/script"
	"github.com/zboralski/winemu/internal/tui"
	"github.com/zboralski/winemu/internal/ui/colorize"
)

type options struct {
	root     string
	config   string
	verbose  bool
	quiet    bool
	maxShow  int
	cmdline  string
	scripts  []string
	tree     bool
	apiTrace bool
	noColor  bool
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	rootCmd := &cobra.Command{
		Use:   "winemu [image.exe]",
		Short: "Run 32-bit Windows executables on a software x86 interpreter",
		Long: `winemu interprets IA-32 machine code one instruction at a time. It maps a
PE32 image, binds every import to a sentinel address and answers calls into
kernel32, user32 and msvcrt with built-in or scripted stubs.

Examples:
  winemu hello.exe                 # trace the first 500 instructions
  winemu hello.exe -q              # final state and stats only
  winemu run hello.exe --tree      # print the call tree afterwards
  winemu info hello.exe            # sections and imports
  winemu debug hello.exe           # interactive debugger
  winemu tui hello.exe             # full-screen stepper
  winemu selftest                  # interpreter self-test`,
		Args:                  cobra.MaximumNArgs(1),
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if o.noColor {
				colorize.SetEnabled(false)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return o.runTrace(cmd, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&o.root, "root", "", "directory the image and config paths are relative to")
	pf.StringVarP(&o.config, "config", "c", "", "YAML config file")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "verbose debug output")
	pf.BoolVar(&o.noColor, "no-color", false, "disable colour")
	pf.StringVar(&o.cmdline, "cmdline", "", "guest command line (default: the image name)")
	pf.StringSliceVar(&o.scripts, "script", nil, "JavaScript stub file (repeatable)")
	addRunFlags(rootCmd, o)

	runCmd := &cobra.Command{
		Use:   "run <image.exe>",
		Short: "Run an image and print the trace and final state",
		Args:  cobra.ExactArgs(1),
		RunE:  o.runTrace,
	}
	addRunFlags(runCmd, o)

	infoCmd := &cobra.Command{
		Use:   "info <image.exe>",
		Short: "Show sections and imports",
		Args:  cobra.ExactArgs(1),
		RunE:  o.showInfo,
	}

	selftestCmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the interpreter self-test vectors",
		Args:  cobra.NoArgs,
		RunE:  o.runSelftest,
	}

	var history string
	debugCmd := &cobra.Command{
		Use:   "debug <image.exe>",
		Short: "Step through an image interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(args[0], cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return debugger.New(s.emu, cmd.OutOrStdout()).Run(history)
		},
	}
	debugCmd.Flags().StringVar(&history, "history", filepath.Join(os.TempDir(), "winemu_history"), "readline history file")

	tuiCmd := &cobra.Command{
		Use:   "tui <image.exe>",
		Short: "Full-screen stepper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// message boxes would draw over the alternate screen
			s, err := o.openWith(args[0], &host.Recorder{})
			if err != nil {
				return err
			}
			out, err := tui.Run(s.emu)
			if err != nil {
				return err
			}
			if out != nil {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}

	stubsCmd := &cobra.Command{
		Use:   "stubs",
		Short: "List the registered API stubs",
		Args:  cobra.NoArgs,
		RunE:  o.listStubs,
	}

	rootCmd.AddCommand(runCmd, infoCmd, selftestCmd, debugCmd, tuiCmd, stubsCmd)
	return rootCmd
}

func addRunFlags(cmd *cobra.Command, o *options) {
	f := cmd.Flags()
	f.BoolVarP(&o.quiet, "quiet", "q", false, "quiet mode (final state + stats only)")
	f.IntVarP(&o.maxShow, "num", "n", 500, "max instructions to show")
	f.BoolVar(&o.tree, "tree", false, "print the call tree")
	f.BoolVar(&o.apiTrace, "trace", false, "list every API call after the run")
}

// resolve returns the filesystem a path is read from and the path inside it.
func (o *options) resolve(path string) (billy.Filesystem, string, error) {
	if o.root != "" {
		return osfs.New(o.root), path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("resolve path: %w", err)
	}
	return osfs.New(filepath.Dir(abs)), filepath.Base(abs), nil
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.config != "" {
		fs, name, err := o.resolve(o.config)
		if err != nil {
			return nil, err
		}
		if cfg, err = config.Load(fs, name); err != nil {
			return nil, err
		}
	}
	if o.verbose {
		cfg.Log.Debug = true
	}
	if o.cmdline != "" {
		cfg.CommandLine = o.cmdline
	}
	cfg.Scripts = append(cfg.Scripts, o.scripts...)
	return cfg, nil
}

// session is a loaded image with its stubs installed.
type session struct {
	cfg       *config.Config
	emu       *emulator.Emulator
	info      *emulator.PEInfo
	reg       *stubs.Registry
	host      host.Host
	installed int
}

func (o *options) open(path string, out io.Writer) (*session, error) {
	return o.openWith(path, host.NewConsole(out))
}

func (o *options) openWith(path string, h host.Host) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	fs, name, err := o.resolve(path)
	if err != nil {
		return nil, err
	}
	if cfg.CommandLine == "" {
		cfg.CommandLine = filepath.Base(name)
	}

	logger := glog.New(cfg.Log.Debug)
	emu, err := emulator.New(append(cfg.Options(), emulator.WithLogger(logger))...)
	if err != nil {
		return nil, fmt.Errorf("create emulator: %w", err)
	}
	info, err := emu.LoadFile(fs, name)
	if err != nil {
		return nil, err
	}
	emu.EnableTrace(cfg.Trace.Limit)

	reg := all.NewRegistry(h)
	reg.Fallbacks = true
	for _, p := range cfg.Scripts {
		sfs, sname, err := o.resolve(p)
		if err != nil {
			return nil, err
		}
		if _, err := script.LoadFile(reg, sfs, sname); err != nil {
			return nil, err
		}
	}

	return &session{
		cfg:       cfg,
		emu:       emu,
		info:      info,
		reg:       reg,
		host:      h,
		installed: reg.Install(emu, info.Imports),
	}, nil
}
