// Package all registers every built-in DLL stub package.
//
// Example:
//
//	r := stubs.NewRegistry()
//	all.Register(r, host.NewConsole(os.Stdout))
//	r.Install(emu, info.Imports)
package all

import (
	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/stubs"
	"github.com/zboralski/winemu/internal/stubs/kernel32"
	"github.com/zboralski/winemu/internal/stubs/msvcrt"
	"github.com/zboralski/winemu/internal/stubs/user32"
)

// Register adds the kernel32, user32 and msvcrt stubs to r.
func Register(r *stubs.Registry, h host.Host) {
	kernel32.Register(r, h)
	user32.Register(r, h)
	msvcrt.Register(r, h)
}

// NewRegistry returns a registry holding every built-in stub.
func NewRegistry(h host.Host) *stubs.Registry {
	r := stubs.NewRegistry()
	Register(r, h)
	return r
}
