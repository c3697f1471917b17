package main

import (
	stdpe "debug/pe"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/zboralski/winemu/internal/host"
	"github.com/zboralski/winemu/internal/pe"
	"github.com/zboralski/winemu/internal/selftest"
	"github.com/zboralski/winemu/internal/stubs"
	"github.com/zboralski/winemu/internal/stubs/all"
	"github.com/zboralski/winemu/internal/ui/colorize"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetBorder(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func perms(s *pe.Section) string {
	p := []byte("---")
	if s.Characteristics&stdpe.IMAGE_SCN_MEM_READ != 0 {
		p[0] = 'r'
	}
	if s.Characteristics&stdpe.IMAGE_SCN_MEM_WRITE != 0 {
		p[1] = 'w'
	}
	if s.Characteristics&stdpe.IMAGE_SCN_MEM_EXECUTE != 0 {
		p[2] = 'x'
	}
	return string(p)
}

func (o *options) showInfo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := o.openWith(args[0], &host.Recorder{})
	if err != nil {
		return err
	}
	info := s.info

	fmt.Fprintf(out, "Image:     %s\n", info.Path)
	fmt.Fprintf(out, "Base:      0x%08x\n", info.ImageBase)
	fmt.Fprintf(out, "Entry:     0x%08x\n", info.Entry)
	fmt.Fprintf(out, "Size:      0x%08x\n", info.SizeOfImage)
	fmt.Fprintf(out, "Subsystem: %d\n", info.Subsystem)
	fmt.Fprintf(out, "DLLs:      %s\n\n", strings.Join(info.DLLs, ", "))

	t := newTable(out, "Section", "VA", "VSize", "Raw", "Perms")
	for _, sec := range info.Sections {
		t.Append([]string{
			sec.Name,
			fmt.Sprintf("0x%08x", info.ImageBase+sec.VirtualAddress),
			fmt.Sprintf("0x%x", sec.VirtualSize),
			fmt.Sprintf("0x%x", sec.RawSize),
			perms(sec),
		})
	}
	t.Render()
	fmt.Fprintln(out)

	t = newTable(out, "DLL", "Import", "IAT", "Sentinel", "Stub")
	for _, imp := range info.ImportList {
		sym := imp.Symbol()
		stub := "fallback"
		if def, ok := s.reg.Lookup(sym); ok {
			stub = def.Convention.String()
		}
		t.Append([]string{
			imp.DLL,
			sym,
			fmt.Sprintf("0x%08x", info.ImageBase+imp.IATRVA),
			fmt.Sprintf("0x%08x", info.Imports[sym]),
			stub,
		})
	}
	t.Render()
	return nil
}

func (o *options) runSelftest(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	results := selftest.Run(selftest.Vectors())

	t := newTable(out, "Vector", "Steps", "Result")
	for _, r := range results {
		status := colorize.FuncName("ok")
		switch {
		case r.Err != nil:
			status = colorize.Error(r.Err.Error())
		case len(r.Mismatches) > 0:
			status = colorize.Error(strings.Join(r.Mismatches, "; "))
		}
		t.Append([]string{r.Name, fmt.Sprintf("%d", r.State.Steps), status})
	}
	t.Render()

	passed, failed := selftest.Summary(results)
	fmt.Fprintf(out, "\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d self-test vectors failed", failed)}
	}
	return nil
}

func (o *options) listStubs(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	reg := all.NewRegistry(&host.Recorder{})

	t := newTable(out, "DLL", "Name", "Convention", "Args", "Aliases")
	for _, def := range reg.List() {
		args := "-"
		if def.Convention == stubs.Stdcall {
			args = fmt.Sprintf("%d", def.Args)
		}
		t.Append([]string{def.Category, def.Name, def.Convention.String(), args, strings.Join(def.Aliases, ", ")})
	}
	t.Render()
	fmt.Fprintf(out, "\n%d stubs\n", reg.Count())
	return nil
}
