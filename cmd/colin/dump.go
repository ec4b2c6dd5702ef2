package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-interpreter/wagon/disasm"
	"github.com/vitali2y/redshirt/loader"
)

func dump(w io.Writer, mod *loader.Module, verbose, code bool) error {
	m := mod.Module

	fmt.Fprintf(w, "%s\n  hash %s\n  memory %d bytes\n", mod.Name, mod.Hash, mod.Memory)

	if mod.OnMessage < 0 {
		fmt.Fprintf(w, "  runs _start once and exits\n")
	} else {
		fmt.Fprintf(w, "  reactor, on_message is function %d\n", mod.OnMessage)
	}

	fmt.Fprintf(w, "\n[sections]\n")
	tr := tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)
	for _, sec := range m.Sections {
		fmt.Fprintf(tr, "%v\t%d bytes\n", sec.SectionID(), len(sec.GetRawSection().Bytes))
	}
	tr.Flush()

	if m.Import != nil {
		fmt.Fprintf(w, "\n[imports]\n")
		for i, ii := range m.Import.Entries {
			fmt.Fprintf(w, "%3d %8v %s.%s\n", i, ii.Type.Kind(), ii.ModuleName, ii.FieldName)
		}
	}

	if m.Export != nil {
		fmt.Fprintf(w, "\n[exports]\n")

		var names []string
		for name := range m.Export.Entries {
			names = append(names, name)
		}
		sort.Strings(names)

		tr = tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)
		for _, name := range names {
			e := m.Export.Entries[name]
			fmt.Fprintf(tr, "%s\t%v\t%d\n", name, e.Kind, e.Index)
		}
		tr.Flush()
	}

	fmt.Fprintf(w, "\n[functions]\n")
	tr = tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)
	for i, fn := range m.FunctionIndexSpace {
		switch {
		case fn.IsHost():
			fmt.Fprintf(tr, "%d\t%s\thost\n", i, fn.Name)
		case fn.Body != nil:
			fmt.Fprintf(tr, "%d\t%s\tlen=%d\n", i, fn.Name, len(fn.Body.Code))
		}
	}
	tr.Flush()

	if verbose {
		fmt.Fprintf(w, "\n[memory]\n")
		spew.Fdump(w, m.Memory)
	}

	if !code {
		return nil
	}

	for i, fn := range m.FunctionIndexSpace {
		if fn.IsHost() || fn.Body == nil {
			continue
		}

		d, err := disasm.NewDisassembly(fn, m)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\n%d <%s>: max depth %d\n", i, fn.Name, d.MaxDepth)

		tr = tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)

		for _, instr := range d.Code {
			fmt.Fprintf(tr, "  %02x\t%s\t", instr.Op.Code, instr.Op.Name)

			for _, arg := range instr.Immediates {
				fmt.Fprintf(tr, "%v\t", arg)
			}

			if instr.Op.Code == 0x10 {
				callee := m.FunctionIndexSpace[int(instr.Immediates[0].(uint32))]
				fmt.Fprintf(tr, "# %s", callee.Name)
			}

			fmt.Fprintf(tr, "\n")
		}

		tr.Flush()
	}

	return nil
}
