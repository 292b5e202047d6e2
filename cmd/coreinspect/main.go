// Command coreinspect is a diagnostic dump tool for a loaded core: it
// walks every TypeDef in an assembly's metadata, resolves each through
// the same mil.Resolver a running core would use, and prints the
// resulting type handles, vtables, and published JIT code.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/clrcore/jitmeta"
	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/typereg"
)

var (
	wantMethods bool
	wantVTable  bool
	typeFilter  string
)

func openCore(path string) (*metadata.Assembly, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	asm, err := metadata.OpenAssembly(data, nil)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, nil, err
	}
	return asm, func() { data.Unmap(); f.Close() }, nil
}

func inspect(path string) error {
	asm, closeCore, err := openCore(path)
	if err != nil {
		return fmt.Errorf("coreinspect: opening %s: %w", path, err)
	}
	defer closeCore()

	rt := jitmeta.New(nil)
	if err := rt.SetCurrentAssembly(asm); err != nil {
		return fmt.Errorf("coreinspect: %w", err)
	}

	n := asm.RowCount(metadata.TypeDef)
	fmt.Printf("%s (%d types)\n", asm.Name, n)
	for rid := uint32(1); rid <= n; rid++ {
		row, err := asm.TypeDefRow(rid)
		if err != nil {
			fmt.Printf("  TypeDef[%d]: %v\n", rid, err)
			continue
		}
		name, _ := asm.String(row.TypeName)
		if typeFilter != "" && name != typeFilter {
			continue
		}
		mt, err := rt.ResolveType(metadata.NewToken(metadata.TypeDef, rid))
		if err != nil {
			fmt.Printf("  TypeDef[%d] %s: %v\n", rid, name, err)
			continue
		}
		fmt.Printf("  %s\n", typereg.Describe(mt))

		if wantVTable {
			for i := 0; i < mt.NumVTableSlots(); i++ {
				slot := mt.Slot(i)
				fmt.Printf("    vtbl[%d] %s -> %#x\n", i, slot.MethodName, slot.Target)
			}
		}
	}

	if wantMethods {
		fmt.Printf("published methods: %d/%d\n", rt.Registrar.Len(), rt.Registrar.Cap())
		for _, rf := range rt.Registrar.RuntimeFunctionTable() {
			fmt.Printf("  %#x..%#x\n", rf.BeginAddress, rf.EndAddress)
		}
	}
	return nil
}

func main() {
	root := &cobra.Command{
		Use:   "coreinspect <core-image>",
		Short: "Inspect a CLI metadata image's resolved type handles and JIT state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(args[0])
		},
	}
	root.Flags().BoolVar(&wantMethods, "methods", false, "dump the JIT method registrar's published functions")
	root.Flags().BoolVar(&wantVTable, "vtable", false, "dump each resolved type's vtable")
	root.Flags().StringVar(&typeFilter, "type", "", "inspect only the TypeDef with this name")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
