package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/binres/pdb/codeview"
	"github.com/binres/pdb/pdb"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <pdb-file> <address>",
	Short: "Resolve a virtual address to its originating module",
	Long: `Resolve a virtual address to the compiland (object file) that
contributed the code or data at that address.

The section table is taken from the PDB's own section header stream,
so addresses are interpreted as RVAs of the described image.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	pdbPath := args[0]

	addr, err := parseAddress(args[1])
	if err != nil {
		return err
	}

	f, err := pdb.Open(nil, pdbPath)
	if err != nil {
		return fmt.Errorf("failed to open PDB: %w", err)
	}
	defer f.Close()

	// The PDB carries the image's section table in its optional debug
	// header stream; use it as the section provider.
	sections, err := f.SectionHeaders()
	if err != nil {
		return fmt.Errorf("PDB has no usable section table: %w", err)
	}
	log.WithField("sections", sections.Count()).Debug("loaded section table")

	f2, err := pdb.Open(sections, pdbPath)
	if err != nil {
		return fmt.Errorf("failed to open PDB: %w", err)
	}
	defer f2.Close()

	result, err := f2.ResolveAddress(addr)
	if err != nil {
		return fmt.Errorf("failed to resolve 0x%X: %w", addr, err)
	}

	mod := result.Module
	fmt.Fprintf(output, "Address:  0x%X\n", addr)
	fmt.Fprintf(output, "Module:   #%d %s\n", mod.Index(), mod.Name())
	if mod.ObjectFileName() != mod.Name() {
		fmt.Fprintf(output, "Object:   %s\n", mod.ObjectFileName())
	}
	fmt.Fprintf(output, "Symbols:  %d bytes\n", len(result.SymbolData))
	fmt.Fprintf(output, "LineInfo: %v\n", result.HasLineInfo)

	return printRecordHistogram(result)
}

// printRecordHistogram walks the raw symbol records and prints a count
// per record kind. Payloads are left undecoded.
func printRecordHistogram(ms *pdb.ModuleSymbols) error {
	counts := make(map[codeview.SymbolKind]int)

	it := ms.Records()
	for {
		rec, err := it.Next()
		if err != nil {
			return fmt.Errorf("corrupt symbol record: %w", err)
		}
		if rec == nil {
			break
		}
		counts[rec.Kind]++
	}

	if len(counts) == 0 {
		return nil
	}

	kinds := make([]codeview.SymbolKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	fmt.Fprintf(output, "\n%-40s %s\n", "RECORD KIND", "COUNT")
	fmt.Fprintf(output, "%s\n", strings.Repeat("-", 50))
	for _, k := range kinds {
		fmt.Fprintf(output, "%-40s %d\n", k, counts[k])
	}

	return nil
}

func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}
