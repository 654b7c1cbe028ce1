package main

import (
	"fmt"
	"strings"

	"github.com/binres/pdb/msf"
	"github.com/binres/pdb/pdb"
	"github.com/spf13/cobra"
)

var streamsCmd = &cobra.Command{
	Use:   "streams <pdb-file>",
	Short: "Dump the MSF stream directory",
	Long:  `List every stream in the MSF container with its size and block count.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStreams,
}

func runStreams(cmd *cobra.Command, args []string) error {
	pdbPath := args[0]

	f, err := pdb.Open(nil, pdbPath)
	if err != nil {
		return fmt.Errorf("failed to open PDB: %w", err)
	}
	defer f.Close()

	dir := f.Directory()
	blockSize := f.BlockSize()

	fmt.Fprintf(output, "%-6s %-10s %-8s %s\n", "INDEX", "SIZE", "BLOCKS", "NOTE")
	fmt.Fprintf(output, "%s\n", strings.Repeat("-", 50))

	for i := uint32(0); i < dir.NumStreams; i++ {
		note := wellKnownStreamName(i)
		if !dir.StreamExists(i) {
			fmt.Fprintf(output, "%-6d %-10s %-8s %s\n", i, "nil", "-", note)
			continue
		}
		size := dir.StreamSize(i)
		blocks := (size + blockSize - 1) / blockSize
		fmt.Fprintf(output, "%-6d %-10d %-8d %s\n", i, size, blocks, note)
	}

	fmt.Fprintf(output, "\nTotal: %d streams, block size %d\n", dir.NumStreams, blockSize)
	return nil
}

func wellKnownStreamName(index uint32) string {
	switch index {
	case msf.StreamOldDirectory:
		return "old directory"
	case msf.StreamPDBInfo:
		return "PDB info"
	case msf.StreamTPI:
		return "TPI"
	case msf.StreamDBI:
		return "DBI"
	case msf.StreamIPI:
		return "IPI"
	}
	return ""
}
