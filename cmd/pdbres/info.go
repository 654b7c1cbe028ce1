package main

import (
	"fmt"

	"github.com/binres/pdb/pdb"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <pdb-file>",
	Short: "Display PDB file information",
	Long:  `Display general information about a PDB file including version, GUID, age, and container statistics.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	pdbPath := args[0]

	f, err := pdb.Open(nil, pdbPath)
	if err != nil {
		return fmt.Errorf("failed to open PDB: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(output, "PDB File: %s\n", pdbPath)
	fmt.Fprintf(output, "Block Size: %d\n", f.BlockSize())
	fmt.Fprintf(output, "Number of Streams: %d\n", f.NumStreams())

	info, err := f.Info()
	if err != nil {
		log.WithError(err).Debug("no PDB info stream")
	} else {
		fmt.Fprintf(output, "Version: %d\n", info.Version)
		fmt.Fprintf(output, "Signature: 0x%08X\n", info.Signature)
		fmt.Fprintf(output, "Age: %d\n", info.Age)
		fmt.Fprintf(output, "GUID: %s\n", formatGUID(info.GUID))
	}

	hdr, err := f.DBIHeader()
	if err != nil {
		log.WithError(err).Debug("no DBI stream")
		return nil
	}

	fmt.Fprintf(output, "DBI Version: %d\n", hdr.VersionHeader)
	fmt.Fprintf(output, "Machine: 0x%04X\n", hdr.Machine)
	fmt.Fprintf(output, "Toolchain Build: %d.%d\n", hdr.BuildMajorVersion(), hdr.BuildMinorVersion())
	fmt.Fprintf(output, "Stripped: %v\n", hdr.IsStripped())

	modules, err := f.Modules()
	if err == nil {
		fmt.Fprintf(output, "Number of Modules: %d\n", len(modules))
	}

	return nil
}

func formatGUID(guid [16]byte) string {
	return fmt.Sprintf("{%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X}",
		uint32(guid[0])|uint32(guid[1])<<8|uint32(guid[2])<<16|uint32(guid[3])<<24,
		uint16(guid[4])|uint16(guid[5])<<8,
		uint16(guid[6])|uint16(guid[7])<<8,
		guid[8], guid[9],
		guid[10], guid[11], guid[12], guid[13], guid[14], guid[15])
}
