package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	verbose    bool
	output     io.Writer

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "pdbres",
	Short: "PDB address-to-module resolver",
	Long: `pdbres inspects Microsoft PDB (Program Database) files and
resolves virtual addresses back to the compiland (object file)
that produced the code there.

It parses the MSF container and the DBI stream; symbol-record
payloads are listed by kind but not decoded.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = os.Stdout
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			f.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(resolveCmd)
}
