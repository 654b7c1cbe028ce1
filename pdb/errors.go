// Package pdb resolves runtime addresses back to the compiland that
// produced them, by way of the MSF container and the DBI stream.
package pdb

import (
	"errors"
	"fmt"

	"github.com/binres/pdb/msf"
)

// Sentinel errors. Callers match these with errors.Is; each failure in
// the package wraps exactly one of them.
var (
	// ErrFormat indicates structurally malformed data: a bad magic or
	// signature, a failed byte-accounting check, or an unacceptable
	// version tag. Not mechanically recoverable.
	ErrFormat = errors.New("pdb: malformed file")

	// ErrMissingStream indicates a requested stream id or type is not
	// present in the container. Absence is not corruption.
	ErrMissingStream = errors.New("pdb: stream not present")

	// ErrMissingDebugInfo indicates no section contribution covers the
	// queried address. A legitimate "not found".
	ErrMissingDebugInfo = errors.New("pdb: no debug info covers address")

	// ErrUnsupportedFormat indicates data in a recognized but
	// unsupported legacy sub-format.
	ErrUnsupportedFormat = errors.New("pdb: unsupported format")

	// ErrOutOfBounds indicates a seek or read past a stream's logical
	// end.
	ErrOutOfBounds = msf.ErrOutOfBounds

	// ErrFileClosed indicates the PDB file has been closed.
	ErrFileClosed = errors.New("pdb: file is closed")
)

// formatErr wraps a lower-level parsing failure as ErrFormat.
func formatErr(err error) error {
	return fmt.Errorf("%w: %v", ErrFormat, err)
}
