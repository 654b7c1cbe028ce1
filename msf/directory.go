package msf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// NilStreamSize marks a deleted or nil stream in the size table.
const NilStreamSize = 0xFFFFFFFF

// Well-known stream indices
const (
	StreamOldDirectory = 0 // Old MSF directory (unused in PDB 7.0)
	StreamPDBInfo      = 1 // PDB Info stream (GUID, age, named streams)
	StreamTPI          = 2 // Type Program Information
	StreamDBI          = 3 // Debug Information
	StreamIPI          = 4 // ID Program Information
)

// Directory parsing errors
var (
	ErrTruncatedDirectory = errors.New("msf: truncated stream directory")
	ErrInvalidStreamIndex = errors.New("msf: invalid stream index")
	ErrInvalidBlockIndex  = errors.New("msf: invalid block index")
)

// StreamDirectory describes every stream in the MSF file: a size table
// plus a jagged array of per-stream block lists.
type StreamDirectory struct {
	// NumStreams is the count of streams
	NumStreams uint32

	// StreamSizes holds the size in bytes of each stream.
	// A value of NilStreamSize (0xFFFFFFFF) indicates a deleted stream.
	StreamSizes []uint32

	// StreamBlocks[i] contains the block indices for stream i.
	// Nil and empty streams have no blocks.
	StreamBlocks [][]uint32
}

// readDirectory locates the directory via the block map at BlockMapAddr,
// wraps it in a Stream, and parses it in a single sequential pass:
// stream count, then the size table, then each stream's block list in
// order. The directory cursor is load-bearing state consumed exactly once.
func readDirectory(sb *SuperBlock, data io.ReaderAt) (*StreamDirectory, error) {
	dirBlocks, err := readBlockMap(sb, data)
	if err != nil {
		return nil, err
	}

	dir := NewStream(data, dirBlocks, sb.BlockSize, sb.NumDirectoryBytes)

	count, err := readUint32(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedDirectory, err)
	}

	d := &StreamDirectory{
		NumStreams:   count,
		StreamSizes:  make([]uint32, count),
		StreamBlocks: make([][]uint32, count),
	}

	for i := uint32(0); i < count; i++ {
		d.StreamSizes[i], err = readUint32(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: size table ends at stream %d", ErrTruncatedDirectory, i)
		}
	}

	// Block lists follow the size table immediately, one stream after
	// another in index order.
	for i := uint32(0); i < count; i++ {
		size := d.StreamSizes[i]
		if size == NilStreamSize || size == 0 {
			continue
		}

		numBlocks := (size + sb.BlockSize - 1) / sb.BlockSize
		blocks := make([]uint32, numBlocks)
		for j := uint32(0); j < numBlocks; j++ {
			blocks[j], err = readUint32(dir)
			if err != nil {
				return nil, fmt.Errorf("%w: block list of stream %d", ErrTruncatedDirectory, i)
			}
			if blocks[j] >= sb.NumBlocks {
				return nil, fmt.Errorf("%w: stream %d references block %d of %d", ErrInvalidBlockIndex, i, blocks[j], sb.NumBlocks)
			}
		}
		d.StreamBlocks[i] = blocks
	}

	return d, nil
}

// readBlockMap reads the array of block indices that make up the stream
// directory. The array starts at BlockMapAddr and may itself span
// consecutive blocks.
func readBlockMap(sb *SuperBlock, data io.ReaderAt) ([]uint32, error) {
	numDirBlocks := sb.NumDirectoryBlocks()

	raw := make([]byte, numDirBlocks*4)
	if _, err := data.ReadAt(raw, sb.BlockOffset(sb.BlockMapAddr)); err != nil {
		return nil, fmt.Errorf("msf: failed to read directory block map: %w", err)
	}

	blocks := make([]uint32, numDirBlocks)
	for i := range blocks {
		blocks[i] = binary.LittleEndian.Uint32(raw[i*4:])
		if blocks[i] >= sb.NumBlocks {
			return nil, fmt.Errorf("%w: directory block %d of %d", ErrInvalidBlockIndex, blocks[i], sb.NumBlocks)
		}
	}

	return blocks, nil
}

func readUint32(s *Stream) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// StreamSize returns the size of the given stream, or 0 if the stream
// doesn't exist or is a nil stream.
func (d *StreamDirectory) StreamSize(streamIndex uint32) uint32 {
	if streamIndex >= d.NumStreams {
		return 0
	}
	size := d.StreamSizes[streamIndex]
	if size == NilStreamSize {
		return 0
	}
	return size
}

// StreamExists returns true if the stream exists and is not a nil stream.
func (d *StreamDirectory) StreamExists(streamIndex uint32) bool {
	if streamIndex >= d.NumStreams {
		return false
	}
	return d.StreamSizes[streamIndex] != NilStreamSize && d.StreamSizes[streamIndex] > 0
}
