package msf

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// File represents an opened MSF container. The superblock and stream
// directory are validated and parsed during Open; per-stream Stream
// instances live for the File's lifetime.
type File struct {
	data       io.ReaderAt
	closer     io.Closer // may be nil if data doesn't need closing
	size       int64
	superBlock *SuperBlock
	directory  *StreamDirectory
	streams    []*Stream
}

// Open opens an MSF file from the given path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("msf: failed to open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("msf: failed to stat file: %w", err)
	}

	msf, err := NewFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	msf.closer = f
	return msf, nil
}

// NewFile creates an MSF file from an io.ReaderAt. This allows reading
// from arbitrary sources; the caller is responsible for closing the
// underlying reader if needed.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	if size < SuperBlockSize {
		return nil, ErrTruncatedFile
	}

	sbData := make([]byte, SuperBlockSize)
	if _, err := r.ReadAt(sbData, 0); err != nil {
		return nil, fmt.Errorf("msf: failed to read superblock: %w", err)
	}

	sb, err := ReadSuperBlock(bytes.NewReader(sbData))
	if err != nil {
		return nil, err
	}

	if err := sb.ValidateFileSize(size); err != nil {
		return nil, err
	}

	dir, err := readDirectory(sb, r)
	if err != nil {
		return nil, err
	}

	streams := make([]*Stream, dir.NumStreams)
	for i := uint32(0); i < dir.NumStreams; i++ {
		if !dir.StreamExists(i) {
			continue
		}
		streams[i] = NewStream(r, dir.StreamBlocks[i], sb.BlockSize, dir.StreamSizes[i])
	}

	return &File{
		data:       r,
		size:       size,
		superBlock: sb,
		directory:  dir,
		streams:    streams,
	}, nil
}

// Close releases resources associated with the MSF file.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// SuperBlock returns the MSF superblock.
func (f *File) SuperBlock() *SuperBlock {
	return f.superBlock
}

// Directory returns the parsed stream directory.
func (f *File) Directory() *StreamDirectory {
	return f.directory
}

// NumStreams returns the number of streams in the file.
func (f *File) NumStreams() uint32 {
	return f.directory.NumStreams
}

// StreamSize returns the size of the given stream in bytes.
func (f *File) StreamSize(streamIndex uint32) uint32 {
	return f.directory.StreamSize(streamIndex)
}

// StreamExists returns true if the stream exists and is not a nil stream.
func (f *File) StreamExists(streamIndex uint32) bool {
	return f.directory.StreamExists(streamIndex)
}

// OpenStream returns the Stream for the given index with its cursor
// rewound. Returns an error for out-of-range, nil, and empty streams.
func (f *File) OpenStream(streamIndex uint32) (*Stream, error) {
	if streamIndex >= f.directory.NumStreams {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStreamIndex, streamIndex)
	}

	s := f.streams[streamIndex]
	if s == nil {
		return nil, fmt.Errorf("msf: stream %d is nil", streamIndex)
	}

	s.Reset()
	return s, nil
}

// ReadStream reads an entire stream into memory.
func (f *File) ReadStream(streamIndex uint32) ([]byte, error) {
	stream, err := f.OpenStream(streamIndex)
	if err != nil {
		return nil, err
	}
	return stream.Bytes()
}

// BlockSize returns the block size used by this MSF file.
func (f *File) BlockSize() uint32 {
	return f.superBlock.BlockSize
}

// FileSize returns the total size of the MSF file.
func (f *File) FileSize() int64 {
	return f.size
}

// NumBlocks returns the total number of blocks in the file.
func (f *File) NumBlocks() uint32 {
	return f.superBlock.NumBlocks
}
