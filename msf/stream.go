package msf

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfBounds is returned when a seek or skip targets a position
// outside the stream's logical extent.
var ErrOutOfBounds = errors.New("msf: position out of stream bounds")

// Stream provides random access to a logical byte sequence whose storage
// is scattered across non-contiguous blocks of the underlying file.
// It implements io.Reader, io.Seeker, and io.ReaderAt.
//
// The logical cursor is unsynchronized state; a single Stream must not be
// used from multiple goroutines. Distinct Streams over the same file are
// independent because every access addresses the file by absolute offset.
type Stream struct {
	data      io.ReaderAt
	blocks    []uint32
	blockSize uint32
	size      uint32

	// Current position for Read/Seek
	pos uint32
}

// NewStream creates a Stream over the given ordered block list.
func NewStream(data io.ReaderAt, blocks []uint32, blockSize, size uint32) *Stream {
	return &Stream{
		data:      data,
		blocks:    blocks,
		blockSize: blockSize,
		size:      size,
	}
}

// Read implements io.Reader. It reads across block boundaries transparently
// and returns io.EOF at the stream's logical end.
func (s *Stream) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}

	if remaining := s.size - s.pos; uint32(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := s.ReadAt(p, int64(s.pos))
	s.pos += uint32(n)
	return n, err
}

// ReadAt implements io.ReaderAt. It does not use or modify the cursor.
// Blocks need not be physically adjacent: each block is addressed by its
// own absolute file offset.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, off)
	}
	if off >= int64(s.size) {
		return 0, io.EOF
	}

	pos := uint32(off)
	total := 0

	for len(p) > 0 && pos < s.size {
		blockIndex := pos / s.blockSize
		blockOffset := pos % s.blockSize

		if int(blockIndex) >= len(s.blocks) {
			return total, io.EOF
		}

		fileOffset := int64(s.blocks[blockIndex])*int64(s.blockSize) + int64(blockOffset)

		toRead := uint32(len(p))
		if rem := s.blockSize - blockOffset; toRead > rem {
			toRead = rem
		}
		if rem := s.size - pos; toRead > rem {
			toRead = rem
		}

		n, err := s.data.ReadAt(p[:toRead], fileOffset)
		total += n
		p = p[n:]
		pos += uint32(n)

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Seek implements io.Seeker. A target outside [0, Size] fails with
// ErrOutOfBounds; the cursor is left unchanged on failure.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64

	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(s.size) + offset
	default:
		return 0, fmt.Errorf("msf: invalid seek whence: %d", whence)
	}

	if newPos < 0 || newPos > int64(s.size) {
		return 0, fmt.Errorf("%w: seek to %d in stream of %d bytes", ErrOutOfBounds, newPos, s.size)
	}

	s.pos = uint32(newPos)
	return newPos, nil
}

// Skip advances the cursor by n bytes without reading.
func (s *Stream) Skip(n uint32) error {
	_, err := s.Seek(int64(n), io.SeekCurrent)
	return err
}

// ReadCString reads bytes from the cursor up to a NUL terminator and
// returns them as a string, excluding the terminator. Reaching the end
// of the stream before a terminator is an error.
func (s *Stream) ReadCString() (string, error) {
	var buf []byte
	var b [1]byte

	for {
		if s.pos >= s.size {
			return "", fmt.Errorf("%w: unterminated string", ErrOutOfBounds)
		}
		if _, err := s.ReadAt(b[:], int64(s.pos)); err != nil {
			return "", err
		}
		s.pos++
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
}

// Size returns the total size of the stream in bytes.
func (s *Stream) Size() uint32 {
	return s.size
}

// Position returns the current read position.
func (s *Stream) Position() uint32 {
	return s.pos
}

// Remaining returns the number of bytes left before the logical end.
func (s *Stream) Remaining() uint32 {
	if s.pos >= s.size {
		return 0
	}
	return s.size - s.pos
}

// Bytes reads the entire stream into a byte slice without disturbing
// the cursor.
func (s *Stream) Bytes() ([]byte, error) {
	data := make([]byte, s.size)
	if s.size == 0 {
		return data, nil
	}
	n, err := s.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return data[:n], nil
}

// Reset rewinds the cursor to the beginning.
func (s *Stream) Reset() {
	s.pos = 0
}
