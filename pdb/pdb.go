package pdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/binres/pdb/codeview"
	"github.com/binres/pdb/internal/dbi"
	"github.com/binres/pdb/msf"
)

// StreamKind names the well-known fixed-index streams.
type StreamKind uint32

const (
	StreamKindPDB StreamKind = msf.StreamPDBInfo
	StreamKindTPI StreamKind = msf.StreamTPI
	StreamKindDBI StreamKind = msf.StreamDBI
	StreamKindIPI StreamKind = msf.StreamIPI
)

// SectionProvider supplies the virtual base address of a binary section
// by its 1-based index. It is implemented by an executable-format
// reader owning the loaded image's section table; SectionHeaders in
// this package implements it from the PDB's own section header stream.
type SectionProvider interface {
	SectionBase(section uint16) (uint64, bool)
}

// moduleSymStreamSignature is the required leading u32 of a module
// symbol stream.
const moduleSymStreamSignature = 4

// File is an opened PDB. A File holds one descriptor and a set of
// stream cursors; it is designed for strictly sequential use from a
// single goroutine.
type File struct {
	msf      *msf.File
	sections SectionProvider

	mu     sync.Mutex
	closed bool

	dbiOnce sync.Once
	dbi     *dbi.Stream
	dbiErr  error

	sectionHeadersOnce sync.Once
	sectionHeaders     *SectionHeaders
	sectionHeadersErr  error
}

// Info contains metadata from the PDB info stream.
type Info struct {
	Version   uint32
	Signature uint32
	Age       uint32
	GUID      [16]byte
}

// Module is one compiland (object file) from the DBI module list,
// identified by its 0-based position.
type Module struct {
	index int
	info  dbi.ModuleInfo
}

// ModuleSymbols is the result of an address resolution: the owning
// module plus its raw symbol-record buffer.
type ModuleSymbols struct {
	Module Module

	// SymbolData is the module's symbol records, after the stream
	// signature, uninterpreted.
	SymbolData []byte

	// HasLineInfo records that a C13 line-number program is present.
	// Its decoding is deferred; only presence is reported.
	HasLineInfo bool
}

// Records returns an iterator over the raw symbol records.
func (ms *ModuleSymbols) Records() *codeview.RecordIterator {
	return codeview.NewRecordIterator(ms.SymbolData)
}

// Open opens a PDB file from the given path. The provider supplies
// section base addresses for address resolution; it may be nil if
// ResolveAddress will not be called.
func Open(provider SectionProvider, path string) (*File, error) {
	msfFile, err := msf.Open(path)
	if err != nil {
		return nil, formatErr(err)
	}

	return &File{msf: msfFile, sections: provider}, nil
}

// OpenReader opens a PDB from an io.ReaderAt, allowing arbitrary
// sources.
func OpenReader(provider SectionProvider, r io.ReaderAt, size int64) (*File, error) {
	msfFile, err := msf.NewFile(r, size)
	if err != nil {
		return nil, formatErr(err)
	}

	return &File{msf: msfFile, sections: provider}, nil
}

// Close releases resources associated with the PDB file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true
	return f.msf.Close()
}

// StreamByIndex returns the stream with the given id, bounds-checked.
// An out-of-range id or a nil stream yields ErrMissingStream.
func (f *File) StreamByIndex(index uint32) (*msf.Stream, error) {
	if index >= f.msf.NumStreams() || !f.msf.StreamExists(index) {
		return nil, fmt.Errorf("%w: stream %d", ErrMissingStream, index)
	}
	return f.msf.OpenStream(index)
}

// Stream is a convenience lookup over the well-known stream ids.
func (f *File) Stream(kind StreamKind) (*msf.Stream, error) {
	return f.StreamByIndex(uint32(kind))
}

// Info decodes the PDB info stream header.
func (f *File) Info() (*Info, error) {
	s, err := f.Stream(StreamKindPDB)
	if err != nil {
		return nil, err
	}

	data, err := s.Bytes()
	if err != nil {
		return nil, formatErr(err)
	}
	if len(data) < 28 {
		return nil, fmt.Errorf("%w: PDB info stream too short", ErrFormat)
	}

	info := &Info{
		Version:   binary.LittleEndian.Uint32(data[0:]),
		Signature: binary.LittleEndian.Uint32(data[4:]),
		Age:       binary.LittleEndian.Uint32(data[8:]),
	}
	copy(info.GUID[:], data[12:28])

	return info, nil
}

// Modules returns the compiland list in DBI stream order.
func (f *File) Modules() ([]Module, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}

	modules := make([]Module, len(dbiStream.Modules))
	for i := range dbiStream.Modules {
		modules[i] = Module{index: i, info: dbiStream.Modules[i]}
	}

	return modules, nil
}

// DBIHeader returns the fixed DBI stream header.
func (f *File) DBIHeader() (*dbi.Header, error) {
	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}
	return &dbiStream.Header, nil
}

// ResolveAddress finds the compiland that contributed the code or data
// at the given virtual address and returns it with its raw symbol
// buffer. Section contributions are scanned linearly in stream order;
// the first covering entry wins. All working state is call-local: a
// failed resolution leaves the File unchanged and returns nothing
// usable.
func (f *File) ResolveAddress(address uint64) (*ModuleSymbols, error) {
	if f.sections == nil {
		return nil, fmt.Errorf("%w: no section provider", ErrMissingDebugInfo)
	}

	dbiStream, err := f.getDBI()
	if err != nil {
		return nil, err
	}

	entry, err := f.findContribution(dbiStream.SectionContributions, address)
	if err != nil {
		return nil, err
	}

	if int(entry.ModuleIndex) >= len(dbiStream.Modules) {
		return nil, fmt.Errorf("%w: contribution references module %d of %d",
			ErrFormat, entry.ModuleIndex, len(dbiStream.Modules))
	}

	mod := Module{
		index: int(entry.ModuleIndex),
		info:  dbiStream.Modules[entry.ModuleIndex],
	}

	symData, hasLineInfo, err := f.readModuleSymbols(&mod.info)
	if err != nil {
		return nil, err
	}

	return &ModuleSymbols{
		Module:      mod,
		SymbolData:  symData,
		HasLineInfo: hasLineInfo,
	}, nil
}

// findContribution scans the contribution list in stream order for the
// first entry whose half-open address range contains address. Entries
// are not sorted and may overlap, so the scan is linear.
func (f *File) findContribution(contribs []dbi.SectionContribution, address uint64) (*dbi.SectionContribution, error) {
	for i := range contribs {
		entry := &contribs[i]
		if entry.Size <= 0 {
			continue
		}

		base, ok := f.sections.SectionBase(entry.Section)
		if !ok {
			continue
		}

		start := base + uint64(uint32(entry.Offset))
		end := start + uint64(uint32(entry.Size))
		if address >= start && address < end {
			return entry, nil
		}
	}

	return nil, fmt.Errorf("%w: 0x%X", ErrMissingDebugInfo, address)
}

// readModuleSymbols fetches and validates a module's symbol stream,
// returning the raw record buffer after the signature.
func (f *File) readModuleSymbols(info *dbi.ModuleInfo) ([]byte, bool, error) {
	if info.ModuleSymStreamIndex == dbi.InvalidStreamIndex {
		return nil, false, fmt.Errorf("%w: module %q has no symbol stream", ErrMissingDebugInfo, info.ModuleName)
	}

	s, err := f.StreamByIndex(uint32(info.ModuleSymStreamIndex))
	if err != nil {
		return nil, false, err
	}

	if info.SymByteSize < 4 {
		return nil, false, fmt.Errorf("%w: symbol byte size %d", ErrFormat, info.SymByteSize)
	}

	var sigBuf [4]byte
	if _, err := io.ReadFull(s, sigBuf[:]); err != nil {
		return nil, false, formatErr(err)
	}
	if sig := binary.LittleEndian.Uint32(sigBuf[:]); sig != moduleSymStreamSignature {
		return nil, false, fmt.Errorf("%w: symbol stream signature %d, want %d",
			ErrFormat, sig, moduleSymStreamSignature)
	}

	// C11 line info predates the C13 format; nothing here can decode it.
	if info.C11ByteSize != 0 {
		return nil, false, fmt.Errorf("%w: module %q carries C11 line info", ErrUnsupportedFormat, info.ModuleName)
	}

	symData := make([]byte, info.SymByteSize-4)
	if _, err := io.ReadFull(s, symData); err != nil {
		return nil, false, formatErr(err)
	}

	return symData, info.C13ByteSize != 0, nil
}

// BlockSize returns the block size used by this PDB file.
func (f *File) BlockSize() uint32 {
	return f.msf.BlockSize()
}

// NumStreams returns the number of streams in the PDB.
func (f *File) NumStreams() uint32 {
	return f.msf.NumStreams()
}

// StreamSize returns the byte size of the given stream, 0 when absent.
func (f *File) StreamSize(index uint32) uint32 {
	return f.msf.StreamSize(index)
}

// SuperBlock returns the underlying MSF superblock.
func (f *File) SuperBlock() *msf.SuperBlock {
	return f.msf.SuperBlock()
}

// Directory returns the underlying MSF stream directory.
func (f *File) Directory() *msf.StreamDirectory {
	return f.msf.Directory()
}

func (f *File) getDBI() (*dbi.Stream, error) {
	f.dbiOnce.Do(func() {
		s, err := f.Stream(StreamKindDBI)
		if err != nil {
			f.dbiErr = fmt.Errorf("%w: no DBI stream: %v", ErrFormat, err)
			return
		}

		data, err := s.Bytes()
		if err != nil {
			f.dbiErr = formatErr(err)
			return
		}

		parsed, err := dbi.ParseStream(data)
		if err != nil {
			f.dbiErr = formatErr(err)
			return
		}
		f.dbi = parsed
	})

	if f.dbiErr != nil {
		return nil, f.dbiErr
	}
	return f.dbi, nil
}
