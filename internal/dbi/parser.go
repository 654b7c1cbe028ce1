// Package dbi provides parsing for the DBI (Debug Information) stream.
package dbi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/binres/pdb/internal/stream"
)

// DBI stream version constants
const (
	VersionV41  uint32 = 930803
	VersionV50  uint32 = 19960307
	VersionV60  uint32 = 19970606
	VersionV70  uint32 = 19990903
	VersionV110 uint32 = 20091201
)

// HeaderSize is the size of the fixed DBI header in bytes.
const HeaderSize = 64

// InvalidStreamIndex marks a module without a symbol stream.
const InvalidStreamIndex uint16 = 0xFFFF

// Section contribution substream version tags. Only V60 is accepted;
// V2 is recognized so it can be rejected with a useful message.
const (
	SectionContribV60 uint32 = 0xeffe0000 + 19970605
	SectionContribV2  uint32 = 0xeffe0000 + 20140516
)

// Size of one fixed-layout record, in bytes.
const (
	sectionContribSize = 28
	modInfoFixedSize   = 64
)

// Errors
var (
	ErrInvalidHeader             = errors.New("dbi: invalid DBI header")
	ErrTruncatedStream           = errors.New("dbi: truncated stream")
	ErrSubstreamOverrun          = errors.New("dbi: substream record overruns declared size")
	ErrInvalidContribVersion     = errors.New("dbi: invalid section contribution version tag")
	ErrUnsupportedContribVersion = errors.New("dbi: unsupported section contribution version")
)

// Header is the fixed 64-byte header at the start of the DBI stream.
// Field order matches the on-disk layout; the struct is decoded whole
// with binary.Read.
type Header struct {
	// VersionSignature is always -1
	VersionSignature int32

	// VersionHeader is typically V70 (19990903) or V110 (20091201)
	VersionHeader uint32

	// Age matches the PDB stream Age field
	Age uint32

	GlobalStreamIndex uint16

	// BuildNumber encodes the toolchain version:
	// bits 0-7 minor, bits 8-14 major, bit 15 new-format flag
	BuildNumber uint16

	PublicStreamIndex    uint16
	PDBDllVersion        uint16
	SymRecordStreamIndex uint16
	PDBDllRbld           uint16

	// Declared byte lengths of the substreams that follow the header,
	// in stream order.
	ModInfoSize             uint32
	SectionContributionSize uint32
	SectionMapSize          uint32
	SourceInfoSize          uint32
	TypeServerMapSize       uint32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   uint32
	ECSubstreamSize         uint32

	Flags   uint16
	Machine uint16
	Padding uint32
}

// BuildMajorVersion returns the major version from BuildNumber.
func (h *Header) BuildMajorVersion() uint16 {
	return (h.BuildNumber >> 8) & 0x7F
}

// BuildMinorVersion returns the minor version from BuildNumber.
func (h *Header) BuildMinorVersion() uint16 {
	return h.BuildNumber & 0xFF
}

// IsStripped returns true if private symbols were stripped.
func (h *Header) IsStripped() bool {
	return (h.Flags & 0x02) != 0
}

// SectionContribution maps a half-open address range within a binary
// section to the module that contributed it. Entries are not guaranteed
// sorted or non-overlapping; their stream order is significant.
type SectionContribution struct {
	Section         uint16
	Padding1        uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	Padding2        uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// ModuleInfo describes a single compilation unit (object file).
type ModuleInfo struct {
	// Opened is unused
	Opened uint32

	// Section is the module's legacy first contribution
	Section SectionContribution

	Flags uint16

	// ModuleSymStreamIndex is the MSF stream holding this module's
	// symbols; InvalidStreamIndex when absent
	ModuleSymStreamIndex uint16

	// SymByteSize is the size of symbol data in bytes, including the
	// leading 4-byte signature
	SymByteSize uint32

	// C11ByteSize is the size of legacy C11 line info
	C11ByteSize uint32

	// C13ByteSize is the size of C13 line info
	C13ByteSize uint32

	SourceFileCount      uint16
	SourceFileNameIndex  uint32
	PDBFilePathNameIndex uint32

	// ModuleName is the object file path
	ModuleName string

	// ObjFileName is the originating archive or object file name
	ObjFileName string
}

// modInfoFixed is the fixed on-disk prefix of a module info record,
// before the two null-terminated name strings.
type modInfoFixed struct {
	Opened               uint32
	Section              SectionContribution
	Flags                uint16
	ModuleSymStreamIndex uint16
	SymByteSize          uint32
	C11ByteSize          uint32
	C13ByteSize          uint32
	SourceFileCount      uint16
	Padding              uint16
	Unused               uint32
	SourceFileNameIndex  uint32
	PDBFilePathNameIndex uint32
}

// RawSubstream is a typed placeholder for a substream whose declared
// length is validated but whose content is not interpreted.
type RawSubstream struct {
	Size uint32
	Data []byte
}

// OptionalDbgHeader holds stream indices for additional debug data.
// Each is InvalidStreamIndex when absent.
type OptionalDbgHeader struct {
	FPOStreamIndex            uint16
	ExceptionStreamIndex      uint16
	FixupStreamIndex          uint16
	OmapToSrcStreamIndex      uint16
	OmapFromSrcStreamIndex    uint16
	SectionHdrStreamIndex     uint16
	TokenRidMapStreamIndex    uint16
	XDataStreamIndex          uint16
	PDataStreamIndex          uint16
	NewFPOStreamIndex         uint16
	SectionHdrOrigStreamIndex uint16
}

// Stream is a parsed DBI stream.
type Stream struct {
	Header Header

	// Modules is the compiland list, indexed by 0-based stream order.
	Modules []ModuleInfo

	// SectionContributions maps address ranges to modules, in stream order.
	SectionContributions []SectionContribution

	// Substreams whose decoding is deferred.
	SectionMap    RawSubstream
	SourceInfo    RawSubstream
	TypeServerMap RawSubstream
	ECSubstream   RawSubstream

	// OptionalDbgStreams references additional debug streams, including
	// the PE section header stream. Nil when the substream is absent.
	OptionalDbgStreams *OptionalDbgHeader
}

// ParseStream parses a DBI stream from raw data. Every substream is
// consumed to exactly its declared length; overrun is fatal.
func ParseStream(data []byte) (*Stream, error) {
	s := &Stream{}

	if err := parseHeader(data, &s.Header); err != nil {
		return nil, err
	}

	offset := HeaderSize

	take := func(size uint32, name string) ([]byte, error) {
		end := offset + int(size)
		if end > len(data) {
			return nil, fmt.Errorf("%w: %s substream of %d bytes at offset %d", ErrTruncatedStream, name, size, offset)
		}
		sub := data[offset:end]
		offset = end
		return sub, nil
	}

	sub, err := take(s.Header.ModInfoSize, "module info")
	if err != nil {
		return nil, err
	}
	if s.Modules, err = parseModuleInfo(sub); err != nil {
		return nil, err
	}

	if sub, err = take(s.Header.SectionContributionSize, "section contribution"); err != nil {
		return nil, err
	}
	if s.SectionContributions, err = parseSectionContributions(sub); err != nil {
		return nil, err
	}

	if sub, err = take(s.Header.SectionMapSize, "section map"); err != nil {
		return nil, err
	}
	s.SectionMap = RawSubstream{Size: s.Header.SectionMapSize, Data: sub}

	if sub, err = take(s.Header.SourceInfoSize, "source info"); err != nil {
		return nil, err
	}
	s.SourceInfo = RawSubstream{Size: s.Header.SourceInfoSize, Data: sub}

	if sub, err = take(s.Header.TypeServerMapSize, "type server map"); err != nil {
		return nil, err
	}
	s.TypeServerMap = RawSubstream{Size: s.Header.TypeServerMapSize, Data: sub}

	if sub, err = take(s.Header.ECSubstreamSize, "EC"); err != nil {
		return nil, err
	}
	s.ECSubstream = RawSubstream{Size: s.Header.ECSubstreamSize, Data: sub}

	if s.Header.OptionalDbgHeaderSize > 0 {
		if sub, err = take(s.Header.OptionalDbgHeaderSize, "optional debug header"); err != nil {
			return nil, err
		}
		if s.OptionalDbgStreams, err = parseOptionalDbgHeader(sub); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func parseHeader(data []byte, h *Header) error {
	if len(data) < HeaderSize {
		return ErrInvalidHeader
	}

	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, h); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	if h.VersionSignature != -1 {
		return fmt.Errorf("%w: version signature %d", ErrInvalidHeader, h.VersionSignature)
	}

	return nil
}

// parseModuleInfo walks the module info substream: one fixed 64-byte
// record, two null-terminated strings, then padding to a 4-byte
// boundary, repeated until the declared size is consumed exactly.
func parseModuleInfo(data []byte) ([]ModuleInfo, error) {
	r := stream.NewReader(data)
	var modules []ModuleInfo

	for r.Remaining() > 0 {
		fixedBytes, err := r.ReadBytes(modInfoFixedSize)
		if err != nil {
			return nil, fmt.Errorf("%w: module %d", ErrSubstreamOverrun, len(modules))
		}

		var fixed modInfoFixed
		if err := binary.Read(bytes.NewReader(fixedBytes), binary.LittleEndian, &fixed); err != nil {
			return nil, fmt.Errorf("dbi: failed to decode module %d: %w", len(modules), err)
		}

		mod := ModuleInfo{
			Opened:               fixed.Opened,
			Section:              fixed.Section,
			Flags:                fixed.Flags,
			ModuleSymStreamIndex: fixed.ModuleSymStreamIndex,
			SymByteSize:          fixed.SymByteSize,
			C11ByteSize:          fixed.C11ByteSize,
			C13ByteSize:          fixed.C13ByteSize,
			SourceFileCount:      fixed.SourceFileCount,
			SourceFileNameIndex:  fixed.SourceFileNameIndex,
			PDBFilePathNameIndex: fixed.PDBFilePathNameIndex,
		}

		if mod.ModuleName, err = r.ReadCString(); err != nil {
			return nil, fmt.Errorf("%w: module %d name", ErrSubstreamOverrun, len(modules))
		}
		if mod.ObjFileName, err = r.ReadCString(); err != nil {
			return nil, fmt.Errorf("%w: module %d object file name", ErrSubstreamOverrun, len(modules))
		}

		// Each record is padded with 0-3 zero bytes to a 4-byte boundary.
		if err := r.Align(4); err != nil {
			return nil, fmt.Errorf("%w: module %d padding", ErrSubstreamOverrun, len(modules))
		}

		modules = append(modules, mod)
	}

	return modules, nil
}

// parseSectionContributions validates the leading version tag and reads
// fixed 28-byte entries until the declared size is exhausted exactly.
// Only the V60 tag is accepted; nothing is read past an unaccepted tag.
func parseSectionContributions(data []byte) ([]SectionContribution, error) {
	if len(data) == 0 {
		// An empty section contribution substream is legal.
		return nil, nil
	}

	r := stream.NewReader(data)

	version, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("%w: missing version tag", ErrTruncatedStream)
	}

	switch version {
	case SectionContribV60:
	case SectionContribV2:
		return nil, fmt.Errorf("%w: V2 (0x%08X)", ErrUnsupportedContribVersion, version)
	default:
		return nil, fmt.Errorf("%w: 0x%08X", ErrInvalidContribVersion, version)
	}

	if r.Remaining()%sectionContribSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte entries",
			ErrSubstreamOverrun, r.Remaining(), sectionContribSize)
	}

	contribs := make([]SectionContribution, 0, r.Remaining()/sectionContribSize)
	for r.Remaining() > 0 {
		entryBytes, err := r.ReadBytes(sectionContribSize)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d", ErrSubstreamOverrun, len(contribs))
		}

		var sc SectionContribution
		if err := binary.Read(bytes.NewReader(entryBytes), binary.LittleEndian, &sc); err != nil {
			return nil, fmt.Errorf("dbi: failed to decode contribution %d: %w", len(contribs), err)
		}

		contribs = append(contribs, sc)
	}

	return contribs, nil
}

func parseOptionalDbgHeader(data []byte) (*OptionalDbgHeader, error) {
	r := stream.NewReader(data)
	h := &OptionalDbgHeader{}

	fields := []*uint16{
		&h.FPOStreamIndex,
		&h.ExceptionStreamIndex,
		&h.FixupStreamIndex,
		&h.OmapToSrcStreamIndex,
		&h.OmapFromSrcStreamIndex,
		&h.SectionHdrStreamIndex,
		&h.TokenRidMapStreamIndex,
		&h.XDataStreamIndex,
		&h.PDataStreamIndex,
		&h.NewFPOStreamIndex,
		&h.SectionHdrOrigStreamIndex,
	}

	for _, field := range fields {
		*field = InvalidStreamIndex
		if r.Remaining() < 2 {
			continue
		}
		val, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		*field = val
	}

	return h, nil
}

// ModuleCount returns the number of modules.
func (s *Stream) ModuleCount() int {
	return len(s.Modules)
}

// GetModule returns module info by 0-based index.
func (s *Stream) GetModule(index int) (*ModuleInfo, error) {
	if index < 0 || index >= len(s.Modules) {
		return nil, fmt.Errorf("dbi: module index out of range: %d", index)
	}
	return &s.Modules[index], nil
}
