package pdb

import "github.com/binres/pdb/internal/dbi"

// Index returns the module's 0-based position in the DBI module list.
func (m *Module) Index() int {
	return m.index
}

// Name returns the module name (typically the object file path).
func (m *Module) Name() string {
	return m.info.ModuleName
}

// ObjectFileName returns the originating archive or object file name.
func (m *Module) ObjectFileName() string {
	return m.info.ObjFileName
}

// Section returns the section index of the module's first contribution.
func (m *Module) Section() uint16 {
	return m.info.Section.Section
}

// Offset returns the offset of the first contribution within its section.
func (m *Module) Offset() int32 {
	return m.info.Section.Offset
}

// Size returns the size of the first contribution.
func (m *Module) Size() int32 {
	return m.info.Section.Size
}

// HasSymbolStream reports whether the module has its own symbol stream.
func (m *Module) HasSymbolStream() bool {
	return m.info.ModuleSymStreamIndex != dbi.InvalidStreamIndex
}

// SymbolStreamIndex returns the MSF stream id of the module's symbols.
// Only meaningful when HasSymbolStream is true.
func (m *Module) SymbolStreamIndex() uint16 {
	return m.info.ModuleSymStreamIndex
}

// SymByteSize returns the declared byte size of the symbol substream,
// including the 4-byte signature.
func (m *Module) SymByteSize() uint32 {
	return m.info.SymByteSize
}

// C11ByteSize returns the declared size of legacy C11 line info.
func (m *Module) C11ByteSize() uint32 {
	return m.info.C11ByteSize
}

// C13ByteSize returns the declared size of C13 line info.
func (m *Module) C13ByteSize() uint32 {
	return m.info.C13ByteSize
}

// SourceFileCount returns the number of source files.
func (m *Module) SourceFileCount() uint16 {
	return m.info.SourceFileCount
}
