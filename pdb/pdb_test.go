package pdb_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/binres/pdb/codeview"
	"github.com/binres/pdb/internal/dbi"
	"github.com/binres/pdb/msf"
	"github.com/binres/pdb/pdb"
)

// sectionTable is a SectionProvider backed by a plain map, standing in
// for an executable-format reader.
type sectionTable map[uint16]uint64

func (s sectionTable) SectionBase(section uint16) (uint64, bool) {
	base, ok := s[section]
	return base, ok
}

// fixture controls the deliberate defects injected into a synthetic PDB.
type fixture struct {
	mod0Signature uint32 // symbol stream signature for module 0; 0 means valid
	mod0C11       uint32 // C11 line info size for module 0
	mod1NoSyms    bool   // module 1 declared without a symbol stream
}

func symRecord(kind codeview.SymbolKind, payload []byte) []byte {
	rec := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(rec, uint16(2+len(payload)))
	binary.LittleEndian.PutUint16(rec[2:], uint16(kind))
	copy(rec[4:], payload)
	return rec
}

// modFixed mirrors the fixed on-disk prefix of a module info record.
type modFixed struct {
	Opened               uint32
	Section              dbi.SectionContribution
	Flags                uint16
	SymStream            uint16
	SymByteSize          uint32
	C11ByteSize          uint32
	C13ByteSize          uint32
	SourceFileCount      uint16
	Padding              uint16
	Unused               uint32
	SourceFileNameIndex  uint32
	PDBFilePathNameIndex uint32
}

func writeModule(t *testing.T, b *bytes.Buffer, fixed modFixed, name, obj string) {
	t.Helper()
	if err := binary.Write(b, binary.LittleEndian, &fixed); err != nil {
		t.Fatal(err)
	}
	b.WriteString(name)
	b.WriteByte(0)
	b.WriteString(obj)
	b.WriteByte(0)
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
}

// buildContainer assembles an MSF image holding the given streams in
// index order. Blocks 0-2 are the superblock and FPM blocks; stream
// blocks, directory blocks, and the block map follow.
func buildContainer(t *testing.T, blockSize uint32, streams [][]byte) []byte {
	t.Helper()

	numBlocks := func(size int) uint32 {
		return (uint32(size) + blockSize - 1) / blockSize
	}

	next := uint32(3)
	streamBlocks := make([][]uint32, len(streams))
	for i, s := range streams {
		for j := uint32(0); j < numBlocks(len(s)); j++ {
			streamBlocks[i] = append(streamBlocks[i], next)
			next++
		}
	}

	var dir bytes.Buffer
	putU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		dir.Write(b[:])
	}
	putU32(uint32(len(streams)))
	for _, s := range streams {
		putU32(uint32(len(s)))
	}
	for _, blocks := range streamBlocks {
		for _, b := range blocks {
			putU32(b)
		}
	}

	var dirBlocks []uint32
	for j := uint32(0); j < numBlocks(dir.Len()); j++ {
		dirBlocks = append(dirBlocks, next)
		next++
	}

	blockMapAddr := next
	next++
	total := next

	img := make([]byte, int(total)*int(blockSize))

	copy(img, msf.Magic)
	binary.LittleEndian.PutUint32(img[32:], blockSize)
	binary.LittleEndian.PutUint32(img[36:], 1)
	binary.LittleEndian.PutUint32(img[40:], total)
	binary.LittleEndian.PutUint32(img[44:], uint32(dir.Len()))
	binary.LittleEndian.PutUint32(img[52:], blockMapAddr)

	place := func(blocks []uint32, data []byte) {
		for j, b := range blocks {
			start := j * int(blockSize)
			end := start + int(blockSize)
			if end > len(data) {
				end = len(data)
			}
			copy(img[int(b)*int(blockSize):], data[start:end])
		}
	}
	for i, s := range streams {
		place(streamBlocks[i], s)
	}
	place(dirBlocks, dir.Bytes())
	for j, b := range dirBlocks {
		binary.LittleEndian.PutUint32(img[int(blockMapAddr)*int(blockSize)+j*4:], b)
	}

	return img
}

// buildPDB produces a complete synthetic PDB with two modules. Module 0
// contributes [0,100) and module 1 [100,200) of section 1; each has its
// own symbol stream.
func buildPDB(t *testing.T, f fixture) []byte {
	t.Helper()

	// Module symbol streams: signature then framed records.
	records0 := append(
		symRecord(codeview.S_OBJNAME, make([]byte, 8)),
		symRecord(codeview.S_GPROC32, make([]byte, 12))...,
	)
	records1 := symRecord(codeview.S_OBJNAME, make([]byte, 4))

	sig0 := uint32(4)
	if f.mod0Signature != 0 {
		sig0 = f.mod0Signature
	}
	symStream := func(sig uint32, records []byte) []byte {
		s := make([]byte, 4+len(records))
		binary.LittleEndian.PutUint32(s, sig)
		copy(s[4:], records)
		return s
	}

	var mods bytes.Buffer
	writeModule(t, &mods, modFixed{
		Section:     dbi.SectionContribution{Section: 1, Offset: 0, Size: 100},
		SymStream:   5,
		SymByteSize: uint32(4 + len(records0)),
		C11ByteSize: f.mod0C11,
		C13ByteSize: 0x40,
	}, "crt0.obj", "libc.lib")

	mod1Stream := uint16(6)
	if f.mod1NoSyms {
		mod1Stream = dbi.InvalidStreamIndex
	}
	writeModule(t, &mods, modFixed{
		Section:     dbi.SectionContribution{Section: 1, Offset: 100, Size: 100},
		SymStream:   mod1Stream,
		SymByteSize: uint32(4 + len(records1)),
	}, "main.obj", "main.obj")

	var contribs bytes.Buffer
	if err := binary.Write(&contribs, binary.LittleEndian, dbi.SectionContribV60); err != nil {
		t.Fatal(err)
	}
	for _, sc := range []dbi.SectionContribution{
		{Section: 1, Offset: 0, Size: 100, ModuleIndex: 0},
		{Section: 1, Offset: 100, Size: 100, ModuleIndex: 1},
	} {
		if err := binary.Write(&contribs, binary.LittleEndian, &sc); err != nil {
			t.Fatal(err)
		}
	}

	var dbiStream bytes.Buffer
	hdr := dbi.Header{
		VersionSignature:        -1,
		VersionHeader:           dbi.VersionV70,
		Age:                     2,
		ModInfoSize:             uint32(mods.Len()),
		SectionContributionSize: uint32(contribs.Len()),
	}
	if err := binary.Write(&dbiStream, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	dbiStream.Write(mods.Bytes())
	dbiStream.Write(contribs.Bytes())

	info := make([]byte, 28)
	binary.LittleEndian.PutUint32(info, 20000404)
	binary.LittleEndian.PutUint32(info[4:], 0x11223344)
	binary.LittleEndian.PutUint32(info[8:], 2)
	for i := 0; i < 16; i++ {
		info[12+i] = byte(i)
	}

	return buildContainer(t, 512, [][]byte{
		nil,                          // 0: old directory
		info,                         // 1: PDB info
		nil,                          // 2: TPI
		dbiStream.Bytes(),            // 3: DBI
		nil,                          // 4: IPI
		symStream(sig0, records0),    // 5: module 0 symbols
		symStream(4, records1),       // 6: module 1 symbols
	})
}

func openPDB(t *testing.T, f fixture, provider pdb.SectionProvider) *pdb.File {
	t.Helper()
	img := buildPDB(t, f)
	file, err := pdb.OpenReader(provider, bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Close() })
	return file
}

func TestResolveAddress(t *testing.T) {
	file := openPDB(t, fixture{}, sectionTable{1: 0x1000})

	ms, err := file.ResolveAddress(0x1010)
	if err != nil {
		t.Fatal(err)
	}
	if ms.Module.Index() != 0 || ms.Module.Name() != "crt0.obj" {
		t.Errorf("got module %d %q", ms.Module.Index(), ms.Module.Name())
	}
	if !ms.HasLineInfo {
		t.Error("module 0 declares C13 line info")
	}

	var kinds []codeview.SymbolKind
	for it := ms.Records(); ; {
		rec, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil {
			break
		}
		kinds = append(kinds, rec.Kind)
	}
	want := []codeview.SymbolKind{codeview.S_OBJNAME, codeview.S_GPROC32}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("record kinds: got %v, want %v", kinds, want)
	}

	// 0x1064 is the boundary: module 0's range is half-open.
	ms, err = file.ResolveAddress(0x1064)
	if err != nil {
		t.Fatal(err)
	}
	if ms.Module.Index() != 1 || ms.Module.Name() != "main.obj" {
		t.Errorf("got module %d %q", ms.Module.Index(), ms.Module.Name())
	}
	if ms.HasLineInfo {
		t.Error("module 1 has no line info")
	}
}

func TestResolveAddressNoCoverage(t *testing.T) {
	file := openPDB(t, fixture{}, sectionTable{1: 0x1000})

	for _, addr := range []uint64{0x0FFF, 0x10C8, 0x2000} {
		if _, err := file.ResolveAddress(addr); !errors.Is(err, pdb.ErrMissingDebugInfo) {
			t.Errorf("0x%X: got %v, want ErrMissingDebugInfo", addr, err)
		}
	}
}

func TestResolveAddressNoProvider(t *testing.T) {
	file := openPDB(t, fixture{}, nil)

	if _, err := file.ResolveAddress(0x1010); !errors.Is(err, pdb.ErrMissingDebugInfo) {
		t.Errorf("got %v, want ErrMissingDebugInfo", err)
	}
}

func TestResolveAddressBadSignature(t *testing.T) {
	file := openPDB(t, fixture{mod0Signature: 9}, sectionTable{1: 0x1000})

	if _, err := file.ResolveAddress(0x1010); !errors.Is(err, pdb.ErrFormat) {
		t.Errorf("got %v, want ErrFormat", err)
	}
}

func TestResolveAddressC11Unsupported(t *testing.T) {
	file := openPDB(t, fixture{mod0C11: 8}, sectionTable{1: 0x1000})

	if _, err := file.ResolveAddress(0x1010); !errors.Is(err, pdb.ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestResolveAddressNoSymbolStream(t *testing.T) {
	file := openPDB(t, fixture{mod1NoSyms: true}, sectionTable{1: 0x1000})

	if _, err := file.ResolveAddress(0x1070); !errors.Is(err, pdb.ErrMissingDebugInfo) {
		t.Errorf("got %v, want ErrMissingDebugInfo", err)
	}
}

func TestInfo(t *testing.T) {
	file := openPDB(t, fixture{}, nil)

	info, err := file.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != 20000404 || info.Signature != 0x11223344 || info.Age != 2 {
		t.Errorf("unexpected info: %+v", info)
	}
	for i := 0; i < 16; i++ {
		if info.GUID[i] != byte(i) {
			t.Fatalf("GUID byte %d: got 0x%02X", i, info.GUID[i])
		}
	}
}

func TestModules(t *testing.T) {
	file := openPDB(t, fixture{}, nil)

	modules, err := file.Modules()
	if err != nil {
		t.Fatal(err)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules", len(modules))
	}

	m := &modules[0]
	if m.Name() != "crt0.obj" || m.ObjectFileName() != "libc.lib" {
		t.Errorf("module 0: %q from %q", m.Name(), m.ObjectFileName())
	}
	if !m.HasSymbolStream() || m.SymbolStreamIndex() != 5 {
		t.Errorf("module 0 symbol stream: %d", m.SymbolStreamIndex())
	}
	if m.Section() != 1 || m.Offset() != 0 || m.Size() != 100 {
		t.Errorf("module 0 contribution: sec %d off %d size %d", m.Section(), m.Offset(), m.Size())
	}

	hdr, err := file.DBIHeader()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.VersionHeader != dbi.VersionV70 || hdr.Age != 2 {
		t.Errorf("DBI header: version %d age %d", hdr.VersionHeader, hdr.Age)
	}
}

func TestStreamLookup(t *testing.T) {
	file := openPDB(t, fixture{}, nil)

	if _, err := file.StreamByIndex(99); !errors.Is(err, pdb.ErrMissingStream) {
		t.Errorf("out of range: got %v, want ErrMissingStream", err)
	}
	// TPI is present in the directory but empty, which counts as absent.
	if _, err := file.Stream(pdb.StreamKindTPI); !errors.Is(err, pdb.ErrMissingStream) {
		t.Errorf("empty stream: got %v, want ErrMissingStream", err)
	}
	if _, err := file.Stream(pdb.StreamKindDBI); err != nil {
		t.Errorf("DBI stream: %v", err)
	}
}
