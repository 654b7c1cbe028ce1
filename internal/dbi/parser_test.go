package dbi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// modRecord describes one synthetic module info record for tests.
type modRecord struct {
	name      string
	obj       string
	symStream uint16
	symBytes  uint32
	c11, c13  uint32
	section   uint16
	offset    int32
	size      int32
}

func (m modRecord) encode(t *testing.T) []byte {
	t.Helper()

	var b bytes.Buffer
	fixed := modInfoFixed{
		Section: SectionContribution{
			Section: m.section,
			Offset:  m.offset,
			Size:    m.size,
		},
		ModuleSymStreamIndex: m.symStream,
		SymByteSize:          m.symBytes,
		C11ByteSize:          m.c11,
		C13ByteSize:          m.c13,
	}
	if err := binary.Write(&b, binary.LittleEndian, &fixed); err != nil {
		t.Fatal(err)
	}

	b.WriteString(m.name)
	b.WriteByte(0)
	b.WriteString(m.obj)
	b.WriteByte(0)

	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
	return b.Bytes()
}

func encodeModules(t *testing.T, mods ...modRecord) []byte {
	t.Helper()
	var b bytes.Buffer
	for _, m := range mods {
		b.Write(m.encode(t))
	}
	return b.Bytes()
}

func encodeContribs(t *testing.T, version uint32, contribs ...SectionContribution) []byte {
	t.Helper()
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, version); err != nil {
		t.Fatal(err)
	}
	for _, sc := range contribs {
		if err := binary.Write(&b, binary.LittleEndian, &sc); err != nil {
			t.Fatal(err)
		}
	}
	return b.Bytes()
}

// encodeDBI assembles a complete DBI stream from its substreams.
func encodeDBI(t *testing.T, modInfo, contribs, optDbg []byte) []byte {
	t.Helper()

	hdr := Header{
		VersionSignature:        -1,
		VersionHeader:           VersionV70,
		ModInfoSize:             uint32(len(modInfo)),
		SectionContributionSize: uint32(len(contribs)),
		OptionalDbgHeaderSize:   uint32(len(optDbg)),
	}

	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	b.Write(modInfo)
	b.Write(contribs)
	b.Write(optDbg)
	return b.Bytes()
}

func TestParseModuleInfoOrderAndNames(t *testing.T) {
	mods := []modRecord{
		{name: "first.obj", obj: "lib.a", symStream: 9, symBytes: 40},
		{name: "b", obj: "b", symStream: 10},
		{name: "a longer module name.obj", obj: "a longer module name.obj", symStream: InvalidStreamIndex},
	}
	data := encodeModules(t, mods...)

	parsed, err := parseModuleInfo(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(parsed) != len(mods) {
		t.Fatalf("got %d modules, want %d", len(parsed), len(mods))
	}
	for i, m := range mods {
		if parsed[i].ModuleName != m.name {
			t.Errorf("module %d name: got %q, want %q", i, parsed[i].ModuleName, m.name)
		}
		if parsed[i].ObjFileName != m.obj {
			t.Errorf("module %d object: got %q, want %q", i, parsed[i].ObjFileName, m.obj)
		}
		if parsed[i].ModuleSymStreamIndex != m.symStream {
			t.Errorf("module %d symbol stream: got %d, want %d", i, parsed[i].ModuleSymStreamIndex, m.symStream)
		}
	}
}

func TestParseModuleInfoExactConsumption(t *testing.T) {
	data := encodeModules(t,
		modRecord{name: "one.obj", obj: "one.obj"},
		modRecord{name: "two.obj", obj: "two.obj"},
	)

	if _, err := parseModuleInfo(data); err != nil {
		t.Fatalf("exact size should parse: %v", err)
	}

	if _, err := parseModuleInfo(data[:len(data)-1]); !errors.Is(err, ErrSubstreamOverrun) {
		t.Errorf("one byte short: got %v, want ErrSubstreamOverrun", err)
	}

	if _, err := parseModuleInfo(append(append([]byte{}, data...), 0)); !errors.Is(err, ErrSubstreamOverrun) {
		t.Errorf("one byte long: got %v, want ErrSubstreamOverrun", err)
	}
}

func TestSectionContribVersionGate(t *testing.T) {
	entry := SectionContribution{Section: 1, Offset: 0, Size: 100, ModuleIndex: 0}

	contribs, err := parseSectionContributions(encodeContribs(t, SectionContribV60, entry))
	if err != nil {
		t.Fatalf("V60 should parse: %v", err)
	}
	if len(contribs) != 1 || contribs[0].Size != 100 {
		t.Fatalf("unexpected contributions: %+v", contribs)
	}

	contribs, err = parseSectionContributions(encodeContribs(t, SectionContribV2, entry))
	if !errors.Is(err, ErrUnsupportedContribVersion) {
		t.Errorf("V2: got %v, want ErrUnsupportedContribVersion", err)
	}
	if contribs != nil {
		t.Error("V2: entries must not be parsed past a rejected tag")
	}

	contribs, err = parseSectionContributions(encodeContribs(t, 0xDEADBEEF, entry))
	if !errors.Is(err, ErrInvalidContribVersion) {
		t.Errorf("garbage tag: got %v, want ErrInvalidContribVersion", err)
	}
	if contribs != nil {
		t.Error("garbage tag: entries must not be parsed past a rejected tag")
	}
}

func TestSectionContribPartialEntry(t *testing.T) {
	data := encodeContribs(t, SectionContribV60, SectionContribution{Section: 1, Size: 8})
	if _, err := parseSectionContributions(data[:len(data)-1]); !errors.Is(err, ErrSubstreamOverrun) {
		t.Errorf("got %v, want ErrSubstreamOverrun", err)
	}
}

func TestSectionContribEmpty(t *testing.T) {
	contribs, err := parseSectionContributions(nil)
	if err != nil {
		t.Fatalf("empty substream is legal: %v", err)
	}
	if contribs != nil {
		t.Errorf("got %v entries", len(contribs))
	}
}

func TestParseStreamHeaderValidation(t *testing.T) {
	if _, err := ParseStream(make([]byte, 20)); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("short stream: got %v, want ErrInvalidHeader", err)
	}

	data := encodeDBI(t, nil, nil, nil)
	binary.LittleEndian.PutUint32(data, 0) // VersionSignature must be -1
	if _, err := ParseStream(data); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("bad signature: got %v, want ErrInvalidHeader", err)
	}
}

func TestParseStreamTruncatedSubstream(t *testing.T) {
	mods := encodeModules(t, modRecord{name: "m.obj", obj: "m.obj"})
	data := encodeDBI(t, mods, nil, nil)

	if _, err := ParseStream(data[:len(data)-4]); !errors.Is(err, ErrTruncatedStream) {
		t.Errorf("got %v, want ErrTruncatedStream", err)
	}
}

func TestParseStreamComplete(t *testing.T) {
	mods := encodeModules(t,
		modRecord{name: "crt0.obj", obj: "libc.lib", symStream: 7, symBytes: 52},
		modRecord{name: "main.obj", obj: "main.obj", symStream: 8, symBytes: 16},
	)
	contribs := encodeContribs(t, SectionContribV60,
		SectionContribution{Section: 1, Offset: 0, Size: 0x40, ModuleIndex: 0},
		SectionContribution{Section: 1, Offset: 0x40, Size: 0x20, ModuleIndex: 1},
	)

	// Optional debug header with the section header stream at index 12.
	optDbg := make([]byte, 22)
	for i := 0; i < 11; i++ {
		binary.LittleEndian.PutUint16(optDbg[i*2:], uint16(InvalidStreamIndex))
	}
	binary.LittleEndian.PutUint16(optDbg[10:], 12) // SectionHdrStreamIndex is field 6

	s, err := ParseStream(encodeDBI(t, mods, contribs, optDbg))
	if err != nil {
		t.Fatal(err)
	}

	if s.ModuleCount() != 2 {
		t.Fatalf("module count: got %d", s.ModuleCount())
	}
	if s.Modules[1].ModuleName != "main.obj" {
		t.Errorf("module 1 name: got %q", s.Modules[1].ModuleName)
	}
	if len(s.SectionContributions) != 2 {
		t.Fatalf("contributions: got %d", len(s.SectionContributions))
	}
	if s.SectionContributions[1].ModuleIndex != 1 {
		t.Errorf("contribution 1 module: got %d", s.SectionContributions[1].ModuleIndex)
	}
	if s.OptionalDbgStreams == nil {
		t.Fatal("optional debug header not parsed")
	}
	if s.OptionalDbgStreams.SectionHdrStreamIndex != 12 {
		t.Errorf("section header stream: got %d", s.OptionalDbgStreams.SectionHdrStreamIndex)
	}
	if s.OptionalDbgStreams.FPOStreamIndex != InvalidStreamIndex {
		t.Errorf("FPO stream: got %d, want invalid", s.OptionalDbgStreams.FPOStreamIndex)
	}

	if _, err := s.GetModule(2); err == nil {
		t.Error("GetModule(2) should fail")
	}
	if m, err := s.GetModule(0); err != nil || m.ModuleName != "crt0.obj" {
		t.Errorf("GetModule(0): %v %+v", err, m)
	}
}
