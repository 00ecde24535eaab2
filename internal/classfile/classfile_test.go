package classfile

import (
	"bytes"
	"testing"
)

func sampleFile() *File {
	return &File{
		Version:      Version{Major: 1, Minor: 2, Patch: 3},
		Kind:         KindClass,
		ClassNameIdx: 1,
		ParentIdxs:   []uint32{0, 2},
		VTables: []VTableDecl{
			{Entries: []VTableEntry{
				{ClassNameIdx: 1, MethodNameIdx: 3, BytecodeIdx: 0},
				{ClassNameIdx: 1, MethodNameIdx: 4, BytecodeIdx: NoBytecode},
			}},
		},
		Members: []MemberDecl{
			{NameIdx: 5, Tag: 2, SizedLen: 0},
			{NameIdx: 6, Tag: 9, SizedLen: 17},
		},
		Signals:  []byte{0xAA, 0xBB},
		Bytecode: [][]byte{{0x01, 0x02, 0x03}, {}},
		Strings:  []string{"widget.Widget", "main", ""},
		Signatures: []Signature{
			{Types: []byte{1, 2, 3}},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleFile()
	var buf bytes.Buffer
	if err := want.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Version != want.Version || got.Kind != want.Kind || got.ClassNameIdx != want.ClassNameIdx {
		t.Fatalf("header mismatch: got %+v, want %+v", got, want)
	}
	if len(got.ParentIdxs) != len(want.ParentIdxs) {
		t.Fatalf("ParentIdxs length = %d, want %d", len(got.ParentIdxs), len(want.ParentIdxs))
	}
	for i := range want.ParentIdxs {
		if got.ParentIdxs[i] != want.ParentIdxs[i] {
			t.Errorf("ParentIdxs[%d] = %d, want %d", i, got.ParentIdxs[i], want.ParentIdxs[i])
		}
	}
	if len(got.VTables) != 1 || len(got.VTables[0].Entries) != 2 {
		t.Fatalf("VTables round-trip mismatch: %+v", got.VTables)
	}
	if got.VTables[0].Entries[1].BytecodeIdx != NoBytecode {
		t.Errorf("abstract entry's BytecodeIdx = %d, want NoBytecode sentinel", got.VTables[0].Entries[1].BytecodeIdx)
	}
	if len(got.Members) != 2 || got.Members[1].SizedLen != 17 {
		t.Fatalf("Members round-trip mismatch: %+v", got.Members)
	}
	if !bytes.Equal(got.Signals, want.Signals) {
		t.Errorf("Signals = %v, want %v", got.Signals, want.Signals)
	}
	if len(got.Bytecode) != 2 || !bytes.Equal(got.Bytecode[0], want.Bytecode[0]) {
		t.Errorf("Bytecode round-trip mismatch: %v", got.Bytecode)
	}
	if len(got.Strings) != 3 || got.Strings[0] != "widget.Widget" || got.Strings[2] != "" {
		t.Errorf("Strings round-trip mismatch: %v", got.Strings)
	}
	if len(got.Signatures) != 1 || !bytes.Equal(got.Signatures[0].Types, want.Signatures[0].Types) {
		t.Errorf("Signatures round-trip mismatch: %v", got.Signatures)
	}
}

func TestDecodeEmptySignalsIsTolerated(t *testing.T) {
	f := sampleFile()
	f.Signals = nil
	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode with empty signals: %v", err)
	}
	if len(got.Signals) != 0 {
		t.Errorf("Signals = %v, want empty", got.Signals)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x01, 0x00, 0x00})
	if _, err := Decode(buf); err == nil {
		t.Fatalf("Decode with a bad magic byte: want error, got nil")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	want := sampleFile()
	var buf bytes.Buffer
	if err := want.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := buf.Bytes()[:len(buf.Bytes())-10]
	if _, err := Decode(bytes.NewReader(truncated)); err == nil {
		t.Fatalf("Decode of truncated input: want error, got nil")
	}
}
