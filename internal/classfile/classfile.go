// Package classfile implements the §6 external class-file binary
// format: the boundary interface between the (out-of-scope) compiler
// front-end and the Linker. The core only consumes this format — see
// spec.md §1's Non-goals — but the repository still needs to read (and,
// for round-trip testing per spec.md §8, write) it without a compiler
// front-end on hand, so this package provides both directions.
//
// Field layout and the binary-reading idiom (little-endian, raw byte
// offsets via encoding/binary rather than struct overlays) are grounded
// on saferwall-pe's PE-header parsing style (helper.go's
// binary.LittleEndian.Uint32(pe.data[offset:]) pattern), the closest
// binary-container reader in the retrieval pack.
package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the fixed header byte identifying a Rowan class file.
const Magic byte = 0xC1

// NoBytecode is VTableEntry.BytecodeIdx's sentinel for "no body": an
// abstract interface method, or a blank slot reserved for a later
// override.
const NoBytecode uint32 = 0xFFFFFFFF

// Kind is the file-kind byte in the header.
type Kind uint8

const (
	KindClass Kind = iota
	KindInterface
	KindInterfaceImpl
)

// Version is the header's version triple.
type Version struct {
	Major, Minor, Patch uint8
}

// VTableEntry is one method slot declaration, pre-linking: every name is
// a *local* index into this file's own String Table.
type VTableEntry struct {
	ClassNameIdx    uint32
	SubClassNameIdx uint32 // via-parent class, or 0
	MethodNameIdx   uint32
	RespondsToIdx   uint32 // signature-compatible interface method, or 0
	SignatureIdx    uint32
	BytecodeIdx     uint32 // index into the Bytecode table, or sentinel for "no body"
}

// VTableDecl is one declared or overridden vtable.
type VTableDecl struct {
	Entries []VTableEntry
}

// MemberDecl is one (name, type-tag) member declaration. SizedLen is
// only meaningful when Tag is the sized-blob tag; it is 0 otherwise.
type MemberDecl struct {
	NameIdx  uint32
	Tag      uint8
	SizedLen uint32
}

// Signature is one entry of the signature table: a return type followed
// by parameter types.
type Signature struct {
	Types []uint8 // Types[0] is the return type
}

// File is the fully-parsed external class-file representation.
type File struct {
	Version      Version
	Kind         Kind
	ClassNameIdx uint32
	ParentIdxs   []uint32 // conventionally: [0] superclass (0 if none), rest implemented interfaces

	VTables []VTableDecl
	Members []MemberDecl

	// Signals is carried forward but optional; spec.md §6 requires the
	// core to "tolerate the signals section being present-but-empty".
	// Its contents are opaque to the core.
	Signals []byte

	Bytecode [][]byte // length-prefixed raw linked-opcode byte strings
	Strings  []string
	Signatures []Signature
}

// Encode serializes f in the §6 wire format.
func (f *File) Encode(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(Magic)
	buf.WriteByte(byte(f.Kind))
	buf.WriteByte(f.Version.Major)
	buf.WriteByte(f.Version.Minor)
	buf.WriteByte(f.Version.Patch)

	putU32(&buf, f.ClassNameIdx)
	putU32(&buf, uint32(len(f.ParentIdxs)))
	buf.Write([]byte{0, 0, 0}) // spec.md §6: "a padding of 3 bytes follows the parent count"
	for _, p := range f.ParentIdxs {
		putU32(&buf, p)
	}

	putU32(&buf, uint32(len(f.VTables)))
	for _, vt := range f.VTables {
		putU32(&buf, uint32(len(vt.Entries)))
		for _, e := range vt.Entries {
			putU32(&buf, e.ClassNameIdx)
			putU32(&buf, e.SubClassNameIdx)
			putU32(&buf, e.MethodNameIdx)
			putU32(&buf, e.RespondsToIdx)
			putU32(&buf, e.SignatureIdx)
			putU32(&buf, e.BytecodeIdx)
		}
	}

	putU32(&buf, uint32(len(f.Members)))
	for _, m := range f.Members {
		putU32(&buf, m.NameIdx)
		buf.WriteByte(m.Tag)
		putU32(&buf, m.SizedLen)
	}

	putU32(&buf, uint32(len(f.Signals)))
	buf.Write(f.Signals)

	putU32(&buf, uint32(len(f.Bytecode)))
	for _, b := range f.Bytecode {
		putU32(&buf, uint32(len(b)))
		buf.Write(b)
	}

	putU32(&buf, uint32(len(f.Strings)))
	for _, s := range f.Strings {
		putU32(&buf, uint32(len(s)))
		buf.WriteString(s)
	}

	putU32(&buf, uint32(len(f.Signatures)))
	for _, sig := range f.Signatures {
		putU32(&buf, uint32(len(sig.Types)))
		buf.Write(sig.Types)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Decode parses the §6 wire format out of r.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("classfile: read: %w", err)
	}
	c := &cursor{data: data}

	magic := c.u8()
	if magic != Magic {
		return nil, fmt.Errorf("classfile: bad magic byte %#x", magic)
	}
	f := &File{}
	f.Kind = Kind(c.u8())
	f.Version = Version{Major: c.u8(), Minor: c.u8(), Patch: c.u8()}

	f.ClassNameIdx = c.u32()
	numParents := c.u32()
	c.skip(3) // padding
	f.ParentIdxs = make([]uint32, numParents)
	for i := range f.ParentIdxs {
		f.ParentIdxs[i] = c.u32()
	}

	numVTables := c.u32()
	f.VTables = make([]VTableDecl, numVTables)
	for i := range f.VTables {
		numEntries := c.u32()
		entries := make([]VTableEntry, numEntries)
		for j := range entries {
			entries[j] = VTableEntry{
				ClassNameIdx:    c.u32(),
				SubClassNameIdx: c.u32(),
				MethodNameIdx:   c.u32(),
				RespondsToIdx:   c.u32(),
				SignatureIdx:    c.u32(),
				BytecodeIdx:     c.u32(),
			}
		}
		f.VTables[i] = VTableDecl{Entries: entries}
	}

	numMembers := c.u32()
	f.Members = make([]MemberDecl, numMembers)
	for i := range f.Members {
		f.Members[i] = MemberDecl{NameIdx: c.u32(), Tag: c.u8()}
		f.Members[i].SizedLen = c.u32()
	}

	numSignals := c.u32()
	f.Signals = c.bytes(int(numSignals))

	numBytecode := c.u32()
	f.Bytecode = make([][]byte, numBytecode)
	for i := range f.Bytecode {
		n := c.u32()
		f.Bytecode[i] = c.bytes(int(n))
	}

	numStrings := c.u32()
	f.Strings = make([]string, numStrings)
	for i := range f.Strings {
		n := c.u32()
		f.Strings[i] = string(c.bytes(int(n)))
	}

	numSigs := c.u32()
	f.Signatures = make([]Signature, numSigs)
	for i := range f.Signatures {
		n := c.u32()
		f.Signatures[i] = Signature{Types: c.bytes(int(n))}
	}

	if c.err != nil {
		return nil, c.err
	}
	return f, nil
}

func putU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// cursor is a small forward-only byte-slice reader, in the spirit of the
// offset-indexed binary.LittleEndian reads saferwall-pe uses throughout
// its PE-header parsers.
type cursor struct {
	data []byte
	pos  int
	err  error
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.pos+n > len(c.data) {
		c.err = fmt.Errorf("classfile: truncated at offset %d, need %d more bytes", c.pos, n)
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.data[c.pos]
	c.pos++
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	b := append([]byte(nil), c.data[c.pos:c.pos+n]...)
	c.pos += n
	return b
}

func (c *cursor) skip(n int) {
	if !c.need(n) {
		return
	}
	c.pos += n
}
