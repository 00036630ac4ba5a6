package flexshm

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SlotHeaderSize is the fixed (seq:u64, write_id:u64) prefix of every slot.
const SlotHeaderSize = 16

// FieldLayout is one field's position within a slot.
type FieldLayout struct {
	Name         string
	Type         TypeDescriptor
	DataOffset   uint32
	DataCapacity uint32
	StatusOffset uint32
}

// Layout is the Layout (L) derived from a Schema (S), per spec.md §3/§4.2.
// Compiling the same schema twice always produces byte-identical offsets
// and the same SchemaHash — Layout carries no non-deterministic state.
type Layout struct {
	Fields       []FieldLayout
	StatusOffset uint32 // offset of the first status byte
	DataStart    uint32 // offset the first field's data may begin at
	SlotSize     uint32
	SchemaHash   uint64
}

// FieldByName finds a field's layout by declared name, or reports false.
func (l *Layout) FieldByName(name string) (*FieldLayout, bool) {
	for i := range l.Fields {
		if l.Fields[i].Name == name {
			return &l.Fields[i], true
		}
	}
	return nil, false
}

// CompileLayout derives a Layout from a Schema. Offsets depend only on
// declaration order and the fixed alignment rules, so compilation is a
// pure function of the schema (spec.md §4.2 contract).
func CompileLayout(s *Schema) (*Layout, error) {
	n := uint32(len(s.Fields))

	statusOffset := alignUp(SlotHeaderSize, 8)
	dataStart := alignUp(statusOffset+n, 8)

	fields := make([]FieldLayout, len(s.Fields))
	cursor := dataStart
	for i, f := range s.Fields {
		align := f.Type.ElementSize()
		if align == 0 {
			align = 1
		}
		offset := alignUp(cursor, align)
		cap := f.Type.ByteCapacity()
		fields[i] = FieldLayout{
			Name:         f.Name,
			Type:         f.Type,
			DataOffset:   offset,
			DataCapacity: cap,
			StatusOffset: statusOffset + uint32(i),
		}
		cursor = offset + cap
	}

	slotSize := alignUp(cursor, 8)

	return &Layout{
		Fields:       fields,
		StatusOffset: statusOffset,
		DataStart:    dataStart,
		SlotSize:     slotSize,
		SchemaHash:   schemaHash(s),
	}, nil
}

func alignUp(offset, alignment uint32) uint32 {
	if alignment == 0 {
		return offset
	}
	return (offset + alignment - 1) / alignment * alignment
}

// schemaHash computes a stable 64-bit digest of the (name, kind, params)
// tuples in declaration order, used to reject mismatched attaches
// (spec.md §3 "L.schema_hash").
func schemaHash(s *Schema) uint64 {
	var b strings.Builder
	for _, f := range s.Fields {
		b.WriteString(f.Name)
		b.WriteByte(0)
		b.WriteString(f.Type.Kind.String())
		b.WriteByte(0)
		b.WriteString(f.Type.Canonical())
		b.WriteByte(0x1e) // record separator
	}
	return xxhash.Sum64String(b.String())
}
