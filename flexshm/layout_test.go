package flexshm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSchema(t *testing.T, decls []FieldDecl) *Schema {
	t.Helper()
	s, err := NewSchema(decls)
	require.NoError(t, err)
	return s
}

func TestCompileLayout_Deterministic(t *testing.T) {
	decls := []FieldDecl{
		{Name: "temp", Token: "f64"},
		{Name: "label", Token: "str[8]"},
		{Name: "img", Token: "u8[2,2]"},
	}
	s1 := mustSchema(t, decls)
	s2 := mustSchema(t, decls)

	l1, err := CompileLayout(s1)
	require.NoError(t, err)
	l2, err := CompileLayout(s2)
	require.NoError(t, err)

	assert.Equal(t, l1.SlotSize, l2.SlotSize)
	assert.Equal(t, l1.SchemaHash, l2.SchemaHash)
	require.Len(t, l2.Fields, len(l1.Fields))
	for i := range l1.Fields {
		assert.Equal(t, l1.Fields[i].DataOffset, l2.Fields[i].DataOffset)
		assert.Equal(t, l1.Fields[i].StatusOffset, l2.Fields[i].StatusOffset)
	}
}

func TestCompileLayout_FieldsAreAligned(t *testing.T) {
	s := mustSchema(t, []FieldDecl{
		{Name: "flag", Token: "bool8"},
		{Name: "temp", Token: "f64"},
		{Name: "count", Token: "i32"},
	})
	l, err := CompileLayout(s)
	require.NoError(t, err)

	for _, f := range l.Fields {
		align := f.Type.ElementSize()
		if align == 0 {
			continue
		}
		assert.Zerof(t, f.DataOffset%align, "field %s offset %d not aligned to %d", f.Name, f.DataOffset, align)
	}
}

func TestCompileLayout_SlotSizeIsMultipleOf8(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "a", Token: "bool8"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	assert.Zero(t, l.SlotSize%8)
	assert.GreaterOrEqual(t, l.SlotSize, SlotHeaderSize+l.StatusOffset)
}

func TestCompileLayout_DifferentSchemasHashDifferently(t *testing.T) {
	s1 := mustSchema(t, []FieldDecl{{Name: "a", Token: "f64"}})
	s2 := mustSchema(t, []FieldDecl{{Name: "a", Token: "i32"}})
	l1, err := CompileLayout(s1)
	require.NoError(t, err)
	l2, err := CompileLayout(s2)
	require.NoError(t, err)
	assert.NotEqual(t, l1.SchemaHash, l2.SchemaHash)
}

func TestFieldByName(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "temp", Token: "f64"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)

	f, ok := l.FieldByName("temp")
	require.True(t, ok)
	assert.Equal(t, "temp", f.Name)

	_, ok = l.FieldByName("missing")
	assert.False(t, ok)
}
