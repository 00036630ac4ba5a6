package flexshm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType_Scalars(t *testing.T) {
	td, err := ParseType("f64")
	require.NoError(t, err)
	assert.Equal(t, KindScalar, td.Kind)
	assert.Equal(t, ScalarF64, td.Scalar)
	assert.EqualValues(t, 8, td.ByteCapacity())

	td, err = ParseType("bool8")
	require.NoError(t, err)
	assert.Equal(t, ScalarBool8, td.Scalar)
	assert.EqualValues(t, 1, td.ByteCapacity())
}

func TestParseType_String(t *testing.T) {
	td, err := ParseType("str[16]")
	require.NoError(t, err)
	assert.Equal(t, KindString, td.Kind)
	assert.EqualValues(t, 16, td.StrCap)
	assert.EqualValues(t, 4+4*16, td.ByteCapacity())
}

func TestParseType_Array(t *testing.T) {
	td, err := ParseType("u8[2,2]")
	require.NoError(t, err)
	assert.Equal(t, KindArray, td.Kind)
	assert.Equal(t, DTypeU8, td.ArrDType)
	assert.Equal(t, []uint32{2, 2}, td.ArrShape)
	assert.EqualValues(t, 4, td.ByteCapacity())
}

func TestParseType_Errors(t *testing.T) {
	cases := []string{"", "wat", "str[-1]", "u8[]", "u8[x]", "str[4"}
	for _, tok := range cases {
		_, err := ParseType(tok)
		assert.Errorf(t, err, "expected error for token %q", tok)
	}
}

func TestParseType_CanonicalRoundTripsStable(t *testing.T) {
	td, err := ParseType("i32")
	require.NoError(t, err)
	assert.Equal(t, "i32", td.Canonical())

	td2, err := ParseType("f32[3,4]")
	require.NoError(t, err)
	assert.Equal(t, "f32[3,4]", td2.Canonical())
}

func TestNewSchema_DuplicateName(t *testing.T) {
	_, err := NewSchema([]FieldDecl{
		{Name: "x", Token: "f64"},
		{Name: "x", Token: "i32"},
	})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestNewSchema_EmptyName(t *testing.T) {
	_, err := NewSchema([]FieldDecl{{Name: "", Token: "f64"}})
	assert.ErrorIs(t, err, ErrSchema)
}

func TestNewSchema_PropagatesTypeError(t *testing.T) {
	_, err := NewSchema([]FieldDecl{{Name: "x", Token: "nope"}})
	assert.ErrorIs(t, err, ErrSchema)
}
