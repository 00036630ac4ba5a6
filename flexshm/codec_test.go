package flexshm

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeScalar_F64PreservesNaNBits(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "temp", Token: "f64"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("temp")

	nan := math.NaN()
	require.NoError(t, encodeField(slot, f, nan))
	v, status := decodeField(slot, f)
	got := v.(float64)
	assert.True(t, math.IsNaN(got))
	assert.Equal(t, math.Float64bits(nan), math.Float64bits(got))
	assert.True(t, status.Valid())
	assert.True(t, status.Modified())
}

func TestEncodeDecodeScalar_I32AndBool8(t *testing.T) {
	s := mustSchema(t, []FieldDecl{
		{Name: "count", Token: "i32"},
		{Name: "active", Token: "bool8"},
	})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)

	fc, _ := l.FieldByName("count")
	fa, _ := l.FieldByName("active")
	require.NoError(t, encodeField(slot, fc, int32(-42)))
	require.NoError(t, encodeField(slot, fa, true))

	v, _ := decodeField(slot, fc)
	assert.Equal(t, int32(-42), v)
	v, _ = decodeField(slot, fa)
	assert.Equal(t, true, v)
}

func TestEncodeScalar_KindMismatch(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "temp", Token: "f64"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("temp")

	err = encodeField(slot, f, "not a float")
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestEncodeDecodeString_ExactFit(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "label", Token: "str[5]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("label")

	require.NoError(t, encodeField(slot, f, "hello"))
	v, status := decodeField(slot, f)
	assert.Equal(t, "hello", v)
	assert.True(t, status.Valid())
	assert.False(t, status.Truncated())
}

func TestEncodeString_TruncatesWithoutSplittingRunes(t *testing.T) {
	// 5 CJK characters, each 3 bytes in UTF-8: a str[3] cap means only 3
	// characters (9 bytes) fit, so the 4th and 5th must be dropped whole.
	s := mustSchema(t, []FieldDecl{{Name: "label", Token: "str[3]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("label")

	require.NoError(t, encodeField(slot, f, "漢字日本語"))
	v, status := decodeField(slot, f)
	got := v.(string)
	assert.True(t, status.Truncated())
	assert.False(t, status.Valid())
	assert.LessOrEqual(t, len([]rune(got)), 3)
	assert.True(t, strings.HasPrefix("漢字日本語", got))
}

func TestEncodeString_EmptyStringIsValidNotTruncated(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "label", Token: "str[4]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("label")

	require.NoError(t, encodeField(slot, f, ""))
	v, status := decodeField(slot, f)
	assert.Equal(t, "", v)
	assert.True(t, status.Valid())
	assert.False(t, status.Truncated())
}

func TestEncodeArray_ExactShapeIsValid(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "img", Token: "u8[2,2]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("img")

	require.NoError(t, encodeField(slot, f, ArrayValue{DType: DTypeU8, Shape: []uint32{2, 2}, Data: []byte{1, 2, 3, 4}}))
	v, status := decodeField(slot, f)
	av := v.(ArrayValue)
	assert.Equal(t, []byte{1, 2, 3, 4}, av.Data)
	assert.True(t, status.Valid())
}

func TestEncodeArray_ShapeMismatchTruncatesNotErrors(t *testing.T) {
	// img declared u8[2,2] (4 bytes); a 3x2 source (6 bytes) is
	// byte-length mismatched and must be truncated, never rejected.
	s := mustSchema(t, []FieldDecl{{Name: "img", Token: "u8[2,2]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("img")

	src := []byte{1, 2, 3, 4, 5, 6}
	require.NoError(t, encodeField(slot, f, ArrayValue{DType: DTypeU8, Shape: []uint32{3, 2}, Data: src}))
	v, status := decodeField(slot, f)
	av := v.(ArrayValue)
	assert.True(t, status.Truncated())
	assert.False(t, status.Valid())
	assert.Equal(t, []byte{1, 2, 3, 4}, av.Data)
}

func TestEncodeArray_ShorterSourceZeroPads(t *testing.T) {
	// Same rank as declared (2,2), smaller second extent (2,1): still
	// reconcilable, so it truncates rather than erroring.
	s := mustSchema(t, []FieldDecl{{Name: "img", Token: "u8[2,2]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("img")

	require.NoError(t, encodeField(slot, f, ArrayValue{DType: DTypeU8, Shape: []uint32{2, 1}, Data: []byte{9, 9}}))
	v, status := decodeField(slot, f)
	av := v.(ArrayValue)
	assert.True(t, status.Truncated())
	assert.False(t, status.Valid())
	assert.Equal(t, []byte{9, 9, 0, 0}, av.Data)
}

func TestEncodeArray_RankMismatchErrors(t *testing.T) {
	// img declared u8[2,2] (rank 2); a rank-1 source cannot be
	// reconciled with the declared shape at all.
	s := mustSchema(t, []FieldDecl{{Name: "img", Token: "u8[2,2]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("img")

	err = encodeField(slot, f, ArrayValue{DType: DTypeU8, Shape: []uint32{4}, Data: []byte{1, 2, 3, 4}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestEncodeArray_DTypeMismatchErrors(t *testing.T) {
	s := mustSchema(t, []FieldDecl{{Name: "img", Token: "u8[2,2]"}})
	l, err := CompileLayout(s)
	require.NoError(t, err)
	slot := make([]byte, l.SlotSize)
	f, _ := l.FieldByName("img")

	err = encodeField(slot, f, ArrayValue{DType: DTypeF32, Shape: []uint32{2, 2}, Data: make([]byte, 16)})
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestLongestFittingPrefix_NeverSplitsRune(t *testing.T) {
	// emoji are 4 bytes each; a cap of 5 bytes must drop to 1 full rune.
	s := "😀😀"
	got := longestFittingPrefix(s, 10, 5)
	assert.Equal(t, "😀", got)
	for _, r := range got {
		assert.NotEqual(t, rune(0xFFFD), r)
	}
}
