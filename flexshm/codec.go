package flexshm

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// ArrayValue is the raw, row-major representation of an array field's
// source value: the codec operates on bytes directly rather than on a
// generic numeric slice, matching spec.md §4.3's byte-length-based
// truncation rule.
type ArrayValue struct {
	DType ArrayDType
	Shape []uint32
	Data  []byte
}

var byteOrder = binary.NativeEndian

// encodeField dispatches to the kind-specific encoder, writing both the
// data bytes and the status byte for one field into a slot buffer.
func encodeField(slot []byte, field *FieldLayout, value interface{}) error {
	switch field.Type.Kind {
	case KindScalar:
		return encodeScalar(slot, field, value)
	case KindString:
		s, ok := value.(string)
		if !ok {
			return ErrKindMismatch
		}
		encodeString(slot, field, s)
		return nil
	case KindArray:
		av, ok := value.(ArrayValue)
		if !ok {
			return ErrKindMismatch
		}
		return encodeArray(slot, field, av)
	default:
		return ErrKindMismatch
	}
}

// decodeField reads back a field's value and status from a slot buffer.
func decodeField(slot []byte, field *FieldLayout) (interface{}, FieldStatus) {
	status := FieldStatus(slot[field.StatusOffset])
	switch field.Type.Kind {
	case KindScalar:
		return decodeScalar(slot, field), status
	case KindString:
		return decodeString(slot, field), status
	case KindArray:
		return decodeArray(slot, field), status
	default:
		return nil, status
	}
}

func setStatus(slot []byte, field *FieldLayout, status FieldStatus) {
	slot[field.StatusOffset] = byte(status)
}

func getStatus(slot []byte, field *FieldLayout) FieldStatus {
	return FieldStatus(slot[field.StatusOffset])
}

// encodeScalar writes native-endian bytes for f64/i32/bool8. NaN/Inf are
// transported as their exact bit pattern.
func encodeScalar(slot []byte, field *FieldLayout, value interface{}) error {
	off := field.DataOffset
	switch field.Type.Scalar {
	case ScalarF64:
		v, ok := value.(float64)
		if !ok {
			return ErrKindMismatch
		}
		byteOrder.PutUint64(slot[off:off+8], math.Float64bits(v))
	case ScalarI32:
		v, ok := value.(int32)
		if !ok {
			return ErrKindMismatch
		}
		byteOrder.PutUint32(slot[off:off+4], uint32(v))
	case ScalarBool8:
		v, ok := value.(bool)
		if !ok {
			return ErrKindMismatch
		}
		if v {
			slot[off] = 1
		} else {
			slot[off] = 0
		}
	default:
		return ErrKindMismatch
	}
	setStatus(slot, field, StatusValid|StatusModified)
	return nil
}

func decodeScalar(slot []byte, field *FieldLayout) interface{} {
	off := field.DataOffset
	switch field.Type.Scalar {
	case ScalarF64:
		return math.Float64frombits(byteOrder.Uint64(slot[off : off+8]))
	case ScalarI32:
		return int32(byteOrder.Uint32(slot[off : off+4]))
	case ScalarBool8:
		return slot[off] != 0
	default:
		return nil
	}
}

// encodeString writes the UTF-8 payload. If it fits the declared
// character and byte capacity exactly, it is written verbatim and marked
// VALID. Otherwise the longest prefix that fits both constraints (never
// splitting a code point) is stored and marked TRUNCATED, never VALID.
func encodeString(slot []byte, field *FieldLayout, s string) {
	capChars := field.Type.StrCap
	payloadCap := 4 * capChars
	off := field.DataOffset

	byteLen := uint32(len(s))
	charCount := uint32(utf8.RuneCountInString(s))

	payload := slot[off+4 : off+4+payloadCap]
	for i := range payload {
		payload[i] = 0
	}

	if byteLen <= payloadCap && charCount <= capChars {
		byteOrder.PutUint32(slot[off:off+4], byteLen)
		copy(payload, s)
		setStatus(slot, field, StatusValid|StatusModified)
		return
	}

	prefix := longestFittingPrefix(s, capChars, payloadCap)
	byteOrder.PutUint32(slot[off:off+4], uint32(len(prefix)))
	copy(payload, prefix)
	setStatus(slot, field, StatusTruncated|StatusModified)
}

// longestFittingPrefix returns the longest prefix of s whose rune count is
// <= maxChars and whose byte length is <= maxBytes, never splitting a rune.
func longestFittingPrefix(s string, maxChars, maxBytes uint32) string {
	var chars, bytesUsed uint32
	for i, r := range s {
		n := uint32(utf8.RuneLen(r))
		if chars+1 > maxChars || bytesUsed+n > maxBytes {
			return s[:i]
		}
		chars++
		bytesUsed += n
	}
	return s
}

func decodeString(slot []byte, field *FieldLayout) string {
	off := field.DataOffset
	n := byteOrder.Uint32(slot[off : off+4])
	payloadCap := 4 * field.Type.StrCap
	if n > payloadCap {
		n = payloadCap
	}
	payload := slot[off+4 : off+4+n]
	b := make([]byte, n)
	copy(b, payload)
	return string(b)
}

// encodeArray copies raw row-major bytes. A source whose shape matches
// the declared shape exactly (and therefore whose byte length matches
// cap) is VALID; anything else of the declared rank — wrong extents, or a
// byte length that doesn't match — is zero-padded/prefix-copied and marked
// TRUNCATED, never an error (spec.md §4.3). A rank that cannot be
// reconciled with the declared shape at all is ErrShapeMismatch.
func encodeArray(slot []byte, field *FieldLayout, value ArrayValue) error {
	if value.DType != field.Type.ArrDType {
		return ErrKindMismatch
	}
	if len(value.Shape) != len(field.Type.ArrShape) {
		return ErrShapeMismatch
	}

	off := field.DataOffset
	cap := field.DataCapacity
	dst := slot[off : off+cap]

	for i := range dst {
		dst[i] = 0
	}

	shapeMatches := true
	for i, d := range field.Type.ArrShape {
		if value.Shape[i] != d {
			shapeMatches = false
			break
		}
	}

	if shapeMatches && uint32(len(value.Data)) == cap {
		copy(dst, value.Data)
		setStatus(slot, field, StatusValid|StatusModified)
		return nil
	}

	copy(dst, value.Data) // copies min(len(dst), len(value.Data))
	setStatus(slot, field, StatusTruncated|StatusModified)
	return nil
}

func decodeArray(slot []byte, field *FieldLayout) ArrayValue {
	off := field.DataOffset
	cap := field.DataCapacity
	data := make([]byte, cap)
	copy(data, slot[off:off+cap])
	return ArrayValue{DType: field.Type.ArrDType, Shape: field.Type.ArrShape, Data: data}
}
