package flexshm

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKind distinguishes the three field shapes a record may declare.
type FieldKind uint8

const (
	KindScalar FieldKind = iota
	KindString
	KindArray
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// ScalarKind enumerates the supported scalar types.
type ScalarKind uint8

const (
	ScalarF64 ScalarKind = iota
	ScalarI32
	ScalarBool8
)

func (s ScalarKind) size() uint32 {
	switch s {
	case ScalarF64:
		return 8
	case ScalarI32:
		return 4
	case ScalarBool8:
		return 1
	default:
		return 0
	}
}

func (s ScalarKind) String() string {
	switch s {
	case ScalarF64:
		return "f64"
	case ScalarI32:
		return "i32"
	case ScalarBool8:
		return "bool8"
	default:
		return "?"
	}
}

// ArrayDType enumerates the supported array element types.
type ArrayDType uint8

const (
	DTypeF32 ArrayDType = iota
	DTypeF64
	DTypeI8
	DTypeI16
	DTypeI32
	DTypeI64
	DTypeU8
	DTypeU16
	DTypeU32
	DTypeU64
	DTypeBool8
)

var dtypeNames = map[string]ArrayDType{
	"f32": DTypeF32, "f64": DTypeF64,
	"i8": DTypeI8, "i16": DTypeI16, "i32": DTypeI32, "i64": DTypeI64,
	"u8": DTypeU8, "u16": DTypeU16, "u32": DTypeU32, "u64": DTypeU64,
	"bool8": DTypeBool8,
}

func (d ArrayDType) String() string {
	for name, dt := range dtypeNames {
		if dt == d {
			return name
		}
	}
	return "?"
}

func (d ArrayDType) size() uint32 {
	switch d {
	case DTypeF32, DTypeI32, DTypeU32:
		return 4
	case DTypeF64, DTypeI64, DTypeU64:
		return 8
	case DTypeI16, DTypeU16:
		return 2
	case DTypeI8, DTypeU8, DTypeBool8:
		return 1
	default:
		return 0
	}
}

// TypeDescriptor is the parsed, normalized form of a single type token
// (spec.md §4.1, component C1). It is immutable once built.
type TypeDescriptor struct {
	Kind FieldKind

	Scalar ScalarKind // valid iff Kind == KindScalar

	StrCap uint32 // character capacity, valid iff Kind == KindString

	ArrDType ArrayDType // valid iff Kind == KindArray
	ArrShape []uint32   // non-empty, valid iff Kind == KindArray
}

// ElementSize is the natural alignment unit for the field: the scalar
// width, 4 for a string's length prefix, or the array dtype's width.
func (t TypeDescriptor) ElementSize() uint32 {
	switch t.Kind {
	case KindScalar:
		return t.Scalar.size()
	case KindString:
		return 4
	case KindArray:
		return t.ArrDType.size()
	default:
		return 1
	}
}

// ByteCapacity is the fixed on-wire data size for the field, excluding the
// one status byte every field also carries.
func (t TypeDescriptor) ByteCapacity() uint32 {
	switch t.Kind {
	case KindScalar:
		return t.Scalar.size()
	case KindString:
		return 4 + 4*t.StrCap
	case KindArray:
		n := uint32(1)
		for _, d := range t.ArrShape {
			n *= d
		}
		return n * t.ArrDType.size()
	default:
		return 0
	}
}

// Canonical renders the normalized token text used for schema hashing, so
// that two equivalent declarations always hash identically.
func (t TypeDescriptor) Canonical() string {
	switch t.Kind {
	case KindScalar:
		return t.Scalar.String()
	case KindString:
		return fmt.Sprintf("str[%d]", t.StrCap)
	case KindArray:
		dims := make([]string, len(t.ArrShape))
		for i, d := range t.ArrShape {
			dims[i] = strconv.FormatUint(uint64(d), 10)
		}
		return fmt.Sprintf("%s[%s]", t.ArrDType.String(), strings.Join(dims, ","))
	default:
		return "?"
	}
}

var scalarNames = map[string]ScalarKind{
	"f64": ScalarF64, "i32": ScalarI32, "bool8": ScalarBool8,
}

// ParseType parses one type token into a TypeDescriptor. Token shapes:
// a bare scalar tag ("f64", "i32", "bool8"), "str[N]" with N >= 0, or
// "dtype[d1,d2,...]" with a recognized dtype and a non-empty shape.
func ParseType(token string) (TypeDescriptor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TypeDescriptor{}, newSchemaError(token, "empty type token")
	}

	bracket := strings.IndexByte(token, '[')
	if bracket < 0 {
		if sk, ok := scalarNames[token]; ok {
			return TypeDescriptor{Kind: KindScalar, Scalar: sk}, nil
		}
		return TypeDescriptor{}, newSchemaError(token, "unknown scalar tag")
	}

	if !strings.HasSuffix(token, "]") {
		return TypeDescriptor{}, newSchemaError(token, "malformed brackets")
	}
	head := token[:bracket]
	body := token[bracket+1 : len(token)-1]

	if head == "str" {
		n, err := parseNonNegativeInt(body)
		if err != nil {
			return TypeDescriptor{}, newSchemaError(token, err.Error())
		}
		return TypeDescriptor{Kind: KindString, StrCap: n}, nil
	}

	dt, ok := dtypeNames[head]
	if !ok {
		return TypeDescriptor{}, newSchemaError(token, "unknown dtype")
	}
	if body == "" {
		return TypeDescriptor{}, newSchemaError(token, "array shape must be non-empty")
	}
	parts := strings.Split(body, ",")
	shape := make([]uint32, len(parts))
	for i, p := range parts {
		d, err := parseNonNegativeInt(strings.TrimSpace(p))
		if err != nil {
			return TypeDescriptor{}, newSchemaError(token, err.Error())
		}
		shape[i] = d
	}
	return TypeDescriptor{Kind: KindArray, ArrDType: dt, ArrShape: shape}, nil
}

func parseNonNegativeInt(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("non-integer dimension")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-integer dimension %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative dimension %d", v)
	}
	return uint32(v), nil
}

// FieldDecl is one entry of a user-declared schema: a name, a type token,
// and a default value (unused by the core beyond the UNWRITTEN status it
// implies; the default's realization is an external, surface-layer
// concern per spec.md §6).
type FieldDecl struct {
	Name    string
	Token   string
	Default interface{}
}

// Schema is the ordered, normalized list of fields that the layout
// compiler consumes. Build one with NewSchema.
type Schema struct {
	Fields []SchemaField
}

// SchemaField pairs a field's declared name with its parsed type.
type SchemaField struct {
	Name string
	Type TypeDescriptor
}

// NewSchema validates and normalizes a list of field declarations,
// rejecting unknown tokens and duplicate names.
func NewSchema(decls []FieldDecl) (*Schema, error) {
	seen := make(map[string]struct{}, len(decls))
	fields := make([]SchemaField, 0, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return nil, newSchemaError(d.Token, "field name must not be empty")
		}
		if _, dup := seen[d.Name]; dup {
			return nil, newSchemaError(d.Name, "duplicate field name")
		}
		seen[d.Name] = struct{}{}

		td, err := ParseType(d.Token)
		if err != nil {
			return nil, err
		}
		fields = append(fields, SchemaField{Name: d.Name, Type: td})
	}
	return &Schema{Fields: fields}, nil
}
