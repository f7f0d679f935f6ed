// Package dbtype defines the closed catalog of SQL types exposed by fields
// on the wire, mapped to a host Go representation. It is treated as known
// external-collaborator surface (spec.md §1) — the catalog is intentionally
// small and flat, the way the teacher's config.TenantConfig exposes a flat
// set of typed accessor methods rather than a polymorphic hierarchy.
package dbtype

import "fmt"

// Type enumerates the SQL types this client understands on the wire.
type Type int

const (
	Unknown Type = iota
	TinyInteger
	Byte
	SmallInteger
	Short
	MediumInteger
	MediumUnsignedInteger
	Integer
	UnsignedInteger
	BigInteger
	BigUnsignedInteger
	Decimal
	Numeric
	Float
	Real
	Double
	Char
	Varchar
	Date
	Boolean
)

type meta struct {
	name     string
	sizeBits int
	signed   bool
}

var catalog = map[Type]meta{
	Unknown:               {"UNKNOWN", 0, false},
	TinyInteger:           {"TINY_INTEGER", 8, true},
	Byte:                  {"BYTE", 8, false},
	SmallInteger:          {"SMALL_INTEGER", 16, true},
	Short:                 {"SHORT", 16, true},
	MediumInteger:         {"MEDIUM_INTEGER", 24, true},
	MediumUnsignedInteger: {"MEDIUM_UNSIGNED_INTEGER", 24, false},
	Integer:               {"INTEGER", 32, true},
	UnsignedInteger:       {"UNSIGNED_INTEGER", 32, false},
	BigInteger:            {"BIG_INTEGER", 64, true},
	BigUnsignedInteger:    {"BIG_UNSIGNED_INTEGER", 64, false},
	Decimal:               {"DECIMAL", 0, true},
	Numeric:               {"NUMERIC", 0, true},
	Float:                 {"FLOAT", 32, true},
	Real:                  {"REAL", 32, true},
	Double:                {"DOUBLE", 64, true},
	Char:                  {"CHAR", 0, false},
	Varchar:               {"VARCHAR", 0, false},
	Date:                  {"DATE", 0, false},
	Boolean:               {"BOOLEAN", 1, false},
}

// String renders the catalog name, e.g. "INTEGER".
func (t Type) String() string {
	if m, ok := catalog[t]; ok {
		return m.name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// SizeBits returns the on-wire width in bits for fixed-width numeric
// types, or 0 for variable-width / unspecified types.
func (t Type) SizeBits() int {
	return catalog[t].sizeBits
}

// Signed reports whether the type's host representation is signed.
func (t Type) Signed() bool {
	return catalog[t].signed
}

// IsNumeric reports whether the type maps to an integer or floating-point
// host representation.
func (t Type) IsNumeric() bool {
	switch t {
	case TinyInteger, Byte, SmallInteger, Short, MediumInteger, MediumUnsignedInteger,
		Integer, UnsignedInteger, BigInteger, BigUnsignedInteger,
		Decimal, Numeric, Float, Real, Double:
		return true
	default:
		return false
	}
}

// Value is the decoded host representation of one column value. It is a
// thin wrapper so field-by-field decoding can carry nulls uniformly; v is
// nil for SQL NULL, otherwise one of int64, float64, string, bool, or
// []byte (the minimum set needed to complete a request, per spec.md §1).
type Value struct {
	Type  Type
	V     any
	IsNil bool
}

// Null constructs a Value representing SQL NULL for the given type.
func Null(t Type) Value { return Value{Type: t, IsNil: true} }

// Of constructs a non-null Value.
func Of(t Type, v any) Value { return Value{Type: t, V: v} }

// Int64 returns the value as an int64, assuming the caller already knows
// the column is numeric and non-null.
func (v Value) Int64() (int64, bool) {
	i, ok := v.V.(int64)
	return i, ok
}

// Str returns the value as a string.
func (v Value) Str() (string, bool) {
	s, ok := v.V.(string)
	return s, ok
}

// Field describes one column in a result set.
type Field struct {
	Name string
	Type Type
	// TableName/ColumnIndex are optional provenance the protocol handlers
	// may populate; zero values are valid.
	TableName   string
	ColumnIndex int
}
