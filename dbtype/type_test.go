package dbtype

import "testing"

func TestStringKnownAndUnknown(t *testing.T) {
	if got := Integer.String(); got != "INTEGER" {
		t.Fatalf("Integer.String() = %q; want INTEGER", got)
	}
	if got := Type(999).String(); got != "Type(999)" {
		t.Fatalf("Type(999).String() = %q; want Type(999)", got)
	}
}

func TestSizeBitsAndSigned(t *testing.T) {
	if Integer.SizeBits() != 32 || !Integer.Signed() {
		t.Fatalf("Integer: size=%d signed=%v; want 32,true", Integer.SizeBits(), Integer.Signed())
	}
	if UnsignedInteger.Signed() {
		t.Fatal("UnsignedInteger.Signed() = true; want false")
	}
	if Varchar.SizeBits() != 0 {
		t.Fatalf("Varchar.SizeBits() = %d; want 0", Varchar.SizeBits())
	}
}

func TestIsNumeric(t *testing.T) {
	for _, ty := range []Type{TinyInteger, Integer, BigUnsignedInteger, Decimal, Double} {
		if !ty.IsNumeric() {
			t.Errorf("%s.IsNumeric() = false; want true", ty)
		}
	}
	for _, ty := range []Type{Char, Varchar, Date, Boolean, Unknown} {
		if ty.IsNumeric() {
			t.Errorf("%s.IsNumeric() = true; want false", ty)
		}
	}
}

func TestValueHelpers(t *testing.T) {
	n := Null(Varchar)
	if !n.IsNil {
		t.Fatal("Null().IsNil = false; want true")
	}

	v := Of(BigInteger, int64(42))
	i, ok := v.Int64()
	if !ok || i != 42 {
		t.Fatalf("Int64() = %d,%v; want 42,true", i, ok)
	}
	if _, ok := v.Str(); ok {
		t.Fatal("Str() on an int64 value should report ok=false")
	}

	s := Of(Varchar, "hello")
	str, ok := s.Str()
	if !ok || str != "hello" {
		t.Fatalf("Str() = %q,%v; want hello,true", str, ok)
	}
}
