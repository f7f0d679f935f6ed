package mysqlwire

import "testing"

func TestLenEncIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 65535, 65536, 16777215, 16777216, 1 << 40}
	for _, v := range cases {
		buf := PutLenEncInt(nil, v)
		got, isNull, next, err := ReadLenEncInt(buf, 0)
		if err != nil {
			t.Fatalf("value %d: %v", v, err)
		}
		if isNull || got != v || next != len(buf) {
			t.Fatalf("value %d: got=%d isNull=%v next=%d; want %d,false,%d", v, got, isNull, next, v, len(buf))
		}
	}
}

func TestLenEncIntNull(t *testing.T) {
	_, isNull, next, err := ReadLenEncInt([]byte{0xfb}, 0)
	if err != nil || !isNull || next != 1 {
		t.Fatalf("null lenenc-int: isNull=%v next=%d err=%v", isNull, next, err)
	}
}

func TestLenEncStringRoundTrip(t *testing.T) {
	buf := PutLenEncString(nil, []byte("hello world"))
	got, isNull, next, err := ReadLenEncString(buf, 0)
	if err != nil || isNull || string(got) != "hello world" || next != len(buf) {
		t.Fatalf("got=%q isNull=%v next=%d err=%v", got, isNull, next, err)
	}
}
