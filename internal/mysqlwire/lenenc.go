package mysqlwire

import (
	"encoding/binary"
	"fmt"
)

// ReadLenEncInt decodes a length-encoded integer starting at pos, returning
// the value, whether it represented SQL NULL (the 0xfb prefix), and the
// position just past it.
func ReadLenEncInt(data []byte, pos int) (value uint64, isNull bool, next int, err error) {
	if pos >= len(data) {
		return 0, false, pos, fmt.Errorf("mysqlwire: lenenc-int past end of buffer")
	}
	first := data[pos]
	switch {
	case first < 0xfb:
		return uint64(first), false, pos + 1, nil
	case first == 0xfb:
		return 0, true, pos + 1, nil
	case first == 0xfc:
		if pos+3 > len(data) {
			return 0, false, pos, fmt.Errorf("mysqlwire: truncated 2-byte lenenc-int")
		}
		return uint64(binary.LittleEndian.Uint16(data[pos+1 : pos+3])), false, pos + 3, nil
	case first == 0xfd:
		if pos+4 > len(data) {
			return 0, false, pos, fmt.Errorf("mysqlwire: truncated 3-byte lenenc-int")
		}
		v := uint64(data[pos+1]) | uint64(data[pos+2])<<8 | uint64(data[pos+3])<<16
		return v, false, pos + 4, nil
	case first == 0xfe:
		if pos+9 > len(data) {
			return 0, false, pos, fmt.Errorf("mysqlwire: truncated 8-byte lenenc-int")
		}
		return binary.LittleEndian.Uint64(data[pos+1 : pos+9]), false, pos + 9, nil
	default: // 0xff
		return 0, false, pos, fmt.Errorf("mysqlwire: invalid lenenc-int prefix 0xff")
	}
}

// ReadLenEncString decodes a length-encoded string starting at pos.
func ReadLenEncString(data []byte, pos int) (value []byte, isNull bool, next int, err error) {
	length, isNull, next, err := ReadLenEncInt(data, pos)
	if err != nil || isNull {
		return nil, isNull, next, err
	}
	end := next + int(length)
	if end > len(data) {
		return nil, false, next, fmt.Errorf("mysqlwire: truncated lenenc-string")
	}
	return data[next:end], false, end, nil
}

// PutLenEncInt appends v to buf as a length-encoded integer.
func PutLenEncInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfb:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfc, byte(v), byte(v>>8))
		return buf
	case v <= 0xffffff:
		return append(buf, 0xfd, byte(v), byte(v>>8), byte(v>>16))
	default:
		buf = append(buf, 0xfe)
		tmp := make([]byte, 8)
		binary.LittleEndian.PutUint64(tmp, v)
		return append(buf, tmp...)
	}
}

// PutLenEncString appends s to buf as a length-encoded string.
func PutLenEncString(buf []byte, s []byte) []byte {
	buf = PutLenEncInt(buf, uint64(len(s)))
	return append(buf, s...)
}
