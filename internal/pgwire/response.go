package pgwire

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"

	"github.com/asyncsql/asyncsql/dbtype"
)

// PostgreSQL built-in type OIDs this client understands.
const (
	oidBool    = 16
	oidInt8    = 20
	oidInt2    = 21
	oidInt4    = 23
	oidText    = 25
	oidFloat4  = 700
	oidFloat8  = 701
	oidVarchar = 1043
	oidDate    = 1082
	oidNumeric = 1700
	oidBpchar  = 1042
)

func oidToType(oid uint32) dbtype.Type {
	switch oid {
	case oidBool:
		return dbtype.Boolean
	case oidInt2:
		return dbtype.SmallInteger
	case oidInt4:
		return dbtype.Integer
	case oidInt8:
		return dbtype.BigInteger
	case oidFloat4:
		return dbtype.Real
	case oidFloat8:
		return dbtype.Double
	case oidNumeric:
		return dbtype.Numeric
	case oidBpchar:
		return dbtype.Char
	case oidText, oidVarchar:
		return dbtype.Varchar
	case oidDate:
		return dbtype.Date
	default:
		return dbtype.Unknown
	}
}

// ColumnDescriptor is one field of a RowDescription message.
type ColumnDescriptor struct {
	Name         string
	TableOID     uint32
	ColumnAttNum uint16
	TypeOID      uint32
	TypeSize     int16
	TypeModifier int32
	FormatCode   int16 // 0 = text, 1 = binary
}

// ToField converts a ColumnDescriptor into the protocol-neutral dbtype.Field.
func (c ColumnDescriptor) ToField(index int) dbtype.Field {
	return dbtype.Field{Name: c.Name, Type: oidToType(c.TypeOID), ColumnIndex: index}
}

// ParseRowDescription parses a RowDescription ('T') message payload.
func ParseRowDescription(payload []byte) ([]ColumnDescriptor, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("pgwire: RowDescription too short")
	}
	count := int(binary.BigEndian.Uint16(payload[:2]))
	pos := 2
	cols := make([]ColumnDescriptor, 0, count)
	for i := 0; i < count; i++ {
		name, next := readCString(payload, pos)
		pos = next
		if pos+18 > len(payload) {
			return nil, fmt.Errorf("pgwire: truncated RowDescription field %d", i)
		}
		col := ColumnDescriptor{
			Name:         name,
			TableOID:     binary.BigEndian.Uint32(payload[pos : pos+4]),
			ColumnAttNum: binary.BigEndian.Uint16(payload[pos+4 : pos+6]),
			TypeOID:      binary.BigEndian.Uint32(payload[pos+6 : pos+10]),
			TypeSize:     int16(binary.BigEndian.Uint16(payload[pos+10 : pos+12])),
			TypeModifier: int32(binary.BigEndian.Uint32(payload[pos+12 : pos+16])),
			FormatCode:   int16(binary.BigEndian.Uint16(payload[pos+16 : pos+18])),
		}
		pos += 18
		cols = append(cols, col)
	}
	return cols, nil
}

// ParseDataRowValue decodes one column value out of a DataRow ('D') message
// body at the given offset, honoring the column's declared format code:
// text format is parsed according to the SQL type; binary format is
// supported only for the fixed-width integer fast path (§4.4.2) — INTEGER,
// BIGINT, and SMALLINT carry their value as a big-endian two's-complement
// integer when the handler requested binary results for that column.
func ParseDataRowValue(payload []byte, pos int, col ColumnDescriptor) (dbtype.Value, int, error) {
	if pos+4 > len(payload) {
		return dbtype.Value{}, pos, fmt.Errorf("pgwire: truncated DataRow value header")
	}
	length := int32(binary.BigEndian.Uint32(payload[pos : pos+4]))
	pos += 4
	t := oidToType(col.TypeOID)
	if length < 0 {
		return dbtype.Null(t), pos, nil
	}
	if pos+int(length) > len(payload) {
		return dbtype.Value{}, pos, fmt.Errorf("pgwire: truncated DataRow value body")
	}
	raw := payload[pos : pos+int(length)]
	pos += int(length)

	if col.FormatCode == 1 {
		switch col.TypeOID {
		case oidInt4, oidInt8, oidInt2:
			v, err := decodeBinaryInt(raw)
			if err != nil {
				return dbtype.Value{}, pos, err
			}
			return dbtype.Of(t, v), pos, nil
		default:
			return dbtype.Value{}, pos, fmt.Errorf("pgwire: binary format unsupported for type OID %d", col.TypeOID)
		}
	}

	switch {
	case t.IsNumeric() && t != dbtype.Float && t != dbtype.Real && t != dbtype.Double && t != dbtype.Decimal && t != dbtype.Numeric:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return dbtype.Value{}, pos, fmt.Errorf("pgwire: parsing integer column %q: %w", col.Name, err)
		}
		return dbtype.Of(t, n), pos, nil
	case t == dbtype.Float || t == dbtype.Real || t == dbtype.Double || t == dbtype.Decimal || t == dbtype.Numeric:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return dbtype.Value{}, pos, fmt.Errorf("pgwire: parsing float column %q: %w", col.Name, err)
		}
		return dbtype.Of(t, f), pos, nil
	case t == dbtype.Boolean:
		return dbtype.Of(t, len(raw) > 0 && raw[0] == 't'), pos, nil
	case t == dbtype.Unknown:
		return dbtype.Value{}, pos, fmt.Errorf("pgwire: unsupported column type OID %d for column %q", col.TypeOID, col.Name)
	default:
		return dbtype.Of(t, string(raw)), pos, nil
	}
}

func decodeBinaryInt(raw []byte) (int64, error) {
	switch len(raw) {
	case 2:
		return int64(int16(binary.BigEndian.Uint16(raw))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(raw))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(raw)), nil
	default:
		return 0, fmt.Errorf("pgwire: unexpected binary integer width %d", len(raw))
	}
}

var commandTagRE = regexp.MustCompile(`^(\w+)\s*(\d*)\s*(\d*)$`)

// CommandTag is the parsed form of a CommandComplete tag, e.g.
// "INSERT 0 1" -> {Command: "INSERT", Rows: 1}.
type CommandTag struct {
	Command string
	OID     int64
	Rows    int64
}

// ParseCommandComplete parses a CommandComplete ('C') message payload.
func ParseCommandComplete(payload []byte) (CommandTag, error) {
	tag, _ := readCString(payload, 0)
	m := commandTagRE.FindStringSubmatch(tag)
	if m == nil {
		return CommandTag{}, fmt.Errorf("pgwire: unparsable command tag %q", tag)
	}
	ct := CommandTag{Command: m[1]}
	switch {
	case m[3] != "":
		ct.OID, _ = strconv.ParseInt(m[2], 10, 64)
		ct.Rows, _ = strconv.ParseInt(m[3], 10, 64)
	case m[2] != "":
		ct.Rows, _ = strconv.ParseInt(m[2], 10, 64)
	}
	return ct, nil
}

// ServerError is a backend-reported ErrorResponse, carrying the fields the
// client cares about (severity, SQLSTATE code, message).
type ServerError struct {
	Severity string
	Code     string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("pgwire: server error [%s] %s: %s", e.Code, e.Severity, e.Message)
}

// ParseErrorResponse parses an ErrorResponse ('E') message body: a sequence
// of one-byte-tagged, null-terminated fields, terminated by a zero byte.
func ParseErrorResponse(payload []byte) (*ServerError, error) {
	se := &ServerError{}
	pos := 0
	for pos < len(payload) && payload[pos] != 0 {
		tag := payload[pos]
		pos++
		val, next := readCString(payload, pos)
		pos = next
		switch tag {
		case 'S':
			se.Severity = val
		case 'C':
			se.Code = val
		case 'M':
			se.Message = val
		}
	}
	if se.Message == "" {
		return nil, fmt.Errorf("pgwire: ErrorResponse with no message field")
	}
	return se, nil
}

// BuildErrorResponse encodes an ErrorResponse message, used by test doubles
// standing in for a backend.
func BuildErrorResponse(severity, code, message string) []byte {
	var buf []byte
	buf = append(buf, 'S')
	buf = putCString(buf, severity)
	buf = append(buf, 'C')
	buf = putCString(buf, code)
	buf = append(buf, 'M')
	buf = putCString(buf, message)
	buf = append(buf, 0)
	return buf
}
