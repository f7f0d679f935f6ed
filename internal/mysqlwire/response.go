package mysqlwire

import (
	"encoding/binary"
	"fmt"

	"github.com/asyncsql/asyncsql/dbtype"
)

// OKResponse mirrors an OK_Packet.
type OKResponse struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
}

// ParseOK decodes an OK_Packet payload (marker byte already checked).
func ParseOK(pkt []byte) (OKResponse, error) {
	var ok OKResponse
	pos := 1
	affected, _, next, err := ReadLenEncInt(pkt, pos)
	if err != nil {
		return ok, fmt.Errorf("mysqlwire: OK packet affected-rows: %w", err)
	}
	ok.AffectedRows = affected
	pos = next

	lastID, _, next, err := ReadLenEncInt(pkt, pos)
	if err != nil {
		return ok, fmt.Errorf("mysqlwire: OK packet last-insert-id: %w", err)
	}
	ok.LastInsertID = lastID
	pos = next

	if pos+4 <= len(pkt) {
		ok.StatusFlags = binary.LittleEndian.Uint16(pkt[pos : pos+2])
		ok.Warnings = binary.LittleEndian.Uint16(pkt[pos+2 : pos+4])
	}
	return ok, nil
}

// ErrResponse mirrors an ERR_Packet.
type ErrResponse struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e ErrResponse) Error() string {
	return fmt.Sprintf("mysql error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// ParseErr decodes an ERR_Packet payload (marker byte already checked).
func ParseErr(pkt []byte) (ErrResponse, error) {
	if len(pkt) < 3 {
		return ErrResponse{}, fmt.Errorf("mysqlwire: truncated ERR packet")
	}
	e := ErrResponse{Code: binary.LittleEndian.Uint16(pkt[1:3])}
	pos := 3
	if pos < len(pkt) && pkt[pos] == '#' {
		if pos+6 > len(pkt) {
			return e, fmt.Errorf("mysqlwire: truncated ERR packet sql-state")
		}
		e.SQLState = string(pkt[pos+1 : pos+6])
		pos += 6
	}
	e.Message = string(pkt[pos:])
	return e, nil
}

// BuildErrPacket encodes an ERR_Packet payload, used by fakes/tests standing
// in for a server.
func BuildErrPacket(code uint16, sqlState, message string) []byte {
	buf := []byte{ErrPacket, byte(code), byte(code >> 8), '#'}
	state := sqlState
	if len(state) < 5 {
		state += "     "
	}
	buf = append(buf, state[:5]...)
	buf = append(buf, message...)
	return buf
}

// MySQL column type ids (the subset this decoder recognizes per
// spec.md §9's "extend" resolution).
const (
	colTypeDecimal    = 0x00
	colTypeTiny       = 0x01
	colTypeShort      = 0x02
	colTypeLong       = 0x03
	colTypeFloat      = 0x04
	colTypeDouble     = 0x05
	colTypeLongLong   = 0x08
	colTypeInt24      = 0x09
	colTypeDate       = 0x0a
	colTypeVarchar    = 0x0f
	colTypeNewDecimal = 0xf6
	colTypeVarString  = 0xfd
	colTypeString     = 0xfe
)

// ColumnDef is one entry of a ResultSet's field list.
type ColumnDef struct {
	Table string
	Name  string
	Type  byte
	Flags uint16
}

const unsignedFlag = 0x0020

// ToField maps a wire column definition into the catalog type, resolving
// signedness from the column flags.
func (c ColumnDef) ToField(index int) dbtype.Field {
	return dbtype.Field{
		Name:        c.Name,
		TableName:   c.Table,
		ColumnIndex: index,
		Type:        c.dbType(),
	}
}

func (c ColumnDef) dbType() dbtype.Type {
	unsigned := c.Flags&unsignedFlag != 0
	switch c.Type {
	case colTypeTiny:
		if unsigned {
			return dbtype.Byte
		}
		return dbtype.TinyInteger
	case colTypeShort:
		if unsigned {
			return dbtype.SmallInteger // wire has no distinct unsigned SHORT in the catalog
		}
		return dbtype.Short
	case colTypeInt24:
		if unsigned {
			return dbtype.MediumUnsignedInteger
		}
		return dbtype.MediumInteger
	case colTypeLong:
		if unsigned {
			return dbtype.UnsignedInteger
		}
		return dbtype.Integer
	case colTypeLongLong:
		if unsigned {
			return dbtype.BigUnsignedInteger
		}
		return dbtype.BigInteger
	case colTypeFloat:
		return dbtype.Float
	case colTypeDouble:
		return dbtype.Double
	case colTypeDecimal, colTypeNewDecimal:
		return dbtype.Decimal
	case colTypeDate:
		return dbtype.Date
	case colTypeVarchar, colTypeVarString, colTypeString:
		return dbtype.Varchar
	default:
		return dbtype.Unknown
	}
}

// ParseColumnDef41 decodes a ColumnDefinition41 payload from a field
// descriptor packet in the FIELD decoder state.
func ParseColumnDef41(pkt []byte) (ColumnDef, error) {
	pos := 0
	var cd ColumnDef

	_, _, pos, err := ReadLenEncString(pkt, pos) // catalog
	if err != nil {
		return cd, err
	}
	table, _, pos, err := ReadLenEncString(pkt, pos)
	if err != nil {
		return cd, err
	}
	cd.Table = string(table)

	_, _, pos, err = ReadLenEncString(pkt, pos) // org_table
	if err != nil {
		return cd, err
	}
	name, _, pos, err := ReadLenEncString(pkt, pos)
	if err != nil {
		return cd, err
	}
	cd.Name = string(name)

	_, _, pos, err = ReadLenEncString(pkt, pos) // org_name
	if err != nil {
		return cd, err
	}

	// fixed-length fields block: length-of-fixed-fields(lenenc, always 0x0c) +
	// character_set(2) + column_length(4) + type(1) + flags(2) + decimals(1) + filler(2)
	_, _, pos, err = ReadLenEncInt(pkt, pos)
	if err != nil {
		return cd, err
	}
	if pos+10 > len(pkt) {
		return cd, fmt.Errorf("mysqlwire: truncated column definition")
	}
	pos += 2 // charset
	pos += 4 // column length
	cd.Type = pkt[pos]
	pos++
	cd.Flags = binary.LittleEndian.Uint16(pkt[pos : pos+2])
	return cd, nil
}

// ParseRowValue narrows one length-encoded row value to the declared
// column type. A null prefix (0xfb) yields an IsNil Value. Unrecognized
// types (anything outside the extended catalog mapping) produce an error
// naming the offending type id, per spec.md §9.1's "extend" resolution.
func ParseRowValue(data []byte, pos int, col ColumnDef) (dbtype.Value, int, error) {
	raw, isNull, next, err := ReadLenEncString(data, pos)
	if err != nil {
		return dbtype.Value{}, pos, err
	}
	ty := col.dbType()
	if isNull {
		return dbtype.Null(ty), next, nil
	}
	if ty == dbtype.Unknown {
		return dbtype.Value{}, next, fmt.Errorf("mysqlwire: unsupported column type id 0x%02x", col.Type)
	}
	if ty.IsNumeric() && ty != dbtype.Decimal && ty != dbtype.Float && ty != dbtype.Real && ty != dbtype.Double {
		var iv int64
		_, scanErr := fmt.Sscanf(string(raw), "%d", &iv)
		if scanErr != nil {
			return dbtype.Value{}, next, fmt.Errorf("mysqlwire: narrowing %q to %s: %w", raw, ty, scanErr)
		}
		return dbtype.Of(ty, iv), next, nil
	}
	return dbtype.Of(ty, string(raw)), next, nil
}
