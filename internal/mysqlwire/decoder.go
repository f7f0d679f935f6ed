package mysqlwire

import (
	"fmt"
	"io"

	"github.com/asyncsql/asyncsql/dbsession"
)

// decoderState implements the state machine from spec.md §4.3: RESPONSE,
// FIELD, FIELD_EOF, ROW (CONNECTING is handled once, up front, by the
// handshake dance in mysqlclient, not by this steady-state loop).
type decoderState int

const (
	stateResponse decoderState = iota
	stateField
	stateFieldEOF
	stateRow
)

// Decoder turns COM_QUERY response packets into dbsession.Handle
// deliveries for the session's active request, advancing the session's
// queue on each terminal response.
type Decoder struct {
	state       decoderState
	fieldsTotal int
	fieldsLeft  int
	columns     []ColumnDef
}

// NewDecoder returns a decoder ready to process the response to the next
// command sent on the connection.
func NewDecoder() *Decoder { return &Decoder{state: stateResponse} }

// Step reads and processes exactly one packet against sess's active
// request, per the decoder table in spec.md §4.3. It returns io.EOF (or
// its wrapped form) when the underlying reader is exhausted.
func (d *Decoder) Step(r io.Reader, sess *dbsession.Session) error {
	payload, _, err := ReadPacket(r)
	if err != nil {
		return err
	}
	active := sess.Active()

	switch d.state {
	case stateResponse:
		return d.handleResponse(payload, active, sess)
	case stateField:
		return d.handleField(payload, active)
	case stateFieldEOF:
		return d.handleFieldEOF(payload, active)
	case stateRow:
		return d.handleRow(payload, active, sess)
	default:
		return fmt.Errorf("mysqlwire: decoder in unknown state %d", d.state)
	}
}

func (d *Decoder) handleResponse(payload []byte, active dbsession.Handle, sess *dbsession.Session) error {
	if len(payload) == 0 {
		return fmt.Errorf("mysqlwire: empty response packet")
	}
	switch payload[0] {
	case OKPacket:
		ok, err := ParseOK(payload)
		if err != nil {
			return d.fail(active, sess, err)
		}
		if active != nil {
			if cerr := active.Complete(ok); cerr != nil {
				active.SettleError(cerr)
			}
			sess.CompleteActive()
		}
		return nil
	case ErrPacket:
		parsed, err := ParseErr(payload)
		if err != nil {
			return d.fail(active, sess, err)
		}
		return d.fail(active, sess, parsed)
	default:
		fieldCount, _, _, err := ReadLenEncInt(payload, 0)
		if err != nil {
			return d.fail(active, sess, err)
		}
		d.fieldsTotal = int(fieldCount)
		d.fieldsLeft = int(fieldCount)
		d.columns = make([]ColumnDef, 0, fieldCount)
		if active != nil {
			active.DeliverStartFields()
		}
		if d.fieldsTotal == 0 {
			d.state = stateFieldEOF
		} else {
			d.state = stateField
		}
		return nil
	}
}

func (d *Decoder) handleField(payload []byte, active dbsession.Handle) error {
	col, err := ParseColumnDef41(payload)
	if err != nil {
		return err
	}
	d.columns = append(d.columns, col)
	if active != nil {
		active.DeliverField(col.ToField(len(d.columns) - 1))
	}
	d.fieldsLeft--
	if d.fieldsLeft <= 0 {
		d.state = stateFieldEOF
	}
	return nil
}

func (d *Decoder) handleFieldEOF(payload []byte, active dbsession.Handle) error {
	if len(payload) == 0 || payload[0] != EOFPacket {
		return fmt.Errorf("mysqlwire: expected field-terminating EOF packet")
	}
	if active != nil {
		active.DeliverEndFields()
		active.DeliverStartResults()
	}
	d.state = stateRow
	return nil
}

func (d *Decoder) handleRow(payload []byte, active dbsession.Handle, sess *dbsession.Session) error {
	if len(payload) > 0 && payload[0] == EOFPacket && len(payload) <= 5 {
		if active != nil {
			active.DeliverEndResults()
			sess.CompleteActive()
		}
		d.state = stateResponse
		return nil
	}
	if active != nil {
		active.DeliverStartRow()
	}
	pos := 0
	for _, col := range d.columns {
		val, next, err := ParseRowValue(payload, pos, col)
		if err != nil {
			return d.fail(active, sess, err)
		}
		pos = next
		if active != nil {
			active.DeliverValue(val)
		}
	}
	if active != nil {
		active.DeliverEndRow()
	}
	return nil
}

func (d *Decoder) fail(active dbsession.Handle, sess *dbsession.Session, err error) error {
	if active != nil {
		active.DeliverException(err)
		sess.CompleteActive()
	}
	d.state = stateResponse
	return nil
}
