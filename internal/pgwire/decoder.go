package pgwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/asyncsql/asyncsql/dbsession"
)

// Decoder turns backend messages into dbsession.Handle deliveries for the
// session's active request. Unlike the MySQL decoder, PostgreSQL messages
// are self-tagged (a type byte plus length), so there is no separate
// state-machine per spec.md §4.4's backend dispatch table — Step reads one
// message and dispatches on its type directly.
type Decoder struct {
	columns       []ColumnDescriptor
	sawRows       bool
	BackendPID    uint32
	BackendSecret uint32
	ServerParams  map[string]string
}

// NewDecoder returns a decoder ready to process backend messages once the
// startup/authentication phase (handled separately, by the connection
// manager driving startup.go/auth.go/scram.go directly) has completed.
func NewDecoder() *Decoder {
	return &Decoder{ServerParams: make(map[string]string)}
}

// Step reads and dispatches exactly one backend message against sess's
// active request.
func (d *Decoder) Step(r io.Reader, sess *dbsession.Session) error {
	msgType, payload, err := ReadMessage(r)
	if err != nil {
		return err
	}
	active := sess.Active()

	switch msgType {
	case MsgAuthentication:
		return nil // steady-state re-authentication is not supported; ignore
	case MsgBackendKeyData:
		if len(payload) >= 8 {
			d.BackendPID = binary.BigEndian.Uint32(payload[:4])
			d.BackendSecret = binary.BigEndian.Uint32(payload[4:8])
		}
		return nil
	case MsgParameterStatus:
		key, next := readCString(payload, 0)
		val, _ := readCString(payload, next)
		d.ServerParams[key] = val
		return nil
	case MsgRowDescription:
		return d.handleRowDescription(payload, active, sess)
	case MsgDataRow:
		return d.handleDataRow(payload, active, sess)
	case MsgCommandComplete:
		return d.handleCommandComplete(payload, active, sess)
	case MsgErrorResponse:
		return d.handleError(payload, active, sess)
	case MsgReadyForQuery:
		d.columns = nil
		d.sawRows = false
		return nil
	case MsgEmptyQuery:
		return nil
	case MsgParseComplete, MsgBindComplete, MsgNoData:
		return nil
	default:
		return fmt.Errorf("pgwire: decoder received unhandled message type %q", msgType)
	}
}

func (d *Decoder) handleRowDescription(payload []byte, active dbsession.Handle, sess *dbsession.Session) error {
	cols, err := ParseRowDescription(payload)
	if err != nil {
		return d.fail(active, sess, err)
	}
	d.columns = cols
	d.sawRows = true
	if active != nil {
		active.DeliverStartFields()
		for i, c := range cols {
			active.DeliverField(c.ToField(i))
		}
		active.DeliverEndFields()
		active.DeliverStartResults()
	}
	return nil
}

func (d *Decoder) handleDataRow(payload []byte, active dbsession.Handle, sess *dbsession.Session) error {
	if len(payload) < 2 {
		return d.fail(active, sess, fmt.Errorf("pgwire: DataRow too short"))
	}
	count := int(binary.BigEndian.Uint16(payload[:2]))
	pos := 2
	if active != nil {
		active.DeliverStartRow()
	}
	for i := 0; i < count && i < len(d.columns); i++ {
		val, next, err := ParseDataRowValue(payload, pos, d.columns[i])
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

func (d *Decoder) handleCommandComplete(payload []byte, active dbsession.Handle, sess *dbsession.Session) error {
	tag, err := ParseCommandComplete(payload)
	if err != nil {
		return d.fail(active, sess, err)
	}
	if active == nil {
		return nil
	}
	if d.sawRows {
		active.DeliverEndResults()
	} else if cerr := active.Complete(tag); cerr != nil {
		active.SettleError(cerr)
	}
	sess.CompleteActive()
	d.columns = nil
	d.sawRows = false
	return nil
}

func (d *Decoder) handleError(payload []byte, active dbsession.Handle, sess *dbsession.Session) error {
	serverErr, err := ParseErrorResponse(payload)
	if err != nil {
		return d.fail(active, sess, err)
	}
	return d.fail(active, sess, serverErr)
}

func (d *Decoder) fail(active dbsession.Handle, sess *dbsession.Session, err error) error {
	if active != nil {
		active.DeliverException(err)
		sess.CompleteActive()
	}
	d.columns = nil
	d.sawRows = false
	return nil
}
