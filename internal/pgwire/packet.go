// Package pgwire implements the PostgreSQL frontend/backend wire protocol
// version 3.0: message framing, startup/authentication (including MD5 and
// SCRAM-SHA-256), the extended query sub-protocol, and a decoder that
// dispatches each backend message by its type to a dbsession.Handle.
package pgwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Backend/frontend message type bytes.
const (
	MsgAuthentication  byte = 'R'
	MsgErrorResponse   byte = 'E'
	MsgReadyForQuery   byte = 'Z'
	MsgTerminate       byte = 'X'
	MsgQuery           byte = 'Q'
	MsgParameterStatus byte = 'S'
	MsgBackendKeyData  byte = 'K'
	MsgRowDescription  byte = 'T'
	MsgDataRow         byte = 'D'
	MsgCommandComplete byte = 'C'
	MsgEmptyQuery      byte = 'I'
	MsgParseComplete   byte = '1'
	MsgBindComplete    byte = '2'
	MsgPassword        byte = 'p'
	MsgNoData          byte = 'n'
)

// Frontend-only extended-query-protocol message types. These are distinct
// from the backend types above (the protocol uses disjoint type bytes per
// direction; 'D'/'E'/'S' each mean something different when the frontend
// sends them versus when the backend sends them).
const (
	feMsgParse    byte = 'P'
	feMsgBind     byte = 'B'
	feMsgDescribe byte = 'D'
	feMsgExecute  byte = 'E'
	feMsgSync     byte = 'S'
)

const maxMessageLength = 1 << 24

// ReadMessage reads one backend message: a 1-byte type tag followed by a
// 4-byte big-endian length (counting itself) and that many bytes of payload.
func ReadMessage(r io.Reader) (msgType byte, payload []byte, err error) {
	var typeBuf [1]byte
	if _, err = io.ReadFull(r, typeBuf[:]); err != nil {
		return 0, nil, err
	}
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	msgLen := int(binary.BigEndian.Uint32(lenBuf[:])) - 4
	if msgLen < 0 || msgLen > maxMessageLength {
		return 0, nil, fmt.Errorf("pgwire: invalid message length %d", msgLen)
	}
	payload = make([]byte, msgLen)
	if msgLen > 0 {
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return typeBuf[0], payload, nil
}

// WriteMessage writes one frontend message with the standard type+length
// framing.
func WriteMessage(w io.Writer, msgType byte, payload []byte) error {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)+4))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

func putCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func readCString(data []byte, pos int) (string, int) {
	end := pos
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return string(data[pos:]), end
	}
	return string(data[pos:end]), end + 1
}
