package pgwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	protoVersionMajor = 3
	protoVersionMinor = 0
	protoVersion      = protoVersionMajor<<16 | protoVersionMinor

	sslRequestCode = 80877103

	maxSSLAttempts = 3
)

// BuildStartupMessage encodes a StartupMessage: protocol version followed
// by null-terminated key/value parameter pairs and a final null byte. The
// handler always sets client_encoding=UNICODE and DateStyle=ISO in addition
// to user/database.
func BuildStartupMessage(user, database string, extra map[string]string) []byte {
	params := map[string]string{
		"user":            user,
		"client_encoding": "UNICODE",
		"DateStyle":       "ISO",
	}
	if database != "" {
		params["database"] = database
	}
	for k, v := range extra {
		params[k] = v
	}

	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, protoVersion)
	for k, v := range params {
		body = putCString(body, k)
		body = putCString(body, v)
	}
	body = append(body, 0)

	msg := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(msg, uint32(len(msg)))
	copy(msg[4:], body)
	return msg
}

// BuildSSLRequest encodes the special SSLRequest message sent in place of a
// StartupMessage to probe whether the backend will upgrade the connection.
func BuildSSLRequest() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[:4], 8)
	binary.BigEndian.PutUint32(buf[4:], sslRequestCode)
	return buf
}

// NegotiateSSL sends an SSLRequest and reads the backend's single-byte
// response: 'S' (willing to upgrade, caller should perform a TLS handshake
// next) or 'N' (proceed in plaintext). Bounded to maxSSLAttempts retries
// against a misbehaving or looping backend, mirroring the retry cap used on
// the server-accepting side of this same negotiation.
func NegotiateSSL(rw io.ReadWriter) (accepted bool, err error) {
	for attempt := 0; attempt < maxSSLAttempts; attempt++ {
		if _, err = rw.Write(BuildSSLRequest()); err != nil {
			return false, fmt.Errorf("pgwire: sending SSLRequest: %w", err)
		}
		var resp [1]byte
		if _, err = io.ReadFull(rw, resp[:]); err != nil {
			return false, fmt.Errorf("pgwire: reading SSLRequest response: %w", err)
		}
		switch resp[0] {
		case 'S':
			return true, nil
		case 'N':
			return false, nil
		default:
			continue
		}
	}
	return false, fmt.Errorf("pgwire: too many SSL negotiation attempts")
}
