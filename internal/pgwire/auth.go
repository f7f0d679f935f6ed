package pgwire

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Authentication sub-message types, carried in the first 4 bytes of an
// Authentication ('R') message payload.
const (
	AuthOK           uint32 = 0
	AuthCleartext    uint32 = 3
	AuthMD5          uint32 = 5
	AuthSASL         uint32 = 10
	AuthSASLContinue uint32 = 11
	AuthSASLFinal    uint32 = 12
)

// ParseAuthentication splits an Authentication message payload into its
// sub-type and the remaining bytes (the MD5 salt, the SASL mechanism list,
// or the SASL server message, depending on subType).
func ParseAuthentication(payload []byte) (subType uint32, rest []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("pgwire: authentication message too short")
	}
	return binary.BigEndian.Uint32(payload[:4]), payload[4:], nil
}

// MD5Password computes PostgreSQL's MD5 challenge response:
// "md5" + hex(MD5(hex(MD5(password||username)) || salt)).
func MD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// BuildPasswordMessage encodes a PasswordMessage ('p') carrying password,
// used for both cleartext and MD5 authentication responses.
func BuildPasswordMessage(password string) []byte {
	var buf []byte
	buf = putCString(buf, password)
	return buf
}
