package mysqlwire

import (
	"crypto/sha1" //nolint:gosec // required by the mysql_native_password algorithm
	"encoding/binary"
	"fmt"
)

// Capability flags this client advertises in HandshakeResponse41, mirroring
// the teacher's pool.go client-side handshake.
const (
	CapLongPassword     = uint32(1)
	CapConnectWithDB    = uint32(8)
	CapProtocol41       = uint32(512)
	CapSecureConnection = uint32(32768)
	CapPluginAuth       = uint32(1 << 19)
)

const defaultClientCaps = CapLongPassword | CapProtocol41 | CapSecureConnection | CapPluginAuth | CapConnectWithDB

// HandshakeV10 is the server greeting parsed from the first packet of a new
// connection.
type HandshakeV10 struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	AuthPluginData  []byte
	Capabilities    uint32
	CharacterSet    byte
	AuthPluginName  string
}

// ParseHandshakeV10 decodes the server's initial handshake packet.
func ParseHandshakeV10(pkt []byte) (HandshakeV10, error) {
	var hs HandshakeV10
	if len(pkt) < 1 {
		return hs, fmt.Errorf("mysqlwire: empty handshake packet")
	}
	hs.ProtocolVersion = pkt[0]
	pos := 1

	var verBytes []byte
	verBytes, pos = ReadNullTerminated(pkt, pos)
	hs.ServerVersion = string(verBytes)

	if pos+4 > len(pkt) {
		return hs, fmt.Errorf("mysqlwire: handshake too short for connection id")
	}
	hs.ConnectionID = binary.LittleEndian.Uint32(pkt[pos : pos+4])
	pos += 4

	if pos+8 > len(pkt) {
		return hs, fmt.Errorf("mysqlwire: handshake too short for auth-plugin-data-part-1")
	}
	authData := append([]byte{}, pkt[pos:pos+8]...)
	pos += 8 + 1 // skip filler byte

	if pos+2 > len(pkt) {
		return hs, fmt.Errorf("mysqlwire: handshake too short for capability flags (low)")
	}
	capLow := uint32(binary.LittleEndian.Uint16(pkt[pos : pos+2]))
	pos += 2

	if pos+3 > len(pkt) {
		return hs, fmt.Errorf("mysqlwire: handshake too short for charset/status")
	}
	hs.CharacterSet = pkt[pos]
	pos += 3 // charset(1) + status_flags(2)

	if pos+2 > len(pkt) {
		return hs, fmt.Errorf("mysqlwire: handshake too short for capability flags (high)")
	}
	capHigh := uint32(binary.LittleEndian.Uint16(pkt[pos:pos+2])) << 16
	pos += 2
	hs.Capabilities = capLow | capHigh

	var authPluginDataLen int
	if pos < len(pkt) {
		authPluginDataLen = int(pkt[pos])
		pos++
	}
	pos += 10 // reserved

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	pos += part2Len
	hs.AuthPluginData = authData

	hs.AuthPluginName = "mysql_native_password"
	if hs.Capabilities&CapPluginAuth != 0 && pos < len(pkt) {
		name, _ := ReadNullTerminated(pkt, pos)
		hs.AuthPluginName = string(name)
	}
	return hs, nil
}

// BuildHandshakeResponse41 builds the client's HandshakeResponse41 payload
// for the given credentials, using the negotiated plugin's challenge data.
func BuildHandshakeResponse41(username, password, database string, pluginName string, authPluginData []byte) []byte {
	authResp := computeAuthResponse(pluginName, password, authPluginData)

	resp := PutUint32LE(nil, defaultClientCaps)
	resp = append(resp, 0xff, 0xff, 0xff, 0x00) // max_packet_size
	resp = append(resp, 0x21)                   // utf8_general_ci
	resp = append(resp, make([]byte, 23)...)    // reserved
	resp = NullTerminated(resp, username)
	resp = append(resp, byte(len(authResp)))
	resp = append(resp, authResp...)
	resp = NullTerminated(resp, database)
	resp = NullTerminated(resp, "mysql_native_password")
	return resp
}

func computeAuthResponse(pluginName, password string, challenge []byte) []byte {
	switch pluginName {
	case "mysql_native_password":
		return NativePasswordHash([]byte(password), challenge)
	default:
		return nil
	}
}

// NativePasswordHash computes SHA1(password) XOR SHA1(authData +
// SHA1(SHA1(password))), the mysql_native_password challenge response.
func NativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password)
	h2 := sha1.Sum(h1[:])
	h := sha1.New()
	h.Write(authData)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	result := make([]byte, len(h1))
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result
}

// AuthSwitchRequest is sent by the server when it wants a different auth
// plugin than the one HandshakeResponse41 assumed.
type AuthSwitchRequest struct {
	PluginName string
	PluginData []byte
}

// ParseAuthSwitchRequest decodes a 0xfe AuthSwitchRequest packet (the caller
// is responsible for checking the marker byte first).
func ParseAuthSwitchRequest(pkt []byte) (AuthSwitchRequest, error) {
	if len(pkt) < 2 {
		return AuthSwitchRequest{}, fmt.Errorf("mysqlwire: malformed AuthSwitchRequest")
	}
	name, next := ReadNullTerminated(pkt, 1)
	data := []byte{}
	if next < len(pkt) {
		data = pkt[next:]
		if len(data) > 0 && data[len(data)-1] == 0 {
			data = data[:len(data)-1]
		}
	}
	return AuthSwitchRequest{PluginName: string(name), PluginData: data}, nil
}
