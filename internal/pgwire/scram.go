package pgwire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ScramClient drives a SASL SCRAM-SHA-256 exchange as specified by RFC 5802,
// against the three-message AuthenticationSASL / AuthenticationSASLContinue
// / AuthenticationSASLFinal sequence PostgreSQL uses for its "scram-sha-256"
// mechanism. The caller owns message framing and read/write timing; this
// type only computes message bodies and verifies the server's signature.
type ScramClient struct {
	user        string
	password    string
	clientNonce string
	gs2Header   string

	clientFirstBare string
	serverFirst     string
	saltedPassword  []byte
}

// NewScramClient generates a fresh client nonce and returns a client ready
// to build the SASLInitialResponse.
func NewScramClient(user, password string) (*ScramClient, error) {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("pgwire: generating SCRAM nonce: %w", err)
	}
	return &ScramClient{
		user:        user,
		password:    password,
		clientNonce: base64.StdEncoding.EncodeToString(nonceBytes),
		gs2Header:   "n,,",
	}, nil
}

// Mechanisms parses the null-terminated mechanism list offered in an
// AuthenticationSASL message.
func Mechanisms(payload []byte) []string {
	var mechs []string
	for pos := 0; pos < len(payload); {
		name, next := readCString(payload, pos)
		if name != "" {
			mechs = append(mechs, name)
		}
		if next <= pos {
			break
		}
		pos = next
	}
	return mechs
}

// ClientFirstMessage builds the "n,,n=<user>,r=<nonce>" SASLInitialResponse
// body (mechanism name plus the client-first-message).
func (c *ScramClient) ClientFirstMessage() []byte {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", scramEscapeUsername(c.user), c.clientNonce)
	return []byte(c.gs2Header + c.clientFirstBare)
}

// ClientFinalMessage consumes the server-first-message (from
// AuthenticationSASLContinue) and returns the client-final-message body to
// send as the SASLResponse.
func (c *ScramClient) ClientFinalMessage(serverFirst []byte) ([]byte, error) {
	c.serverFirst = string(serverFirst)
	serverNonce, salt, iterations, err := parseServerFirst(c.serverFirst)
	if err != nil {
		return nil, fmt.Errorf("pgwire: parsing SCRAM server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, fmt.Errorf("pgwire: SCRAM server nonce does not extend client nonce")
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(c.gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)
	authMessage := c.clientFirstBare + "," + c.serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	return []byte(clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)), nil
}

// VerifyServerFinal checks the server's signature in an
// AuthenticationSASLFinal message against what the client independently
// computed, proving the server also knows the password.
func (c *ScramClient) VerifyServerFinal(serverFinal []byte) error {
	serverNonce, _, _, err := parseServerFirst(c.serverFirst)
	if err != nil {
		return err
	}
	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(c.gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)
	authMessage := c.clientFirstBare + "," + c.serverFirst + "," + clientFinalWithoutProof

	serverKey := hmacSHA256(c.saltedPassword, []byte("Server Key"))
	expectedSig := hmacSHA256(serverKey, []byte(authMessage))
	expected := "v=" + base64.StdEncoding.EncodeToString(expectedSig)
	if string(serverFinal) != expected {
		return fmt.Errorf("pgwire: SCRAM server signature mismatch")
	}
	return nil
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			if _, serr := fmt.Sscanf(part[2:], "%d", &iterations); serr != nil {
				return "", nil, 0, fmt.Errorf("parsing iteration count: %w", serr)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

func scramEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
