package pgwire

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

// TestScramClientFullExchange plays the server side of the exchange using
// the same primitives, exercising the client's protocol logic without a
// real backend.
func TestScramClientFullExchange(t *testing.T) {
	const user, password = "alice", "s3cret"
	salt := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	const iterations = 4096

	client, err := NewScramClient(user, password)
	if err != nil {
		t.Fatalf("NewScramClient: %v", err)
	}
	clientFirst := client.ClientFirstMessage()
	if !strings.Contains(string(clientFirst), "n="+user) {
		t.Fatalf("client-first-message missing username: %q", clientFirst)
	}

	// Server extends the client nonce, per RFC 5802.
	clientNonce := extractField(string(clientFirst), "r=")
	serverNonce := clientNonce + "SERVERPART"
	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", serverNonce, base64.StdEncoding.EncodeToString(salt), iterations)

	clientFinal, err := client.ClientFinalMessage([]byte(serverFirst))
	if err != nil {
		t.Fatalf("ClientFinalMessage: %v", err)
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	// Reconstruct what the server expects: recompute proof the same way
	// and check the client's message agrees.
	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFirstBare := "n=" + user + ",r=" + clientNonce
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)
	expectedAuthMessage := clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof
	expectedSig := hmacSHA256(storedKey, []byte(expectedAuthMessage))
	expectedProof := xorBytes(clientKey, expectedSig)
	expectedFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(expectedProof)
	if string(clientFinal) != expectedFinal {
		t.Fatalf("client-final-message = %q; want %q", clientFinal, expectedFinal)
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	serverSig := hmacSHA256(serverKey, []byte(expectedAuthMessage))
	serverFinal := "v=" + base64.StdEncoding.EncodeToString(serverSig)
	if err := client.VerifyServerFinal([]byte(serverFinal)); err != nil {
		t.Fatalf("VerifyServerFinal: %v", err)
	}
}

func TestScramClientRejectsMismatchedServerNonce(t *testing.T) {
	client, _ := NewScramClient("bob", "pw")
	client.ClientFirstMessage()
	serverFirst := "r=totally-different-nonce,s=" + base64.StdEncoding.EncodeToString([]byte("salt")) + ",i=4096"
	if _, err := client.ClientFinalMessage([]byte(serverFirst)); err == nil {
		t.Fatal("expected an error when the server nonce doesn't extend the client nonce")
	}
}

func TestScramClientRejectsBadServerSignature(t *testing.T) {
	client, _ := NewScramClient("carol", "pw")
	first := client.ClientFirstMessage()
	nonce := extractField(string(first), "r=")
	serverFirst := fmt.Sprintf("r=%sX,s=%s,i=4096", nonce, base64.StdEncoding.EncodeToString([]byte("saltsalt")))
	if _, err := client.ClientFinalMessage([]byte(serverFirst)); err != nil {
		t.Fatalf("ClientFinalMessage: %v", err)
	}
	if err := client.VerifyServerFinal([]byte("v=bogus")); err == nil {
		t.Fatal("expected server signature verification to fail")
	}
}

func TestMechanisms(t *testing.T) {
	payload := []byte("SCRAM-SHA-256\x00SCRAM-SHA-256-PLUS\x00\x00")
	mechs := Mechanisms(payload)
	if len(mechs) != 2 || mechs[0] != "SCRAM-SHA-256" || mechs[1] != "SCRAM-SHA-256-PLUS" {
		t.Fatalf("Mechanisms() = %v", mechs)
	}
}

func extractField(msg, prefix string) string {
	for _, part := range strings.Split(msg, ",") {
		if strings.HasPrefix(part, prefix) {
			return part[len(prefix):]
		}
	}
	return ""
}
