package pgclient

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/asyncsql/asyncsql/dbconfig"
	"github.com/asyncsql/asyncsql/internal/pgwire"
)

func testTarget(t *testing.T, ln net.Listener) (dbconfig.Target, *dbconfig.Options) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("splitting listener addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}
	target := dbconfig.Target{Protocol: "postgresql", Host: host, Port: port, Database: "demo"}
	opts := &dbconfig.Options{
		Protocol: "postgresql", Host: host, Port: port, Database: "demo",
		User: "alice", Password: "secret",
		PipeliningEnabled: true,
		ConnectTimeout:    2 * time.Second,
		HandshakeTimeout:  2 * time.Second,
	}
	return target, opts
}

func authOKPayload() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, pgwire.AuthOK)
	return buf
}

func authCleartextPayload() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, pgwire.AuthCleartext)
	return buf
}

func buildRowDescription(name string, typeOID uint32) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, 1)
	buf = append(buf, name...)
	buf = append(buf, 0)
	tmp := make([]byte, 18)
	binary.BigEndian.PutUint32(tmp[6:10], typeOID)
	buf = append(buf, tmp...)
	return buf
}

func buildDataRowTextValue(val string) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, 1)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(val)))
	buf = append(buf, lenBuf...)
	buf = append(buf, val...)
	return buf
}

// drainStartup reads the StartupMessage off conn and discards it.
func drainStartup(conn net.Conn) error {
	buf := make([]byte, 4)
	if _, err := readFull(conn, buf); err != nil {
		return err
	}
	length := int(binary.BigEndian.Uint32(buf))
	rest := make([]byte, length-4)
	_, err := readFull(conn, rest)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestConnectHandshakeAndQuery exercises scenario 1's PostgreSQL
// counterpart: cleartext auth followed by one extended-query round trip
// (Parse/Bind/Describe/Execute/Sync answered with ParseComplete,
// BindComplete, RowDescription, DataRow, CommandComplete, ReadyForQuery).
func TestConnectHandshakeAndQuery(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- func() error {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := drainStartup(conn); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgAuthentication, authCleartextPayload()); err != nil {
				return err
			}
			if _, _, err := pgwire.ReadMessage(conn); err != nil { // PasswordMessage
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgAuthentication, authOKPayload()); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgReadyForQuery, []byte{'I'}); err != nil {
				return err
			}

			// Frontend-only extended-query type bytes ('P'arse, 'B'ind,
			// 'D'escribe, 'E'xecute, 'S'ync); these share bytes with
			// backend-only types but are unambiguous in this direction.
			for _, want := range []byte{'P', 'B', 'D', 'E', 'S'} {
				msgType, _, err := pgwire.ReadMessage(conn)
				if err != nil {
					return err
				}
				if msgType != want {
					return fmt.Errorf("unexpected message type %q, want %q", msgType, want)
				}
			}

			if err := pgwire.WriteMessage(conn, pgwire.MsgParseComplete, nil); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgBindComplete, nil); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgRowDescription, buildRowDescription("one", 23)); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgDataRow, buildDataRowTextValue("1")); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgCommandComplete, append([]byte("SELECT 1"), 0)); err != nil {
				return err
			}
			if err := pgwire.WriteMessage(conn, pgwire.MsgReadyForQuery, []byte{'I'}); err != nil {
				return err
			}

			if _, _, err := pgwire.ReadMessage(conn); err != nil { // Terminate
				return err
			}
			return nil
		}()
	}()

	target, opts := testTarget(t, ln)
	mgr := NewManager(target, opts)

	conn, err := mgr.Connect().Get(nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rs, err := conn.ExecuteQuery("SELECT 1").Get(nil)
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(rs.Fields) != 1 || rs.Fields[0].Name != "one" {
		t.Fatalf("fields = %+v; want one field named one", rs.Fields)
	}
	if len(rs.Rows) != 1 || len(rs.Rows[0]) != 1 {
		t.Fatalf("rows = %+v; want a single one-column row", rs.Rows)
	}
	iv, ok := rs.Rows[0][0].Int64()
	if !ok || iv != 1 {
		t.Fatalf("row value = %v,%v; want 1,true", iv, ok)
	}

	if _, err := conn.Close(false).Get(nil); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("fake server: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fake server did not finish")
	}
}

// TestConnectBadCredentials exercises scenario 5: the server rejects
// cleartext auth with an ErrorResponse, and Connect's future settles with
// a *pgwire.ServerError exactly once.
func TestConnectBadCredentials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := drainStartup(conn); err != nil {
			return
		}
		_ = pgwire.WriteMessage(conn, pgwire.MsgAuthentication, authCleartextPayload())
		if _, _, err := pgwire.ReadMessage(conn); err != nil {
			return
		}
		_ = pgwire.WriteMessage(conn, pgwire.MsgErrorResponse,
			pgwire.BuildErrorResponse("FATAL", "28P01", "password authentication failed for user \"alice\""))
	}()

	target, opts := testTarget(t, ln)
	mgr := NewManager(target, opts)

	f := mgr.Connect()
	_, err1 := f.Get(nil)
	if err1 == nil {
		t.Fatal("expected Connect to fail with bad credentials")
	}
	if _, ok := err1.(*pgwire.ServerError); !ok {
		t.Fatalf("err = %T (%v); want *pgwire.ServerError", err1, err1)
	}

	_, err2 := f.Get(nil)
	if err2 != err1 {
		t.Fatalf("future settled twice with different errors: %v vs %v", err1, err2)
	}
}

