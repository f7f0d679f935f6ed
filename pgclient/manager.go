// Package pgclient implements the PostgreSQL-protocol asyncsql.ConnectionManager:
// dialing out, driving the startup/authentication handshake (cleartext, MD5,
// and SCRAM-SHA-256), and minting sessions backed by internal/pgwire and
// internal/netio. Grounded on the teacher's internal/pool.Manager and
// TenantPool.authenticatePG/scramSHA256Auth, adapted the same way
// mysqlclient adapted TenantPool.authenticateMySQL.
package pgclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asyncsql/asyncsql"
	"github.com/asyncsql/asyncsql/dbconfig"
	"github.com/asyncsql/asyncsql/dbfuture"
	"github.com/asyncsql/asyncsql/dbsession"
	"github.com/asyncsql/asyncsql/internal/obsmetrics"
	"github.com/asyncsql/asyncsql/internal/pgwire"
)

func init() {
	asyncsql.Register("postgresql", func(target dbconfig.Target, opts *dbconfig.Options) (asyncsql.ConnectionManager, error) {
		return NewManager(target, opts), nil
	})
}

// Manager dials one PostgreSQL backend target and tracks every live session
// it has minted, mirroring mysqlclient.Manager.
type Manager struct {
	target dbconfig.Target
	opts   *dbconfig.Options
	metric *obsmetrics.Collector

	mu       sync.Mutex
	sessions map[string]*Connection
	nextID   uint64
	closed   bool
}

func NewManager(target dbconfig.Target, opts *dbconfig.Options) *Manager {
	return &Manager{
		target:   target,
		opts:     opts,
		metric:   obsmetrics.New(),
		sessions: make(map[string]*Connection),
	}
}

func (m *Manager) Metrics() *prometheus.Registry { return m.metric.Registry }

func (m *Manager) newSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return fmt.Sprintf("postgresql-%d", m.nextID)
}

// Connect dials the backend and performs startup/authentication
// asynchronously; the returned future settles with the ready Connection.
// Cancelling it before the handshake completes tears down the socket
// immediately, per spec.md §4.5.
func (m *Manager) Connect() *dbfuture.SessionFuture[asyncsql.Connection] {
	id := m.newSessionID()
	ctx, cancel := context.WithCancel(context.Background())

	f := dbfuture.New[asyncsql.Connection](func(mayInterrupt bool) bool {
		cancel()
		return true
	})
	sf := dbfuture.NewSession[asyncsql.Connection](f, id)

	go m.dial(ctx, id, sf)

	return sf
}

func (m *Manager) dial(ctx context.Context, id string, sf *dbfuture.SessionFuture[asyncsql.Connection]) {
	addr := net.JoinHostPort(m.target.Host, fmt.Sprintf("%d", m.target.Port))
	dialer := net.Dialer{Timeout: m.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		_ = sf.SetException(fmt.Errorf("pgclient: dialing %s: %w", addr, err))
		return
	}
	if ctx.Err() != nil {
		conn.Close()
		_ = sf.SetException(ctx.Err())
		return
	}

	_ = conn.SetDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	dec := pgwire.NewDecoder()
	if err := m.handshake(conn, dec); err != nil {
		conn.Close()
		_ = sf.SetException(err)
		return
	}
	_ = conn.SetDeadline(time.Time{})

	if ctx.Err() != nil {
		conn.Close()
		_ = sf.SetException(ctx.Err())
		return
	}

	c := newConnection(id, conn, m, dec)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		_ = sf.SetException(fmt.Errorf("pgclient: manager closed during connect"))
		return
	}
	m.sessions[id] = c
	m.mu.Unlock()

	m.metric.SessionOpened("postgresql")
	c.start()

	_ = sf.SetResult(asyncsql.Connection(c))
}

// handshake sends the StartupMessage and drives the authentication
// exchange through to the first ReadyForQuery, collecting ParameterStatus
// and BackendKeyData into dec along the way. Grounded on the teacher's
// TenantPool.authenticatePG.
func (m *Manager) handshake(conn net.Conn, dec *pgwire.Decoder) error {
	startup := pgwire.BuildStartupMessage(m.opts.User, m.target.Database, nil)
	if _, err := conn.Write(startup); err != nil {
		return fmt.Errorf("pgclient: sending startup message: %w", err)
	}

	for {
		msgType, payload, err := pgwire.ReadMessage(conn)
		if err != nil {
			return fmt.Errorf("pgclient: reading handshake message: %w", err)
		}

		switch msgType {
		case pgwire.MsgAuthentication:
			subType, rest, err := pgwire.ParseAuthentication(payload)
			if err != nil {
				return fmt.Errorf("pgclient: %w", err)
			}
			switch subType {
			case pgwire.AuthOK:
				continue
			case pgwire.AuthCleartext:
				if err := m.sendPassword(conn, m.opts.Password); err != nil {
					return err
				}
			case pgwire.AuthMD5:
				if len(rest) < 4 {
					return fmt.Errorf("pgclient: MD5 auth message too short")
				}
				md5Pass := pgwire.MD5Password(m.opts.User, m.opts.Password, rest[:4])
				if err := m.sendPassword(conn, md5Pass); err != nil {
					return err
				}
			case pgwire.AuthSASL:
				if err := m.scramAuth(conn, rest); err != nil {
					return fmt.Errorf("pgclient: SCRAM-SHA-256 auth: %w", err)
				}
			default:
				return fmt.Errorf("pgclient: unsupported authentication type %d", subType)
			}

		case pgwire.MsgParameterStatus:
			key, next := pgwireReadCString(payload, 0)
			val, _ := pgwireReadCString(payload, next)
			dec.ServerParams[key] = val

		case pgwire.MsgBackendKeyData:
			if len(payload) >= 8 {
				dec.BackendPID = binary.BigEndian.Uint32(payload[:4])
				dec.BackendSecret = binary.BigEndian.Uint32(payload[4:8])
			}

		case pgwire.MsgReadyForQuery:
			return nil

		case pgwire.MsgErrorResponse:
			serverErr, perr := pgwire.ParseErrorResponse(payload)
			if perr != nil {
				return fmt.Errorf("pgclient: backend error during handshake")
			}
			return serverErr

		default:
			continue
		}
	}
}

func (m *Manager) sendPassword(conn net.Conn, password string) error {
	return pgwire.WriteMessage(conn, pgwire.MsgPassword, pgwire.BuildPasswordMessage(password))
}

// scramAuth drives the three-message SASL SCRAM-SHA-256 exchange using
// pgwire.ScramClient; it owns message framing since pgwire.ScramClient only
// computes message bodies.
func (m *Manager) scramAuth(conn net.Conn, saslPayload []byte) error {
	mechs := pgwire.Mechanisms(saslPayload)
	found := false
	for _, mech := range mechs {
		if mech == "SCRAM-SHA-256" {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("server does not offer SCRAM-SHA-256, offered: %v", mechs)
	}

	sc, err := pgwire.NewScramClient(m.opts.User, m.opts.Password)
	if err != nil {
		return err
	}

	first := sc.ClientFirstMessage()
	initial := buildSASLInitialResponse("SCRAM-SHA-256", first)
	if err := pgwire.WriteMessage(conn, pgwire.MsgPassword, initial); err != nil {
		return fmt.Errorf("sending SASL initial response: %w", err)
	}

	msgType, payload, err := pgwire.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("reading server-first-message: %w", err)
	}
	if msgType != pgwire.MsgAuthentication {
		return fmt.Errorf("expected AuthenticationSASLContinue, got %q", msgType)
	}
	subType, rest, err := pgwire.ParseAuthentication(payload)
	if err != nil || subType != pgwire.AuthSASLContinue {
		return fmt.Errorf("expected AuthenticationSASLContinue")
	}

	final, err := sc.ClientFinalMessage(rest)
	if err != nil {
		return err
	}
	if err := pgwire.WriteMessage(conn, pgwire.MsgPassword, final); err != nil {
		return fmt.Errorf("sending SASL response: %w", err)
	}

	msgType, payload, err = pgwire.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("reading server-final-message: %w", err)
	}
	if msgType != pgwire.MsgAuthentication {
		return fmt.Errorf("expected AuthenticationSASLFinal, got %q", msgType)
	}
	subType, rest, err = pgwire.ParseAuthentication(payload)
	if err != nil || subType != pgwire.AuthSASLFinal {
		return fmt.Errorf("expected AuthenticationSASLFinal")
	}
	return sc.VerifyServerFinal(rest)
}

// buildSASLInitialResponse wraps a client-first-message in the
// SASLInitialResponse framing: mechanism name, then a length-prefixed body.
func buildSASLInitialResponse(mechanism string, clientFirst []byte) []byte {
	buf := append([]byte(mechanism), 0)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(clientFirst)))
	buf = append(buf, lenBuf...)
	buf = append(buf, clientFirst...)
	return buf
}

func pgwireReadCString(data []byte, pos int) (string, int) {
	end := pos
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return string(data[pos:]), end
	}
	return string(data[pos:end]), end + 1
}

// Sessions and Session implement asyncsql.SessionLister.
func (m *Manager) Sessions() []asyncsql.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]asyncsql.SessionInfo, 0, len(m.sessions))
	for id, c := range m.sessions {
		out = append(out, asyncsql.SessionInfo{
			ID: id, Protocol: "postgresql",
			InTransaction: c.IsInTransaction(), Closed: c.IsClosed(),
		})
	}
	return out
}

func (m *Manager) Session(id string) (asyncsql.SessionInfo, bool) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return asyncsql.SessionInfo{}, false
	}
	return asyncsql.SessionInfo{
		ID: id, Protocol: "postgresql",
		InTransaction: c.IsInTransaction(), Closed: c.IsClosed(),
	}, true
}

func (m *Manager) removeSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.metric.SessionClosed("postgresql")
}

func (m *Manager) Close(immediate bool) *dbfuture.Future[struct{}] {
	f := dbfuture.New[struct{}](nil)

	m.mu.Lock()
	m.closed = true
	sessions := make([]*Connection, 0, len(m.sessions))
	for _, c := range m.sessions {
		sessions = append(sessions, c)
	}
	m.mu.Unlock()

	go func() {
		var wg sync.WaitGroup
		for _, c := range sessions {
			wg.Add(1)
			go func(c *Connection) {
				defer wg.Done()
				cf := c.sess.Close(immediate)
				_, _ = cf.Get(nil)
			}(c)
		}
		wg.Wait()
		_ = f.SetResult(struct{}{})
	}()

	return f
}

var (
	_ asyncsql.ConnectionManager = (*Manager)(nil)
	_ asyncsql.SessionLister     = (*Manager)(nil)
)

var _ dbsession.ProtocolOps = (*ops)(nil)
