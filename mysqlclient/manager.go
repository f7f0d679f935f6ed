// Package mysqlclient implements the MySQL-protocol asyncsql.ConnectionManager:
// dialing out, driving the client/server handshake, and minting sessions
// backed by internal/mysqlwire and internal/netio. Grounded on the
// teacher's internal/pool.Manager (tenant pool registry) and
// TenantPool.dial/authenticateMySQL, adapted from "lease a pooled
// connection for a tenant" to "mint one fresh session per Connect call".
package mysqlclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asyncsql/asyncsql"
	"github.com/asyncsql/asyncsql/dbconfig"
	"github.com/asyncsql/asyncsql/dbfuture"
	"github.com/asyncsql/asyncsql/dbsession"
	"github.com/asyncsql/asyncsql/internal/mysqlwire"
	"github.com/asyncsql/asyncsql/internal/obsmetrics"
)

func init() {
	asyncsql.Register("mysql", func(target dbconfig.Target, opts *dbconfig.Options) (asyncsql.ConnectionManager, error) {
		return NewManager(target, opts), nil
	})
}

// Manager dials one MySQL backend target and tracks every live session it
// has minted, per spec.md §4.5 ("Manager tracks live sessions in a set;
// sessions remove themselves on close").
type Manager struct {
	target dbconfig.Target
	opts   *dbconfig.Options
	metric *obsmetrics.Collector

	mu       sync.Mutex
	sessions map[string]*Connection
	nextID   uint64
	closed   bool
}

// NewManager returns a Manager ready to Connect against target.
func NewManager(target dbconfig.Target, opts *dbconfig.Options) *Manager {
	return &Manager{
		target:   target,
		opts:     opts,
		metric:   obsmetrics.New(),
		sessions: make(map[string]*Connection),
	}
}

// Metrics exposes this manager's Prometheus registry for scraping.
func (m *Manager) Metrics() *prometheus.Registry { return m.metric.Registry }

func (m *Manager) newSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return fmt.Sprintf("mysql-%d", m.nextID)
}

// Connect dials the backend, installs a ConnectFuture bound to the new
// session's id, and performs the handshake asynchronously; the returned
// future settles with the ready Connection or a TransportError/AuthError.
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
		_ = sf.SetException(fmt.Errorf("mysqlclient: dialing %s: %w", addr, err))
		return
	}
	if ctx.Err() != nil {
		conn.Close()
		_ = sf.SetException(ctx.Err())
		return
	}

	_ = conn.SetDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	if err := m.handshake(conn); err != nil {
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

	c := newConnection(id, conn, m)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		_ = sf.SetException(fmt.Errorf("mysqlclient: manager closed during connect"))
		return
	}
	m.sessions[id] = c
	m.mu.Unlock()

	m.metric.SessionOpened("mysql")
	c.start()

	_ = sf.SetResult(asyncsql.Connection(c))
}

// handshake performs Protocol::HandshakeV10 and mysql_native_password
// authentication, grounded on the teacher's TenantPool.authenticateMySQL.
func (m *Manager) handshake(conn net.Conn) error {
	pkt, _, err := mysqlwire.ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("mysqlclient: reading server handshake: %w", err)
	}
	if len(pkt) > 0 && pkt[0] == mysqlwire.ErrPacket {
		parsed, perr := mysqlwire.ParseErr(pkt)
		if perr == nil {
			return parsed
		}
		return fmt.Errorf("mysqlclient: server sent error on connect")
	}

	hs, err := mysqlwire.ParseHandshakeV10(pkt)
	if err != nil {
		return fmt.Errorf("mysqlclient: parsing server handshake: %w", err)
	}

	resp := mysqlwire.BuildHandshakeResponse41(m.opts.User, m.opts.Password, m.target.Database, hs.AuthPluginName, hs.AuthPluginData)
	if err := mysqlwire.WritePacket(conn, resp, 1); err != nil {
		return fmt.Errorf("mysqlclient: sending handshake response: %w", err)
	}

	pkt, _, err = mysqlwire.ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("mysqlclient: reading auth result: %w", err)
	}
	if len(pkt) == 0 {
		return fmt.Errorf("mysqlclient: empty auth result")
	}

	switch pkt[0] {
	case mysqlwire.OKPacket:
		return nil
	case 0xfe: // AuthSwitchRequest
		return m.authSwitch(conn, pkt)
	case mysqlwire.ErrPacket:
		parsed, perr := mysqlwire.ParseErr(pkt)
		if perr != nil {
			return fmt.Errorf("mysqlclient: authentication failed")
		}
		return parsed
	default:
		return fmt.Errorf("mysqlclient: unexpected auth response byte 0x%02x", pkt[0])
	}
}

func (m *Manager) authSwitch(conn net.Conn, pkt []byte) error {
	sw, err := mysqlwire.ParseAuthSwitchRequest(pkt)
	if err != nil {
		return fmt.Errorf("mysqlclient: %w", err)
	}
	if sw.PluginName != "mysql_native_password" {
		return fmt.Errorf("mysqlclient: unsupported auth plugin switch to %q", sw.PluginName)
	}
	resp := mysqlwire.NativePasswordHash([]byte(m.opts.Password), sw.PluginData)
	if err := mysqlwire.WritePacket(conn, resp, 3); err != nil {
		return fmt.Errorf("mysqlclient: sending auth switch response: %w", err)
	}
	pkt, _, err := mysqlwire.ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("mysqlclient: reading auth switch result: %w", err)
	}
	if len(pkt) == 0 || pkt[0] != mysqlwire.OKPacket {
		return fmt.Errorf("mysqlclient: authentication failed after plugin switch")
	}
	return nil
}

// Sessions and Session implement asyncsql.SessionLister.
func (m *Manager) Sessions() []asyncsql.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]asyncsql.SessionInfo, 0, len(m.sessions))
	for id, c := range m.sessions {
		out = append(out, asyncsql.SessionInfo{
			ID: id, Protocol: "mysql",
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
		ID: id, Protocol: "mysql",
		InTransaction: c.IsInTransaction(), Closed: c.IsClosed(),
	}, true
}

func (m *Manager) removeSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.metric.SessionClosed("mysql")
}

// Close(immediate=true) tears down every live session without waiting for
// pending work; Close(immediate=false) drains each session (equivalent to
// calling Connection.Close(false) on all of them) before settling.
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
