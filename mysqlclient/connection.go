package mysqlclient

import (
	"io"
	"net"

	"github.com/asyncsql/asyncsql"
	"github.com/asyncsql/asyncsql/dbfuture"
	"github.com/asyncsql/asyncsql/dbsession"
	"github.com/asyncsql/asyncsql/dbtype"
	"github.com/asyncsql/asyncsql/internal/mysqlwire"
	"github.com/asyncsql/asyncsql/internal/netio"
)

// Connection is the MySQL-backed asyncsql.Connection: one socket, one
// dbsession.Session, one netio.Loop goroutine.
type Connection struct {
	id   string
	conn net.Conn
	sess *dbsession.Session
	mgr  *Manager
	loop *netio.Loop
}

func newConnection(id string, conn net.Conn, mgr *Manager) *Connection {
	c := &Connection{id: id, conn: conn, mgr: mgr}
	c.sess = dbsession.New(id, &ops{c: c})
	return c
}

// start wires a mysqlwire.Decoder to the session and launches the
// transport read loop. Called once, after the handshake has already put
// the connection into the steady (command/response) state.
func (c *Connection) start() {
	dec := mysqlwire.NewDecoder()
	step := func(r io.Reader) error { return dec.Step(r, c.sess) }
	c.loop = netio.Start(c.conn, step, netio.Handlers{
		SessionClosed: c.onTransportClosed,
	})
}

// onTransportClosed runs when the read loop exits: a clean EOF after
// COM_QUIT settles the pending close request; anything else (or an EOF
// with no close in flight) fails the active request and drops the
// session from the manager's live set.
func (c *Connection) onTransportClosed(err error) {
	if active := c.sess.Active(); active != nil {
		if err == nil {
			_ = active.Complete(struct{}{})
		} else {
			active.SettleError(err)
		}
		c.sess.CompleteActive()
	}
	c.mgr.removeSession(c.id)
}

func (c *Connection) ExecuteQuery(sql string) *dbfuture.SessionFuture[asyncsql.ResultSet] {
	handler := &dbsession.EventHandler[asyncsql.ResultSet]{
		Field: func(acc *asyncsql.ResultSet, f dbtype.Field) { acc.Fields = append(acc.Fields, f) },
		StartRow: func(acc *asyncsql.ResultSet) {
			acc.Rows = append(acc.Rows, nil)
		},
		Value: func(acc *asyncsql.ResultSet, v dbtype.Value) {
			i := len(acc.Rows) - 1
			acc.Rows[i] = append(acc.Rows[i], v)
		},
	}
	return dbsession.ExecuteQuery[asyncsql.ResultSet](c.sess, asyncsql.ResultSet{}, handler, true,
		func(r *dbsession.Request[asyncsql.ResultSet]) error { return c.sendCommand(sql) })
}

func (c *Connection) ExecuteQueryStreaming(sql string, h asyncsql.RowHandler) *dbfuture.SessionFuture[struct{}] {
	eh := &dbsession.EventHandler[struct{}]{
		StartFields:  func(*struct{}) { h.StartFields() },
		Field:        func(_ *struct{}, f dbtype.Field) { h.Field(f) },
		EndFields:    func(*struct{}) { h.EndFields() },
		StartResults: func(*struct{}) { h.StartResults() },
		StartRow:     func(*struct{}) { h.StartRow() },
		Value:        func(_ *struct{}, v dbtype.Value) { h.Value(v) },
		EndRow:       func(*struct{}) { h.EndRow() },
		EndResults:   func(*struct{}) { h.EndResults() },
		Exception:    func(_ *struct{}, err error) { h.Exception(err) },
	}
	return dbsession.ExecuteQuery[struct{}](c.sess, struct{}{}, eh, true,
		func(r *dbsession.Request[struct{}]) error { return c.sendCommand(sql) })
}

func (c *Connection) ExecuteUpdate(sql string) *dbfuture.SessionFuture[asyncsql.UpdateResult] {
	raw := dbsession.ExecuteUpdate[mysqlwire.OKResponse](c.sess, mysqlwire.OKResponse{}, true,
		func(r *dbsession.Request[mysqlwire.OKResponse]) error { return c.sendCommand(sql) })
	return dbfuture.Map(raw, func(ok mysqlwire.OKResponse) asyncsql.UpdateResult {
		return asyncsql.UpdateResult{RowsAffected: int64(ok.AffectedRows), LastInsertID: int64(ok.LastInsertID)}
	})
}

func (c *Connection) BeginTransaction() error { return c.sess.BeginTransaction() }
func (c *Connection) Commit() *dbfuture.SessionFuture[struct{}]   { return c.sess.Commit() }
func (c *Connection) Rollback() *dbfuture.SessionFuture[struct{}] { return c.sess.Rollback() }
func (c *Connection) Close(immediate bool) *dbfuture.SessionFuture[struct{}] {
	return c.sess.Close(immediate)
}
func (c *Connection) IsClosed() bool        { return c.sess.IsClosed() }
func (c *Connection) IsInTransaction() bool { return c.sess.IsInTransaction() }

var _ asyncsql.Connection = (*Connection)(nil)
