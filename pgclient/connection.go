package pgclient

import (
	"io"
	"net"

	"github.com/asyncsql/asyncsql"
	"github.com/asyncsql/asyncsql/dbfuture"
	"github.com/asyncsql/asyncsql/dbsession"
	"github.com/asyncsql/asyncsql/dbtype"
	"github.com/asyncsql/asyncsql/internal/netio"
	"github.com/asyncsql/asyncsql/internal/pgwire"
)

// Connection is the PostgreSQL-backed asyncsql.Connection: one socket, one
// dbsession.Session, one netio.Loop goroutine, mirroring mysqlclient.Connection.
type Connection struct {
	id        string
	conn      net.Conn
	sess      *dbsession.Session
	mgr       *Manager
	loop      *netio.Loop
	dec       *pgwire.Decoder
	stmtCache *pgwire.StatementCache
}

func newConnection(id string, conn net.Conn, mgr *Manager, dec *pgwire.Decoder) *Connection {
	c := &Connection{id: id, conn: conn, mgr: mgr, dec: dec, stmtCache: pgwire.NewStatementCache()}
	c.sess = dbsession.New(id, &ops{c: c})
	return c
}

func (c *Connection) start() {
	step := func(r io.Reader) error { return c.dec.Step(r, c.sess) }
	c.loop = netio.Start(c.conn, step, netio.Handlers{
		SessionClosed: c.onTransportClosed,
	})
}

// onTransportClosed mirrors mysqlclient.Connection.onTransportClosed: a
// clean EOF after Terminate settles the pending close request; anything
// else fails whatever request was in flight.
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
		func(r *dbsession.Request[asyncsql.ResultSet]) error { return c.sendExtendedQuery(sql) })
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
		func(r *dbsession.Request[struct{}]) error { return c.sendExtendedQuery(sql) })
}

func (c *Connection) ExecuteUpdate(sql string) *dbfuture.SessionFuture[asyncsql.UpdateResult] {
	raw := dbsession.ExecuteUpdate[pgwire.CommandTag](c.sess, pgwire.CommandTag{}, true,
		func(r *dbsession.Request[pgwire.CommandTag]) error { return c.sendExtendedQuery(sql) })
	return dbfuture.Map(raw, func(tag pgwire.CommandTag) asyncsql.UpdateResult {
		return asyncsql.UpdateResult{RowsAffected: tag.Rows, LastInsertID: tag.OID}
	})
}

// sendExtendedQuery runs an arbitrary statement as an anonymous, always-
// fresh prepared statement — unlike transaction brackets, application SQL
// is not cached since repeating the exact text is not the common case.
func (c *Connection) sendExtendedQuery(sql string) error {
	msgs := pgwire.ExtendedQuerySequence("", sql, nil, false)
	for _, m := range msgs {
		if err := pgwire.WriteMessage(c.conn, m.Type, m.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) BeginTransaction() error                    { return c.sess.BeginTransaction() }
func (c *Connection) Commit() *dbfuture.SessionFuture[struct{}]   { return c.sess.Commit() }
func (c *Connection) Rollback() *dbfuture.SessionFuture[struct{}] { return c.sess.Rollback() }
func (c *Connection) Close(immediate bool) *dbfuture.SessionFuture[struct{}] {
	return c.sess.Close(immediate)
}
func (c *Connection) IsClosed() bool        { return c.sess.IsClosed() }
func (c *Connection) IsInTransaction() bool { return c.sess.IsInTransaction() }

var _ asyncsql.Connection = (*Connection)(nil)
