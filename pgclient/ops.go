package pgclient

import (
	"context"

	"github.com/asyncsql/asyncsql/internal/pgwire"
)

// ops is the dbsession.ProtocolOps capability set for a PostgreSQL session.
// BEGIN/COMMIT/ROLLBACK are ordinary SQL statements here, sent through the
// extended query protocol via the shared statement cache so repeat
// transaction brackets elide their Parse frame.
type ops struct {
	c *Connection
}

func (o *ops) SendBegin(ctx context.Context) error    { return o.c.sendStatement("BEGIN") }
func (o *ops) SendCommit(ctx context.Context) error   { return o.c.sendStatement("COMMIT") }
func (o *ops) SendRollback(ctx context.Context) error { return o.c.sendStatement("ROLLBACK") }

func (o *ops) SendTerminate(ctx context.Context) error {
	return pgwire.WriteMessage(o.c.conn, pgwire.MsgTerminate, nil)
}

// sendStatement runs sql through the Parse/Bind/Describe/Execute/Sync
// sequence, reusing a cached statement name (and skipping Parse) when the
// exact text has been sent before — the common case for the three
// transaction keywords.
func (c *Connection) sendStatement(sql string) error {
	name, cached := c.stmtCache.Lookup(sql)
	if !cached {
		name = c.stmtCache.Assign(sql)
	}
	msgs := pgwire.ExtendedQuerySequence(name, sql, nil, cached)
	for _, m := range msgs {
		if err := pgwire.WriteMessage(c.conn, m.Type, m.Payload); err != nil {
			return err
		}
	}
	return nil
}
