package mysqlclient

import (
	"context"

	"github.com/asyncsql/asyncsql/internal/mysqlwire"
)

// ops is the dbsession.ProtocolOps capability set for a MySQL session:
// BEGIN/COMMIT/ROLLBACK have no dedicated command bytes in the MySQL wire
// protocol, so each is sent as a COM_QUERY text command; terminate uses
// COM_QUIT.
type ops struct {
	c *Connection
}

func (o *ops) SendBegin(ctx context.Context) error    { return o.c.sendCommand("BEGIN") }
func (o *ops) SendCommit(ctx context.Context) error   { return o.c.sendCommand("COMMIT") }
func (o *ops) SendRollback(ctx context.Context) error { return o.c.sendCommand("ROLLBACK") }

func (o *ops) SendTerminate(ctx context.Context) error {
	return mysqlwire.WritePacket(o.c.conn, mysqlwire.EncodeComQuit(), 0)
}

func (c *Connection) sendCommand(sql string) error {
	return mysqlwire.WritePacket(c.conn, mysqlwire.EncodeComQuery(sql), 0)
}
