// Package asyncsql is the facade a caller actually imports: the
// protocol-neutral ConnectionManager/Connection interfaces, the result
// types every protocol handler reports into, and a database/sql-style
// driver registry so mysqlclient and pgclient can each register
// themselves against a URL scheme without this package importing either
// (avoiding the import cycle a direct switch on protocol would create).
package asyncsql

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asyncsql/asyncsql/dbconfig"
	"github.com/asyncsql/asyncsql/dbfuture"
	"github.com/asyncsql/asyncsql/dbtype"
)

// Field and Value are the protocol-neutral column description and decoded
// value types every ConnectionManager reports through.
type Field = dbtype.Field
type Value = dbtype.Value

// ResultSet accumulates a streamed query's fields and rows. It is the
// accumulator type ExecuteQuery settles its future with.
type ResultSet struct {
	Fields []Field
	Rows   [][]Value
}

// UpdateResult reports the server-side effect of a non-streaming
// update/DDL statement.
type UpdateResult struct {
	RowsAffected int64
	LastInsertID int64
}

// RowHandler receives row-by-row streaming callbacks for
// Connection.ExecuteQueryStreaming. Go interface methods cannot be
// generic, so unlike the conceptual "handler + accumulator" pair in
// spec.md §6, a RowHandler owns its own accumulation state; every method
// is optional to implement meaningfully — a handler that ignores a
// callback simply does nothing in it.
type RowHandler interface {
	StartFields()
	Field(f Field)
	EndFields()
	StartResults()
	StartRow()
	Value(v Value)
	EndRow()
	EndResults()
	Exception(err error)
}

// Connection is the per-session facade: query/update execution,
// transaction brackets, and lifecycle, independent of which wire protocol
// backs it.
type Connection interface {
	ExecuteQuery(sql string) *dbfuture.SessionFuture[ResultSet]
	ExecuteQueryStreaming(sql string, handler RowHandler) *dbfuture.SessionFuture[struct{}]
	ExecuteUpdate(sql string) *dbfuture.SessionFuture[UpdateResult]
	BeginTransaction() error
	Commit() *dbfuture.SessionFuture[struct{}]
	Rollback() *dbfuture.SessionFuture[struct{}]
	Close(immediate bool) *dbfuture.SessionFuture[struct{}]
	IsClosed() bool
	IsInTransaction() bool
}

// ConnectionManager mints and tracks Connections against one backend
// target, per spec.md §4.5.
type ConnectionManager interface {
	Connect() *dbfuture.SessionFuture[Connection]
	Close(immediate bool) *dbfuture.Future[struct{}]
	Metrics() *prometheus.Registry
}

// SessionInfo is a read-only snapshot of one live session, for
// introspection by the diagnostics server.
type SessionInfo struct {
	ID            string
	Protocol      string
	InTransaction bool
	Closed        bool
}

// SessionLister is an optional capability a ConnectionManager can implement
// to expose its live sessions for read-only introspection (diagnostics
// §4.5.1's /sessions endpoints). Both mysqlclient.Manager and
// pgclient.Manager implement it.
type SessionLister interface {
	Sessions() []SessionInfo
	Session(id string) (SessionInfo, bool)
}

// Factory builds a ConnectionManager for a resolved target and options. A
// protocol package (mysqlclient, pgclient) supplies one via Register.
type Factory func(target dbconfig.Target, opts *dbconfig.Options) (ConnectionManager, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register associates a Factory with a URL protocol name ("mysql",
// "postgresql"). Protocol packages call this from an init func; re-
// registering the same name overwrites the previous factory.
func Register(protocol string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[protocol] = f
}

func lookup(protocol string) (Factory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := registry[protocol]
	return f, ok
}

// NewManager resolves rawURL plus credentials and options into a
// ConnectionManager, dispatching on the URL's protocol to whichever
// package has registered itself for it. Callers typically blank-import
// the protocol package(s) they need, mirroring database/sql drivers.
func NewManager(rawURL, user, password string, opts ...dbconfig.Option) (ConnectionManager, error) {
	target, err := dbconfig.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	o, err := dbconfig.NewOptions(rawURL, user, password, opts...)
	if err != nil {
		return nil, err
	}
	factory, ok := lookup(target.Protocol)
	if !ok {
		return nil, fmt.Errorf("asyncsql: no ConnectionManager registered for protocol %q (forgot a blank import?)", target.Protocol)
	}
	return factory(*target, o)
}

// Connect is the one-shot convenience form: build a manager for rawURL and
// immediately connect. Most callers that need more than one Connection
// should call NewManager once and reuse it instead.
func Connect(rawURL, user, password string, opts ...dbconfig.Option) (*dbfuture.SessionFuture[Connection], error) {
	mgr, err := NewManager(rawURL, user, password, opts...)
	if err != nil {
		return nil, err
	}
	return mgr.Connect(), nil
}
