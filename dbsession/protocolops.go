package dbsession

import (
	"context"
	"errors"
)

// ProtocolOps is the capability set a protocol implementation (MySQL,
// PostgreSQL) injects into a Session so the session core stays entirely
// protocol-neutral (spec.md §9 redesign: "a small ProtocolOps capability
// set ... rather than an abstract base session").
//
// SendQuery/SendUpdate are not part of this interface: those frame
// sequences depend on the SQL text and the caller's accumulator type, so
// they are supplied per call as a thunk to ExecuteQuery/ExecuteUpdate
// instead.
type ProtocolOps interface {
	SendBegin(ctx context.Context) error
	SendCommit(ctx context.Context) error
	SendRollback(ctx context.Context) error
	SendTerminate(ctx context.Context) error
}

// Sentinel errors surfaced through request futures.
var (
	ErrSessionClosed      = errors.New("dbsession: session is closed")
	ErrTransactionFailed  = errors.New("dbsession: transaction has failed, enqueue rejected")
	ErrAlreadyInTxn       = errors.New("dbsession: beginTransaction called while already in a transaction")
	ErrNoActiveTxn        = errors.New("dbsession: commit/rollback called outside a transaction")
	ErrCloseWhileBusy     = errors.New("dbsession: close(false) rejected, requests still pending")
	ErrCompletionMismatch = errors.New("dbsession: completion value does not match request's accumulator type")
)
