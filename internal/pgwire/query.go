package pgwire

import (
	"encoding/binary"
	"strconv"
)

// BuildQuery encodes a simple-query ('Q') message.
func BuildQuery(sql string) []byte {
	return putCString(nil, sql)
}

// BuildParse encodes a Parse message naming a (possibly anonymous)
// statement, with no declared parameter types.
func BuildParse(statementName, sql string) []byte {
	buf := putCString(nil, statementName)
	buf = putCString(buf, sql)
	buf = append(buf, 0, 0) // zero parameter types
	return buf
}

// BuildBind encodes a Bind message against the default (unnamed) portal and
// the given statement, with no parameters and one result-format code per
// resultFormats (0 = text, 1 = binary; empty means "text for every column").
func BuildBind(statementName string, resultFormats []int16) []byte {
	buf := putCString(nil, "") // portal name: default/unnamed
	buf = putCString(buf, statementName)
	buf = append(buf, 0, 0) // zero parameter format codes
	buf = append(buf, 0, 0) // zero parameter values

	fmtCount := make([]byte, 2)
	binary.BigEndian.PutUint16(fmtCount, uint16(len(resultFormats)))
	buf = append(buf, fmtCount...)
	for _, f := range resultFormats {
		fb := make([]byte, 2)
		binary.BigEndian.PutUint16(fb, uint16(f))
		buf = append(buf, fb...)
	}
	return buf
}

// BuildDescribe encodes a Describe message for the default portal.
func BuildDescribe() []byte {
	buf := []byte{'P'} // describe object type: portal
	return putCString(buf, "")
}

// BuildExecute encodes an Execute message for the default portal with no
// row limit.
func BuildExecute() []byte {
	buf := putCString(nil, "")
	limit := make([]byte, 4)
	binary.BigEndian.PutUint32(limit, 0)
	return append(buf, limit...)
}

// BuildSync encodes a Sync message (no body).
func BuildSync() []byte { return nil }

// FrontendMessage pairs a frontend message type with its encoded payload,
// used so a caller can send the Parse/Bind/Describe/Execute/Sync sequence
// in one batched write.
type FrontendMessage struct {
	Type    byte
	Payload []byte
}

// ExtendedQuerySequence builds the frame sequence the handler sends for
// every SQL statement: Parse | Bind | Describe | Execute | Sync. When
// skipParse is true (the statement name is already known to the backend,
// per the transaction-keyword cache) the Parse frame is omitted.
func ExtendedQuerySequence(statementName, sql string, resultFormats []int16, skipParse bool) []FrontendMessage {
	msgs := make([]FrontendMessage, 0, 5)
	if !skipParse {
		msgs = append(msgs, FrontendMessage{feMsgParse, BuildParse(statementName, sql)})
	}
	msgs = append(msgs,
		FrontendMessage{feMsgBind, BuildBind(statementName, resultFormats)},
		FrontendMessage{feMsgDescribe, BuildDescribe()},
		FrontendMessage{feMsgExecute, BuildExecute()},
		FrontendMessage{feMsgSync, BuildSync()},
	)
	return msgs
}

// StatementCache maps the transaction keywords BEGIN/COMMIT/ROLLBACK to the
// named prepared statement ("S_<n>") created by a prior Parse, so repeat
// transaction control statements elide the Parse frame.
type StatementCache struct {
	names map[string]string
	next  int
}

// NewStatementCache returns an empty cache.
func NewStatementCache() *StatementCache {
	return &StatementCache{names: make(map[string]string)}
}

// Lookup returns the cached statement name for sql, if any.
func (c *StatementCache) Lookup(sql string) (string, bool) {
	name, ok := c.names[sql]
	return name, ok
}

// Assign mints a fresh client-chosen statement name ("S_<n>") for sql and
// remembers it for future lookups.
func (c *StatementCache) Assign(sql string) string {
	c.next++
	name := "S_" + strconv.Itoa(c.next)
	c.names[sql] = name
	return name
}
