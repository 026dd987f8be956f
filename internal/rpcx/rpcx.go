// Package rpcx is the "RPC fabric" spec.md treats as an external
// collaborator: a point-to-point call primitive that delivers arg/reply
// pairs and may raise a timeout error. Two implementations satisfy the same
// Endpoint interface — an HTTP/JSON transport for real clusters (http.go)
// and a direct in-process transport for tests and single-binary
// deployments (local.go) — mirroring the reference config's
// `servers[i]` (RPC handle) vs. `kvservers[i]` (direct handle) split.
package rpcx

import (
	"errors"
	"fmt"
)

// ErrTimeout is the one recoverable error every caller in this system is
// required to treat as "try the next replica" rather than abort. It is the
// Go analogue of the reference implementation's TimeoutError.
var ErrTimeout = errors.New("rpcx: timeout")

// Value is the wire form of a stored record: (payload, ts, last_writer_id).
// A Value with Ts == 0 is the sentinel for "absent key" (spec.md §3)
// — a zero timestamp can never win a last-writer-wins merge.
type Value struct {
	Payload      string  `json:"payload"`
	Ts           float64 `json:"ts"`
	LastWriterID int64   `json:"last_writer_id"`
}

// GetArgs is the wire form of a Get call.
type GetArgs struct {
	Key      string `json:"key"`
	ID       int64  `json:"id"`
	PreMerge bool   `json:"pre_merge"`
}

// GetReply carries the full value triple so that peer-internal Get calls
// (used both for read-repair merge and for Append's self-Get) can see the
// timestamp and last-writer, not just the payload.
type GetReply struct {
	Value Value `json:"value"`
}

// PutArgs is the wire form of a Put call.
type PutArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	ID    int64  `json:"id"`
}

// PutReply echoes the stored value (or "" on a dedup hit). The client does
// not consume this payload; it exists for completeness per spec.md §6.
type PutReply struct {
	Value string `json:"value"`
}

// AppendArgs is the wire form of an Append call.
type AppendArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	ID    int64  `json:"id"`
}

// AppendReply carries the pre-append payload observed at the handling
// server.
type AppendReply struct {
	Value string `json:"value"`
}

// ShardError reports that a server was asked about a key outside its
// preference list. The Clerk treats this the same as any other
// non-timeout failure for that server: it moves on to the next member of
// the preference list.
type ShardError struct {
	Key      string
	ServerID int
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("rpcx: key %q not in shard of server %d", e.Key, e.ServerID)
}

// Endpoint is the capability to reach one specific server with a unary
// Get/Put/Append call. Every method may block and may return ErrTimeout.
type Endpoint interface {
	Get(args GetArgs) (GetReply, error)
	Put(args PutArgs) (PutReply, error)
	Append(args AppendArgs) (AppendReply, error)
}

// Handler is what an Endpoint ultimately dispatches to — satisfied by
// *kvserver.Server. Kept here (rather than importing kvserver) so rpcx has
// no dependency on the server package; kvserver.Server implements this
// interface structurally.
type Handler interface {
	Get(args GetArgs) (GetReply, error)
	Put(args PutArgs) (PutReply, error)
	Append(args AppendArgs) (AppendReply, error)
}
