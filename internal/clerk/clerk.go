// Package clerk implements the client half of dynamokv: translate a user
// operation into one RPC against a chosen replica, retrying with failover
// across the preference list until a reply arrives (spec.md §4.1).
package clerk

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dynamokv/internal/placement"
	"dynamokv/internal/rpcx"
)

// maxSweeps bounds the Clerk's retry loop. spec.md §4.1 step 4 names 100 in
// the reference and explicitly allows "any sufficiently large bound that
// preserves the retry-forever guarantee" — the bound exists only to stop a
// fully partitioned test cluster from spinning forever in CI.
const maxSweeps = 100

// Clerk is a client to one dynamokv cluster. A single Clerk is not claimed
// to be safe for concurrent use by multiple goroutines calling the same
// method simultaneously beyond what the embedded mutex-free design already
// gives it — like the reference, each call is independent and carries its
// own freshly minted request id, so concurrent Clerks (or concurrent calls
// from unrelated goroutines using their own Clerk) interleave safely.
type Clerk struct {
	endpoints []rpcx.Endpoint // one per server id, in order
	table     *placement.Table
}

// New builds a Clerk. endpoints must have one entry per server id (indices
// 0..nservers-1); table must describe the same cluster.
func New(endpoints []rpcx.Endpoint, table *placement.Table) *Clerk {
	return &Clerk{endpoints: endpoints, table: table}
}

// nrand mints a fresh 62-bit random request id, mirroring the reference's
// random.getrandbits(62).
func nrand() int64 {
	return int64(rand.Uint64() >> 2)
}

// Get returns the stored payload for key, or "" if it does not exist
// anywhere. It retries until a reply is obtained; if maxSweeps full passes
// over the preference list all fail, it returns "".
func (c *Clerk) Get(key string) string {
	id := nrand()
	args := rpcx.GetArgs{Key: key, ID: id, PreMerge: true}

	reply, ok := sweep(c, key, func(ep rpcx.Endpoint) (rpcx.GetReply, error) {
		return ep.Get(args)
	})
	if !ok {
		return ""
	}
	return reply.Value.Payload
}

// Put overwrites any prior value for key. Eventually visible on all
// preference-list replicas.
func (c *Clerk) Put(key, value string) {
	id := nrand()
	args := rpcx.PutArgs{Key: key, Value: value, ID: id}

	sweep(c, key, func(ep rpcx.Endpoint) (rpcx.PutReply, error) {
		return ep.Put(args)
	})
}

// Append extends key's stored payload by value and returns the payload
// that existed immediately before this append. Safe to retry: the same
// request id always yields the same reply (spec.md §4.2.3).
func (c *Clerk) Append(key, value string) string {
	id := nrand()
	args := rpcx.AppendArgs{Key: key, Value: value, ID: id}

	reply, ok := sweep(c, key, func(ep rpcx.Endpoint) (rpcx.AppendReply, error) {
		return ep.Append(args)
	})
	if !ok {
		return ""
	}
	return reply.Value
}

// sweep implements spec.md §4.1 steps 1-5: compute the preference list,
// try each member starting at the primary, advance past timeouts (and any
// other error — a shard mismatch is corrected the same way a timeout is:
// by moving to the next member), and restart from the primary if a full
// pass fails, up to maxSweeps times. Per SPEC_FULL.md §4.1.2, a failed full
// pass backs off with bounded exponential backoff and jitter
// (github.com/cenkalti/backoff/v4) before restarting from the primary,
// rather than busy-looping.
func sweep[R any](c *Clerk, key string, call func(rpcx.Endpoint) (R, error)) (R, bool) {
	list := c.table.PreferenceList(key)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by maxSweeps, not wall-clock elapsed time

	for attempt := 0; attempt < maxSweeps; attempt++ {
		for _, serverID := range list {
			reply, err := call(c.endpoints[serverID])
			if err == nil {
				return reply, true
			}
			// Any error — timeout or otherwise — means "try next replica".
		}
		// A full pass over the preference list failed: back off before
		// restarting from the primary (spec.md §4.1 step 4).
		time.Sleep(b.NextBackOff())
	}
	var zero R
	return zero, false
}
