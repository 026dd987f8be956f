// Package placement answers the one question every request has to answer
// first: "which servers hold this key?"
//
// Unlike a consistent-hash ring (one virtual node per replica, scattered
// around a 2^32 circle), placement here is deliberately simple: a key hashes
// straight onto a server index, and the preference list is the contiguous
// run of nreplicas server ids starting at that index. Two keys that hash one
// apart share at least nreplicas-1 servers; there is no ring to rebuild on
// membership change because membership is static for the lifetime of a
// cluster (see clusterconfig.Config).
package placement

import (
	"fmt"
	"strconv"
)

// Table computes preference lists for a fixed-size cluster.
type Table struct {
	nservers  int
	nreplicas int
}

// New builds a Table. nreplicas must be in [0, nservers]; violations are
// reported by clusterconfig.Config at construction time, not here — Table
// is a pure function of those two numbers and trusts its caller.
func New(nservers, nreplicas int) *Table {
	return &Table{nservers: nservers, nreplicas: nreplicas}
}

// NServers reports the cluster size this table was built for.
func (t *Table) NServers() int { return t.nservers }

// NReplicas reports the replication degree this table was built for.
func (t *Table) NReplicas() int { return t.nreplicas }

// Primary returns the primary server id for key: the only server that
// fans writes out to the rest of the preference list.
func (t *Table) Primary(key string) int {
	return hashKey(key) % t.nservers
}

// PreferenceList returns the ordered, contiguous list of server ids
// responsible for key, starting at the primary. Members are distinct as
// long as nreplicas <= nservers.
//
// nreplicas == 0 is the degenerate single-replica mode (spec.md §6): it
// disables merge-on-Get and fan-out-on-write, but the primary still must
// be able to own and serve its own keys, so the effective list length is
// never less than 1.
func (t *Table) PreferenceList(key string) []int {
	primary := t.Primary(key)
	list := make([]int, t.listLen())
	for i := range list {
		list[i] = (primary + i) % t.nservers
	}
	return list
}

// listLen is the effective preference-list length: nreplicas, except the
// degenerate nreplicas == 0 case where the primary alone still owns the key.
func (t *Table) listLen() int {
	if t.nreplicas == 0 {
		return 1
	}
	return t.nreplicas
}

// InPreferenceList reports whether srvID belongs to key's preference list —
// the shard-mismatch check every RPC handler runs before touching kv.
func (t *Table) InPreferenceList(key string, srvID int) bool {
	for _, id := range t.PreferenceList(key) {
		if id == srvID {
			return true
		}
	}
	return false
}

// hashKey implements the spec's key hash: parse key as a non-negative
// integer when possible, otherwise fall back to the code point of its
// first character. This mirrors the reference's
// `int(key)` / `int(ord(key[0]))` fallback exactly.
func hashKey(key string) int {
	if n, err := strconv.ParseUint(key, 10, 63); err == nil {
		return int(n)
	}
	if key == "" {
		return 0
	}
	r := []rune(key)[0]
	return int(r)
}

// String is a debugging aid — e.g. "table(nservers=3,nreplicas=2)".
func (t *Table) String() string {
	return fmt.Sprintf("table(nservers=%d,nreplicas=%d)", t.nservers, t.nreplicas)
}
