package kvserver

import lru "github.com/hashicorp/golang-lru/v2"

// seenCapacity is the dedup horizon named in spec.md §3: the reference
// implementation keeps the last 10,000 request ids in a
// collections.deque(maxlen=10000); we get the same bounded-FIFO behavior
// from an LRU cache sized to never evict on read (Get never touches
// recency here — see seenSet.peek) so eviction order is purely insertion
// order, exactly like the deque.
const seenCapacity = 10000

// seenEntry is what a server remembers about a request id it already
// applied. preValue holds the pre-append payload so that a retried Append
// gets back the exact value it got the first time, rather than the
// textual-strip approximation spec.md §9 flags as a known weakness.
type seenEntry struct {
	preValue string
}

// seenSet is the per-server bounded set of already-applied request ids.
// It is safe for concurrent use (golang-lru/v2 guards its own state), so
// callers do not need to hold the server mutex around it.
type seenSet struct {
	cache *lru.Cache[int64, seenEntry]
}

func newSeenSet() *seenSet {
	c, err := lru.New[int64, seenEntry](seenCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which seenCapacity
		// never is.
		panic(err)
	}
	return &seenSet{cache: c}
}

// peek reports whether id has already been applied, without affecting
// eviction order.
func (s *seenSet) peek(id int64) (seenEntry, bool) {
	return s.cache.Peek(id)
}

// mark records id as applied, with the given entry. Marking an id twice
// simply overwrites the entry (used by Append, which marks once to claim
// the id and again once the pre-append payload is known).
func (s *seenSet) mark(id int64, entry seenEntry) {
	s.cache.Add(id, entry)
}
