// Package keyspace owns the store's key -> Entry table, the TTL heap,
// and the lifecycle rules that tie them together. It holds no network or
// wire concerns; command handlers translate client requests into calls
// here and turn the results into wire values.
package keyspace

import (
	"github.com/zond/nanokv/internal/hashfn"
	"github.com/zond/nanokv/internal/hashtable"
	"github.com/zond/nanokv/internal/ttlheap"
	"github.com/zond/nanokv/internal/workerpool"
	"github.com/zond/nanokv/internal/zset"
)

// LargeZSetThreshold is the member count past which a SortedSet Entry is
// torn down on the worker pool instead of inline.
const LargeZSetThreshold = 10000

// DefaultRehashWork is the rehashWork a Keyspace uses when the caller has
// no Config-derived override, matching k_rehash_work.
const DefaultRehashWork = 128

// Kind identifies what an Entry holds.
type Kind int

const (
	KindString Kind = iota
	KindSortedSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindSortedSet:
		return "zset"
	default:
		return "unknown"
	}
}

// Entry is one keyspace slot: either a String or a SortedSet payload,
// plus the handle into the TTL heap if a TTL is set.
type Entry struct {
	Key  string
	Kind Kind
	Str  string
	ZSet *zset.ZSet
	TTL  ttlheap.Handle
}

// Keyspace is the key -> Entry table, the TTL heap, and the worker pool
// used to offload large SortedSet teardown.
type Keyspace struct {
	table      *hashtable.Table[*Entry]
	heap       *ttlheap.Heap
	byHandle   map[ttlheap.Handle]*Entry
	pool       *workerpool.Pool
	rehashWork int
}

// New creates an empty keyspace. pool may be nil, in which case large
// SortedSet teardown runs inline rather than being offloaded. rehashWork
// bounds incremental migration work for both the key table and every
// ZSet's member index; see hashtable.New.
func New(pool *workerpool.Pool, rehashWork int) *Keyspace {
	return &Keyspace{
		table:      hashtable.New[*Entry](rehashWork),
		heap:       ttlheap.New(),
		byHandle:   map[ttlheap.Handle]*Entry{},
		pool:       pool,
		rehashWork: rehashWork,
	}
}

func eqKey(key string) func(*Entry) bool {
	return func(e *Entry) bool { return e.Key == key }
}

func (k *Keyspace) lookup(key string) (*Entry, bool) {
	idx, ok := k.table.Lookup(hashfn.Sum64String(key), eqKey(key))
	if !ok {
		return nil, false
	}
	return k.table.Value(idx), true
}

// setTTL implements ttl_ms < 0 (clear) and ttl_ms >= 0 (set/retarget),
// keeping the handle -> Entry side table in sync with the heap. The heap
// itself stays opaque to Entry identity; this table is what lets the
// timer sweep map an expired handle back to the Entry that owns it.
func (k *Keyspace) setTTL(e *Entry, ttlMs int64, nowMicros uint64) {
	if ttlMs < 0 {
		if e.TTL != ttlheap.NoHandle {
			k.heap.Remove(e.TTL)
			delete(k.byHandle, e.TTL)
			e.TTL = ttlheap.NoHandle
		}
		return
	}
	deadline := nowMicros + uint64(ttlMs)*1000
	if e.TTL == ttlheap.NoHandle {
		e.TTL = k.heap.Push(deadline)
		k.byHandle[e.TTL] = e
	} else {
		k.heap.UpdateDeadline(e.TTL, deadline)
	}
}

// entryDestroy disposes e's payload. It never touches the hash table or
// heap: callers must already have detached e from both.
func (k *Keyspace) entryDestroy(e *Entry) {
	if e.Kind == KindSortedSet && e.ZSet != nil {
		e.ZSet.Dispose()
	}
}

// destroyOrEnqueue runs entryDestroy inline, unless e is a SortedSet
// larger than LargeZSetThreshold and a worker pool is available, in
// which case teardown is deferred to a worker.
func (k *Keyspace) destroyOrEnqueue(e *Entry) {
	if e.Kind == KindSortedSet && e.ZSet != nil && e.ZSet.Len() > LargeZSetThreshold && k.pool != nil {
		k.pool.Submit(workerpool.DestroyZSet{Set: e.ZSet})
		return
	}
	k.entryDestroy(e)
}

// Set upserts key to value as a String entry. typeConflict is true if
// key already exists with a different kind, in which case the store is
// left unchanged.
func (k *Keyspace) Set(key, value string) (typeConflict bool) {
	if e, ok := k.lookup(key); ok {
		if e.Kind != KindString {
			return true
		}
		e.Str = value
		return false
	}
	e := &Entry{Key: key, Kind: KindString, Str: value, TTL: ttlheap.NoHandle}
	k.table.Insert(hashfn.Sum64String(key), e)
	return false
}

// Get reads a String entry. exists reports whether key is present at
// all; if exists and kind != KindString the caller should report a type
// error rather than trust value.
func (k *Keyspace) Get(key string) (value string, kind Kind, exists bool) {
	e, ok := k.lookup(key)
	if !ok {
		return "", 0, false
	}
	return e.Str, e.Kind, true
}

// Type reports the kind stored at key.
func (k *Keyspace) Type(key string) (Kind, bool) {
	e, ok := k.lookup(key)
	if !ok {
		return 0, false
	}
	return e.Kind, true
}

// Del removes key and destroys its payload, following entry_del: detach
// from the hash table first, clear any TTL, then destroy or enqueue.
func (k *Keyspace) Del(key string, nowMicros uint64) bool {
	e, ok := k.table.Pop(hashfn.Sum64String(key), eqKey(key))
	if !ok {
		return false
	}
	k.setTTL(e, -1, nowMicros)
	k.destroyOrEnqueue(e)
	return true
}

// Keys returns every key currently present, in unspecified order.
func (k *Keyspace) Keys() []string {
	out := make([]string, 0, k.table.Size())
	k.table.Each(func(e *Entry) bool {
		out = append(out, e.Key)
		return true
	})
	return out
}

// Exists counts the distinct keys among keys that are present.
func (k *Keyspace) Exists(keys []string) int {
	seen := map[string]bool{}
	n := 0
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := k.lookup(key); ok {
			n++
		}
	}
	return n
}

// Expire sets or clears key's TTL. It reports whether key exists; the
// caller maps that to INT(1)/INT(0).
func (k *Keyspace) Expire(key string, ttlMs int64, nowMicros uint64) bool {
	e, ok := k.lookup(key)
	if !ok {
		return false
	}
	k.setTTL(e, ttlMs, nowMicros)
	return true
}

// Pttl returns remaining TTL in milliseconds: -2 if key is absent, -1 if
// key has no TTL, else the (non-negative) remaining milliseconds.
func (k *Keyspace) Pttl(key string, nowMicros uint64) int64 {
	e, ok := k.lookup(key)
	if !ok {
		return -2
	}
	if e.TTL == ttlheap.NoHandle {
		return -1
	}
	deadline, _ := k.heap.Deadline(e.TTL)
	if deadline <= nowMicros {
		return 0
	}
	return int64((deadline - nowMicros) / 1000)
}

func (k *Keyspace) zsetAt(key string) (*Entry, typeResult) {
	e, ok := k.lookup(key)
	if !ok {
		return nil, typeAbsent
	}
	if e.Kind != KindSortedSet {
		return nil, typeMismatch
	}
	return e, typeOK
}

type typeResult int

const (
	typeOK typeResult = iota
	typeAbsent
	typeMismatch
)

// ZAdd adds or updates name's score in the SortedSet at key, creating
// key as an empty SortedSet first if absent.
func (k *Keyspace) ZAdd(key string, score float64, name string) (isNew bool, typeConflict bool) {
	e, ok := k.lookup(key)
	if !ok {
		e = &Entry{Key: key, Kind: KindSortedSet, ZSet: zset.New(k.rehashWork), TTL: ttlheap.NoHandle}
		k.table.Insert(hashfn.Sum64String(key), e)
	} else if e.Kind != KindSortedSet {
		return false, true
	}
	return e.ZSet.Add(name, score), false
}

// ZRem removes name from the SortedSet at key.
func (k *Keyspace) ZRem(key, name string) (removed bool, keyExists bool, typeConflict bool) {
	e, res := k.zsetAt(key)
	switch res {
	case typeAbsent:
		return false, false, false
	case typeMismatch:
		return false, true, true
	}
	_, ok := e.ZSet.Pop(name)
	return ok, true, false
}

// ZScore fetches name's score from the SortedSet at key.
func (k *Keyspace) ZScore(key, name string) (score float64, found bool, keyExists bool, typeConflict bool) {
	e, res := k.zsetAt(key)
	switch res {
	case typeAbsent:
		return 0, false, false, false
	case typeMismatch:
		return 0, false, true, true
	}
	m, ok := e.ZSet.Lookup(name)
	return m.Score, ok, true, false
}

// ZCard reports the member count of the SortedSet at key.
func (k *Keyspace) ZCard(key string) (n int, keyExists bool, typeConflict bool) {
	e, res := k.zsetAt(key)
	switch res {
	case typeAbsent:
		return 0, false, false
	case typeMismatch:
		return 0, true, true
	}
	return e.ZSet.Len(), true, false
}

// ZQuery range-scans the SortedSet at key starting at (score, name),
// skipping offset further members, and returning up to limit members.
func (k *Keyspace) ZQuery(key string, score float64, name string, offset, limit int64) (members []zset.Member, typeConflict bool) {
	e, res := k.zsetAt(key)
	switch res {
	case typeAbsent:
		return nil, false
	case typeMismatch:
		return nil, true
	}
	return e.ZSet.Query(score, name, offset, limit), false
}

// Len returns the number of keys in the keyspace.
func (k *Keyspace) Len() int { return k.table.Size() }

// FlushAll destroys every entry and resets the keyspace to empty.
func (k *Keyspace) FlushAll() {
	k.table.Each(func(e *Entry) bool {
		k.entryDestroy(e)
		return true
	})
	k.table = hashtable.New[*Entry](k.rehashWork)
	k.heap = ttlheap.New()
	k.byHandle = map[ttlheap.Handle]*Entry{}
}

// SweepExpired pops and destroys every TTL entry whose deadline has
// passed as of nowMicros, up to maxWork entries. It returns the number
// of entries destroyed, so callers can track the k_max_ttl_works cap
// across an event-loop iteration.
func (k *Keyspace) SweepExpired(nowMicros uint64, maxWork int) int {
	n := 0
	for n < maxWork {
		_, deadline, ok := k.heap.Peek()
		if !ok || deadline > nowMicros {
			break
		}
		hd, _ := k.heap.PopMin()
		e, found := k.byHandle[hd]
		delete(k.byHandle, hd)
		if found {
			k.table.Pop(hashfn.Sum64String(e.Key), eqKey(e.Key))
			e.TTL = ttlheap.NoHandle
			k.destroyOrEnqueue(e)
		}
		n++
	}
	return n
}

// NextDeadline returns the microsecond deadline of the earliest pending
// TTL, for the event loop's poll-timeout computation.
func (k *Keyspace) NextDeadline() (uint64, bool) {
	_, deadline, ok := k.heap.Peek()
	return deadline, ok
}
