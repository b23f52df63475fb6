// Package zset implements a sorted set ordered by (score, name): an AVL
// tree for order and range queries, paired with a hash table for O(1)
// lookup by member name. Both indexes are kept over the same set of
// members at all times.
package zset

import (
	"bytes"

	"github.com/zond/nanokv/internal/avltree"
	"github.com/zond/nanokv/internal/hashfn"
	"github.com/zond/nanokv/internal/hashtable"
)

// DefaultRehashWork is the rehashWork a ZSet uses when the caller has no
// Config-derived override, matching k_rehash_work.
const DefaultRehashWork = 128

// Member is one (score, name) entry of a ZSet.
type Member struct {
	Score float64
	Name  string
}

func cmpMember(a, b Member) int {
	switch {
	case a.Score < b.Score:
		return -1
	case a.Score > b.Score:
		return 1
	}
	return bytes.Compare([]byte(a.Name), []byte(b.Name))
}

// ZSet is a sorted set of (score, name) members.
type ZSet struct {
	tree       *avltree.Tree[Member]
	byName     *hashtable.Table[avltree.Index]
	rehashWork int
}

// New creates an empty ZSet. rehashWork bounds how many buckets the
// member-name index migrates per call; see hashtable.New.
func New(rehashWork int) *ZSet {
	return &ZSet{
		tree:       avltree.New(cmpMember),
		byName:     hashtable.New[avltree.Index](rehashWork),
		rehashWork: rehashWork,
	}
}

// Len returns the number of members.
func (z *ZSet) Len() int { return z.tree.Len() }

func (z *ZSet) eqName(name string) func(avltree.Index) bool {
	return func(idx avltree.Index) bool {
		return z.tree.Value(idx).Name == name
	}
}

// Add inserts name with score, or updates its score if name is already a
// member. It returns true if name is newly added.
func (z *ZSet) Add(name string, score float64) bool {
	h := hashfn.Sum64String(name)
	if idx, ok := z.byName.Lookup(h, z.eqName(name)); ok {
		treeIdx := z.byName.Value(idx)
		z.tree.Remove(treeIdx)
		newIdx := z.tree.Insert(Member{Score: score, Name: name})
		z.byName.Pop(h, z.eqName(name))
		z.byName.Insert(h, newIdx)
		return false
	}
	newIdx := z.tree.Insert(Member{Score: score, Name: name})
	z.byName.Insert(h, newIdx)
	return true
}

// Pop removes name and returns its member, or false if absent.
func (z *ZSet) Pop(name string) (Member, bool) {
	h := hashfn.Sum64String(name)
	idx, ok := z.byName.Pop(h, z.eqName(name))
	if !ok {
		var zero Member
		return zero, false
	}
	m := z.tree.Value(idx)
	z.tree.Remove(idx)
	return m, true
}

// Lookup finds name in O(1) via the hash index.
func (z *ZSet) Lookup(name string) (Member, bool) {
	h := hashfn.Sum64String(name)
	idx, ok := z.byName.Lookup(h, z.eqName(name))
	if !ok {
		var zero Member
		return zero, false
	}
	return z.tree.Value(z.byName.Value(idx)), true
}

// Query finds the smallest member >= (score, name) by AVL descent, then
// walks offset positions further (offset may be 0), returning up to limit
// members from there. It never returns more than Len() members.
func (z *ZSet) Query(score float64, name string, offset int64, limit int64) []Member {
	if limit <= 0 {
		return nil
	}
	idx := z.tree.SeekGE(Member{Score: score, Name: name})
	if idx == avltree.Nil {
		return nil
	}
	if offset != 0 {
		idx = z.tree.Offset(idx, offset)
	}
	var out []Member
	for idx != avltree.Nil && int64(len(out)) < limit {
		out = append(out, z.tree.Value(idx))
		idx = z.nextIndex(idx)
	}
	return out
}

func (z *ZSet) nextIndex(idx avltree.Index) avltree.Index {
	return z.tree.Next(idx)
}

// Dispose tears down both indexes. The ZSet must not be used afterward.
func (z *ZSet) Dispose() {
	z.tree.Reset()
	z.byName = hashtable.New[avltree.Index](z.rehashWork)
}
