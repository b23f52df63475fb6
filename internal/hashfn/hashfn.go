// Package hashfn provides the hash function shared by the keyspace and by
// sorted-set member lookup: 64-bit FNV-1a, offset 0xcbf29ce484222325 and
// prime 0x100000001b3, over the raw byte string. hash/fnv's New64a
// implements exactly these constants, so it is used directly rather than
// hand-rolled.
package hashfn

import "hash/fnv"

// Sum64 returns the FNV-1a 64-bit hash of b.
func Sum64(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b) //nolint:errcheck // hash.Hash's Write never errors
	return h.Sum64()
}

// Sum64String is Sum64 for a string key.
func Sum64String(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s)) //nolint:errcheck
	return h.Sum64()
}
