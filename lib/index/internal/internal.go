package internal

import (
	"github.com/ValentinKolb/mapdb/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (encoded value with metadata)
// --------------------------------------------------------------------------

// Entry stores the encoded value of one key together with the sequence number
// of the mutation that produced it
type Entry struct {
	Value     []byte // Encoded value, nil for tombstones
	Seq       uint64 // Sequence number of the mutation that wrote this entry
	Tombstone bool   // The key was deleted at Seq
}

// Size returns the approximate memory footprint of the entry for key
func (e Entry) Size(key string) int64 {
	return int64(len(key)+len(e.Value)) + entryOverhead
}

// entryOverhead approximates the bookkeeping cost of one entry (map slot,
// slice header, sequence number)
const entryOverhead = 48

// --------------------------------------------------------------------------
// Shard Type (partition of the index)
// --------------------------------------------------------------------------

// Table holds the entries of one map inside one shard, keyed by encoded key
type Table = xsync.MapOf[string, Entry]

// Shard is an independently locked partition of the index. It holds one table
// per map that has keys hashing into this shard.
type Shard struct {
	tables  *xsync.MapOf[string, *Table]
	presize int
}

// NewShard creates a new, empty shard. presize is the initial capacity of
// every table created in this shard (0 = xsync default)
func NewShard(presize int) *Shard {
	return &Shard{
		tables:  xsync.NewMapOf[string, *Table](),
		presize: presize,
	}
}

// Table returns the table of mapName. If create is false and the shard holds
// no table for the map, nil is returned.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Table(mapName string, create bool) *Table {
	if !create {
		t, _ := s.tables.Load(mapName)
		return t
	}
	t, _ := s.tables.LoadOrCompute(mapName, func() *Table {
		if s.presize > 0 {
			return xsync.NewMapOf[string, Entry](xsync.WithPresize(s.presize))
		}
		return xsync.NewMapOf[string, Entry]()
	})
	return t
}

// Size returns the number of entries (including tombstones) in the shard
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Size() int {
	n := 0
	s.tables.Range(func(_ string, t *Table) bool {
		n += t.Size()
		return true
	})
	return n
}

// GetShard returns the shard responsible for (mapName, key)
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard(mapName string, key []byte, seed uint64, shards []*Shard) *Shard {
	return shards[util.ShardFor(util.HashKey(mapName, key, seed), len(shards))]
}
