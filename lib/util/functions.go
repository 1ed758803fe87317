package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails on broken systems, the time is good enough for hashing
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the hashed representation of a (map, key) pair
type UintKey uint64

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// HashKey hashes a map name and an encoded key with FNV-1a. The seed is mixed
// into the offset basis so that different index instances distribute keys
// differently. A separator byte keeps ("ab", "c") and ("a", "bc") apart.
func HashKey(mapName string, key []byte, seed uint64) UintKey {
	hash := uint64(fnvOffset64) ^ seed

	for i := 0; i < len(mapName); i++ {
		hash ^= uint64(mapName[i])
		hash *= fnvPrime64
	}

	hash ^= 0xff
	hash *= fnvPrime64

	for _, b := range key {
		hash ^= uint64(b)
		hash *= fnvPrime64
	}

	return UintKey(hash)
}

// ShardFor returns the shard position of key for n shards. The low bits of
// FNV-1a are the weakest, so they are shifted out first.
func ShardFor(key UintKey, n int) int {
	return int((uint64(key) >> 7) % uint64(n))
}
