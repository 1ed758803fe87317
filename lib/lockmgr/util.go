package lockmgr

import (
	"crypto/rand"
)

const (
	ownerIDLength = 32 // bytes
)

// generateOwnerID creates a new unique owner ID
// The owner ID is a random byte slice of length 32 (256 bit).
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, ownerIDLength)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}
