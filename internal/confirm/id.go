package confirm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// newRequestID generates a request ID with an "r" prefix.
func newRequestID() string {
	return prefixedID("r", 12)
}

func prefixedID(prefix string, hexLen int) string {
	b := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("%s-%x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b)[:hexLen])
}
