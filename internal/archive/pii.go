package archive

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashAddress returns the hex-encoded SHA-256 hash of a phone address, so
// archived objects can be found by sender without storing the number in
// object metadata.
func HashAddress(address string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(address)))
	return fmt.Sprintf("%x", h)
}
