// Package session generates the per-request session identifiers threaded
// through the audit log and correlation headers.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID creates a random session ID (base32-ish hex, 12 chars).
func GenerateID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		timestamp := time.Now().UnixNano()
		return fmt.Sprintf("sess-%d", timestamp)
	}
	return hex.EncodeToString(buf[:])
}
