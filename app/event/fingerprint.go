package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint derives the cross-source identity of an event from its title,
// start instant and location. Case and surrounding whitespace are ignored.
func Fingerprint(title string, start time.Time, location string) string {
	key := strings.ToLower(strings.TrimSpace(title)) +
		"|" + start.UTC().Format(time.RFC3339) +
		"|" + strings.ToLower(strings.TrimSpace(location))

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
