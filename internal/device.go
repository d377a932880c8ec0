package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const maxDeviceIDLen = 128

// DeviceID picks the identifier recorded on a session. An explicit id sent by
// the client wins; otherwise the user agent is hashed into a short stable
// fingerprint. Empty input yields "unknown".
func DeviceID(explicit, userAgent string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		if len(id) > maxDeviceIDLen {
			id = id[:maxDeviceIDLen]
		}
		return id
	}
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(ua))
	return "ua-" + hex.EncodeToString(sum[:8])
}
