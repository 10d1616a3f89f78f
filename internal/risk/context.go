package risk

import (
	"crypto/sha256"
	"fmt"
)

// ClientContext carries the request-scoped signals the gate and the
// anomaly scorer look at.
type ClientContext struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
}

// Fingerprint derives a stable device identifier from IP and User-Agent.
func Fingerprint(ipAddress, userAgent string) string {
	hash := sha256.Sum256([]byte(ipAddress + ":" + userAgent))
	return fmt.Sprintf("%x", hash)[:32]
}
