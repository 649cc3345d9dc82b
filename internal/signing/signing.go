// Package signing provides HMAC-SHA256 request signing and constant-time
// verification for outbound webhook deliveries and inbound callbacks.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const (
	HeaderName      = "X-Runlater-Signature"
	HeaderTaskID    = "X-Runlater-Task-Id"
	HeaderExecution = "X-Runlater-Execution-Id"
)

// Sign returns the "sha256=<hex>" signature for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for body under
// secret. Comparison is constant-time to avoid timing side channels.
func Verify(secret, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}
