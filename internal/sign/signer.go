// Package sign computes keyed signatures for outbound webhook
// payloads. Signatures are HMAC-SHA256 over the raw payload bytes and
// verification is constant time; secret material never appears in
// returned values or errors.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header is the HTTP header carrying the payload signature.
const Header = "X-Webhook-Signature"

// Payload returns the hex-encoded HMAC-SHA256 of payload under secret.
func Payload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func Verify(payload []byte, signature, secret string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
