package upstream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"
)

// signatureWindow is the validity window of the derived signing key.
// Requests signed within the same window share an intermediate key.
const signatureWindow = 5 * time.Minute

// signPayload produces the provider's dual-layer HMAC-SHA256 request
// signature. An intermediate key is derived from the secret and the
// current time window; the final signature covers the query parameter
// string, the base64-encoded content and the millisecond timestamp.
func signPayload(secret, params, content string, now time.Time) (signature, timestamp string) {
	timestampMs := now.UnixMilli()
	timestamp = strconv.FormatInt(timestampMs, 10)

	window := timestampMs / signatureWindow.Milliseconds()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(window, 10)))
	intermediateKey := hex.EncodeToString(mac.Sum(nil))

	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	payload := params + "|" + encoded + "|" + timestamp

	mac = hmac.New(sha256.New, []byte(intermediateKey))
	mac.Write([]byte(payload))
	signature = hex.EncodeToString(mac.Sum(nil))

	return signature, timestamp
}
