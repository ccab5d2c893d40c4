package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Relayer request header names.
const (
	HeaderKey       = "X-MM-Key"
	HeaderTimestamp = "X-MM-Timestamp"
	HeaderSignature = "X-MM-Signature"
)

// HMACAuth holds the credentials used to authenticate against the
// settlement relayer.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the authentication headers for a relayer request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body), base64.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: h.sign(ts + method + path + body),
	}
}

// Verify checks a signature produced by HeadersAt. Timestamps further than
// maxSkew from now are rejected.
func (h *HMACAuth) Verify(method, path, body, ts, signature string, now time.Time, maxSkew time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto/hmac: bad timestamp %q", ts)
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
		return fmt.Errorf("crypto/hmac: timestamp outside allowed skew")
	}
	want := h.sign(ts + method + path + body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto/hmac: signature mismatch")
	}
	return nil
}

func (h *HMACAuth) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
