package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries the body signature of generic webhooks
	SignatureHeader = "X-Webhook-Signature"
	// TimestampHeader optionally carries the unix time the body was signed at
	TimestampHeader = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
)

// HMACVerifier verifies HMAC-SHA256 webhook signatures
type HMACVerifier struct {
	Tolerance time.Duration
	now       func() time.Time
}

// NewHMACVerifier creates a verifier accepting timestamps within tolerance
func NewHMACVerifier(tolerance time.Duration) *HMACVerifier {
	return &HMACVerifier{Tolerance: tolerance, now: time.Now}
}

// Verify checks the request signature against secret. An empty secret
// disables verification for the trigger.
func (v *HMACVerifier) Verify(r *http.Request, body []byte, secret string) error {
	if secret == "" {
		return nil
	}

	headerValue := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if headerValue == "" {
		return NewVerificationError(SignatureHeader, "missing signature header")
	}
	signature := strings.TrimPrefix(headerValue, signaturePrefix)

	input := body
	if ts := r.Header.Get(TimestampHeader); ts != "" {
		if err := v.validateTimestamp(ts); err != nil {
			return err
		}
		input = append([]byte(ts+"."), body...)
	}

	expected := Sign(secret, input)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return NewVerificationError(SignatureHeader, "signature mismatch")
	}
	return nil
}

func (v *HMACVerifier) validateTimestamp(value string) error {
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return NewVerificationError(TimestampHeader, "invalid unix timestamp: %v", err)
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if v.Tolerance > 0 && age > v.Tolerance {
		return NewVerificationError(TimestampHeader, "timestamp outside tolerance: %v", age.Round(time.Second))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of data
func Sign(secret string, data []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PreserveRequestBody reads the request body and replaces it with a re-readable copy
func PreserveRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
