package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"

	signatureVersion = "v0"
)

var (
	ErrMissingSignature = errors.New("missing slack signature headers")
	ErrStaleTimestamp   = errors.New("slack request timestamp outside allowed skew")
	ErrSignatureInvalid = errors.New("slack signature mismatch")
)

// Verifier checks Slack request signatures. The zero value with an empty
// secret accepts everything.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &Verifier{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify checks headers against the raw request body.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	if !v.Enabled() {
		return nil
	}

	signature := header.Get(HeaderSignature)
	timestamp := header.Get(HeaderTimestamp)
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrStaleTimestamp
	}

	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign computes the v0 signature Slack sends for body at timestamp.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	_, _ = mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
