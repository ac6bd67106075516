package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Headers carrying a webhook signed in the "webhook-id / webhook-timestamp /
// webhook-signature" format.
const (
	WebhookIDHeader        = "Webhook-Id"
	WebhookTimestampHeader = "Webhook-Timestamp"
	WebhookSignatureHeader = "Webhook-Signature"
)

const webhookSecretPrefix = "whsec_"

// webhookKey decodes a "whsec_<base64>" secret. Secrets in any other form
// are used as raw bytes.
func webhookKey(secret string) []byte {
	if rest, ok := strings.CutPrefix(secret, webhookSecretPrefix); ok {
		if key, err := base64.StdEncoding.DecodeString(rest); err == nil {
			return key
		}
	}
	return []byte(secret)
}

func webhookMAC(id string, ts int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, webhookKey(secret))
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignWebhook returns the "v1,<base64>" signature of payload.
func SignWebhook(id string, at time.Time, payload []byte, secret string) string {
	return "v1," + base64.StdEncoding.EncodeToString(webhookMAC(id, at.Unix(), payload, secret))
}

// VerifyWebhook checks a space separated list of "v1,<base64>" signatures
// over id, timestamp and payload. A non-positive tolerance disables the
// timestamp window.
func VerifyWebhook(id, timestamp, header string, payload []byte, secret string, tolerance time.Duration, now time.Time) error {
	if id == "" || timestamp == "" || header == "" {
		return ErrEnvelopeMalformed
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Wrap(ErrEnvelopeMalformed, "timestamp")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrEnvelopeExpired
		}
	}

	expected := webhookMAC(id, ts, payload, secret)
	for part := range strings.FieldsSeq(header) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, raw) {
			return nil
		}
	}
	return ErrEnvelopeMismatch
}
