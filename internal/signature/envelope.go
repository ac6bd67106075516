package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Envelope verification errors.
var (
	ErrEnvelopeMalformed = errors.New("malformed signature header")
	ErrEnvelopeExpired   = errors.New("signature timestamp outside tolerance")
	ErrEnvelopeMismatch  = errors.New("no matching signature")
)

// DefaultTolerance bounds the age of a signed event.
const DefaultTolerance = 5 * time.Minute

func envelopeMAC(payload []byte, secret string, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignEnvelope builds a "t=<unix>,v1=<hex>" header for payload.
func SignEnvelope(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(envelopeMAC(payload, secret, ts))
}

// VerifyEnvelope checks a "t=<unix>,v1=<hex>[,v1=<hex>...]" header against
// payload. A non-positive tolerance disables the timestamp window.
func VerifyEnvelope(header string, payload []byte, secret string, tolerance time.Duration, now time.Time) error {
	var (
		ts     int64
		hasTS  bool
		hashes [][]byte
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrEnvelopeMalformed
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Wrap(ErrEnvelopeMalformed, "timestamp")
			}
			ts, hasTS = n, true
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			hashes = append(hashes, sig)
		}
	}
	if !hasTS || len(hashes) == 0 {
		return ErrEnvelopeMalformed
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrEnvelopeExpired
		}
	}

	expected := envelopeMAC(payload, secret, ts)
	for _, sig := range hashes {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrEnvelopeMismatch
}
