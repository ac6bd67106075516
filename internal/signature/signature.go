// Package signature signs outbound gateway parameter sets and verifies
// inbound gateway notifications.
package signature

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // mandated by the hosted redirect gateway
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"slices"
	"strings"
)

// DefaultField is the parameter carrying the signature when a Scheme does
// not name one.
const DefaultField = "signature"

// Scheme describes how a gateway canonicalizes and digests a parameter set.
type Scheme struct {
	// Hash constructs the digest.
	Hash func() hash.Hash
	// Keyed uses HMAC with the shared secret instead of appending it as a
	// passphrase parameter.
	Keyed bool
	// Order lists keys that must come first, in that order. Remaining keys
	// follow alphabetically.
	Order []string
	// Field is the parameter holding the signature. It is always excluded
	// from the canonical string.
	Field string
	// PassphraseKey is the name used when appending the secret.
	// Defaults to "passphrase".
	PassphraseKey string
}

// PayFast signs with MD5 over alphabetically ordered parameters and an
// appended passphrase.
var PayFast = Scheme{
	Hash:  md5.New,
	Field: "signature",
}

// Ozow signs with SHA-512 over alphabetically ordered parameters and the
// appended private key. The signature travels in the Hash parameter on
// notifications and in HashCheck on payment requests.
var Ozow = Scheme{
	Hash:          sha512.New,
	Field:         "Hash",
	PassphraseKey: "PrivateKey",
}

func (s Scheme) field() string {
	if s.Field == "" {
		return DefaultField
	}
	return s.Field
}

// Canonical returns the string that is digested for params.
func (s Scheme) Canonical(params url.Values, secret string) string {
	sigField := s.field()
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == sigField || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(s.Order) > 0 {
		keys = s.reorder(keys)
	}

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	if secret != "" && !s.Keyed {
		key := s.PassphraseKey
		if key == "" {
			key = "passphrase"
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(secret))
	}
	return b.String()
}

func (s Scheme) reorder(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	seen := make(map[string]struct{}, len(s.Order))
	for _, k := range s.Order {
		if slices.Contains(sorted, k) {
			out = append(out, k)
			seen[k] = struct{}{}
		}
	}
	for _, k := range sorted {
		if _, ok := seen[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Sign returns the lowercase hex digest of params.
func (s Scheme) Sign(params url.Values, secret string) string {
	var h hash.Hash
	if s.Keyed {
		h = hmac.New(s.Hash, []byte(secret))
	} else {
		h = s.Hash()
	}
	h.Write([]byte(s.Canonical(params, secret)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches params under secret. The
// comparison runs in constant time.
func (s Scheme) Verify(params url.Values, signature, secret string) bool {
	if signature == "" {
		return false
	}
	expected := s.Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyParams verifies params using the signature carried in the
// scheme's own field.
func (s Scheme) VerifyParams(params url.Values, secret string) bool {
	return s.Verify(params, params.Get(s.field()), secret)
}

// WithOrder returns a copy of s that places keys first, in that order.
func (s Scheme) WithOrder(keys ...string) Scheme {
	s.Order = keys
	return s
}

// FormKeys returns the keys of a form-encoded body in the order they were
// posted, without duplicates.
func FormKeys(body string) []string {
	var keys []string
	seen := make(map[string]struct{})
	for pair := range strings.SplitSeq(body, "&") {
		if pair == "" {
			continue
		}
		k, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
