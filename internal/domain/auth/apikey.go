// Package auth resolves operator API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// ever stored or configured.
func HashKey(pepper, key string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Repository = (*StaticRepository)(nil)

// StaticRepository serves keys configured as hashes.
type StaticRepository struct {
	keys []APIKeyInfo
}

// NewStaticRepository builds a repository from "name:hash" or bare "hash"
// entries. Blank entries are skipped.
func NewStaticRepository(entries []string) *StaticRepository {
	r := &StaticRepository{}
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, hash, ok := strings.Cut(e, ":")
		if !ok {
			name, hash = "key-"+strconv.Itoa(i), e
		}
		r.keys = append(r.keys, APIKeyInfo{
			ID:      name,
			Name:    name,
			KeyHash: strings.ToLower(strings.TrimSpace(hash)),
		})
	}
	return r
}

// Len reports the number of configured keys.
func (r *StaticRepository) Len() int { return len(r.keys) }

// FindByHash compares hash against every configured key in constant time.
func (r *StaticRepository) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	var found *APIKeyInfo
	for i := range r.keys {
		if subtle.ConstantTimeCompare([]byte(r.keys[i].KeyHash), []byte(hash)) == 1 {
			k := r.keys[i]
			found = &k
		}
	}
	if found == nil {
		return nil, ErrKeyNotFound
	}
	return found, nil
}

// Chain consults repositories in order and returns the first match.
type Chain []Repository

// FindByHash returns ErrKeyNotFound only when no repository knows hash.
// Lookup failures other than ErrKeyNotFound stop the search.
func (c Chain) FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error) {
	for _, r := range c {
		info, err := r.FindByHash(ctx, hash)
		switch {
		case err == nil:
			return info, nil
		case errors.Is(err, ErrKeyNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrKeyNotFound
}
