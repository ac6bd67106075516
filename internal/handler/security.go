package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/auth"
)

// APIKeyHeader carries operator API keys. The legacy "api_key" header and
// a Bearer token are accepted too.
const APIKeyHeader = "X-API-Key"

var errUnauthorized = errors.New("unauthorized")

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key that authenticated the request.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// SecurityHandler authenticates operator requests via HMAC-SHA256 hashed
// API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  string
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper string) *SecurityHandler {
	return &SecurityHandler{apikeys: apikeys, pepper: pepper}
}

// Authenticate hashes key, looks the hash up and compares it in constant
// time against the stored hash.
func (s *SecurityHandler) Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := auth.HashKey(s.pepper, key)
	info, err := s.apikeys.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}

	want, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errUnauthorized
	}
	got, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

func apiKeyFrom(r *http.Request) string {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return k
	}
	if k := r.Header.Get("api_key"); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RequireAPIKey rejects requests without a valid operator API key.
func (s *SecurityHandler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.Authenticate(r.Context(), apiKeyFrom(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, info)
		ctx = zctx.With(ctx, zap.String("api_key", info.Name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
