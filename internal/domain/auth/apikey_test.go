package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKey(t *testing.T) {
	h := HashKey("pepper", "key")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("pepper", "key"))
	assert.NotEqual(t, h, HashKey("other", "key"))
}

func TestStaticRepository(t *testing.T) {
	ctx := context.Background()
	ops := HashKey("pepper", "ops-key")
	bare := HashKey("pepper", "bare-key")
	r := NewStaticRepository([]string{"ops:" + ops, " ", bare})
	require.Equal(t, 2, r.Len())

	info, err := r.FindByHash(ctx, ops)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)

	info, err = r.FindByHash(ctx, bare)
	require.NoError(t, err)
	assert.Equal(t, "key-2", info.ID)

	_, err = r.FindByHash(ctx, HashKey("pepper", "nope"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

type failingRepo struct{ err error }

func (f failingRepo) FindByHash(context.Context, string) (*APIKeyInfo, error) { return nil, f.err }

func TestChain(t *testing.T) {
	ctx := t.Context()
	first := NewStaticRepository([]string{"first:" + HashKey("p", "a")})
	second := NewStaticRepository([]string{"second:" + HashKey("p", "b")})

	info, err := Chain{first, second}.FindByHash(ctx, HashKey("p", "b"))
	require.NoError(t, err)
	assert.Equal(t, "second", info.Name)

	_, err = Chain{first, second}.FindByHash(ctx, HashKey("p", "c"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = Chain{}.FindByHash(ctx, "x")
	require.ErrorIs(t, err, ErrKeyNotFound)

	boom := errors.New("db down")
	_, err = Chain{failingRepo{err: boom}, second}.FindByHash(ctx, HashKey("p", "b"))
	require.ErrorIs(t, err, boom)
}
