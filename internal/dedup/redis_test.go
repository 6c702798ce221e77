package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	keys      map[string]bool
	err       error
	lastTTL   time.Duration
	scanMatch string
	deleted   []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]bool{}}
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, expiration time.Duration) *redis.BoolCmd {
	f.lastTTL = expiration
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.scanMatch = match
	var out []string
	for k := range f.keys {
		out = append(out, k)
	}
	return redis.NewScanCmdResult(out, 0, f.err)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.keys, k)
		f.deleted = append(f.deleted, k)
	}
	return redis.NewIntResult(int64(len(keys)), f.err)
}

func TestNewRedis_Validates(t *testing.T) {
	_, err := NewRedis(nil, "", time.Hour)
	require.Error(t, err)

	r, err := NewRedis(newFakeRedis(), " ", -time.Second)
	require.NoError(t, err)
	require.Equal(t, defaultRedisPrefix, r.prefix)
	require.Zero(t, r.ttl)
}

func TestRedis_SeenMark(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r, err := NewRedis(fake, "test:", 48*time.Hour)
	require.NoError(t, err)

	seen, err := r.Seen(ctx, "msg:1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, r.Mark(ctx, "msg:1"))
	require.True(t, fake.keys["test:msg:1"])
	require.Equal(t, 48*time.Hour, fake.lastTTL)

	seen, err = r.Seen(ctx, "msg:1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestRedis_ClaimReturnsSetNXResult(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r, err := NewRedis(fake, "test:", time.Hour)
	require.NoError(t, err)

	ok, err := r.Claim(ctx, "msg:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Hour, fake.lastTTL)

	ok, err = r.Claim(ctx, "msg:1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Release(ctx, "msg:1"))
	require.Equal(t, []string{"test:msg:1"}, fake.deleted)
	ok, err = r.Claim(ctx, "msg:1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.Claim(ctx, " ")
	require.Error(t, err)
}

func TestRedis_Clear(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r, err := NewRedis(fake, "test:", 0)
	require.NoError(t, err)
	require.NoError(t, r.Mark(ctx, "msg:1"))
	require.NoError(t, r.Mark(ctx, "step:t:0"))

	require.NoError(t, r.Clear(ctx))
	require.Equal(t, "test:*", fake.scanMatch)
	require.Len(t, fake.deleted, 2)
	require.Empty(t, fake.keys)
}

func TestRedis_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	r, err := NewRedis(fake, "", 0)
	require.NoError(t, err)

	_, err = r.Seen(ctx, "msg:1")
	require.ErrorContains(t, err, "connection refused")

	err = r.Mark(ctx, "msg:1")
	require.ErrorContains(t, err, "setnx")

	_, err = r.Claim(ctx, "msg:1")
	require.ErrorContains(t, err, "setnx")

	err = r.Release(ctx, "msg:1")
	require.ErrorContains(t, err, "del")

	require.Error(t, r.Mark(ctx, ""))
}
