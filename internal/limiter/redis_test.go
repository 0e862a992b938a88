package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/clinic-credit/internal/clock"
)

type fakeScripter struct {
	reply    any
	err      error
	lastKeys []string
	lastArgs []any
}

var _ redis.Scripter = (*fakeScripter)(nil)

func (f *fakeScripter) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.EvalSha(ctx, "", keys, args...)
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.lastKeys, f.lastArgs = keys, args
	return redis.NewCmdResult(f.reply, f.err)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestRedis_Allowed(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	fs := &fakeScripter{reply: []any{int64(1), int64(0)}}
	l := NewRedis(fs, 5, time.Minute, clock.NewMockClock(now))
	uid := uuid.Must(uuid.NewV4())

	ok, retry, err := l.Allow(context.Background(), uid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, retry)
	require.Equal(t, []string{l.Key(uid)}, fs.lastKeys)
	require.Equal(t, now.UnixMilli(), fs.lastArgs[0])
	require.Equal(t, int64(60000), fs.lastArgs[1])
	require.Equal(t, 5, fs.lastArgs[2])
}

func TestRedis_Refused_RetryAfter(t *testing.T) {
	fs := &fakeScripter{reply: []any{int64(0), int64(1500)}}
	l := NewRedis(fs, 5, time.Minute, clock.NewRealClock())

	ok, retry, err := l.Allow(context.Background(), uuid.Must(uuid.NewV4()))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1500*time.Millisecond, retry)
}

func TestRedis_ErrorPropagates(t *testing.T) {
	fs := &fakeScripter{err: errors.New("conn refused")}
	l := NewRedis(fs, 5, time.Minute, clock.NewRealClock())

	ok, _, err := l.Allow(context.Background(), uuid.Must(uuid.NewV4()))
	require.Error(t, err)
	require.False(t, ok)
}
