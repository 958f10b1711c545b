package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := New(db, "rl", 2, time.Minute)
	fixed := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return fixed }
	key := "rl:u1:" + "28333333"

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectIncr(key).SetVal(3)

	ctx := context.Background()
	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "hit %d", i+1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimiter_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := New(db, "rl", 2, time.Minute)
	l.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	mock.ExpectIncr("rl:u1:28333333").SetErr(errors.New("connection refused"))

	_, err := l.Allow(context.Background(), "u1")
	assert.Error(t, err)
}

func TestLimiter_Disabled(t *testing.T) {
	var nilLimiter *Limiter
	ok, err := nilLimiter.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = New(nil, "rl", 1, time.Minute).Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}
