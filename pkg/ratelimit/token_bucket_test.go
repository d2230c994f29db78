package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowExhaustsCapacity(t *testing.T) {
	// 低速率大容量：初始令牌耗尽后短时间内补不回来
	tb := NewTokenBucket(6, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "第%d个请求应该放行", i+1)
	}
	assert.False(t, tb.Allow(), "容量耗尽后应该拒绝")
}

func TestTokenBucketWaitBlocksUntilRefill(t *testing.T) {
	// 每秒10个令牌，容量1：第二个请求要等约100ms
	tb := NewTokenBucket(600, 1)
	require.NoError(t, tb.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTokenBucketWaitHonorsContextCancel(t *testing.T) {
	// 速率极低，令牌耗尽后Wait必须因上下文取消而返回
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
