package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 50个并发调用同一key，fn只执行一次，所有调用方拿到相同结果
func TestConcurrentCallersShareOneExecution(t *testing.T) {
	g := New(0)
	var calls int32
	release := make(chan struct{})

	const n = 50
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _, errs[idx] = g.Do(context.Background(), "fp-1", func(ctx context.Context) (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return "shared-result", nil
			})
		}(i)
	}

	// 等待所有goroutine要么发起飞行要么加入飞行
	require.Eventually(t, func() bool { return g.InFlight("fp-1") }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "work应只执行一次")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-result", results[i])
	}
}

// 所有加入的调用方拿到同一个错误
func TestErrorFanOut(t *testing.T) {
	g := New(0)
	sentinel := errors.New("provider exploded")
	release := make(chan struct{})

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = g.Do(context.Background(), "fp-err", func(ctx context.Context) (interface{}, error) {
				<-release
				return nil, sentinel
			})
		}(i)
	}
	require.Eventually(t, func() bool { return g.InFlight("fp-err") }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], sentinel)
	}
}

// 失败的飞行不污染后续调用：下一次同键调用重新执行
func TestFailureDoesNotPoison(t *testing.T) {
	g := New(0)
	var calls int32

	_, _, err := g.Do(context.Background(), "fp-2", func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("first attempt fails")
	})
	require.Error(t, err)

	v, shared, err := g.Do(context.Background(), "fp-2", func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "second time lucky", nil
	})
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, "second time lucky", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// 不同key互不去重
func TestDistinctKeysRunIndependently(t *testing.T) {
	g := New(0)
	var calls int32
	for _, key := range []string{"a", "b", "c"} {
		_, _, err := g.Do(context.Background(), key, func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return key, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// 单个等待方取消不影响飞行和其他等待方
func TestWaiterCancelDoesNotAbortFlight(t *testing.T) {
	g := New(0)
	release := make(chan struct{})
	flightAborted := make(chan struct{})

	// 第一个调用方发起飞行
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		v, _, err := g.Do(context.Background(), "fp-3", func(ctx context.Context) (interface{}, error) {
			select {
			case <-ctx.Done():
				close(flightAborted)
				return nil, ctx.Err()
			case <-release:
				return "ok", nil
			}
		})
		assert.NoError(t, err)
		assert.Equal(t, "ok", v)
	}()
	require.Eventually(t, func() bool { return g.InFlight("fp-3") }, time.Second, time.Millisecond)

	// 第二个调用方加入后取消自己
	cancelCtx, cancel := context.WithCancel(context.Background())
	joinDone := make(chan error, 1)
	go func() {
		_, shared, err := g.Do(cancelCtx, "fp-3", nil)
		assert.True(t, shared)
		joinDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-joinDone
	assert.ErrorIs(t, err, context.Canceled)

	// 飞行仍在进行，未被中止
	select {
	case <-flightAborted:
		t.Fatal("单个等待方取消不应中止共享的飞行")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-firstDone
}

// 最后一个等待方取消时飞行被中止
func TestLastWaiterCancelAbortsFlight(t *testing.T) {
	g := New(0)
	flightAborted := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "fp-4", func(fctx context.Context) (interface{}, error) {
			<-fctx.Done()
			close(flightAborted)
			return nil, fctx.Err()
		})
		done <- err
	}()
	require.Eventually(t, func() bool { return g.InFlight("fp-4") }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	select {
	case <-flightAborted:
	case <-time.After(time.Second):
		t.Fatal("最后一个等待方取消后飞行应被中止")
	}
}

// 全局策略超时中止失控的work
func TestFlightTimeout(t *testing.T) {
	g := New(50 * time.Millisecond)

	start := time.Now()
	_, _, err := g.Do(context.Background(), "fp-5", func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// 飞行完成后映射被清理
func TestMapCleanedAfterCompletion(t *testing.T) {
	g := New(0)
	_, _, err := g.Do(context.Background(), "fp-6", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !g.InFlight("fp-6") }, time.Second, time.Millisecond)
}
