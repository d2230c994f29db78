// Package singleflight 实现按键去重的并发协调器：
// 同一指纹同一时刻最多只有一次work执行，并发调用方共享同一个结果(或同一个错误)。
// 与通用single-flight不同的是取消语义按引用计数处理：
// 单个等待方取消只影响它自己，只有最后一个等待方离开时才中止进行中的work。
package singleflight

import (
	"context"
	"sync"
	"time"
)

// call 一次进行中的飞行
type call struct {
	done    chan struct{} // 完成时关闭
	val     interface{}
	err     error
	waiters int                // 当前仍在等待的调用方数量，由Group.mu保护
	cancel  context.CancelFunc // 中止飞行上下文
}

// Group 指纹到进行中飞行的映射
type Group struct {
	mu            sync.Mutex
	calls         map[string]*call
	flightTimeout time.Duration // 单次飞行的全局策略超时，0表示不限制
}

// New 创建去重协调器
func New(flightTimeout time.Duration) *Group {
	return &Group{
		calls:         make(map[string]*call),
		flightTimeout: flightTimeout,
	}
}

// Do 以key去重执行fn。
//   - key无进行中飞行时创建新飞行执行fn；否则加入已有飞行等待其结果。
//   - fn收到的上下文与调用方上下文解耦：调用方取消只会让自己停止等待，
//     飞行在最后一个等待方离开或策略超时到达时才被取消。
//   - 返回shared=true表示结果来自加入的已有飞行。
//   - 飞行无论成败都会从映射中移除，失败不会污染下一次同键调用。
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		c.waiters++
		g.mu.Unlock()
		return g.wait(ctx, key, c, true)
	}

	flightCtx := context.Background()
	var cancel context.CancelFunc
	if g.flightTimeout > 0 {
		flightCtx, cancel = context.WithTimeout(flightCtx, g.flightTimeout)
	} else {
		flightCtx, cancel = context.WithCancel(flightCtx)
	}

	c := &call{
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
	}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			// 只移除自己，防止误删已经顶替进来的新飞行
			if g.calls[key] == c {
				delete(g.calls, key)
			}
			g.mu.Unlock()
			cancel()
			close(c.done)
		}()
		c.val, c.err = fn(flightCtx)
	}()

	return g.wait(ctx, key, c, false)
}

// wait 等待飞行完成或调用方取消
func (g *Group) wait(ctx context.Context, key string, c *call, shared bool) (interface{}, bool, error) {
	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		last := c.waiters <= 0
		g.mu.Unlock()
		if last {
			// 最后一个等待方离开，中止飞行
			c.cancel()
		}
		return nil, shared, ctx.Err()
	}
}

// InFlight 返回key当前是否有进行中的飞行，主要用于观测
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}
