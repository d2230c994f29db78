package ratelimit

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedChatModel 对ChatModel的调用进行限流的代理。
// 只做发送速率整形，重试和错误分类由上层调用方负责。
type RateLimitedChatModel struct {
	original    model.ChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedChatModel 创建一个新的限流ChatModel代理。
// 容量设为QPM的一半，允许一定的突发流量。
func NewRateLimitedChatModel(original model.ChatModel, qpm int) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2),
	}
}

// Generate 代理Generate方法，获取令牌后才放行调用
func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Generate(ctx, messages, options...)
}

// Stream 代理Stream方法，获取令牌后才放行调用
func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Stream(ctx, messages, options...)
}

// BindTools 代理BindTools方法，不参与限流
func (rl *RateLimitedChatModel) BindTools(tools []*schema.ToolInfo) error {
	return rl.original.BindTools(tools)
}

var _ model.ChatModel = (*RateLimitedChatModel)(nil)
