package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-tracker-go/internal/constants"
	"ai-tracker-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var adapterTracer = otel.Tracer("ai-tracker-go/generation/provider")

// ProviderOptions provider调用参数
type ProviderOptions struct {
	Timeout     time.Duration // 单次尝试的硬超时
	MaxRetries  int           // 最大重试次数(不含首次)
	BackoffBase time.Duration // 第n次重试等待 base*2^n
	BackoffCap  time.Duration // 退避上限
}

// DefaultProviderOptions 返回默认调用参数
func DefaultProviderOptions() ProviderOptions {
	return ProviderOptions{
		Timeout:     constants.DefaultProviderTimeout,
		MaxRetries:  constants.DefaultMaxRetries,
		BackoffBase: constants.DefaultBackoffBase,
		BackoffCap:  constants.DefaultBackoffCap,
	}
}

// ProviderResult provider调用结果，附带可观测的尝试次数与总耗时
type ProviderResult struct {
	Content  string
	Attempts int
	Latency  time.Duration
}

// ProviderAdapter 包装外部生成provider(eino ChatModel)：
// 单次尝试硬超时、指数退避重试、错误分类。
// 可重试类(超时/限流/瞬时传输错误)在适配器内部重试，
// provider明确拒绝的请求立即上抛，绝不重试。
type ProviderAdapter struct {
	llmModel model.ChatModel
	defaults ProviderOptions
	logger   zerolog.Logger
}

// NewProviderAdapter 创建provider适配器
func NewProviderAdapter(llmModel model.ChatModel, defaults ProviderOptions, logger zerolog.Logger) *ProviderAdapter {
	if defaults.Timeout <= 0 {
		defaults.Timeout = constants.DefaultProviderTimeout
	}
	if defaults.MaxRetries < 0 {
		defaults.MaxRetries = constants.DefaultMaxRetries
	}
	if defaults.BackoffBase <= 0 {
		defaults.BackoffBase = constants.DefaultBackoffBase
	}
	if defaults.BackoffCap <= 0 {
		defaults.BackoffCap = constants.DefaultBackoffCap
	}
	return &ProviderAdapter{
		llmModel: llmModel,
		defaults: defaults,
		logger:   logger,
	}
}

// Call 执行一次带重试的provider调用。
// opts为nil时使用默认参数。无论成败，返回的ProviderResult.Attempts
// 与Latency都反映实际发生的调用。
func (a *ProviderAdapter) Call(ctx context.Context, systemPrompt, userPrompt string, opts *ProviderOptions) (res *ProviderResult, err error) {
	if a.llmModel == nil {
		return nil, fmt.Errorf("provider适配器未初始化llmModel")
	}
	o := a.defaults
	if opts != nil {
		o = *opts
	}

	ctx, span := adapterTracer.Start(ctx, "provider.call",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("provider.prompt.user", tracing.SafePromptContent(userPrompt)),
			attribute.Int("provider.max_retries", o.MaxRetries),
		),
	)
	defer span.End()

	messages := []*einoschema.Message{
		einoschema.SystemMessage(systemPrompt),
		einoschema.UserMessage(userPrompt),
	}

	start := time.Now()
	res = &ProviderResult{}
	defer func() {
		span.SetAttributes(
			attribute.Int("provider.attempts", res.Attempts),
			attribute.Int64("provider.latency_ms", res.Latency.Milliseconds()),
		)
		if err != nil {
			tracing.RecordProviderError(span, err, res.Attempts)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}()
	var lastErr error

	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.BackoffBase * time.Duration(1<<uint(attempt-1))
			if o.BackoffCap > 0 && backoff > o.BackoffCap {
				backoff = o.BackoffCap
			}
			select {
			case <-ctx.Done():
				res.Latency = time.Since(start)
				return res, ctx.Err()
			case <-time.After(backoff):
			}
		}

		res.Attempts = attempt + 1
		content, err := a.callOnce(ctx, messages, o.Timeout)
		if err == nil {
			res.Content = content
			res.Latency = time.Since(start)
			return res, nil
		}
		lastErr = err

		// 调用方上下文已取消，立即停止
		if ctx.Err() != nil {
			res.Latency = time.Since(start)
			return res, ctx.Err()
		}
		if !Retryable(err) {
			res.Latency = time.Since(start)
			return res, err
		}
		a.logger.Warn().
			Err(err).
			Int("attempt", res.Attempts).
			Int("max_retries", o.MaxRetries).
			Msg("provider调用失败，准备重试")
	}

	res.Latency = time.Since(start)
	return res, lastErr
}

// callOnce 单次provider调用，附带硬超时
func (a *ProviderAdapter) callOnce(ctx context.Context, messages []*einoschema.Message, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := a.llmModel.Generate(attemptCtx, messages)
	if err != nil {
		return "", a.classify(err, attemptCtx)
	}
	if response == nil || response.Content == "" {
		// 空响应视为瞬时故障，按超时类处理参与重试
		return "", NewProviderTimeoutError("", "provider返回空响应")
	}
	return response.Content, nil
}

// classify 把底层错误映射到错误分类。
// attemptCtx超时→ProviderTimeout；限流特征→ProviderRateLimited；
// 明确的请求拒绝→ProviderRejected；其余传输类故障按超时类参与重试。
func (a *ProviderAdapter) classify(err error, attemptCtx context.Context) error {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return NewProviderTimeoutError("", err.Error())
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, []string{
		"429", "rate limit", "too many requests", "throttl",
		"服务器繁忙", "请求超过限额", "qps限制",
	}):
		return NewProviderRateLimitedError("", err.Error())
	case containsAny(errStr, []string{
		"400", "invalid request", "bad request", "content policy",
		"content_filter", "context length", "参数错误",
	}):
		return NewProviderRejectedError("", err.Error())
	case containsAny(errStr, []string{
		"timeout", "deadline exceeded", "connection reset", "eof",
		"connection refused", "no such host", "broken pipe",
	}):
		return NewProviderTimeoutError("", err.Error())
	default:
		// 未知错误按瞬时故障处理，重试封顶后仍会上抛
		return NewProviderTimeoutError("", err.Error())
	}
}

// containsAny 检查字符串是否包含列表中的任一子串
func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if substr != "" && strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
