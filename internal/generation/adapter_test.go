package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试用LLM模型模拟器
type MockLLMModel struct {
	// 模拟响应
	mockResponse string
	// 用于测试的错误
	Err error
	// 用于测试的调用次数
	CallCount int
	// 第N次调用开始成功(0表示全部失败)
	SucceedAfterNCalls int
	// 每次调用的人为延迟，用于超时测试
	Delay time.Duration
	// 记录绑定的工具 (可选，用于测试)
	boundTools []*schema.ToolInfo
}

// Generate 实现model.ChatModel接口
func (m *MockLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	m.CallCount++
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil && (m.SucceedAfterNCalls == 0 || m.CallCount < m.SucceedAfterNCalls) {
		return nil, m.Err
	}
	return &schema.Message{
		Role:    "assistant",
		Content: m.mockResponse,
	}, nil
}

// Stream 实现model.ChatModel接口
func (m *MockLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	// 测试中不需要流式响应
	return nil, nil
}

// BindTools 实现model.ChatModel接口
func (m *MockLLMModel) BindTools(tools []*schema.ToolInfo) error {
	m.boundTools = tools
	return nil
}

func fastOptions() ProviderOptions {
	return ProviderOptions{
		Timeout:     200 * time.Millisecond,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

// TestAdapterSuccessFirstAttempt 首次调用成功不重试
func TestAdapterSuccessFirstAttempt(t *testing.T) {
	mock := &MockLLMModel{mockResponse: "生成的简历内容"}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())

	res, err := adapter.Call(context.Background(), "system", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "生成的简历内容", res.Content)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, mock.CallCount)
}

// TestAdapterRetriesTransientThenSucceeds 瞬时故障重试后成功
func TestAdapterRetriesTransientThenSucceeds(t *testing.T) {
	mock := &MockLLMModel{
		mockResponse:       "第三次成功",
		Err:                errors.New("connection reset by peer"),
		SucceedAfterNCalls: 3,
	}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())

	res, err := adapter.Call(context.Background(), "system", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "第三次成功", res.Content)
	assert.Equal(t, 3, res.Attempts)
}

// TestAdapterRetryCeiling 重试封顶: maxRetries=2意味着最多3次尝试
func TestAdapterRetryCeiling(t *testing.T) {
	mock := &MockLLMModel{Err: errors.New("dial tcp: connection refused")}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())

	res, err := adapter.Call(context.Background(), "system", "user", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderTimeout), "瞬时传输错误按超时类上抛")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, mock.CallCount)
}

// TestAdapterRateLimitClassification 限流特征分类为ProviderRateLimited且参与重试
func TestAdapterRateLimitClassification(t *testing.T) {
	mock := &MockLLMModel{Err: errors.New("429 too many requests")}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())

	res, err := adapter.Call(context.Background(), "system", "user", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderRateLimited))
	assert.Equal(t, 3, res.Attempts, "限流属于可重试类")
}

// TestAdapterRejectedNoRetry provider明确拒绝的请求立即上抛，只尝试一次
func TestAdapterRejectedNoRetry(t *testing.T) {
	mock := &MockLLMModel{Err: errors.New("400 bad request: context length exceeded")}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())

	res, err := adapter.Call(context.Background(), "system", "user", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderRejected))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, mock.CallCount)
}

// TestAdapterPerAttemptTimeout 单次尝试超过硬超时被中断并分类为超时
func TestAdapterPerAttemptTimeout(t *testing.T) {
	mock := &MockLLMModel{
		mockResponse: "太慢了",
		Delay:        100 * time.Millisecond,
	}
	opts := fastOptions()
	opts.Timeout = 10 * time.Millisecond
	adapter := NewProviderAdapter(mock, opts, zerolog.Nop())

	_, err := adapter.Call(context.Background(), "system", "user", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderTimeout))
	assert.Equal(t, 3, mock.CallCount, "每次尝试独立计超时，整体仍受重试封顶约束")
}

// TestAdapterCallerCancelStopsRetries 调用方上下文取消后立即停止，不再发起新尝试
func TestAdapterCallerCancelStopsRetries(t *testing.T) {
	mock := &MockLLMModel{Err: errors.New("connection reset")}
	opts := fastOptions()
	opts.BackoffBase = 50 * time.Millisecond
	adapter := NewProviderAdapter(mock, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := adapter.Call(ctx, "system", "user", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, mock.CallCount)
}

// TestAdapterEmptyResponseRetried 空响应视为瞬时故障参与重试
func TestAdapterEmptyResponseRetried(t *testing.T) {
	mock := &MockLLMModel{mockResponse: ""}
	adapter := NewProviderAdapter(mock, fastOptions(), zerolog.Nop())

	_, err := adapter.Call(context.Background(), "system", "user", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderTimeout))
	assert.Equal(t, 3, mock.CallCount)
}
