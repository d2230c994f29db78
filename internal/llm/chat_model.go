// Package llm 提供OpenAI兼容聊天接口的ChatModel实现，
// 默认对接阿里云DashScope的compatible-mode端点。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	defaultAPIURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultModelName = "qwen-plus"
)

// chatCompletionRequest OpenAI兼容的请求体。
// eino的schema.Message字段布局与OpenAI消息兼容，直接复用。
type chatCompletionRequest struct {
	Model    string            `json:"model"`
	Messages []*schema.Message `json:"messages"`
}

type chatCompletionMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type chatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      chatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

// OpenAIChatModel 实现model.ChatModel接口，走OpenAI兼容HTTP API
type OpenAIChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOpenAIChatModel 创建OpenAI兼容聊天模型客户端。
// baseURL传接口根路径(不含/chat/completions)，留空用DashScope默认端点。
func NewOpenAIChatModel(apiKey, modelName, baseURL string, logger zerolog.Logger) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultModelName
	}

	url := defaultAPIURL
	if strings.TrimSpace(baseURL) != "" {
		url = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	}

	return &OpenAIChatModel{
		apiKey:    apiKey,
		modelName: mn,
		apiURL:    url,
		// 超时由调用方上下文控制，客户端自身不设额外超时
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// Generate 实现model.ChatModel接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	reqPayload := chatCompletionRequest{
		Model:    m.modelName,
		Messages: messages,
	}
	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		// 状态码和响应体一起上抛，适配器按特征分类
		return nil, fmt.Errorf("API请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化API响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("API返回空choices")
	}

	apiMessage := resp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	role := schema.RoleType(apiMessage.Role)
	if role == "" {
		role = schema.Assistant
	}

	m.logger.Debug().
		Str("model", resp.Model).
		Str("finish_reason", resp.Choices[0].FinishReason).
		Int("content_len", len(content)).
		Msg("provider响应")

	return &schema.Message{Role: role, Content: content}, nil
}

// Stream 实现model.ChatModel接口。生成引擎只用同步调用，未实现流式。
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel未实现Stream")
}

// BindTools 实现model.ChatModel接口。生成引擎不使用工具调用。
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		return fmt.Errorf("OpenAIChatModel不支持工具调用")
	}
	return nil
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)
