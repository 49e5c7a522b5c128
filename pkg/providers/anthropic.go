package providers

import (
	"context"
	"strings"
)

const (
	// DefaultAnthropicBaseURL Anthropic API 默认地址
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"

	// AnthropicVersion anthropic-version 请求头
	AnthropicVersion = "2023-06-01"

	// defaultAnthropicMaxTokens Messages API 要求必须提供 max_tokens
	defaultAnthropicMaxTokens = 1024
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// AnthropicClient Anthropic Messages API 客户端（仅文本）
type AnthropicClient struct {
	*BaseClient
}

// NewAnthropicClient 创建 Anthropic 客户端
func NewAnthropicClient(cfg ClientConfig) (*AnthropicClient, error) {
	base, err := NewBaseClient(Anthropic, DefaultAnthropicBaseURL, cfg)
	if err != nil {
		return nil, err
	}
	return &AnthropicClient{BaseClient: base}, nil
}

// Generate 发送一次生成请求
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.Kind == KindImage {
		return nil, &FatalError{Provider: c.name, Reason: ReasonUnsupported, Message: "image generation is not supported"}
	}

	key, err := c.credential(req.APIKey)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": AnthropicVersion,
	}

	var resp anthropicResponse
	if err := c.DoJSON(ctx, "/messages", headers, body, &resp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &TransientError{Provider: c.name, Message: "empty completion"}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Response{Payload: sb.String(), Model: model}, nil
}
