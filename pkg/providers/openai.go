package providers

import (
	"context"
	"fmt"
)

// DefaultOpenAIBaseURL OpenAI API 默认地址
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// DefaultImageSize 默认图片尺寸
const DefaultImageSize = "1024x1024"

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Seed        *int64          `json:"seed,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// OpenAIClient OpenAI 客户端（chat completions + image generations）
type OpenAIClient struct {
	*BaseClient
}

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	base, err := NewBaseClient(OpenAI, DefaultOpenAIBaseURL, cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{BaseClient: base}, nil
}

// Generate 发送一次生成请求
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	key, err := c.credential(req.APIKey)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + key}

	if req.Kind == KindImage {
		return c.generateImage(ctx, headers, req)
	}
	return c.generateText(ctx, headers, req)
}

func (c *OpenAIClient) generateText(ctx context.Context, headers map[string]string, req *Request) (*Response, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Seed:        req.Seed,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})

	var resp openAIChatResponse
	if err := c.DoJSON(ctx, "/chat/completions", headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &TransientError{Provider: c.name, Message: "empty completion"}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Response{Payload: resp.Choices[0].Message.Content, Model: model, Seed: req.Seed}, nil
}

func (c *OpenAIClient) generateImage(ctx context.Context, headers map[string]string, req *Request) (*Response, error) {
	size := req.ImageSize
	if size == "" {
		size = DefaultImageSize
	}
	body := openAIImageRequest{Model: req.Model, Prompt: req.Prompt, N: 1, Size: size}

	var resp openAIImageResponse
	if err := c.DoJSON(ctx, "/images/generations", headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &TransientError{Provider: c.name, Message: "empty image response"}
	}

	payload := resp.Data[0].URL
	if payload == "" && resp.Data[0].B64JSON != "" {
		payload = fmt.Sprintf("data:image/png;base64,%s", resp.Data[0].B64JSON)
	}
	if payload == "" {
		return nil, &TransientError{Provider: c.name, Message: "image response without data"}
	}
	return &Response{Payload: payload, Model: req.Model}, nil
}
