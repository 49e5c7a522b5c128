package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL Gemini API 默认地址
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

// Imagen :predict 请求
type geminiPredictRequest struct {
	Instances  []map[string]string `json:"instances"`
	Parameters map[string]any      `json:"parameters"`
}

type geminiPredictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

// GeminiClient Gemini 客户端（generateContent 文本 + Imagen predict 图片）
type GeminiClient struct {
	*BaseClient
}

// NewGeminiClient 创建 Gemini 客户端
func NewGeminiClient(cfg ClientConfig) (*GeminiClient, error) {
	base, err := NewBaseClient(Gemini, DefaultGeminiBaseURL, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiClient{BaseClient: base}, nil
}

// Generate 发送一次生成请求
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	key, err := c.credential(req.APIKey)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"x-goog-api-key": key}

	if req.Kind == KindImage {
		return c.generateImage(ctx, headers, req)
	}
	return c.generateText(ctx, headers, req)
}

func (c *GeminiClient) modelPath(model, method string) string {
	return fmt.Sprintf("/models/%s:%s", url.PathEscape(strings.TrimPrefix(model, "models/")), method)
}

func (c *GeminiClient) generateText(ctx context.Context, headers map[string]string, req *Request) (*Response, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil || req.MaxTokens > 0 || req.Seed != nil {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			Seed:            req.Seed,
		}
	}

	var resp geminiResponse
	if err := c.DoJSON(ctx, c.modelPath(req.Model, "generateContent"), headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, &TransientError{Provider: c.name, Message: "no candidates returned"}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		// SAFETY 拦截重试也不会变，按请求问题处理
		if resp.Candidates[0].FinishReason == "SAFETY" {
			return nil, &FatalError{Provider: c.name, Reason: ReasonMalformedRequest, Message: "blocked by safety filter"}
		}
		return nil, &TransientError{Provider: c.name, Message: "empty completion"}
	}

	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}
	return &Response{Payload: sb.String(), Model: model, Seed: req.Seed}, nil
}

func (c *GeminiClient) generateImage(ctx context.Context, headers map[string]string, req *Request) (*Response, error) {
	body := geminiPredictRequest{
		Instances:  []map[string]string{{"prompt": req.Prompt}},
		Parameters: map[string]any{"sampleCount": 1},
	}

	var resp geminiPredictResponse
	if err := c.DoJSON(ctx, c.modelPath(req.Model, "predict"), headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return nil, &TransientError{Provider: c.name, Message: "empty image response"}
	}

	mime := resp.Predictions[0].MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &Response{
		Payload: fmt.Sprintf("data:%s;base64,%s", mime, resp.Predictions[0].BytesBase64Encoded),
		Model:   req.Model,
	}, nil
}
