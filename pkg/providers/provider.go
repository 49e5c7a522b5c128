// Package providers 提供 AI Provider 的 HTTP 客户端（OpenAI、Anthropic、Gemini）。
// 客户端只负责单次请求和错误分类，重试、熔断、限流由 biz 层负责。
package providers

import "context"

// Provider 标识
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gemini    = "gemini"
)

// Kind 生成类型
type Kind string

const (
	// KindText 文本生成（洞察、描述）
	KindText Kind = "text"
	// KindImage 图片生成（缩略图）
	KindImage Kind = "image"
)

// Request 单次生成请求（已绑定具体模型）
type Request struct {
	Kind         Kind
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  *float64
	MaxTokens    int
	Seed         *int64
	ImageSize    string

	// APIKey 单次请求覆盖的 API Key（为空时使用 Configure 设置的 Key）
	APIKey string
}

// Response Provider 返回的生成结果
type Response struct {
	// Payload 文本内容，或图片 URL / base64 数据
	Payload string
	// Model Provider 实际使用的模型（可能与请求不同）
	Model string
	// Seed Provider 回传的随机种子（如果有）
	Seed *int64
}

// Client Provider 客户端接口
type Client interface {
	// Name 返回 Provider 标识（openai、anthropic、gemini）
	Name() string
	// Configure 幂等地替换凭证
	Configure(apiKey string)
	// Generate 发送一次请求；失败时返回 *TransientError 或 *FatalError
	Generate(ctx context.Context, req *Request) (*Response, error)
}
