package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// DefaultTimeout 默认单次请求超时时间（生成类请求较慢）
	DefaultTimeout = 120 * time.Second

	// UserAgent InsightRelay 的 User-Agent
	UserAgent = "InsightRelay/1.0"

	// maxResponseSize 响应体最大读取字节数（base64 图片可能较大）
	maxResponseSize = 32 << 20
)

// ClientConfig 客户端配置
type ClientConfig struct {
	APIKey   string
	BaseURL  string
	ProxyURL string
	Timeout  time.Duration
}

// BaseClient 提供通用的 Provider HTTP 功能
// 包含凭证管理、代理、JSON 请求发送和错误分类
type BaseClient struct {
	name    string
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu     sync.RWMutex
	apiKey string
}

// NewBaseClient 创建 BaseClient 实例
func NewBaseClient(name, defaultBaseURL string, cfg ClientConfig) (*BaseClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient, err := CreateHTTPClient(cfg.ProxyURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client for %s: %w", name, err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &BaseClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		now:     time.Now,
		apiKey:  cfg.APIKey,
	}, nil
}

// Name 返回 Provider 标识
func (b *BaseClient) Name() string { return b.name }

// Configure 替换凭证（幂等）
func (b *BaseClient) Configure(apiKey string) {
	b.mu.Lock()
	b.apiKey = apiKey
	b.mu.Unlock()
}

// credential 返回本次请求使用的 API Key（请求级覆盖优先）
func (b *BaseClient) credential(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	b.mu.RLock()
	key := b.apiKey
	b.mu.RUnlock()
	if key == "" {
		return "", &FatalError{Provider: b.name, Reason: ReasonInvalidCredentials, Message: "api key is not configured"}
	}
	return key, nil
}

// endpoint 拼接完整 URL
func (b *BaseClient) endpoint(path string) string {
	return b.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// DoJSON 发送 JSON POST 请求并解析响应
// 非 2xx 响应经 ClassifyHTTPError 转换为 *TransientError / *FatalError
func (b *BaseClient) DoJSON(ctx context.Context, path string, headers map[string]string, reqBody, respBody interface{}) error {
	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return &FatalError{Provider: b.name, Reason: ReasonMalformedRequest, Message: "failed to marshal request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(path), bytes.NewReader(reqData))
	if err != nil {
		return &FatalError{Provider: b.name, Reason: ReasonMalformedRequest, Message: "failed to create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return ClassifyTransportError(b.name, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ClassifyTransportError(b.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyHTTPError(b.name, resp.StatusCode, resp.Header, respData, b.now())
	}

	if respBody != nil {
		if err := json.Unmarshal(respData, respBody); err != nil {
			// 网关偶尔返回截断的 200 响应，按可重试处理
			return &TransientError{Provider: b.name, StatusCode: resp.StatusCode, Message: "failed to parse response", Err: err}
		}
	}

	return nil
}

// CreateHTTPClient 创建支持代理的 HTTP 客户端
// 支持 SOCKS5 和 HTTP/HTTPS 代理
func CreateHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		switch parsed.Scheme {
		case "socks5", "socks5h":
			dialer, err := createSOCKS5Dialer(parsed)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}

		case "http", "https":
			transport.Proxy = http.ProxyURL(parsed)

		default:
			return nil, fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, http, https)", parsed.Scheme)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// createSOCKS5Dialer 创建 SOCKS5 代理 dialer
func createSOCKS5Dialer(parsed *url.URL) (proxy.Dialer, error) {
	var auth *proxy.Auth
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = &proxy.Auth{
			User:     parsed.User.Username(),
			Password: password,
		}
	}

	host := parsed.Host
	if !strings.Contains(host, ":") {
		host += ":1080" // SOCKS5 默认端口
	}

	return proxy.SOCKS5("tcp", host, auth, proxy.Direct)
}
