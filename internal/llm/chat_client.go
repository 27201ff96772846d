package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// chatClient 通过 OpenAI 兼容的 /chat/completions 接口访问 DeepSeek/Qwen。
// 两家供应商的请求与响应线格式一致，仅 base URL 与模型名不同。
type chatClient struct {
	http  *resty.Client
	model string
}

func newChatClient(apiKey, baseURL, model string) *chatClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(apiKey).
		SetTimeout(120 * time.Second)
	return &chatClient{http: client, model: model}
}

func (c *chatClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.model == "" {
		return "", fmt.Errorf("llm model is not configured")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model":    c.model,
			"messages": messages,
		}).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completions request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completions status %d: %s", resp.StatusCode(), resp.String())
	}

	body := resp.String()
	if apiErr := gjson.Get(body, "error.message"); apiErr.Exists() {
		return "", fmt.Errorf("chat completions api error: %s", apiErr.String())
	}

	content := gjson.Get(body, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("unexpected chat completions response: %s", body)
	}
	return content.String(), nil
}
