package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"aimian/internal/apperr"
	"aimian/internal/config"
	"aimian/internal/metrics"
)

// Message 为一条发给大模型的消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System 构造 system 角色消息。
func System(content string) Message { return Message{Role: "system", Content: content} }

// User 构造 user 角色消息。
func User(content string) Message { return Message{Role: "user", Content: content} }

// Client 是单次同步对话能力的最小抽象。
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Service 包装具体客户端：未配置与调用失败统一映射为上游错误，
// 并记录调用耗时指标。
type Service struct {
	client   Client
	provider string
	model    string
	logger   *slog.Logger
}

// NewService 根据配置挑选供应商客户端；provider 为空时返回未配置的 Service，
// 调用时才会报错，保证应用能在无模型配置下启动。
func NewService(cfg config.LLMConfig, logger *slog.Logger) *Service {
	provider, apiKey, baseURL, model := cfg.Resolve()
	svc := &Service{provider: provider, model: model, logger: logger}
	switch provider {
	case "deepseek", "qwen":
		svc.client = newChatClient(apiKey, baseURL, model)
	}
	return svc
}

// NewServiceWithClient 注入现成客户端，测试用。
func NewServiceWithClient(client Client, provider, model string, logger *slog.Logger) *Service {
	return &Service{client: client, provider: provider, model: model, logger: logger}
}

// Provider 返回当前供应商标识。
func (s *Service) Provider() string { return s.provider }

// Model 返回当前模型名。
func (s *Service) Model() string { return s.model }

// Configured 报告是否存在可用的模型客户端。
func (s *Service) Configured() bool { return s.client != nil }

// Chat 调用大模型并返回文本结果。
// 未配置 -> KindUpstream；调用失败 -> KindUpstream；空白结果 -> KindUpstreamEmpty。
func (s *Service) Chat(ctx context.Context, messages []Message) (string, error) {
	if s.client == nil {
		return "", apperr.New(apperr.KindUpstream, "LLM 未配置")
	}

	start := time.Now()
	text, err := s.client.Chat(ctx, messages)
	metrics.ObserveLLMCall(s.provider, err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("LLM 调用失败",
			slog.String("provider", s.provider),
			slog.String("model", s.model),
			slog.Any("error", err),
		)
		return "", apperr.Wrap(apperr.KindUpstream, err, "LLM 调用失败")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.KindUpstreamEmpty, "LLM 返回空内容")
	}
	return text, nil
}
