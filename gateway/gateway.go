// Package gateway talks to the language model provider and hands the reply
// back as a plain byte stream.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/apperr"
	"github.com/KodaTao/linguachat/config"
	"github.com/KodaTao/linguachat/model"
)

// 构建期占位密钥，运行时视为未配置
var placeholderKeys = map[string]bool{
	"sk-placeholder-for-build": true,
	"your-openai-api-key":      true,
	"changeme":                 true,
}

type Gateway struct {
	client      openai.Client
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	log         *zap.Logger
}

func New(cfg config.ProviderConfig, log *zap.Logger) *Gateway {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Gateway{
		client:      openai.NewClient(opts...),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.TimeoutDuration(),
		log:         log.With(zap.String("component", "gateway")),
	}
}

// Ready reports a configuration error when the credential is missing or a
// known placeholder. No network call is made.
func (g *Gateway) Ready() error {
	if g.apiKey == "" || placeholderKeys[g.apiKey] {
		return apperr.ErrNotConfigured
	}
	return nil
}

// Converse streams the tutor's reply for req. Errors raised before the first
// chunk are returned directly; failures after that surface from Read.
func (g *Gateway) Converse(ctx context.Context, req model.ConverseRequest) (io.ReadCloser, error) {
	if err := g.Ready(); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    chatMessages(req),
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	stream := g.client.Chat.Completions.NewStreaming(ctx, params)

	// 先取第一个 chunk，鉴权、配额等错误在这里同步返回
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		cancel()
		if err != nil {
			g.log.Warn("provider call failed", zap.Error(err))
			return nil, normalize(err)
		}
		return io.NopCloser(strings.NewReader("")), nil
	}

	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		defer stream.Close()

		for more := true; more; more = stream.Next() {
			for _, choice := range stream.Current().Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if _, err := io.WriteString(pw, choice.Delta.Content); err != nil {
					// 读端已关闭
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			g.log.Warn("provider stream interrupted", zap.Error(err))
			pw.CloseWithError(normalize(err))
			return
		}
		pw.Close()
	}()

	return &replyStream{PipeReader: pr, cancel: cancel}, nil
}

// replyStream cancels the provider call when the reader goes away early.
type replyStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *replyStream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}

func chatMessages(req model.ConverseRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	msgs = append(msgs, openai.SystemMessage(req.Instruction))
	for _, turn := range req.Messages {
		switch turn.Role {
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		default:
			msgs = append(msgs, openai.UserMessage(turn.Content))
		}
	}
	return msgs
}

func normalize(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Provider("The tutor took too long to respond. Please try again.", err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.Configuration("OpenAI API configuration error. Please check your API key.", err)
		case http.StatusTooManyRequests:
			return apperr.Provider("The tutor is busy right now. Please try again shortly.", err)
		}
	}
	return apperr.Provider("An error occurred while processing your message. Please try again.", err)
}
