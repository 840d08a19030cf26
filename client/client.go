// Package client talks to a running tutor server. It satisfies the same
// Converse contract as the direct model gateway, so the CLI can drive a
// conversation against either.
package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/KodaTao/linguachat/apperr"
	"github.com/KodaTao/linguachat/model"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages   []model.ChatTurn `json:"messages"`
	Language   string           `json:"language"`
	Difficulty model.Difficulty `json:"difficulty"`
	Scenario   *model.Scenario  `json:"scenario"`
}

type Client struct {
	http *resty.Client
	log  *zap.Logger
}

// New builds a client for the server at baseURL. apiKey is optional.
func New(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "client"))

	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	if apiKey != "" {
		hc.SetAuthToken(apiKey)
	}
	hc.AddResponseMiddleware(func(_ *resty.Client, r *resty.Response) error {
		log.Debug("tutor server request",
			zap.String("method", r.Request.Method),
			zap.String("url", r.Request.URL),
			zap.Int("status", r.StatusCode()),
			zap.Duration("latency", r.Duration()),
		)
		return nil
	})

	return &Client{http: hc, log: log}
}

func (c *Client) Close() error {
	return c.http.Close()
}

// Converse posts the transcript and selections and returns the raw reply
// stream. Server error bodies are mapped back to their apperr kind.
func (c *Client) Converse(ctx context.Context, req model.ConverseRequest) (io.ReadCloser, error) {
	body := ChatRequest{
		Messages:   req.Messages,
		Language:   req.Selections.Language,
		Difficulty: req.Selections.Difficulty,
		Scenario:   req.Selections.Scenario,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetDoNotParseResponse(true).
		Post("/api/chat")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Provider("The tutor took too long to respond. Please try again.", err)
		}
		return nil, apperr.Provider("Could not reach the tutor server. Please try again.", err)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, apperr.Provider("The tutor server sent an empty response.", nil)
	}
	if resp.IsError() {
		defer resp.RawResponse.Body.Close()
		return nil, errorFromBody(resp.StatusCode(), resp.RawResponse.Body)
	}
	return resp.RawResponse.Body, nil
}

// Scenarios fetches the server's scenario catalog.
func (c *Client) Scenarios(ctx context.Context) ([]model.Scenario, error) {
	var out []model.Scenario
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/scenarios")
	if err != nil {
		return nil, apperr.Provider("Could not reach the tutor server. Please try again.", err)
	}
	if resp.IsError() {
		return nil, errorFromBytes(resp.StatusCode(), resp.Bytes())
	}
	return out, nil
}

func errorFromBody(status int, body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return apperr.Provider(http.StatusText(status), err)
	}
	return errorFromBytes(status, data)
}

// errorFromBytes 解析 {error, kind} 错误体
func errorFromBytes(status int, data []byte) error {
	msg := gjson.GetBytes(data, "error").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	kind := apperr.ParseKind(gjson.GetBytes(data, "kind").String())
	switch status {
	case http.StatusTooManyRequests:
		kind = apperr.KindRateLimit
	case http.StatusBadRequest:
		kind = apperr.KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = apperr.KindConfiguration
	}
	return &apperr.Error{Kind: kind, Message: msg}
}
