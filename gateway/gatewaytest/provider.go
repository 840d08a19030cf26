// Package gatewaytest runs a fake OpenAI-compatible chat completions server
// for tests.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OpenAI 兼容请求/响应结构

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int          `json:"index"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

// Reply 描述一次假回复：要么是 SSE 分片，要么是错误状态码
type Reply struct {
	Chunks []string
	Status int
	Body   string
	Delay  time.Duration
}

type Provider struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []ChatRequest
	respond  func(ChatRequest) Reply
}

// New starts a provider whose replies are computed by respond.
func New(respond func(ChatRequest) Reply) *Provider {
	gin.SetMode(gin.TestMode)

	p := &Provider{respond: respond}
	r := gin.New()
	r.POST("/v1/chat/completions", p.handle)
	p.Server = httptest.NewServer(r)
	return p
}

// Chunks always streams the same pieces.
func Chunks(chunks ...string) func(ChatRequest) Reply {
	return func(ChatRequest) Reply { return Reply{Chunks: chunks} }
}

// Status always fails with the given code and an OpenAI style error body.
func Status(code int, message string) func(ChatRequest) Reply {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
	return func(ChatRequest) Reply { return Reply{Status: code, Body: string(body)} }
}

// URL is the base URL to hand to the openai client.
func (p *Provider) URL() string {
	return p.Server.URL + "/v1/"
}

func (p *Provider) Close() {
	p.Server.Close()
}

func (p *Provider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) handle(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	reply := p.respond(req)
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-c.Request.Context().Done():
			return
		}
	}

	if reply.Status != 0 && reply.Status != http.StatusOK {
		c.Data(reply.Status, "application/json", []byte(reply.Body))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "streaming not supported"}})
		return
	}

	id := fmt.Sprintf("chatcmpl-%s", uuid.New().String())
	chunk := func(delta *ChatMessage, finish *string) ChatResponse {
		return ChatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	writeSSE(c.Writer, flusher, chunk(&ChatMessage{Role: "assistant"}, nil))
	for _, text := range reply.Chunks {
		writeSSE(c.Writer, flusher, chunk(&ChatMessage{Content: text}, nil))
	}
	stop := "stop"
	writeSSE(c.Writer, flusher, chunk(&ChatMessage{}, &stop))

	fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
