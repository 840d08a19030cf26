package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/apperr"
	"github.com/KodaTao/linguachat/model"
	"github.com/KodaTao/linguachat/prompt"
	"github.com/KodaTao/linguachat/ratelimit"
)

// Converser streams the tutor's raw reply for one turn.
type Converser interface {
	Converse(ctx context.Context, req model.ConverseRequest) (io.ReadCloser, error)
}

// readiness is implemented by gateways that can tell up front whether they
// are configured.
type readiness interface {
	Ready() error
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages   []ChatMessage   `json:"messages" binding:"required,min=1,dive"`
	Language   string          `json:"language" binding:"required"`
	Difficulty string          `json:"difficulty" binding:"required"`
	Scenario   *model.Scenario `json:"scenario" binding:"required"`
}

type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// ChatHandler 处理 /api/chat 请求
var ErrEmptyContent = apperr.Validation("Message content cannot be empty")

type ChatHandler struct {
	gw      Converser
	limiter ratelimit.Limiter
	log     *zap.Logger
}

func NewChatHandler(gw Converser, limiter ratelimit.Limiter, log *zap.Logger) *ChatHandler {
	return &ChatHandler{gw: gw, limiter: limiter, log: log.With(zap.String("component", "chat"))}
}

func (h *ChatHandler) Handle(c *gin.Context) {
	// 先检查配置，再限流，最后校验请求体
	if r, ok := h.gw.(readiness); ok {
		if err := r.Ready(); err != nil {
			writeError(c, h.log, err)
			return
		}
	}

	key := ratelimit.KeyFromForwarded(c.GetHeader("X-Forwarded-For"))
	if h.limiter != nil && !h.limiter.Allow(c.Request.Context(), key) {
		writeError(c, h.log, apperr.ErrTooManyRequests)
		return
	}

	req, err := bindChatRequest(c)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	turns := make([]model.ChatTurn, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := Sanitize(m.Content)
		// 只含标签或空白的消息清洗后为空
		if content == "" {
			writeError(c, h.log, ErrEmptyContent)
			return
		}
		turns = append(turns, model.ChatTurn{Role: model.Role(m.Role), Content: content})
	}
	sel := model.Selections{Language: req.Language, Difficulty: model.Difficulty(req.Difficulty), Scenario: req.Scenario}

	stream, err := h.gw.Converse(c.Request.Context(), model.ConverseRequest{
		Instruction: prompt.Build(sel.Language, sel.Difficulty, *sel.Scenario),
		Selections:  sel,
		Messages:    turns,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer stream.Close()

	h.streamText(c, stream)
}

func bindChatRequest(c *gin.Context) (*ChatRequest, error) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, apperr.Validation("Missing required fields: messages, language, difficulty, or scenario")
	}
	if !model.Difficulty(req.Difficulty).Valid() {
		return nil, apperr.Validation("Invalid difficulty level")
	}
	sc, ok := resolveScenario(req.Scenario)
	if !ok {
		return nil, apperr.Validation("Unknown scenario")
	}
	req.Scenario = &sc
	return &req, nil
}

// resolveScenario accepts a full scenario or a catalog id.
func resolveScenario(in *model.Scenario) (model.Scenario, bool) {
	if in.SystemPromptContext != "" {
		if in.Title == "" {
			if known, ok := prompt.ScenarioByID(in.ID); ok {
				in.Title = known.Title
			}
		}
		return *in, true
	}
	return prompt.ScenarioByID(in.ID)
}

// streamText 按读取到的字节块逐段写出并刷新
func (h *ChatHandler) streamText(c *gin.Context, stream io.Reader) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 1024)
	written := 0
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				h.log.Debug("client went away", zap.Error(werr))
				return
			}
			written += n
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			h.log.Debug("reply streamed", zap.Int("bytes", written))
			return
		}
		if err != nil {
			h.log.Warn("reply stream interrupted", zap.Int("bytes", written), zap.Error(err))
			return
		}
	}
}

// writeError renders err as {error, kind} with the status for its kind.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Stringer("kind", kind), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Stringer("kind", kind), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": apperr.Message(err),
		"kind":  kind.String(),
	})
}
