package handler

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/apperr"
	"github.com/KodaTao/linguachat/conversation"
	"github.com/KodaTao/linguachat/model"
	"github.com/KodaTao/linguachat/prompt"
	"github.com/KodaTao/linguachat/ratelimit"
	"github.com/KodaTao/linguachat/store"
)

// Sessions 管理每个学习者的会话，断线重连后复用同一个 Controller
type Sessions struct {
	registry *store.Registry
	gw       Converser
	limiter  ratelimit.Limiter
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions(registry *store.Registry, gw Converser, limiter ratelimit.Limiter, log *zap.Logger) *Sessions {
	return &Sessions{
		registry: registry,
		gw:       gw,
		limiter:  limiter,
		log:      log.With(zap.String("component", "session")),
		sessions: make(map[string]*Session),
	}
}

// Open returns the learner's session, creating it on first use.
func (s *Sessions) Open(ctx context.Context, learner string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[learner]; ok {
		sess.conns++
		return sess, nil
	}

	st, err := s.registry.Open(ctx, learner)
	if err != nil {
		return nil, err
	}

	// 限流 key 由每个连接的客户端地址决定，见 Peer.clientKey
	opts := []conversation.Option{conversation.WithLogger(s.log)}
	if s.limiter != nil {
		opts = append(opts, conversation.WithLimiter(s.limiter, ratelimit.UnknownClient))
	}

	sess := &Session{
		learner: learner,
		owner:   s,
		store:   st,
		ctrl:    conversation.New(st, s.gw, opts...),
		log:     s.log.With(zap.String("learner", learner)),
	}
	sess.unsubscribe = st.Subscribe(sess.forward)
	sess.conns = 1
	s.sessions[learner] = sess
	return sess, nil
}

// Close gives back a session obtained from Open.
func (s *Sessions) Close(sess *Session) {
	s.mu.Lock()
	sess.conns--
	s.mu.Unlock()
	s.release(sess)
}

// release 在没有连接和进行中的回合时丢弃会话
func (s *Sessions) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.mu.Lock()
	idle := sess.conns <= 0 && sess.pending == 0
	sess.mu.Unlock()
	if !idle || s.sessions[sess.learner] != sess {
		return
	}

	delete(s.sessions, sess.learner)
	sess.unsubscribe()
	s.registry.Release(sess.learner)
	s.log.Debug("session released", zap.String("learner", sess.learner))
}

// Len 返回当前保留的会话数
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Session 将 WebSocket 指令分发给 Controller，并把状态变更推送给当前连接
type Session struct {
	learner     string
	owner       *Sessions
	store       *store.Store
	ctrl        *conversation.Controller
	log         *zap.Logger
	unsubscribe func()

	conns int // Open 未 Close 的次数，由 Sessions.mu 保护

	mu      sync.Mutex
	peer    *Peer
	pending int // 尚未结束的 CMD_SEND_MESSAGE
}

func (s *Session) Controller() *conversation.Controller { return s.ctrl }

// Attach makes p the connection that receives this session's events and
// sends it the current state.
func (s *Session) Attach(p *Peer) (detach func()) {
	s.mu.Lock()
	s.peer = p
	s.mu.Unlock()

	s.push(p, event("EVENT_STATE", s.store.View()))

	return func() {
		s.mu.Lock()
		if s.peer == p {
			s.peer = nil
		}
		s.mu.Unlock()
	}
}

func (s *Session) current() *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *Session) push(p *Peer, msg *WSMessage) {
	if p == nil {
		return
	}
	if err := p.write(msg); err != nil {
		s.log.Debug("push event failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// forward 把 store 事件转换成推送事件
func (s *Session) forward(ev store.Event) {
	p := s.current()
	if p == nil {
		return
	}

	switch ev.Kind {
	case store.EventMessage:
		s.push(p, event("EVENT_MESSAGE", ev.Message))
	case store.EventTyping:
		s.push(p, event("EVENT_TYPING", map[string]bool{"isTyping": ev.Typing}))
	case store.EventCorrection, store.EventCorrectionsPanel:
		s.push(p, event("EVENT_CORRECTIONS", map[string]any{
			"corrections":          s.store.Corrections(),
			"isCorrectionsVisible": s.store.CorrectionsVisible(),
		}))
	case store.EventVocabulary:
		s.push(p, event("EVENT_VOCABULARY", map[string]any{
			"vocabulary": s.store.Vocabulary(),
			"stats":      s.store.VocabularyStats(),
		}))
	case store.EventHistory:
		s.push(p, event("EVENT_HISTORY", map[string]any{
			"history": s.store.History(),
			"summary": s.store.HistorySummary(),
		}))
	default:
		s.push(p, event("EVENT_STATE", s.store.View()))
	}
}

type selectPayload struct {
	Language   *string `json:"language"`
	Difficulty *string `json:"difficulty"`
	ScenarioID *string `json:"scenarioId"`
}

type sendPayload struct {
	Content string `json:"content"`
}

// Handle 执行一条指令，结果以 EVENT_REPLY / EVENT_ERROR 回复给指令 ID
func (s *Session) Handle(p *Peer, msg *WSMessage) {
	switch msg.Type {
	case "PING":
		s.push(p, &WSMessage{Type: "PONG", ReplyTo: msg.ID})

	case "CMD_SELECT":
		var in selectPayload
		if err := decodePayload(msg, &in); err != nil {
			s.fail(p, msg, err)
			return
		}
		if err := s.applySelection(in); err != nil {
			s.fail(p, msg, err)
			return
		}
		s.reply(p, msg, s.store.Selections())

	case "CMD_START":
		if err := s.ctrl.Begin(); err != nil {
			s.fail(p, msg, err)
			return
		}
		s.reply(p, msg, s.store.View())

	case "CMD_GREET":
		m, err := s.ctrl.Greet()
		if err != nil {
			s.fail(p, msg, err)
			return
		}
		s.reply(p, msg, m)

	case "CMD_SEND_MESSAGE":
		var in sendPayload
		if err := decodePayload(msg, &in); err != nil {
			s.fail(p, msg, err)
			return
		}
		// 回合可能耗时较长，不阻塞读循环
		s.mu.Lock()
		s.pending++
		s.mu.Unlock()
		go s.send(p, msg, in.Content)

	case "CMD_END":
		entry, saved, err := s.ctrl.End()
		if err != nil {
			s.fail(p, msg, err)
			return
		}
		if !saved {
			s.reply(p, msg, map[string]any{"saved": false})
			return
		}
		s.reply(p, msg, map[string]any{"saved": true, "conversation": entry})

	case "CMD_CLEAR":
		if err := s.ctrl.Clear(); err != nil {
			s.fail(p, msg, err)
			return
		}
		s.reply(p, msg, nil)

	case "CMD_RESET":
		if err := s.ctrl.Reset(); err != nil {
			s.fail(p, msg, err)
			return
		}
		s.reply(p, msg, nil)

	case "CMD_TOGGLE_CORRECTIONS":
		visible := s.store.ToggleCorrections()
		s.reply(p, msg, map[string]bool{"isCorrectionsVisible": visible})

	default:
		s.fail(p, msg, apperr.Validation("unknown command: "+msg.Type))
	}
}

func (s *Session) send(p *Peer, msg *WSMessage, content string) {
	defer func() {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
		s.owner.release(s)
	}()

	ctx, cancel := context.WithCancel(ratelimit.WithClientKey(context.Background(), p.clientKey))
	defer cancel()
	go func() {
		select {
		case <-p.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	m, err := s.ctrl.Send(ctx, content)
	if err != nil {
		s.fail(p, msg, err)
		return
	}
	s.reply(p, msg, m)
}

func (s *Session) applySelection(in selectPayload) error {
	if in.Difficulty != nil && !model.Difficulty(*in.Difficulty).Valid() {
		return apperr.Validation("Invalid difficulty level")
	}
	var sc model.Scenario
	if in.ScenarioID != nil {
		var ok bool
		if sc, ok = prompt.ScenarioByID(*in.ScenarioID); !ok {
			return apperr.Validation("Unknown scenario")
		}
	}

	if in.Language != nil {
		s.store.SetLanguage(*in.Language)
	}
	if in.Difficulty != nil {
		s.store.SetDifficulty(model.Difficulty(*in.Difficulty))
	}
	if in.ScenarioID != nil {
		s.store.SetScenario(sc)
	}
	return nil
}

func (s *Session) reply(p *Peer, req *WSMessage, v any) {
	msg := event("EVENT_REPLY", v)
	msg.ReplyTo = req.ID
	s.push(p, msg)
}

func (s *Session) fail(p *Peer, req *WSMessage, err error) {
	msg := event("EVENT_ERROR", map[string]string{
		"error": apperr.Message(err),
		"kind":  apperr.KindOf(err).String(),
	})
	msg.ReplyTo = req.ID
	s.push(p, msg)
}

func decodePayload(msg *WSMessage, v any) error {
	if len(msg.Payload) == 0 {
		return apperr.Validation("payload is required")
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return apperr.Validation("invalid payload")
	}
	return nil
}

func event(typ string, v any) *WSMessage {
	msg := &WSMessage{Type: typ}
	if v != nil {
		msg.Payload, _ = json.Marshal(v)
	}
	return msg
}
