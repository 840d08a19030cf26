package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/config"
	"github.com/KodaTao/linguachat/ratelimit"
)

// WebSocket 消息结构
type WSMessage struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Peer 表示一个学习者的 WebSocket 连接
type Peer struct {
	learner   string
	clientKey string // 限流 key，取自 X-Forwarded-For
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.Mutex
	closed    bool
	done      chan struct{}
}

func (p *Peer) Learner() string { return p.learner }

func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
		close(p.done)
		p.conn.Close()
	}
}

// Done is closed when the connection goes away.
func (p *Peer) Done() <-chan struct{} { return p.done }

var (
	ErrNoClient       = &HubError{"learner not connected"}
	ErrSendBufferFull = &HubError{"send buffer full"}
)

type HubError struct {
	msg string
}

func (e *HubError) Error() string { return e.msg }

// Hub 管理每个学习者的 WebSocket 连接，同一学习者的新连接会替换旧连接
type Hub struct {
	mu       sync.RWMutex
	peers    map[string]*Peer
	cfg      *config.WebSocketConfig
	sessions *Sessions
	log      *zap.Logger
}

func NewHub(cfg *config.WebSocketConfig, sessions *Sessions, log *zap.Logger) *Hub {
	return &Hub{
		peers:    make(map[string]*Peer),
		cfg:      cfg,
		sessions: sessions,
		log:      log.With(zap.String("component", "ws")),
	}
}

// Peer 获取学习者当前的连接
func (h *Hub) Peer(learner string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[learner]
}

// Send 向学习者推送消息
func (h *Hub) Send(learner string, msg *WSMessage) error {
	peer := h.Peer(learner)
	if peer == nil {
		return ErrNoClient
	}
	return peer.write(msg)
}

func (p *Peer) write(msg *WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrNoClient
	}

	select {
	case p.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

type wsQuery struct {
	Learner string `form:"learner" binding:"required,max=64,printascii"`
}

// HandleWS 处理 WebSocket 连接请求
func (h *Hub) HandleWS(c *gin.Context) {
	var q wsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "learner query parameter is required", "kind": "validation"})
		return
	}

	session, err := h.sessions.Open(c.Request.Context(), q.Learner)
	if err != nil {
		h.log.Error("open learner session failed", zap.String("learner", q.Learner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load learner state", "kind": "provider"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		h.sessions.Close(session)
		return
	}

	peer := &Peer{
		learner:   q.Learner,
		clientKey: ratelimit.KeyFromForwarded(c.GetHeader("X-Forwarded-For")),
		conn:      conn,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}

	// 替换旧连接
	h.mu.Lock()
	if old := h.peers[q.Learner]; old != nil {
		h.log.Info("replacing old connection", zap.String("learner", q.Learner))
		old.Close()
	}
	h.peers[q.Learner] = peer
	h.mu.Unlock()

	h.log.Info("learner connected", zap.String("learner", q.Learner))

	detach := session.Attach(peer)
	go h.writePump(peer)
	go h.pingPump(peer)
	h.readPump(peer, session)
	detach()
	h.sessions.Close(session)
}

// readPump 持续读取学习者发来的指令
func (h *Hub) readPump(peer *Peer, session *Session) {
	defer func() {
		h.mu.Lock()
		if h.peers[peer.learner] == peer {
			delete(h.peers, peer.learner)
		}
		h.mu.Unlock()
		peer.Close()
		h.log.Info("learner disconnected", zap.String("learner", peer.learner))
	}()

	pongTimeout := time.Duration(h.cfg.PongTimeout) * time.Second
	pingInterval := time.Duration(h.cfg.PingInterval) * time.Second

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug("invalid message", zap.Error(err))
			continue
		}

		// 收到任何消息都刷新读超时（证明连接活跃）
		peer.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

		// PONG 消息不需要处理
		if msg.Type == "PONG" {
			continue
		}

		session.Handle(peer, &msg)
	}
}

// writePump 将消息写入 WebSocket 连接
func (h *Hub) writePump(peer *Peer) {
	for data := range peer.send {
		peer.mu.Lock()
		if peer.closed {
			peer.mu.Unlock()
			return
		}
		err := peer.conn.WriteMessage(websocket.TextMessage, data)
		peer.mu.Unlock()

		if err != nil {
			h.log.Debug("write error", zap.Error(err))
			return
		}
	}
}

// pingPump 定期发送应用层 PING 心跳
// 客户端收到后回复应用层 PONG（JSON 文本），由 readPump 刷新读超时
func (h *Hub) pingPump(peer *Peer) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-peer.done:
			return
		case <-ticker.C:
		}

		if err := peer.write(&WSMessage{Type: "PING"}); err != nil {
			h.log.Debug("ping failed", zap.Error(err))
			return
		}
	}
}
