package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KodaTao/linguachat/config"
)

func setupTestHub(t *testing.T, gw *fakeGateway, pingInterval int) (*testEnv, *httptest.Server) {
	t.Helper()
	env := setupRouter(t, gw, func(c *config.Config) {
		c.WebSocket = config.WebSocketConfig{PingInterval: pingInterval, PongTimeout: 5}
	})
	return env, httptest.NewServer(env.router)
}

func dialWS(t *testing.T, server *httptest.Server, learner string) *websocket.Conn {
	t.Helper()
	return dialWSFrom(t, server, learner, "")
}

// dialWSFrom 以指定的 X-Forwarded-For 建立连接
func dialWSFrom(t *testing.T, server *httptest.Server, learner, forwardedFor string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?learner=" + learner
	header := http.Header{}
	if forwardedFor != "" {
		header.Set("X-Forwarded-For", forwardedFor)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial ws failed: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

// readUntil 跳过其他事件，直到收到满足条件的消息
func readUntil(t *testing.T, conn *websocket.Conn, match func(WSMessage) bool) (WSMessage, []WSMessage) {
	t.Helper()
	var seen []WSMessage
	for i := 0; i < 50; i++ {
		msg := readMsg(t, conn)
		if match(msg) {
			return msg, seen
		}
		seen = append(seen, msg)
	}
	t.Fatal("expected message never arrived")
	return WSMessage{}, nil
}

func replyTo(id string) func(WSMessage) bool {
	return func(m WSMessage) bool {
		return m.ReplyTo == id && (m.Type == "EVENT_REPLY" || m.Type == "EVENT_ERROR")
	}
}

func sendCmd(t *testing.T, conn *websocket.Conn, id, typ string, payload any) {
	t.Helper()
	msg := WSMessage{ID: id, Type: typ}
	if payload != nil {
		msg.Payload, _ = json.Marshal(payload)
	}
	data, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write message failed: %v", err)
	}
}

func selectRestaurant(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendCmd(t, conn, "sel", "CMD_SELECT", map[string]string{
		"language": "es", "difficulty": "beginner", "scenarioId": "restaurant",
	})
	if reply, _ := readUntil(t, conn, replyTo("sel")); reply.Type != "EVENT_REPLY" {
		t.Fatalf("select failed: %s", reply.Payload)
	}
}

func TestWSRequiresLearner(t *testing.T) {
	env := setupRouter(t, &fakeGateway{}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/ws", nil)
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestWSConnectionSendsState(t *testing.T) {
	env, server := setupTestHub(t, &fakeGateway{}, 60)
	defer server.Close()

	conn := dialWS(t, server, "ana")
	defer conn.Close()

	msg := readMsg(t, conn)
	if msg.Type != "EVENT_STATE" {
		t.Fatalf("expected EVENT_STATE first, got %s", msg.Type)
	}
	var state struct {
		IsCorrectionsVisible bool `json:"isCorrectionsVisible"`
	}
	json.Unmarshal(msg.Payload, &state)
	if !state.IsCorrectionsVisible {
		t.Error("corrections panel should default to visible")
	}
	if env.hub.Peer("ana") == nil {
		t.Error("expected learner to be connected")
	}
}

func TestWSConversationTurn(t *testing.T) {
	gw := &fakeGateway{reply: `{"message":"¿Qué desea?","corrections":[{"original":"un mesa","corrected":"una mesa","explanation":"feminine","category":"grammar"}],"vocabulary":[{"word":"mesa","translation":"table","context":"una mesa"}]}`}
	env, server := setupTestHub(t, gw, 60)
	defer server.Close()

	conn := dialWS(t, server, "ana")
	defer conn.Close()

	selectRestaurant(t, conn)

	sendCmd(t, conn, "start", "CMD_START", nil)
	_, events := readUntil(t, conn, replyTo("start"))
	if !hasEvent(events, "EVENT_MESSAGE") {
		t.Error("start should push the greeting")
	}

	sendCmd(t, conn, "m1", "CMD_SEND_MESSAGE", map[string]string{"content": "Quiero un mesa"})
	reply, events := readUntil(t, conn, replyTo("m1"))
	if reply.Type != "EVENT_REPLY" {
		t.Fatalf("send failed: %s", reply.Payload)
	}
	for _, typ := range []string{"EVENT_MESSAGE", "EVENT_TYPING", "EVENT_CORRECTIONS", "EVENT_VOCABULARY"} {
		if !hasEvent(events, typ) {
			t.Errorf("expected %s before the reply", typ)
		}
	}

	var assistant struct {
		Role        string            `json:"role"`
		Content     string            `json:"content"`
		Corrections []json.RawMessage `json:"corrections"`
	}
	json.Unmarshal(reply.Payload, &assistant)
	if assistant.Role != "assistant" || assistant.Content != "¿Qué desea?" || len(assistant.Corrections) != 1 {
		t.Errorf("unexpected reply payload: %s", reply.Payload)
	}

	st, _ := env.registry.Open(t.Context(), "ana")
	if n := st.MessageCount(); n != 3 {
		t.Errorf("expected greeting + user + assistant, got %d messages", n)
	}
	if len(st.Vocabulary()) != 1 {
		t.Error("expected vocabulary to be recorded")
	}
}

func TestWSSendWithoutSelections(t *testing.T) {
	_, server := setupTestHub(t, &fakeGateway{reply: "ok"}, 60)
	defer server.Close()

	conn := dialWS(t, server, "ben")
	defer conn.Close()

	sendCmd(t, conn, "m1", "CMD_SEND_MESSAGE", map[string]string{"content": "hola"})
	reply, _ := readUntil(t, conn, replyTo("m1"))
	if reply.Type != "EVENT_ERROR" {
		t.Fatalf("expected EVENT_ERROR, got %s", reply.Type)
	}
	var body map[string]string
	json.Unmarshal(reply.Payload, &body)
	if body["kind"] != "validation" {
		t.Errorf("expected kind validation, got %s", body["kind"])
	}
}

func TestWSInvalidSelection(t *testing.T) {
	_, server := setupTestHub(t, &fakeGateway{}, 60)
	defer server.Close()

	conn := dialWS(t, server, "ben")
	defer conn.Close()

	sendCmd(t, conn, "sel", "CMD_SELECT", map[string]string{"scenarioId": "moon"})
	if reply, _ := readUntil(t, conn, replyTo("sel")); reply.Type != "EVENT_ERROR" {
		t.Errorf("expected EVENT_ERROR for unknown scenario, got %s", reply.Type)
	}

	sendCmd(t, conn, "unk", "CMD_FLY", nil)
	if reply, _ := readUntil(t, conn, replyTo("unk")); reply.Type != "EVENT_ERROR" {
		t.Errorf("expected EVENT_ERROR for unknown command, got %s", reply.Type)
	}
}

func TestWSEndArchivesConversation(t *testing.T) {
	env, server := setupTestHub(t, &fakeGateway{reply: "Muy bien."}, 60)
	defer server.Close()

	conn := dialWS(t, server, "cora")
	defer conn.Close()

	selectRestaurant(t, conn)
	sendCmd(t, conn, "m1", "CMD_SEND_MESSAGE", map[string]string{"content": "hola"})
	readUntil(t, conn, replyTo("m1"))

	sendCmd(t, conn, "end", "CMD_END", nil)
	reply, events := readUntil(t, conn, replyTo("end"))
	var body struct {
		Saved bool `json:"saved"`
	}
	json.Unmarshal(reply.Payload, &body)
	if !body.Saved {
		t.Errorf("expected the conversation to be archived: %s", reply.Payload)
	}
	if !hasEvent(events, "EVENT_HISTORY") {
		t.Error("expected EVENT_HISTORY")
	}

	st, _ := env.registry.Open(t.Context(), "cora")
	if len(st.History()) != 1 || st.MessageCount() != 0 {
		t.Errorf("expected 1 archived conversation and an empty live one")
	}
}

func TestWSToggleCorrections(t *testing.T) {
	_, server := setupTestHub(t, &fakeGateway{}, 60)
	defer server.Close()

	conn := dialWS(t, server, "dan")
	defer conn.Close()

	sendCmd(t, conn, "t1", "CMD_TOGGLE_CORRECTIONS", nil)
	reply, _ := readUntil(t, conn, replyTo("t1"))
	var body map[string]bool
	json.Unmarshal(reply.Payload, &body)
	if body["isCorrectionsVisible"] {
		t.Error("expected the corrections panel to be hidden after a toggle")
	}
}

func TestPingPong(t *testing.T) {
	_, server := setupTestHub(t, &fakeGateway{}, 1)
	defer server.Close()

	conn := dialWS(t, server, "eve")
	defer conn.Close()

	// 等待收到 PING 消息（PingInterval=1s）
	msg, _ := readUntil(t, conn, func(m WSMessage) bool { return m.Type == "PING" })
	if msg.Type != "PING" {
		t.Errorf("expected PING, got %s", msg.Type)
	}

	// 回复 PONG
	pongData, _ := json.Marshal(WSMessage{Type: "PONG"})
	if err := conn.WriteMessage(websocket.TextMessage, pongData); err != nil {
		t.Fatalf("write pong failed: %v", err)
	}

	// 客户端主动 PING
	sendCmd(t, conn, "p1", "PING", nil)
	reply, _ := readUntil(t, conn, func(m WSMessage) bool { return m.Type == "PONG" })
	if reply.ReplyTo != "p1" {
		t.Errorf("expected PONG for p1, got %q", reply.ReplyTo)
	}
}

func TestSendNoClient(t *testing.T) {
	env := setupRouter(t, &fakeGateway{}, nil)

	err := env.hub.Send("nobody", &WSMessage{Type: "test"})
	if err != ErrNoClient {
		t.Errorf("expected ErrNoClient, got %v", err)
	}
}

func TestReplaceOldConnection(t *testing.T) {
	env, server := setupTestHub(t, &fakeGateway{}, 60)
	defer server.Close()

	// 第一个连接
	conn1 := dialWS(t, server, "fay")
	readMsg(t, conn1)

	// 同一学习者的第二个连接应替换第一个
	conn2 := dialWS(t, server, "fay")
	defer conn2.Close()
	readMsg(t, conn2)

	// conn1 应该已被关闭
	conn1.SetReadDeadline(time.Now().Add(1 * time.Second))
	if _, _, err := conn1.ReadMessage(); err == nil {
		t.Error("expected old connection to be closed")
	}

	// 新连接应该可以正常通信
	if err := env.hub.Send("fay", &WSMessage{Type: "test"}); err != nil {
		t.Errorf("send to new connection failed: %v", err)
	}
	if msg := readMsg(t, conn2); msg.Type != "test" {
		t.Errorf("expected test message, got %s", msg.Type)
	}
}

func errorKind(t *testing.T, msg WSMessage) string {
	t.Helper()
	if msg.Type != "EVENT_ERROR" {
		t.Fatalf("expected EVENT_ERROR, got %s: %s", msg.Type, msg.Payload)
	}
	var body map[string]string
	json.Unmarshal(msg.Payload, &body)
	return body["kind"]
}

func TestWSLifecycleCommandsWaitForPendingReply(t *testing.T) {
	gw := &fakeGateway{
		reply:   `{"message":"¿Qué desea?","corrections":[{"original":"un mesa","corrected":"una mesa","explanation":"feminine","category":"grammar"}],"vocabulary":[]}`,
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	env, server := setupTestHub(t, gw, 60)
	defer server.Close()

	conn := dialWS(t, server, "gil")
	defer conn.Close()
	selectRestaurant(t, conn)

	sendCmd(t, conn, "m1", "CMD_SEND_MESSAGE", map[string]string{"content": "Quiero un mesa"})
	select {
	case <-gw.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("the turn never reached the gateway")
	}

	for _, typ := range []string{"CMD_END", "CMD_CLEAR", "CMD_RESET"} {
		sendCmd(t, conn, typ, typ, nil)
		reply, _ := readUntil(t, conn, replyTo(typ))
		if kind := errorKind(t, reply); kind != "validation" {
			t.Errorf("%s while a reply is pending: expected kind validation, got %s", typ, kind)
		}
	}

	close(gw.gate)
	if reply, _ := readUntil(t, conn, replyTo("m1")); reply.Type != "EVENT_REPLY" {
		t.Fatalf("send failed: %s", reply.Payload)
	}

	st, _ := env.registry.Open(t.Context(), "gil")
	defer env.registry.Release("gil")
	msgs := st.Messages()
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("expected user + assistant in the live conversation, got %+v", msgs)
	}
	if len(st.History()) != 0 {
		t.Error("nothing should have been archived")
	}
	corrections := st.Corrections()
	if len(corrections) != 1 || corrections[0].MessageID != msgs[0].ID {
		t.Errorf("correction should point at the live user message %s, got %+v", msgs[0].ID, corrections)
	}

	// 回复结束后可以正常结束会话
	sendCmd(t, conn, "end", "CMD_END", nil)
	if reply, _ := readUntil(t, conn, replyTo("end")); reply.Type != "EVENT_REPLY" {
		t.Errorf("end after the reply failed: %s", reply.Payload)
	}
}

func TestWSRateLimitKeyedByClientAddress(t *testing.T) {
	gw := &fakeGateway{reply: "Muy bien."}
	env := setupRouter(t, gw, func(c *config.Config) {
		c.RateLimit.MaxRequests = 2
	})
	server := httptest.NewServer(env.router)
	defer server.Close()

	turn := func(learner, forwardedFor string) WSMessage {
		conn := dialWSFrom(t, server, learner, forwardedFor)
		defer conn.Close()
		selectRestaurant(t, conn)
		sendCmd(t, conn, "m1", "CMD_SEND_MESSAGE", map[string]string{"content": "hola"})
		reply, _ := readUntil(t, conn, replyTo("m1"))
		return reply
	}

	// 同一地址轮换学习者 ID 不能绕过限流
	for _, learner := range []string{"l1", "l2"} {
		if reply := turn(learner, "203.0.113.9, 10.0.0.1"); reply.Type != "EVENT_REPLY" {
			t.Fatalf("turn for %s should be allowed: %s", learner, reply.Payload)
		}
	}
	if kind := errorKind(t, turn("l3", "203.0.113.9")); kind != "rate_limited" {
		t.Errorf("expected kind rate_limited, got %s", kind)
	}
	if n := len(gw.Requests()); n != 2 {
		t.Errorf("expected 2 gateway calls, got %d", n)
	}

	if reply := turn("l4", "198.51.100.4"); reply.Type != "EVENT_REPLY" {
		t.Errorf("another address has its own quota: %s", reply.Payload)
	}
}

func TestWSSessionReleasedOnDisconnect(t *testing.T) {
	env, server := setupTestHub(t, &fakeGateway{}, 60)
	defer server.Close()

	conn := dialWS(t, server, "hal")
	readMsg(t, conn)
	if n := env.hub.sessions.Len(); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for env.hub.sessions.Len() != 0 || len(env.registry.Learners()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not released: sessions=%d stores=%v", env.hub.sessions.Len(), env.registry.Learners())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func hasEvent(msgs []WSMessage, typ string) bool {
	for _, m := range msgs {
		if m.Type == typ {
			return true
		}
	}
	return false
}
