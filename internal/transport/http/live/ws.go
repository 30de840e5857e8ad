package livehttp

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradehub/internal/event"
	"tradehub/internal/logger"
	"tradehub/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub 把总线上的全部事件扇出给 websocket 客户端。
// 每个客户端有独立的有界缓冲，写满即断开，不会拖慢事件分发。
type Hub struct {
	events EventSource
	sub    event.Subscription

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	prefixes []string
	once     sync.Once
}

func NewHub(events EventSource) *Hub {
	h := &Hub{events: events, clients: make(map[*wsClient]struct{})}
	h.sub = events.SubscribeGeneral(h.broadcast)
	return h
}

func (h *Hub) broadcast(evt event.Event) error {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	frame := wireEvent{ID: evt.ID, Type: evt.Type, Time: evt.CreatedAt.UnixMilli(), Payload: evt.Payload}
	if evt.Payload != nil {
		frame.Kind = evt.Payload.Kind()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(evt.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			logger.Warnf("[ws] client %s too slow, dropping", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
	return nil
}

// ServeWS 升级连接。?types=order.,trade. 只推送这些前缀的事件类型。
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debugf("[ws] upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, sendBufferSize)}
	for _, p := range strings.Split(c.Query("types"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			client.prefixes = append(client.prefixes, p)
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	metrics.WSClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	go client.writePump()
	go h.readPump(client)
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 取消订阅并断开所有客户端。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	h.events.UnsubscribeGeneral(h.sub)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.WSClients.Set(float64(len(h.clients)))
	c.once.Do(func() { close(c.send) })
}

func (c *wsClient) wants(typ string) bool {
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

// readPump 只处理 pong 与关闭帧。
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debugf("[ws] read error: %v", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
