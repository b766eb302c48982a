// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"dropflow/internal/pkg/bootstrap"
	"dropflow/internal/pkg/logger"
	"dropflow/internal/pkg/mq"
	"dropflow/internal/pkg/session"
	"dropflow/internal/service/fulfillment/infrastructure/adapter"
)

const (
	serviceName = "push-gateway"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 维护运营端的 WebSocket 订阅：按订阅的 orderId 路由状态更新，
// 未指定 orderId 的连接收到全量流。
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast 把一条状态更新分发给相关订阅者；发不动的慢连接直接断开。
func (h *Hub) broadcast(orderID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.orderID != "" && c.orderID != orderID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			go h.remove(c)
		}
	}
}

// Client 是一条运营端 WebSocket 连接。
type Client struct {
	id      string
	orderID string // 为空表示订阅全量流
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	mgr     *session.Manager
	nodeID  string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		_ = c.mgr.Remove(context.Background(), c.id)
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		_ = c.mgr.Refresh(context.Background(), c.id)
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, mgr *session.Manager, nodeID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &Client{
		id:      uuid.New().String(),
		orderID: r.URL.Query().Get("orderId"),
		conn:    conn,
		send:    make(chan []byte, 64),
		hub:     hub,
		mgr:     mgr,
		nodeID:  nodeID,
	}
	if err := mgr.Register(r.Context(), client.id, nodeID); err != nil {
		zlog.Error().Err(err).Msg("failed to register session")
		conn.Close()
		return
	}
	hub.add(client)
	zlog.Info().Str("client_id", client.id).Str("order_id", client.orderID).Msg("watcher connected")

	go client.writePump()
	go client.readPump()
}

// consumeStatus 消费状态广播主题并推给订阅者。
func consumeStatus(ctx context.Context, brokers []string, nodeID string, hub *Hub) {
	reader := mq.NewKafkaReader(brokers, mq.TopicOrderStatus, serviceName+"-"+nodeID)
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zlog.Error().Err(err).Msg("failed to fetch status update")
			continue
		}
		var update adapter.StatusUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			zlog.Error().Err(err).Msg("dropping undecodable status update")
		} else {
			hub.broadcast(update.OrderID, msg.Value)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			zlog.Error().Err(err).Msg("failed to commit offset")
		}
	}
}

func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()
	port, _ := strconv.Atoi(bootstrap.GetEnv("PORT", "8088"))

	nodeID := serviceName + "-" + uuid.New().String()[:8]
	mgr := session.NewManager(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	defer mgr.Close()

	hub := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumeStatus(ctx, cfg.Infra.Kafka.Brokers, nodeID, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, mgr, nodeID, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}
	go func() {
		zlog.Info().Str("node_id", nodeID).Int("port", port).Msg("push gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
