// Package wsfeed bridges the snapshot cache to websocket consumers:
// it serializes the active slots to JSON at a fixed cadence and pushes
// the frame to every connected socket. Read-only over the cache; slow
// sockets drop frames rather than stall the ticker.
package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peter-kozarec/feedsim/pkg/cache"
)

const clientQueueSize = 4

// SymbolFrame is one symbol's entry in the pushed JSON payload.
type SymbolFrame struct {
	SymbolID    uint16  `json:"symbol_id"`
	BestBid     float64 `json:"best_bid"`
	BestAsk     float64 `json:"best_ask"`
	BidQuantity uint32  `json:"bid_qty"`
	AskQuantity uint32  `json:"ask_qty"`
	LastPrice   float64 `json:"last_price"`
	LastQty     uint32  `json:"last_qty"`
	UpdateCount uint64  `json:"update_count"`
}

// Frame is the full payload pushed on every interval.
type Frame struct {
	Timestamp int64         `json:"ts"`
	Symbols   []SymbolFrame `json:"symbols"`
}

// Hub upgrades HTTP connections and fans frames out to them.
type Hub struct {
	logger   *zap.Logger
	cache    *cache.Cache
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewHub(logger *zap.Logger, c *cache.Cache, interval time.Duration) *Hub {
	return &Hub{
		logger:   logger,
		cache:    c,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the connection and starts its write pump.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan []byte, clientQueueSize)
	h.mu.Lock()
	h.clients[conn] = send
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("ws_clients", n))

	go h.writePump(conn, send)
	go h.readPump(conn)
}

func (h *Hub) writePump(conn *websocket.Conn, send chan []byte) {
	for payload := range send {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(conn)
			return
		}
	}
	_ = conn.Close()
}

// readPump discards inbound frames and notices the close handshake.
func (h *Hub) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	send, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()

	if ok {
		_ = conn.Close()
		h.logger.Info("ws client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}
}

// Run pushes frames until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.push()
		}
	}
}

func (h *Hub) push() {
	h.mu.Lock()
	empty := len(h.clients) == 0
	h.mu.Unlock()
	if empty {
		return
	}

	payload, err := json.Marshal(h.frame())
	if err != nil {
		h.logger.Warn("frame marshal failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	for _, send := range h.clients {
		select {
		case send <- payload:
		default: // drop frame for slow socket
		}
	}
	h.mu.Unlock()
}

// frame snapshots every active symbol. No atomicity across slots is
// promised, the same as any batch snapshot read.
func (h *Hub) frame() Frame {
	f := Frame{Timestamp: time.Now().UnixNano()}

	for i := 0; i < h.cache.NumSymbols(); i++ {
		snap := h.cache.Snapshot(uint16(i))
		if snap.UpdateCount == 0 {
			continue
		}
		f.Symbols = append(f.Symbols, SymbolFrame{
			SymbolID:    uint16(i),
			BestBid:     snap.BestBid,
			BestAsk:     snap.BestAsk,
			BidQuantity: snap.BidQuantity,
			AskQuantity: snap.AskQuantity,
			LastPrice:   snap.LastTradedPrice,
			LastQty:     snap.LastTradedQuantity,
			UpdateCount: snap.UpdateCount,
		})
	}
	return f
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		close(send)
		delete(h.clients, conn)
	}
}

// Listen serves the hub on addr until ctx is cancelled.
func (h *Hub) Listen(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/stream", h)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info("ws bridge listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
