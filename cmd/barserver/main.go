// cmd/barserver is a staging WebSocket feed. It broadcasts simulated trade
// and quote frames so ylined can run without a broker connection.
//
// Frame JSON shape is ingest.Frame:
//
//	{"security":{"ticker":"AAPL","market":"NYSE"},"tick":{"side":"LAST","price":101500,"size":10,"tick_ts":"..."}}
//
// Config (env vars):
//
//	BAR_SERVER_ADDR   listen address (default ":9001")
//	BAR_SECURITIES    comma-separated MARKET:TICKER pairs (default "NYSE:AAPL")
//	BAR_INTERVAL_MS   broadcast interval in milliseconds (default "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"putup-system/config"
	"putup-system/internal/ingest"
	"putup-system/internal/model"
)

// instrument holds per-security simulation state.
type instrument struct {
	Security model.Security
	Price    model.Price
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop the frame
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[barserver] upgrade error: %v", err)
			return
		}
		log.Printf("[barserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[barserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// walkPrice applies a small random walk (at most 0.1%) with a tick-size floor.
func walkPrice(rng *rand.Rand, price model.Price) model.Price {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price + model.Price(float64(price)*pct)
	if next < 10 {
		next = 10
	}
	return next
}

func frame(sec model.Security, side model.TickSide, price model.Price, size int64, at time.Time) ([]byte, error) {
	return json.Marshal(ingest.Frame{
		Security: sec,
		Tick: &model.Tick{
			Security: sec,
			Side:     side,
			Price:    price,
			Size:     size,
			TickTS:   at,
		},
	})
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	spread := model.Price(10)

	for now := range ticker.C {
		for i := range instruments {
			in := &instruments[i]
			in.Price = walkPrice(rng, in.Price)

			if b, err := frame(in.Security, model.SideLast, in.Price, int64(rng.Intn(100)+1), now.UTC()); err == nil {
				h.broadcast(b)
			}
			// a quote update roughly every fourth trade
			if rng.Intn(4) == 0 {
				if b, err := frame(in.Security, model.SideBid, in.Price-spread, 100, now.UTC()); err == nil {
					h.broadcast(b)
				}
				if b, err := frame(in.Security, model.SideAsk, in.Price+spread, 100, now.UTC()); err == nil {
					h.broadcast(b)
				}
			}
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[barserver] starting staging feed...")

	addr := envOrDefault("BAR_SERVER_ADDR", ":9001")
	intervalMs := envIntOrDefault("BAR_INTERVAL_MS", 250)

	var instruments []instrument
	for _, pc := range config.ParsePutups(envOrDefault("BAR_SECURITIES", "NYSE:AAPL")) {
		instruments = append(instruments, instrument{Security: pc.Security, Price: model.PriceOf(100)})
	}
	if len(instruments) == 0 {
		log.Fatalf("[barserver] no securities configured via BAR_SECURITIES")
	}
	log.Printf("[barserver] securities: %d, interval: %dms", len(instruments), intervalMs)

	h := newHub()
	go runGenerator(h, instruments, time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"barserver"}`)
	})

	log.Printf("[barserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[barserver] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
