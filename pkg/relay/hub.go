package relay

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub is the proxy side of the relay: it accepts one websocket per backend,
// fans channel frames out to every other backend, and surfaces decoded
// frames to its own handler so the proxy can run its own registry.
type Hub struct {
	secret   string
	handler  Handler
	counters Counters
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*hubConn // server name -> connection
}

type hubConn struct {
	server string
	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
}

func (hc *hubConn) write(msg []byte) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// NewHub builds a hub. handler may be nil when the proxy only forwards.
func NewHub(secret string, handler Handler, counters Counters) *Hub {
	return &Hub{
		secret:  secret,
		handler: handler,
		counters: counters,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		conns: make(map[string]*hubConn),
	}
}

// Serve runs the hub's listener on addr. Blocks; run in a goroutine.
func (h *Hub) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /relay", h.handleRelay)
	log.Printf("relay: hub listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

// handleRelay upgrades one backend connection after verifying its token.
func (h *Hub) handleRelay(w http.ResponseWriter, r *http.Request) {
	server, err := h.authorize(r)
	if err != nil {
		log.Printf("relay: handshake rejected from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade: %v", err)
		return
	}

	hc := &hubConn{server: server, conn: conn}
	h.mu.Lock()
	if old, ok := h.conns[server]; ok {
		old.conn.Close()
	}
	h.conns[server] = hc
	h.mu.Unlock()
	log.Printf("relay: backend %s connected from %s", server, r.RemoteAddr)

	h.readLoop(hc)

	h.mu.Lock()
	if h.conns[server] == hc {
		delete(h.conns, server)
	}
	h.mu.Unlock()
	conn.Close()
	log.Printf("relay: backend %s disconnected", server)
}

func (h *Hub) authorize(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", fmt.Errorf("missing bearer token")
	}
	return VerifyToken(h.secret, strings.TrimPrefix(auth, "Bearer "))
}

func (h *Hub) readLoop(hc *hubConn) {
	for {
		_, data, err := hc.conn.ReadMessage()
		if err != nil {
			return
		}
		h.route(hc, data)
	}
}

// route decodes a message for the proxy's own handler and forwards the raw
// bytes to every other backend. Malformed frames are dropped before any
// forwarding so a bad backend cannot poison the others.
func (h *Hub) route(from *hubConn, data []byte) {
	wire, body, err := DecodeMessage(data)
	if err != nil {
		log.Printf("relay: malformed message from %s: %v", from.server, err)
		if h.counters != nil {
			h.counters.RelayFrameMalformed()
		}
		return
	}

	switch wire {
	case WireChannel:
		f, err := DecodeChannelFrame(body)
		if err != nil {
			log.Printf("relay: malformed channel frame from %s: %v", from.server, err)
			if h.counters != nil {
				h.counters.RelayFrameMalformed()
			}
			return
		}
		if h.counters != nil {
			h.counters.RelayFrameIn()
		}
		if h.handler != nil {
			h.handler.OnChannelChat(f.Channel, f.Sender, f.Message, f.LineFormat, f.Server)
		}
		h.fanOut(from, data)
	case WireBroadcast:
		f, err := DecodeBroadcastFrame(body)
		if err != nil {
			log.Printf("relay: malformed broadcast frame from %s: %v", from.server, err)
			if h.counters != nil {
				h.counters.RelayFrameMalformed()
			}
			return
		}
		if h.counters != nil {
			h.counters.RelayFrameIn()
		}
		if h.handler != nil {
			switch f.Sub {
			case SubJoinNotice:
				h.handler.OnJoinNotice(f.Member)
			case SubChat:
				h.handler.OnChannelChat("", f.Member, f.Payload, "", "")
			}
		}
		h.fanOut(from, data)
	default:
		log.Printf("relay: unknown wire channel %q from %s", wire, from.server)
	}
}

// fanOut copies a raw message to every backend except its origin.
func (h *Hub) fanOut(from *hubConn, data []byte) {
	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.conns))
	for _, hc := range h.conns {
		if hc != from {
			targets = append(targets, hc)
		}
	}
	h.mu.Unlock()

	for _, hc := range targets {
		if err := hc.write(data); err != nil {
			log.Printf("relay: forward to %s: %v", hc.server, err)
			continue
		}
		if h.counters != nil {
			h.counters.RelayFrameOut()
		}
	}
}

// Backends returns the names of currently connected backends.
func (h *Hub) Backends() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for name := range h.conns {
		out = append(out, name)
	}
	return out
}
