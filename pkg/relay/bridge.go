package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives decoded frames from the proxy.
type Handler interface {
	OnChannelChat(channel, sender, message, lineFormat, server string)
	OnJoinNotice(memberName string)
}

// Counters is the subset of metrics instrumentation the relay reports to.
// A nil Counters is a no-op.
type Counters interface {
	RelayFrameIn()
	RelayFrameOut()
	RelayFrameMalformed()
}

// Bridge is the backend side of the relay: one persistent websocket to the
// proxy, reconnecting with backoff when it drops.
type Bridge struct {
	url        string
	secret     string
	serverName string
	handler    Handler
	counters   Counters

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge builds a bridge. Start must be called to connect.
func NewBridge(url, secret, serverName string, handler Handler, counters Counters) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		url:        url,
		secret:     secret,
		serverName: serverName,
		handler:    handler,
		counters:   counters,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the connect/read loop until Close. Blocks; run in a goroutine.
func (b *Bridge) Start() {
	defer close(b.done)
	backoff := time.Second
	for {
		if b.ctx.Err() != nil {
			return
		}
		conn, err := b.dial()
		if err != nil {
			log.Printf("relay: connect %s: %v (retrying in %v)", b.url, err, backoff)
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		log.Printf("relay: connected to proxy at %s", b.url)

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		b.readLoop(conn)

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		conn.Close()
	}
}

// Close shuts the bridge down and waits for the loop to exit.
func (b *Bridge) Close() {
	b.cancel()
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bridge) dial() (*websocket.Conn, error) {
	token, err := IssueToken(b.secret, b.serverName)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(b.ctx, b.url, header)
	return conn, err
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if b.ctx.Err() == nil {
				log.Printf("relay: read: %v", err)
			}
			return
		}
		b.dispatch(data)
	}
}

// dispatch decodes one wire message. Malformed frames are logged and
// dropped; they never take the connection down.
func (b *Bridge) dispatch(data []byte) {
	wire, body, err := DecodeMessage(data)
	if err != nil {
		log.Printf("relay: malformed message: %v", err)
		if b.counters != nil {
			b.counters.RelayFrameMalformed()
		}
		return
	}
	switch wire {
	case WireChannel:
		f, err := DecodeChannelFrame(body)
		if err != nil {
			log.Printf("relay: malformed channel frame: %v", err)
			if b.counters != nil {
				b.counters.RelayFrameMalformed()
			}
			return
		}
		// Frames echo back to every backend; skip our own.
		if f.Server == b.serverName {
			return
		}
		if b.counters != nil {
			b.counters.RelayFrameIn()
		}
		b.handler.OnChannelChat(f.Channel, f.Sender, f.Message, f.LineFormat, f.Server)
	case WireBroadcast:
		f, err := DecodeBroadcastFrame(body)
		if err != nil {
			log.Printf("relay: malformed broadcast frame: %v", err)
			if b.counters != nil {
				b.counters.RelayFrameMalformed()
			}
			return
		}
		if b.counters != nil {
			b.counters.RelayFrameIn()
		}
		switch f.Sub {
		case SubJoinNotice:
			b.handler.OnJoinNotice(f.Member)
		case SubChat:
			b.handler.OnChannelChat("", f.Member, f.Payload, "", "")
		default:
			log.Printf("relay: unknown sub-channel %q", f.Sub)
		}
	default:
		log.Printf("relay: unknown wire channel %q", wire)
	}
}

// SendChannelChat emits a channel frame toward the proxy. Implements the
// registry's relay sender.
func (b *Bridge) SendChannelChat(channel, sender, message, lineFormat string) {
	f := &ChannelFrame{
		Channel:    channel,
		Sender:     sender,
		Message:    message,
		LineFormat: lineFormat,
		Server:     b.serverName,
	}
	body, err := f.Encode()
	if err != nil {
		log.Printf("relay: encode: %v", err)
		return
	}
	b.send(WireChannel, body)
}

// SendJoinNotice announces a member connect to the proxy.
func (b *Bridge) SendJoinNotice(memberName string) {
	f := &BroadcastFrame{Sub: SubJoinNotice, Member: memberName}
	body, err := f.Encode()
	if err != nil {
		log.Printf("relay: encode: %v", err)
		return
	}
	b.send(WireBroadcast, body)
}

func (b *Bridge) send(wire string, body []byte) {
	msg, err := EncodeMessage(wire, body)
	if err != nil {
		log.Printf("relay: encode: %v", err)
		return
	}

	b.mu.Lock()
	conn := b.conn
	var werr error
	if conn != nil {
		werr = conn.WriteMessage(websocket.BinaryMessage, msg)
	}
	b.mu.Unlock()

	if conn == nil {
		log.Printf("relay: not connected, frame dropped")
		return
	}
	if werr != nil {
		log.Printf("relay: write: %v", werr)
		return
	}
	if b.counters != nil {
		b.counters.RelayFrameOut()
	}
}
