package server

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// ConnState tracks the state of a connection.
type ConnState int

const (
	ConnLogin     ConnState = iota // Pre-login: awaiting connect
	ConnConnected                  // Logged in as a member
)

// Descriptor represents a single client connection. Outgoing lines go
// through a buffered writer goroutine so a slow client never stalls the
// dispatch path; when the buffer fills, lines are dropped.
type Descriptor struct {
	ID       int
	Conn     net.Conn
	State    ConnState
	Name     string // member name once connected
	Display  string // display name; defaults to Name
	World    string // current world label
	Addr     string
	ConnTime time.Time
	LastCmd  time.Time

	mu     sync.Mutex
	out    chan string
	closed bool
}

// NewDescriptor wraps a net.Conn into a Descriptor and starts its writer.
func NewDescriptor(id int, conn net.Conn) *Descriptor {
	now := time.Now()
	d := &Descriptor{
		ID:       id,
		Conn:     conn,
		State:    ConnLogin,
		World:    "world",
		Addr:     conn.RemoteAddr().String(),
		ConnTime: now,
		LastCmd:  now,
		out:      make(chan string, 64),
	}
	go d.writeLoop()
	return d
}

// Send queues one line for the client.
func (d *Descriptor) Send(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.out <- msg:
	default:
		log.Printf("[%d] send buffer full, line dropped", d.ID)
	}
}

func (d *Descriptor) writeLoop() {
	for msg := range d.out {
		if _, err := fmt.Fprintf(d.Conn, "%s\r\n", msg); err != nil {
			d.Close()
			// Drain remaining lines so senders never block.
			for range d.out {
			}
			return
		}
	}
}

// Close shuts the connection down and stops the writer.
func (d *Descriptor) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.out)
	d.mu.Unlock()
	d.Conn.Close()
}

// IsClosed reports whether the descriptor has been closed.
func (d *Descriptor) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
