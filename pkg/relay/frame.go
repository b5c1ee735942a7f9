// Package relay moves chat and join notifications between backend chat
// routers and a coordinating proxy over a binary frame protocol: UTF-8
// strings, each prefixed by a 2-byte unsigned big-endian length.
package relay

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// Sub-channel tags carried in broadcast frames.
const (
	SubChat       = "CHAT"
	SubJoinNotice = "JOIN_NOTICE"
)

// Named wire channels. Every message starts with its wire-channel tag so a
// receiver can route the remainder to the right decoder.
const (
	WireBroadcast = "chat:broadcast"
	WireChannel   = "chat:channel"
)

const maxStringLen = 0xFFFF

// writeUTF appends one length-prefixed UTF-8 string.
func writeUTF(buf *bytes.Buffer, s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("relay: string too long (%d bytes)", len(s))
	}
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
	return nil
}

// readUTF consumes one length-prefixed string. A length running past the
// buffer end or invalid UTF-8 is a malformed frame.
func readUTF(r *bytes.Reader) (string, error) {
	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return "", fmt.Errorf("relay: short frame: %w", err)
	}
	n := int(binary.BigEndian.Uint16(lenBytes[:]))
	if n > r.Len() {
		return "", fmt.Errorf("relay: string length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("relay: short frame: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("relay: invalid UTF-8 in frame string")
	}
	return string(b), nil
}

// BroadcastFrame carries presence and broadcast chat between processes:
// a sub-channel tag, the originating member, and for CHAT a payload.
type BroadcastFrame struct {
	Sub     string
	Member  string
	Payload string
}

// Encode serializes the frame. JOIN_NOTICE omits the payload string.
func (f *BroadcastFrame) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeUTF(&buf, f.Sub); err != nil {
		return nil, err
	}
	if err := writeUTF(&buf, f.Member); err != nil {
		return nil, err
	}
	if f.Sub != SubJoinNotice {
		if err := writeUTF(&buf, f.Payload); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeBroadcastFrame parses a broadcast frame. The payload string is
// optional; JOIN_NOTICE frames stop after the member name.
func DecodeBroadcastFrame(data []byte) (*BroadcastFrame, error) {
	r := bytes.NewReader(data)
	sub, err := readUTF(r)
	if err != nil {
		return nil, err
	}
	name, err := readUTF(r)
	if err != nil {
		return nil, err
	}
	f := &BroadcastFrame{Sub: sub, Member: name}
	if r.Len() > 0 {
		payload, err := readUTF(r)
		if err != nil {
			return nil, err
		}
		f.Payload = payload
	}
	return f, nil
}

// ChannelFrame is the point-to-point channel relay frame: channel name,
// sender, chat text, an optional line-format tag (empty = no special
// format), and the originating server name.
type ChannelFrame struct {
	Channel    string
	Sender     string
	Message    string
	LineFormat string
	Server     string
}

// Encode serializes the frame as five length-prefixed strings.
func (f *ChannelFrame) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range []string{f.Channel, f.Sender, f.Message, f.LineFormat, f.Server} {
		if err := writeUTF(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeChannelFrame parses a channel frame. Older senders omit the server
// name, so four or five strings are accepted.
func DecodeChannelFrame(data []byte) (*ChannelFrame, error) {
	r := bytes.NewReader(data)
	fields := make([]string, 0, 5)
	for len(fields) < 5 && r.Len() > 0 {
		s, err := readUTF(r)
		if err != nil {
			return nil, err
		}
		fields = append(fields, s)
	}
	if len(fields) < 4 {
		return nil, fmt.Errorf("relay: channel frame has %d strings, want 4 or 5", len(fields))
	}
	f := &ChannelFrame{
		Channel:    fields[0],
		Sender:     fields[1],
		Message:    fields[2],
		LineFormat: fields[3],
	}
	if len(fields) == 5 {
		f.Server = fields[4]
	}
	return f, nil
}

// EncodeMessage wraps a frame body with its wire-channel tag.
func EncodeMessage(wire string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeUTF(&buf, wire); err != nil {
		return nil, err
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeMessage splits a wire message into its channel tag and frame body.
func DecodeMessage(data []byte) (wire string, body []byte, err error) {
	r := bytes.NewReader(data)
	wire, err = readUTF(r)
	if err != nil {
		return "", nil, err
	}
	body = make([]byte, r.Len())
	r.Read(body)
	return wire, body, nil
}
