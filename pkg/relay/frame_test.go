package relay

import (
	"testing"
)

func TestChannelFrameRoundTrip(t *testing.T) {
	f := &ChannelFrame{
		Channel:    "dev",
		Sender:     "alice",
		Message:    "hello こんにちは",
		LineFormat: "",
		Server:     "lobby",
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeChannelFrame(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *got != *f {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestChannelFrameFourStringVariant(t *testing.T) {
	// Older senders omit the trailing server name.
	f := &ChannelFrame{Channel: "dev", Sender: "alice", Message: "hi", LineFormat: "&6[JP] %japanize"}
	full, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Strip the fifth (empty server) string: 2 length bytes.
	data := full[:len(full)-2]

	got, err := DecodeChannelFrame(data)
	if err != nil {
		t.Fatalf("Decode 4-string variant: %v", err)
	}
	if got.Channel != "dev" || got.LineFormat != "&6[JP] %japanize" || got.Server != "" {
		t.Errorf("4-string decode mismatch: %+v", got)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	f := &ChannelFrame{Channel: "dev", Sender: "alice", Message: "hello", Server: "lobby"}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Any truncation point must yield an error, never a panic, except
	// boundaries that happen to leave 4 well-formed strings.
	for i := 1; i < len(data); i++ {
		got, err := DecodeChannelFrame(data[:i])
		if err == nil && got == nil {
			t.Errorf("truncated at %d: nil frame with nil error", i)
		}
	}
}

func TestDecodeLengthPastEnd(t *testing.T) {
	// Declared length 0xFFFF with a 3-byte body.
	data := []byte{0xFF, 0xFF, 'a', 'b', 'c'}
	if _, err := DecodeChannelFrame(data); err == nil {
		t.Errorf("length past buffer end should be malformed")
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	data := []byte{0x00, 0x02, 0xFF, 0xFE}
	if _, err := DecodeBroadcastFrame(data); err == nil {
		t.Errorf("invalid UTF-8 should be malformed")
	}
}

func TestBroadcastFrameJoinNoticeOmitsPayload(t *testing.T) {
	f := &BroadcastFrame{Sub: SubJoinNotice, Member: "alice"}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// sub(2+11) + member(2+5)
	if len(data) != 2+len(SubJoinNotice)+2+len("alice") {
		t.Errorf("JOIN_NOTICE should omit the payload string, got %d bytes", len(data))
	}
	got, err := DecodeBroadcastFrame(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Sub != SubJoinNotice || got.Member != "alice" || got.Payload != "" {
		t.Errorf("decode mismatch: %+v", got)
	}
}

func TestBroadcastFrameChatRoundTrip(t *testing.T) {
	f := &BroadcastFrame{Sub: SubChat, Member: "alice", Payload: "hello"}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeBroadcastFrame(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *got != *f {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestMessageEnvelope(t *testing.T) {
	body := []byte{1, 2, 3}
	msg, err := EncodeMessage(WireChannel, body)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	wire, got, err := DecodeMessage(msg)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if wire != WireChannel || len(got) != 3 {
		t.Errorf("envelope mismatch: wire=%q body=%v", wire, got)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := IssueToken("sekrit", "lobby")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	server, err := VerifyToken("sekrit", token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if server != "lobby" {
		t.Errorf("server = %q, want lobby", server)
	}

	if _, err := VerifyToken("wrong", token); err == nil {
		t.Errorf("token verified with wrong secret")
	}
}
