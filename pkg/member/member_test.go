package member

import (
	"path/filepath"
	"testing"
)

// mockHost is a canned Host for player tests.
type mockHost struct {
	online  map[string]bool
	sent    map[string][]string
	display map[string]string
}

func newMockHost() *mockHost {
	return &mockHost{
		online:  make(map[string]bool),
		sent:    make(map[string][]string),
		display: make(map[string]string),
	}
}

func (h *mockHost) IsOnline(name string) bool { return h.online[name] }
func (h *mockHost) Send(name, msg string)     { h.sent[name] = append(h.sent[name], msg) }
func (h *mockHost) DisplayName(name string) string {
	return h.display[name]
}
func (h *mockHost) HasPermission(name, node string) bool { return false }
func (h *mockHost) WorldName(name string) string         { return "world" }
func (h *mockHost) ServerName() string                   { return "test" }

func TestPlayerIdentityThroughCache(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "uuid.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	u, err := cache.Register("alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u == "" {
		t.Fatal("Register returned empty uuid")
	}

	// Registering again keeps the same uuid.
	u2, err := cache.Register("alice")
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if u2 != u {
		t.Errorf("re-register minted a new uuid: %s vs %s", u2, u)
	}

	host := newMockHost()
	p := NewPlayer("alice", cache, host)
	if p.ID() != "$"+u {
		t.Errorf("ID = %q, want $%s", p.ID(), u)
	}

	// The stored ID resolves back to the name.
	back := PlayerFromID(p.ID(), cache, host)
	if back.Name() != "alice" {
		t.Errorf("PlayerFromID name = %q, want alice", back.Name())
	}
	if !Equals(p, back) {
		t.Errorf("same identity should compare equal")
	}
}

func TestPlayerWithoutCacheUsesName(t *testing.T) {
	p := NewPlayer("bob", nil, nil)
	if p.ID() != "bob" {
		t.Errorf("ID = %q, want bob", p.ID())
	}
	if p.IsOnline() {
		t.Errorf("player with no host cannot be online")
	}
}

func TestPlayerDelegatesToHost(t *testing.T) {
	host := newMockHost()
	host.online["carol"] = true
	host.display["carol"] = "~Carol~"

	p := NewPlayer("carol", nil, host)
	if !p.IsOnline() {
		t.Errorf("IsOnline should delegate to host")
	}
	if p.DisplayName() != "~Carol~" {
		t.Errorf("DisplayName = %q", p.DisplayName())
	}
	p.SendMessage("hi")
	if len(host.sent["carol"]) != 1 {
		t.Errorf("SendMessage not delegated: %v", host.sent)
	}
}

func TestEqualsIsByID(t *testing.T) {
	a := NewPlayer("dave", nil, nil)
	b := NewPlayer("dave", nil, nil)
	if !Equals(a, b) {
		t.Errorf("same name without cache should share an ID")
	}
	if Equals(a, Console{}) {
		t.Errorf("player and console must not compare equal")
	}
	if !Equals(Console{}, Console{}) {
		t.Errorf("console is a single identity")
	}
}

func TestRemoteMember(t *testing.T) {
	r := NewRemote("web-1", "WebUser", SourceWeb)
	if !r.IsOnline() {
		t.Errorf("remote members are always online")
	}
	if r.ChatSource() != SourceWeb {
		t.Errorf("ChatSource = %v", r.ChatSource())
	}
	if SourceByTag("discord") != SourceDiscord {
		t.Errorf("SourceByTag(discord) mismatch")
	}
	if SourceByTag("weird") != SourceOther {
		t.Errorf("unknown tags map to other")
	}
}
