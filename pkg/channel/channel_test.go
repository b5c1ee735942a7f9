package channel

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hikarimc/lanternchat/pkg/chatlog"
	"github.com/hikarimc/lanternchat/pkg/config"
	"github.com/hikarimc/lanternchat/pkg/member"
)

// testMember is an in-memory member that records messages sent to it.
// Delivery can happen off the dispatch goroutine, so the message log is
// guarded.
type testMember struct {
	id     string
	name   string
	online bool
	perms  map[string]bool
	world  string

	mu   sync.Mutex
	msgs []string
}

func newTestMember(id string) *testMember {
	return &testMember{id: id, name: id, online: true, world: "world"}
}

func (m *testMember) ID() string          { return m.id }
func (m *testMember) Name() string        { return m.name }
func (m *testMember) DisplayName() string { return m.name }
func (m *testMember) IsOnline() bool      { return m.online }
func (m *testMember) SendMessage(msg string) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
}

func (m *testMember) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}
func (m *testMember) HasPermission(node string) bool { return m.perms[node] }
func (m *testMember) WorldName() string              { return m.world }
func (m *testMember) ServerName() string             { return "test" }

// testPresence serves a fixed online population.
type testPresence struct {
	members []member.Member
}

func (p *testPresence) OnlineMembers() []member.Member { return p.members }
func (p *testPresence) OnlineCount() int               { return len(p.members) }

// testEnv holds a registry over a temp-dir store with a member pool the
// factory resolves IDs against.
type testEnv struct {
	reg  *Registry
	conf *config.Config
	pool map[string]*testMember
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conf := config.Default()
	conf.DataDir = t.TempDir()
	conf.Japanize = "none" // keep tests off the network
	conf.GlobalChannel = "global"

	store, err := NewStore(conf.DataDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	pool := make(map[string]*testMember)
	factory := func(id string) member.Member {
		if m, ok := pool[id]; ok {
			return m
		}
		m := newTestMember(id)
		pool[id] = m
		return m
	}

	reg, err := NewRegistry(conf, store, factory)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	// Drain the chat log writer goroutines before the TempDir cleanup
	// removes the data dir out from under them.
	t.Cleanup(func() {
		reg.logMu.Lock()
		loggers := make([]*chatlog.Logger, 0, len(reg.loggers))
		for _, l := range reg.loggers {
			loggers = append(loggers, l)
		}
		reg.logMu.Unlock()
		for _, l := range loggers {
			l.Close()
		}
	})
	return &testEnv{reg: reg, conf: conf, pool: pool}
}

func (e *testEnv) member(id string) *testMember {
	if m, ok := e.pool[id]; ok {
		return m
	}
	m := newTestMember(id)
	e.pool[id] = m
	return m
}

func TestAddMemberFirstBecomesModerator(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	if c == nil {
		t.Fatal("CreateChannel returned nil")
	}

	alice := env.member("alice")
	bob := env.member("bob")
	c.AddMember(alice)
	c.AddMember(bob)

	if !c.IsModerator(alice) {
		t.Errorf("first member should be auto-promoted to moderator")
	}
	if c.IsModerator(bob) {
		t.Errorf("second member should not be a moderator")
	}
	if got := c.TotalNum(); got != 2 {
		t.Errorf("TotalNum = %d, want 2", got)
	}

	// Idempotent add.
	c.AddMember(alice)
	if got := c.TotalNum(); got != 2 {
		t.Errorf("TotalNum after re-add = %d, want 2", got)
	}
}

func TestRemoveMemberClearsDefaultPointer(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	c.AddMember(alice)
	env.reg.SetDefaultChannel(alice, "dev")

	c.RemoveMember(alice)

	if got := env.reg.DefaultChannelName(alice); got != "" {
		t.Errorf("default pointer = %q, want cleared", got)
	}
}

func TestZeroMemberRemovePolicy(t *testing.T) {
	env := newTestEnv(t)
	env.conf.ZeroMemberRemove = true

	c := env.reg.CreateChannel("fleeting", nil)
	alice := env.member("alice")
	c.AddMember(alice)
	c.RemoveMember(alice)

	if env.reg.GetChannel("fleeting") != nil {
		t.Errorf("empty channel should be auto-removed under zero-member-remove")
	}
}

func TestRemoveChannelSendsBreakupMessage(t *testing.T) {
	env := newTestEnv(t)
	env.conf.BreakupMessage = "Channel %ch has been disbanded."
	env.conf.BreakupMessageColor = "&c"

	c := env.reg.CreateChannel("doomed", nil)
	alice := env.member("alice")
	c.ForceJoin(alice)

	if !env.reg.RemoveChannel("doomed", nil) {
		t.Fatal("RemoveChannel returned false")
	}
	found := false
	for _, msg := range alice.msgs {
		if strings.Contains(msg, "doomed") {
			found = true
			if !strings.HasPrefix(msg, "§c") {
				t.Errorf("disband notice missing configured color: %q", msg)
			}
		}
	}
	if !found {
		t.Errorf("member did not receive disband notice: %v", alice.msgs)
	}
	if env.reg.GetChannel("doomed") != nil {
		t.Errorf("channel still resolvable after removal")
	}
}

func TestGetChannelByAlias(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("development", nil)
	c.SetAlias("dev")

	if got := env.reg.GetChannel("DEV"); got != c {
		t.Errorf("alias lookup failed")
	}
	if got := env.reg.GetChannel("Development"); got != c {
		t.Errorf("case-insensitive name lookup failed")
	}
}

func TestCreateHookCanRenameAndCancel(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Hooks().OnCreate(func(name string, requester member.Member) Result {
		if name == "forbidden" {
			return Cancel()
		}
		if name == "old" {
			return Result{Channel: "new"}
		}
		return Proceed
	})

	if env.reg.CreateChannel("forbidden", nil) != nil {
		t.Errorf("cancelled creation should return nil")
	}
	c := env.reg.CreateChannel("old", nil)
	if c == nil || c.Name() != "new" {
		t.Errorf("hook rename not applied: %+v", c)
	}
	if env.reg.GetChannel("new") == nil {
		t.Errorf("renamed channel not indexed under new name")
	}
}

func TestReplaceKeywords(t *testing.T) {
	alice := newTestMember("alice")
	out := replaceKeywords("%username: %msg", formatContext{
		channelName: "dev",
		sender:      alice,
		now:         time.Now(),
	})
	if out != "alice: %msg" {
		t.Errorf("replaceKeywords = %q, want %q", out, "alice: %msg")
	}

	// Unknown placeholders pass through untouched.
	out = replaceKeywords("%ch %unknown", formatContext{
		channelName: "dev",
		sender:      alice,
		now:         time.Now(),
	})
	if out != "dev %unknown" {
		t.Errorf("unknown placeholder mangled: %q", out)
	}
}

func TestMaskNGWordsPreservesRuneLength(t *testing.T) {
	patterns := []*regexp.Regexp{
		regexp.MustCompile("badword"),
		regexp.MustCompile("ダメ"),
	}
	tests := []struct {
		in, want string
	}{
		{"say badword now", "say ******* now"},
		{"これはダメです", "これは**です"},
		{"clean text", "clean text"},
	}
	for _, tt := range tests {
		if got := MaskNGWords(tt.in, patterns); got != tt.want {
			t.Errorf("MaskNGWords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheckExpiresLiftsPastEntries(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	bob := env.member("bob")

	now := time.Now()
	c.Ban(alice, now.Add(-time.Minute))
	c.Mute(bob, now.Add(time.Hour))

	c.CheckExpires(now)

	if c.IsBanned(alice) {
		t.Errorf("expired ban not lifted")
	}
	if !c.IsMuted(bob) {
		t.Errorf("future mute lifted early")
	}
}

func TestMutedSenderRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	bob := env.member("bob")
	c.ForceJoin(alice)
	c.ForceJoin(bob)
	c.Mute(alice, time.Time{})

	c.Chat(alice, "hello")

	if len(bob.msgs) != 0 {
		t.Errorf("muted sender's chat was delivered: %v", bob.msgs)
	}
	if len(alice.msgs) == 0 {
		t.Errorf("muted sender got no rejection message")
	}
}

func TestChatDeliveryAndHideFiltering(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	bob := env.member("bob")
	carol := env.member("carol")
	c.ForceJoin(alice)
	c.ForceJoin(bob)
	c.ForceJoin(carol)

	env.reg.AddHide(carol, alice) // carol hides alice

	c.Chat(alice, "hello")

	if len(bob.msgs) != 1 || !strings.Contains(bob.msgs[0], "hello") {
		t.Errorf("bob did not receive the line: %v", bob.msgs)
	}
	if len(carol.msgs) != 0 {
		t.Errorf("carol hides alice but still received: %v", carol.msgs)
	}
}

func TestDispatcherMarkerRoutesGlobal(t *testing.T) {
	env := newTestEnv(t)
	alice := env.member("alice")
	env.reg.SetPresence(&testPresence{members: []member.Member{alice}})

	d := NewDispatcher(env.reg)
	d.ProcessChat(alice, "!hello world")

	if env.reg.GetChannel("global") == nil {
		t.Fatalf("global channel not created on first marker use")
	}
	if len(alice.msgs) != 1 || !strings.Contains(alice.msgs[0], "hello world") {
		t.Errorf("marker chat not delivered: %v", alice.msgs)
	}
	if got := env.reg.DefaultChannelName(alice); !strings.EqualFold(got, "global") {
		t.Errorf("default channel = %q, want global", got)
	}
}

func TestDispatcherQuickChatAsymmetry(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	bob := env.member("bob")
	c.ForceJoin(bob)

	d := NewDispatcher(env.reg)

	// Member: one-off dispatch works.
	d.ProcessChat(bob, "dev:ship it")
	if len(bob.msgs) != 1 || !strings.Contains(bob.msgs[0], "ship it") {
		t.Errorf("quick chat from member not delivered: %v", bob.msgs)
	}

	// Non-member of an existing channel: error, no delivery.
	d.ProcessChat(alice, "dev:hi there")
	if len(alice.msgs) != 1 || !strings.Contains(alice.msgs[0], "not a member") {
		t.Errorf("non-member quick chat should error to sender: %v", alice.msgs)
	}

	// Unresolvable token: silent fall-through, and with no default channel
	// the no-join-as-global policy routes to the global channel.
	env.reg.SetPresence(&testPresence{members: []member.Member{alice}})
	alice.msgs = nil
	d.ProcessChat(alice, "nosuch:text")
	if len(alice.msgs) != 1 || !strings.Contains(alice.msgs[0], "nosuch:text") {
		t.Errorf("unresolvable quick-chat token should fall through whole: %v", alice.msgs)
	}
}

func TestDispatcherSilentDropWithoutFallback(t *testing.T) {
	env := newTestEnv(t)
	env.conf.NoJoinAsGlobal = false
	alice := env.member("alice")

	d := NewDispatcher(env.reg)
	d.ProcessChat(alice, "into the void")

	if len(alice.msgs) != 0 {
		t.Errorf("silent drop should produce no feedback: %v", alice.msgs)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	c.ForceJoin(alice)
	c.SetDescription("dev talk")
	c.SetColorCode("&b")
	c.SetRelay(true)
	c.Ban(env.member("mallory"), time.Now().Add(time.Hour))

	if err := env.reg.ReloadAll(); err != nil {
		t.Fatalf("ReloadAll: %v", err)
	}

	got := env.reg.GetChannel("dev")
	if got == nil {
		t.Fatal("channel lost across reload")
	}
	if got.Description() != "dev talk" || got.ColorCode() != "&b" || !got.IsRelay() {
		t.Errorf("channel options lost: desc=%q color=%q relay=%v",
			got.Description(), got.ColorCode(), got.IsRelay())
	}
	if !got.IsMember(alice) {
		t.Errorf("membership lost across reload")
	}
	if !got.IsBanned(env.member("mallory")) {
		t.Errorf("ban lost across reload")
	}
}

func TestPersonalChannelNeverPersisted(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("alice>bob", nil)
	if c == nil {
		t.Fatal("CreateChannel returned nil")
	}
	if !c.IsPersonalChat() {
		t.Fatalf("alice>bob should be a personal channel")
	}
	c.ForceJoin(env.member("alice"))

	if err := env.reg.ReloadAll(); err != nil {
		t.Fatalf("ReloadAll: %v", err)
	}
	if env.reg.GetChannel("alice>bob") != nil {
		t.Errorf("personal channel survived reload; must never be persisted")
	}
}

func TestChannelsByMemberIncludesGlobal(t *testing.T) {
	env := newTestEnv(t)
	g := env.reg.CreateChannel("global", nil)
	c := env.reg.CreateChannel("dev", nil)
	env.reg.CreateChannel("other", nil)
	alice := env.member("alice")
	c.ForceJoin(alice)

	got := env.reg.ChannelsByMember(alice)
	names := make(map[string]bool)
	for _, ch := range got {
		names[ch.Name()] = true
	}
	if !names[c.Name()] || !names[g.Name()] {
		t.Errorf("ChannelsByMember = %v, want dev and global", names)
	}
	if names["other"] {
		t.Errorf("ChannelsByMember should not include unjoined non-global channels")
	}
}

func TestColorCodePolicy(t *testing.T) {
	env := newTestEnv(t)
	c := env.reg.CreateChannel("dev", nil)
	alice := env.member("alice")
	bob := env.member("bob")
	c.ForceJoin(alice)
	c.ForceJoin(bob)

	// Without the permission, color candidates are stripped from the body.
	c.Chat(alice, "say &chello")
	if len(bob.msgs) != 1 || strings.Contains(bob.msgs[0], "§chello") {
		t.Errorf("color should be stripped without permission: %v", bob.msgs)
	}

	bob.msgs = nil
	alice.perms = map[string]bool{"lanternchat.allowcc": true}
	c.Chat(alice, "say &chello")
	if len(bob.msgs) != 1 || !strings.Contains(bob.msgs[0], "§chello") {
		t.Errorf("color should translate with permission: %v", bob.msgs)
	}
}

// stubIME points the registry's converter at a local transliteration
// endpoint serving a fixed response.
func stubIME(t *testing.T, env *testEnv, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	env.reg.converter.IME.BaseURL = srv.URL + "/?text="
}

func TestTwoLineJapanizeArrivesAfterOriginal(t *testing.T) {
	env := newTestEnv(t)
	env.conf.Japanize = "googleime"
	env.conf.JapanizeDisplayLine = 2
	env.conf.JapanizeWait = 5 * time.Millisecond
	stubIME(t, env, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["こんにちは",["今日は"]]]`)
	})

	c := env.reg.CreateChannel("town", nil)
	alice := env.member("alice")
	c.ForceJoin(alice)

	c.Chat(alice, "konnnitiha")

	// The raw line goes out before the remote stage even starts.
	first := alice.messages()
	if len(first) != 1 || !strings.Contains(first[0], "konnnitiha") {
		t.Fatalf("original line should be delivered immediately: %v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := alice.messages()
		if len(msgs) >= 2 {
			if !strings.Contains(msgs[1], "今日は") {
				t.Errorf("second line = %q, want converted text", msgs[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("converted line never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTwoLineJapanizeRemoteFailureSuppressesSecondLine(t *testing.T) {
	env := newTestEnv(t)
	env.conf.Japanize = "googleime"
	env.conf.JapanizeDisplayLine = 2
	env.conf.JapanizeWait = 5 * time.Millisecond
	stubIME(t, env, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := env.reg.CreateChannel("town", nil)
	alice := env.member("alice")
	c.ForceJoin(alice)

	c.Chat(alice, "konnnitiha")

	time.Sleep(150 * time.Millisecond)
	if msgs := alice.messages(); len(msgs) != 1 {
		t.Errorf("remote failure should leave only the original line: %v", msgs)
	}
}
