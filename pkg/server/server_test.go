package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hikarimc/lanternchat/pkg/channel"
	"github.com/hikarimc/lanternchat/pkg/config"
	"github.com/hikarimc/lanternchat/pkg/member"
)

// testClient is one simulated connection into the server.
type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *testClient) sendLine(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

// readLine reads one line with a short deadline; empty string on timeout.
func (c *testClient) readLine() string {
	c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	line, err := c.r.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

// drain consumes all immediately available lines.
func (c *testClient) drain() []string {
	var out []string
	for {
		line := c.readLine()
		if line == "" {
			return out
		}
		out = append(out, line)
	}
}

// expectLine reads until a line containing substr appears.
func (c *testClient) expectLine(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		line := c.readLine()
		if strings.Contains(line, substr) {
			return line
		}
	}
	t.Fatalf("no line containing %q received", substr)
	return ""
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	conf := config.Default()
	conf.DataDir = t.TempDir()
	conf.Japanize = "none"
	conf.GlobalChannel = "global"
	conf.ForceJoinChannels = []string{"town"}

	store, err := channel.NewStore(conf.DataDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var srv *Server
	reg, err := channel.NewRegistry(conf, store, func(id string) member.Member {
		return srv.MemberByID(id)
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	srv = NewServer(conf, reg, nil, nil)
	return srv
}

// connect spins up a piped connection and logs it in.
func connect(t *testing.T, s *Server, name string) *testClient {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	go s.handleConnection(serverEnd)

	c := &testClient{conn: clientEnd, r: bufio.NewReader(clientEnd)}
	c.expectLine(t, "connect")
	c.sendLine(t, "connect "+name)
	// Give the login a moment to settle.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.IsOnline(name) {
			c.drain()
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not come online", name)
	return nil
}

func TestConnectRunsForceJoin(t *testing.T) {
	s := newTestServer(t)
	c := connect(t, s, "alice")
	defer c.conn.Close()

	town := s.reg.GetChannel("town")
	if town == nil {
		t.Fatal("force-join channel not created on connect")
	}
	alice := member.NewPlayer("alice", nil, s)
	if !town.IsMember(alice) {
		t.Errorf("alice not force-joined to town")
	}
	if got := s.reg.DefaultChannelName(alice); !strings.EqualFold(got, "town") {
		t.Errorf("default channel = %q, want town", got)
	}
	if s.reg.GetChannel("global") == nil {
		t.Errorf("global channel not ensured on connect")
	}
}

func TestChatReachesChannelMembers(t *testing.T) {
	s := newTestServer(t)
	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")
	defer alice.conn.Close()
	defer bob.conn.Close()

	alice.sendLine(t, "hello town")
	bob.expectLine(t, "hello town")

	// The sender sees their own line too.
	alice.expectLine(t, "hello town")
}

func TestDuplicateNameRejected(t *testing.T) {
	s := newTestServer(t)
	alice := connect(t, s, "alice")
	defer alice.conn.Close()

	clientEnd, serverEnd := net.Pipe()
	go s.handleConnection(serverEnd)
	c := &testClient{conn: clientEnd, r: bufio.NewReader(clientEnd)}
	c.expectLine(t, "connect")
	c.sendLine(t, "connect alice")
	c.expectLine(t, "already connected")
	clientEnd.Close()
}

func TestJoinLeaveCommands(t *testing.T) {
	s := newTestServer(t)
	alice := connect(t, s, "alice")
	defer alice.conn.Close()

	alice.sendLine(t, "/create dev talk about code")
	alice.expectLine(t, "created dev")
	alice.sendLine(t, "/join dev")
	alice.expectLine(t, "joined dev")

	mem := member.NewPlayer("alice", nil, s)
	// The join notice broadcast also contains "joined dev" and arrives
	// before cmdJoin updates the default pointer; give it a moment.
	deadline := time.Now().Add(time.Second)
	for !strings.EqualFold(s.reg.DefaultChannelName(mem), "dev") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.reg.DefaultChannelName(mem); !strings.EqualFold(got, "dev") {
		t.Errorf("default channel after join = %q, want dev", got)
	}

	alice.sendLine(t, "/leave dev")
	alice.expectLine(t, "left dev")
	if s.reg.GetChannel("dev").IsMember(mem) {
		t.Errorf("alice still a member after leave")
	}
}

func TestTellOpensPersonalChannel(t *testing.T) {
	s := newTestServer(t)
	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")
	defer bob.conn.Close()

	alice.sendLine(t, "/tell bob psst")
	bob.expectLine(t, "psst")

	if s.reg.GetChannel("alice>bob") == nil {
		t.Fatal("personal channel not created by tell")
	}

	// Reply goes back through bob's last-tell partner.
	bob.sendLine(t, "/reply heard you")
	alice.expectLine(t, "heard you")

	// When both participants are gone the personal channel is cleaned up.
	alice.conn.Close()
	bob.conn.Close()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.reg.GetChannel("alice>bob") == nil && s.reg.GetChannel("bob>alice") == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("personal channel survived both participants disconnecting")
}

func TestModerationCommands(t *testing.T) {
	s := newTestServer(t)
	s.conf.Operators = []string{"alice"}
	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")
	defer alice.conn.Close()
	defer bob.conn.Close()

	alice.sendLine(t, "/mute bob town")
	alice.expectLine(t, "mute bob")

	town := s.reg.GetChannel("town")
	if !town.IsMuted(member.NewPlayer("bob", nil, s)) {
		t.Fatalf("bob not muted")
	}

	bob.drain()
	bob.sendLine(t, "hi all")
	bob.expectLine(t, "muted")

	alice.sendLine(t, "/unmute bob town")
	alice.expectLine(t, "unmute bob")
	if town.IsMuted(member.NewPlayer("bob", nil, s)) {
		t.Errorf("bob still muted after unmute")
	}
}

func TestInviteAcceptFlow(t *testing.T) {
	s := newTestServer(t)
	s.conf.Operators = []string{"alice"}
	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")
	defer alice.conn.Close()
	defer bob.conn.Close()

	alice.sendLine(t, "/create club")
	alice.expectLine(t, "created club")
	alice.sendLine(t, "/join club")
	alice.expectLine(t, "joined club")
	alice.sendLine(t, "/invite bob")
	bob.expectLine(t, "invites you to club")

	bob.sendLine(t, "/accept")
	bob.expectLine(t, "joined club")

	if !s.reg.GetChannel("club").IsMember(member.NewPlayer("bob", nil, s)) {
		t.Errorf("bob not a member after accepting")
	}
}

func TestChannelChatDisabledKeepsUtilityCommands(t *testing.T) {
	s := newTestServer(t)
	s.conf.EnableChannelChat = false
	alice := connect(t, s, "alice")
	defer alice.conn.Close()

	alice.sendLine(t, "/join dev")
	alice.expectLine(t, "disabled")

	alice.sendLine(t, "/hide bob")
	alice.expectLine(t, "now hiding bob")
}
