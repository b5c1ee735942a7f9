// Package server hosts the TCP line protocol in front of the channel
// registry: connection lifecycle, the command surface, and the member host
// strategy live connections resolve through.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/hikarimc/lanternchat/pkg/channel"
	"github.com/hikarimc/lanternchat/pkg/config"
	"github.com/hikarimc/lanternchat/pkg/member"
	"github.com/hikarimc/lanternchat/pkg/metrics"
	"github.com/hikarimc/lanternchat/pkg/relay"
)

const welcomeText = "lanternchat - type: connect <name>"

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{1,16}$`)

// Server is the TCP front end. It implements member.Host for live players
// and the registry's presence provider.
type Server struct {
	conf       *config.Config
	reg        *channel.Registry
	dispatcher *channel.Dispatcher
	cache      *member.Cache
	stats      *metrics.Metrics

	bridge *relay.Bridge // nil when relay is disabled

	listener net.Listener
	mu       sync.Mutex
	nextID   int
	conns    map[string]*Descriptor // lowercase name -> descriptor

	inviteMu sync.Mutex
	invites  map[string]pendingInvite // lowercase invitee -> invite

	tellMu    sync.Mutex
	lastTells map[string]string // lowercase name -> last tell partner
}

// NewServer wires a server over the registry. The server registers itself
// as the registry's presence provider.
func NewServer(conf *config.Config, reg *channel.Registry, cache *member.Cache, stats *metrics.Metrics) *Server {
	s := &Server{
		conf:       conf,
		reg:        reg,
		dispatcher: channel.NewDispatcher(reg),
		cache:      cache,
		stats:      stats,
		conns:      make(map[string]*Descriptor),
		invites:    make(map[string]pendingInvite),
		lastTells:  make(map[string]string),
	}
	reg.SetPresence(s)
	return s
}

// SetBridge attaches the relay bridge for join notices.
func (s *Server) SetBridge(b *relay.Bridge) { s.bridge = b }

// Start begins listening for connections. Blocks until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.conf.Port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	log.Printf("Listening on port %d", s.conf.Port)
	s.acceptLoop(ln)
	return nil
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	conns := make([]*Descriptor, 0, len(s.conns))
	for _, d := range s.conns {
		conns = append(conns, d)
	}
	s.mu.Unlock()
	for _, d := range conns {
		d.Close()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection manages a single client connection lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	d := NewDescriptor(id, conn)
	log.Printf("[%d] New connection from %s", d.ID, d.Addr)
	d.Send(welcomeText)

	defer func() {
		s.disconnect(d)
		d.Close()
		log.Printf("[%d] Connection closed from %s", d.ID, d.Addr)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 8192), 8192)

	for scanner.Scan() {
		if d.IsClosed() {
			return
		}
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		if d.State == ConnLogin {
			s.handleLogin(d, line)
			continue
		}

		if strings.HasPrefix(line, "/") {
			s.dispatchCommand(d, line[1:])
		} else {
			s.dispatcher.ProcessChat(s.memberFor(d), line)
		}

		if d.IsClosed() {
			return
		}
	}
}

// handleLogin processes the pre-login command line.
func (s *Server) handleLogin(d *Descriptor, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	if strings.EqualFold(fields[0], "quit") {
		d.Send("Goodbye!")
		d.Close()
		return
	}
	if !strings.EqualFold(fields[0], "connect") || len(fields) != 2 {
		d.Send("type: connect <name>")
		return
	}
	name := fields[1]
	if !nameRe.MatchString(name) {
		d.Send("invalid name: letters, digits and underscore, 16 max")
		return
	}

	s.mu.Lock()
	if _, taken := s.conns[strings.ToLower(name)]; taken {
		s.mu.Unlock()
		d.Send("that name is already connected")
		return
	}
	d.Name = name
	d.Display = name
	d.State = ConnConnected
	s.conns[strings.ToLower(name)] = d
	n := len(s.conns)
	s.mu.Unlock()

	if s.cache != nil {
		if _, err := s.cache.Register(name); err != nil {
			log.Printf("server: uuid cache: %v", err)
		}
	}
	if s.stats != nil {
		s.stats.SetMembersOnline(n)
	}
	log.Printf("[%d] %s connected", d.ID, name)

	s.onConnect(d)
}

// onConnect runs the join-time policy: force-join channels, the global
// channel, the optional channel list, and the relay join notice.
func (s *Server) onConnect(d *Descriptor) {
	mem := s.memberFor(d)

	for _, name := range s.conf.ForceJoinChannels {
		c := s.reg.GetChannel(name)
		if c == nil {
			c = s.reg.CreateChannel(name, mem)
			if c == nil {
				continue
			}
		}
		c.ForceJoin(mem)
		if s.reg.DefaultChannelName(mem) == "" {
			s.reg.SetDefaultChannel(mem, c.Name())
		}
	}

	// The global channel has implicit membership; it just has to exist.
	if g := s.conf.GlobalChannel; g != "" && s.reg.GetChannel(g) == nil {
		s.reg.CreateChannel(g, mem)
	}

	if s.conf.ShowListOnJoin {
		for _, line := range s.channelList(mem) {
			d.Send(line)
		}
	}

	if s.bridge != nil {
		s.bridge.SendJoinNotice(d.Name)
	}
}

// disconnect tears a connection down: presence bookkeeping and personal
// channel cleanup.
func (s *Server) disconnect(d *Descriptor) {
	if d.State != ConnConnected {
		return
	}
	s.mu.Lock()
	if s.conns[strings.ToLower(d.Name)] == d {
		delete(s.conns, strings.ToLower(d.Name))
	}
	n := len(s.conns)
	s.mu.Unlock()

	if s.stats != nil {
		s.stats.SetMembersOnline(n)
	}

	// Personal channels whose participants are all offline are removed.
	for _, c := range s.reg.Channels() {
		if !c.IsPersonalChat() {
			continue
		}
		anyOnline := false
		for _, m := range c.StoredMembers() {
			if m.IsOnline() {
				anyOnline = true
				break
			}
		}
		if !anyOnline {
			s.reg.RemoveChannel(c.Name(), nil)
		}
	}
}

// channelList renders the member's channel list, skipping personal
// channels and channels the member is banned from.
func (s *Server) channelList(mem member.Member) []string {
	lines := []string{"-- channels --"}
	for _, c := range s.reg.ChannelsByMember(mem) {
		if c.IsPersonalChat() || c.IsBanned(mem) {
			continue
		}
		marker := " "
		if strings.EqualFold(s.reg.DefaultChannelName(mem), c.Name()) {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("%s%s (%d/%d) %s",
			marker, c.Name(), c.OnlineNum(), c.TotalNum(), c.Description()))
	}
	return lines
}

// memberFor builds the Member view of a connected descriptor.
func (s *Server) memberFor(d *Descriptor) member.Member {
	return member.NewPlayer(d.Name, s.cache, s)
}

// MemberByID rebuilds a member from a stored identifier. Used as the
// registry's member factory.
func (s *Server) MemberByID(id string) member.Member {
	return member.PlayerFromID(id, s.cache, s)
}

func (s *Server) descriptor(name string) *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[strings.ToLower(name)]
}

// --- member.Host ---

// IsOnline reports whether a named player is connected.
func (s *Server) IsOnline(name string) bool {
	return s.descriptor(name) != nil
}

// Send delivers one line to a named player, dropping it when offline.
func (s *Server) Send(name, msg string) {
	if d := s.descriptor(name); d != nil {
		d.Send(msg)
	}
}

// DisplayName returns a connected player's display name, or "".
func (s *Server) DisplayName(name string) string {
	if d := s.descriptor(name); d != nil {
		return d.Display
	}
	return ""
}

// HasPermission resolves a permission node: operators hold everything,
// everyone else holds every non-admin node.
func (s *Server) HasPermission(name, node string) bool {
	if s.conf.IsOperator(name) {
		return true
	}
	if strings.HasPrefix(node, "lanternchat-admin.") {
		return false
	}
	return true
}

// WorldName returns the connected player's world label.
func (s *Server) WorldName(name string) string {
	if d := s.descriptor(name); d != nil {
		return d.World
	}
	return ""
}

// ServerName returns this process's name in the cluster.
func (s *Server) ServerName() string { return s.conf.ServerName }

// --- channel.Presence ---

// OnlineMembers returns the full online population as members.
func (s *Server) OnlineMembers() []member.Member {
	s.mu.Lock()
	names := make([]string, 0, len(s.conns))
	for _, d := range s.conns {
		names = append(names, d.Name)
	}
	s.mu.Unlock()

	out := make([]member.Member, 0, len(names))
	for _, name := range names {
		out = append(out, member.NewPlayer(name, s.cache, s))
	}
	return out
}

// OnlineCount returns the connected member count.
func (s *Server) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// --- relay.Handler ---

// OnChannelChat injects a relayed line into the local channel of the same
// name.
func (s *Server) OnChannelChat(channelName, sender, msg, lineFormat, origin string) {
	if channelName == "" {
		return
	}
	s.dispatcher.ChatFromRemote(channelName, sender, msg, lineFormat)
}

// OnJoinNotice re-runs join policy for a member seen on another backend.
// On backends this is informational only.
func (s *Server) OnJoinNotice(name string) {
	log.Printf("server: join notice for %s", name)
}
