// chatproxy is the cluster-side relay hub. It accepts one websocket per
// backend server, forwards chat frames between them, and keeps its own
// channel registry so membership stays consistent across the cluster.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/hikarimc/lanternchat/pkg/channel"
	"github.com/hikarimc/lanternchat/pkg/config"
	"github.com/hikarimc/lanternchat/pkg/member"
	"github.com/hikarimc/lanternchat/pkg/relay"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

// proxyHandler mirrors relayed traffic into the proxy's own registry.
type proxyHandler struct {
	conf       *config.Config
	reg        *channel.Registry
	dispatcher *channel.Dispatcher
	cache      *member.Cache
}

// OnChannelChat records a relayed channel message against the proxy's
// registry. Forwarding to the other backends is the hub's job.
func (p *proxyHandler) OnChannelChat(channelName, sender, msg, lineFormat, origin string) {
	if channelName == "" {
		log.Printf("relay: broadcast chat from %s: %s", sender, msg)
		return
	}
	p.dispatcher.ChatFromRemote(channelName, sender, msg, lineFormat)
}

// OnJoinNotice re-runs the join-time channel policy for a player who
// connected to one of the backends.
func (p *proxyHandler) OnJoinNotice(name string) {
	mem := member.NewPlayer(name, p.cache, nil)

	for _, chName := range p.conf.ForceJoinChannels {
		c := p.reg.GetChannel(chName)
		if c == nil {
			c = p.reg.CreateChannel(chName, mem)
			if c == nil {
				continue
			}
		}
		c.ForceJoin(mem)
		if p.reg.DefaultChannelName(mem) == "" {
			p.reg.SetDefaultChannel(mem, c.Name())
		}
	}

	if g := p.conf.GlobalChannel; g != "" && p.reg.GetChannel(g) == nil {
		p.reg.CreateChannel(g, mem)
	}
}

func main() {
	confFile := flag.String("config", envDefault("LANTERN_CONFIG", "config.yml"), "Path to config file (env: LANTERN_CONFIG)")
	listen := flag.String("listen", envDefault("LANTERN_RELAY_LISTEN", ""), "Relay listen address, overrides config (env: LANTERN_RELAY_LISTEN)")
	flag.Parse()

	conf, err := config.Load(*confFile)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if *listen != "" {
		conf.RelayListen = *listen
	}
	if conf.RelayListen == "" {
		log.Fatalf("relay_listen is not configured")
	}
	if conf.RelaySecret == "" {
		log.Fatalf("relay_secret is not configured")
	}

	store, err := channel.NewStore(conf.DataDir)
	if err != nil {
		log.Fatalf("Error opening data directory: %v", err)
	}

	cache, err := member.OpenCache(filepath.Join(conf.DataDir, "members.db"))
	if err != nil {
		log.Fatalf("Error opening member cache: %v", err)
	}
	defer cache.Close()

	reg, err := channel.NewRegistry(conf, store, func(id string) member.Member {
		return member.PlayerFromID(id, cache, nil)
	})
	if err != nil {
		log.Fatalf("Error loading channels: %v", err)
	}
	reg.WatchDataDir()

	handler := &proxyHandler{
		conf:       conf,
		reg:        reg,
		dispatcher: channel.NewDispatcher(reg),
		cache:      cache,
	}

	hub := relay.NewHub(conf.RelaySecret, handler, nil)
	log.Printf("Starting relay proxy on %s...", conf.RelayListen)
	if err := hub.Serve(conf.RelayListen); err != nil {
		log.Fatalf("Relay proxy error: %v", err)
	}
}
