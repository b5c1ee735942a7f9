package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/hikarimc/lanternchat/pkg/channel"
	"github.com/hikarimc/lanternchat/pkg/config"
	"github.com/hikarimc/lanternchat/pkg/member"
	"github.com/hikarimc/lanternchat/pkg/metrics"
	"github.com/hikarimc/lanternchat/pkg/relay"
	"github.com/hikarimc/lanternchat/pkg/scrollback"
	"github.com/hikarimc/lanternchat/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("config", envDefault("LANTERN_CONFIG", "config.yml"), "Path to config file (env: LANTERN_CONFIG)")
	port := flag.Int("port", 0, "TCP port to listen on, overrides config (env: LANTERN_PORT)")
	dataDir := flag.String("data", envDefault("LANTERN_DATA", ""), "Path to data directory, overrides config (env: LANTERN_DATA)")
	metricsAddr := flag.String("metrics", envDefault("LANTERN_METRICS", ""), "Prometheus listen address, overrides config (env: LANTERN_METRICS)")
	flag.Parse()

	start := time.Now()

	conf, err := config.Load(*confFile)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Command-line flags and env override config file values.
	if *port == 0 {
		if envPort := os.Getenv("LANTERN_PORT"); envPort != "" {
			if p, err := strconv.Atoi(envPort); err == nil {
				*port = p
			}
		}
	}
	if *port != 0 {
		conf.Port = *port
	}
	if *dataDir != "" {
		conf.DataDir = *dataDir
	}
	if *metricsAddr != "" {
		conf.MetricsAddr = *metricsAddr
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

	// The registry resolves stored member IDs through the server's host
	// strategy, so the factory closes over the server built just below.
	var srv *server.Server
	reg, err := channel.NewRegistry(conf, store, func(id string) member.Member {
		return srv.MemberByID(id)
	})
	if err != nil {
		log.Fatalf("Error loading channels: %v", err)
	}

	stats := metrics.New(start)
	reg.SetMetrics(stats)

	srv = server.NewServer(conf, reg, cache, stats)

	if conf.ScrollbackPath != "" {
		sb, err := scrollback.Open(conf.ScrollbackPath)
		if err != nil {
			log.Fatalf("Error opening scrollback database: %v", err)
		}
		defer sb.Close()
		reg.SetRecorder(sb)
		go sb.StartRetentionCleanup(conf.ScrollbackRetention, time.Hour)
		log.Printf("Scrollback enabled: %s (retention %v)", conf.ScrollbackPath, conf.ScrollbackRetention)
	}

	if conf.RelayEnabled {
		if conf.RelayURL == "" {
			log.Fatalf("relay_enabled is set but relay_url is empty")
		}
		bridge := relay.NewBridge(conf.RelayURL, conf.RelaySecret, conf.ServerName, srv, stats)
		reg.SetRelay(bridge)
		srv.SetBridge(bridge)
		go bridge.Start()
		defer bridge.Close()
		log.Printf("Relay enabled: %s (server=%s)", conf.RelayURL, conf.ServerName)
	}

	if conf.MetricsAddr != "" {
		go func() {
			if err := stats.Serve(conf.MetricsAddr); err != nil {
				log.Printf("WARNING: metrics listener failed: %v", err)
			}
		}()
		log.Printf("Metrics on %s", conf.MetricsAddr)
	}

	reg.WatchDataDir()

	sweeper := channel.NewSweeper(reg, conf.ExpireCheckInterval)
	go sweeper.Start()
	defer sweeper.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("Shutting down")
		srv.Stop()
	}()

	log.Printf("Starting %s on port %d...", conf.ServerName, conf.Port)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
