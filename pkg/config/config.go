// Package config loads the chat router configuration from a YAML file.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the chat router configuration parameters.
type Config struct {
	// --- Identity ---
	ServerName string   `yaml:"server_name"`
	Port       int      `yaml:"port"`
	DataDir    string   `yaml:"data_dir"`
	Operators  []string `yaml:"operators"` // names granted every permission node

	// --- Channel policy ---
	GlobalChannel     string   `yaml:"global_channel"`
	ForceJoinChannels []string `yaml:"force_join_channels"`
	ZeroMemberRemove  bool     `yaml:"zero_member_remove"`
	EnableChannelChat bool     `yaml:"enable_channel_chat"`
	ShowListOnJoin    bool     `yaml:"show_list_on_join"`

	// --- Dispatch ---
	GlobalMarker              string   `yaml:"global_marker"`
	EnableQuickChannelChat    bool     `yaml:"enable_quick_channel_chat"`
	QuickChannelChatSeparator string   `yaml:"quick_channel_chat_separator"`
	NoJoinAsGlobal            bool     `yaml:"no_join_as_global"`
	NGWords                   []string `yaml:"ng_words"`

	// --- Formats ---
	DefaultFormat        string `yaml:"default_format"`
	DefaultFormatForPM   string `yaml:"default_format_for_pm"`
	BreakupMessage       string `yaml:"breakup_message"`
	BreakupMessageColor  string `yaml:"breakup_message_color"`

	// --- Japanize ---
	Japanize            string        `yaml:"japanize"`       // none, kana, googleime
	JapanizeDisplayLine int           `yaml:"japanize_line"`  // 1 or 2
	JapanizeLine1Format string        `yaml:"japanize_line1_format"`
	JapanizeLine2Format string        `yaml:"japanize_line2_format"`
	JapanizeWait        time.Duration `yaml:"japanize_wait"`
	JapanizeTimeout     time.Duration `yaml:"japanize_timeout"`
	NoneJapanizeMarker  string        `yaml:"none_japanize_marker"`

	// --- Relay ---
	RelayEnabled bool   `yaml:"relay_enabled"`
	RelayURL     string `yaml:"relay_url"`    // ws:// address of the proxy
	RelaySecret  string `yaml:"relay_secret"` // shared HMAC secret for handshake tokens
	RelayListen  string `yaml:"relay_listen"` // proxy-side listen address

	// --- Housekeeping ---
	ExpireCheckInterval time.Duration `yaml:"expire_check_interval"`
	ScrollbackPath      string        `yaml:"scrollback_path"`
	ScrollbackRetention time.Duration `yaml:"scrollback_retention"`
	MetricsAddr         string        `yaml:"metrics_addr"`

	ngCompiled []*regexp.Regexp
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		ServerName:                "local",
		Port:                      6780,
		DataDir:                   "data",
		ZeroMemberRemove:          false,
		EnableChannelChat:         true,
		ShowListOnJoin:            false,
		GlobalMarker:              "!",
		EnableQuickChannelChat:    true,
		QuickChannelChatSeparator: ":",
		NoJoinAsGlobal:            true,
		DefaultFormat:             "&f[%color%ch&f]%prefix%username%suffix&a:&f %msg",
		DefaultFormatForPM:        "&7[%player -> %to]&f %msg",
		BreakupMessage:            "Channel %ch has been disbanded.",
		BreakupMessageColor:       "&7",
		Japanize:                  "googleime",
		JapanizeDisplayLine:       2,
		JapanizeLine1Format:       "%msg &6(%japanize)",
		JapanizeLine2Format:       "&6[JP] %japanize",
		JapanizeWait:              100 * time.Millisecond,
		JapanizeTimeout:           5 * time.Second,
		NoneJapanizeMarker:        "#",
		ExpireCheckInterval:       30 * time.Second,
		ScrollbackRetention:       24 * time.Hour,
	}
}

// Load reads a YAML config file, applying defaults for absent keys.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		conf.compileNGWords()
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("config: %s not found, using defaults", path)
			conf.compileNGWords()
			return conf, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	conf.compileNGWords()

	log.Printf("config: loaded %s (server=%s, %d ng-words)", path, conf.ServerName, len(conf.NGWords))
	return conf, nil
}

// compileNGWords compiles the forbidden-word patterns. Load runs it before
// the config is shared, so NGWordsCompiled stays read-only afterwards.
// A pattern that fails to compile is skipped with a warning rather than
// rejecting the whole config.
func (c *Config) compileNGWords() {
	c.ngCompiled = c.ngCompiled[:0]
	for _, w := range c.NGWords {
		re, err := regexp.Compile(w)
		if err != nil {
			log.Printf("config: bad ng-word pattern %q: %v", w, err)
			continue
		}
		c.ngCompiled = append(c.ngCompiled, re)
	}
}

// NGWordsCompiled returns the compiled forbidden-word patterns.
func (c *Config) NGWordsCompiled() []*regexp.Regexp {
	return c.ngCompiled
}

// IsForceJoinChannel reports whether name is configured for automatic join.
func (c *Config) IsForceJoinChannel(name string) bool {
	for _, n := range c.ForceJoinChannels {
		if n == name {
			return true
		}
	}
	return false
}

// IsOperator reports whether a member name is in the operator list.
func (c *Config) IsOperator(name string) bool {
	for _, n := range c.Operators {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
