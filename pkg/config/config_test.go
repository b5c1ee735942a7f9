package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conf.Port != 6780 {
		t.Errorf("Port = %d, want default 6780", conf.Port)
	}
	if conf.GlobalMarker != "!" {
		t.Errorf("GlobalMarker = %q", conf.GlobalMarker)
	}
	if conf.Japanize != "googleime" {
		t.Errorf("Japanize = %q", conf.Japanize)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
server_name: lobby-1
port: 7000
global_channel: global
force_join_channels:
  - town
  - help
operators:
  - Admin
japanize: kana
japanize_wait: 250ms
ng_words:
  - badword
  - "dam+n"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conf.ServerName != "lobby-1" {
		t.Errorf("ServerName = %q", conf.ServerName)
	}
	if conf.Port != 7000 {
		t.Errorf("Port = %d", conf.Port)
	}
	// Keys absent from the file keep their defaults.
	if conf.QuickChannelChatSeparator != ":" {
		t.Errorf("separator default lost: %q", conf.QuickChannelChatSeparator)
	}
	if conf.JapanizeWait != 250*time.Millisecond {
		t.Errorf("JapanizeWait = %v", conf.JapanizeWait)
	}
	if !conf.IsForceJoinChannel("town") || conf.IsForceJoinChannel("dev") {
		t.Errorf("force join membership wrong: %v", conf.ForceJoinChannels)
	}
	if len(conf.NGWordsCompiled()) != 2 {
		t.Errorf("got %d compiled ng-words, want 2", len(conf.NGWordsCompiled()))
	}
}

func TestBadNGWordPatternSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
ng_words:
  - "valid"
  - "[unclosed"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not fail on a bad pattern: %v", err)
	}
	if len(conf.NGWordsCompiled()) != 1 {
		t.Errorf("got %d compiled ng-words, want 1", len(conf.NGWordsCompiled()))
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("port: [not a number"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestIsOperatorCaseInsensitive(t *testing.T) {
	conf := Default()
	conf.Operators = []string{"Alice"}
	if !conf.IsOperator("alice") {
		t.Errorf("operator match should ignore case")
	}
	if conf.IsOperator("bob") {
		t.Errorf("bob is not an operator")
	}
}
