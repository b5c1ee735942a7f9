package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Sub-store file names under the data directory.
const (
	channelsDirName = "channels"
	defaultsFile    = "defaults.yml"
	templatesFile   = "templates.yml"
	dictionaryFile  = "dictionary.yml"
	japanizeFile    = "japanize.yml"
	hidelistFile    = "hidelist.yml"
)

// record is the persisted form of a non-personal channel, one YAML document
// per channel. Member sets are stored as stable identifier lists.
type record struct {
	Name        string           `yaml:"name"`
	Alias       string           `yaml:"alias"`
	Description string           `yaml:"description"`
	Format      string           `yaml:"format"`
	Members     []string         `yaml:"members"`
	Banned      []string         `yaml:"banned"`
	Muted       []string         `yaml:"muted"`
	Hided       []string         `yaml:"hided"`
	Moderator   []string         `yaml:"moderator"`
	Password    string           `yaml:"password"`
	Visible     bool             `yaml:"visible"`
	Bungee      bool             `yaml:"bungee"`
	Color       string           `yaml:"color"`
	Broadcast   bool             `yaml:"broadcast"`
	World       bool             `yaml:"world"`
	Range       int              `yaml:"range"`
	BanExpires  map[string]int64 `yaml:"ban_expires,omitempty"`
	MuteExpires map[string]int64 `yaml:"mute_expires,omitempty"`
	AllowCC     bool             `yaml:"allowcc"`
	Japanize    string           `yaml:"japanize,omitempty"`
}

// Store persists channel records and the registry sub-stores as flat YAML
// documents under a data directory.
type Store struct {
	dir string

	lastWrite atomic.Int64 // unix nanos of our most recent write
}

// NewStore builds a store rooted at dir, creating the channels folder.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, channelsDirName), 0755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory root.
func (s *Store) Dir() string { return s.dir }

// WroteWithin reports whether this store itself wrote to disk within d,
// letting the change watcher ignore our own saves.
func (s *Store) WroteWithin(d time.Duration) bool {
	return time.Since(time.Unix(0, s.lastWrite.Load())) < d
}

func (s *Store) markWrite() { s.lastWrite.Store(time.Now().UnixNano()) }

func (s *Store) channelPath(name string) string {
	return filepath.Join(s.dir, channelsDirName, strings.ToLower(name)+".yml")
}

// SaveChannel writes one channel record.
func (s *Store) SaveChannel(rec *record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal channel %s: %w", rec.Name, err)
	}
	s.markWrite()
	if err := os.WriteFile(s.channelPath(rec.Name), data, 0644); err != nil {
		return fmt.Errorf("store: write channel %s: %w", rec.Name, err)
	}
	return nil
}

// DeleteChannel removes a channel's on-disk record.
func (s *Store) DeleteChannel(name string) error {
	s.markWrite()
	err := os.Remove(s.channelPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete channel %s: %w", name, err)
	}
	return nil
}

// LoadChannels reads every channel record in the channels folder. Records
// that fail to parse are skipped, not fatal.
func (s *Store) LoadChannels() ([]*record, error) {
	dir := filepath.Join(s.dir, channelsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", dir, err)
	}

	var recs []*record
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rec := &record{Visible: true, AllowCC: true}
		if err := yaml.Unmarshal(data, rec); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("store: parse %s: %w", e.Name(), err)
			}
			continue
		}
		if rec.Name == "" {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, firstErr
}

// SaveStringMap writes a flat key->string sub-store document.
func (s *Store) SaveStringMap(file string, m map[string]string) error {
	return s.writeYAML(file, m)
}

// LoadStringMap reads a flat key->string sub-store document. A missing
// file yields an empty map.
func (s *Store) LoadStringMap(file string) (map[string]string, error) {
	m := make(map[string]string)
	if err := s.readYAML(file, &m); err != nil {
		return m, err
	}
	return m, nil
}

// SaveBoolMap writes a flat key->bool sub-store document.
func (s *Store) SaveBoolMap(file string, m map[string]bool) error {
	return s.writeYAML(file, m)
}

// LoadBoolMap reads a flat key->bool sub-store document.
func (s *Store) LoadBoolMap(file string) (map[string]bool, error) {
	m := make(map[string]bool)
	if err := s.readYAML(file, &m); err != nil {
		return m, err
	}
	return m, nil
}

// SaveStringListMap writes a key->list sub-store document (the hide-list).
func (s *Store) SaveStringListMap(file string, m map[string][]string) error {
	return s.writeYAML(file, m)
}

// LoadStringListMap reads a key->list sub-store document.
func (s *Store) LoadStringListMap(file string) (map[string][]string, error) {
	m := make(map[string][]string)
	if err := s.readYAML(file, &m); err != nil {
		return m, err
	}
	return m, nil
}

func (s *Store) writeYAML(file string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", file, err)
	}
	s.markWrite()
	if err := os.WriteFile(filepath.Join(s.dir, file), data, 0644); err != nil {
		return fmt.Errorf("store: write %s: %w", file, err)
	}
	return nil
}

func (s *Store) readYAML(file string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", file, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: parse %s: %w", file, err)
	}
	return nil
}
