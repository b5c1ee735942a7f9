package channel

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDataDir starts an fsnotify watcher on the data directory and its
// channels subdirectory. Edits made on disk (hand-edited YAML, external
// tooling) trigger a debounced full reload.
func (r *Registry) WatchDataDir() {
	dir := r.store.Dir()
	if dir == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WARNING: Could not start data directory watcher: %v", err)
		return
	}

	// Debounce back-to-back write events into one reload; editors and the
	// registry's own saves both fire bursts.
	var mu sync.Mutex
	var pending *time.Timer

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, ".yml") {
					continue
				}
				if r.store.WroteWithin(2 * time.Second) {
					continue
				}
				mu.Lock()
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(500*time.Millisecond, func() {
					log.Printf("registry: data directory changed on disk, reloading")
					if err := r.ReloadAll(); err != nil {
						log.Printf("registry: reload: %v", err)
					}
				})
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Data directory watcher error: %v", err)
			}
		}
	}()

	for _, d := range []string{dir, filepath.Join(dir, channelsDirName)} {
		if err := watcher.Add(d); err != nil {
			log.Printf("WARNING: Could not watch %s: %v", d, err)
		}
	}
	log.Printf("Watching data directory for changes: %s", dir)
}
