// Package chatlog writes per-channel flat-file chat logs, one directory per
// day, one comma-separated line per message.
package chatlog

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	logDirName = "logs"
	dayLayout  = "2006-01-02"
	lineLayout = "2006-01-02 15:04:05"
)

// Entry is one parsed chat log line.
type Entry struct {
	Time    time.Time
	Message string
	Speaker string
}

// Logger appends chat lines for a single stream (a channel name or the
// unchanneled stream). Writes are serialized through a channel so callers
// on the dispatch path never block on disk.
type Logger struct {
	dir    string // data dir; files land in dir/logs/<day>/<stream>.log
	stream string

	mu     sync.Mutex
	lines  chan string
	closed bool
	done   chan struct{}
}

// New creates a logger for a stream under dataDir. The writer goroutine
// runs until Close.
func New(dataDir, stream string) *Logger {
	l := &Logger{
		dir:    dataDir,
		stream: sanitizeStream(stream),
		lines:  make(chan string, 256),
		done:   make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// Log appends one entry. Color codes are stripped; commas in the message
// survive because the speaker field is last and fixed.
func (l *Logger) Log(message, speaker string) {
	now := time.Now()
	line := fmt.Sprintf("%s,%s,%s", now.Format(lineLayout), stripColor(message), speaker)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	select {
	case l.lines <- line:
	default:
		// Backpressure: drop rather than stall the dispatch path.
		log.Printf("chatlog: %s: buffer full, line dropped", l.stream)
	}
	l.mu.Unlock()
}

// Close stops the writer after draining buffered lines.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.lines)
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) writeLoop() {
	defer close(l.done)
	for line := range l.lines {
		if err := l.append(line); err != nil {
			log.Printf("chatlog: %s: %v", l.stream, err)
		}
	}
}

func (l *Logger) append(line string) error {
	day := time.Now().Format(dayLayout)
	dir := filepath.Join(l.dir, logDirName, day)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, l.stream+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, line)
	return err
}

// GetLog reads back entries, newest first when reverse is set. speaker and
// filter narrow by exact speaker name and message substring; date selects a
// day in yyyy-mm-dd form, defaulting to today.
func (l *Logger) GetLog(speaker, filter, date string, reverse bool) ([]Entry, error) {
	if date == "" {
		date = time.Now().Format(dayLayout)
	}
	path := filepath.Join(l.dir, logDirName, date, l.stream+".log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chatlog: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		e, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		if speaker != "" && !strings.Contains(strings.ToLower(e.Speaker), strings.ToLower(speaker)) {
			continue
		}
		if filter != "" && !strings.Contains(e.Message, filter) {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("chatlog: read %s: %w", path, err)
	}

	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}

// parseLine splits "timestamp,message,speaker". The message may itself
// contain commas, so the timestamp is taken from the front and the speaker
// from the back.
func parseLine(line string) (Entry, bool) {
	first := strings.Index(line, ",")
	last := strings.LastIndex(line, ",")
	if first < 0 || last <= first {
		return Entry{}, false
	}
	t, err := time.ParseInLocation(lineLayout, line[:first], time.Local)
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		Time:    t,
		Message: line[first+1 : last],
		Speaker: line[last+1:],
	}, true
}

// sanitizeStream makes a stream name safe as a file name. Personal channel
// names contain ">" which is replaced.
func sanitizeStream(stream string) string {
	r := strings.NewReplacer(">", "-", "/", "-", "\\", "-", ":", "-")
	return r.Replace(stream)
}

// stripColor removes both &x candidates and translated section-sign codes.
func stripColor(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if (runes[i] == '&' || runes[i] == '§') && i+1 < len(runes) && isColorChar(runes[i+1]) {
			i++
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

func isColorChar(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r >= 'k' && r <= 'o', r == 'r':
		return true
	}
	return false
}
