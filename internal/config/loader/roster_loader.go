package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tradefloor/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TraderDefinition is one roster entry: an account bound to a strategy text
// and a reasoning model.
type TraderDefinition struct {
	Name        string `yaml:"-"`
	DisplayName string `yaml:"display_name"`
	Model       string `yaml:"model"`
	Strategy    string `yaml:"strategy"`
	Active      *bool  `yaml:"active"`
}

// IsActive defaults to true when the roster file leaves the flag out.
func (d TraderDefinition) IsActive() bool {
	return d.Active == nil || *d.Active
}

type rosterFile struct {
	Traders map[string]TraderDefinition `yaml:"traders"`
}

// RosterSnapshot is an immutable view of the roster, ordered by name.
type RosterSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Traders  []TraderDefinition
}

func (s RosterSnapshot) Lookup(name string) (TraderDefinition, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range s.Traders {
		if t.Name == name {
			return t, true
		}
	}
	return TraderDefinition{}, false
}

// ChangeListener is invoked with a fresh snapshot after each reload.
type ChangeListener func(RosterSnapshot)

// RosterLoader reads the trader roster and watches the file for edits. A
// missing file serves the built-in roster and starts watching its directory
// so creating the file later still takes effect.
type RosterLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  RosterSnapshot
	listeners []ChangeListener
}

func NewRosterLoader(path string) (*RosterLoader, error) {
	l := &RosterLoader{path: strings.TrimSpace(path)}
	if err := l.reload(); err != nil {
		return nil, err
	}
	if l.path != "" {
		if err := l.watch(); err != nil {
			logger.Warnf("roster: watch %s: %v (hot reload disabled)", l.path, err)
		}
	}
	return l, nil
}

func (l *RosterLoader) Close() error {
	if l == nil || l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Snapshot returns the current roster.
func (l *RosterLoader) Snapshot() RosterSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Subscribe registers a listener and immediately delivers the current
// snapshot on a separate goroutine.
func (l *RosterLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := l.snapshot
	l.mu.Unlock()
	go deliver(fn, snap)
}

func deliver(fn ChangeListener, snap RosterSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("roster: listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *RosterLoader) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files, which drops a watch on the
	// file itself.
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	l.watcher = w
	base := filepath.Base(l.path)
	go func() {
		for {
			select {
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(evt.Name) != base {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					logger.Errorf("roster: reload after %s: %v", evt.Op, err)
					continue
				}
				l.notify()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("roster: watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (l *RosterLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go deliver(fn, snap)
	}
}

func (l *RosterLoader) reload() error {
	traders, err := l.read()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = RosterSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Traders:  traders,
	}
	version := l.snapshot.Version
	l.mu.Unlock()
	logger.Infof("roster: loaded %d traders (version %d)", len(traders), version)
	return nil
}

func (l *RosterLoader) read() ([]TraderDefinition, error) {
	if l.path == "" {
		return DefaultRoster(), nil
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("roster: %s not found, using built-in roster", l.path)
			return DefaultRoster(), nil
		}
		return nil, fmt.Errorf("read roster %s: %w", l.path, err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", l.path, err)
	}
	if len(file.Traders) == 0 {
		return DefaultRoster(), nil
	}
	out := make([]TraderDefinition, 0, len(file.Traders))
	for name, def := range file.Traders {
		def.Name = strings.ToLower(strings.TrimSpace(name))
		if def.Name == "" {
			continue
		}
		if strings.TrimSpace(def.DisplayName) == "" {
			def.DisplayName = titleCase(def.Name)
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// DefaultRoster is the built-in four-trader floor.
func DefaultRoster() []TraderDefinition {
	return []TraderDefinition{
		{
			Name:        "cathie",
			DisplayName: "Cathie",
			Strategy: "You hunt for disruptive innovation: high-growth technology, " +
				"genomics and crypto exposure. You accept volatility and concentrate " +
				"on conviction picks with asymmetric upside.",
		},
		{
			Name:        "george",
			DisplayName: "George",
			Strategy: "You are an aggressive macro contrarian. You look for " +
				"dislocations between price and fundamentals, take bold positions " +
				"against the crowd and cut losers fast.",
		},
		{
			Name:        "ray",
			DisplayName: "Ray",
			Strategy: "You run a systematic risk-parity book: diversify across " +
				"uncorrelated assets, size positions by risk and rebalance " +
				"mechanically rather than on conviction.",
		},
		{
			Name:        "warren",
			DisplayName: "Warren",
			Strategy: "You are a patient value investor. You buy wonderful " +
				"businesses at fair prices, hold for the long term and ignore " +
				"short-term market noise.",
		},
	}
}
