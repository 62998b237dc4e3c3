package menu

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// LoadDir parses every *.json file in dir into a Node, keyed by its
// filename without extension (so "home.json" registers "home"). A
// partially-written file mid-copy that fails to parse aborts the whole
// load rather than swapping in a half-populated map.
func LoadDir(dir string) (map[string]*Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read menu dir %s", dir)
	}
	nodes := map[string]*Node{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read menu file %s", path)
		}
		var node Node
		if err := json.Unmarshal(b, &node); err != nil {
			return nil, errors.Wrapf(err, "parse menu file %s", path)
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if node.Name == "" {
			node.Name = name
		}
		nodes[name] = &node
	}
	return nodes, nil
}

// Watcher hot-reloads dir into engine on every filesystem change,
// debounced so a burst of writes (e.g. a git checkout) triggers one
// reparse rather than one per touched file. A reparse failure is logged
// and the engine keeps serving its last good snapshot.
type Watcher struct {
	dir      string
	engine   *Engine
	log      zerolog.Logger
	fsw      *fsnotify.Watcher
	debounce time.Duration
	stop     chan struct{}
}

// NewWatcher wires a fsnotify watch on dir that reloads engine.
func NewWatcher(dir string, engine *Engine, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create menu fsnotify watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch menu dir %s", dir)
	}
	return &Watcher{
		dir:      dir,
		engine:   engine,
		log:      log.With().Str("component", "menu.watcher").Logger(),
		fsw:      fsw,
		debounce: 200 * time.Millisecond,
		stop:     make(chan struct{}),
	}, nil
}

// Start runs the debounced reload loop in a goroutine until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	reload := func() {
		nodes, err := LoadDir(w.dir)
		if err != nil {
			w.log.Warn().Err(err).Msg("menu reload failed, keeping previous snapshot")
			return
		}
		w.engine.Swap(nodes)
		w.log.Info().Int("nodes", len(nodes)).Msg("menu configuration reloaded")
	}
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("menu watcher error")
		}
	}
}

// Stop halts the reload loop and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stop)
	return w.fsw.Close()
}
