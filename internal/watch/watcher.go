// Package watch reloads permission rules when settings files change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/permission"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Reloader rebuilds the rule set. *permission.Aggregator implements it.
type Reloader interface {
	Reload(ctx context.Context) (*permission.RuleSet, error)
}

// Watcher watches settings files and triggers a reload after changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	reloader Reloader
	files    map[string]bool
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for the given settings files. Their parent
// directories are watched so that files created later are noticed;
// directories that do not exist are skipped.
func NewWatcher(reloader Reloader, files []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		reloader: reloader,
		files:    make(map[string]bool, len(files)),
		debounce: DefaultDebounce,
		pending:  make(map[string]fsnotify.Op),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	log := logging.Component("watch")
	dirs := make(map[string]bool)
	for _, f := range files {
		f = filepath.Clean(f)
		w.files[f] = true
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			log.Debug().Str("dir", dir).Msg("settings directory missing, not watched")
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	log.Info().Int("dirs", len(fw.WatchList())).Msg("settings watcher initialized")
	return w, nil
}

// Dirs returns the directories being watched.
func (w *Watcher) Dirs() []string {
	dirs := w.watcher.WatchList()
	sort.Strings(dirs)
	return dirs
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("watch")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.schedule(ev)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("settings watcher error")
		}
	}
}

// schedule records a change and restarts the debounce timer.
func (w *Watcher) schedule(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[filepath.Clean(ev.Name)] |= ev.Op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush publishes the collected changes and reloads once.
func (w *Watcher) flush() {
	w.mu.Lock()
	changed := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.timer = nil
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}
	if len(changed) == 0 {
		return
	}

	paths := make([]string, 0, len(changed))
	for p := range changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		event.PublishSync(event.Event{
			Type: event.SettingsChanged,
			Data: event.SettingsChangedData{Path: p, Op: changed[p].String()},
		})
	}

	log := logging.Component("watch")
	rs, err := w.reloader.Reload(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("failed to reload rules")
		return
	}
	log.Info().Strs("files", paths).Uint64("version", rs.Version).Msg("settings changed, rules reloaded")
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	// Signal stop
	select {
	case <-w.stopCh:
		// Already stopped
	default:
		close(w.stopCh)
	}

	// Wait for run() to finish if it was started
	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
