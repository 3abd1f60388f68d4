package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"openui/cli/internal/logging"
)

// Watcher invalidates a Cache whenever a skill directory or its metadata
// file changes under either root.
type Watcher struct {
	roots    Roots
	cache    *Cache
	logger   *slog.Logger
	onChange func()

	// pending roots did not exist when last checked; their nearest existing
	// ancestor is watched instead.
	pending map[string]bool
}

func NewWatcher(roots Roots, cache *Cache, logger *slog.Logger) *Watcher {
	return &Watcher{
		roots:   roots,
		cache:   cache,
		logger:  logging.OrDiscard(logger).With("module", "skills.watch"),
		pending: map[string]bool{},
	}
}

// OnChange registers a callback run after each invalidation.
func (w *Watcher) OnChange(fn func()) {
	w.onChange = fn
}

// Run blocks until ctx is done. A missing root is picked up once it is
// created.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range w.rootList() {
		w.arm(fw, root)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("skills watch error", "err", err)
		}
	}
}

func (w *Watcher) rootList() []string {
	var out []string
	for _, root := range []string{w.roots.Workspace, w.roots.Global} {
		if strings.TrimSpace(root) != "" {
			out = append(out, filepath.Clean(root))
		}
	}
	return out
}

// arm watches root when it exists and otherwise its nearest existing
// ancestor, so the creation of the root is seen. It reports whether root
// itself is watched.
func (w *Watcher) arm(fw *fsnotify.Watcher, root string) bool {
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		delete(w.pending, root)
		w.watchTree(fw, root)
		return true
	}
	w.pending[root] = true
	for dir := filepath.Dir(root); ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := fw.Add(dir); err != nil {
				w.logger.Debug("skills root ancestor not watched", "dir", dir, "err", err)
			}
			return false
		}
		if filepath.Dir(dir) == dir {
			return false
		}
	}
}

// armPending re-arms pending roots at or below a newly created path.
func (w *Watcher) armPending(fw *fsnotify.Watcher, created string) bool {
	created = filepath.Clean(created)
	armed := false
	for root := range w.pending {
		if root == created || strings.HasPrefix(root, created+string(filepath.Separator)) {
			if w.arm(fw, root) {
				armed = true
			}
		}
	}
	return armed
}

// watchTree adds root and its direct subdirectories. Skills live exactly one
// level below the root.
func (w *Watcher) watchTree(fw *fsnotify.Watcher, root string) {
	if err := fw.Add(root); err != nil {
		w.logger.Debug("skills root not watched", "dir", root, "err", err)
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = fw.Add(filepath.Join(root, entry.Name()))
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Create) && len(w.pending) > 0 && w.armPending(fw, event.Name) {
		// The root may already hold skills created along with it.
		w.changed(event)
		return
	}
	if !w.relevant(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) && w.isRoot(filepath.Dir(event.Name)) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = fw.Add(event.Name)
		}
	}
	w.changed(event)
}

func (w *Watcher) changed(event fsnotify.Event) {
	w.logger.Debug("skills changed", "path", event.Name, "op", event.Op.String())
	if w.cache != nil {
		w.cache.Invalidate()
	}
	if w.onChange != nil {
		w.onChange()
	}
}

// relevant accepts skill directories themselves and their metadata files.
func (w *Watcher) relevant(name string) bool {
	if strings.EqualFold(filepath.Base(name), MetadataFileName) {
		return true
	}
	return w.isRoot(filepath.Dir(name))
}

func (w *Watcher) isRoot(dir string) bool {
	dir = filepath.Clean(dir)
	for _, root := range w.rootList() {
		if root == dir {
			return true
		}
	}
	return false
}
