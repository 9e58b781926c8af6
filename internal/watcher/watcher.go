// Package watcher keeps the document corpus in sync with a set of directories: files
// that appear or change are ingested after a quiet period, removed files are deleted
// from every index.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gat45/usine-a-gaz/internal/extract"
	"github.com/gat45/usine-a-gaz/internal/fileid"
	"github.com/gat45/usine-a-gaz/internal/indexer"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives the changes observed by the watcher.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*indexer.IngestResult, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Stats counts what the watcher has done since it started.
type Stats struct {
	Ingested int64 `json:"ingested"`
	Skipped  int64 `json:"skipped"`
	Removed  int64 `json:"removed"`
	Failed   int64 `json:"failed"`
}

// Watcher watches root directories and forwards file changes to a Sink.
type Watcher struct {
	sink       Sink
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	fsw     *fsnotify.Watcher
	roots   []string
	watched map[string][]string // root -> directories registered with fsnotify
	pending map[string]*time.Timer
	done    chan struct{}
	stopped sync.Once

	ingested, skipped, removed, failed atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(w *Watcher) { w.logger = l } }

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// New creates a watcher for roots. An empty extension list accepts every format the
// extractor supports.
func New(sink Sink, roots, extensions []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		roots:      cleanRoots(roots),
		watched:    make(map[string][]string),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			out = append(out, filepath.Clean(abs))
		}
	}
	return out
}

// Start registers the roots with fsnotify and processes events in the background until
// ctx is done or Stop is called. Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.watchRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.logger.Info("watching directories", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.loop(ctx, fsw)
	return nil
}

// Run starts the watcher, syncs existing files and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	w.SyncExistingFiles()
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Stop()
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.covered(path) {
		return
	}
	w.logger.Debug("watch event", zap.Stringer("op", ev.Op), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addSubdirectory(path)
			return
		}
		if w.accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.accepts(path) {
			w.remove(path)
		}
	}
}

// addSubdirectory watches a directory that appeared under a root and ingests its files.
func (w *Watcher) addSubdirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	recursive := w.recursive
	w.mu.Unlock()
	if fsw == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(p); err != nil {
				w.logger.Warn("watch add failed", zap.String("path", p), zap.Error(err))
			}
		}
		return nil
	})
	w.syncDirectory(dir)
}

func (w *Watcher) covered(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return matchExtension(path, w.extensions)
}

// matchExtension reports whether path has one of extensions. An empty list defers to
// the formats the extractor can read.
func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return extract.Supported(path)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) runContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) ingest(path string) {
	res, err := w.sink.IngestFile(w.runContext(), path)
	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Skipped {
		w.skipped.Add(1)
		return
	}
	w.ingested.Add(1)
	w.logger.Info("file ingested", zap.String("path", path), zap.Int("chunks", res.Chunks))
}

func (w *Watcher) remove(path string) {
	err := w.sink.DeleteDocument(w.runContext(), fileid.FileDocID(path))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		w.failed.Add(1)
		w.logger.Warn("delete failed", zap.String("path", path), zap.Error(err))
	default:
		w.removed.Add(1)
		w.logger.Info("file removed from index", zap.String("path", path))
	}
}

// AddDirectory starts watching root and, when syncExisting is set, ingests the files
// already in it.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.watchRootLocked(abs); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	w.logger.Info("watch directory added", zap.String("path", abs))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	var dirs []string
	if !w.recursive {
		dirs = []string{root}
	} else {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, p)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, d := range dirs {
		if err := w.fsw.Add(d); err != nil {
			return err
		}
	}
	w.watched[root] = dirs
	return nil
}

// RemoveDirectory stops watching root. Documents already ingested from it stay indexed.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		if w.fsw != nil {
			for _, d := range w.watched[abs] {
				_ = w.fsw.Remove(d)
			}
		}
		delete(w.watched, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("watch directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles ingests every accepted file already present under the roots.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

func (w *Watcher) syncDirectory(root string) {
	recursive := w.recursive
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accepts(p) {
			w.ingest(p)
		}
		return nil
	})
}

// Stats returns counters since start.
func (w *Watcher) Stats() Stats {
	return Stats{
		Ingested: w.ingested.Load(),
		Skipped:  w.skipped.Load(),
		Removed:  w.removed.Load(),
		Failed:   w.failed.Load(),
	}
}

// Stop cancels pending ingestions and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		w.mu.Lock()
		for p, t := range w.pending {
			t.Stop()
			delete(w.pending, p)
		}
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		w.mu.Unlock()
		close(w.done)
	})
}
