// Package filehost guards a watermark overlay inside an HTML file on disk.
// The file is mirrored into a dom.Document; external edits are picked up
// with fsnotify, debounced into one batch, diffed against the last snapshot
// of every observed element and delivered to the observers. Repairs made
// through the host are written back to the file.
package filehost

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/gcslaoli/watermark-guard-go/defense"
	"github.com/gcslaoli/watermark-guard-go/dom"
)

// Config configures a Guard.
type Config struct {
	Path string
	// Debounce is how long events are merged before the file is re-read.
	// Default: 50ms.
	Debounce time.Duration
	Logger   *log.Logger
}

type watch struct {
	id     string
	rule   defense.Rule
	fn     func([]defense.Record)
	prev   defense.Element
	active bool
}

// Guard is a defense.Host backed by one HTML file.
type Guard struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	doc     *dom.Document
	hash    string // content hash of the file as last read or written
	watches []*watch

	// reloadMu keeps batches in file-change order.
	reloadMu sync.Mutex

	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Open reads and parses the file. Call Start to follow external edits.
func Open(cfg Config) (*Guard, error) {
	if cfg.Path == "" {
		return nil, errors.New("filehost: path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("filehost: %w", err)
	}
	cfg.Path = abs

	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("filehost: read: %w", err)
	}
	doc, err := dom.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("filehost: %w", err)
	}
	return &Guard{
		cfg:      cfg,
		logger:   cfg.Logger.With("file", filepath.Base(cfg.Path)),
		doc:      doc,
		hash:     hashBytes(raw),
		stopChan: make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the guarded file.
func (g *Guard) Path() string { return g.cfg.Path }

// Start watches the file's directory, so editors that save by renaming a
// temporary file are seen too.
func (g *Guard) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filehost: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(g.cfg.Path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("filehost: watch %s: %w", filepath.Dir(g.cfg.Path), err)
	}
	g.fsw = fsw

	g.wg.Add(1)
	go g.run()
	g.logger.Debug("filehost: watching", "path", g.cfg.Path, "debounce", g.cfg.Debounce)
	return nil
}

// Stop ends watching. It is safe to call more than once and without Start.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopChan)
		if g.fsw != nil {
			_ = g.fsw.Close()
		}
		g.wg.Wait()
	})
}

// run merges events for the file and re-reads it once per debounce tick.
func (g *Guard) run() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.Debounce)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case ev, ok := <-g.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != g.cfg.Path {
				continue
			}
			dirty = true

		case err, ok := <-g.fsw.Errors:
			if !ok {
				return
			}
			g.logger.Warn("filehost: watcher error", "err", err)

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := g.Reload(); err != nil {
				g.logger.Warn("filehost: reload failed", "err", err)
			}

		case <-g.stopChan:
			return
		}
	}
}

// Reload re-reads the file and, if it changed since it was last read or
// written by the Guard, delivers one batch to every observer whose element
// changed. It returns after all observers ran.
func (g *Guard) Reload() error {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	raw, err := os.ReadFile(g.cfg.Path)
	if err != nil {
		return fmt.Errorf("filehost: read: %w", err)
	}
	sum := hashBytes(raw)

	g.mu.Lock()
	if sum == g.hash {
		g.mu.Unlock()
		return nil
	}
	doc, err := dom.Parse(bytes.NewReader(raw))
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("filehost: %w", err)
	}
	g.doc = doc
	g.hash = sum

	type batch struct {
		w    *watch
		recs []defense.Record
	}
	var batches []batch
	for _, w := range g.watches {
		cur, ok := doc.Resolve(w.id)
		recs := defense.Diff(w.prev, cur, ok, w.rule)
		if ok {
			w.prev = cur
		}
		if len(recs) > 0 {
			batches = append(batches, batch{w: w, recs: recs})
		}
	}
	g.mu.Unlock()

	g.logger.Debug("filehost: external change", "batches", len(batches))
	for _, b := range batches {
		g.mu.Lock()
		active := b.w.active
		g.mu.Unlock()
		if active {
			b.w.fn(b.recs)
		}
	}
	return nil
}

// Document returns the current mirror of the file.
func (g *Guard) Document() *dom.Document {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.doc
}

// Resolve implements defense.Resolver.
func (g *Guard) Resolve(id string) (defense.Element, bool) {
	return g.Document().Resolve(id)
}

// Insert implements defense.Mutator.
func (g *Guard) Insert(parentID string, el defense.Element) error {
	return g.mutate(func(d *dom.Document) error { return d.Insert(parentID, el) })
}

// Remove implements defense.Mutator.
func (g *Guard) Remove(id string) error {
	return g.mutate(func(d *dom.Document) error { return d.Remove(id) })
}

// SetAttr implements defense.Mutator.
func (g *Guard) SetAttr(id, name, value string) error {
	return g.mutate(func(d *dom.Document) error { return d.SetAttr(id, name, value) })
}

// RemoveAttr implements defense.Mutator.
func (g *Guard) RemoveAttr(id, name string) error {
	return g.mutate(func(d *dom.Document) error { return d.RemoveAttr(id, name) })
}

// Adopt moves the existing content of parentID into wrapperID.
func (g *Guard) Adopt(parentID, wrapperID string) error {
	return g.mutate(func(d *dom.Document) error { return d.Adopt(parentID, wrapperID) })
}

// Observe implements defense.SubtreeWatcher. Subtree rules are reduced to
// the observed element itself.
func (g *Guard) Observe(id string, rule defense.Rule, fn func([]defense.Record)) (defense.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.doc.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("filehost: observe %q: %w", id, dom.ErrNotFound)
	}
	w := &watch{id: id, rule: rule, fn: fn, prev: prev, active: true}
	g.watches = append(g.watches, w)

	return defense.HandleFunc(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if !w.active {
			return
		}
		w.active = false
		for i, x := range g.watches {
			if x == w {
				g.watches = append(g.watches[:i], g.watches[i+1:]...)
				break
			}
		}
	}), nil
}

// mutate applies fn to the mirror and writes the result to disk. Observers
// are not notified of the Guard's own writes.
func (g *Guard) mutate(fn func(*dom.Document) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := fn(g.doc); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := g.doc.Render(&buf); err != nil {
		return fmt.Errorf("filehost: render: %w", err)
	}
	if err := writeAtomic(g.cfg.Path, buf.Bytes()); err != nil {
		return err
	}
	g.hash = hashBytes(buf.Bytes())

	for _, w := range g.watches {
		if cur, ok := g.doc.Resolve(w.id); ok {
			w.prev = cur
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("filehost: write: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("filehost: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("filehost: write: %w", err)
	}
	if err := os.Chmod(name, mode); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("filehost: write: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("filehost: write: %w", err)
	}
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
