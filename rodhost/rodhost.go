// Package rodhost defends an overlay in a live Chrome page driven through
// go-rod. A small helper script is injected into the page; it performs DOM
// mutations on request and runs native MutationObservers whose batches are
// sent back through a CDP binding, one binding call per observer callback.
package rodhost

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/gcslaoli/watermark-guard-go/defense"
)

//go:embed guard.js
var guardJS string

const bindingName = "__wmguard_binding"

// ErrNotFound is returned when an id does not resolve in the page.
var ErrNotFound = errors.New("rodhost: element not found")

type observation struct {
	fn     func([]defense.Record)
	active bool
}

// Host is a defense.Host for one rod page.
type Host struct {
	page   *rod.Page
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	observers map[int]*observation
	next      int

	payloads chan string
	wg       sync.WaitGroup
	once     sync.Once
}

// New installs the helper script into page and starts listening for
// observer batches. Close releases the listener; it does not close the page.
func New(ctx context.Context, page *rod.Page, logger *log.Logger) (*Host, error) {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Host{
		page:      page.Context(ctx),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]*observation),
		payloads:  make(chan string, 256),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(h.page); err != nil {
		cancel()
		return nil, fmt.Errorf("rodhost: add binding: %w", err)
	}

	// Subscribe before injecting so no early batch is missed.
	wait := h.page.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		select {
		case h.payloads <- e.Payload:
		case <-ctx.Done():
		}
	})
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		wait()
	}()
	go h.dispatch()

	if _, err := h.page.Eval(guardJS); err != nil {
		h.Close()
		return nil, fmt.Errorf("rodhost: inject guard script: %w", err)
	}
	logger.Debug("rodhost: guard script injected")
	return h, nil
}

// Close stops delivering batches. It is safe to call more than once.
func (h *Host) Close() {
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()
	})
}

// dispatch runs observer callbacks outside the CDP event loop, so callbacks
// may issue page calls of their own.
func (h *Host) dispatch() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case payload := <-h.payloads:
			key, recs, err := decodeBatch(payload)
			if err != nil {
				h.logger.Warn("rodhost: bad observer payload", "err", err)
				continue
			}
			h.mu.Lock()
			o := h.observers[key]
			active := o != nil && o.active
			h.mu.Unlock()
			if active && len(recs) > 0 {
				o.fn(recs)
			}
		}
	}
}

// Resolve implements defense.Resolver.
func (h *Host) Resolve(id string) (defense.Element, bool) {
	res, err := h.page.Eval(`(id) => window.__wmguard.snapshot(id)`, id)
	if err != nil {
		h.logger.Debug("rodhost: snapshot failed", "id", id, "err", err)
		return defense.Element{}, false
	}
	raw := res.Value.Str()
	if raw == "" {
		return defense.Element{}, false
	}
	var w wireElement
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		h.logger.Warn("rodhost: bad snapshot", "id", id, "err", err)
		return defense.Element{}, false
	}
	return w.element(), true
}

// Insert implements defense.Mutator.
func (h *Host) Insert(parentID string, el defense.Element) error {
	return h.call("insert "+el.ID, `(p, el) => window.__wmguard.insert(p, el)`, parentID, toWire(el))
}

// Remove implements defense.Mutator.
func (h *Host) Remove(id string) error {
	return h.call("remove "+id, `(id) => window.__wmguard.remove(id)`, id)
}

// SetAttr implements defense.Mutator.
func (h *Host) SetAttr(id, name, value string) error {
	return h.call("set "+name, `(id, n, v) => window.__wmguard.setAttr(id, n, v)`, id, name, value)
}

// RemoveAttr implements defense.Mutator.
func (h *Host) RemoveAttr(id, name string) error {
	return h.call("remove "+name, `(id, n) => window.__wmguard.removeAttr(id, n)`, id, name)
}

// Observe implements defense.SubtreeWatcher with a native MutationObserver.
func (h *Host) Observe(id string, rule defense.Rule, fn func([]defense.Record)) (defense.Handle, error) {
	h.mu.Lock()
	h.next++
	key := h.next
	o := &observation{fn: fn, active: true}
	h.observers[key] = o
	h.mu.Unlock()

	if err := h.call("observe "+id, `(k, id, r) => window.__wmguard.observe(k, id, r)`, key, id, rule); err != nil {
		h.drop(key)
		return nil, err
	}
	return &handle{host: h, key: key}, nil
}

func (h *Host) drop(key int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.observers[key]
	if !ok {
		return false
	}
	o.active = false
	delete(h.observers, key)
	return true
}

// call evaluates a helper function that reports failure as a non-empty
// string.
func (h *Host) call(op, js string, args ...interface{}) error {
	res, err := h.page.Eval(js, args...)
	if err != nil {
		return fmt.Errorf("rodhost: %s: %w", op, err)
	}
	switch msg := res.Value.Str(); msg {
	case "":
		return nil
	case "not found", "parent not found":
		return fmt.Errorf("rodhost: %s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("rodhost: %s: %s", op, msg)
	}
}

// handle is one page-side observer. It patches the observed node itself, so
// a changed id can be restored.
type handle struct {
	host *Host
	key  int
}

func (hd *handle) Disconnect() {
	if !hd.host.drop(hd.key) {
		return
	}
	if hd.host.ctx.Err() != nil {
		return
	}
	if err := hd.host.call("disconnect", `(k) => window.__wmguard.disconnect(k)`, hd.key); err != nil {
		hd.host.logger.Debug("rodhost: disconnect failed", "err", err)
	}
}

func (hd *handle) SetAttr(name, value string) error {
	return hd.host.call("patch "+name, `(k, n, v, p) => window.__wmguard.patch(k, n, v, p)`, hd.key, name, value, true)
}

func (hd *handle) RemoveAttr(name string) error {
	return hd.host.call("patch "+name, `(k, n, v, p) => window.__wmguard.patch(k, n, v, p)`, hd.key, name, "", false)
}
