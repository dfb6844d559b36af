package dom

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/html"

	"github.com/gcslaoli/watermark-guard-go/defense"
)

type pending struct {
	rec  defense.Record
	node *html.Node // attribute target; its value is read at delivery
}

type observer struct {
	target *html.Node
	rule   defense.Rule
	fn     func([]defense.Record)
	queue  []pending
	active bool
}

func (o *observer) covers(n *html.Node) bool {
	if n == o.target {
		return true
	}
	return o.rule.Subtree && contains(o.target, n)
}

// Observe implements defense.SubtreeWatcher. The observation is bound to the
// element id resolves to now, not to the id.
func (d *Document) Observe(id string, rule defense.Rule, fn func([]defense.Record)) (defense.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.byID(id)
	if n == nil {
		return nil, fmt.Errorf("observe %q: %w", id, ErrNotFound)
	}
	o := &observer{target: n, rule: rule, fn: fn, active: true}
	d.observers = append(d.observers, o)
	return &handle{doc: d, obs: o}, nil
}

func (d *Document) queueChildList(p *html.Node, added, removed []*html.Node) {
	for _, o := range d.observers {
		if !o.rule.ChildList || !o.covers(p) {
			continue
		}
		id, _ := attr(p, "id")
		o.queue = append(o.queue, pending{rec: defense.Record{
			Type:    defense.ChildList,
			Target:  id,
			Added:   ids(added),
			Removed: ids(removed),
		}})
	}
}

func (d *Document) queueAttr(n *html.Node, name, old string) {
	for _, o := range d.observers {
		if !o.rule.Watches(name) || !o.covers(n) {
			continue
		}
		o.queue = append(o.queue, pending{
			rec:  defense.Record{Type: defense.Attributes, Name: name, OldValue: old},
			node: n,
		})
	}
}

// Pending returns the number of queued records.
func (d *Document) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, o := range d.observers {
		total += len(o.queue)
	}
	return total
}

// Flush runs one event-loop turn: every observer with queued records gets
// them as one batch. Records produced by the callbacks wait for the next
// turn. It returns the number of batches delivered.
func (d *Document) Flush() int {
	type delivery struct {
		obs  *observer
		recs []defense.Record
	}

	d.mu.Lock()
	var ds []delivery
	for _, o := range d.observers {
		if len(o.queue) == 0 {
			continue
		}
		recs := make([]defense.Record, len(o.queue))
		for i, p := range o.queue {
			recs[i] = p.rec
			if p.node != nil {
				recs[i].Target, _ = attr(p.node, "id")
				recs[i].Value, recs[i].Present = attr(p.node, p.rec.Name)
			}
		}
		o.queue = nil
		ds = append(ds, delivery{obs: o, recs: recs})
	}
	d.mu.Unlock()

	delivered := 0
	for _, dl := range ds {
		d.mu.Lock()
		active := dl.obs.active
		d.mu.Unlock()
		if !active {
			continue
		}
		dl.obs.fn(dl.recs)
		delivered++
	}
	return delivered
}

// Settle runs turns until no batch is delivered or maxTurns is reached, and
// returns the number of turns that delivered something.
func (d *Document) Settle(maxTurns int) int {
	turns := 0
	for turns < maxTurns && d.Flush() > 0 {
		turns++
	}
	return turns
}

// Run flushes every interval until ctx is done.
func (d *Document) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Flush()
		}
	}
}

// handle is a live observation. It can patch the observed node directly,
// which keeps working after the node's id was tampered with.
type handle struct {
	doc *Document
	obs *observer
}

// Disconnect stops delivery and drops queued records.
func (h *handle) Disconnect() {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	if !h.obs.active {
		return
	}
	h.obs.active = false
	h.obs.queue = nil
	for i, o := range h.doc.observers {
		if o == h.obs {
			h.doc.observers = append(h.doc.observers[:i], h.doc.observers[i+1:]...)
			break
		}
	}
}

// SetAttr implements defense.AttrPatcher.
func (h *handle) SetAttr(name, value string) error {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	h.doc.setAttr(h.obs.target, name, value)
	return nil
}

// RemoveAttr implements defense.AttrPatcher.
func (h *handle) RemoveAttr(name string) error {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	h.doc.removeAttr(h.obs.target, name)
	return nil
}
