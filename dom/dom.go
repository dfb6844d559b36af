// Package dom is an in-process document built on golang.org/x/net/html that
// satisfies defense.Host. Mutations never notify observers directly: records
// are queued per observer and delivered, one batch per observer, when the
// owner runs an event-loop turn with Flush (or Run).
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gcslaoli/watermark-guard-go/defense"
)

// ErrNotFound is returned when an id does not resolve to an attached element.
var ErrNotFound = errors.New("dom: element not found")

// Document is a mutable HTML tree. It is safe for concurrent use; every
// mutation is applied under one lock, which gives callers the total order a
// browser main thread would.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	observers []*observer
}

// New returns an empty document.
func New() *Document {
	doc, err := ParseString("<!DOCTYPE html><html><head></head><body></body></html>")
	if err != nil {
		panic(err)
	}
	return doc
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse for an in-memory string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, returning "" on error.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// GetElementByID returns the first attached element with the id, or the
// body for "".
func (d *Document) GetElementByID(id string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID(id)
}

// Body returns the body element.
func (d *Document) Body() *html.Node {
	return d.GetElementByID("")
}

// Resolve implements defense.Resolver.
func (d *Document) Resolve(id string) (defense.Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.byID(id)
	if n == nil {
		return defense.Element{}, false
	}
	return snapshot(n), true
}

// Insert implements defense.Mutator.
func (d *Document) Insert(parentID string, el defense.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.byID(parentID)
	if p == nil {
		return fmt.Errorf("insert into %q: %w", parentID, ErrNotFound)
	}
	d.insert(p, newElement(el), p.FirstChild)
	return nil
}

// Remove implements defense.Mutator.
func (d *Document) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.byID(id)
	if n == nil {
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	d.detach(n)
	return nil
}

// SetAttr implements defense.Mutator.
func (d *Document) SetAttr(id, name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.byID(id)
	if n == nil {
		return fmt.Errorf("set %s on %q: %w", name, id, ErrNotFound)
	}
	d.setAttr(n, name, value)
	return nil
}

// RemoveAttr implements defense.Mutator.
func (d *Document) RemoveAttr(id, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.byID(id)
	if n == nil {
		return fmt.Errorf("remove %s from %q: %w", name, id, ErrNotFound)
	}
	d.removeAttr(n, name)
	return nil
}

// Adopt moves every child of parentID except wrapperID to the end of
// wrapperID, so the overlay wrapper ends up around existing content.
func (d *Document) Adopt(parentID, wrapperID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, w := d.byID(parentID), d.byID(wrapperID)
	if p == nil || w == nil {
		return fmt.Errorf("adopt %q into %q: %w", parentID, wrapperID, ErrNotFound)
	}
	var moved []*html.Node
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		if c != w {
			moved = append(moved, c)
		}
	}
	for _, c := range moved {
		d.insert(w, c, nil)
	}
	return nil
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string, attrs ...html.Attribute) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	n.Attr = append(n.Attr, attrs...)
	return n
}

// AppendChild moves child to the end of parent, detaching it first.
func (d *Document) AppendChild(parent, child *html.Node) error {
	return d.InsertBefore(parent, child, nil)
}

// InsertBefore moves child before ref inside parent. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) error {
	if parent == nil || child == nil {
		return errors.New("dom: nil node")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref != nil && ref.Parent != parent {
		return errors.New("dom: reference node is not a child of parent")
	}
	if contains(child, parent) {
		return errors.New("dom: cannot insert a node into its own subtree")
	}
	d.insert(parent, child, ref)
	return nil
}

// RemoveNode detaches n from its parent.
func (d *Document) RemoveNode(n *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n == nil || n.Parent == nil {
		return errors.New("dom: node is not attached")
	}
	d.detach(n)
	return nil
}

// SetNodeAttr sets an attribute on n.
func (d *Document) SetNodeAttr(n *html.Node, name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setAttr(n, name, value)
}

// RemoveNodeAttr removes an attribute from n.
func (d *Document) RemoveNodeAttr(n *html.Node, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeAttr(n, name)
}

// SetInnerHTML replaces the children of n with parsed markup, producing a
// single child-list record like the browser does.
func (d *Document) SetInnerHTML(n *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	d.queueChildList(n, nodes, removed)
	return nil
}

func (d *Document) byID(id string) *html.Node {
	if id == "" {
		return find(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	return find(d.root, func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return ok && v == id
	})
}

func (d *Document) insert(p, n, ref *html.Node) {
	if n.Parent != nil {
		d.detach(n)
	}
	p.InsertBefore(n, ref)
	d.queueChildList(p, []*html.Node{n}, nil)
}

func (d *Document) detach(n *html.Node) {
	p := n.Parent
	p.RemoveChild(n)
	d.queueChildList(p, nil, []*html.Node{n})
}

func (d *Document) setAttr(n *html.Node, name, value string) {
	old, _ := attr(n, name)
	for i := range n.Attr {
		if n.Attr[i].Key == name && n.Attr[i].Namespace == "" {
			n.Attr[i].Val = value
			d.queueAttr(n, name, old)
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	d.queueAttr(n, name, old)
}

func (d *Document) removeAttr(n *html.Node, name string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name && n.Attr[i].Namespace == "" {
			old := n.Attr[i].Val
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.queueAttr(n, name, old)
			return
		}
	}
}

func newElement(el defense.Element) *html.Node {
	tag := el.Tag
	if tag == "" {
		tag = "div"
	}
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}

	attrs := make(map[string]string, len(el.Attrs)+1)
	for k, v := range el.Attrs {
		attrs[k] = v
	}
	if el.ID != "" {
		attrs["id"] = el.ID
	}
	if v, ok := attrs["id"]; ok {
		n.Attr = append(n.Attr, html.Attribute{Key: "id", Val: v})
		delete(attrs, "id")
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: attrs[k]})
	}
	return n
}

func snapshot(n *html.Node) defense.Element {
	el := defense.Element{
		Tag:      n.Data,
		Attached: true,
		Attrs:    make(map[string]string, len(n.Attr)),
	}
	el.ID, _ = attr(n, "id")
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		el.Parent, _ = attr(n.Parent, "id")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			id, _ := attr(c, "id")
			el.Children = append(el.Children, id)
		}
	}
	for _, a := range n.Attr {
		if a.Namespace == "" {
			el.Attrs[a.Key] = a.Val
		}
	}
	return el
}

func attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == name && a.Namespace == "" {
			return a.Val, true
		}
	}
	return "", false
}

// Attr returns the value of an attribute of n.
func Attr(n *html.Node, name string) (string, bool) {
	return attr(n, name)
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, match); f != nil {
			return f
		}
	}
	return nil
}

// contains reports whether n is ancestor or n itself.
func contains(ancestor, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

func ids(nodes []*html.Node) []string {
	var out []string
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		id, _ := attr(n, "id")
		out = append(out, id)
	}
	return out
}
