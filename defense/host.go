package defense

// Element is a point-in-time view of one element, addressed by its id
// attribute.
type Element struct {
	ID       string
	Tag      string
	Parent   string // id attribute of the parent element, "" if it has none
	Attached bool   // connected to the document
	Children []string
	Attrs    map[string]string
}

// Attr returns the value of the named attribute.
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// RecordType tells which kind of change a Record describes.
type RecordType string

const (
	ChildList  RecordType = "childList"
	Attributes RecordType = "attributes"
)

// Record is one low-level mutation notification. Value and Present describe
// the attribute as it was when the batch was delivered.
type Record struct {
	Type     RecordType
	Target   string // id of the mutated element, "" if it has none
	Added    []string
	Removed  []string
	Name     string // attribute name
	OldValue string
	Value    string
	Present  bool
}

// Rule selects which mutations an observation reports.
type Rule struct {
	ChildList       bool     `json:"childList"`
	Subtree         bool     `json:"subtree"`
	Attributes      bool     `json:"attributes"`
	AttributeFilter []string `json:"attributeFilter,omitempty"`
}

// Watches reports whether the rule covers attribute name.
func (r Rule) Watches(name string) bool {
	if !r.Attributes {
		return false
	}
	if len(r.AttributeFilter) == 0 {
		return true
	}
	for _, n := range r.AttributeFilter {
		if n == name {
			return true
		}
	}
	return false
}

// Handle is a live observation.
type Handle interface {
	Disconnect()
}

// HandleFunc adapts a function to Handle.
type HandleFunc func()

// Disconnect calls f.
func (f HandleFunc) Disconnect() { f() }

// AttrPatcher is implemented by handles that can write attributes of the
// exact node they observe, even after its id attribute was changed.
type AttrPatcher interface {
	SetAttr(name, value string) error
	RemoveAttr(name string) error
}

// SubtreeWatcher observes an element. fn receives every record collected in
// one delivery turn as a single batch and is never called synchronously from
// inside a mutation.
type SubtreeWatcher interface {
	Observe(id string, rule Rule, fn func([]Record)) (Handle, error)
}

// Resolver looks elements up by id. An empty id addresses the document body.
type Resolver interface {
	Resolve(id string) (Element, bool)
}

// Mutator changes the document. An empty parentID addresses the document
// body.
type Mutator interface {
	// Insert creates el as the first child of parentID.
	Insert(parentID string, el Element) error
	Remove(id string) error
	SetAttr(id, name, value string) error
	RemoveAttr(id, name string) error
}

// Host is everything a Session needs from its environment.
type Host interface {
	Resolver
	Mutator
	SubtreeWatcher
}

type hostWithWatcher struct {
	Resolver
	Mutator
	SubtreeWatcher
}

// WithWatcher returns h with its observation replaced by w, e.g. a
// PollingWatcher where native observation is unavailable.
func WithWatcher(h Host, w SubtreeWatcher) Host {
	return hostWithWatcher{Resolver: h, Mutator: h, SubtreeWatcher: w}
}
