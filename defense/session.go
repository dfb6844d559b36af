// Package defense keeps a watermark overlay present and unmodified. A Session
// arms two observations on the host document: a removal rule on the wrapper
// and an attribute rule on the watermark. Deviations from the last state the
// session itself established are repaired and reported through an alarm
// callback, at most once per delivered batch.
package defense

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// WatchedAttributes are the attributes that decide whether the overlay is
// visible and findable.
var WatchedAttributes = []string{"style", "id", "class", "hidden"}

// State is the lifecycle state of a Session.
type State int32

const (
	Armed State = iota
	Reacting
	Disarmed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Reacting:
		return "reacting"
	case Disarmed:
		return "disarmed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Reason names the rule that raised an alarm.
type Reason string

const (
	ReasonRemoval   Reason = "removal"
	ReasonAttribute Reason = "attribute"
)

// Alarm describes one logical interference event.
type Alarm struct {
	Reason      Reason
	WrapperID   string
	WatermarkID string
	Target      string   // id of the tampered element
	Attributes  []string // deviating attributes, attribute alarms only
	Records     int      // raw records in the batch that triggered it
	Restored    bool
	At          time.Time
}

// AlarmFunc receives alarms. It runs inside the session's batch processing
// and may call Stop.
type AlarmFunc func(Alarm)

// Handles are the live observations of a session. WrapperAttribute always
// watches the wrapper's id; with Config.GuardWrapper it covers every watched
// attribute.
type Handles struct {
	Removal          Handle
	Attribute        Handle
	WrapperAttribute Handle
}

// Config describes what a session defends and how it reacts.
type Config struct {
	Host        Host
	WrapperID   string
	WatermarkID string
	// Tag of a re-created watermark element. Default: "div".
	Tag string
	// Style is the watermark's style attribute as mounted. Empty means read
	// it from the host at Start.
	Style string
	// Regenerate returns the style attribute for a re-created watermark. It
	// is called on every restore; nil reuses Style.
	Regenerate func() (string, error)
	Alarm      AlarmFunc
	// NoRestore turns the session into an alarm-only monitor.
	NoRestore bool
	// GuardWrapper watches every watched attribute of the wrapper, not only
	// its id.
	GuardWrapper bool
	// OnHandles is called with the current handles at Start and whenever the
	// attribute observation is rebound to a re-created node.
	OnHandles func(Handles)
	Logger    *log.Logger
	Now       func() time.Time
}

// Stats are point-in-time counters.
type Stats struct {
	Batches  int64
	Alarms   int64
	Restores int64
	Failures int64
}

// Session is one armed defence of one overlay.
type Session struct {
	cfg    Config
	host   Host
	logger *log.Logger

	state atomic.Int32

	// mu serialises batch processing.
	mu          sync.Mutex
	style       string
	goodMark    map[string]string
	goodWrapper map[string]string
	wrapperRule Rule
	// missing is set once a missing watermark was reported and cleared
	// when it is back in place.
	missing bool

	hmu     sync.Mutex
	handles Handles

	batches  atomic.Int64
	alarms   atomic.Int64
	restores atomic.Int64
	failures atomic.Int64
}

// Start arms a session. Both elements must already be mounted.
func Start(cfg Config) (*Session, error) {
	if cfg.Host == nil {
		return nil, errors.New("defense: nil host")
	}
	if cfg.WrapperID == "" || cfg.WatermarkID == "" {
		return nil, errors.New("defense: wrapper and watermark ids are required")
	}
	if cfg.Tag == "" {
		cfg.Tag = "div"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	wrapper, ok := cfg.Host.Resolve(cfg.WrapperID)
	if !ok {
		return nil, fmt.Errorf("defense: wrapper %q not found", cfg.WrapperID)
	}
	mark, ok := cfg.Host.Resolve(cfg.WatermarkID)
	if !ok {
		return nil, fmt.Errorf("defense: watermark %q not found", cfg.WatermarkID)
	}
	if cfg.Style == "" {
		cfg.Style = mark.Attrs["style"]
	}

	wrule := Rule{Attributes: true, AttributeFilter: []string{"id"}}
	if cfg.GuardWrapper {
		wrule = attributeRule()
	}
	goodMark := pick(mark.Attrs, WatchedAttributes)
	goodMark["id"] = cfg.WatermarkID
	goodWrapper := pick(wrapper.Attrs, wrule.AttributeFilter)
	goodWrapper["id"] = cfg.WrapperID

	s := &Session{
		cfg:         cfg,
		host:        cfg.Host,
		logger:      cfg.Logger.With("wrapper", cfg.WrapperID),
		style:       cfg.Style,
		goodMark:    goodMark,
		goodWrapper: goodWrapper,
		wrapperRule: wrule,
	}

	removal, err := s.host.Observe(cfg.WrapperID, Rule{ChildList: true, Subtree: true}, s.onRemoval)
	if err != nil {
		return nil, fmt.Errorf("defense: observe wrapper: %w", err)
	}
	attr, err := s.observeWatermark()
	if err != nil {
		removal.Disconnect()
		return nil, fmt.Errorf("defense: observe watermark: %w", err)
	}
	wattr, err := s.host.Observe(cfg.WrapperID, wrule, s.onWrapperAttribute)
	if err != nil {
		removal.Disconnect()
		attr.Disconnect()
		return nil, fmt.Errorf("defense: observe wrapper attributes: %w", err)
	}
	s.handles = Handles{Removal: removal, Attribute: attr, WrapperAttribute: wattr}

	s.publish(s.handles)
	s.logger.Debug("defense: armed", "watermark", cfg.WatermarkID, "guard_wrapper", cfg.GuardWrapper)
	return s, nil
}

// Stop disarms the session and releases its observations. It is safe to call
// more than once, on a nil session, and from inside an alarm. A batch that is
// already being handled completes; no later batch is handled.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	if State(s.state.Swap(int32(Disarmed))) == Disarmed {
		return
	}

	s.hmu.Lock()
	h := s.handles
	s.handles = Handles{}
	s.hmu.Unlock()

	for _, hd := range []Handle{h.Removal, h.Attribute, h.WrapperAttribute} {
		if hd != nil {
			hd.Disconnect()
		}
	}
	s.logger.Debug("defense: disarmed")
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return Disarmed
	}
	return State(s.state.Load())
}

// Handles returns the live observations.
func (s *Session) Handles() Handles {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return s.handles
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Batches:  s.batches.Load(),
		Alarms:   s.alarms.Load(),
		Restores: s.restores.Load(),
		Failures: s.failures.Load(),
	}
}

// enter moves Armed -> Reacting. It fails once the session is disarmed.
func (s *Session) enter() bool {
	if !s.state.CompareAndSwap(int32(Armed), int32(Reacting)) {
		return false
	}
	s.batches.Add(1)
	return true
}

// leave moves Reacting -> Armed unless Stop ran meanwhile.
func (s *Session) leave() {
	s.state.CompareAndSwap(int32(Reacting), int32(Armed))
}

func (s *Session) onRemoval(recs []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(recs) == 0 || !s.enter() {
		return
	}
	defer s.leave()
	s.checkWatermark(len(recs))
}

// checkWatermark repairs a watermark that is no longer directly under the
// wrapper. A missing watermark raises one alarm until it is back in place.
func (s *Session) checkWatermark(records int) {
	if s.watermarkInPlace() {
		s.missing = false
		return
	}
	if w, ok := s.host.Resolve(s.cfg.WrapperID); !ok || !w.Attached {
		// The host is tearing the whole overlay down.
		s.logger.Debug("defense: wrapper gone, nothing to restore")
		return
	}

	restored := false
	if !s.cfg.NoRestore {
		if err := s.restoreWatermark(); err != nil {
			s.fail(err)
		} else {
			restored = true
		}
	}
	if s.missing {
		if restored {
			s.missing = false
		}
		return
	}
	s.missing = !restored
	s.alarm(Alarm{
		Reason:   ReasonRemoval,
		Target:   s.cfg.WatermarkID,
		Records:  records,
		Restored: restored,
	})
}

func (s *Session) onAttribute(recs []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enter() {
		return
	}
	defer s.leave()

	dev := deviations(recs, attributeRule(), s.goodWatermark)
	if len(dev) == 0 {
		return
	}

	restored := false
	if !s.cfg.NoRestore {
		restored = true
		patcher, _ := s.Handles().Attribute.(AttrPatcher)
		for _, name := range dev {
			if err := s.restoreAttr(patcher, s.cfg.WatermarkID, name, s.goodWatermark); err != nil {
				restored = false
				s.fail(err)
			}
		}
		if !restored {
			if _, ok := s.host.Resolve(s.cfg.WatermarkID); !ok {
				// The node can no longer be addressed; replace it.
				if err := s.restoreWatermark(); err != nil {
					s.fail(err)
				} else {
					restored = true
				}
			}
		}
	}
	s.alarm(Alarm{
		Reason:     ReasonAttribute,
		Target:     s.cfg.WatermarkID,
		Attributes: dev,
		Records:    len(recs),
		Restored:   restored,
	})
}

func (s *Session) onWrapperAttribute(recs []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enter() {
		return
	}
	defer s.leave()

	dev := deviations(recs, s.wrapperRule, s.goodWrapperAttr)
	if len(dev) == 0 {
		return
	}

	restored := false
	if !s.cfg.NoRestore {
		restored = true
		patcher, _ := s.Handles().WrapperAttribute.(AttrPatcher)
		for _, name := range dev {
			if err := s.restoreAttr(patcher, s.cfg.WrapperID, name, s.goodWrapperAttr); err != nil {
				restored = false
				s.fail(err)
			}
		}
	}
	s.alarm(Alarm{
		Reason:     ReasonAttribute,
		Target:     s.cfg.WrapperID,
		Attributes: dev,
		Records:    len(recs),
		Restored:   restored,
	})

	// While the wrapper's id was wrong the removal rule could not find it.
	if restored && s.State() != Disarmed {
		s.checkWatermark(len(recs))
	}
}

// watermarkInPlace reports whether the watermark is attached directly under
// the wrapper.
func (s *Session) watermarkInPlace() bool {
	el, ok := s.host.Resolve(s.cfg.WatermarkID)
	return ok && el.Attached && el.Parent == s.cfg.WrapperID
}

// restoreWatermark replaces whatever carries the watermark id with a fresh
// element at the top of the wrapper and moves the attribute rule onto it.
func (s *Session) restoreWatermark() error {
	id := s.cfg.WatermarkID
	if _, ok := s.host.Resolve(id); ok {
		if err := s.host.Remove(id); err != nil {
			return &RestoreError{Op: "remove stale", ID: id, Err: err}
		}
	}

	style := s.style
	if s.cfg.Regenerate != nil {
		if st, err := s.cfg.Regenerate(); err != nil {
			s.logger.Warn("defense: regenerate failed, reusing last pattern", "err", err)
		} else {
			style = st
		}
	}

	attrs := make(map[string]string, len(s.goodMark))
	for k, v := range s.goodMark {
		attrs[k] = v
	}
	attrs["style"] = style
	el := Element{ID: id, Tag: s.cfg.Tag, Attrs: attrs}
	if err := s.host.Insert(s.cfg.WrapperID, el); err != nil {
		return &RestoreError{Op: "insert", ID: id, Err: err}
	}
	s.style = style
	s.restores.Add(1)

	return s.rebindAttribute()
}

func (s *Session) rebindAttribute() error {
	h, err := s.observeWatermark()
	if err != nil {
		return &RestoreError{Op: "observe", ID: s.cfg.WatermarkID, Err: err}
	}

	s.hmu.Lock()
	if s.State() == Disarmed {
		s.hmu.Unlock()
		h.Disconnect()
		return nil
	}
	old := s.handles.Attribute
	s.handles.Attribute = h
	current := s.handles
	s.hmu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	s.publish(current)
	return nil
}

func (s *Session) observeWatermark() (Handle, error) {
	return s.host.Observe(s.cfg.WatermarkID, attributeRule(), s.onAttribute)
}

func (s *Session) restoreAttr(p AttrPatcher, id, name string, good func(string) (string, bool)) error {
	v, present := good(name)
	var err error
	switch {
	case present && p != nil:
		err = p.SetAttr(name, v)
	case present:
		err = s.host.SetAttr(id, name, v)
	case p != nil:
		err = p.RemoveAttr(name)
	default:
		err = s.host.RemoveAttr(id, name)
	}
	if err != nil {
		return &RestoreError{Op: "restore attribute " + name, ID: id, Err: err}
	}
	s.restores.Add(1)
	return nil
}

func (s *Session) goodWatermark(name string) (string, bool) {
	if name == "style" {
		return s.style, true
	}
	v, ok := s.goodMark[name]
	return v, ok
}

func (s *Session) goodWrapperAttr(name string) (string, bool) {
	v, ok := s.goodWrapper[name]
	return v, ok
}

func (s *Session) alarm(a Alarm) {
	s.alarms.Add(1)
	a.WrapperID = s.cfg.WrapperID
	a.WatermarkID = s.cfg.WatermarkID
	a.At = s.cfg.Now()
	s.logger.Info("defense: tamper detected",
		"reason", a.Reason, "target", a.Target, "records", a.Records, "restored", a.Restored)
	if s.cfg.Alarm != nil {
		s.cfg.Alarm(a)
	}
}

func (s *Session) fail(err error) {
	s.failures.Add(1)
	s.logger.Warn("defense: restore failed", "err", err)
}

func (s *Session) publish(h Handles) {
	if s.cfg.OnHandles != nil {
		s.cfg.OnHandles(h)
	}
}

func attributeRule() Rule {
	return Rule{Attributes: true, AttributeFilter: WatchedAttributes}
}

// deviations returns, in first-seen order, the attributes covered by rule
// whose delivered value differs from good.
func deviations(recs []Record, rule Rule, good func(string) (string, bool)) []string {
	latest := make(map[string]Record)
	var order []string
	for _, r := range recs {
		if r.Type != Attributes || !rule.Watches(r.Name) {
			continue
		}
		if _, seen := latest[r.Name]; !seen {
			order = append(order, r.Name)
		}
		latest[r.Name] = r
	}

	var out []string
	for _, name := range order {
		r := latest[name]
		v, ok := good(name)
		if r.Present != ok || (ok && r.Value != v) {
			out = append(out, name)
		}
	}
	return out
}

func pick(attrs map[string]string, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := attrs[n]; ok {
			out[n] = v
		}
	}
	return out
}
