package defense_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gcslaoli/watermark-guard-go/defense"
	"github.com/gcslaoli/watermark-guard-go/dom"
)

const (
	wrapperID = "wm-wrapper"
	markID    = "wm"
	markStyle = "position:absolute;background-image:url(x);"
)

func mountedDoc(t *testing.T) *dom.Document {
	t.Helper()
	doc := dom.New()
	if err := doc.Insert("", defense.Element{ID: wrapperID, Attrs: map[string]string{"style": "position:relative;"}}); err != nil {
		t.Fatalf("insert wrapper: %v", err)
	}
	if err := doc.Insert(wrapperID, defense.Element{ID: markID, Attrs: map[string]string{"style": markStyle}}); err != nil {
		t.Fatalf("insert watermark: %v", err)
	}
	return doc
}

type alarms struct {
	mu  sync.Mutex
	got []defense.Alarm
}

func (a *alarms) add(al defense.Alarm) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, al)
}

func (a *alarms) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.got)
}

func start(t *testing.T, host defense.Host, cfg defense.Config) *defense.Session {
	t.Helper()
	cfg.Host = host
	cfg.WrapperID = wrapperID
	cfg.WatermarkID = markID
	s, err := defense.Start(cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestStartRequiresMountedElements(t *testing.T) {
	doc := dom.New()
	_, err := defense.Start(defense.Config{Host: doc, WrapperID: wrapperID, WatermarkID: markID})
	if err == nil {
		t.Fatalf("expected error when wrapper is missing")
	}
	if _, err := defense.Start(defense.Config{WrapperID: "a", WatermarkID: "b"}); err == nil {
		t.Fatalf("expected error for nil host")
	}
}

func TestStartReadsStyleFromHost(t *testing.T) {
	doc := mountedDoc(t)
	var al alarms
	start(t, doc, defense.Config{Alarm: al.add})

	mark := doc.GetElementByID(markID)
	doc.SetNodeAttr(mark, "style", "display:none")
	doc.Flush()

	el, _ := doc.Resolve(markID)
	if el.Attrs["style"] != markStyle {
		t.Fatalf("style = %q, want %q", el.Attrs["style"], markStyle)
	}
}

func TestRemovalRestoresWithRegeneratedStyle(t *testing.T) {
	doc := mountedDoc(t)
	var al alarms
	calls := 0
	s := start(t, doc, defense.Config{
		Alarm: al.add,
		Regenerate: func() (string, error) {
			calls++
			return markStyle, nil
		},
	})

	_ = doc.Remove(markID)
	doc.Flush()

	el, ok := doc.Resolve(markID)
	if !ok || el.Parent != wrapperID {
		t.Fatalf("watermark not restored")
	}
	if calls != 1 {
		t.Fatalf("Regenerate calls = %d, want 1", calls)
	}
	if al.len() != 1 || al.got[0].Reason != defense.ReasonRemoval || !al.got[0].Restored {
		t.Fatalf("unexpected alarms %+v", al.got)
	}
	if s.State() != defense.Armed {
		t.Fatalf("state = %v, want armed", s.State())
	}
}

func TestRegenerateFailureReusesLastStyle(t *testing.T) {
	doc := mountedDoc(t)
	start(t, doc, defense.Config{
		Regenerate: func() (string, error) { return "", errors.New("no fonts") },
	})

	_ = doc.Remove(markID)
	doc.Flush()

	el, ok := doc.Resolve(markID)
	if !ok || el.Attrs["style"] != markStyle {
		t.Fatalf("watermark not restored with last style: %+v", el)
	}
}

func TestMovedWatermarkIsReplaced(t *testing.T) {
	doc := mountedDoc(t)
	var al alarms
	start(t, doc, defense.Config{Alarm: al.add})

	// Moving the watermark out of the wrapper hides it just as well.
	if err := doc.AppendChild(doc.Body(), doc.GetElementByID(markID)); err != nil {
		t.Fatalf("AppendChild: %v", err)
	}
	doc.Flush()

	el, _ := doc.Resolve(markID)
	if el.Parent != wrapperID {
		t.Fatalf("watermark parent = %q, want wrapper", el.Parent)
	}
	body, _ := doc.Resolve("")
	for _, c := range body.Children {
		if c == markID {
			t.Fatalf("stale watermark left in body")
		}
	}
	if al.len() != 1 {
		t.Fatalf("alarms = %d, want 1", al.len())
	}
}

func TestNoRestoreOnlyAlarms(t *testing.T) {
	doc := mountedDoc(t)
	var al alarms
	start(t, doc, defense.Config{Alarm: al.add, NoRestore: true})

	_ = doc.Remove(markID)
	doc.Flush()

	if _, ok := doc.Resolve(markID); ok {
		t.Fatalf("watermark restored although restore is off")
	}
	if al.len() != 1 || al.got[0].Restored {
		t.Fatalf("unexpected alarms %+v", al.got)
	}
}

func TestWrapperRemovalIsNotTamper(t *testing.T) {
	doc := mountedDoc(t)
	var al alarms
	s := start(t, doc, defense.Config{Alarm: al.add})

	_ = doc.Remove(markID)
	_ = doc.Remove(wrapperID)
	doc.Settle(5)

	if al.len() != 0 {
		t.Fatalf("alarms = %d, want 0", al.len())
	}
	if s.State() != defense.Armed {
		t.Fatalf("state = %v, want armed", s.State())
	}
}

func TestGuardWrapperRestoresWrapperAttributes(t *testing.T) {
	doc := mountedDoc(t)
	var al alarms
	s := start(t, doc, defense.Config{Alarm: al.add, GuardWrapper: true})
	if s.Handles().WrapperAttribute == nil {
		t.Fatalf("wrapper attribute handle missing")
	}

	w := doc.GetElementByID(wrapperID)
	doc.SetNodeAttr(w, "style", "display:none")
	doc.SetNodeAttr(w, "class", "hide")
	doc.Flush()

	el, _ := doc.Resolve(wrapperID)
	if el.Attrs["style"] != "position:relative;" {
		t.Fatalf("wrapper style = %q", el.Attrs["style"])
	}
	if _, ok := el.Attrs["class"]; ok {
		t.Fatalf("wrapper class not removed")
	}
	if al.len() != 1 || al.got[0].Target != wrapperID {
		t.Fatalf("unexpected alarms %+v", al.got)
	}
}

func TestStopIsIdempotentAndReleasesHandles(t *testing.T) {
	doc := mountedDoc(t)
	s := start(t, doc, defense.Config{})

	s.Stop()
	s.Stop()
	if s.State() != defense.Disarmed {
		t.Fatalf("state = %v", s.State())
	}
	if h := s.Handles(); h.Removal != nil || h.Attribute != nil {
		t.Fatalf("handles still held after Stop: %+v", h)
	}

	doc.SetNodeAttr(doc.GetElementByID(markID), "style", "display:none")
	if n := doc.Pending(); n != 0 {
		t.Fatalf("records queued for a disarmed session: %d", n)
	}
}

type failingHost struct {
	*dom.Document
	failInsert bool
}

func (h *failingHost) Insert(parentID string, el defense.Element) error {
	if h.failInsert {
		return errors.New("quota exceeded")
	}
	return h.Document.Insert(parentID, el)
}

func TestRestoreFailureIsSwallowed(t *testing.T) {
	doc := mountedDoc(t)
	host := &failingHost{Document: doc, failInsert: true}
	var al alarms
	s := start(t, host, defense.Config{Alarm: al.add})

	_ = doc.Remove(markID)
	doc.Flush()

	if s.State() != defense.Armed {
		t.Fatalf("state = %v, want armed", s.State())
	}
	if st := s.Stats(); st.Failures != 1 || st.Restores != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if al.len() != 1 || al.got[0].Restored {
		t.Fatalf("unexpected alarms %+v", al.got)
	}

	// The session keeps defending once the host recovers.
	host.failInsert = false
	_ = doc.Insert(wrapperID, defense.Element{ID: "decoy"})
	doc.Flush()
	if _, ok := doc.Resolve(markID); !ok {
		t.Fatalf("watermark not restored after host recovered")
	}
}

func TestPollingWatcherDrivesSession(t *testing.T) {
	doc := mountedDoc(t)
	host := defense.WithWatcher(doc, defense.NewPollingWatcher(doc, 5*time.Millisecond, nil))
	done := make(chan defense.Alarm, 1)
	start(t, host, defense.Config{Alarm: func(a defense.Alarm) {
		select {
		case done <- a:
		default:
		}
	}})

	_ = doc.Remove(markID)

	select {
	case a := <-done:
		if a.Reason != defense.ReasonRemoval {
			t.Fatalf("reason = %s", a.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("polling session did not react")
	}
	if _, ok := doc.Resolve(markID); !ok {
		t.Fatalf("watermark not restored")
	}
}

func TestAdoptedAttributesAreLastKnownGood(t *testing.T) {
	doc := dom.New()
	_ = doc.Insert("", defense.Element{ID: wrapperID})
	_ = doc.Insert(wrapperID, defense.Element{ID: markID, Attrs: map[string]string{"style": markStyle, "class": "wm-layer"}})
	var al alarms
	start(t, doc, defense.Config{Alarm: al.add})

	doc.SetNodeAttr(doc.GetElementByID(markID), "class", "hidden-layer")
	doc.Flush()
	if el, _ := doc.Resolve(markID); el.Attrs["class"] != "wm-layer" {
		t.Fatalf("class = %q, want wm-layer", el.Attrs["class"])
	}

	_ = doc.Remove(markID)
	doc.Settle(5)
	el, ok := doc.Resolve(markID)
	if !ok || el.Attrs["class"] != "wm-layer" || el.Attrs["style"] != markStyle {
		t.Fatalf("re-created watermark lost adopted attributes: %+v", el)
	}
	if al.len() != 2 {
		t.Fatalf("alarms = %d, want 2", al.len())
	}
}
