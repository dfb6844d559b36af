package watermark_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	watermark "github.com/gcslaoli/watermark-guard-go"
	"github.com/gcslaoli/watermark-guard-go/defense"
	"github.com/gcslaoli/watermark-guard-go/dom"
)

type alarmLog struct {
	alarms []defense.Alarm
}

func (l *alarmLog) record(a defense.Alarm) { l.alarms = append(l.alarms, a) }

func (l *alarmLog) count(r defense.Reason) int {
	n := 0
	for _, a := range l.alarms {
		if a.Reason == r {
			n++
		}
	}
	return n
}

func sequentialIDs() watermark.IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
}

func mountConfidential(t *testing.T, doc *dom.Document, props watermark.Props) *watermark.Overlay {
	t.Helper()
	w, h := 160, 100
	rot, op, size := -20.0, 0.15, 9.0
	props.Text = []string{"CONFIDENTIAL"}
	props.Options = watermark.Partial{Width: &w, Height: &h, Rotate: &rot, Opacity: &op, FontSize: &size}
	if props.IDs == nil {
		props.IDs = sequentialIDs()
	}
	o, err := watermark.Mount(doc, "", props)
	if err != nil {
		t.Fatalf("Mount error: %v", err)
	}
	return o
}

func TestMountInsertsWrapperAndWatermark(t *testing.T) {
	doc := dom.New()
	o := mountConfidential(t, doc, watermark.Props{})
	id := o.Identity()

	if id.WrapperID != "watermark-wrapper-t1" || id.WatermarkID != "watermark-t2" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	mark, ok := doc.Resolve(id.WatermarkID)
	if !ok || mark.Parent != id.WrapperID {
		t.Fatalf("watermark not mounted under wrapper: %+v", mark)
	}
	style := watermark.ParseStyle(mark.Attrs["style"])
	bg, _ := style.Get("background-image")
	if bg != o.Pattern().CSS() {
		t.Fatalf("background-image does not carry the pattern")
	}
	if v, _ := style.Get("pointer-events"); v != "none" {
		t.Fatalf("pointer-events = %q, want none", v)
	}

	wrapper, _ := doc.Resolve(id.WrapperID)
	ws := watermark.ParseStyle(wrapper.Attrs["style"])
	if v, _ := ws.Get("position"); v != "relative" {
		t.Fatalf("wrapper position = %q, want relative", v)
	}
	if o.Session().State() != defense.Armed {
		t.Fatalf("session state = %v, want armed", o.Session().State())
	}
}

func TestRemovalSelfHealsInOneTurn(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()
	before, _ := doc.Resolve(id.WatermarkID)

	if err := doc.RemoveNode(doc.GetElementByID(id.WatermarkID)); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	doc.Flush()

	after, ok := doc.Resolve(id.WatermarkID)
	if !ok || after.Parent != id.WrapperID {
		t.Fatalf("watermark not restored under wrapper")
	}
	if after.Attrs["style"] != before.Attrs["style"] {
		t.Fatalf("restored style differs from mounted style")
	}
	if got := log.count(defense.ReasonRemoval); got != 1 {
		t.Fatalf("removal alarms = %d, want 1", got)
	}

	// The restore itself must not trigger another reaction.
	doc.Settle(5)
	if len(log.alarms) != 1 {
		t.Fatalf("alarms after settle = %d, want 1", len(log.alarms))
	}
}

func TestAttributeTamperSelfHeals(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()
	before, _ := doc.Resolve(id.WatermarkID)

	mark := doc.GetElementByID(id.WatermarkID)
	doc.SetNodeAttr(mark, "style", "display:none")
	doc.SetNodeAttr(mark, "style", "opacity:0")
	doc.SetNodeAttr(mark, "hidden", "")
	doc.Flush()

	after, _ := doc.Resolve(id.WatermarkID)
	if after.Attrs["style"] != before.Attrs["style"] {
		t.Fatalf("style not restored: %q", after.Attrs["style"])
	}
	if _, ok := after.Attrs["hidden"]; ok {
		t.Fatalf("hidden attribute not removed")
	}
	if got := log.count(defense.ReasonAttribute); got != 1 {
		t.Fatalf("attribute alarms = %d, want 1", got)
	}
	if got := log.count(defense.ReasonRemoval); got != 0 {
		t.Fatalf("removal alarms = %d, want 0", got)
	}
	if got := log.alarms[0].Attributes; strings.Join(got, ",") != "style,hidden" {
		t.Fatalf("alarm attributes = %v", got)
	}

	doc.Settle(5)
	if len(log.alarms) != 1 {
		t.Fatalf("restoring attributes raised another alarm")
	}
}

func TestIDTamperIsRepairedOnTheSameNode(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()

	mark := doc.GetElementByID(id.WatermarkID)
	doc.SetNodeAttr(mark, "id", "something-else")
	doc.Flush()

	if got := doc.GetElementByID(id.WatermarkID); got != mark {
		t.Fatalf("id was not restored on the original node")
	}
	if len(log.alarms) != 1 {
		t.Fatalf("alarms = %d, want 1", len(log.alarms))
	}
}

func TestBatchOfRemovalsReactsOnce(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()
	wrapper := doc.GetElementByID(id.WrapperID)
	mark := doc.GetElementByID(id.WatermarkID)

	const n = 5
	for i := 0; i < n; i++ {
		if err := doc.RemoveNode(mark); err != nil {
			t.Fatalf("RemoveNode: %v", err)
		}
		if i < n-1 {
			if err := doc.AppendChild(wrapper, mark); err != nil {
				t.Fatalf("AppendChild: %v", err)
			}
		}
	}
	doc.Flush()

	if len(log.alarms) != 1 {
		t.Fatalf("alarms = %d, want 1", len(log.alarms))
	}
	if log.alarms[0].Records != 2*n-1 {
		t.Fatalf("records in batch = %d, want %d", log.alarms[0].Records, 2*n-1)
	}
	if st := o.Session().Stats(); st.Restores != 1 {
		t.Fatalf("restores = %d, want 1", st.Restores)
	}
}

func TestDisarmedSessionDoesNotReact(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()

	o.Session().Stop()
	if err := doc.RemoveNode(doc.GetElementByID(id.WatermarkID)); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	doc.Settle(5)

	if _, ok := doc.Resolve(id.WatermarkID); ok {
		t.Fatalf("disarmed session restored the watermark")
	}
	if len(log.alarms) != 0 {
		t.Fatalf("disarmed session raised %d alarms", len(log.alarms))
	}
}

func TestAlarmMayStopTheSession(t *testing.T) {
	doc := dom.New()
	var o *watermark.Overlay
	calls := 0
	o = mountConfidential(t, doc, watermark.Props{Alarm: func(defense.Alarm) {
		calls++
		o.Session().Stop()
	}})
	id := o.Identity()

	_ = doc.RemoveNode(doc.GetElementByID(id.WatermarkID))
	doc.Flush()
	_ = doc.RemoveNode(doc.GetElementByID(id.WatermarkID))
	doc.Settle(5)

	if calls != 1 {
		t.Fatalf("alarm calls = %d, want 1", calls)
	}
	if o.Session().State() != defense.Disarmed {
		t.Fatalf("state = %v, want disarmed", o.Session().State())
	}
}

func TestUnmountIsIdempotent(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()

	for i := 0; i < 3; i++ {
		if err := o.Unmount(); err != nil {
			t.Fatalf("Unmount #%d: %v", i+1, err)
		}
	}
	doc.Settle(5)

	if _, ok := doc.Resolve(id.WrapperID); ok {
		t.Fatalf("wrapper still present after Unmount")
	}
	if len(log.alarms) != 0 {
		t.Fatalf("teardown raised %d alarms", len(log.alarms))
	}
	if o.Session().State() != defense.Disarmed {
		t.Fatalf("state = %v, want disarmed", o.Session().State())
	}
}

func TestMountWithoutMonitor(t *testing.T) {
	doc := dom.New()
	off := false
	o := mountConfidential(t, doc, watermark.Props{Monitor: &off})

	if o.Session() != nil {
		t.Fatalf("expected no session when monitoring is off")
	}
	_ = doc.RemoveNode(doc.GetElementByID(o.Identity().WatermarkID))
	doc.Settle(5)
	if _, ok := doc.Resolve(o.Identity().WatermarkID); ok {
		t.Fatalf("unmonitored overlay was restored")
	}
	if err := o.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
}

func TestMountFailsClosedOnBadOptions(t *testing.T) {
	doc := dom.New()
	zero := 0
	_, err := watermark.Mount(doc, "", watermark.Props{
		Text:    []string{"x"},
		Options: watermark.Partial{Width: &zero},
	})
	var cerr *watermark.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	body, _ := doc.Resolve("")
	if len(body.Children) != 0 {
		t.Fatalf("failed mount inserted %d elements", len(body.Children))
	}
}

func TestMountWrapAdoptsContent(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><main id="content"><p>secret</p></main></body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	o := mountConfidential(t, doc, watermark.Props{Wrap: true})
	id := o.Identity()

	wrapper, _ := doc.Resolve(id.WrapperID)
	if strings.Join(wrapper.Children, ",") != id.WatermarkID+",content" {
		t.Fatalf("wrapper children = %v", wrapper.Children)
	}
	body, _ := doc.Resolve("")
	if strings.Join(body.Children, ",") != id.WrapperID {
		t.Fatalf("body children = %v", body.Children)
	}
}

func TestOnHandlesRepublishedAfterRestore(t *testing.T) {
	doc := dom.New()
	var published []defense.Handles
	o := mountConfidential(t, doc, watermark.Props{OnHandles: func(h defense.Handles) {
		published = append(published, h)
	}})

	if len(published) != 1 {
		t.Fatalf("handles published %d times at mount, want 1", len(published))
	}
	_ = doc.RemoveNode(doc.GetElementByID(o.Identity().WatermarkID))
	doc.Flush()

	if len(published) != 2 {
		t.Fatalf("handles published %d times, want 2", len(published))
	}
	if published[0].Attribute == published[1].Attribute {
		t.Fatalf("attribute handle was not rebound")
	}
	if published[0].Removal != published[1].Removal {
		t.Fatalf("removal handle changed on restore")
	}
}

func TestRenamedWrapperDoesNotDisableRemovalRule(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()
	wrapper := doc.GetElementByID(id.WrapperID)

	doc.SetNodeAttr(wrapper, "id", "renamed")
	doc.Flush()
	if got := doc.GetElementByID(id.WrapperID); got != wrapper {
		t.Fatalf("wrapper id was not restored on the original node")
	}

	_ = doc.RemoveNode(doc.GetElementByID(id.WatermarkID))
	doc.Settle(5)

	if mark, ok := doc.Resolve(id.WatermarkID); !ok || mark.Parent != id.WrapperID {
		t.Fatalf("watermark not restored after wrapper rename")
	}
	if log.count(defense.ReasonAttribute) != 1 || log.count(defense.ReasonRemoval) != 1 {
		t.Fatalf("unexpected alarms %+v", log.alarms)
	}
}

func TestRenameAndRemovalInOneTurn(t *testing.T) {
	doc := dom.New()
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Alarm: log.record})
	id := o.Identity()

	doc.SetNodeAttr(doc.GetElementByID(id.WrapperID), "id", "renamed")
	_ = doc.RemoveNode(doc.GetElementByID(id.WatermarkID))
	doc.Settle(5)

	if mark, ok := doc.Resolve(id.WatermarkID); !ok || mark.Parent != id.WrapperID {
		t.Fatalf("watermark not restored")
	}
	if log.count(defense.ReasonRemoval) != 1 {
		t.Fatalf("removal alarms = %d, want 1", log.count(defense.ReasonRemoval))
	}
}

func TestMissingWatermarkIsReportedOnce(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><main id="content"><p>secret</p></main></body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	var log alarmLog
	o := mountConfidential(t, doc, watermark.Props{Wrap: true, NoRestore: true, Alarm: log.record})
	id := o.Identity()

	_ = doc.RemoveNode(doc.GetElementByID(id.WatermarkID))
	doc.Flush()

	content := doc.GetElementByID("content")
	for i := 0; i < 3; i++ {
		if err := doc.AppendChild(content, doc.CreateElement("p")); err != nil {
			t.Fatalf("AppendChild: %v", err)
		}
		doc.Flush()
	}

	if got := log.count(defense.ReasonRemoval); got != 1 {
		t.Fatalf("removal alarms = %d, want 1", got)
	}
	if _, ok := doc.Resolve(id.WatermarkID); ok {
		t.Fatalf("watermark restored although restore is off")
	}
}
