package rodhost

import (
	"encoding/json"
	"fmt"

	"github.com/gcslaoli/watermark-guard-go/defense"
)

type wireElement struct {
	ID       string            `json:"id"`
	Tag      string            `json:"tag"`
	Parent   string            `json:"parent"`
	Attached bool              `json:"attached"`
	Children []string          `json:"children"`
	Attrs    map[string]string `json:"attrs"`
}

func (w wireElement) element() defense.Element {
	return defense.Element{
		ID:       w.ID,
		Tag:      w.Tag,
		Parent:   w.Parent,
		Attached: w.Attached,
		Children: w.Children,
		Attrs:    w.Attrs,
	}
}

func toWire(el defense.Element) wireElement {
	return wireElement{ID: el.ID, Tag: el.Tag, Attrs: el.Attrs}
}

type wireRecord struct {
	Type     string   `json:"type"`
	Target   string   `json:"target"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Name     string   `json:"name"`
	OldValue string   `json:"oldValue"`
	Value    string   `json:"value"`
	Present  bool     `json:"present"`
}

type wireBatch struct {
	Key     int          `json:"key"`
	Records []wireRecord `json:"records"`
}

// decodeBatch parses one binding payload sent by a page-side observer.
func decodeBatch(payload string) (int, []defense.Record, error) {
	var b wireBatch
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return 0, nil, fmt.Errorf("decode batch: %w", err)
	}
	recs := make([]defense.Record, 0, len(b.Records))
	for _, r := range b.Records {
		var t defense.RecordType
		switch r.Type {
		case "childList":
			t = defense.ChildList
		case "attributes":
			t = defense.Attributes
		default:
			continue
		}
		recs = append(recs, defense.Record{
			Type:     t,
			Target:   r.Target,
			Added:    r.Added,
			Removed:  r.Removed,
			Name:     r.Name,
			OldValue: r.OldValue,
			Value:    r.Value,
			Present:  r.Present,
		})
	}
	return b.Key, recs, nil
}
