package server

import (
	"net/http"
	"strconv"
	"time"

	watermark "github.com/gcslaoli/watermark-guard-go"
	"github.com/gcslaoli/watermark-guard-go/alarmlog"
)

// requestOptions applies query parameters over the configured defaults.
// Repeated "text" parameters give one line each.
func (s *server) requestOptions(r *http.Request) ([]string, watermark.Options, error) {
	q := r.URL.Query()
	text := s.cfg.Text
	if lines, ok := q["text"]; ok {
		text = lines
	}

	var p watermark.Partial
	for _, f := range []struct {
		key string
		set func(string) error
	}{
		{"width", intField(&p.Width, "width")},
		{"height", intField(&p.Height, "height")},
		{"rotate", floatField(&p.Rotate, "rotate")},
		{"opacity", floatField(&p.Opacity, "opacity")},
		{"size", floatField(&p.FontSize, "font_size")},
	} {
		if v := q.Get(f.key); v != "" {
			if err := f.set(v); err != nil {
				return nil, watermark.Options{}, err
			}
		}
	}
	if v := q.Get("color"); v != "" {
		p.FontColor = &v
	}
	if v := q.Get("weight"); v != "" {
		p.FontWeight = &v
	}
	if v := q.Get("family"); v != "" {
		p.FontFamily = &v
	}

	opts := watermark.Merge(s.cfg.Options, p)
	return text, opts, opts.Validate()
}

func intField(dst **int, field string) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &watermark.ConfigError{Field: field, Reason: "not an integer"}
		}
		*dst = &n
		return nil
	}
}

func floatField(dst **float64, field string) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &watermark.ConfigError{Field: field, Reason: "not a number"}
		}
		*dst = &n
		return nil
	}
}

type eventJSON struct {
	ID          string    `json:"id,omitempty"`
	Source      string    `json:"source"`
	Reason      string    `json:"reason"`
	WrapperID   string    `json:"wrapper_id"`
	WatermarkID string    `json:"watermark_id"`
	Target      string    `json:"target"`
	Attributes  []string  `json:"attributes,omitempty"`
	Records     int       `json:"records"`
	Restored    bool      `json:"restored"`
	At          time.Time `json:"at,omitempty"`
}

func toEventJSON(e alarmlog.Event) eventJSON {
	return eventJSON{
		ID:          e.ID,
		Source:      e.Source,
		Reason:      string(e.Reason),
		WrapperID:   e.WrapperID,
		WatermarkID: e.WatermarkID,
		Target:      e.Target,
		Attributes:  e.Attributes,
		Records:     e.Records,
		Restored:    e.Restored,
		At:          e.At,
	}
}
