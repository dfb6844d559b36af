// Package server serves rendered watermark tiles and a demo page over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	watermark "github.com/gcslaoli/watermark-guard-go"
	"github.com/gcslaoli/watermark-guard-go/alarmlog"
	"github.com/gcslaoli/watermark-guard-go/defense"
	"github.com/gcslaoli/watermark-guard-go/dom"
)

// Config configures the handler.
type Config struct {
	// Text and Options are used when a request does not override them.
	Text    []string
	Options watermark.Options
	Engine  *watermark.Engine
	// Alarms enables the /events endpoints when set.
	Alarms *alarmlog.Store
	Logger *log.Logger
}

type server struct {
	cfg    Config
	logger *log.Logger
}

// New returns the HTTP handler.
func New(cfg Config) http.Handler {
	if cfg.Engine == nil {
		cfg.Engine = watermark.NewEngine()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	s := &server{cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/pattern.png", s.handlePNG)
	r.Get("/pattern", s.handleDataURI)
	r.Get("/", s.handleDemo)
	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleListEvents)
		r.Post("/", s.handleReportEvent)
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "took", time.Since(start))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *server) render(w http.ResponseWriter, r *http.Request) (watermark.Pattern, bool) {
	text, opts, err := s.requestOptions(r)
	if err == nil {
		var p watermark.Pattern
		if p, err = s.cfg.Engine.Generate(text, opts); err == nil {
			return p, true
		}
	}
	var cerr *watermark.ConfigError
	if errors.As(err, &cerr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	s.logger.Error("server: render failed", "err", err)
	http.Error(w, "render failed", http.StatusInternalServerError)
	return "", false
}

func (s *server) handlePNG(w http.ResponseWriter, r *http.Request) {
	p, ok := s.render(w, r)
	if !ok {
		return
	}
	raw, err := p.PNG()
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(raw)
}

func (s *server) handleDataURI(w http.ResponseWriter, r *http.Request) {
	p, ok := s.render(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pattern": string(p),
		"css":     p.CSS(),
	})
}

// handleDemo renders a page with an overlay mounted over its content.
func (s *server) handleDemo(w http.ResponseWriter, r *http.Request) {
	text, opts, err := s.requestOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := dom.ParseString(demoPage)
	if err != nil {
		http.Error(w, "demo page unavailable", http.StatusInternalServerError)
		return
	}
	off := false
	_, err = watermark.Mount(doc, "", watermark.Props{
		Text:    text,
		Options: opts.Partial(),
		Monitor: &off,
		Wrap:    true,
		Engine:  s.cfg.Engine,
		Logger:  s.logger,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := doc.Render(w); err != nil {
		s.logger.Warn("server: write demo", "err", err)
	}
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alarms == nil {
		http.Error(w, "alarm log disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.cfg.Alarms.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("server: list events", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, toEventJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReportEvent stores an alarm raised by a page-side watcher.
func (s *server) handleReportEvent(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alarms == nil {
		http.Error(w, "alarm log disabled", http.StatusNotFound)
		return
	}
	var req eventJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason != string(defense.ReasonRemoval) && req.Reason != string(defense.ReasonAttribute) {
		http.Error(w, "reason must be removal or attribute", http.StatusBadRequest)
		return
	}
	a := defense.Alarm{
		Reason:      defense.Reason(req.Reason),
		WrapperID:   req.WrapperID,
		WatermarkID: req.WatermarkID,
		Target:      req.Target,
		Attributes:  req.Attributes,
		Records:     req.Records,
		Restored:    req.Restored,
		At:          time.Now(),
	}
	id, err := s.cfg.Alarms.Record(r.Context(), req.Source, a)
	if err != nil {
		s.logger.Error("server: record event", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const demoPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>watermark demo</title></head>
<body><main id="content" style="padding:2rem;font-family:sans-serif">
<h1>Quarterly report</h1>
<p>This page is covered by a tiled watermark.</p>
</main></body></html>`
