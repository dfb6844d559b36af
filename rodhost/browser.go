package rodhost

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig selects the Chrome a page is opened in.
type BrowserConfig struct {
	// RemoteURL connects to a running Chrome's DevTools endpoint instead of
	// launching one.
	RemoteURL string
	Headless  bool
	// Stealth opens the page with common automation fingerprints hidden.
	Stealth bool
	// NavTimeout bounds navigation. Default: 30s.
	NavTimeout time.Duration
	Logger     *log.Logger
}

// Session is a connected browser with one open page.
type Session struct {
	Browser *rod.Browser
	Page    *rod.Page
	lnch    *launcher.Launcher
}

// OpenPage launches or connects to Chrome and navigates a new page to url.
func OpenPage(ctx context.Context, url string, cfg BrowserConfig) (*Session, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	s := &Session{}
	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodhost: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		cfg.Logger.Debug("rodhost: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("rodhost: connect: %w", err)
	}
	s.Browser = b

	var (
		page *rod.Page
		err  error
	)
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("rodhost: create page: %w", err)
	}
	s.Page = page

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		s.Close()
		return nil, fmt.Errorf("rodhost: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("rodhost: wait load", "url", url, "err", err)
	}
	return s, nil
}

// Close closes the browser and, if it was launched here, cleans it up.
func (s *Session) Close() {
	if s.Browser != nil {
		_ = s.Browser.Close()
	}
	s.cleanup()
}

func (s *Session) cleanup() {
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
	}
}
