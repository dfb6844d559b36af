package defense

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// PollingWatcher is a SubtreeWatcher for hosts without native mutation
// observation. It snapshots the observed element on every tick and reports
// the difference as one batch. Subtree is not supported; elements are
// re-resolved by id on every tick.
type PollingWatcher struct {
	resolver Resolver
	interval time.Duration
	logger   *log.Logger
}

// NewPollingWatcher polls r every interval. Default interval: 100ms.
func NewPollingWatcher(r Resolver, interval time.Duration, logger *log.Logger) *PollingWatcher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PollingWatcher{resolver: r, interval: interval, logger: logger}
}

// Observe starts polling id. Disconnect never waits for an in-flight
// delivery, so it is safe to call from inside fn.
func (p *PollingWatcher) Observe(id string, rule Rule, fn func([]Record)) (Handle, error) {
	prev, ok := p.resolver.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("defense: poll %q: element not found", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cur, ok := p.resolver.Resolve(id)
			recs := Diff(prev, cur, ok, rule)
			if ok {
				prev = cur
			}
			if len(recs) == 0 || ctx.Err() != nil {
				continue
			}
			p.logger.Debug("defense: poll detected change", "id", id, "records", len(recs))
			fn(recs)
		}
	}()

	return HandleFunc(cancel), nil
}
