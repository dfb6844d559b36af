package watermark

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/gcslaoli/watermark-guard-go/defense"
)

// Adopter is implemented by hosts that can move existing content into the
// overlay wrapper, so the overlay covers it.
type Adopter interface {
	Adopt(parentID, wrapperID string) error
}

// Props configures one overlay mount.
type Props struct {
	Text    []string
	Options Partial
	// Style is extra wrapper style; position and overflow are always forced.
	Style Style
	// Monitor arms the tamper defence. Nil means true.
	Monitor *bool
	// Wrap moves the parent's existing children into the wrapper when the
	// host supports it.
	Wrap         bool
	NoRestore    bool
	GuardWrapper bool
	Alarm        defense.AlarmFunc
	OnHandles    func(defense.Handles)
	IDs          IDGenerator
	Engine       *Engine
	Logger       *log.Logger
}

// Overlay is a mounted watermark.
type Overlay struct {
	host     defense.Host
	identity Identity
	pattern  Pattern
	session  *defense.Session
	logger   *log.Logger

	mu      sync.Mutex
	mounted bool
}

// Mount renders the tile, inserts the wrapper as the first child of parentID
// and the watermark inside it, and arms a defence session unless monitoring
// is off. If the tile cannot be rendered nothing is inserted.
func Mount(host defense.Host, parentID string, props Props) (*Overlay, error) {
	if host == nil {
		return nil, fmt.Errorf("watermark: nil host")
	}
	logger := props.Logger
	if logger == nil {
		logger = log.Default()
	}
	engine := props.Engine
	if engine == nil {
		engine = NewEngine()
	}

	opts := Merge(DefaultOptions(), props.Options)
	text := append([]string(nil), props.Text...)
	pattern, err := engine.Generate(text, opts)
	if err != nil {
		return nil, err
	}

	id := NewIdentity(props.IDs)
	wrapper := defense.Element{
		ID:    id.WrapperID,
		Tag:   "div",
		Attrs: map[string]string{"style": WrapperStyle(props.Style).String()},
	}
	if err := host.Insert(parentID, wrapper); err != nil {
		return nil, fmt.Errorf("watermark: mount wrapper: %w", err)
	}
	mark := defense.Element{
		ID:    id.WatermarkID,
		Tag:   "div",
		Attrs: map[string]string{"style": WatermarkStyle(pattern).String()},
	}
	if err := host.Insert(id.WrapperID, mark); err != nil {
		_ = host.Remove(id.WrapperID)
		return nil, fmt.Errorf("watermark: mount watermark: %w", err)
	}
	if props.Wrap {
		if a, ok := host.(Adopter); ok {
			if err := a.Adopt(parentID, id.WrapperID); err != nil {
				logger.Warn("watermark: wrap existing content failed", "err", err)
			}
		}
	}

	o := &Overlay{
		host:     host,
		identity: id,
		pattern:  pattern,
		logger:   logger,
		mounted:  true,
	}

	if props.Monitor == nil || *props.Monitor {
		s, err := defense.Start(defense.Config{
			Host:        host,
			WrapperID:   id.WrapperID,
			WatermarkID: id.WatermarkID,
			Style:       WatermarkStyle(pattern).String(),
			Regenerate: func() (string, error) {
				p, err := engine.Generate(text, opts)
				if err != nil {
					return "", err
				}
				return WatermarkStyle(p).String(), nil
			},
			Alarm:        props.Alarm,
			NoRestore:    props.NoRestore,
			GuardWrapper: props.GuardWrapper,
			OnHandles:    props.OnHandles,
			Logger:       logger,
		})
		if err != nil {
			_ = host.Remove(id.WrapperID)
			return nil, fmt.Errorf("watermark: %w", err)
		}
		o.session = s
	}

	logger.Debug("watermark: mounted", "wrapper", id.WrapperID, "watermark", id.WatermarkID, "monitor", o.session != nil)
	return o, nil
}

// Identity returns the element ids of the overlay.
func (o *Overlay) Identity() Identity { return o.identity }

// Pattern returns the tile rendered at mount.
func (o *Overlay) Pattern() Pattern { return o.pattern }

// Session returns the defence session, nil when monitoring is off.
func (o *Overlay) Session() *defense.Session { return o.session }

// Unmount disarms the session, then removes the wrapper. Calling it again is
// a no-op.
func (o *Overlay) Unmount() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.mounted {
		return nil
	}
	o.mounted = false
	o.session.Stop()

	if _, ok := o.host.Resolve(o.identity.WrapperID); !ok {
		return nil
	}
	if err := o.host.Remove(o.identity.WrapperID); err != nil {
		return fmt.Errorf("watermark: unmount: %w", err)
	}
	return nil
}
