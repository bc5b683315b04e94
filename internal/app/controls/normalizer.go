// Package controls converts raw button and rotary-encoder pin
// transitions into normalized control intents.
package controls

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/domain/intent"
	"github.com/tagtune/tagtune/internal/infra/gpio"
)

// Dispatcher consumes normalized intents. Satisfied by the playback
// coordinator.
type Dispatcher interface {
	Submit(ctx context.Context, in intent.Intent) error
}

// PinMapping assigns BCM pins to logical controls.
type PinMapping struct {
	PlayPause int
	Next      int
	Previous  int
	EncoderA  int
	EncoderB  int
}

// Config holds normalizer configuration.
type Config struct {
	Debounce          time.Duration // Window collapsing electrical bounce (default 300ms)
	LongPress         time.Duration // Hold duration promoting a press to long press (default 2s)
	TickInterval      time.Duration // Long-press scan cadence
	EncoderDetents    int           // Consistent phase transitions per volume step (default 2)
	AccelWindow       time.Duration // Same-direction window growing the step size
	MaxAccelStep      int           // Acceleration ceiling
	VolumeStepPercent int           // Volume percent per unit step (default 2)
	Pins              PinMapping
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.LongPress <= 0 {
		c.LongPress = 2 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.EncoderDetents <= 0 {
		c.EncoderDetents = 2
	}
	if c.AccelWindow <= 0 {
		c.AccelWindow = 250 * time.Millisecond
	}
	if c.MaxAccelStep <= 0 {
		c.MaxAccelStep = 5
	}
	if c.VolumeStepPercent <= 0 {
		c.VolumeStepPercent = 2
	}
}

// Normalizer owns one state machine per physical input and forwards the
// resulting intents to the dispatcher, tagged as physical-button
// triggers.
type Normalizer struct {
	buttons    map[int]*button
	enc        *encoder
	dispatcher Dispatcher
	config     Config
}

// New creates a control normalizer.
func New(dispatcher Dispatcher, cfg Config) *Normalizer {
	cfg.applyDefaults()

	n := &Normalizer{
		buttons:    make(map[int]*button),
		dispatcher: dispatcher,
		config:     cfg,
	}

	n.buttons[cfg.Pins.PlayPause] = &button{
		name:      "play_pause",
		press:     intent.TypeToggle,
		longPress: intent.TypeStop,
		hasLong:   true,
	}
	n.buttons[cfg.Pins.Next] = &button{name: "next", press: intent.TypeNext}
	n.buttons[cfg.Pins.Previous] = &button{name: "previous", press: intent.TypePrevious}

	n.enc = &encoder{
		detents:     cfg.EncoderDetents,
		accelWindow: cfg.AccelWindow,
		maxStep:     cfg.MaxAccelStep,
	}

	return n
}

// Run consumes the pin stream until ctx is done or the source closes.
func (n *Normalizer) Run(ctx context.Context, src gpio.Source) {
	ticker := time.NewTicker(n.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src.Events():
			if !ok {
				return
			}
			n.handleEvent(ctx, ev)
		case now := <-ticker.C:
			n.tick(ctx, now)
		}
	}
}

func (n *Normalizer) handleEvent(ctx context.Context, ev gpio.Event) {
	switch ev.Pin {
	case n.config.Pins.EncoderA, n.config.Pins.EncoderB:
		step := n.enc.handlePhase(ev.Pin == n.config.Pins.EncoderA, ev.High, ev.Time)
		if step != 0 {
			n.dispatch(ctx, intent.Intent{
				Type:        intent.TypeSetVolume,
				Source:      intent.SourceButton,
				VolumeDelta: step * n.config.VolumeStepPercent,
			})
		}
	default:
		b, ok := n.buttons[ev.Pin]
		if !ok {
			zlog.Debug().Msgf("controls: transition on unmapped pin %d", ev.Pin)
			return
		}
		if typ, fire := b.handleEdge(ev.High, ev.Time, n.config.Debounce); fire {
			zlog.Debug().Msgf("controls: %s pressed", b.name)
			n.dispatch(ctx, intent.Intent{Type: typ, Source: intent.SourceButton})
		}
	}
}

func (n *Normalizer) tick(ctx context.Context, now time.Time) {
	for _, b := range n.buttons {
		if typ, fire := b.tick(now, n.config.LongPress); fire {
			zlog.Debug().Msgf("controls: %s long press", b.name)
			n.dispatch(ctx, intent.Intent{Type: typ, Source: intent.SourceButton})
		}
	}
}

// dispatch forwards one intent. Rejections are expected (for example a
// NEXT press with nothing loaded) and only logged.
func (n *Normalizer) dispatch(ctx context.Context, in intent.Intent) {
	if err := n.dispatcher.Submit(ctx, in); err != nil {
		zlog.Debug().Msgf("controls: intent %s rejected: %v", in.Type, err)
	}
}
