// Package controller is a client of the reactor: it owns one reactor
// timer per configured bird and toggles that bird's output sinks on a
// randomized schedule, entirely through non-blocking timer callbacks,
// never a blocking sleep.
package controller

import (
	"github.com/pkg/errors"

	"github.com/stack/woodpeckers/internal/config"
	"github.com/stack/woodpeckers/internal/logging"
	"github.com/stack/woodpeckers/internal/random"
	"github.com/stack/woodpeckers/outputs"
	"github.com/stack/woodpeckers/reactor"
)

// reactorHandle is the subset of *reactor.Reactor the controller depends
// on, so tests can exercise the state machine against a fake without
// opening a real kqueue/epoll backend.
type reactorHandle interface {
	AddTimer(id uint16, intervalMS uint32, cb reactor.TimerFiredFunc) error
	RemoveTimer(id uint16)
	HasTimer(id uint16) bool
}

// Controller drives every configured Bird's pecking schedule against a
// reactor.
type Controller struct {
	r        reactorHandle
	settings config.Settings
	logger   logging.Logger
	birds    []*birdState
}

type phase int

const (
	phaseWaiting phase = iota
	phasePecking
)

type birdState struct {
	name          string
	waitTimerID   uint16
	peckTimerID   uint16
	static        []outputs.Sink
	back          []outputs.Sink
	forward       []outputs.Sink
	phase         phase
	ticksLeft     uint32
	backOnForward bool
}

// New builds a Controller for every Bird in doc, resolving each Bird's
// output names against sinks. Unknown output names are a hard error, the
// same way an unknown Outputs[].Type is in config.Parse.
func New(r reactorHandle, doc *config.Document, logger logging.Logger) (*Controller, error) {
	sinks := make(map[string]outputs.Sink, len(doc.Outputs))
	for _, desc := range doc.Outputs {
		sink, err := outputs.New(desc)
		if err != nil {
			return nil, err
		}
		sinks[desc.Name] = sink
	}

	c := &Controller{r: r, settings: doc.Settings, logger: logger}
	for i, bird := range doc.Birds {
		state, err := newBirdState(bird, sinks, i)
		if err != nil {
			return nil, err
		}
		c.birds = append(c.birds, state)
	}
	return c, nil
}

func newBirdState(bird config.Bird, sinks map[string]outputs.Sink, index int) (*birdState, error) {
	resolve := func(names []string) ([]outputs.Sink, error) {
		out := make([]outputs.Sink, 0, len(names))
		for _, name := range names {
			sink, ok := sinks[name]
			if !ok {
				return nil, errors.Errorf("bird %q: unknown output %q", bird.Name, name)
			}
			out = append(out, sink)
		}
		return out, nil
	}
	static, err := resolve(bird.Static)
	if err != nil {
		return nil, err
	}
	back, err := resolve(bird.Back)
	if err != nil {
		return nil, err
	}
	forward, err := resolve(bird.Forward)
	if err != nil {
		return nil, err
	}
	// Two timer ids per bird. Timer ids do not share a namespace with the
	// reserved stop wakeup (a user event), but the uint16 ids wrap around
	// and collide once a config has more than 32768 birds.
	base := uint16(index * 2)
	return &birdState{
		name:        bird.Name,
		waitTimerID: base,
		peckTimerID: base + 1,
		static:      static,
		back:        back,
		forward:     forward,
	}, nil
}

// Start arms every bird's initial wait timer.
func (c *Controller) Start() error {
	for _, b := range c.birds {
		if err := c.armWait(b); err != nil {
			return errors.Wrapf(err, "start bird %q", b.name)
		}
	}
	return nil
}

// Stop removes every timer the controller owns, leaving sinks in whatever
// state they were last toggled to.
func (c *Controller) Stop() {
	for _, b := range c.birds {
		if c.r.HasTimer(b.waitTimerID) {
			c.r.RemoveTimer(b.waitTimerID)
		}
		if c.r.HasTimer(b.peckTimerID) {
			c.r.RemoveTimer(b.peckTimerID)
		}
	}
}

func (c *Controller) armWait(b *birdState) error {
	b.phase = phaseWaiting
	interval := random.WaitInterval(c.settings.MinWait, c.settings.MaxWait)
	return c.r.AddTimer(b.waitTimerID, interval, func(rr *reactor.Reactor, id uint16, ctx interface{}) {
		c.onWaitFired(b)
	})
}

func (c *Controller) onWaitFired(b *birdState) {
	c.r.RemoveTimer(b.waitTimerID)
	b.phase = phasePecking
	pecks := random.PeckCount(c.settings.MinPecks, c.settings.MaxPecks)
	b.ticksLeft = pecks * 2
	b.backOnForward = false
	c.setAll(b.static, true)
	if err := c.r.AddTimer(b.peckTimerID, c.settings.PeckWait, func(rr *reactor.Reactor, id uint16, ctx interface{}) {
		c.onPeckTick(b)
	}); err != nil {
		c.logger.Errorf("controller: bird %q failed to start pecking: %v", b.name, err)
		c.endCycle(b)
	}
}

func (c *Controller) onPeckTick(b *birdState) {
	b.backOnForward = !b.backOnForward
	if b.backOnForward {
		c.setAll(b.back, true)
		c.setAll(b.forward, false)
	} else {
		c.setAll(b.back, false)
		c.setAll(b.forward, true)
	}
	if b.ticksLeft > 0 {
		b.ticksLeft--
	}
	if b.ticksLeft == 0 {
		c.r.RemoveTimer(b.peckTimerID)
		c.endCycle(b)
	}
}

func (c *Controller) endCycle(b *birdState) {
	c.setAll(b.static, false)
	c.setAll(b.back, false)
	c.setAll(b.forward, false)
	if err := c.armWait(b); err != nil {
		c.logger.Errorf("controller: bird %q failed to reschedule: %v", b.name, err)
	}
}

func (c *Controller) setAll(sinks []outputs.Sink, on bool) {
	for _, sink := range sinks {
		var err error
		if on {
			err = sink.On()
		} else {
			err = sink.Off()
		}
		if err != nil {
			c.logger.Warnf("controller: output %q: %v", sink.Name(), err)
		}
	}
}
