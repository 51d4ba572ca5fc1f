package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is the event buffer size used when Subscribe is
// called with a non-positive size.
const DefaultSubscriberBuffer = 32

// EventKind names the mutation that produced an Event.
type EventKind string

const (
	EventInput            EventKind = "input"
	EventUserMessage      EventKind = "user_message"
	EventAssistantMessage EventKind = "assistant_message"
	EventView             EventKind = "view"
	EventDashboard        EventKind = "dashboard"
	EventReset            EventKind = "reset"
)

// Event is published to subscribers after every mutation. Session is a
// snapshot taken while the mutation was applied.
type Event struct {
	Kind    EventKind `json:"kind"`
	Key     string    `json:"key"`
	Session Session   `json:"session"`
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Key     string      // registry key of the session (tab, thread, terminal)
	Backend Backend     // required
	Log     *zap.Logger // defaults to a no-op logger
	// BaseContext bounds in-flight requests. It is only cancelled on
	// shutdown; a cancelled turn resolves as a failure. Defaults to
	// context.Background().
	BaseContext context.Context
}

// Controller owns one Session. It serializes every trigger so that
// mutations never interleave, runs the effects transitions ask for, and
// publishes snapshots to subscribers.
type Controller struct {
	key        string
	backend    Backend
	dispatcher *Dispatcher
	log        *zap.Logger
	base       context.Context

	mu           sync.Mutex
	session      *Session
	epoch        uint64 // bumped on Reset and Close; outcomes from older epochs are discarded
	subs         map[int]chan Event
	nextSub      int
	closed       bool // set once; every trigger is rejected afterwards
	lastActivity time.Time
	failedTurns  int // since the last reset

	inflight int        // requests started and not yet finished
	idle     *sync.Cond // signalled when inflight drops to zero; uses mu
}

// NewController creates a Controller with a fresh Session.
func NewController(opts ControllerOpts) (*Controller, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("chat: controller: backend is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session_key", opts.Key))
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	d, err := NewDispatcher(opts.Backend, log)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		key:          opts.Key,
		backend:      opts.Backend,
		dispatcher:   d,
		log:          log,
		base:         base,
		session:      NewSession(),
		subs:         make(map[int]chan Event),
		lastActivity: time.Now(),
	}
	c.idle = sync.NewCond(&c.mu)
	return c, nil
}

// Key returns the registry key of the session.
func (c *Controller) Key() string {
	return c.key
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// LastActivity returns the time of the last trigger or outcome.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// FailedTurns returns how many turns since the last reset ended in the
// fallback message.
func (c *Controller) FailedTurns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedTurns
}

// SetInput replaces the pending input, as typing would.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.session.SetPendingInput(text)
	c.touchAndPublish(EventInput)
}

// Submit sends the pending input. It reports whether the submission was
// accepted; empty input, submissions during a turn, and submissions to a
// closed controller are rejected silently.
func (c *Controller) Submit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	return c.runLocked(c.session.Submit(), "")
}

// Send types text into the input buffer and submits it.
func (c *Controller) Send(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.session.SetPendingInput(text)
	return c.runLocked(c.session.Submit(), EventInput)
}

// AskFromCard routes a dashboard card question through the submit path.
func (c *Controller) AskFromCard(question string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	// On rejection the view and input buffer still changed.
	return c.runLocked(AskFromCard(c.session, question), EventView)
}

// SetView switches the active view, loading dashboard data on first use.
func (c *Controller) SetView(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.runLocked(c.session.SetActiveView(v), EventView)
}

// Reset ends the conversation. A turn still in flight completes against the
// old conversation and its outcome is discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.session.Reset()
	c.epoch++
	c.failedTurns = 0
	c.touchAndPublish(EventReset)
}

// Wait blocks until no request started by this controller is in flight.
func (c *Controller) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitLocked()
}

// waitLocked blocks until inflight is zero. c.mu must be held.
func (c *Controller) waitLocked() {
	for c.inflight > 0 {
		c.idle.Wait()
	}
}

// Subscribe registers an event listener. The returned cancel function
// unregisters it and closes the channel. A listener that falls behind loses
// events rather than blocking the controller.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close ends the session. Triggers are rejected from here on, outcomes of
// requests still in flight are discarded, and once those requests return
// every subscriber channel is closed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.releaseLocked()
}

// CloseIfIdle closes the controller only when no turn is in flight and no
// trigger or outcome arrived after cutoff. The check and the close happen
// under one lock, so a turn accepted concurrently is never lost. It reports
// whether the controller was closed.
func (c *Controller) CloseIfIdle(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.session.Busy || c.lastActivity.After(cutoff) {
		return false
	}
	c.closeLocked()
	c.releaseLocked()
	return true
}

func (c *Controller) closeLocked() {
	c.closed = true
	c.epoch++
}

// releaseLocked waits out in-flight requests and closes the subscribers.
// c.mu must be held; it is released while waiting.
func (c *Controller) releaseLocked() {
	c.waitLocked()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// runLocked publishes the transition that produced eff and starts its side
// effect. idle is the event published when there is no effect; empty means
// nothing changed. It reports whether a dispatch was started. c.mu must be
// held.
func (c *Controller) runLocked(eff Effect, idle EventKind) bool {
	switch eff.Kind {
	case EffectDispatch:
		c.touchAndPublish(EventUserMessage)
		c.startDispatch(eff, c.epoch)
		return true
	case EffectLoadDashboard:
		c.touchAndPublish(EventView)
		c.startDashboardLoad(c.epoch)
	default:
		if idle != "" {
			c.touchAndPublish(idle)
		}
	}
	return false
}

// finishLocked marks one request done. c.mu must be held.
func (c *Controller) finishLocked() {
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
}

// startDispatch runs one turn. c.mu must be held.
func (c *Controller) startDispatch(eff Effect, epoch uint64) {
	c.inflight++
	go func() {
		err := c.dispatcher.Dispatch(c.base, &turnApplier{c: c, epoch: epoch}, eff.Query, eff.SessionID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil && epoch == c.epoch {
			c.failedTurns++
		}
		c.finishLocked()
	}()
}

// startDashboardLoad fetches dashboard data. c.mu must be held.
func (c *Controller) startDashboardLoad(epoch uint64) {
	c.inflight++
	go func() {
		data, err := c.backend.Dashboard(c.base)

		c.mu.Lock()
		defer c.mu.Unlock()
		defer c.finishLocked()
		if epoch != c.epoch {
			return
		}
		if err != nil {
			c.log.Warn("dashboard data unavailable", zap.Error(err))
			c.session.ApplyDashboardFailure()
		} else {
			c.session.ApplyDashboardData(data)
		}
		c.touchAndPublish(EventDashboard)
	}()
}

// touchAndPublish records activity and fans the current snapshot out to
// subscribers. c.mu must be held.
func (c *Controller) touchAndPublish(kind EventKind) {
	c.lastActivity = time.Now()
	if len(c.subs) == 0 {
		return
	}
	evt := Event{Kind: kind, Key: c.key, Session: c.session.Clone()}
	for id, ch := range c.subs {
		select {
		case ch <- evt:
		default:
			c.log.Warn("subscriber lagging, event dropped",
				zap.Int("subscriber", id), zap.String("event", string(kind)))
		}
	}
}

// turnApplier applies a dispatch outcome under the controller lock, unless
// the session was reset since the turn started.
type turnApplier struct {
	c     *Controller
	epoch uint64
}

func (t *turnApplier) ApplyAssistantResult(res Result) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.epoch != t.c.epoch {
		return
	}
	t.c.session.ApplyAssistantResult(res)
	t.c.touchAndPublish(EventAssistantMessage)
}

func (t *turnApplier) ApplyAssistantFailure() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.epoch != t.c.epoch {
		return
	}
	t.c.session.ApplyAssistantFailure()
	t.c.touchAndPublish(EventAssistantMessage)
}
