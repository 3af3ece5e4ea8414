// Package turn decides when a model response should be requested for
// vendors that do not reliably trigger one themselves.
package turn

import (
	"sync"
	"time"
)

// State describes where the controller is in the request/response cycle.
type State int

const (
	// Idle means the user may speak; nothing is pending.
	Idle State = iota
	// AwaitingResponse means speech ended and a debounced trigger is armed.
	AwaitingResponse
	// Responding means a model response is in flight.
	Responding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Responding:
		return "responding"
	default:
		return "unknown"
	}
}

// Controller debounces end-of-speech signals into at most one response
// trigger per user turn. The vendor's own server-side detection always
// wins: if the vendor starts a response before the debounce fires, the
// pending trigger is cancelled.
//
// Safe for concurrent use.
type Controller struct {
	debounce  time.Duration
	minChunks int
	trigger   func()

	mu     sync.Mutex
	state  State
	chunks int
	gen    uint64
	timer  *time.Timer
}

// NewController returns a controller that calls trigger once per turn,
// debounce after the user stops speaking, provided at least minChunks
// audio chunks were heard.
func NewController(debounce time.Duration, minChunks int, trigger func()) *Controller {
	return &Controller{
		debounce:  debounce,
		minChunks: minChunks,
		trigger:   trigger,
	}
}

// State returns the current cycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AudioSent records one forwarded audio chunk.
func (c *Controller) AudioSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks++
}

// SpeechStarted handles the vendor's speech-start signal. Any armed
// trigger is disarmed; the user is talking again.
func (c *Controller) SpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	if c.state == AwaitingResponse {
		c.state = Idle
	}
}

// SpeechStopped handles the vendor's speech-end signal, arming the
// debounced trigger when enough audio was heard and no response is
// already in flight. Repeated signals re-arm rather than stacking.
func (c *Controller) SpeechStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Responding || c.chunks < c.minChunks {
		return
	}
	c.cancelLocked()
	c.state = AwaitingResponse

	gen := c.gen
	c.timer = time.AfterFunc(c.debounce, func() {
		c.fire(gen)
	})
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	// A stale generation means the trigger was cancelled after this
	// timer was scheduled but before it ran.
	if gen != c.gen || c.state != AwaitingResponse {
		c.mu.Unlock()
		return
	}
	c.state = Responding
	c.chunks = 0
	trigger := c.trigger
	c.mu.Unlock()

	if trigger != nil {
		trigger()
	}
}

// ResponseCreated handles the vendor starting a response on its own,
// disarming any pending trigger.
func (c *Controller) ResponseCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.state = Responding
	c.chunks = 0
}

// ResponseDone returns the controller to Idle once the vendor finishes
// a response. It reports whether a response was actually in flight, so
// callers can ignore a stray "done" from a vendor that never started
// one.
func (c *Controller) ResponseDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	inFlight := c.state == Responding || c.state == AwaitingResponse
	c.cancelLocked()
	c.state = Idle
	return inFlight
}

// Stop disarms everything. The controller is unusable for triggering
// afterwards only in the sense that no armed timer survives; new
// signals still work, so sessions reuse it across reconnects.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.state = Idle
	c.chunks = 0
}

// cancelLocked invalidates any scheduled trigger. Callers hold c.mu.
func (c *Controller) cancelLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
