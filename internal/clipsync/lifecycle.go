package clipsync

import "sync"

// Pausable is any resource the sleep controller can suspend and resume as
// a unit: timers, history subscriptions, watchers.
type Pausable interface {
	Pause()
	Resume()
}

// SleepController pauses every registered resource when the application is
// backgrounded and resumes them on wake. Both transitions are idempotent:
// a resource is never paused twice without an intervening resume.
type SleepController struct {
	mu        sync.Mutex
	sleeping  bool
	disposed  bool
	resources []Pausable
}

func NewSleepController() *SleepController {
	return &SleepController{}
}

// AddPausable registers a resource. If the controller is already sleeping
// the resource is paused immediately so it cannot escape the current sleep
// epoch.
func (c *SleepController) AddPausable(resource Pausable) {
	if resource == nil {
		return
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.resources = append(c.resources, resource)
	sleeping := c.sleeping
	c.mu.Unlock()

	if sleeping {
		resource.Pause()
	}
}

// EnterSleepMode pauses every registered resource exactly once. Redundant
// calls while already sleeping are no-ops.
func (c *SleepController) EnterSleepMode() {
	c.mu.Lock()
	if c.sleeping || c.disposed {
		c.mu.Unlock()
		return
	}
	c.sleeping = true
	resources := append([]Pausable(nil), c.resources...)
	c.mu.Unlock()

	for _, resource := range resources {
		resource.Pause()
	}
}

// ExitSleepMode resumes every registered resource exactly once. Calling it
// while awake is a no-op.
func (c *SleepController) ExitSleepMode() {
	c.mu.Lock()
	if !c.sleeping || c.disposed {
		c.mu.Unlock()
		return
	}
	c.sleeping = false
	resources := append([]Pausable(nil), c.resources...)
	c.mu.Unlock()

	for _, resource := range resources {
		resource.Resume()
	}
}

func (c *SleepController) Sleeping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeping
}

// Dispose drops the registry. Safe to call mid-sleep; resources stay in
// whatever pause state they were in and must be torn down by their owners.
func (c *SleepController) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.resources = nil
}
