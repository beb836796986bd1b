package cli

import (
	"sync"

	applog "budget/internal/log"
)

// Closers releases process resources in reverse order of registration.
// Close is idempotent so it can be both deferred and called before os.Exit.
type Closers struct {
	logger *applog.Logger

	mu    sync.Mutex
	names []string
	fns   []func() error
	done  bool
}

func NewClosers(logger *applog.Logger) *Closers {
	return &Closers{logger: logger}
}

// Add registers fn under a name used in the failure log.
func (c *Closers) Add(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

// Close runs every registered func once, newest first, and logs failures.
func (c *Closers) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil && c.logger != nil {
			c.logger.Error("Failed to close resource", "resource", c.names[i], applog.FieldError, err)
		}
	}
}
