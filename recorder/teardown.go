package recorder

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type releaser struct {
	name string
	fn   func() error
}

// teardown releases acquired resources in reverse order of acquisition,
// each exactly once.
type teardown struct {
	logger *zap.Logger
	stack  []releaser
}

func newTeardown(logger *zap.Logger) *teardown {
	return &teardown{logger: logger}
}

func (t *teardown) push(name string, fn func() error) {
	t.stack = append(t.stack, releaser{name: name, fn: fn})
}

// release runs every pending releaser, most recent first.
func (t *teardown) release() error {
	var errs error
	for i := len(t.stack) - 1; i >= 0; i-- {
		r := t.stack[i]
		if err := r.fn(); err != nil {
			t.logger.Warn("Failed to release resource", zap.String("resource", r.name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", r.name, err))
			continue
		}
		t.logger.Debug("Released resource", zap.String("resource", r.name))
	}
	t.stack = nil
	return errs
}
