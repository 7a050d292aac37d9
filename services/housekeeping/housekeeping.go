// Package housekeeping periodically purges expired state: refresh tokens, finished pomodoros
// and video sessions left behind.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
)

// Task is one cleanup job. Run returns the number of rows it affected.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

type Worker struct {
	interval time.Duration
	logger   core.Logger
	tasks    []Task
}

func New(interval time.Duration, logger core.Logger, tasks ...Task) *Worker {
	return &Worker{interval: interval, logger: logger, tasks: tasks}
}

// RunOnce runs every task once, logging failures. The first error is returned.
func (w *Worker) RunOnce(ctx context.Context) error {
	var first error
	for _, task := range w.tasks {
		n, err := task.Run(ctx)
		if err != nil {
			err = errors.Wrap(err, task.Name)
			w.logger.Error("housekeeping failed", err)
			if first == nil {
				first = err
			}
			continue
		}
		if n > 0 {
			w.logger.Debug(fmt.Sprintf("housekeeping: %s: %d", task.Name, n))
		}
	}
	return first
}

// Run calls RunOnce on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx)
		}
	}
}
