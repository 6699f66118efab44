package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler refreshes the index on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	index *Index
}

func NewScheduler(ix *Index, schedule string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, index: ix}

	_, err := c.AddFunc(schedule, func() {
		if _, err := ix.Refresh(context.Background()); err != nil {
			slog.Error("Scheduled index refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	slog.Info("Index refresh scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Index refresh scheduler stopped")
}
