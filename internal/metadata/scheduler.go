package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"chunkfs/internal/logging"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler drives the background jobs of spec.md §4.4 (subtree GC batch
// pass, physical-deletion tick, daily orphan scan, under-replication
// repair) and spec.md §3's offline-server sweep off a Service/Collector/
// Repairer set, mirroring the teacher's orchestrator scheduling shape
// (cronrotation.go) generalized from log retention/rotation jobs to chunk
// garbage collection and repair.
type Scheduler struct {
	sched     gocron.Scheduler
	svc       *Service
	collector *Collector
	repairer  *Repairer
	logger    *slog.Logger
}

// NewScheduler builds a Scheduler over svc, collector, and repairer.
// collector and repairer may be nil to omit that half of the job set (used
// by tests that only care about one pipeline); svc may be nil to omit the
// offline-server sweep.
func NewScheduler(svc *Service, collector *Collector, repairer *Repairer, logger *slog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		sched:     sched,
		svc:       svc,
		collector: collector,
		repairer:  repairer,
		logger:    logging.Default(logger).With("component", "metadata.scheduler"),
	}, nil
}

// Start schedules every job and begins running them. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.collector != nil {
		jobs := []struct {
			name string
			cron string
			secs bool
			fn   func()
		}{
			{"gc-subtree-batch", "*/10 * * * * *", true, func() { s.runAndLog("subtree gc batch", func() error { return s.collector.ProcessSubtreeBatch(ctx) }) }},
			{"gc-physical-deletions", "0 * * * * *", true, func() { s.runAndLog("physical deletions", func() error { return s.collector.ProcessPhysicalDeletions(ctx) }) }},
			{"gc-orphan-scan", "0 3 * * *", false, func() { s.runAndLog("orphan scan", func() error { return s.collector.ScanOrphans(ctx) }) }},
		}
		for _, j := range jobs {
			if _, err := s.sched.NewJob(
				gocron.CronJob(j.cron, j.secs),
				gocron.NewTask(j.fn),
				gocron.WithName(j.name),
			); err != nil {
				return fmt.Errorf("schedule %s job: %w", j.name, err)
			}
		}
	}

	if s.repairer != nil {
		if _, err := s.sched.NewJob(
			gocron.CronJob("0 */5 * * * *", true),
			gocron.NewTask(func() {
				s.runAndLog("under-replication repair", func() error { return s.repairer.Run(ctx) })
			}),
			gocron.WithName("repair"),
		); err != nil {
			return fmt.Errorf("schedule repair job: %w", err)
		}
	}

	if s.svc != nil {
		if _, err := s.sched.NewJob(
			gocron.CronJob("*/10 * * * * *", true),
			gocron.NewTask(func() {
				s.runAndLog("offline server sweep", func() error { return s.svc.SweepOfflineServers(ServerTimeout) })
			}),
			gocron.WithName("server-sweep"),
		); err != nil {
			return fmt.Errorf("schedule server-sweep job: %w", err)
		}
	}

	s.sched.Start()
	return nil
}

func (s *Scheduler) runAndLog(label string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn(label+" failed", "error", err)
	}
}

// Stop shuts the scheduler down, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}
