package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/temphist/temphist/internal/loader"
	"github.com/temphist/temphist/internal/temphist"
)

// Sweeper is the cache maintenance surface the scheduler drives.
type Sweeper interface {
	Cleanup() int
}

// WarmupTarget pairs a location with the periods to keep prefetched for it.
type WarmupTarget struct {
	Location string
	Periods  []temphist.Period
}

// Scheduler runs the background jobs that used to be external cron scripts:
// a periodic cache sweep and a prefetch warm-up for configured locations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	loader    *loader.Loader
	sweeper   Sweeper

	targets         []WarmupTarget
	warmupInterval  time.Duration
	cleanupInterval time.Duration
}

// New creates a Scheduler.
func New(ldr *loader.Loader, sweeper Sweeper, targets []WarmupTarget, warmupInterval, cleanupInterval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:       s,
		loader:          ldr,
		sweeper:         sweeper,
		targets:         targets,
		warmupInterval:  warmupInterval,
		cleanupInterval: cleanupInterval,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	cleanupMinutes := int(s.cleanupInterval.Minutes())
	if cleanupMinutes <= 0 {
		cleanupMinutes = 5
	}

	_, err := s.scheduler.Every(cleanupMinutes).Minutes().Do(func() {
		if removed := s.sweeper.Cleanup(); removed > 0 {
			log.Printf("scheduler: cache sweep removed %d entries", removed)
		}
	})
	if err != nil {
		return err
	}

	if len(s.targets) > 0 {
		warmupMinutes := int(s.warmupInterval.Minutes())
		if warmupMinutes <= 0 {
			warmupMinutes = 60
		}

		_, err = s.scheduler.Every(warmupMinutes).Minutes().Do(s.warmup)
		if err != nil {
			return err
		}
	} else {
		log.Println("scheduler: no warmup locations configured")
	}

	s.scheduler.StartAsync()
	return nil
}

// warmup preloads every configured (location, period) pair for today's
// comparison date. Preloads log and swallow their own failures.
func (s *Scheduler) warmup() {
	identifier := time.Now().UTC().Format("01-02")
	log.Printf("scheduler: warming prefetch cache for %s", identifier)

	for _, target := range s.targets {
		for _, period := range target.Periods {
			s.loader.PreloadPeriodData(context.Background(), period, target.Location, identifier)
		}
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
