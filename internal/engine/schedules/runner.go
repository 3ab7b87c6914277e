package schedules

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Firer starts the work a schedule stands for.
type Firer interface {
	RunScheduled(ctx context.Context, orgID, triggerID string) error
}

type Lister interface {
	List(ctx context.Context) ([]Schedule, error)
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Runner mirrors the registry into a cron instance.
type Runner struct {
	registry Lister
	firer    Firer
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]entry
}

func NewRunner(registry Lister, firer Firer) *Runner {
	return &Runner{
		registry: registry,
		firer:    firer,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		entries:  make(map[string]entry),
	}
}

// Sync adds new schedules, drops deregistered ones and replaces schedules
// whose expression changed.
func (r *Runner) Sync(ctx context.Context) error {
	list, err := r.registry.List(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(list))
	for _, s := range list {
		seen[s.ID] = true

		if existing, ok := r.entries[s.ID]; ok {
			if existing.spec == s.Cron {
				continue
			}
			r.cron.Remove(existing.id)
			delete(r.entries, s.ID)
		}

		schedule := s
		id, err := r.cron.AddFunc(schedule.Cron, func() { r.fire(schedule) })
		if err != nil {
			log.Warn().Err(err).Str("schedule_id", schedule.ID).Str("cron", schedule.Cron).Msg("skipping invalid schedule")
			continue
		}
		r.entries[schedule.ID] = entry{id: id, spec: schedule.Cron}
	}

	for id, e := range r.entries {
		if !seen[id] {
			r.cron.Remove(e.id)
			delete(r.entries, id)
		}
	}
	return nil
}

func (r *Runner) fire(s Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := r.firer.RunScheduled(ctx, s.OrganizationID, s.TriggerID); err != nil {
		log.Error().Err(err).Str("org_id", s.OrganizationID).Str("trigger_id", s.TriggerID).Msg("scheduled run failed to start")
	}
}

// Len reports how many schedules are loaded.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run syncs every interval until ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	if err := r.Sync(ctx); err != nil {
		log.Error().Err(err).Msg("initial schedule sync failed")
	}
	r.cron.Start()
	defer r.cron.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				log.Error().Err(err).Msg("schedule sync failed")
			}
		}
	}
}
