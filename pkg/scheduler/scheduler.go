// Package scheduler drives full sweeps: periodic passes over every linked
// entity so drift that produced no notification still converges. Sweeps are
// the safety net under the event path; both feed the same job queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/guildsettings"
	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/metrics"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/queue"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

const (
	// DefaultInterval is the default time between full sweeps
	DefaultInterval = 30 * time.Minute

	// DefaultPageSize is how many checkpoints one page loads
	DefaultPageSize = 200

	// sweepLockTTL bounds a crashed sweeper's hold on the sweep lock
	sweepLockTTL = 10 * time.Minute
)

// Config holds scheduler configuration
type Config struct {
	Interval  time.Duration
	PageSize  int
	JobStream string
}

// Scheduler enqueues reconcile jobs for every linked entity on a timer
type Scheduler struct {
	cfg      Config
	records  *syncrecord.Repository
	settings *guildsettings.Repository
	streams  *redis.Streams
	locker   *redis.Locker
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

// New creates a new scheduler
func New(
	cfg Config,
	records *syncrecord.Repository,
	settings *guildsettings.Repository,
	streams *redis.Streams,
	redisClient *redis.Client,
	logger ectologger.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	return &Scheduler{
		cfg:      cfg,
		records:  records,
		settings: settings,
		streams:  streams,
		locker:   redis.NewLocker(redisClient, "plasmosync:sweep:"),
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go s.loop(ctx)

	s.logger.WithContext(ctx).Infof("Scheduler started: sweeping every %v", s.cfg.Interval)
	return nil
}

// Stop stops the sweep loop
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunSweep(ctx)
		}
	}
}

// RunSweep enqueues one reconcile job per linked entity across all guilds.
// A Redis lock keeps concurrent instances from double-sweeping; losing the
// lock just means another instance is already doing the work.
func (s *Scheduler) RunSweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunSweep")
	defer span.End()

	lock, err := s.locker.Acquire(ctx, "full", sweepLockTTL)
	if err != nil {
		if err == redis.ErrLockNotAcquired {
			s.logger.WithContext(ctx).Debug("Sweep already running elsewhere, skipping")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to acquire sweep lock")
		return
	}
	defer func() { _ = lock.Release(ctx) }()

	start := time.Now()
	guilds, err := s.settings.ListGuilds(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list guilds for sweep")
		return
	}

	total := 0
	for _, guildID := range guilds {
		settings, err := s.settings.Get(ctx, guildID)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to load settings for guild %s", guildID)
			continue
		}
		if !settings.Enabled(models.SwitchUseAPI) {
			continue
		}

		n, err := s.sweepGuild(ctx, guildID)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("Sweep aborted for guild %s", guildID)
			continue
		}
		total += n
	}

	s.logger.WithContext(ctx).Infof("Full sweep enqueued %d entities across %d guilds in %s",
		total, len(guilds), time.Since(start))
}

// sweepGuild pages through a guild's checkpoints by identity and enqueues a
// job per entity.
func (s *Scheduler) sweepGuild(ctx context.Context, guildID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.sweepGuild")
	defer span.End()

	total := 0
	after := ""

	for {
		select {
		case <-s.stopCh:
			return total, nil
		default:
		}

		records, err := s.records.ListLinked(ctx, guildID, after, s.cfg.PageSize)
		if err != nil {
			return total, err
		}
		if len(records) == 0 {
			return total, nil
		}

		for _, rec := range records {
			_, err := queue.PublishReconcile(ctx, s.streams, s.cfg.JobStream, queue.ReconcileJob{
				Identity: rec.Identity,
				GuildID:  rec.GuildID,
				Origin:   string(models.OriginSweep),
				Reason:   "full_sweep",
			})
			if err != nil {
				return total, err
			}
			total++
			metrics.SweepEntitiesScheduled.Inc()
		}

		after = records[len(records)-1].Identity
	}
}
